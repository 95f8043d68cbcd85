// Package flood implements the account-wide rate limit and backoff policy
// for Telegram API calls. Telegram enforces a single per-account budget, so
// the limiter is global: a FLOOD_WAIT received while fetching one channel
// delays the next call for every channel.
package flood

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"tgcollector/internal/clock"
)

// Config controls limiter behavior.
type Config struct {
	// RatePerSecond is the steady-state call budget when no flood wait is
	// active.
	RatePerSecond float64
	// Ceiling caps the wait computed from consecutive flood signals.
	Ceiling time.Duration
	// BasePenalty seeds the compounding penalty on the first signal.
	BasePenalty time.Duration
}

// Limiter gates all outgoing API calls. The flood-wait state is a single
// "next allowed call time" updated by compare-and-swap, shared by every
// fetch task without a broader lock.
type Limiter struct {
	bucket  *rate.Limiter
	clk     clock.Clock
	ceiling time.Duration
	base    time.Duration

	nextAllowed atomic.Int64 // unix nanos
	penalty     atomic.Int64 // current compounding penalty, nanos
}

// New creates a Limiter.
func New(cfg Config, clk clock.Clock) *Limiter {
	r := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond <= 0 {
		r = rate.Inf
	}
	ceiling := cfg.Ceiling
	if ceiling <= 0 {
		ceiling = 5 * time.Minute
	}
	base := cfg.BasePenalty
	if base <= 0 {
		base = time.Second
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Limiter{
		bucket:  rate.NewLimiter(r, 1),
		clk:     clk,
		ceiling: ceiling,
		base:    base,
	}
}

// Wait blocks until the next API call is admitted, respecting the context.
// It first waits out any flood-mandated quiet period, then the steady-state
// token bucket.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		delay := l.Delay()
		if delay <= 0 {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("flood wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
	if err := l.bucket.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Delay returns how long the next call must still wait under the current
// flood state. Zero means calls are admitted.
func (l *Limiter) Delay() time.Duration {
	next := l.nextAllowed.Load()
	if next == 0 {
		return 0
	}
	d := time.Unix(0, next).Sub(l.clk.Now())
	if d < 0 {
		return 0
	}
	return d
}

// ReportFloodWait records a server-specified minimum wait. The effective
// wait is the maximum of the server value and the compounding exponential
// penalty, capped at the ceiling. The next-allowed timestamp only moves
// forward, so consecutive signals never shorten a pending wait.
func (l *Limiter) ReportFloodWait(server time.Duration) {
	penalty := l.bump()
	wait := server
	if penalty > wait {
		wait = penalty
	}
	if wait > l.ceiling {
		wait = l.ceiling
	}
	target := l.clk.Now().Add(wait).UnixNano()
	for {
		cur := l.nextAllowed.Load()
		if cur >= target {
			return
		}
		if l.nextAllowed.CompareAndSwap(cur, target) {
			return
		}
	}
}

// ReportSuccess decays the penalty one step. Decay is gradual rather than a
// reset to zero: a single good call after a flood storm should not restore
// the full call rate immediately.
func (l *Limiter) ReportSuccess() {
	for {
		cur := l.penalty.Load()
		if cur == 0 {
			return
		}
		next := cur / 2
		if next < int64(l.base) {
			next = 0
		}
		if l.penalty.CompareAndSwap(cur, next) {
			return
		}
	}
}

// bump doubles the penalty (seeding it on first use) and returns the new
// value, capped at the ceiling.
func (l *Limiter) bump() time.Duration {
	for {
		cur := l.penalty.Load()
		next := cur * 2
		if cur == 0 {
			next = int64(l.base)
		}
		if next > int64(l.ceiling) {
			next = int64(l.ceiling)
		}
		if l.penalty.CompareAndSwap(cur, next) {
			return time.Duration(next)
		}
	}
}
