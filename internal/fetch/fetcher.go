// Package fetch implements the per-channel message fetch operation: gate
// every remote call on the flood limiter, retry what is retryable, and
// surface everything else as a classified error for the cycle summary.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"tgcollector/internal/channel"
	"tgcollector/internal/clock"
	"tgcollector/internal/metrics"
	"tgcollector/internal/store"
	"tgcollector/internal/telegram"
)

// ErrUnreachable indicates the reference does not name a reachable channel.
var ErrUnreachable = errors.New("fetch: channel unreachable")

// ErrAccessDenied indicates the account may not read the channel.
var ErrAccessDenied = errors.New("fetch: access denied")

// ErrRateLimitExhausted indicates the flood retry budget ran out.
var ErrRateLimitExhausted = errors.New("fetch: rate limit retries exhausted")

// ErrTransient indicates a transport failure that outlived its retries.
var ErrTransient = errors.New("fetch: transient failure")

// Limiter is the flood-control gate shared by all fetch tasks.
type Limiter interface {
	Wait(ctx context.Context) error
	ReportFloodWait(d time.Duration)
	ReportSuccess()
}

// Config bounds the retry behavior.
type Config struct {
	// FloodRetries is how many flood-wait signals one request survives.
	FloodRetries int
	// TransientRetries is how many transport failures one request survives.
	TransientRetries int
	// TransientDelay is the fixed pause between transport retries.
	TransientDelay time.Duration
}

// Fetcher retrieves the newest messages of a single channel per call.
type Fetcher struct {
	client  telegram.Client
	limiter Limiter
	clk     clock.Clock
	log     *zap.Logger
	cfg     Config
}

// New constructs a Fetcher. Zero config fields get the defaults from the
// collection contract: 3 flood retries, 2 transport retries, 500ms pause.
func New(client telegram.Client, limiter Limiter, clk clock.Clock, log *zap.Logger, cfg Config) *Fetcher {
	if cfg.FloodRetries <= 0 {
		cfg.FloodRetries = 3
	}
	if cfg.TransientRetries <= 0 {
		cfg.TransientRetries = 2
	}
	if cfg.TransientDelay <= 0 {
		cfg.TransientDelay = 500 * time.Millisecond
	}
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{client: client, limiter: limiter, clk: clk, log: log, cfg: cfg}
}

// Fetch resolves the channel and returns its newest messages, at most
// limit, converted to storable posts. The stored channel ID is the numeric
// channel ID the resolution produced, matching what the API reports.
func (f *Fetcher) Fetch(ctx context.Context, ref channel.Ref, limit int) ([]store.Post, error) {
	var peer telegram.Peer
	err := f.call(ctx, ref, func(ctx context.Context) error {
		var e error
		peer, e = f.client.ResolveChannel(ctx, ref)
		return e
	})
	if err != nil {
		return nil, err
	}

	var msgs []telegram.Message
	err = f.call(ctx, ref, func(ctx context.Context) error {
		var e error
		msgs, e = f.client.RecentMessages(ctx, peer, limit)
		return e
	})
	if err != nil {
		return nil, err
	}

	channelID := strconv.FormatInt(peer.ID, 10)
	now := f.clk.Now()
	posts := make([]store.Post, 0, len(msgs))
	for _, m := range msgs {
		posts = append(posts, toPost(channelID, m, now))
	}
	return posts, nil
}

// call runs one logical API request under the limiter with the retry
// policy: flood waits are reported and retried up to the flood budget,
// transport errors retried with a short fixed pause, access problems fail
// immediately since retrying cannot change a permissions outcome.
func (f *Fetcher) call(ctx context.Context, ref channel.Ref, op func(context.Context) error) error {
	floods, transients := 0, 0
	for {
		if err := f.limiter.Wait(ctx); err != nil {
			return err
		}
		err := op(ctx)
		if err == nil {
			f.limiter.ReportSuccess()
			return nil
		}

		switch {
		case ctx.Err() != nil:
			return ctx.Err()

		case isFloodWait(err):
			wait, _ := telegram.AsFloodWait(err)
			f.limiter.ReportFloodWait(wait)
			metrics.ObserveFloodWait(wait)
			floods++
			if floods > f.cfg.FloodRetries {
				return fmt.Errorf("%w: %d consecutive flood waits for %s", ErrRateLimitExhausted, floods, ref.Raw)
			}
			f.log.Warn("flood wait signaled",
				zap.String("channel", ref.Raw),
				zap.Duration("wait", wait),
				zap.Int("attempt", floods),
			)

		case errors.Is(err, telegram.ErrAccessDenied):
			return fmt.Errorf("%w: %v", ErrAccessDenied, err)

		case errors.Is(err, telegram.ErrNotFound):
			return fmt.Errorf("%w: %v", ErrUnreachable, err)

		default:
			transients++
			if transients > f.cfg.TransientRetries {
				return fmt.Errorf("%w: %v", ErrTransient, err)
			}
			f.log.Debug("transport error, retrying",
				zap.String("channel", ref.Raw),
				zap.Int("attempt", transients),
				zap.Error(err),
			)
			if err := sleep(ctx, f.cfg.TransientDelay); err != nil {
				return err
			}
		}
	}
}

func isFloodWait(err error) bool {
	_, ok := telegram.AsFloodWait(err)
	return ok
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func toPost(channelID string, m telegram.Message, collectedAt time.Time) store.Post {
	p := store.Post{
		ChannelID:   channelID,
		MessageID:   m.ID,
		PublishedAt: m.PublishedAt,
		CollectedAt: collectedAt,
	}
	if m.HasText {
		text := m.Text
		p.Text = &text
	}
	if m.HasViews {
		views := m.Views
		p.Views = &views
	}
	return p
}
