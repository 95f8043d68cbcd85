// Package scheduler runs the collection cycle: on a fixed interval it
// resolves the configured channel list, fans one fetch-and-store task per
// valid channel through a bounded semaphore, and logs a per-cycle summary.
// One channel's failure never aborts or delays the others.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"tgcollector/internal/channel"
	"tgcollector/internal/clock"
	"tgcollector/internal/metrics"
	"tgcollector/internal/store"
)

// Fetcher retrieves the newest messages of one channel.
type Fetcher interface {
	Fetch(ctx context.Context, ref channel.Ref, limit int) ([]store.Post, error)
}

// PostWriter persists a batch of posts idempotently.
type PostWriter interface {
	UpsertBatch(ctx context.Context, posts []store.Post) (int64, error)
}

// Config controls cycle behavior.
type Config struct {
	// Channels is the raw configured list; it is re-resolved every tick so
	// a bad entry is skipped with a warning rather than failing startup.
	Channels []string
	// MessagesLimit caps messages fetched per channel per cycle.
	MessagesLimit int
	// Interval is the tick period. The next tick is scheduled relative to
	// tick start, so a slow cycle does not accumulate drift.
	Interval time.Duration
	// Concurrency bounds parallel per-channel tasks.
	Concurrency int
	// SoftDeadline abandons channels still waiting when it elapses; they
	// are retried next tick. Defaults to the interval.
	SoftDeadline time.Duration
	// WriteGrace bounds a database write that outlives its tick, so an
	// in-flight batch can finish during shutdown.
	WriteGrace time.Duration
}

// Scheduler owns the tick loop.
type Scheduler struct {
	fetcher Fetcher
	writer  PostWriter
	clk     clock.Clock
	log     *zap.Logger
	cfg     Config
}

// New constructs a Scheduler.
func New(fetcher Fetcher, writer PostWriter, clk clock.Clock, log *zap.Logger, cfg Config) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MessagesLimit <= 0 {
		cfg.MessagesLimit = 50
	}
	if cfg.SoftDeadline <= 0 {
		cfg.SoftDeadline = cfg.Interval
	}
	if cfg.WriteGrace <= 0 {
		cfg.WriteGrace = 30 * time.Second
	}
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{fetcher: fetcher, writer: writer, clk: clk, log: log, cfg: cfg}
}

// Run executes cycles until the context is canceled. The first cycle runs
// immediately; each subsequent tick fires at start+interval of the previous
// one. No new tick starts after cancellation.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("channels", len(s.cfg.Channels)),
		zap.Int("concurrency", s.cfg.Concurrency),
	)
	for {
		start := s.clk.Now()
		s.RunCycle(ctx)
		if ctx.Err() != nil {
			s.log.Info("scheduler stopped")
			return
		}

		next := start.Add(s.cfg.Interval)
		delay := next.Sub(s.clk.Now())
		if delay < 0 {
			delay = 0
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("scheduler stopped")
			return
		case <-timer.C:
		}
	}
}

// RunCycle executes one fetch-all-channels-and-persist pass and returns the
// per-channel outcomes.
func (s *Scheduler) RunCycle(ctx context.Context) Cycle {
	start := s.clk.Now()
	cycle := Cycle{StartedAt: start, Outcomes: make(map[string]Outcome)}

	tickCtx, cancel := context.WithTimeout(ctx, s.cfg.SoftDeadline)
	defer cancel()

	refs, errs := channel.ResolveList(s.cfg.Channels)
	for _, err := range errs {
		s.log.Warn("skipping invalid channel reference", zap.Error(err))
		key := "invalid"
		var verr *channel.ValidationError
		if errors.As(err, &verr) {
			key = verr.Raw
		}
		cycle.Outcomes[key] = Outcome{Kind: OutcomeSkipped, Reason: err.Error()}
		metrics.IncChannelOutcome("skipped")
		metrics.IncFailure(KindValidation)
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.cfg.Concurrency)
	)
	for _, ref := range refs {
		wg.Add(1)
		sem <- struct{}{}
		go func(ref channel.Ref) {
			defer wg.Done()
			defer func() { <-sem }()
			outcome := s.collect(tickCtx, ref)
			mu.Lock()
			cycle.Outcomes[ref.Raw] = outcome
			mu.Unlock()
		}(ref)
	}
	wg.Wait()

	cycle.Duration = s.clk.Now().Sub(start)
	s.logSummary(cycle)
	metrics.ObserveCycle(cycle.Duration)
	return cycle
}

// collect fetches one channel and persists the result. Whatever was fetched
// before a failure is still written: storage is idempotent and additive, so
// the next tick simply fills the gap.
func (s *Scheduler) collect(ctx context.Context, ref channel.Ref) Outcome {
	posts, fetchErr := s.fetcher.Fetch(ctx, ref, s.cfg.MessagesLimit)

	var stored int64
	if len(posts) > 0 {
		// Detached from tick cancellation: an in-flight write completes
		// during shutdown instead of leaving a partial batch.
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.WriteGrace)
		n, writeErr := s.writer.UpsertBatch(writeCtx, posts)
		cancel()
		stored = n
		if writeErr != nil {
			return s.failure(ref, stored, writeErr)
		}
	}
	if fetchErr != nil {
		return s.failure(ref, stored, fetchErr)
	}

	s.log.Info("channel collected",
		zap.String("channel", ref.Raw),
		zap.Int("fetched", len(posts)),
		zap.Int64("stored", stored),
	)
	metrics.IncChannelOutcome("success")
	metrics.AddMessagesStored(stored)
	return Outcome{Kind: OutcomeSuccess, Stored: stored, Fetched: len(posts)}
}

func (s *Scheduler) failure(ref channel.Ref, stored int64, err error) Outcome {
	kind := FailureKind(err)
	s.log.Warn("channel collection failed",
		zap.String("channel", ref.Raw),
		zap.String("kind", kind),
		zap.Int64("stored", stored),
		zap.Error(err),
	)
	metrics.IncChannelOutcome("failure")
	metrics.IncFailure(kind)
	metrics.AddMessagesStored(stored)
	return Outcome{Kind: OutcomeFailure, Stored: stored, Reason: err.Error(), ErrKind: kind}
}

func (s *Scheduler) logSummary(c Cycle) {
	succeeded, failed, skipped := c.Counts()
	fields := []zap.Field{
		zap.Int("channels", len(c.Outcomes)),
		zap.Int("succeeded", succeeded),
		zap.Int("failed", failed),
		zap.Int("skipped", skipped),
		zap.Int64("messages_stored", c.Stored()),
		zap.Duration("duration", c.Duration),
	}
	if byKind := c.FailuresByKind(); len(byKind) > 0 {
		fields = append(fields, zap.Any("failures_by_kind", byKind))
	}
	s.log.Info("collection cycle finished", fields...)
}
