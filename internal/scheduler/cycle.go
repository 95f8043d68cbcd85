package scheduler

import (
	"context"
	"errors"
	"time"

	"tgcollector/internal/fetch"
	"tgcollector/internal/store"
)

// OutcomeKind classifies a channel's result within one cycle.
type OutcomeKind int

const (
	// OutcomeSuccess means the channel was fetched and stored.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeFailure means fetch or store failed; other channels continue.
	OutcomeFailure
	// OutcomeSkipped means the reference never passed validation.
	OutcomeSkipped
)

// Outcome is one channel's per-cycle result.
type Outcome struct {
	Kind    OutcomeKind
	Fetched int
	Stored  int64
	ErrKind string
	Reason  string
}

// Cycle is the ephemeral record of one tick. It is owned by the scheduler
// for the duration of the tick, logged, and discarded; it is never
// persisted.
type Cycle struct {
	StartedAt time.Time
	Duration  time.Duration
	Outcomes  map[string]Outcome
}

// Counts tallies outcomes by kind.
func (c Cycle) Counts() (succeeded, failed, skipped int) {
	for _, o := range c.Outcomes {
		switch o.Kind {
		case OutcomeSuccess:
			succeeded++
		case OutcomeFailure:
			failed++
		case OutcomeSkipped:
			skipped++
		}
	}
	return succeeded, failed, skipped
}

// Stored sums newly inserted rows across all channels.
func (c Cycle) Stored() int64 {
	var total int64
	for _, o := range c.Outcomes {
		total += o.Stored
	}
	return total
}

// FailuresByKind groups failed channels by error kind.
func (c Cycle) FailuresByKind() map[string]int {
	byKind := make(map[string]int)
	for _, o := range c.Outcomes {
		if o.Kind == OutcomeFailure {
			byKind[o.ErrKind]++
		}
	}
	if len(byKind) == 0 {
		return nil
	}
	return byKind
}

// Failure kind labels used in logs and metrics.
const (
	KindValidation         = "validation"
	KindUnreachable        = "unreachable"
	KindAccessDenied       = "access_denied"
	KindRateLimitExhausted = "rate_limit_exhausted"
	KindTransient          = "transient"
	KindPoolExhausted      = "pool_exhausted"
	KindConnectionLost     = "connection_lost"
	KindCanceled           = "canceled"
	KindUnknown            = "unknown"
)

// FailureKind maps an error chain onto its summary label.
func FailureKind(err error) string {
	switch {
	case errors.Is(err, fetch.ErrUnreachable):
		return KindUnreachable
	case errors.Is(err, fetch.ErrAccessDenied):
		return KindAccessDenied
	case errors.Is(err, fetch.ErrRateLimitExhausted):
		return KindRateLimitExhausted
	case errors.Is(err, fetch.ErrTransient):
		return KindTransient
	case errors.Is(err, store.ErrPoolExhausted):
		return KindPoolExhausted
	case errors.Is(err, store.ErrConnectionLost):
		return KindConnectionLost
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindUnknown
	}
}
