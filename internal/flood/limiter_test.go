package flood

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(1700000000, 0).UTC()}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestFloodWaitHonorsServerValue(t *testing.T) {
	t.Parallel()

	clk := newManualClock()
	l := New(Config{Ceiling: 5 * time.Minute, BasePenalty: time.Second}, clk)

	l.ReportFloodWait(30 * time.Second)
	assert.Equal(t, 30*time.Second, l.Delay())
}

func TestConsecutiveSignalsNeverDecreaseDelay(t *testing.T) {
	t.Parallel()

	clk := newManualClock()
	l := New(Config{Ceiling: 5 * time.Minute, BasePenalty: time.Second}, clk)

	l.ReportFloodWait(10 * time.Second)
	first := l.Delay()

	// A smaller server value must not move the gate backwards.
	l.ReportFloodWait(time.Second)
	second := l.Delay()
	assert.GreaterOrEqual(t, second, first)

	l.ReportFloodWait(time.Second)
	assert.GreaterOrEqual(t, l.Delay(), second)
}

func TestPenaltyCompoundsAcrossSignals(t *testing.T) {
	t.Parallel()

	clk := newManualClock()
	l := New(Config{Ceiling: 5 * time.Minute, BasePenalty: 2 * time.Second}, clk)

	// Server always says "1s" but the compounding penalty takes over.
	l.ReportFloodWait(time.Second)
	assert.Equal(t, 2*time.Second, l.Delay())

	clk.Advance(time.Minute)
	l.ReportFloodWait(time.Second)
	assert.Equal(t, 4*time.Second, l.Delay())

	clk.Advance(time.Minute)
	l.ReportFloodWait(time.Second)
	assert.Equal(t, 8*time.Second, l.Delay())
}

func TestCeilingCapsWait(t *testing.T) {
	t.Parallel()

	clk := newManualClock()
	l := New(Config{Ceiling: 8 * time.Second, BasePenalty: time.Second}, clk)

	l.ReportFloodWait(10 * time.Minute)
	assert.Equal(t, 8*time.Second, l.Delay())
}

func TestSuccessDecaysPenaltyGradually(t *testing.T) {
	t.Parallel()

	clk := newManualClock()
	l := New(Config{Ceiling: 5 * time.Minute, BasePenalty: 2 * time.Second}, clk)

	l.ReportFloodWait(0)
	clk.Advance(time.Minute)
	l.ReportFloodWait(0) // penalty now 4s

	l.ReportSuccess() // halved to 2s

	clk.Advance(time.Minute)
	l.ReportFloodWait(0) // doubles from 2s, not from 4s
	assert.Equal(t, 4*time.Second, l.Delay())
}

func TestDelayExpires(t *testing.T) {
	t.Parallel()

	clk := newManualClock()
	l := New(Config{Ceiling: 5 * time.Minute, BasePenalty: time.Second}, clk)

	l.ReportFloodWait(10 * time.Second)
	clk.Advance(11 * time.Second)
	assert.Equal(t, time.Duration(0), l.Delay())
}

func TestWaitReturnsOnCancel(t *testing.T) {
	t.Parallel()

	l := New(Config{Ceiling: 5 * time.Minute, BasePenalty: time.Second}, nil)
	l.ReportFloodWait(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitAdmitsImmediatelyWhenIdle(t *testing.T) {
	t.Parallel()

	l := New(Config{}, nil)
	start := time.Now()
	require.NoError(t, l.Wait(context.Background()))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}
