package fetch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgcollector/internal/channel"
	"tgcollector/internal/telegram"
)

type fakeLimiter struct {
	waits     int
	floods    []time.Duration
	successes int
}

func (l *fakeLimiter) Wait(ctx context.Context) error { l.waits++; return ctx.Err() }
func (l *fakeLimiter) ReportFloodWait(d time.Duration) {
	l.floods = append(l.floods, d)
}
func (l *fakeLimiter) ReportSuccess() { l.successes++ }

// scriptedClient returns pre-programmed results call by call.
type scriptedClient struct {
	peer         telegram.Peer
	resolveErrs  []error
	resolveCalls int
	msgs         []telegram.Message
	historyErrs  []error
	historyCalls int
}

func (c *scriptedClient) ResolveChannel(_ context.Context, _ channel.Ref) (telegram.Peer, error) {
	defer func() { c.resolveCalls++ }()
	if c.resolveCalls < len(c.resolveErrs) && c.resolveErrs[c.resolveCalls] != nil {
		return telegram.Peer{}, c.resolveErrs[c.resolveCalls]
	}
	return c.peer, nil
}

func (c *scriptedClient) RecentMessages(_ context.Context, _ telegram.Peer, _ int) ([]telegram.Message, error) {
	defer func() { c.historyCalls++ }()
	if c.historyCalls < len(c.historyErrs) && c.historyErrs[c.historyCalls] != nil {
		return nil, c.historyErrs[c.historyCalls]
	}
	return c.msgs, nil
}

func mustRef(t *testing.T, raw string) channel.Ref {
	t.Helper()
	ref, err := channel.Resolve(raw)
	require.NoError(t, err)
	return ref
}

func testConfig() Config {
	return Config{TransientDelay: time.Millisecond}
}

func TestFetchConvertsMessages(t *testing.T) {
	t.Parallel()

	published := time.Unix(1700000100, 0).UTC()
	client := &scriptedClient{
		peer: telegram.Peer{ID: 777, AccessHash: 42},
		msgs: []telegram.Message{
			{ID: 12, PublishedAt: published, Text: "hello", HasText: true, Views: 9, HasViews: true},
			{ID: 11, PublishedAt: published.Add(-time.Hour)},
		},
	}
	limiter := &fakeLimiter{}
	f := New(client, limiter, nil, nil, testConfig())

	posts, err := f.Fetch(context.Background(), mustRef(t, "@alpha"), 50)
	require.NoError(t, err)
	require.Len(t, posts, 2)

	assert.Equal(t, "777", posts[0].ChannelID)
	assert.Equal(t, int64(12), posts[0].MessageID)
	assert.Equal(t, published, posts[0].PublishedAt)
	require.NotNil(t, posts[0].Text)
	assert.Equal(t, "hello", *posts[0].Text)
	require.NotNil(t, posts[0].Views)
	assert.Equal(t, int32(9), *posts[0].Views)
	assert.False(t, posts[0].CollectedAt.IsZero())

	// Absent text/views stay NULL, not zero values.
	assert.Nil(t, posts[1].Text)
	assert.Nil(t, posts[1].Views)

	// One resolve plus one history call, both gated and both reported.
	assert.Equal(t, 2, limiter.waits)
	assert.Equal(t, 2, limiter.successes)
}

func TestFetchRetriesFloodWaitThenSucceeds(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{
		peer:        telegram.Peer{ID: 777},
		msgs:        []telegram.Message{{ID: 1}},
		historyErrs: []error{&telegram.FloodWaitError{Wait: 2 * time.Second}, nil},
	}
	limiter := &fakeLimiter{}
	f := New(client, limiter, nil, nil, testConfig())

	posts, err := f.Fetch(context.Background(), mustRef(t, "@alpha"), 50)
	require.NoError(t, err)
	assert.Len(t, posts, 1)

	require.Len(t, limiter.floods, 1)
	assert.Equal(t, 2*time.Second, limiter.floods[0])
	assert.Equal(t, 2, client.historyCalls)
}

func TestFetchExhaustsFloodRetries(t *testing.T) {
	t.Parallel()

	flood := &telegram.FloodWaitError{Wait: time.Second}
	client := &scriptedClient{
		peer:        telegram.Peer{ID: 777},
		historyErrs: []error{flood, flood, flood, flood, flood},
	}
	limiter := &fakeLimiter{}
	f := New(client, limiter, nil, nil, testConfig())

	_, err := f.Fetch(context.Background(), mustRef(t, "@alpha"), 50)
	require.ErrorIs(t, err, ErrRateLimitExhausted)

	// Initial attempt plus three retries, every signal reported.
	assert.Equal(t, 4, client.historyCalls)
	assert.Len(t, limiter.floods, 4)
}

func TestFetchAccessDeniedIsNotRetried(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{
		resolveErrs: []error{telegram.ErrAccessDenied},
	}
	limiter := &fakeLimiter{}
	f := New(client, limiter, nil, nil, testConfig())

	_, err := f.Fetch(context.Background(), mustRef(t, "-1001234567890"), 50)
	require.ErrorIs(t, err, ErrAccessDenied)
	assert.Equal(t, 1, client.resolveCalls)
	assert.Empty(t, limiter.floods)
}

func TestFetchUnknownChannelIsUnreachable(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{
		resolveErrs: []error{telegram.ErrNotFound},
	}
	f := New(client, &fakeLimiter{}, nil, nil, testConfig())

	_, err := f.Fetch(context.Background(), mustRef(t, "@ghost_channel"), 50)
	require.ErrorIs(t, err, ErrUnreachable)
	assert.Equal(t, 1, client.resolveCalls)
}

func TestFetchRetriesTransportErrors(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{
		peer:        telegram.Peer{ID: 777},
		msgs:        []telegram.Message{{ID: 1}},
		historyErrs: []error{errors.New("connection reset"), nil},
	}
	f := New(client, &fakeLimiter{}, nil, nil, testConfig())

	posts, err := f.Fetch(context.Background(), mustRef(t, "@alpha"), 50)
	require.NoError(t, err)
	assert.Len(t, posts, 1)
	assert.Equal(t, 2, client.historyCalls)
}

func TestFetchSurfacesTransientAfterRetries(t *testing.T) {
	t.Parallel()

	boom := errors.New("i/o timeout")
	client := &scriptedClient{
		peer:        telegram.Peer{ID: 777},
		historyErrs: []error{boom, boom, boom, boom},
	}
	f := New(client, &fakeLimiter{}, nil, nil, testConfig())

	_, err := f.Fetch(context.Background(), mustRef(t, "@alpha"), 50)
	require.ErrorIs(t, err, ErrTransient)

	// Initial attempt plus two transport retries.
	assert.Equal(t, 3, client.historyCalls)
}

func TestFetchStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &scriptedClient{peer: telegram.Peer{ID: 777}}
	f := New(client, &fakeLimiter{}, nil, nil, testConfig())

	_, err := f.Fetch(ctx, mustRef(t, "@alpha"), 50)
	require.ErrorIs(t, err, context.Canceled)
}
