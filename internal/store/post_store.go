// Package store provides Postgres-backed persistence for collected posts.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Post is one collected channel message headed for storage. Text and Views
// are nullable in the schema; nil means absent. Posts are never mutated
// after creation.
type Post struct {
	ChannelID   string
	MessageID   int64
	PublishedAt time.Time
	Text        *string
	Views       *int32
	CollectedAt time.Time
}

// ErrPoolExhausted indicates no connection became free within the acquire
// timeout.
var ErrPoolExhausted = errors.New("store: connection pool exhausted")

// ErrConnectionLost indicates the database connection failed mid-write.
var ErrConnectionLost = errors.New("store: connection lost")

// Config controls the Postgres connection pool.
type Config struct {
	DSN            string
	MinConns       int32
	MaxConns       int32
	AcquireTimeout time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
	Close()
}

// PostStore writes collected posts into the telegram_posts table through a
// bounded connection pool.
type PostStore struct {
	pool           execCloser
	acquireTimeout time.Duration
}

// New connects a pool with the configured bounds and verifies the database
// is reachable. A failed ping is a startup-fatal condition for the caller.
func New(ctx context.Context, cfg Config) (*PostStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store: dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostStore{pool: pool, acquireTimeout: acquireTimeout(cfg.AcquireTimeout)}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for
// testing with pgxmock).
func NewWithPool(pool execCloser, timeout time.Duration) *PostStore {
	return &PostStore{pool: pool, acquireTimeout: acquireTimeout(timeout)}
}

func acquireTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 5 * time.Second
	}
	return d
}

// Close releases the underlying pool resources.
func (s *PostStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const insertPost = `
INSERT INTO telegram_posts (channel_id, message_id, published_at, text, views, collected_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (channel_id, message_id) DO NOTHING`

// UpsertBatch stores the posts in order and returns how many rows were
// actually inserted. A (channel_id, message_id) conflict is a successful
// no-op: the prior row, including its collected_at, is left untouched.
// On a write error the count of rows inserted so far is returned alongside
// the error; the remaining posts of the batch are abandoned.
func (s *PostStore) UpsertBatch(ctx context.Context, posts []Post) (int64, error) {
	var inserted int64
	for _, p := range posts {
		execCtx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
		tag, err := s.pool.Exec(execCtx, insertPost,
			p.ChannelID,
			p.MessageID,
			p.PublishedAt,
			p.Text,
			p.Views,
			p.CollectedAt,
		)
		cancel()
		if err != nil {
			return inserted, classifyWriteError(err, ctx)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// classifyWriteError distinguishes a saturated pool from a lost connection.
// A deadline hit while the parent context is still live means the acquire
// timed out waiting for a free connection.
func classifyWriteError(err error, parent context.Context) error {
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return fmt.Errorf("%w: %v", ErrPoolExhausted, err)
	}
	if parent.Err() != nil {
		return fmt.Errorf("upsert canceled: %w", parent.Err())
	}
	return fmt.Errorf("%w: %v", ErrConnectionLost, err)
}
