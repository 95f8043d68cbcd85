// Package app initializes and holds the long-lived collector services,
// acting as the dependency injection container. Startup is fail-fast: an
// unreachable database or a broken schema stops the process before the
// first cycle.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/gotd/td/session"
	tgclient "github.com/gotd/td/telegram"
	"go.uber.org/zap"

	"tgcollector/internal/api"
	"tgcollector/internal/clock"
	"tgcollector/internal/config"
	"tgcollector/internal/fetch"
	"tgcollector/internal/flood"
	"tgcollector/internal/metrics"
	"tgcollector/internal/scheduler"
	"tgcollector/internal/store"
	"tgcollector/internal/telegram"
)

// App holds the shared, long-lived services of the collector process.
type App struct {
	cfg     config.Config
	log     *zap.Logger
	clk     clock.Clock
	posts   *store.PostStore
	limiter *flood.Limiter
	tg      *tgclient.Client
	httpSrv *api.Server
}

// New builds every service the collector needs. The schema is migrated and
// the database pinged here; both failing is fatal by contract.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	metrics.Init()

	dsn := cfg.DatabaseDSN()
	if err := store.Migrate(dsn); err != nil {
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	log.Info("database schema up to date")

	posts, err := store.New(ctx, store.Config{
		DSN:            dsn,
		MinConns:       cfg.DB.PoolMin,
		MaxConns:       cfg.DB.PoolMax,
		AcquireTimeout: cfg.DB.AcquireTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}

	clk := clock.System{}
	limiter := flood.New(flood.Config{
		RatePerSecond: cfg.Flood.RatePerSecond,
		Ceiling:       cfg.Flood.Ceiling,
	}, clk)

	tg := tgclient.NewClient(cfg.Telegram.APIID, cfg.Telegram.APIHash, tgclient.Options{
		SessionStorage: &session.FileStorage{Path: cfg.SessionPath()},
		Logger:         log.Named("mtproto"),
	})

	a := &App{
		cfg:     cfg,
		log:     log,
		clk:     clk,
		posts:   posts,
		limiter: limiter,
		tg:      tg,
	}
	if cfg.HTTPAddr != "" {
		a.httpSrv = api.New(cfg.HTTPAddr, log.Named("http"))
	}
	return a, nil
}

// Run connects to Telegram and drives the collection loop until the
// context is canceled. With once set it executes a single cycle and
// returns, which is useful for smoke runs.
func (a *App) Run(ctx context.Context, once bool) error {
	if a.httpSrv != nil {
		a.httpSrv.Start(ctx)
	}

	err := a.tg.Run(ctx, func(ctx context.Context) error {
		status, err := a.tg.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("check auth status: %w", err)
		}
		if !status.Authorized {
			return fmt.Errorf("telegram session %q is not authorized: run the tgsession bootstrap first", a.cfg.Telegram.SessionName)
		}

		fetcher := fetch.New(
			telegram.NewGotdClient(a.tg.API()),
			a.limiter,
			a.clk,
			a.log.Named("fetch"),
			fetch.Config{},
		)
		sched := scheduler.New(fetcher, a.posts, a.clk, a.log.Named("scheduler"), scheduler.Config{
			Channels:      a.cfg.Collector.Channels,
			MessagesLimit: a.cfg.Collector.MessagesLimit,
			Interval:      a.cfg.Collector.Interval,
			Concurrency:   a.cfg.Collector.Concurrency,
		})

		if once {
			sched.RunCycle(ctx)
			return nil
		}
		sched.Run(ctx)
		return nil
	})
	// Cancellation is the normal shutdown path, not a failure.
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("telegram client: %w", err)
	}
	return nil
}

// Close releases held resources.
func (a *App) Close() {
	if a.posts != nil {
		a.posts.Close()
	}
}
