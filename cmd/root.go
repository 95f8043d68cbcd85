// Package cmd wires the collector daemon into a Cobra command. There are
// no subcommands: running the binary starts the collection loop and blocks
// until a shutdown signal arrives.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tgcollector/internal/app"
	"tgcollector/internal/config"
	"tgcollector/internal/logging"
)

var runOnce bool

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tgcollector",
		Short: "Periodically collects recent messages from Telegram channels into Postgres.",
		Long: `tgcollector polls a configured set of Telegram channels on a fixed
interval, fetches each channel's newest messages in parallel under the
account-wide flood limit, and stores them idempotently in Postgres.

Configuration comes from the environment (optionally via a .env file).
The Telegram session must be bootstrapped once with the tgsession binary.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&runOnce, "once", false, "run a single collection cycle and exit")
	return cmd
}

func run(parent context.Context) error {
	// Missing .env is fine: plain environment variables work too.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info("collector starting",
		zap.Int("channels", len(cfg.Collector.Channels)),
		zap.Duration("interval", cfg.Collector.Interval),
		zap.Bool("once", runOnce),
	)
	return a.Run(ctx, runOnce)
}

// Execute is the main entry point. Unrecoverable startup failures exit
// non-zero; a signal-driven shutdown exits zero.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tgcollector:", err)
		os.Exit(1)
	}
}
