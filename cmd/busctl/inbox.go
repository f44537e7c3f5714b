package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/attaradev/nats-pubsub-sub004/inbox"
)

func newInboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "drive the receiver-side inbox dedupe guard",
	}
	cmd.AddCommand(newInboxSweepCmd())
	return cmd
}

func newInboxSweepCmd() *cobra.Command {
	var (
		interval   time.Duration
		staleAfter time.Duration
		retention  time.Duration
		batchLimit int
	)
	c := &cobra.Command{
		Use:   "sweep",
		Short: "run the inbox ResetStale/Cleanup sweep loop until interrupted",
		Long: `sweep ticks ResetStale and Cleanup on --interval until
SIGINT/SIGTERM, against an in-process repository — as with "outbox
drain", a production deployment wires its own database-backed
inboxrepo.Repository.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger()
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			defer log.Sync()

			engine := inbox.New(newMemInboxRepo(), log)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Info("inbox sweep started", zap.Duration("interval", interval))
			engine.Sweep(ctx, interval, staleAfter, retention, batchLimit)
			log.Info("inbox sweep stopped")
			return nil
		},
	}
	c.Flags().DurationVar(&interval, "interval", 5*time.Second, "sweep tick interval")
	c.Flags().DurationVar(&staleAfter, "stale-after", 5*time.Minute, "PROCESSING records older than this are reset")
	c.Flags().DurationVar(&retention, "retention", 30*24*time.Hour, "PROCESSED records older than this are deleted")
	c.Flags().IntVar(&batchLimit, "batch-limit", 500, "max records deleted per tick")
	return c
}
