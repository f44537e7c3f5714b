package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/attaradev/nats-pubsub-sub004/natsclient"
	"github.com/attaradev/nats-pubsub-sub004/outbox"
	"github.com/attaradev/nats-pubsub-sub004/outboxrepo"
)

func newOutboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "drive the store-first outbox engine",
	}
	cmd.AddCommand(newOutboxDrainCmd())
	return cmd
}

func newOutboxDrainCmd() *cobra.Command {
	var (
		interval   time.Duration
		limit      int
		staleAfter time.Duration
	)
	c := &cobra.Command{
		Use:   "drain",
		Short: "run the outbox drain loop until interrupted",
		Long: `drain ticks ResetStale and PublishPending on --interval until
SIGINT/SIGTERM. It uses an in-process repository; wiring a real
database-backed outboxrepo.Repository is left to the embedding
service. This command exists to demonstrate the engine's drain loop
end-to-end.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger()
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			defer log.Sync()

			cfg, err := buildConfig()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}

			client, err := natsclient.NewClient(cfg.NatsURLs, log, natsclient.Options{Name: "busctl-outbox"})
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer client.Close()

			engine := outbox.New(newMemOutboxRepo(), log)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Info("outbox drain started", zap.Duration("interval", interval), zap.Int("limit", limit))
			engine.Drain(ctx, interval, limit, staleAfter, func(record outboxrepo.Record) error {
				return publishToBus(client, record)
			})
			log.Info("outbox drain stopped")
			return nil
		},
	}
	c.Flags().DurationVar(&interval, "interval", 5*time.Second, "drain tick interval")
	c.Flags().IntVar(&limit, "limit", 100, "max PENDING records drained per tick")
	c.Flags().DurationVar(&staleAfter, "stale-after", 5*time.Minute, "PUBLISHING records older than this are reset to PENDING")
	return c
}

func publishToBus(client *natsclient.Client, record outboxrepo.Record) error {
	_, err := client.JS.Publish(record.Subject, record.Payload)
	return err
}
