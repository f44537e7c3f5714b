package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/attaradev/nats-pubsub-sub004/chain"
	"github.com/attaradev/nats-pubsub-sub004/consumer"
	"github.com/attaradev/nats-pubsub-sub004/envelope"
	"github.com/attaradev/nats-pubsub-sub004/inbox"
	"github.com/attaradev/nats-pubsub-sub004/inboxrepo"
	"github.com/attaradev/nats-pubsub-sub004/natsclient"
	"github.com/attaradev/nats-pubsub-sub004/processor"
	"github.com/attaradev/nats-pubsub-sub004/registry"
	"github.com/attaradev/nats-pubsub-sub004/topology"
)

func newConsumeCmd() *cobra.Command {
	var pattern string
	c := &cobra.Command{
		Use:   "consume",
		Short: "run a durable consumer against --pattern, deduping deliveries through the inbox engine before handling each message",
		Long: `consume wires the receiver side end-to-end: a live Consumer
pulls deliveries, MessageProcessor dispatches them to a handler that
runs inbox.Engine.Process first so a redelivered message is skipped
rather than handled twice. As with "outbox drain"/"inbox sweep" it
runs against an in-process inboxrepo.Repository — a production
deployment wires its own database-backed one.`,
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

			client, err := natsclient.NewClient(cfg.NatsURLs, log, natsclient.Options{Name: "busctl-consume"})
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer client.Close()

			inboxEngine := inbox.New(newMemInboxRepo(), log)

			reg := registry.New()
			reg.Register(&registry.Handler{
				Name:     "busctl-consume",
				Patterns: []string{pattern},
				Handle: func(ctx context.Context, message map[string]interface{}, mctx envelope.MessageContext) error {
					processed, err := inboxEngine.Process(ctx, inboxrepo.CreateParams{
						EventID:   mctx.EventID,
						Subject:   mctx.Subject,
						Stream:    mctx.Stream,
						StreamSeq: mctx.StreamSeq,
					}, func(ctx context.Context) error {
						log.Info("handling message", zap.String("topic", mctx.Topic), zap.Any("message", message))
						return nil
					})
					if err != nil {
						return err
					}
					if !processed {
						log.Info("skipped duplicate delivery", zap.String("event_id", mctx.EventID), zap.Uint64("stream_seq", mctx.StreamSeq))
					}
					return nil
				},
			})
			reg.Start()

			// DLQEnabled is forced off: this command wires no dlqrouter.Router
			// (see "topology provision --dlq" for DLQ stream setup), so
			// routing a delivery there would dereference a nil Router.
			proc := processor.New(reg, chain.New(), envelope.NewCodec(cfg.AppName), nil, nil, log, processor.Options{
				MaxDeliver:            cfg.MaxDeliver,
				DLQMaxAttempts:        cfg.DLQMaxAttempts,
				SubscriberTimeout:     cfg.SubscriberTimeout,
				PerMessageConcurrency: cfg.PerMessageConcurrency,
				DLQEnabled:            false,
			})
			consCfg := consumer.Config{App: cfg.AppName, MaxDeliver: cfg.MaxDeliver, AckWait: cfg.AckWait, Backoff: cfg.Backoff, PullWorkers: cfg.Concurrency}
			cons := consumer.New(client.JS, log, topology.NewManager(client.JS, log), reg, proc, topology.MainStreamDesc(cfg.StreamName, cfg.Env, cfg.AppName), consCfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := cons.Start(ctx); err != nil {
				return fmt.Errorf("start consumer: %w", err)
			}
			log.Info("consume started", zap.String("pattern", pattern))
			<-ctx.Done()
			cons.Stop()
			log.Info("consume stopped")
			return nil
		},
	}
	c.Flags().StringVar(&pattern, "pattern", "", "subject pattern to subscribe (required, e.g. dev.busctl.demo)")
	_ = c.MarkFlagRequired("pattern")
	return c
}
