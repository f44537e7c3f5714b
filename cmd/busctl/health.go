package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/attaradev/nats-pubsub-sub004/chain"
	"github.com/attaradev/nats-pubsub-sub004/consumer"
	"github.com/attaradev/nats-pubsub-sub004/envelope"
	"github.com/attaradev/nats-pubsub-sub004/health"
	"github.com/attaradev/nats-pubsub-sub004/natsclient"
	"github.com/attaradev/nats-pubsub-sub004/processor"
	"github.com/attaradev/nats-pubsub-sub004/registry"
	"github.com/attaradev/nats-pubsub-sub004/topology"
)

func newHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "report bus connectivity and topology state",
	}
	cmd.AddCommand(newHealthCheckCmd())
	return cmd
}

func newHealthCheckCmd() *cobra.Command {
	var quick bool
	c := &cobra.Command{
		Use:   "check",
		Short: "print a health snapshot as JSON",
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

			client, err := natsclient.NewClient(cfg.NatsURLs, log, natsclient.Options{Name: "busctl-health"})
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer client.Close()

			// A minimal, unstarted Consumer is enough to satisfy Probe's
			// ConsumerLag surface: Consumer.Stats walks Registry.Patterns,
			// which is empty (and therefore harmless) until handlers are
			// registered and Start is called.
			reg := registry.New()
			proc := processor.New(reg, chain.New(), envelope.NewCodec(cfg.AppName), nil, nil, log, processor.Options{
				MaxDeliver:            cfg.MaxDeliver,
				DLQMaxAttempts:        cfg.DLQMaxAttempts,
				SubscriberTimeout:     cfg.SubscriberTimeout,
				PerMessageConcurrency: cfg.PerMessageConcurrency,
				DLQEnabled:            cfg.UseDLQ,
			})
			consCfg := consumer.Config{App: cfg.AppName, MaxDeliver: cfg.MaxDeliver, AckWait: cfg.AckWait, Backoff: cfg.Backoff}
			cons := consumer.New(client.JS, log, topology.NewManager(client.JS, log), reg, proc, topology.MainStreamDesc(cfg.StreamName, cfg.Env, cfg.AppName), consCfg)
			probe := health.New(client, cons)

			if quick {
				fmt.Println(probe.QuickCheck())
				return nil
			}

			result := probe.Check()
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	c.Flags().BoolVar(&quick, "quick", false, "report only bus connectivity")
	return c
}
