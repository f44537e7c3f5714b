package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/attaradev/nats-pubsub-sub004/envelope"
	"github.com/attaradev/nats-pubsub-sub004/natsclient"
	"github.com/attaradev/nats-pubsub-sub004/outbox"
	"github.com/attaradev/nats-pubsub-sub004/publisher"
)

func newPublishCmd() *cobra.Command {
	var (
		useOutbox bool
		eventID   string
	)
	c := &cobra.Command{
		Use:   "publish <topic> <json-message>",
		Short: "publish a single message through Publisher, optionally via the outbox",
		Long: `publish builds and sends one envelope through Publisher.Publish.
With --use-outbox it routes through an in-process outbox.Engine first
(Outboxer), the same store-first path "outbox drain" demonstrates
downstream of — a production deployment wires its own database-backed
outboxrepo.Repository in place of both.`,
		Args: cobra.ExactArgs(2),
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

			client, err := natsclient.NewClient(cfg.NatsURLs, log, natsclient.Options{Name: "busctl-publish"})
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer client.Close()

			var message map[string]interface{}
			if err := json.Unmarshal([]byte(args[1]), &message); err != nil {
				return fmt.Errorf("decode message json: %w", err)
			}

			var outboxer publisher.Outboxer
			if useOutbox {
				outboxer = outbox.New(newMemOutboxRepo(), log)
			}

			pub := publisher.New(envelope.NewCodec(cfg.AppName), client.JS, log, cfg.Env, cfg.AppName, outboxer)
			result, err := pub.Publish(cmd.Context(), args[0], message, publisher.Options{EventID: eventID})
			if err != nil {
				return fmt.Errorf("publish: %w", err)
			}
			if !result.Success {
				return fmt.Errorf("publish failed: %s", result.Reason)
			}
			fmt.Printf("published event %q to topic %q\n", result.EventID, args[0])
			return nil
		},
	}
	c.Flags().BoolVar(&useOutbox, "use-outbox", false, "route through an in-memory outbox.Engine instead of publishing directly")
	c.Flags().StringVar(&eventID, "event-id", "", "explicit event id; empty generates one")
	return c
}
