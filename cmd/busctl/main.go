// Command busctl is a small operator CLI demonstrating end-to-end
// wiring of this module's components: topology provisioning, outbox
// draining and direct/outbox publishing, inbox sweeping and dedupe,
// consuming, and health checks against a live NATS JetStream bus. It
// is wiring demonstration only — the CLI/HTTP glue hosting these
// components in a real service is explicitly out of this module's
// scope.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var (
	flagNatsURLs              string
	flagEnv                   string
	flagApp                   string
	flagStreamName            string
	flagDLQSubject            string
	flagDLQEnabled            bool
	flagLogJSON               bool
	flagConcurrency           int
	flagPerMessageConcurrency int
	flagMaxDeliver            int
	flagAckWait               time.Duration
	flagVaultAddr             string
	flagVaultToken            string
	flagVaultSecretPath       string
)

var rootCmd = &cobra.Command{
	Use:   "busctl",
	Short: "busctl operates the reliability layer over a JetStream bus",
	Long: `busctl provisions stream topology, drains the outbox, sweeps the
inbox, and reports health for services built on this module's
publish/subscribe runtime.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagNatsURLs, "nats-urls", "nats://127.0.0.1:4222", "comma-separated NATS server URLs")
	rootCmd.PersistentFlags().StringVar(&flagEnv, "env", "dev", "deployment environment segment (env.app.topic)")
	rootCmd.PersistentFlags().StringVar(&flagApp, "app", "busctl", "application name segment (env.app.topic)")
	rootCmd.PersistentFlags().StringVar(&flagStreamName, "stream-name", "EVENTS", "main event stream name")
	rootCmd.PersistentFlags().StringVar(&flagDLQSubject, "dlq-subject", "", "DLQ subject; defaults to <env>.events.dlq")
	rootCmd.PersistentFlags().BoolVar(&flagDLQEnabled, "dlq", true, "provision/use the DLQ stream")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "emit structured JSON logs instead of console output")
	rootCmd.PersistentFlags().IntVar(&flagConcurrency, "concurrency", 0, "workers per subscription (config.Config.Concurrency; 0 uses the documented default)")
	rootCmd.PersistentFlags().IntVar(&flagPerMessageConcurrency, "per-message-concurrency", 0, "in-flight handler invocations per worker (config.Config.PerMessageConcurrency; 0 uses the documented default)")
	rootCmd.PersistentFlags().IntVar(&flagMaxDeliver, "max-deliver", 0, "redelivery ceiling before DLQ/terminate (config.Config.MaxDeliver; 0 uses the documented default)")
	rootCmd.PersistentFlags().DurationVar(&flagAckWait, "ack-wait", 0, "JetStream AckWait (config.Config.AckWait; 0 uses the documented default)")
	rootCmd.PersistentFlags().StringVar(&flagVaultAddr, "vault-addr", "", "Vault address; if set, resolves NatsURLs from --vault-secret-path via config.SecretManager instead of --nats-urls")
	rootCmd.PersistentFlags().StringVar(&flagVaultToken, "vault-token", "", "Vault token, used only when --vault-addr is set")
	rootCmd.PersistentFlags().StringVar(&flagVaultSecretPath, "vault-secret-path", "", "KV v2 path holding a nats_urls field, used only when --vault-addr is set")

	rootCmd.AddCommand(newTopologyCmd())
	rootCmd.AddCommand(newOutboxCmd())
	rootCmd.AddCommand(newInboxCmd())
	rootCmd.AddCommand(newHealthCmd())
	rootCmd.AddCommand(newPublishCmd())
	rootCmd.AddCommand(newConsumeCmd())
}
