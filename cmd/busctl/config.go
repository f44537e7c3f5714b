package main

import (
	"fmt"

	"github.com/attaradev/nats-pubsub-sub004/config"
)

// buildConfig assembles a config.Config from the persistent CLI flags
// and hands it back with defaults filled in, the one construction path
// every busctl subcommand that connects to the bus uses (inbox sweep,
// which only touches an in-process repository, does not call it) to
// reach the components config.Config
// is meant to drive (consumer.Config, processor.Options). When
// --vault-addr is set, NatsURLs is resolved through a SecretManager
// instead of --nats-urls, per config.SecretManager's documented role
// as the optional collaborator that resolves secret-bearing fields
// before construction.
func buildConfig() (config.Config, error) {
	cfg := config.Config{
		Env:                   flagEnv,
		AppName:               flagApp,
		NatsURLs:              flagNatsURLs,
		Concurrency:           flagConcurrency,
		PerMessageConcurrency: flagPerMessageConcurrency,
		MaxDeliver:            flagMaxDeliver,
		AckWait:               flagAckWait,
		UseDLQ:                flagDLQEnabled,
		DLQSubject:            flagDLQSubject,
		StreamName:            flagStreamName,
	}.WithDefaults()

	if flagVaultAddr != "" {
		sm, err := config.NewSecretManager(flagVaultAddr, flagVaultToken)
		if err != nil {
			return config.Config{}, fmt.Errorf("vault secret manager: %w", err)
		}
		urls, err := sm.LoadNatsURLs(flagVaultSecretPath)
		if err != nil {
			return config.Config{}, fmt.Errorf("resolve nats urls from vault: %w", err)
		}
		cfg.NatsURLs = urls
	}

	return cfg, nil
}
