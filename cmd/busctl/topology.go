package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/attaradev/nats-pubsub-sub004/natsclient"
	"github.com/attaradev/nats-pubsub-sub004/topology"
)

func newTopologyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topology",
		Short: "manage stream topology",
	}
	cmd.AddCommand(newTopologyProvisionCmd())
	return cmd
}

func newTopologyProvisionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "idempotently create/update the main event stream and, if enabled, the DLQ stream",
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

			client, err := natsclient.NewClient(cfg.NatsURLs, log, natsclient.Options{Name: "busctl-topology"})
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer client.Close()

			mgr := topology.NewManager(client.JS, log)

			mainDesc := topology.MainStreamDesc(cfg.StreamName, cfg.Env, cfg.AppName)
			if err := mgr.Ensure(mainDesc); err != nil {
				return fmt.Errorf("provision main stream: %w", err)
			}
			fmt.Printf("provisioned stream %q with subjects %v\n", mainDesc.Name, mainDesc.Subjects)

			if cfg.UseDLQ {
				dlqDesc := topology.DLQStreamDesc(cfg.StreamName+"_DLQ", cfg.DLQSubject)
				if err := mgr.Ensure(dlqDesc); err != nil {
					return fmt.Errorf("provision dlq stream: %w", err)
				}
				fmt.Printf("provisioned stream %q with subjects %v\n", dlqDesc.Name, dlqDesc.Subjects)
			}

			return nil
		},
	}
}
