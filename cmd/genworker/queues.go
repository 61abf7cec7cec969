package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/iago/genbot-dispatch/internal/config"
	"github.com/iago/genbot-dispatch/internal/logging"
	"github.com/spf13/cobra"
)

func newQueuesCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "queues",
		Short: "Print pending and in-flight counts per queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			logger := logging.New(cfg.AppEnv, "warn")
			ctx := cmd.Context()

			client, closeQueue, err := setupQueue(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeQueue()

			stats, err := client.AllStats(ctx)
			if err != nil {
				return fmt.Errorf("queue stats: %w", err)
			}
			if asJSON {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(stats)
			}

			out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(out, "QUEUE\tPENDING\tIN FLIGHT")
			for _, item := range stats {
				fmt.Fprintf(out, "%s\t%d\t%d\n", item.Queue, item.Pending, item.InFlight)
			}
			return out.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table.")
	return cmd
}
