package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "genworker",
		Short:        "Generation job worker for the Telegram bot",
		SilenceUsage: true,
	}
	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newQueuesCmd())
	return cmd
}
