package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "xmlgate: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "xmlgate",
		Short: "xmlgate operations CLI",
		Long: `xmlgate ingests XML messages from the input directory, validates them against the
rules stored for their version, and writes notifications to the output directory.
Configuration comes from XMLGATE_* environment variables and an optional .env file.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newMigrateCmd(),
		newRulesCmd(),
		newScanCmd(),
		newProcessCmd(),
		newRunCmd(),
		newJobCmd(),
		newArchiveCmd(),
	)
	return cmd
}
