// Package cmd defines the CLI commands for the savage executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/savagescraper/savage/internal/logging"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "savage",
		Short: "A crash-tolerant parallel data extraction pipeline.",
		Long: `savage runs site extraction strategies across a pool of workers,
persisting results as they arrive so an interrupted run can resume
exactly where it stopped without duplicating output.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newScrapersCmd())
	return cmd
}

// Execute is the entry point. SIGINT and SIGTERM request a cooperative stop:
// in-flight items finish and are persisted before the process exits.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logger, lerr := logging.New(false)
		if lerr != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		logger.Fatal("command failed", zap.Error(err))
	}
}
