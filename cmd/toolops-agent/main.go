// Command toolops-agent runs the tool operation lifecycle engine as a
// standalone process: a five-state-machine core (Session, ToolOperation,
// ToolItem, Schedule, Message log) driving two worked tool bodies (tweet
// drafting/scheduling, NEAR deposit/withdraw/swap/limit-orders) behind a
// console REPL channel.
//
// # Basic Usage
//
// Start the agent against a console channel:
//
//	toolops-agent serve --config toolops-agent.yaml
//
// Print the resolved configuration, secrets redacted, without starting workers:
//
//	toolops-agent status --config toolops-agent.yaml
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached,
// separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "toolops-agent",
		Short: "toolops-agent - tool operation lifecycle engine",
		Long: `toolops-agent drives the approval-gated, schedulable tool-operation
lifecycle: collect candidate items, present them for approval, execute
(synchronously or on a schedule), and report back.

Worked tools: tweet drafting/scheduling, NEAR deposit/withdraw/swap/limit-order.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildStatusCmd(),
		buildConfigCmd(),
	)
	return rootCmd
}
