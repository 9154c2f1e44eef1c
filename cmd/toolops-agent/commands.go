package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arcway/toolops/internal/agent"
)

const defaultConfigPath = "toolops-agent.yaml"

// buildServeCmd wires up every collaborator and runs the console channel
// until interrupted.
func buildServeCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent against a console channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the agent's YAML config file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "enable debug-level logging")
	return cmd
}

// buildStatusCmd reports the resolved configuration without starting any
// background workers, useful for verifying a deployment's config file.
func buildStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the agent's YAML config file")
	return cmd
}

// buildConfigCmd writes out a default config file a deployment can edit.
func buildConfigCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInitConfig(outPath)
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", defaultConfigPath, "path to write the default config to")
	return cmd
}

// loadConfigOrDefault reads path if it exists and falls back to
// agent.DefaultAppConfig when it doesn't, so running any subcommand against
// a fresh checkout works before init-config has ever been run.
func loadConfigOrDefault(path string) (agent.AppConfig, error) {
	if path == "" {
		return agent.DefaultAppConfig(), nil
	}
	cfg, err := agent.LoadAppConfig(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return agent.DefaultAppConfig(), nil
		}
		return agent.AppConfig{}, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, nil
}
