// handlers.go contains the RunE handler functions for each CLI command.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arcway/toolops/internal/agent"
)

// runServe loads configuration, builds the runtime, starts every background
// worker, drives the console channel, and shuts down gracefully on
// SIGINT/SIGTERM.
func runServe(ctx context.Context, configPath string, debug bool) error {
	if debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	slog.Info("starting toolops-agent", "version", version, "commit", commit, "config", configPath, "debug", debug)

	cfg, err := loadConfigOrDefault(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	slog.Info("configuration loaded",
		"storage_backend", cfg.Storage.Backend,
		"llm_provider", cfg.LLM.Provider,
		"metrics_enabled", cfg.Observability.MetricsEnabled,
		"tracing_enabled", cfg.Observability.TracingEnabled,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runtime, err := agent.Build(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("building agent runtime: %w", err)
	}
	if err := runtime.Start(ctx); err != nil {
		return fmt.Errorf("starting agent runtime: %w", err)
	}

	slog.Info("toolops-agent started; console channel active on stdin/stdout")
	consoleDone := make(chan error, 1)
	go func() {
		consoleDone <- runConsole(ctx, runtime.Agent)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, initiating graceful shutdown")
	case err := <-consoleDone:
		if err != nil {
			slog.Warn("console channel exited", "error", err)
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := runtime.Stop(shutdownCtx); err != nil {
		slog.Error("error during shutdown", "error", err)
		return err
	}

	slog.Info("toolops-agent stopped gracefully")
	return nil
}

// runStatus prints the resolved configuration as YAML, redacting secrets.
func runStatus(configPath string) error {
	cfg, err := loadConfigOrDefault(configPath)
	if err != nil {
		return err
	}
	cfg.LLM.APIKey = redact(cfg.LLM.APIKey)
	cfg.Storage.Cockroach.Password = redact(cfg.Storage.Cockroach.Password)

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// runInitConfig writes a default config file to path, refusing to overwrite
// an existing one.
func runInitConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists; remove it first", path)
	}
	out, err := yaml.Marshal(agent.DefaultAppConfig())
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	fmt.Printf("wrote default config to %s\n", path)
	return nil
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}
