package agent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/arcway/toolops/internal/toolops"
)

// AppConfig is the top-level process configuration: the engine tuning
// surface (toolops.Config) plus the storage/LLM backend selection and
// observability toggles a deployment chooses, one section per concern.
type AppConfig struct {
	AgentID       string          `yaml:"agent_id"`
	Engine        toolops.Config  `yaml:"engine"`
	Storage       StorageConfig   `yaml:"storage"`
	LLM           LLMConfig       `yaml:"llm"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig   `yaml:"logging"`
}

// StorageConfig selects and configures the tool-operation and session
// persistence backends. Backend is either "cockroach" or "sqlite"; recurring
// schedules additionally require "cockroach" since internal/tasks has no
// embedded-database implementation.
type StorageConfig struct {
	Backend       string             `yaml:"backend"`
	SQLitePath    string             `yaml:"sqlite_path"`
	Cockroach     CockroachDSNConfig `yaml:"cockroach"`
}

// CockroachDSNConfig names the connection parameters shared by the
// toolops, sessions, and tasks CockroachDB stores.
type CockroachDSNConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// LLMConfig selects and configures the chat/classification provider.
type LLMConfig struct {
	Provider     string `yaml:"provider"` // "anthropic" or "openai"
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// ObservabilityConfig toggles metrics and tracing.
type ObservabilityConfig struct {
	MetricsEnabled bool    `yaml:"metrics_enabled"`
	TracingEnabled bool    `yaml:"tracing_enabled"`
	ServiceName    string  `yaml:"service_name"`
	SamplingRate   float64 `yaml:"sampling_rate"`
}

// LoggingConfig configures the process-wide slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// DefaultAppConfig returns sane local-development defaults: SQLite storage,
// Anthropic LLM (API key must still be supplied), metrics on, tracing off.
func DefaultAppConfig() AppConfig {
	return AppConfig{
		AgentID: "toolops-agent",
		Engine:  toolops.DefaultConfig(),
		Storage: StorageConfig{
			Backend:    "sqlite",
			SQLitePath: "./toolops.db",
		},
		LLM: LLMConfig{
			Provider:     "anthropic",
			DefaultModel: "claude-sonnet-4-20250514",
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: true,
			TracingEnabled: false,
			ServiceName:    "toolops-agent",
			SamplingRate:   0.1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadAppConfig reads a YAML file at path over DefaultAppConfig.
func LoadAppConfig(path string) (AppConfig, error) {
	cfg := DefaultAppConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return AppConfig{}, fmt.Errorf("agent: reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("agent: parsing config: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints DefaultAppConfig alone can't
// enforce: a recognized storage backend, a recognized LLM provider, and an
// API key for whichever provider is selected.
func (c AppConfig) Validate() error {
	switch c.Storage.Backend {
	case "sqlite", "cockroach":
	default:
		return fmt.Errorf("agent: unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "sqlite" && c.Storage.SQLitePath == "" {
		return fmt.Errorf("agent: storage.sqlite_path is required for the sqlite backend")
	}
	switch c.LLM.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("agent: unknown llm provider %q", c.LLM.Provider)
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("agent: llm.api_key is required")
	}
	return nil
}

// DSN builds a postgres:// connection string from a CockroachDSNConfig, the
// form internal/tasks' CockroachStore accepts via NewCockroachStoreFromDSN.
func (c CockroachDSNConfig) DSN() string {
	host, port := c.Host, c.Port
	if host == "" {
		host = "localhost"
	}
	if port == 0 {
		port = 26257
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	userinfo := c.User
	if c.Password != "" {
		userinfo = c.User + ":" + c.Password
	}
	return fmt.Sprintf("postgresql://%s@%s:%d/%s?sslmode=%s", userinfo, host, port, c.Database, sslMode)
}
