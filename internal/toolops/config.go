package toolops

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arcway/toolops/internal/backoff"
)

// Config is the engine's YAML-loaded tuning surface: executor cadence,
// retry/backoff policy, the regeneration-round cap, tool call timeout, and
// the default LLM model, with defaults that a loaded file can override.
type Config struct {
	TickInterval          time.Duration `yaml:"tick_interval"`
	ClaimTimeout          time.Duration `yaml:"claim_timeout"`
	MonitorTick           time.Duration `yaml:"monitor_tick"`
	BatchSize             int           `yaml:"batch_size"`
	MaxRetries            int           `yaml:"max_retries"`
	BaseDelay             time.Duration `yaml:"base_delay"`
	MaxDelay              time.Duration `yaml:"max_delay"`
	BackoffFactor         float64       `yaml:"backoff_factor"`
	MaxRegenerationRounds int           `yaml:"max_regeneration_rounds"`
	ToolCallTimeout       time.Duration `yaml:"tool_call_timeout"`
	LLMDefaultModel       string        `yaml:"llm_default_model"`
}

// DefaultConfig returns the engine's built-in defaults, matching the
// schedule executor's documented tick=1s/claim_timeout=60s behavior.
func DefaultConfig() Config {
	return Config{
		TickInterval:          1 * time.Second,
		ClaimTimeout:          60 * time.Second,
		MonitorTick:           1 * time.Second,
		BatchSize:             50,
		MaxRetries:            5,
		BaseDelay:             1 * time.Second,
		MaxDelay:              5 * time.Minute,
		BackoffFactor:         2.0,
		MaxRegenerationRounds: DefaultMaxRegenerationRounds,
		ToolCallTimeout:       30 * time.Second,
		LLMDefaultModel:       "claude-sonnet-4-20250514",
	}
}

// LoadConfig reads a YAML file at path, applying DefaultConfig for any field
// the file omits.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("toolops: reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("toolops: parsing config: %w", err)
	}
	return cfg, nil
}

// ExecutorConfig projects the Executor-relevant fields out of Config.
func (c Config) ExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		TickInterval: c.TickInterval,
		ClaimTimeout: c.ClaimTimeout,
		MonitorTick:  c.MonitorTick,
		BatchSize:    c.BatchSize,
	}
}

// BackoffPolicy projects the retry fields out of Config.
func (c Config) BackoffPolicy() backoff.BackoffPolicy {
	return backoff.BackoffPolicy{
		InitialMs: float64(c.BaseDelay.Milliseconds()),
		MaxMs:     float64(c.MaxDelay.Milliseconds()),
		Factor:    c.BackoffFactor,
		Jitter:    0.1,
	}
}
