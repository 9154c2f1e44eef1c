package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcway/toolops/internal/agent"
)

func TestLoadConfigOrDefault_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := loadConfigOrDefault(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, agent.DefaultAppConfig(), cfg)
}

func TestLoadConfigOrDefault_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := loadConfigOrDefault("")
	require.NoError(t, err)
	require.Equal(t, agent.DefaultAppConfig(), cfg)
}

func TestLoadConfigOrDefault_ReadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toolops-agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent_id: custom-agent\n"), 0o644))

	cfg, err := loadConfigOrDefault(path)
	require.NoError(t, err)
	require.Equal(t, "custom-agent", cfg.AgentID)
}

func TestRedact(t *testing.T) {
	require.Equal(t, "", redact(""))
	require.Equal(t, "********", redact("sk-ant-secret"))
}
