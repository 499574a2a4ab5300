package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFrom_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, `
port: "3443"
env: "test"
engine:
  pool_max_conns: 2
  acquire_timeout: 5s
  workspace_root: /data/workspaces
business_context:
  min_confidence: 0.7
`)

	t.Setenv("PORT", "4443")
	t.Setenv("ENGINE_IDLE_TTL_MINUTES", "3")

	cfg, err := LoadFrom(path, "test-version")
	require.NoError(t, err)

	assert.Equal(t, "4443", cfg.Port)
	assert.Equal(t, "test", cfg.Env)
	assert.Equal(t, "test-version", cfg.Version)
	assert.Equal(t, 2, cfg.Engine.PoolMaxConns)
	assert.Equal(t, 5*time.Second, cfg.Engine.AcquireTimeout)
	assert.Equal(t, "/data/workspaces", cfg.Engine.WorkspaceRoot)
	assert.Equal(t, 3*time.Minute, cfg.Engine.IdleTTL())
	assert.InDelta(t, 0.7, cfg.BusinessContext.MinConfidence, 1e-9)
}

func TestLoadFrom_DefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"), "dev")
	require.NoError(t, err)

	assert.Equal(t, "3443", cfg.Port)
	assert.Equal(t, 4, cfg.Engine.PoolMaxConns)
	assert.Equal(t, 30*time.Second, cfg.Engine.AcquireTimeout)
	assert.Equal(t, time.Minute, cfg.Engine.CleanupInterval)
	assert.True(t, cfg.Foreign.Preflight)
	assert.InDelta(t, 0.5, cfg.BusinessContext.MinConfidence, 1e-9)
	assert.InDelta(t, 0.5, cfg.BusinessContext.ExactNameWeight, 1e-9)
	assert.InDelta(t, 0.8, cfg.BusinessContext.ManyToManyFactor, 1e-9)
	assert.Equal(t, "datasources.yaml", cfg.Datasources.CatalogPath)
}

func TestLoadFrom_RejectsInvalidPool(t *testing.T) {
	path := writeConfig(t, `
engine:
  pool_max_conns: 0
`)
	t.Setenv("ENGINE_POOL_MAX_CONNS", "0")

	_, err := LoadFrom(path, "dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pool_max_conns")
}

func TestLoadFrom_RejectsConfidenceOutOfRange(t *testing.T) {
	t.Setenv("BUSINESS_CONTEXT_MIN_CONFIDENCE", "1.5")

	_, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"), "dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_confidence")
}
