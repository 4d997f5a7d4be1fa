package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.Breaker.Cooldown)
	assert.Equal(t, 1, cfg.Breaker.HalfOpenAttempts)

	assert.Equal(t, 10, cfg.Context.MaxMessages)
	assert.Equal(t, 5, cfg.Context.RecentCount)
	assert.Equal(t, 2000, cfg.Context.MaxTokens)
	assert.InDelta(t, 0.1, cfg.Context.MinRelevance, 1e-9)
	assert.InDelta(t, 0.3, cfg.Context.TokensPerChar, 1e-9)

	assert.True(t, cfg.Retrieval.Enabled)
	assert.Equal(t, "chromem", cfg.Retrieval.Store)
	assert.Equal(t, 5, cfg.Retrieval.MaxResults)
	assert.InDelta(t, 0.65, float64(cfg.Retrieval.SimilarityThreshold), 1e-6)

	assert.Equal(t, 10, cfg.Validation.MinLength)
	assert.Equal(t, 4000, cfg.Validation.MaxLength)
	assert.InDelta(t, 0.30, cfg.Validation.MinScriptRatio, 1e-9)

	assert.False(t, cfg.Store.Enabled)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Empty(t, cfg.Providers.Backends)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
providers:
  default: primary
  priority: [primary, fallback]
  backends:
    - name: primary
      type: openai
      base_url: https://llm.darapay.internal/v1
      api_key_env: DARAPAY_LLM_KEY
      model: gpt-4o-mini
breaker:
  failure_threshold: 5
  cooldown: 30s
context:
  max_messages: 20
retrieval:
  store: flat
store:
  enabled: true
  database_path: /tmp/assistant.db
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "primary", cfg.Providers.Default)
	assert.Equal(t, []string{"primary", "fallback"}, cfg.Providers.Priority)
	require.Len(t, cfg.Providers.Backends, 1)
	assert.Equal(t, "openai", cfg.Providers.Backends[0].Type)
	assert.Equal(t, "DARAPAY_LLM_KEY", cfg.Providers.Backends[0].APIKeyEnv)

	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Breaker.Cooldown)
	// Untouched keys keep their defaults.
	assert.Equal(t, 1, cfg.Breaker.HalfOpenAttempts)
	assert.Equal(t, 20, cfg.Context.MaxMessages)
	assert.Equal(t, 5, cfg.Context.RecentCount)

	assert.Equal(t, "flat", cfg.Retrieval.Store)
	assert.True(t, cfg.Store.Enabled)
	assert.Equal(t, "/tmp/assistant.db", cfg.Store.DatabasePath)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DARAPAY_ASSISTANT_BREAKER_FAILURE_THRESHOLD", "7")
	t.Setenv("DARAPAY_ASSISTANT_RETRIEVAL_STORE", "flat")
	t.Setenv("DARAPAY_ASSISTANT_STORE_ENABLED", "true")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Breaker.FailureThreshold)
	assert.Equal(t, "flat", cfg.Retrieval.Store)
	assert.True(t, cfg.Store.Enabled)
	// Keys without overrides keep their defaults.
	assert.Equal(t, 1, cfg.Breaker.HalfOpenAttempts)
}

func TestLoadConfig_MissingExplicitFileFails(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadConfig_MalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("breaker: [not a map"), 0o600))

	_, err := LoadConfig(path)
	require.Error(t, err)
}
