package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vampirenirmal/bookforge/internal/core"
)

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("BOOKFORGE_CONFIG", filepath.Join(t.TempDir(), "no-such-config.yaml"))
	t.Setenv("BOOKFORGE_API_KEY", "sk-test-0123456789abcdefghij")
	t.Setenv("BOOKFORGE_MODEL", "gpt-4o-mini")
	t.Setenv("BOOKFORGE_BASE_URL", "https://llm.internal.example/v1")
	t.Setenv("BOOKFORGE_PROJECT_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", cfg.AI.Model)
	assert.Equal(t, "https://llm.internal.example/v1", cfg.AI.BaseURL)
	assert.Equal(t, "sk-test-0123456789abcdefghij", cfg.AI.APIKey)
	assert.Equal(t, DefaultPolicy(), cfg.Policy)
	assert.Equal(t, DefaultLimits(), cfg.Limits)
}

func TestLoadMissingAPIKeyFails(t *testing.T) {
	t.Setenv("BOOKFORGE_CONFIG", filepath.Join(t.TempDir(), "no-such-config.yaml"))
	t.Setenv("BOOKFORGE_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrNoAPIKey))
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `ai:
  api_key: sk-file-0123456789abcdefghij
  model: claude-3-5-sonnet-20241022
  base_url: https://api.anthropic-compatible.example/v1
  timeout: 600
policy:
  confidence_threshold: 0.7
  short_content_words: 150
  patch_word_budget: 2000
  variant_count: 2
  variant_floor: 1
  batch_retries: 2
  max_chapters_per_batch: 6
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	t.Setenv("BOOKFORGE_CONFIG", configPath)
	t.Setenv("BOOKFORGE_API_KEY", "")
	t.Setenv("BOOKFORGE_MODEL", "")
	t.Setenv("BOOKFORGE_BASE_URL", "")
	t.Setenv("BOOKFORGE_PROJECT_DIR", dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "claude-3-5-sonnet-20241022", cfg.AI.Model)
	assert.InDelta(t, 0.7, cfg.Policy.ConfidenceThreshold, 1e-9)
	assert.Equal(t, 6, cfg.Policy.MaxChaptersPerBatch)
	assert.Equal(t, DefaultLimits().MaxRetries, cfg.Limits.MaxRetries, "unspecified sections keep defaults")
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.AI.APIKey = "sk-test-0123456789abcdefghij"

	t.Run("valid default passes", func(t *testing.T) {
		require.NoError(t, cfg.Validate())
	})

	t.Run("short api key", func(t *testing.T) {
		bad := *cfg
		bad.AI.APIKey = "short"
		assert.Error(t, bad.Validate())
	})

	t.Run("bad base url", func(t *testing.T) {
		bad := *cfg
		bad.AI.BaseURL = "not a url"
		assert.Error(t, bad.Validate())
	})

	t.Run("confidence above one", func(t *testing.T) {
		bad := *cfg
		bad.Policy.ConfidenceThreshold = 1.5
		assert.Error(t, bad.Validate())
	})
}
