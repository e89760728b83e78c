package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/aura/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aura.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.HealthPort)
	assert.Equal(t, 0.75, cfg.Pipeline.AcceptThreshold)
	assert.Equal(t, 0.6, cfg.Pipeline.FuzzyFloor)
	assert.Equal(t, 0.1, cfg.Pipeline.ContextPenalty)
	assert.Equal(t, 5, cfg.Context.Capacity)
	assert.Equal(t, 2*time.Minute, cfg.Context.TTL)
	assert.Equal(t, "memory", cfg.Context.Store)
	assert.Equal(t, "local", cfg.Fallback.Backend)
	assert.Equal(t, 3*time.Second, cfg.Fallback.Timeout)
	assert.Equal(t, 0.5, cfg.Fallback.Confidence)
	assert.Equal(t, uint32(5), cfg.Fallback.Breaker.Failures)
	assert.Equal(t, 30*time.Second, cfg.Fallback.Breaker.Cooldown)
}

func TestLoadFileAndEnvRefs(t *testing.T) {
	t.Setenv("AURA_TEST_OPENAI_KEY", "sk-from-env")
	t.Setenv("AURA_TEST_TARGET_TOKEN", "tok")

	path := writeConfig(t, `
pipeline:
  accept_threshold: 0.8
context:
  ttl: 0s
  capacity: 3
fallback:
  backend: openai
  timeout: 500ms
  openai:
    api_key: ${AURA_TEST_OPENAI_KEY}
targets:
  desktop:
    endpoint: http://localhost:9000/execute
    protocol: http
    token: ${AURA_TEST_TARGET_TOKEN}
    intents: [open_folder, create_folder]
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.8, cfg.Pipeline.AcceptThreshold)
	assert.Zero(t, cfg.Context.TTL)
	assert.Equal(t, 3, cfg.Context.Capacity)
	assert.Equal(t, "openai", cfg.Fallback.Backend)
	assert.Equal(t, 500*time.Millisecond, cfg.Fallback.Timeout)
	assert.Equal(t, "sk-from-env", cfg.Fallback.OpenAI.APIKey)
	require.Contains(t, cfg.Targets, "desktop")
	assert.Equal(t, "tok", cfg.Targets["desktop"].Token)
	assert.Equal(t, []string{"open_folder", "create_folder"}, cfg.Targets["desktop"].Intents)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("AURA_FALLBACK_BACKEND", "none")
	t.Setenv("AURA_CONTEXT_CAPACITY", "7")

	cfg, err := config.Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, "none", cfg.Fallback.Backend)
	assert.Equal(t, 7, cfg.Context.Capacity)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"threshold", "pipeline:\n  accept_threshold: 1.5\n", "accept_threshold"},
		{"capacity", "context:\n  capacity: 0\n", "context.capacity"},
		{"store", "context:\n  store: etcd\n", "context.store"},
		{"backend", "fallback:\n  backend: magic\n", "fallback.backend"},
		{"target protocol", "targets:\n  x:\n    endpoint: a\n    protocol: smtp\n", "unsupported protocol"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
