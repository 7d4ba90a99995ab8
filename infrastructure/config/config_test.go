package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lessonmap-backend/infrastructure/config"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 3, cfg.Gateway.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Gateway.RetryDelay)
	assert.Equal(t, []string{"defaults", "environment"}, cfg.LoadedFrom)
}

func TestLoadConfig_FileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lessonmap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: staging
storage:
  backend: dynamodb
  table_name: maps-from-file
llm:
  provider: gemini
  model: gemini-2.0-flash
  timeout: 45s
gateway:
  max_in_flight: 8
  retry_delay: 500ms
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("TABLE_NAME", "maps-from-env")
	t.Setenv("GATEWAY_MAX_ATTEMPTS", "5")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "dynamodb", cfg.Storage.Backend)
	assert.Equal(t, "maps-from-env", cfg.Storage.TableName, "environment wins over the file")
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, 45*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 8, cfg.Gateway.MaxInFlight)
	assert.Equal(t, 500*time.Millisecond, cfg.Gateway.RetryDelay)
	assert.Equal(t, 5, cfg.Gateway.MaxAttempts)
	assert.Equal(t, "OwnerIndex", cfg.Storage.OwnerIndex, "unset keys keep their defaults")
	assert.Contains(t, cfg.LoadedFrom, path)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := config.LoadConfig()
	assert.Error(t, err)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"defaults are valid", func(*config.Config) {}, ""},
		{"unknown storage", func(c *config.Config) { c.Storage.Backend = "postgres" }, "unknown storage backend"},
		{"dynamodb needs a table", func(c *config.Config) { c.Storage.Backend = "dynamodb"; c.Storage.TableName = "" }, "TABLE_NAME"},
		{"unknown events", func(c *config.Config) { c.Events.Backend = "kafka" }, "unknown events backend"},
		{"production needs a key", func(c *config.Config) { c.Environment = "production" }, "LLM_API_KEY"},
		{"scripted not in production", func(c *config.Config) {
			c.Environment = "production"
			c.LLM.Provider = "scripted"
		}, "scripted provider"},
		{"at least one attempt", func(c *config.Config) { c.Gateway.MaxAttempts = 0 }, "GATEWAY_MAX_ATTEMPTS"},
		{"sample rate range", func(c *config.Config) { c.Tracing.SampleRate = 2 }, "TRACE_SAMPLE_RATE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
