package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 5*time.Second, cfg.Store.Timeout)
	assert.Equal(t, "endpoints", cfg.Events.SubjectPrefix)
	assert.Equal(t, 60, cfg.RateLimit.WindowSeconds)
	assert.Empty(t, cfg.JSONAPI.SupportedExtensions)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
  base_path: /v1
store:
  driver: postgres
  database_url: postgres://localhost/endpoints
  timeout: 250ms
jsonapi:
  supported_extensions:
    - https://jsonapi.org/ext/atomic
ratelimit:
  max_requests: 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "/v1", cfg.Server.BasePath)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 250*time.Millisecond, cfg.Store.Timeout)
	assert.Equal(t, []string{"https://jsonapi.org/ext/atomic"}, cfg.JSONAPI.SupportedExtensions)
	assert.Equal(t, 0, cfg.RateLimit.MaxRequests)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "store:\n  driver: memory\n")
	t.Setenv("ENDPOINTS_STORE_DRIVER", "redis")
	t.Setenv("ENDPOINTS_STORE_REDIS_ADDR", "localhost:6379")
	t.Setenv("ENDPOINTS_LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "localhost:6379", cfg.Store.RedisAddr)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown driver", "store:\n  driver: mongo\n"},
		{"postgres without url", "store:\n  driver: postgres\n"},
		{"redis without addr", "store:\n  driver: redis\n"},
		{"relative base path", "server:\n  base_path: v1\n"},
		{"bad log level", "logging:\n  level: loud\n"},
		{"zero store timeout", "store:\n  timeout: 0s\n"},
		{"extension not a uri", "jsonapi:\n  supported_extensions: [atomic]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
		})
	}
}
