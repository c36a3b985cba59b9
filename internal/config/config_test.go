package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"STORE_BACKEND", "DATABASE_URL", "SURREAL_URL", "GITHUB_TOKEN",
		"GITHUB_API_BASE_URL", "GITHUB_API_TIMEOUT", "GITHUB_BATCH_SIZE",
		"LOG_LEVEL", "LOG_FORMAT", "PG_MAX_CONNS",
	} {
		t.Setenv(k, "")
	}
	// Keep any developer .env in the package dir out of the picture.
	t.Chdir(t.TempDir())
}

func TestLoadFrom_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, BackendPostgres, cfg.StoreBackend)
	assert.Equal(t, 10, cfg.GitHub.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.GitHub.Timeout)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFrom_YAMLThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "reporemix.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store_backend: surrealdb
surreal:
  url: ws://localhost:8000/rpc
github:
  batch_size: 5
logging:
  level: debug
`), 0o600))

	t.Setenv("GITHUB_BATCH_SIZE", "25")
	t.Setenv("GITHUB_API_TIMEOUT", "2500")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, BackendSurrealDB, cfg.StoreBackend)
	assert.Equal(t, "ws://localhost:8000", cfg.Surreal.URL)
	assert.Equal(t, 25, cfg.GitHub.BatchSize)
	assert.Equal(t, 2500*time.Millisecond, cfg.GitHub.Timeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFrom_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown backend", env: map[string]string{"STORE_BACKEND": "mongo"}},
		{name: "surreal without url", env: map[string]string{"STORE_BACKEND": "surrealdb"}},
		{name: "zero batch size", env: map[string]string{"GITHUB_BATCH_SIZE": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"))
			assert.Error(t, err)
		})
	}
}

func TestLoadFrom_BadYAML(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("github: [unterminated"), 0o600))

	_, err := LoadFrom(path)
	assert.Error(t, err)
}
