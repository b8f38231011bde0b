package config

import (
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"GITHUB_TOKEN", "STORAGE_TYPE", "SQLITE_PATH", "POSTGRES_URL", "WORKER_ID", "BROKER_URL",
	"KEY_SEED", "REQUEST_INTERVAL", "TOOL_SOURCE", "TOOL_VERSION", "DATA_SOURCE",
	"API_HOST", "API_PORT", "API_ENDPOINT", "VERBOSE",
}

// clearEnv blanks every variable Load reads; getEnv treats empty as unset
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.StorageType)
	assert.Equal(t, int64(25150), cfg.KeySeed)
	assert.Equal(t, 100*time.Millisecond, cfg.RequestInterval)
	assert.Equal(t, "GitHub API Worker", cfg.ToolSource)
	assert.Equal(t, "0.0.1", cfg.ToolVersion)
	assert.Equal(t, "GitHub API", cfg.DataSource)
	assert.Equal(t, "http://localhost:5000", cfg.BrokerURL)
	assert.True(t, strings.HasPrefix(cfg.WorkerID, "github_worker."))
	assert.False(t, cfg.Verbose)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("GITHUB_TOKEN", "ghp_test")
	t.Setenv("STORAGE_TYPE", "postgres")
	t.Setenv("POSTGRES_URL", "postgres://localhost/augur")
	t.Setenv("WORKER_ID", "github_worker.1")
	t.Setenv("KEY_SEED", "100")
	t.Setenv("REQUEST_INTERVAL", "0s")
	t.Setenv("VERBOSE", "true")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "github_worker.1", cfg.WorkerID)
	assert.Equal(t, int64(100), cfg.KeySeed)
	assert.Zero(t, cfg.RequestInterval)
	assert.True(t, cfg.Verbose)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{name: "valid sqlite", env: map[string]string{"GITHUB_TOKEN": "t"}},
		{name: "valid memory", env: map[string]string{"GITHUB_TOKEN": "t", "STORAGE_TYPE": "memory"}},
		{name: "missing token", env: map[string]string{}, field: "GITHUB_TOKEN"},
		{name: "unknown storage", env: map[string]string{"GITHUB_TOKEN": "t", "STORAGE_TYPE": "mysql"}, field: "STORAGE_TYPE"},
		{name: "postgres without url", env: map[string]string{"GITHUB_TOKEN": "t", "STORAGE_TYPE": "postgres"}, field: "POSTGRES_URL"},
		{name: "bad key seed", env: map[string]string{"GITHUB_TOKEN": "t", "KEY_SEED": "abc"}, field: "KEY_SEED"},
		{name: "negative key seed", env: map[string]string{"GITHUB_TOKEN": "t", "KEY_SEED": "-1"}, field: "KEY_SEED"},
		{name: "bad interval", env: map[string]string{"GITHUB_TOKEN": "t", "REQUEST_INTERVAL": "fast"}, field: "REQUEST_INTERVAL"},
		{name: "bad verbose", env: map[string]string{"GITHUB_TOKEN": "t", "VERBOSE": "loud"}, field: "VERBOSE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			require.NoError(t, err)

			err = cfg.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestValidateStorage_NoToken(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.NoError(t, cfg.ValidateStorage())
	assert.Error(t, cfg.Validate())
}

func TestValidate_ReportsEveryParseError(t *testing.T) {
	clearEnv(t)
	t.Setenv("GITHUB_TOKEN", "t")
	t.Setenv("KEY_SEED", "abc")
	t.Setenv("REQUEST_INTERVAL", "fast")
	t.Setenv("VERBOSE", "loud")

	cfg, err := Load()
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	for _, field := range []string{"KEY_SEED", "REQUEST_INTERVAL", "VERBOSE"} {
		assert.Contains(t, err.Error(), field)
	}

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 3)
}
