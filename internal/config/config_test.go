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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 10, cfg.Batch.Workers)
	assert.Equal(t, 100*time.Millisecond, cfg.Batch.WorkDelay)
	assert.Empty(t, cfg.Batch.Schedule)
	assert.Equal(t, 15*time.Minute, cfg.Cache.TTL)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
storage:
  driver: pebble
  pebble:
    path: /tmp/items
batch:
  workers: 4
  work_delay: 5ms
  schedule: "*/5 * * * *"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "pebble", cfg.Storage.Driver)
	assert.Equal(t, "/tmp/items", cfg.Storage.Pebble.Path)
	assert.Equal(t, 4, cfg.Batch.Workers)
	assert.Equal(t, 5*time.Millisecond, cfg.Batch.WorkDelay)
	assert.Equal(t, "*/5 * * * *", cfg.Batch.Schedule)
	// untouched sections keep defaults
	assert.Equal(t, 100, cfg.Batch.QueueSize)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("APP_BATCH_WORKERS", "3")
	t.Setenv("APP_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Batch.Workers)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero workers", func(c *Config) { c.Batch.Workers = 0 }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }},
		{"pebble without path", func(c *Config) {
			c.Storage.Driver = "pebble"
			c.Storage.Pebble.Path = ""
		}},
		{"reindexer without dsn", func(c *Config) {
			c.Storage.Driver = "reindexer"
			c.Storage.Reindexer.DSN = ""
		}},
		{"bad cron", func(c *Config) { c.Batch.Schedule = "every minute" }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}

	assert.NoError(t, Validate(Default()))
}
