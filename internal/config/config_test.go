package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "http", cfg.Remote.Kind)
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, "/orders", cfg.Sync.OrdersPath)
	assert.Equal(t, "@every 10s", cfg.Connectivity.ProbeSchedule)
	assert.True(t, cfg.Connectivity.AssumeOnline)
	assert.Equal(t, 15*time.Second, cfg.Remote.GetTimeout())
	assert.Equal(t, 5*time.Second, cfg.Store.GetBusyTimeout())
}

func TestLoadConfig_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8090, cfg.Server.Port)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
store:
  file_path: /tmp/queue.db
remote:
  kind: mysql
  database:
    host: db.internal
    database: shop
sync:
  max_retries: 5
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("OFFLINESYNC_LOGGING_FORMAT", "console")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/queue.db", cfg.Store.FilePath)
	assert.Equal(t, "mysql", cfg.Remote.Kind)
	assert.Equal(t, "db.internal", cfg.Remote.Database.Host)
	assert.Equal(t, 3306, cfg.Remote.Database.Port)
	assert.Equal(t, 5, cfg.Sync.MaxRetries)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadConfig("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown remote", func(c *Config) { c.Remote.Kind = "grpc" }},
		{"mysql without host", func(c *Config) { c.Remote.Kind = "mysql" }},
		{"zero retries", func(c *Config) { c.Sync.MaxRetries = 0 }},
		{"relative orders path", func(c *Config) { c.Sync.OrdersPath = "orders" }},
		{"bad timeout", func(c *Config) { c.Remote.Timeout = "soon" }},
		{"no store path", func(c *Config) { c.Store.FilePath = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
