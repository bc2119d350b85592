package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "OFFLINESYNC"

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.file_path", "data/offline-queue.db")
	v.SetDefault("store.busy_timeout", "5s")

	v.SetDefault("remote.kind", "http")
	v.SetDefault("remote.base_url", "http://localhost:8080")
	v.SetDefault("remote.health_path", "/health")
	v.SetDefault("remote.timeout", "15s")
	v.SetDefault("remote.auth_token", "")
	v.SetDefault("remote.database.host", "")
	v.SetDefault("remote.database.port", 3306)
	v.SetDefault("remote.database.user", "")
	v.SetDefault("remote.database.password", "")
	v.SetDefault("remote.database.database", "")

	v.SetDefault("connectivity.assume_online", true)
	v.SetDefault("connectivity.probe_enabled", true)
	v.SetDefault("connectivity.probe_schedule", "@every 10s")
	v.SetDefault("connectivity.probe_timeout", "3s")

	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.orders_path", "/orders")
	v.SetDefault("sync.sync_on_start", true)
	v.SetDefault("sync.history_limit", 50)

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// LoadConfig reads configuration from path (optional, YAML) layered over
// defaults, with OFFLINESYNC_* environment variables taking precedence.
// An empty path or a missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Store.FilePath == "" {
		return errors.New("config: store.file_path is required")
	}
	switch c.Remote.Kind {
	case "http":
		if c.Remote.BaseURL == "" {
			return errors.New("config: remote.base_url is required for http remote")
		}
	case "mysql":
		if c.Remote.Database.Host == "" || c.Remote.Database.Database == "" {
			return errors.New("config: remote.database.host and remote.database.database are required for mysql remote")
		}
	default:
		return fmt.Errorf("config: unknown remote.kind %q", c.Remote.Kind)
	}
	if c.Sync.MaxRetries < 1 {
		return fmt.Errorf("config: sync.max_retries must be positive, got %d", c.Sync.MaxRetries)
	}
	if !strings.HasPrefix(c.Sync.OrdersPath, "/") {
		return fmt.Errorf("config: sync.orders_path must start with '/', got %q", c.Sync.OrdersPath)
	}

	durations := map[string]string{
		"store.busy_timeout":         c.Store.BusyTimeout,
		"remote.timeout":             c.Remote.Timeout,
		"connectivity.probe_timeout": c.Connectivity.ProbeTimeout,
		"server.read_timeout":        c.Server.ReadTimeout,
		"server.write_timeout":       c.Server.WriteTimeout,
	}
	for key, raw := range durations {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
	}
	return nil
}
