package config

import (
	"time"
)

type Config struct {
	Store        StoreConfig        `mapstructure:"store"`
	Remote       RemoteConfig       `mapstructure:"remote"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// StoreConfig locates the on-device SQLite queue database.
type StoreConfig struct {
	FilePath    string `mapstructure:"file_path"`
	BusyTimeout string `mapstructure:"busy_timeout"`
}

func (s StoreConfig) GetBusyTimeout() time.Duration {
	d, _ := time.ParseDuration(s.BusyTimeout)
	return d
}

type RemoteConfig struct {
	Kind       string             `mapstructure:"kind"` // http | mysql
	BaseURL    string             `mapstructure:"base_url"`
	HealthPath string             `mapstructure:"health_path"`
	AuthToken  string             `mapstructure:"auth_token"`
	Timeout    string             `mapstructure:"timeout"`
	Database   DatabaseConnection `mapstructure:"database"`
}

func (r RemoteConfig) GetTimeout() time.Duration {
	d, _ := time.ParseDuration(r.Timeout)
	return d
}

type DatabaseConnection struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

type ConnectivityConfig struct {
	AssumeOnline  bool   `mapstructure:"assume_online"`
	ProbeEnabled  bool   `mapstructure:"probe_enabled"`
	ProbeSchedule string `mapstructure:"probe_schedule"`
	ProbeTimeout  string `mapstructure:"probe_timeout"`
}

func (c ConnectivityConfig) GetProbeTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ProbeTimeout)
	return d
}

type SyncConfig struct {
	MaxRetries   int    `mapstructure:"max_retries"`
	OrdersPath   string `mapstructure:"orders_path"`
	SyncOnStart  bool   `mapstructure:"sync_on_start"`
	HistoryLimit int    `mapstructure:"history_limit"`
}

type ServerConfig struct {
	Port         int      `mapstructure:"port"`
	Host         string   `mapstructure:"host"`
	ReadTimeout  string   `mapstructure:"read_timeout"`
	WriteTimeout string   `mapstructure:"write_timeout"`
	CorsOrigins  []string `mapstructure:"cors_origins"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
