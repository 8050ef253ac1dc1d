package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Remote     RemoteConfig     `yaml:"remote"`
	Cache      CacheConfig      `yaml:"cache"`
	Sync       SyncConfig       `yaml:"sync"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the local store connection configuration.
type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // "sqlite" (default) or "postgres"
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RemoteConfig describes the upstream fleet API.
type RemoteConfig struct {
	RosterURL      string `yaml:"roster_url"`
	ChannelURL     string `yaml:"channel_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	ProbeAddr      string `yaml:"probe_addr"` // TCP address dialed to detect connectivity
}

// CacheConfig holds settings for the durable key-value cache.
type CacheConfig struct {
	Secret string `yaml:"secret"` // symmetric key material for encrypted entries
}

// SyncConfig holds the tunables of the synchronization engine.
type SyncConfig struct {
	FlushDebounceMillis int `yaml:"flush_debounce_millis"`
	ResyncMinutes       int `yaml:"resync_minutes"`
	OnlineDebounceSecs  int `yaml:"online_debounce_secs"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	Enabled    bool   `yaml:"enabled"`
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// FlushDebounce returns the telemetry flush debounce as a duration.
func (s SyncConfig) FlushDebounce() time.Duration {
	return time.Duration(s.FlushDebounceMillis) * time.Millisecond
}

// ResyncInterval returns the periodic resync interval as a duration.
func (s SyncConfig) ResyncInterval() time.Duration {
	return time.Duration(s.ResyncMinutes) * time.Minute
}

// OnlineDebounce returns the online-edge sync debounce as a duration.
func (s SyncConfig) OnlineDebounce() time.Duration {
	return time.Duration(s.OnlineDebounceSecs) * time.Second
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "fleet-sync.db"
	}
	if cfg.Remote.TimeoutSeconds <= 0 {
		cfg.Remote.TimeoutSeconds = 30
	}
	if cfg.Cache.Secret == "" {
		cfg.Cache.Secret = "fleet-sync-secret-key"
	}
	if cfg.Sync.FlushDebounceMillis <= 0 {
		cfg.Sync.FlushDebounceMillis = 1000
	}
	if cfg.Sync.ResyncMinutes <= 0 {
		cfg.Sync.ResyncMinutes = 5
	}
	if cfg.Sync.OnlineDebounceSecs <= 0 {
		cfg.Sync.OnlineDebounceSecs = 5
	}
	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}
	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 2
	}

	return &cfg, nil
}
