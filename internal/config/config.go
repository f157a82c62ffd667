// Package config loads and validates the ContextHub daemon configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Sync    SyncConfig    `yaml:"sync"`
	Batch   BatchConfig   `yaml:"batch"`
	Cache   CacheConfig   `yaml:"cache"`
	HTTP    HTTPConfig    `yaml:"http"`
	NATS    NATSConfig    `yaml:"nats"`
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig configures the backing SQLite store.
type StoreConfig struct {
	Path string `yaml:"path"`
	// OperationTimeout bounds each store operation; on expiry the
	// transaction rolls back fully.
	OperationTimeout time.Duration `yaml:"operation_timeout"`
}

// SyncConfig configures the websocket sync hub.
type SyncConfig struct {
	// SendBuffer is the per-connection outbound buffer size. When full, the
	// oldest pending message is dropped; a consumer that keeps falling behind
	// is disconnected.
	SendBuffer        int           `yaml:"send_buffer"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	// MaxDrops is the number of dropped messages tolerated before the
	// connection is closed as a slow consumer.
	MaxDrops int `yaml:"max_drops"`
}

// BatchConfig configures coalescing of automation-origin updates.
type BatchConfig struct {
	Window  time.Duration `yaml:"window"`
	MaxSize int           `yaml:"max_size"`
}

// CacheConfig configures the derived-view cache and its background refresher.
type CacheConfig struct {
	TTL             time.Duration `yaml:"ttl"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// HTTPConfig configures the control API server.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// NATSConfig configures optional outbound change announcements.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Stream  string `yaml:"stream"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// Load loads configuration from the specified file, expanding environment
// variables in the YAML content. A .env file alongside the process is loaded
// first when present; existing process variables win.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Write serializes the configuration to the given path (used by `contexthub init`).
func (c *Config) Write(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s", path)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// WriteDefault writes the default configuration as YAML.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
