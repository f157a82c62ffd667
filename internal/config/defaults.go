package config

import "time"

// Defaults chosen to bound worst-case update latency while collapsing bursts
// of automated writes.
const (
	DefaultBatchWindow  = 500 * time.Millisecond
	DefaultBatchMaxSize = 50

	DefaultOperationTimeout = 5 * time.Second
	DefaultCacheTTL         = 5 * time.Minute
	DefaultRefreshInterval  = time.Minute

	DefaultSendBuffer        = 64
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultMaxDrops          = 128

	DefaultHTTPAddr        = ":8470"
	DefaultShutdownTimeout = 10 * time.Second
)

// Default returns a fully-populated configuration.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Path:             "contexthub.db",
			OperationTimeout: DefaultOperationTimeout,
		},
		Sync: SyncConfig{
			SendBuffer:        DefaultSendBuffer,
			HeartbeatInterval: DefaultHeartbeatInterval,
			WriteTimeout:      DefaultWriteTimeout,
			MaxDrops:          DefaultMaxDrops,
		},
		Batch: BatchConfig{
			Window:  DefaultBatchWindow,
			MaxSize: DefaultBatchMaxSize,
		},
		Cache: CacheConfig{
			TTL:             DefaultCacheTTL,
			RefreshInterval: DefaultRefreshInterval,
		},
		HTTP: HTTPConfig{
			Addr:            DefaultHTTPAddr,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		NATS: NATSConfig{
			Enabled: false,
			URL:     "nats://localhost:4222",
			Subject: "contexthub.changes",
			Stream:  "CONTEXTHUB",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// applyDefaults fills zero values left by partial YAML documents.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Store.Path == "" {
		c.Store.Path = d.Store.Path
	}
	if c.Store.OperationTimeout <= 0 {
		c.Store.OperationTimeout = d.Store.OperationTimeout
	}
	if c.Sync.SendBuffer <= 0 {
		c.Sync.SendBuffer = d.Sync.SendBuffer
	}
	if c.Sync.HeartbeatInterval <= 0 {
		c.Sync.HeartbeatInterval = d.Sync.HeartbeatInterval
	}
	if c.Sync.WriteTimeout <= 0 {
		c.Sync.WriteTimeout = d.Sync.WriteTimeout
	}
	if c.Sync.MaxDrops <= 0 {
		c.Sync.MaxDrops = d.Sync.MaxDrops
	}
	if c.Batch.Window <= 0 {
		c.Batch.Window = d.Batch.Window
	}
	if c.Batch.MaxSize <= 0 {
		c.Batch.MaxSize = d.Batch.MaxSize
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = d.Cache.TTL
	}
	if c.Cache.RefreshInterval <= 0 {
		c.Cache.RefreshInterval = d.Cache.RefreshInterval
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = d.HTTP.Addr
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		c.HTTP.ShutdownTimeout = d.HTTP.ShutdownTimeout
	}
	if c.NATS.URL == "" {
		c.NATS.URL = d.NATS.URL
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = d.NATS.Subject
	}
	if c.NATS.Stream == "" {
		c.NATS.Stream = d.NATS.Stream
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
}
