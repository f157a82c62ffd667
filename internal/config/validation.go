package config

import (
	ferrors "git.home.luguber.info/inful/contexthub/internal/foundation/errors"
)

// Validate checks config invariants that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Batch.Window > 10*DefaultBatchWindow {
		return ferrors.ConfigError("batch window exceeds the 5s latency bound").
			WithContext("window", c.Batch.Window.String()).
			Build()
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return ferrors.ConfigError("unknown log level").
			WithContext("level", c.Logging.Level).
			Build()
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return ferrors.ConfigError("unknown log format").
			WithContext("format", c.Logging.Format).
			Build()
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return ferrors.ConfigError("nats enabled without url").Build()
	}
	return nil
}
