package config

import (
	"log/slog"
	"strings"
	"time"
)

// Default values for optional configuration fields.
const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultWriteTimeout   = 5 * time.Second
	DefaultPingInterval   = 30 * time.Second
	DefaultPongTimeout    = 90 * time.Second
	DefaultReadLimit      = 4 << 20
	DefaultQueueSize      = 64
	DefaultMaxAttempts    = 10
	DefaultBaseInterval   = 1 * time.Second
	DefaultDecay          = 1.5
	DefaultMaxDelay       = 30 * time.Second
	DefaultDBPort         = 5432
	DefaultDBSSLMode      = "prefer"
	DefaultMaxConns       = 4
	DefaultMinConns       = 1
	DefaultBatchSize      = 100
	DefaultFlushInterval  = 2 * time.Second
	DefaultBufferSize     = 256
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
)

// ApplyDefaults fills every unset optional field.
func (c *Config) ApplyDefaults() {
	// Session defaults
	if c.Session.ConnectTimeout == 0 {
		c.Session.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Session.WriteTimeout == 0 {
		c.Session.WriteTimeout = DefaultWriteTimeout
	}
	if c.Session.PingInterval == 0 {
		c.Session.PingInterval = DefaultPingInterval
	}
	if c.Session.PongTimeout == 0 {
		c.Session.PongTimeout = DefaultPongTimeout
	}
	if c.Session.ReadLimit == 0 {
		c.Session.ReadLimit = DefaultReadLimit
	}
	if c.Session.QueueSize == 0 {
		c.Session.QueueSize = DefaultQueueSize
	}

	// Reconnect defaults
	r := &c.Session.Reconnect
	if r.Enabled == nil {
		enabled := true
		r.Enabled = &enabled
	}
	if r.MaxAttempts == nil {
		attempts := DefaultMaxAttempts
		r.MaxAttempts = &attempts
	}
	if r.BaseInterval == 0 {
		r.BaseInterval = DefaultBaseInterval
	}
	if r.Decay == 0 {
		r.Decay = DefaultDecay
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = DefaultMaxDelay
	}

	// Store defaults
	if c.Store.BatchSize == 0 {
		c.Store.BatchSize = DefaultBatchSize
	}
	if c.Store.FlushInterval == 0 {
		c.Store.FlushInterval = DefaultFlushInterval
	}
	if c.Store.BufferSize == 0 {
		c.Store.BufferSize = DefaultBufferSize
	}
	applyDBDefaults(&c.Store.Database)

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}

// SlogLevel maps the configured level name to a slog.Level.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
