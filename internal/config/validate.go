package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Session.URL == "" {
		return errors.New("session.url is required")
	}
	if !strings.HasPrefix(c.Session.URL, "ws://") && !strings.HasPrefix(c.Session.URL, "wss://") {
		return fmt.Errorf("session.url must start with ws:// or wss://, got %q", c.Session.URL)
	}
	if c.Session.ConnectTimeout <= 0 {
		return errors.New("session.connect_timeout must be > 0")
	}
	if c.Session.QueueSize < 1 {
		return errors.New("session.queue_size must be >= 1")
	}

	r := c.Session.Reconnect
	if r.Attempts() < 0 {
		return errors.New("session.reconnect.max_attempts must be >= 0")
	}
	if r.BaseInterval <= 0 {
		return errors.New("session.reconnect.base_interval must be > 0")
	}
	if r.Decay < 1 {
		return fmt.Errorf("session.reconnect.decay must be >= 1, got %v", r.Decay)
	}
	if r.MaxDelay < r.BaseInterval {
		return fmt.Errorf("session.reconnect.max_delay (%v) cannot be less than base_interval (%v)", r.MaxDelay, r.BaseInterval)
	}

	if err := c.Auth.validate(); err != nil {
		return err
	}

	if c.Store.Enabled {
		if err := c.Store.Database.validate("store.database"); err != nil {
			return err
		}
		if c.Store.BatchSize < 1 {
			return errors.New("store.batch_size must be >= 1")
		}
		if c.Store.BufferSize < 1 {
			return errors.New("store.buffer_size must be >= 1")
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (a *AuthConfig) validate() error {
	if a.Token != "" && a.KeyID != "" {
		return errors.New("auth.token and auth.key_id are mutually exclusive")
	}
	if (a.KeyID == "") != (a.PrivateKeyPath == "") {
		return errors.New("auth.key_id and auth.private_key_path must be set together")
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
