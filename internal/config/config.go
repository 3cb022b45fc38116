package config

import "time"

// Config is the root configuration for a chatstream client.
type Config struct {
	Session SessionConfig `yaml:"session"`
	Auth    AuthConfig    `yaml:"auth"`
	Store   StoreConfig   `yaml:"store"`
	Log     LogConfig     `yaml:"log"`
}

// SessionConfig holds WebSocket session settings.
type SessionConfig struct {
	URL            string          `yaml:"url"`
	ConnectTimeout time.Duration   `yaml:"connect_timeout"`
	WriteTimeout   time.Duration   `yaml:"write_timeout"`
	PingInterval   time.Duration   `yaml:"ping_interval"`
	PongTimeout    time.Duration   `yaml:"pong_timeout"`
	ReadLimit      int64           `yaml:"read_limit"`
	QueueSize      int             `yaml:"queue_size"`
	Reconnect      ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig holds automatic reconnection settings. Enabled and
// MaxAttempts are pointers so an explicit false or 0 survives defaulting.
type ReconnectConfig struct {
	Enabled      *bool         `yaml:"enabled"`
	MaxAttempts  *int          `yaml:"max_attempts"`
	BaseInterval time.Duration `yaml:"base_interval"`
	Decay        float64       `yaml:"decay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// IsEnabled reports whether reconnection is on.
func (r ReconnectConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// Attempts returns the retry budget.
func (r ReconnectConfig) Attempts() int {
	if r.MaxAttempts == nil {
		return DefaultMaxAttempts
	}
	return *r.MaxAttempts
}

// AuthConfig holds handshake credentials. Either Token, or KeyID together
// with PrivateKeyPath, may be set.
type AuthConfig struct {
	Token          string `yaml:"token"`
	KeyID          string `yaml:"key_id"`           // Key ID sent with signed handshakes
	PrivateKeyPath string `yaml:"private_key_path"` // Path to RSA private key PEM file
}

// StoreConfig holds transcript persistence settings.
type StoreConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
	Database      DBConfig      `yaml:"database"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}
