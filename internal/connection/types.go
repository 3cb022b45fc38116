package connection

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rickgao/streamlink/internal/protocol"
)

// Errors
var (
	ErrNotConnected          = errors.New("not connected")
	ErrConnectionTimeout     = errors.New("connection timeout")
	ErrStaleConnection       = errors.New("connection stale (no pong)")
	ErrSessionDestroyed      = errors.New("session destroyed")
	ErrIntentionalDisconnect = errors.New("disconnected by client")
)

// WebSocket close codes consumed by the session.
const (
	CloseNormalClosure           = 1000
	CloseGoingAway               = 1001
	CloseAbnormalClosure         = 1006
	ClosePolicyViolation         = 1008
	CloseMessageTooBig           = 1009
	CloseMandatoryExtension      = 1010
	CloseInternalServerErr       = 1011
	CloseAuthenticationFailedMin = 4000
	CloseAuthenticationFailedMax = 4099
	CloseAuthorizationFailedMin  = 4100
	CloseAuthorizationFailedMax  = 4199
)

// IsRetryableClose reports whether a close code allows automatic
// reconnection. Policy, size, extension and server errors are final, as are
// the application authentication (4000-4099) and authorization (4100-4199)
// ranges.
func IsRetryableClose(code int) bool {
	switch code {
	case ClosePolicyViolation, CloseMessageTooBig, CloseMandatoryExtension, CloseInternalServerErr:
		return false
	}
	if code >= CloseAuthenticationFailedMin && code <= CloseAuthenticationFailedMax {
		return false
	}
	if code >= CloseAuthorizationFailedMin && code <= CloseAuthorizationFailedMax {
		return false
	}
	return true
}

// InvalidTransitionError is returned when an action is not allowed from the
// current state. The state is left unchanged.
type InvalidTransitionError struct {
	Action Action
	From   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %q from state %s", e.Action, e.From)
}

// SendError is returned synchronously by Send and also reported through the
// error callback.
type SendError struct {
	State State
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed in state %s: %v", e.State, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// CloseError rejects a pending connect when the socket closes before open.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("connection closed (code %d)", e.Code)
	}
	return fmt.Sprintf("connection closed (code %d): %s", e.Code, e.Reason)
}

// SocketError wraps a transport-level failure. It never changes state by
// itself; the close that follows does.
type SocketError struct {
	Err error
}

func (e *SocketError) Error() string { return "socket error: " + e.Err.Error() }

func (e *SocketError) Unwrap() error { return e.Err }

// ConsumerError is reported when the frame consumer returns an error or
// panics. It never reaches the read loop.
type ConsumerError struct {
	Kind protocol.Kind
	Err  error
}

func (e *ConsumerError) Error() string {
	return fmt.Sprintf("consumer failed on %s frame: %v", e.Kind, e.Err)
}

func (e *ConsumerError) Unwrap() error { return e.Err }

// HeaderProvider supplies handshake headers for each dial.
type HeaderProvider interface {
	HandshakeHeader(target *url.URL) (http.Header, error)
}

// ReconnectConfig configures automatic reconnection.
type ReconnectConfig struct {
	Enabled      bool
	MaxAttempts  int           // Attempts allowed before the session fails
	BaseInterval time.Duration // Delay before the first attempt
	Decay        float64       // Multiplier applied per attempt
	MaxDelay     time.Duration // Upper bound for any delay
}

// DefaultReconnectConfig returns sensible defaults.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		Enabled:      true,
		MaxAttempts:  10,
		BaseInterval: 1 * time.Second,
		Decay:        1.5,
		MaxDelay:     30 * time.Second,
	}
}

// SessionConfig configures a transport session.
type SessionConfig struct {
	URL            string         // WebSocket URL (e.g., wss://chat.example.com/ws)
	Headers        HeaderProvider // Optional handshake headers (nil = none)
	UserAgent      string
	ConnectTimeout time.Duration // Per-attempt timeout from dial to open
	WriteTimeout   time.Duration // Write deadline for sends
	PingInterval   time.Duration // Keepalive ping period (0 = disabled)
	PongTimeout    time.Duration // Max silence before the socket is considered stale
	ReadLimit      int64         // Max inbound frame size in bytes (0 = unlimited)
	QueueSize      int           // Initial outbound queue capacity
	Reconnect      ReconnectConfig
}

// DefaultSessionConfig returns sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ConnectTimeout: 30 * time.Second,
		WriteTimeout:   5 * time.Second,
		PingInterval:   30 * time.Second,
		PongTimeout:    90 * time.Second,
		ReadLimit:      4 << 20,
		QueueSize:      64,
		Reconnect:      DefaultReconnectConfig(),
	}
}

// Stats holds session counters.
type Stats struct {
	State             State
	Sent              int64
	Queued            int64
	Flushed           int64
	FramesReceived    int64
	DecodeFallbacks   int64
	ConsumerErrors    int64
	ReconnectAttempts int
	QueueLength       int
}
