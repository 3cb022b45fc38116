package connection

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// closeGrace is how long a requested close waits for the server's close
// frame before the connection is dropped.
const closeGrace = 2 * time.Second

// controlWait bounds control frame writes when no write timeout is set.
const controlWait = time.Second

// Conn is the subset of *websocket.Conn used by the session.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPingHandler(h func(appData string) error)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Dialer opens WebSocket connections.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, header http.Header) (Conn, error)
}

type wsDialer struct {
	dialer websocket.Dialer
}

// NewDialer returns a gorilla/websocket dialer.
func NewDialer(handshakeTimeout time.Duration) Dialer {
	return &wsDialer{
		dialer: websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

func (d *wsDialer) DialContext(ctx context.Context, urlStr string, header http.Header) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, urlStr, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// socketHandler receives events from one socket. gen identifies the socket
// so events from a replaced socket can be ignored.
type socketHandler interface {
	handleFrame(gen uint64, messageType int, data []byte)
	handleSocketError(gen uint64, err error)
	handleSocketClose(gen uint64, code int, reason string)
}

// socket owns one open WebSocket connection.
type socket struct {
	conn   Conn
	gen    uint64
	cfg    SessionConfig
	logger *slog.Logger

	writeMu sync.Mutex
	done    chan struct{}

	mu          sync.Mutex
	closing     bool
	closeCode   int
	closeReason string
	lastPongAt  time.Time
}

func newSocket(conn Conn, gen uint64, cfg SessionConfig, logger *slog.Logger) *socket {
	return &socket{
		conn:       conn,
		gen:        gen,
		cfg:        cfg,
		logger:     logger,
		done:       make(chan struct{}),
		lastPongAt: time.Now(),
	}
}

// start installs control handlers and launches the read and keepalive loops.
func (s *socket) start(h socketHandler) {
	if s.cfg.ReadLimit > 0 {
		s.conn.SetReadLimit(s.cfg.ReadLimit)
	}

	s.conn.SetPingHandler(func(data string) error {
		s.touch()
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		return s.conn.WriteControl(websocket.PongMessage, []byte(data), s.controlDeadline())
	})
	s.conn.SetPongHandler(func(string) error {
		s.touch()
		return nil
	})

	go s.readLoop(h)
	if s.cfg.PingInterval > 0 {
		go s.keepalive(h)
	}
}

// write sends one binary frame.
func (s *socket) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.cfg.WriteTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// requestClose sends a close frame and drops the connection if the server
// does not answer within closeGrace.
func (s *socket) requestClose(code int, reason string) {
	if !s.markClosing(code, reason) {
		return
	}

	s.writeMu.Lock()
	err := s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		s.controlDeadline(),
	)
	s.writeMu.Unlock()

	if err != nil {
		s.logger.Debug("close frame not sent", "error", err)
		s.conn.Close()
		return
	}

	go func() {
		select {
		case <-s.done:
		case <-time.After(closeGrace):
			s.conn.Close()
		}
	}()
}

// forceClose drops the connection without a handshake.
func (s *socket) forceClose(code int, reason string) {
	s.markClosing(code, reason)
	s.conn.Close()
}

// controlDeadline is the write deadline for ping, pong and close frames.
func (s *socket) controlDeadline() time.Time {
	if s.cfg.WriteTimeout > 0 {
		return time.Now().Add(s.cfg.WriteTimeout)
	}
	return time.Now().Add(controlWait)
}

func (s *socket) markClosing(code int, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.closing = true
	s.closeCode = code
	s.closeReason = reason
	return true
}

func (s *socket) touch() {
	s.mu.Lock()
	s.lastPongAt = time.Now()
	s.mu.Unlock()
}

// readLoop delivers frames until the connection ends, then reports exactly
// one close.
func (s *socket) readLoop(h socketHandler) {
	defer close(s.done)

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			code, reason, unexpected := s.closeStatus(err)
			if unexpected {
				h.handleSocketError(s.gen, err)
			}
			s.conn.Close()
			h.handleSocketClose(s.gen, code, reason)
			return
		}
		s.touch()
		h.handleFrame(s.gen, messageType, data)
	}
}

// closeStatus maps a read error to a close code. A close requested locally
// reports the requested code; anything that is not a close frame is an
// abnormal closure.
func (s *socket) closeStatus(err error) (code int, reason string, unexpected bool) {
	s.mu.Lock()
	closing, reqCode, reqReason := s.closing, s.closeCode, s.closeReason
	s.mu.Unlock()

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if closing && ce.Code == websocket.CloseNoStatusReceived {
			return reqCode, reqReason, false
		}
		return ce.Code, ce.Text, false
	}
	if closing {
		return reqCode, reqReason, false
	}
	return CloseAbnormalClosure, err.Error(), true
}

// keepalive pings the server and drops the connection when it goes silent.
func (s *socket) keepalive(h socketHandler) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), s.controlDeadline())
			s.writeMu.Unlock()
			if err != nil {
				s.logger.Debug("failed to send ping", "error", err)
			}

			s.mu.Lock()
			last := s.lastPongAt
			s.mu.Unlock()

			if s.cfg.PongTimeout > 0 && time.Since(last) > s.cfg.PongTimeout {
				s.logger.Warn("no pong received, connection stale",
					"last_pong", last,
					"timeout", s.cfg.PongTimeout,
				)
				h.handleSocketError(s.gen, ErrStaleConnection)
				s.forceClose(CloseAbnormalClosure, ErrStaleConnection.Error())
				return
			}
		}
	}
}
