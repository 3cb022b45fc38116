package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/streamlink/internal/protocol"
)

// Consumer receives every decoded inbound frame in transport order.
type Consumer interface {
	Consume(f protocol.Frame) error
}

// OpenObserver is implemented by consumers that need to know when a new
// connection opens, before any frame from it is delivered.
type OpenObserver interface {
	ConnectionOpened()
}

// Callbacks are the UI-facing notifications of a session. Every field is
// optional. Callbacks run without the session lock held and may call back
// into the session.
type Callbacks struct {
	OnStateChange  func(next, prev State)
	OnMessage      func(f protocol.Frame)
	OnOpen         func()
	OnClose        func(code int, reason string)
	OnError        func(err error)
	OnReconnecting func(attempt, maxAttempts int, delay time.Duration)
}

// Completion is the one-shot result of a connect attempt.
type Completion struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

func completed(err error) *Completion {
	c := newCompletion()
	c.resolve(err)
	return c
}

// resolve settles the completion. Only the first call has any effect.
func (c *Completion) resolve(err error) bool {
	fired := false
	c.once.Do(func() {
		c.err = err
		close(c.done)
		fired = true
	})
	return fired
}

// Done is closed once the attempt has opened or failed.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Err returns the failure once Done is closed, and nil before that.
func (c *Completion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Wait blocks until the attempt settles or ctx ends.
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Session manages a single WebSocket connection: lifecycle, reconnection,
// outbound queueing and inbound decoding.
type Session struct {
	cfg    SessionConfig
	target *url.URL
	dialer Dialer
	logger *slog.Logger

	machine   *StateMachine
	guard     *TimeoutGuard
	scheduler *ReconnectScheduler
	queue     *MessageQueue

	// mu serializes socket events, timer callbacks and API calls.
	mu          sync.Mutex
	socket      *socket
	gen         uint64
	dialCancel  context.CancelFunc
	pending     *Completion
	intentional bool
	timedOut    bool
	destroyed   bool
	callbacks   Callbacks
	consumer    Consumer
	notes       []func()

	sent            atomic.Int64
	queued          atomic.Int64
	flushed         atomic.Int64
	framesReceived  atomic.Int64
	decodeFallbacks atomic.Int64
	consumerErrors  atomic.Int64
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithDialer replaces the gorilla/websocket dialer.
func WithDialer(d Dialer) SessionOption {
	return func(s *Session) {
		s.dialer = d
	}
}

// WithConsumer sets the frame consumer.
func WithConsumer(c Consumer) SessionOption {
	return func(s *Session) {
		s.consumer = c
	}
}

// NewSession creates a disconnected session.
func NewSession(cfg SessionConfig, logger *slog.Logger, opts ...SessionOption) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}

	target, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse session url: %w", err)
	}
	if target.Scheme != "ws" && target.Scheme != "wss" {
		return nil, fmt.Errorf("session url scheme must be ws or wss, got %q", target.Scheme)
	}

	s := &Session{
		cfg:    cfg,
		target: target,
		logger: logger,
		queue:  NewMessageQueue(cfg.QueueSize),
	}
	s.machine = NewStateMachine(s.onTransition)
	s.guard = NewTimeoutGuard(func() bool {
		st := s.machine.State()
		return st == StateConnecting || st == StateReconnecting
	})
	s.scheduler = NewReconnectScheduler(cfg.Reconnect, logger)

	for _, opt := range opts {
		opt(s)
	}
	if s.dialer == nil {
		s.dialer = NewDialer(cfg.ConnectTimeout)
	}

	return s, nil
}

// SetCallbacks replaces the UI callbacks.
func (s *Session) SetCallbacks(cb Callbacks) {
	s.mu.Lock()
	s.callbacks = cb
	s.mu.Unlock()
}

// SetConsumer replaces the frame consumer.
func (s *Session) SetConsumer(c Consumer) {
	s.mu.Lock()
	s.consumer = c
	s.mu.Unlock()
}

// State returns the current connection state.
func (s *Session) State() State {
	return s.machine.State()
}

// IsConnected reports whether the session is connected with an open socket.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.State() == StateConnected && s.socket != nil
}

// Stats returns session counters.
func (s *Session) Stats() Stats {
	return Stats{
		State:             s.machine.State(),
		Sent:              s.sent.Load(),
		Queued:            s.queued.Load(),
		Flushed:           s.flushed.Load(),
		FramesReceived:    s.framesReceived.Load(),
		DecodeFallbacks:   s.decodeFallbacks.Load(),
		ConsumerErrors:    s.consumerErrors.Load(),
		ReconnectAttempts: s.scheduler.Attempts(),
		QueueLength:       s.queue.Len(),
	}
}

// Connect opens the connection. While an attempt is in flight the same
// Completion is returned; when already connected it is resolved at once.
func (s *Session) Connect() *Completion {
	var c *Completion
	s.locked(func() {
		c = s.connectLocked()
	})
	return c
}

// Disconnect closes the connection and suppresses reconnection. Queued
// messages are discarded.
func (s *Session) Disconnect() {
	s.locked(s.disconnectLocked)
}

// Send transmits payload, or queues it while a connect is in flight.
func (s *Session) Send(payload any) error {
	var err error
	s.locked(func() {
		err = s.sendLocked(payload)
	})
	return err
}

// Destroy disconnects and releases the session. It cannot be reused.
func (s *Session) Destroy() {
	s.locked(func() {
		if s.destroyed {
			return
		}
		s.disconnectLocked()
		if s.socket != nil {
			// The close handshake finishes in the background; nothing
			// from this socket is delivered any more.
			s.socket = nil
			s.gen++
			s.transitionLocked(ActionDisconnected)
		}
		s.destroyed = true
		s.callbacks = Callbacks{}
		s.consumer = nil
		s.logger.Info("session destroyed")
	})
}

// locked runs fn under the session lock, then delivers the callbacks it
// queued, in order, with the lock released.
func (s *Session) locked(fn func()) {
	s.mu.Lock()
	fn()
	notes := s.notes
	s.notes = nil
	s.mu.Unlock()

	for _, n := range notes {
		n()
	}
}

// note queues a callback invocation. Must be called with mu held.
func (s *Session) note(fn func()) {
	s.notes = append(s.notes, fn)
}

// noteError logs err and queues the error callback. Must be called with mu held.
func (s *Session) noteError(err error) {
	s.logger.Warn("session error", "error", err)
	if cb := s.callbacks.OnError; cb != nil {
		s.note(func() { cb(err) })
	}
}

// onTransition is the state machine observer. It runs with mu held.
func (s *Session) onTransition(next, prev State) {
	s.logger.Debug("state changed", "from", prev, "to", next)
	if cb := s.callbacks.OnStateChange; cb != nil {
		s.note(func() { cb(next, prev) })
	}
}

func (s *Session) transitionLocked(action Action) bool {
	if err := s.machine.TransitionTo(action); err != nil {
		s.logger.Debug("transition rejected", "error", err)
		return false
	}
	return true
}

func (s *Session) connectLocked() *Completion {
	if s.destroyed {
		return completed(ErrSessionDestroyed)
	}

	switch s.machine.State() {
	case StateConnecting, StateReconnecting:
		if s.pending != nil {
			return s.pending
		}
	case StateConnected:
		return completed(nil)
	}

	if err := s.machine.TransitionTo(ActionConnect); err != nil {
		s.logger.Warn("connect rejected", "error", err)
		return completed(err)
	}

	s.intentional = false
	s.scheduler.Cancel()
	s.pending = newCompletion()
	s.openLocked()
	return s.pending
}

// openLocked starts a dial for a new socket generation.
func (s *Session) openLocked() {
	s.gen++
	gen := s.gen
	s.timedOut = false

	ctx, cancel := context.WithCancel(context.Background())
	s.dialCancel = cancel

	s.guard.Arm(s.cfg.ConnectTimeout, func() {
		s.handleTimeout(gen)
	})

	s.logger.Info("connecting", "url", s.target.Redacted(), "gen", gen)
	go s.dial(ctx, gen)
}

func (s *Session) dial(ctx context.Context, gen uint64) {
	header, err := s.handshakeHeader()
	var conn Conn
	if err == nil {
		conn, err = s.dialer.DialContext(ctx, s.target.String(), header)
	}

	s.locked(func() {
		if gen != s.gen || s.destroyed {
			if conn != nil {
				conn.Close()
			}
			return
		}
		s.dialCancel = nil

		if err == nil && s.timedOut {
			conn.Close()
			err = ErrConnectionTimeout
		}
		if err != nil {
			if !s.timedOut {
				s.noteError(&SocketError{Err: err})
			}
			s.handleCloseLocked(CloseAbnormalClosure, err.Error())
			return
		}

		sock := newSocket(conn, gen, s.cfg, s.logger.With("gen", gen))
		s.socket = sock
		sock.start(s)
		s.handleOpenLocked()
	})
}

func (s *Session) handshakeHeader() (http.Header, error) {
	header := http.Header{}
	if s.cfg.Headers != nil {
		h, err := s.cfg.Headers.HandshakeHeader(s.target)
		if err != nil {
			return nil, fmt.Errorf("handshake headers: %w", err)
		}
		for k, v := range h {
			header[k] = v
		}
	}
	if s.cfg.UserAgent != "" {
		header.Set("User-Agent", s.cfg.UserAgent)
	}
	return header, nil
}

func (s *Session) handleOpenLocked() {
	s.guard.Disarm()
	s.scheduler.Reset()
	s.transitionLocked(ActionConnected)

	if o, ok := s.consumer.(OpenObserver); ok {
		o.ConnectionOpened()
	}

	n, err := s.queue.Flush(func(m QueuedMessage) error {
		return s.writeLocked(m.Payload)
	})
	s.flushed.Add(int64(n))
	if err != nil {
		s.noteError(&SendError{State: StateConnected, Err: err})
	}
	if n > 0 {
		s.logger.Debug("flushed queued messages", "count", n)
	}

	if s.pending != nil {
		s.pending.resolve(nil)
		s.pending = nil
	}

	s.logger.Info("connected", "url", s.target.Redacted())
	if cb := s.callbacks.OnOpen; cb != nil {
		s.note(cb)
	}
}

func (s *Session) handleTimeout(gen uint64) {
	s.locked(func() {
		if gen != s.gen {
			return
		}
		st := s.machine.State()
		if st != StateConnecting && st != StateReconnecting {
			return
		}

		s.timedOut = true
		s.logger.Warn("connect attempt timed out", "timeout", s.cfg.ConnectTimeout)
		s.noteError(ErrConnectionTimeout)

		// The dial goroutine or the read loop reports the close.
		if s.dialCancel != nil {
			s.dialCancel()
		}
		if s.socket != nil {
			s.socket.forceClose(CloseAbnormalClosure, ErrConnectionTimeout.Error())
		}
	})
}

func (s *Session) handleCloseLocked(code int, reason string) {
	s.socket = nil
	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}
	s.guard.Disarm()

	if s.pending != nil {
		var err error = &CloseError{Code: code, Reason: reason}
		if s.timedOut {
			err = ErrConnectionTimeout
		}
		s.pending.resolve(err)
		s.pending = nil
	}

	s.transitionLocked(ActionDisconnected)

	s.logger.Info("connection closed", "code", code, "reason", reason, "intentional", s.intentional)
	if cb := s.callbacks.OnClose; cb != nil {
		s.note(func() { cb(code, reason) })
	}

	if s.destroyed || s.intentional {
		return
	}

	if s.scheduler.ShouldReconnect(code, s.intentional) {
		delay, ok := s.scheduler.Schedule(s.handleReconnectTimer)
		if ok {
			attempt, maxAttempts := s.scheduler.Attempts(), s.scheduler.MaxAttempts()
			if cb := s.callbacks.OnReconnecting; cb != nil {
				s.note(func() { cb(attempt, maxAttempts, delay) })
			}
		}
		return
	}

	dropped := s.queue.Clear()
	s.logger.Warn("reconnection declined",
		"code", code,
		"attempts", s.scheduler.Attempts(),
		"dropped_messages", dropped,
	)
	s.transitionLocked(ActionFailed)
}

func (s *Session) handleReconnectTimer() {
	s.locked(func() {
		if s.intentional || s.destroyed {
			return
		}
		if !s.transitionLocked(ActionReconnect) {
			return
		}
		if s.pending == nil {
			s.pending = newCompletion()
		}
		s.openLocked()
	})
}

func (s *Session) disconnectLocked() {
	s.intentional = true
	s.guard.Disarm()
	s.scheduler.Cancel()
	if n := s.queue.Clear(); n > 0 {
		s.logger.Info("discarded queued messages", "count", n)
	}

	if s.socket != nil {
		s.transitionLocked(ActionDisconnect)
		s.socket.requestClose(CloseNormalClosure, "client disconnect")
		return
	}

	// No socket: cancel any dial and settle immediately.
	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}
	s.gen++
	if s.pending != nil {
		s.pending.resolve(ErrIntentionalDisconnect)
		s.pending = nil
	}
	if s.machine.Can(ActionDisconnect) {
		s.transitionLocked(ActionDisconnect)
	}
	s.transitionLocked(ActionDisconnected)
}

func (s *Session) sendLocked(payload any) error {
	st := s.machine.State()
	if s.destroyed {
		err := &SendError{State: st, Err: ErrSessionDestroyed}
		s.noteError(err)
		return err
	}

	if st == StateConnected && s.socket != nil {
		if err := s.writeLocked(payload); err != nil {
			se := &SendError{State: st, Err: err}
			s.noteError(se)
			return se
		}
		return nil
	}

	if s.cfg.Reconnect.Enabled && (st == StateConnecting || st == StateReconnecting) {
		msg := s.queue.Enqueue(payload)
		s.queued.Add(1)
		s.logger.Debug("message queued", "seq", msg.Seq, "state", st)
		return nil
	}

	err := &SendError{State: st, Err: ErrNotConnected}
	s.noteError(err)
	return err
}

func (s *Session) writeLocked(payload any) error {
	if s.socket == nil {
		return ErrNotConnected
	}
	data, err := protocol.Encode(payload)
	if err != nil {
		return err
	}
	if err := s.socket.write(data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	s.sent.Add(1)
	return nil
}

// handleFrame decodes one inbound frame and hands it to the consumer. It
// runs on the socket's read goroutine so frames keep transport order.
func (s *Session) handleFrame(gen uint64, messageType int, data []byte) {
	s.mu.Lock()
	if gen != s.gen || s.destroyed {
		s.mu.Unlock()
		return
	}
	consumer := s.consumer
	onMessage := s.callbacks.OnMessage
	onError := s.callbacks.OnError
	s.mu.Unlock()

	s.framesReceived.Add(1)

	var (
		f  protocol.Frame
		ok bool
	)
	if messageType == websocket.BinaryMessage {
		f, ok = protocol.DecodeBinary(data)
	} else {
		f, ok = protocol.DecodeText(data)
	}
	if !ok {
		s.decodeFallbacks.Add(1)
		s.logger.Debug("frame passed through undecoded", "bytes", len(data))
	}

	var errs []error
	if consumer != nil {
		if err := safeCall(f, func() error { return consumer.Consume(f) }); err != nil {
			errs = append(errs, err)
		}
	}
	if onMessage != nil {
		if err := safeCall(f, func() error { onMessage(f); return nil }); err != nil {
			errs = append(errs, err)
		}
	}

	for _, err := range errs {
		s.consumerErrors.Add(1)
		s.logger.Warn("frame consumer failed", "kind", f.Kind(), "error", err)
		if onError != nil {
			onError(err)
		}
	}
}

// safeCall runs fn and converts a returned error or panic into a
// ConsumerError.
func safeCall(f protocol.Frame, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ConsumerError{Kind: f.Kind(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if cerr := fn(); cerr != nil {
		return &ConsumerError{Kind: f.Kind(), Err: cerr}
	}
	return nil
}

func (s *Session) handleSocketError(gen uint64, err error) {
	s.locked(func() {
		if gen != s.gen {
			return
		}
		var se *SocketError
		if !errors.As(err, &se) {
			se = &SocketError{Err: err}
		}
		s.noteError(se)
	})
}

func (s *Session) handleSocketClose(gen uint64, code int, reason string) {
	s.locked(func() {
		if gen != s.gen {
			return
		}
		s.handleCloseLocked(code, reason)
	})
}
