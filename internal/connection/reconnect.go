package connection

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// BackoffDelay returns the delay before retry number attempt (0-based):
// BaseInterval * Decay^attempt, capped at MaxDelay.
func BackoffDelay(cfg ReconnectConfig, attempt int) time.Duration {
	if cfg.BaseInterval <= 0 {
		return 0
	}
	decay := cfg.Decay
	if decay < 1.0 {
		decay = 1.0
	}
	delay := float64(cfg.BaseInterval) * math.Pow(decay, float64(attempt))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}

// ReconnectScheduler decides whether to retry after a close and owns the
// retry timer.
type ReconnectScheduler struct {
	cfg    ReconnectConfig
	logger *slog.Logger

	mu       sync.Mutex
	attempts int
	timer    *time.Timer
	gen      uint64
}

// NewReconnectScheduler creates a scheduler.
func NewReconnectScheduler(cfg ReconnectConfig, logger *slog.Logger) *ReconnectScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconnectScheduler{
		cfg:    cfg,
		logger: logger,
	}
}

// ShouldReconnect reports whether a close with the given code may be
// retried.
func (r *ReconnectScheduler) ShouldReconnect(code int, intentional bool) bool {
	if intentional && code == CloseNormalClosure {
		return false
	}

	r.mu.Lock()
	attempts := r.attempts
	r.mu.Unlock()

	if attempts >= r.cfg.MaxAttempts {
		return false
	}
	if !IsRetryableClose(code) {
		return false
	}
	return r.cfg.Enabled
}

// Schedule arms the retry timer and counts one attempt. It returns false
// without doing anything if a timer is already pending.
func (r *ReconnectScheduler) Schedule(fire func()) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer != nil {
		return 0, false
	}

	delay := BackoffDelay(r.cfg, r.attempts)
	r.attempts++
	r.gen++
	gen := r.gen

	r.logger.Info("reconnect scheduled",
		"attempt", r.attempts,
		"max_attempts", r.cfg.MaxAttempts,
		"delay", delay,
	)

	r.timer = time.AfterFunc(delay, func() {
		r.mu.Lock()
		if r.gen != gen || r.timer == nil {
			r.mu.Unlock()
			return
		}
		r.timer = nil
		r.mu.Unlock()

		fire()
	})

	return delay, true
}

// Pending reports whether a retry timer is armed.
func (r *ReconnectScheduler) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timer != nil
}

// Cancel stops a pending retry timer.
func (r *ReconnectScheduler) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.gen++
}

// Reset zeroes the attempt counter after a successful open.
func (r *ReconnectScheduler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = 0
}

// Attempts returns the number of retries scheduled since the last open.
func (r *ReconnectScheduler) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// MaxAttempts returns the configured retry budget.
func (r *ReconnectScheduler) MaxAttempts() int {
	return r.cfg.MaxAttempts
}
