package connection

import (
	"sync"
	"time"
)

// TimeoutGuard is a single-shot watchdog for one connect attempt.
type TimeoutGuard struct {
	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	pending func() bool // true while the attempt is still in flight
}

// NewTimeoutGuard creates a guard. pending is consulted when the timer fires;
// onTimeout runs only if it returns true.
func NewTimeoutGuard(pending func() bool) *TimeoutGuard {
	return &TimeoutGuard{pending: pending}
}

// Arm starts the watchdog, replacing any previous arm.
func (g *TimeoutGuard) Arm(d time.Duration, onTimeout func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.timer != nil {
		g.timer.Stop()
	}
	g.gen++
	gen := g.gen

	g.timer = time.AfterFunc(d, func() {
		g.mu.Lock()
		if g.gen != gen || g.timer == nil {
			g.mu.Unlock()
			return
		}
		g.timer = nil
		g.mu.Unlock()

		if g.pending == nil || g.pending() {
			onTimeout()
		}
	})
}

// Disarm cancels the watchdog. Safe to call when not armed.
func (g *TimeoutGuard) Disarm() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.gen++
}

// Armed reports whether a timer is pending.
func (g *TimeoutGuard) Armed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.timer != nil
}
