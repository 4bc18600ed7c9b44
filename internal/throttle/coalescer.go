// Package throttle coalesces bursts of updates into one flush per window.
package throttle

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Coalescer flushes at most once per window. The first Mark of a window
// arms the timer; the last value marked before the window closes is the
// one flushed.
type Coalescer[T any] struct {
	window time.Duration
	flush  func(T)
	clock  clockwork.Clock

	mu      sync.Mutex
	pending bool
	value   T
	timer   clockwork.Timer
	stopped bool
}

// New creates a coalescer. A nil clock uses the wall clock.
func New[T any](window time.Duration, clock clockwork.Clock, flush func(T)) *Coalescer[T] {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Coalescer[T]{window: window, flush: flush, clock: clock}
}

// Mark records v as the latest value.
func (c *Coalescer[T]) Mark(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.value = v
	if c.pending {
		return
	}
	c.pending = true
	c.timer = c.clock.AfterFunc(c.window, c.fire)
}

func (c *Coalescer[T]) fire() {
	c.mu.Lock()
	if !c.pending || c.stopped {
		c.mu.Unlock()
		return
	}
	v := c.value
	c.pending = false
	c.timer = nil
	c.mu.Unlock()
	c.flush(v)
}

// Flush writes a pending value immediately and reports whether one existed.
func (c *Coalescer[T]) Flush() bool {
	c.mu.Lock()
	if !c.pending {
		c.mu.Unlock()
		return false
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	v := c.value
	c.pending = false
	c.mu.Unlock()
	c.flush(v)
	return true
}

// Stop drops any pending value. Later marks are ignored.
func (c *Coalescer[T]) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	c.pending = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
