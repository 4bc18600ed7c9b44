// Package watchdog implements a feed-or-reset timer.
//
// A Watchdog is armed by Feed and fires its reset notification once if no
// further feed arrives before the deadline. A sleeping watchdog ignores
// feeds and never fires until Wake is called.
package watchdog

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/LinuxSuRen/wechaty/internal/events"
)

// Food is one unit of activity fed to a watchdog. A zero Timeout means the
// watchdog's default applies.
type Food struct {
	Data    any
	Timeout time.Duration
}

// Reset is delivered when a watchdog expires.
type Reset struct {
	Name    string
	Food    Food
	Elapsed time.Duration
}

type Option func(*Watchdog)

// WithClock replaces the wall clock, typically with a clockwork.FakeClock.
func WithClock(c clockwork.Clock) Option {
	return func(w *Watchdog) { w.clock = c }
}

type Watchdog struct {
	name           string
	defaultTimeout time.Duration
	clock          clockwork.Clock
	log            *slog.Logger

	mu       sync.Mutex
	timer    clockwork.Timer
	gen      uint64
	sleeping bool
	food     Food
	fedAt    time.Time
	deadline time.Time

	resets events.Bus[Reset]
	feeds  events.Bus[Food]
}

// New creates an awake, unarmed watchdog.
func New(name string, defaultTimeout time.Duration, opts ...Option) *Watchdog {
	w := &Watchdog{
		name:           name,
		defaultTimeout: defaultTimeout,
		clock:          clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = slog.With("component", "watchdog", "watchdog", name)
	return w
}

func (w *Watchdog) Name() string { return w.name }

// Feed records food and pushes the deadline to now plus its timeout.
// It reports false when the watchdog is asleep and the food was dropped.
func (w *Watchdog) Feed(food Food) bool {
	w.mu.Lock()
	if w.sleeping {
		w.mu.Unlock()
		return false
	}
	if food.Timeout <= 0 {
		food.Timeout = w.defaultTimeout
	}
	w.stopLocked()
	w.gen++
	gen := w.gen
	w.food = food
	w.fedAt = w.clock.Now()
	w.deadline = w.fedAt.Add(food.Timeout)
	w.timer = w.clock.AfterFunc(food.Timeout, func() { w.expire(gen) })
	w.mu.Unlock()

	w.feeds.Publish(food)
	return true
}

// Sleep disarms the watchdog. Feeds are ignored until Wake.
func (w *Watchdog) Sleep() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sleeping {
		return
	}
	w.sleeping = true
	w.stopLocked()
	w.gen++
	w.log.Debug("watchdog sleeping")
}

// Wake lets the watchdog accept feeds again. It does not arm by itself.
func (w *Watchdog) Wake() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.sleeping {
		return
	}
	w.sleeping = false
	w.log.Debug("watchdog awake")
}

// OnReset registers fn for expiry notifications.
func (w *Watchdog) OnReset(fn func(Reset)) (cancel func()) {
	return w.resets.Subscribe(fn)
}

// OnFeed registers fn for every accepted feed.
func (w *Watchdog) OnFeed(fn func(Food)) (cancel func()) {
	return w.feeds.Subscribe(fn)
}

func (w *Watchdog) Sleeping() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sleeping
}

// Armed reports whether a reset is pending.
func (w *Watchdog) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timer != nil
}

// Left returns the time remaining before expiry, or zero when unarmed.
func (w *Watchdog) Left() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer == nil {
		return 0
	}
	left := w.deadline.Sub(w.clock.Now())
	if left < 0 {
		return 0
	}
	return left
}

// LastFood returns the most recently accepted food.
func (w *Watchdog) LastFood() Food {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.food
}

func (w *Watchdog) expire(gen uint64) {
	w.mu.Lock()
	if gen != w.gen || w.sleeping {
		w.mu.Unlock()
		return
	}
	w.gen++
	w.timer = nil
	r := Reset{Name: w.name, Food: w.food, Elapsed: w.deadline.Sub(w.fedAt)}
	w.mu.Unlock()

	w.log.Info("watchdog reset", "elapsed", r.Elapsed, "food", r.Food.Data)
	w.resets.Publish(r)
}

func (w *Watchdog) stopLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
