// Package keepalive pings the transport on a cron schedule so an idle
// session keeps producing events for the connectivity watchdog.
package keepalive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Pinger is the slice of the supervisor the runner drives.
type Pinger interface {
	Ding(ctx context.Context, data string) error
	Live() bool
}

// Runner fires Ding on every tick of its schedule while the pinger is live.
type Runner struct {
	pinger  Pinger
	cron    *cron.Cron
	timeout time.Duration
	log     *slog.Logger
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate reports whether schedule parses.
func Validate(schedule string) error {
	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid keepalive schedule %q: %w", schedule, err)
	}
	return nil
}

// New creates a stopped runner. Each ding is bounded by timeout.
func New(schedule string, p Pinger, timeout time.Duration) (*Runner, error) {
	r := &Runner{
		pinger:  p,
		cron:    cron.New(cron.WithParser(cronParser)),
		timeout: timeout,
		log:     slog.With("component", "keepalive"),
	}
	if _, err := r.cron.AddFunc(schedule, r.Tick); err != nil {
		return nil, fmt.Errorf("invalid keepalive schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Start starts the cron ticker.
func (r *Runner) Start() {
	r.cron.Start()
	r.log.Debug("keepalive started")
}

// Stop stops the ticker and waits for a running tick to return.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
}

// Tick sends one ding when the session is live.
func (r *Runner) Tick() {
	if !r.pinger.Live() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	data := "keepalive " + time.Now().UTC().Format(time.RFC3339)
	if err := r.pinger.Ding(ctx, data); err != nil {
		r.log.Warn("keepalive ding failed", "error", err)
	}
}
