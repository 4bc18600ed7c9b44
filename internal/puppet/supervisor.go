// Package puppet supervises one browser-driven chat session and exposes
// the outbound operations built on top of it.
//
// The Supervisor owns the session state machine and two watchdogs. The
// connectivity watchdog is fed by every transport event and restarts the
// session when it starves. The scan watchdog is fed by scan, login and
// logout events, sleeps while a user is logged in, and escalates through
// reload and reinit when the QR page goes stale.
package puppet

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/LinuxSuRen/wechaty/internal/bridge"
	"github.com/LinuxSuRen/wechaty/internal/events"
	"github.com/LinuxSuRen/wechaty/internal/keepalive"
	"github.com/LinuxSuRen/wechaty/internal/metrics"
	"github.com/LinuxSuRen/wechaty/internal/normalize"
	"github.com/LinuxSuRen/wechaty/internal/throttle"
	"github.com/LinuxSuRen/wechaty/internal/types"
	"github.com/LinuxSuRen/wechaty/internal/watchdog"
	"github.com/LinuxSuRen/wechaty/internal/webschema"
)

// CookieSaver persists the session cookie jar.
type CookieSaver interface {
	SaveCookies(ctx context.Context, cookies []webschema.Cookie) error
}

// Events are the observable notifications of a session. Delivery is
// synchronous and in registration order; handlers must not block.
type Events struct {
	Login       events.Bus[string]
	Logout      events.Bus[string]
	Scan        events.Bus[webschema.ScanData]
	Message     events.Bus[*types.Message]
	Error       events.Bus[error]
	Heartbeat   events.Bus[string]
	StateChange events.Bus[StateChange]
	Recovery    events.Bus[RecoveryAttempt]
}

type Option func(*options)

type options struct {
	clock         clockwork.Clock
	factory       bridge.Factory
	saver         CookieSaver
	maxConcurrent int64
	inboundSize   int
	httpClient    *http.Client
	normalizeOpts []normalize.Option
}

func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithFactory lets hard recovery replace the transport instead of
// reinitialising the same one.
func WithFactory(f bridge.Factory) Option {
	return func(o *options) { o.factory = f }
}

func WithCookieSaver(s CookieSaver) Option {
	return func(o *options) { o.saver = s }
}

// WithMaxConcurrent bounds how many destinations are served at once.
func WithMaxConcurrent(n int64) Option {
	return func(o *options) { o.maxConcurrent = n }
}

// WithHTTPClient sets the client used for uploads and avatar fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithNormalizeOptions tunes message, contact and room normalization.
func WithNormalizeOptions(opts ...normalize.Option) Option {
	return func(o *options) { o.normalizeOpts = append(o.normalizeOpts, opts...) }
}

func newOptions(opts []Option) options {
	o := options{
		clock:         clockwork.NewRealClock(),
		maxConcurrent: 4,
		inboundSize:   256,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Supervisor drives the session lifecycle.
type Supervisor struct {
	cfg     Config
	clock   clockwork.Clock
	factory bridge.Factory
	saver   CookieSaver
	log     *slog.Logger
	events  *Events

	connectivity *watchdog.Watchdog
	scanDog      *watchdog.Watchdog

	mu        sync.Mutex
	state     State
	since     time.Time
	bridge    bridge.Bridge
	listener  *sessionListener
	userID    string
	scan      *ScanState
	stopDone  chan struct{}
	epoch     uint64
	persist   *throttle.Coalescer[string]
	keepalive *keepalive.Runner

	// recoverMu keeps scan recoveries from overlapping.
	recoverMu sync.Mutex
	onMessage func(webschema.RawMessage)
}

// NewSupervisor creates an idle supervisor around b.
func NewSupervisor(b bridge.Bridge, cfg Config, opts ...Option) (*Supervisor, error) {
	o := newOptions(opts)
	return newSupervisor(b, cfg, o)
}

func newSupervisor(b bridge.Bridge, cfg Config, o options) (*Supervisor, error) {
	if b == nil {
		return nil, fmt.Errorf("puppet: bridge is required")
	}
	cfg = cfg.withDefaults()
	if cfg.KeepaliveSchedule != "" {
		if err := keepalive.Validate(cfg.KeepaliveSchedule); err != nil {
			return nil, err
		}
	}
	s := &Supervisor{
		cfg:     cfg,
		clock:   o.clock,
		factory: o.factory,
		saver:   o.saver,
		log:     slog.With("component", "puppet"),
		events:  &Events{},
		bridge:  b,
		state:   StateIdle,
		since:   o.clock.Now(),
	}
	s.connectivity = watchdog.New("connectivity", cfg.ConnectivityTimeout, watchdog.WithClock(o.clock))
	s.scanDog = watchdog.New("scan", cfg.ScanTimeout, watchdog.WithClock(o.clock))
	s.connectivity.Sleep()
	s.scanDog.Sleep()

	// Reset handlers run on their own goroutine: the timer callback must
	// return before the recovery path feeds the same clock again.
	s.connectivity.OnReset(func(r watchdog.Reset) { go s.onConnectivityReset(r) })
	s.scanDog.OnReset(func(r watchdog.Reset) { go s.onScanReset(r) })
	s.connectivity.OnFeed(func(f watchdog.Food) {
		data := fmt.Sprint(f.Data)
		s.events.Heartbeat.Publish(data)
		s.mu.Lock()
		persist := s.persist
		s.mu.Unlock()
		if persist != nil {
			persist.Mark(data)
		}
	})
	return s, nil
}

// Events returns the notification buses.
func (s *Supervisor) Events() *Events { return s.events }

// Bridge returns the current transport. Hard recovery may replace it.
func (s *Supervisor) Bridge() bridge.Bridge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bridge
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Live reports whether the session is running.
func (s *Supervisor) Live() bool { return s.State() == StateLive }

// UserID returns the logged-in identity, or "".
func (s *Supervisor) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Supervisor) Status() Status {
	s.mu.Lock()
	st := Status{State: s.state, UserID: s.userID, Since: s.since}
	if s.scan != nil {
		scan := *s.scan
		st.Scan = &scan
	}
	s.mu.Unlock()
	st.ConnectivityDue = s.connectivity.Left()
	st.ScanDue = s.scanDog.Left()
	st.ScanSleeping = s.scanDog.Sleeping()
	return st
}

// setStateLocked must be called with s.mu held. The returned change is
// published by the caller once the lock is released.
func (s *Supervisor) setStateLocked(to State) StateChange {
	change := StateChange{From: s.state, To: to, At: s.clock.Now()}
	s.state = to
	s.since = change.At
	metrics.RecordStateTransition(change.From.String(), to.String())
	s.log.Debug("state change", "from", change.From, "to", to)
	return change
}

func (s *Supervisor) publishError(err error) {
	s.log.Error("session error", "error", err, "kind", types.KindOf(err))
	s.events.Error.Publish(err)
}

// Start initialises the transport and brings the session live.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return types.NewError(types.KindInvalidState, "start", "session is %s", state)
	}
	s.epoch++
	epoch := s.epoch
	change := s.setStateLocked(StateInitializing)
	b := s.bridge
	l := newSessionListener(s)
	s.listener = l
	s.mu.Unlock()
	s.events.StateChange.Publish(change)

	s.log.Info("starting session")
	b.Attach(l)
	initErr := b.Init(ctx)

	s.mu.Lock()
	if s.epoch != epoch || s.state != StateInitializing {
		s.mu.Unlock()
		return types.NewError(types.KindInvalidState, "start", "session stopped during init")
	}
	if initErr != nil {
		change := s.setStateLocked(StateErrored)
		s.mu.Unlock()
		s.events.StateChange.Publish(change)

		err := types.WrapError(types.KindTransportInit, "start", initErr)
		s.publishError(err)
		if stopErr := s.Stop(ctx); stopErr != nil {
			s.log.Warn("quit after failed init", "error", stopErr)
		}
		return err
	}

	var runner *keepalive.Runner
	if s.cfg.KeepaliveSchedule != "" {
		// Validated in the constructor.
		runner, _ = keepalive.New(s.cfg.KeepaliveSchedule, s, s.cfg.OperationTimeout)
	}
	s.persist = throttle.New(s.cfg.PersistWindow, s.clock, s.flushCookies)
	s.keepalive = runner
	change = s.setStateLocked(StateLive)
	s.mu.Unlock()
	s.events.StateChange.Publish(change)

	s.scanDog.Wake()
	s.connectivity.Wake()
	s.connectivity.Feed(watchdog.Food{Data: "inited", Timeout: s.cfg.FirstLoginTimeout})
	if runner != nil {
		runner.Start()
	}
	s.log.Info("session live")
	return nil
}

// Stop quits the transport and returns the session to idle. It is safe
// to call repeatedly; a call made while another stop runs waits for it.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.mu.Unlock()
		return nil
	case StateStopping:
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	change := s.setStateLocked(StateStopping)
	done := make(chan struct{})
	s.stopDone = done
	b, l := s.bridge, s.listener
	persist, runner := s.persist, s.keepalive
	s.listener, s.persist, s.keepalive = nil, nil, nil
	s.mu.Unlock()
	defer close(done)
	s.events.StateChange.Publish(change)

	s.log.Info("stopping session")
	s.connectivity.Sleep()
	s.scanDog.Sleep()
	if runner != nil {
		runner.Stop()
	}
	if persist != nil {
		persist.Flush()
		persist.Stop()
	}

	quitErr := b.Quit(ctx)
	if l != nil {
		l.close()
		go func() {
			l.drain()
			b.Detach(l)
		}()
	}

	s.mu.Lock()
	s.userID = ""
	s.scan = nil
	change = s.setStateLocked(StateIdle)
	s.mu.Unlock()
	s.events.StateChange.Publish(change)

	if quitErr != nil {
		return types.WrapError(types.KindTransportInit, "stop", quitErr)
	}
	return nil
}

// Login records the identity of the logged-in user.
func (s *Supervisor) Login(userID string) {
	s.mu.Lock()
	s.userID = userID
	s.scan = nil
	s.mu.Unlock()
	s.log.Info("logged in", "user_id", userID)
	s.events.Login.Publish(userID)
}

// Logout asks the transport to log out. The local identity is cleared
// and the logout published even when the transport call fails.
func (s *Supervisor) Logout(ctx context.Context) error {
	s.mu.Lock()
	userID := s.userID
	b := s.bridge
	s.mu.Unlock()
	if userID == "" {
		return types.NewError(types.KindInvalidState, "logout", "no user is logged in")
	}

	err := b.Logout(ctx)
	s.clearIdentity(userID)
	if err != nil {
		return types.WrapError(types.KindTransport, "logout", err)
	}
	return nil
}

func (s *Supervisor) clearIdentity(userID string) {
	s.mu.Lock()
	if s.userID == userID {
		s.userID = ""
	}
	s.mu.Unlock()
	s.log.Info("logged out", "user_id", userID)
	s.events.Logout.Publish(userID)
}

func (s *Supervisor) recordScan(data webschema.ScanData) {
	s.mu.Lock()
	s.scan = &ScanState{Code: data.Code, URL: data.URL, QRCode: data.QRCode, At: s.clock.Now()}
	s.mu.Unlock()
	s.events.Scan.Publish(data)
}

// SaveCookies writes the current cookie jar through the configured saver.
func (s *Supervisor) SaveCookies(ctx context.Context) error {
	if s.saver == nil {
		return nil
	}
	cookies, err := s.Bridge().Cookies(ctx)
	if err != nil {
		metrics.RecordCookieSave(false)
		return types.WrapError(types.KindTransport, "save cookies", err)
	}
	if err := s.saver.SaveCookies(ctx, cookies); err != nil {
		metrics.RecordCookieSave(false)
		return fmt.Errorf("save cookies: %w", err)
	}
	metrics.RecordCookieSave(true)
	s.log.Debug("cookies saved", "count", len(cookies))
	return nil
}

func (s *Supervisor) flushCookies(trigger string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.OperationTimeout)
	defer cancel()
	if err := s.SaveCookies(ctx); err != nil {
		s.log.Warn("cookie save failed", "trigger", trigger, "error", err)
	}
}

// Ding asks the transport to echo data back as a ding event.
func (s *Supervisor) Ding(ctx context.Context, data string) error {
	if err := s.Bridge().Ding(ctx, data); err != nil {
		return types.WrapError(types.KindTransport, "ding", err)
	}
	return nil
}

var allContacts = bridge.Matches(bridge.FieldNickName, regexp.MustCompile(`.*`))

// ReadyStable waits until two consecutive contact counts, sampled
// StableInterval apart, are equal and non-zero.
func (s *Supervisor) ReadyStable(ctx context.Context) error {
	timeout := s.clock.NewTimer(s.cfg.StableTimeout)
	defer timeout.Stop()

	last := -1
	for {
		ids, err := s.Bridge().ContactFind(ctx, allContacts)
		if err != nil {
			return types.WrapError(types.KindTransport, "ready stable", err)
		}
		n := len(ids)
		if n > 0 && n == last {
			s.log.Debug("contact list stable", "count", n)
			return nil
		}
		last = n

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.Chan():
			return types.NewError(types.KindStabilizationTimeout, "ready stable",
				"contact count not stable after %s, last count %d", s.cfg.StableTimeout, last)
		case <-s.clock.After(s.cfg.StableInterval):
		}
	}
}
