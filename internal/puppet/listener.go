package puppet

import (
	"sync"
	"sync/atomic"

	"github.com/LinuxSuRen/wechaty/internal/metrics"
	"github.com/LinuxSuRen/wechaty/internal/types"
	"github.com/LinuxSuRen/wechaty/internal/watchdog"
	"github.com/LinuxSuRen/wechaty/internal/webschema"
)

// sessionListener is the narrow callback surface handed to the bridge.
// One listener is attached per start; once closed it drops every event.
type sessionListener struct {
	s      *Supervisor
	closed atomic.Bool
	// mu is read-held for the duration of each callback so drain can
	// wait for in-flight callbacks.
	mu sync.RWMutex
}

func newSessionListener(s *Supervisor) *sessionListener {
	return &sessionListener{s: s}
}

func (l *sessionListener) enter(event string) bool {
	if l.closed.Load() {
		return false
	}
	l.mu.RLock()
	if l.closed.Load() {
		l.mu.RUnlock()
		return false
	}
	metrics.RecordTransportEvent(event)
	return true
}

func (l *sessionListener) leave() { l.mu.RUnlock() }

func (l *sessionListener) close() { l.closed.Store(true) }

// drain blocks until no callback is running.
func (l *sessionListener) drain() {
	l.mu.Lock()
	defer l.mu.Unlock()
}

func (l *sessionListener) feed(data any) {
	l.s.connectivity.Feed(watchdog.Food{Data: data})
}

func (l *sessionListener) OnLogin(userID string) {
	if !l.enter("login") {
		return
	}
	defer l.leave()
	l.feed("login")
	l.s.scanDog.Feed(watchdog.Food{Data: "login " + userID})
	// QR staleness is irrelevant once logged in.
	l.s.scanDog.Sleep()
	l.s.Login(userID)
}

func (l *sessionListener) OnLogout(userID string) {
	if !l.enter("logout") {
		return
	}
	defer l.leave()
	l.feed("logout")
	l.s.scanDog.Wake()
	l.s.scanDog.Feed(watchdog.Food{Data: "logout " + userID})
	l.s.clearIdentity(userID)
}

func (l *sessionListener) OnScan(data webschema.ScanData) {
	if !l.enter("scan") {
		return
	}
	defer l.leave()
	l.feed("scan")
	l.s.scanDog.Feed(watchdog.Food{Data: data})
	l.s.recordScan(data)
}

func (l *sessionListener) OnMessage(msg webschema.RawMessage) {
	if !l.enter("message") {
		return
	}
	defer l.leave()
	l.feed("message " + msg.MsgID)
	if fn := l.s.onMessage; fn != nil {
		fn(msg)
	}
}

func (l *sessionListener) OnError(err error) {
	if !l.enter("error") {
		return
	}
	defer l.leave()
	l.feed("error")
	l.s.publishError(types.WrapError(types.KindTransport, "bridge", err))
}

func (l *sessionListener) OnUnload() {
	if !l.enter("unload") {
		return
	}
	defer l.leave()
	l.feed("unload")
	l.s.log.Warn("page unloaded")
}

func (l *sessionListener) OnDing(data string) {
	if !l.enter("ding") {
		return
	}
	defer l.leave()
	l.feed(data)
}

func (l *sessionListener) OnLog(text string) {
	if !l.enter("log") {
		return
	}
	defer l.leave()
	l.s.log.Debug("bridge log", "text", text)
}
