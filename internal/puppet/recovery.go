package puppet

import (
	"context"

	"github.com/LinuxSuRen/wechaty/internal/metrics"
	"github.com/LinuxSuRen/wechaty/internal/types"
	"github.com/LinuxSuRen/wechaty/internal/watchdog"
)

// onConnectivityReset restarts the whole session. A failed restart is
// published and not retried.
func (s *Supervisor) onConnectivityReset(r watchdog.Reset) {
	if s.State() != StateLive {
		return
	}
	metrics.RecordWatchdogReset(r.Name)
	s.log.Warn("connectivity watchdog reset, restarting session",
		"last_food", r.Food.Data, "elapsed", r.Elapsed)

	ctx, cancel := context.WithTimeout(context.Background(), 2*s.cfg.OperationTimeout)
	defer cancel()

	// Stop always ends idle, so a failed quit does not block the restart.
	if err := s.Stop(ctx); err != nil {
		s.log.Warn("stop during restart", "error", err)
	}
	if err := s.Start(ctx); err != nil {
		// A failed init is already published by Start.
		if types.KindOf(err) != types.KindTransportInit {
			s.publishError(err)
		}
		metrics.RecordRecovery("restart", false)
		return
	}
	metrics.RecordRecovery("restart", true)
}

// onScanReset escalates from reload to reinit. When both fail the session
// is left errored until an external stop and start. The escalation is
// bound to the session it started in and gives up once that session
// has been stopped or restarted.
func (s *Supervisor) onScanReset(r watchdog.Reset) {
	s.recoverMu.Lock()
	defer s.recoverMu.Unlock()

	s.mu.Lock()
	epoch, b, live := s.epoch, s.bridge, s.state == StateLive
	s.mu.Unlock()
	if !live {
		return
	}
	metrics.RecordWatchdogReset(r.Name)
	log := s.log.With("epoch", epoch)
	log.Warn("scan watchdog reset", "last_food", r.Food.Data, "elapsed", r.Elapsed)

	ctx, cancel := context.WithTimeout(context.Background(), 2*s.cfg.OperationTimeout)
	defer cancel()

	if err := s.attempt(TierReload, func() error { return b.Reload(ctx) }); err == nil {
		return
	}
	if !s.current(epoch) {
		log.Info("session replaced during recovery, abandoning")
		return
	}
	cause := s.attempt(TierReinit, func() error { return s.reinit(ctx, epoch) })
	if cause == nil || !s.current(epoch) {
		return
	}
	s.exhaust(epoch, cause)
}

// current reports whether the session started as epoch is still live.
func (s *Supervisor) current(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch == epoch && s.state == StateLive
}

func (s *Supervisor) attempt(tier Tier, fn func() error) error {
	a := RecoveryAttempt{ID: types.NewAttemptID(), Tier: tier, Started: s.clock.Now()}
	log := s.log.With("attempt", a.ID, "tier", tier)
	log.Info("recovery attempt")

	a.Err = fn()
	metrics.RecordRecovery(tier.String(), a.Err == nil)
	if a.Err != nil {
		log.Error("recovery attempt failed", "error", a.Err)
	} else {
		log.Info("recovery attempt succeeded")
	}
	s.events.Recovery.Publish(a)
	return a.Err
}

// reinit quits the transport and initialises it again, or a replacement
// from the factory. Any failure here is fatal to the session.
func (s *Supervisor) reinit(ctx context.Context, epoch uint64) error {
	s.mu.Lock()
	if s.epoch != epoch || s.state != StateLive {
		s.mu.Unlock()
		return types.NewError(types.KindInvalidState, "reinit", "session replaced before reinit")
	}
	b, old := s.bridge, s.listener
	s.listener = nil
	s.mu.Unlock()

	// No restart may race the reinit.
	s.connectivity.Sleep()
	if old != nil {
		old.close()
		old.drain()
		b.Detach(old)
	}
	if err := b.Quit(ctx); err != nil {
		return types.WrapError(types.KindTransportInit, "reinit: quit", err)
	}
	if s.factory != nil {
		nb, err := s.factory()
		if err != nil {
			return types.WrapError(types.KindTransportInit, "reinit: factory", err)
		}
		b = nb
	}

	l := newSessionListener(s)
	s.mu.Lock()
	if s.epoch != epoch || s.state != StateLive {
		s.mu.Unlock()
		return types.NewError(types.KindInvalidState, "reinit", "session stopped during recovery")
	}
	s.bridge = b
	s.listener = l
	s.mu.Unlock()

	b.Attach(l)
	if err := b.Init(ctx); err != nil {
		l.close()
		if qerr := b.Quit(ctx); qerr != nil {
			s.log.Warn("quit after failed reinit", "error", qerr)
		}
		b.Detach(l)
		s.mu.Lock()
		if s.listener == l {
			s.listener = nil
		}
		s.mu.Unlock()
		return types.WrapError(types.KindTransportInit, "reinit: init", err)
	}

	s.connectivity.Wake()
	s.connectivity.Feed(watchdog.Food{Data: "reinited", Timeout: s.cfg.FirstLoginTimeout})
	return nil
}

func (s *Supervisor) exhaust(epoch uint64, cause error) {
	s.mu.Lock()
	if s.epoch != epoch || s.state != StateLive {
		s.mu.Unlock()
		return
	}
	s.connectivity.Sleep()
	s.scanDog.Sleep()
	change := s.setStateLocked(StateErrored)
	persist, runner := s.persist, s.keepalive
	s.persist, s.keepalive = nil, nil
	s.mu.Unlock()
	s.events.StateChange.Publish(change)

	if runner != nil {
		runner.Stop()
	}
	if persist != nil {
		persist.Stop()
	}
	s.publishError(&types.Error{
		Kind:    types.KindRecoveryExhausted,
		Op:      "scan recovery",
		Message: "reload and reinit both failed",
		Cause:   cause,
	})
}
