package station

import (
	"time"

	"go.uber.org/zap"
)

// deferredCall is a named one-shot callback scheduled on a session.
//
// Invariant: cancelled is only read or written while the owning slot's lock
// is held.
type deferredCall struct {
	name      string
	timer     *time.Timer
	cancelled bool
}

func (d *deferredCall) stop() {
	d.cancelled = true
	d.timer.Stop()
}

// After schedules fn to run once after delay under the session's
// single-writer lock. Scheduling a name that is already pending replaces the
// pending callback.
//
// Precondition: delay >= 0; fn must not be nil.
// Postcondition: fn runs at most once, and never after Cancel(name), a
// re-initialize, round end, or destruction of this session.
func (s *Session[S, M]) After(name string, delay time.Duration, fn func(*Session[S, M])) {
	s.Cancel(name)
	call := &deferredCall{name: name}
	sl := s.slot
	call.timer = time.AfterFunc(delay, func() {
		sl.mu.Lock()
		defer sl.mu.Unlock()
		if call.cancelled || sl.sess != s || s.timers[name] != call {
			return
		}
		delete(s.timers, name)
		s.logger.Debug("deferred callback fired", zap.String("timer", name))
		fn(s)
	})
	s.timers[name] = call
}

// Cancel stops the named callback. It reports whether a pending callback was
// cancelled.
func (s *Session[S, M]) Cancel(name string) bool {
	call, ok := s.timers[name]
	if !ok {
		return false
	}
	call.stop()
	delete(s.timers, name)
	return true
}

// Pending reports whether the named callback is scheduled and not yet fired.
func (s *Session[S, M]) Pending(name string) bool {
	_, ok := s.timers[name]
	return ok
}

// cancelAllLocked stops every pending callback of the session.
//
// Caller must hold the session slot lock.
func (s *Session[S, M]) cancelAllLocked() {
	for name, call := range s.timers {
		call.stop()
		delete(s.timers, name)
	}
}
