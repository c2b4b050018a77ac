package transport

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryDelay is the one-shot retry interval the supervisor waits before
// re-attempting a failed connect/listen.
const RetryDelay = 2 * time.Second

// Attempter performs one role-specific connection attempt: connect for
// client roles, bind+listen+accept for server roles. It blocks until the
// attempt either succeeds and then the connection later drops (returning
// nil), or fails outright (returning a non-nil error). Either outcome
// causes the supervisor to reset and reschedule.
type Attempter interface {
	Attempt(ctx context.Context) error
}

// Supervisor drives a connection role through IDLE -> CONNECTING/LISTENING
// -> CONNECTED, always resetting before scheduling a new attempt so that
// partial state from a previous attempt never leaks into the next.
type Supervisor struct {
	log      *logrus.Entry
	attempt  Attempter
	onReset  func()
	cancel   context.CancelFunc
	runCtx   context.Context
}

// NewSupervisor builds a supervisor around an Attempter. onReset is called
// every time the supervisor resets, before scheduling the next attempt; it
// should release the role's socket/listener/timer state.
func NewSupervisor(log *logrus.Entry, attempt Attempter, onReset func()) *Supervisor {
	return &Supervisor{log: log, attempt: attempt, onReset: onReset}
}

// Start begins the IDLE -> retry-timer -> attempt loop. It runs until ctx
// is cancelled. Start must be preceded by (or itself performs) a Reset so
// that restarting after a failure never reuses stale state.
func (s *Supervisor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.runCtx = runCtx
	s.cancel = cancel

	go s.loop(runCtx)
}

func (s *Supervisor) loop(ctx context.Context) {
	for {
		s.Reset()

		select {
		case <-ctx.Done():
			return
		case <-time.After(RetryDelay):
		}

		err := s.attempt.Attempt(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.log.WithError(err).Info("attempt failed, retrying")
			continue
		}
		// Attempt returned nil: the connection ran to completion (peer
		// went down). Loop back around to reset + retry.
	}
}

// Reset releases supervisor-owned state; safe to call even when no attempt
// has ever succeeded.
func (s *Supervisor) Reset() {
	if s.onReset != nil {
		s.onReset()
	}
}

// Stop cancels the supervisor's retry loop and any in-flight attempt.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}
