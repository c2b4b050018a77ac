// Package agent implements the module lifecycle and event-dispatch engine:
// dependency-aware init, connection-state tracking, subscription-based
// fan-out, and reinit-on-failure.
package agent

import "github.com/nlagent/nlagentd/internal/config"

// EventInfo carries one event through the dispatcher. Msg is owned by the
// event; the dispatcher hands it to the PolicyEvaluator as is, and the
// policy engine (policy.Engine.Evaluate) clones it before transforming it for
// a destination, so that transformation never mutates the source's copy.
type EventInfo struct {
	Kind config.EventKind
	Msg  []byte
}

// Clone returns a deep copy of ev, used by the policy engine at the start of
// per-destination evaluation so each destination's transform is isolated
// from the others.
func (ev EventInfo) Clone() EventInfo {
	msg := make([]byte, len(ev.Msg))
	copy(msg, ev.Msg)
	return EventInfo{Kind: ev.Kind, Msg: msg}
}

// ConnState is a module's connection state: DOWN initially, UP once its
// transport has a live peer.
type ConnState int

const (
	Down ConnState = iota
	Up
)

func (s ConnState) String() string {
	if s == Up {
		return "UP"
	}
	return "DOWN"
}
