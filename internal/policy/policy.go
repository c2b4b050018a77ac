// Package policy implements the per-destination filter/set/strip engine
// that runs between the dispatcher and a role's notify entry point.
package policy

import (
	"github.com/nlagent/nlagentd/internal/agent"
	"github.com/nlagent/nlagentd/internal/config"
)

// Engine evaluates each destination's configured policy over a cloned
// event. It implements agent.PolicyEvaluator.
type Engine struct {
	cfg *config.Config
}

// New builds an Engine over the resolved configuration.
func New(cfg *config.Config) *Engine {
	return &Engine{cfg: cfg}
}

// Evaluate clones ev, then runs filter, set, and strip transforms for dest
// in order. It returns (clone, false) when a filter rejects the message —
// callers must not deliver in that case.
func (e *Engine) Evaluate(dest config.ModuleID, ev agent.EventInfo) (agent.EventInfo, bool) {
	clone := ev.Clone()

	if clone.Kind != config.Write && clone.Kind != config.GetAll {
		return clone, true
	}

	msg, err := parseRouteMessage(clone.Msg)
	if err != nil {
		// Not a parseable route message (e.g. a test fixture payload): pass
		// through unfiltered rather than drop it silently.
		return clone, true
	}

	policies := e.cfg.Modules[dest].Policy

	if !matchFilter(policies[config.FilterFamily], int(msg.rtmFamily())) {
		return clone, false
	}
	if !matchFilter(policies[config.FilterTable], int(msg.rtmTable())) {
		return clone, false
	}
	if !matchFilter(policies[config.FilterProtocol], int(msg.rtmProtocol())) {
		return clone, false
	}

	// Set: last value wins. The original implementation's SET_TABLE branch
	// wrote into rtm_protocol instead of rtm_table; this is corrected here
	// to write rtm_table, per the resolved open question (see DESIGN.md).
	for _, v := range policies[config.SetTable] {
		msg.setRTMTable(uint8(v))
	}
	for _, v := range policies[config.SetProtocol] {
		msg.setRTMProtocol(uint8(v))
	}

	for _, t := range policies[config.StripRTAttr] {
		msg.stripAttr(uint16(t))
	}

	clone.Msg = msg.bytes()
	return clone, true
}

// matchFilter implements the empty-list-accepts-all rule shared by all
// three filter kinds.
func matchFilter(list []int, value int) bool {
	if len(list) == 0 {
		return true
	}
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
