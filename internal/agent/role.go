package agent

import "github.com/nlagent/nlagentd/internal/config"

// Role is the capability set every role adapter implements, replacing the
// original's per-module function-pointer vector. The dispatcher holds the
// set of live role handles; it never reaches into adapter-private state.
type Role interface {
	// Module returns this role's stable identity.
	Module() config.ModuleID

	// Init is invoked once every enabled role that subscribes to this module
	// is up (or exempted by a mutual-subscription cycle). It should begin whatever
	// connection attempt or socket setup the role needs.
	Init()

	// Reset releases all of the role's live resources (timers, sockets,
	// listeners) and must be safe to call on a role that was never
	// successfully initialized. A subsequent Init must be callable.
	Reset()

	// InitFlash is invoked when this role and every one of its subscribers
	// are up; it should issue a full dump of current state to subscribers.
	InitFlash()

	// Notify delivers an event raised by role `from`, already cloned and
	// passed through this module's policy.
	Notify(from config.ModuleID, ev EventInfo)
}

// PolicyEvaluator runs a destination's configured policy over an event,
// returning the transformed clone and whether the destination should
// receive it at all.
type PolicyEvaluator interface {
	Evaluate(dest config.ModuleID, ev EventInfo) (EventInfo, bool)
}
