package agent

import (
	"context"
	"sync"
	"time"

	"github.com/nlagent/nlagentd/internal/config"
	"github.com/sirupsen/logrus"
)

// Agent is the explicit context every component is built against, replacing
// the original's global module table and runtime globals. Tests build
// independent agents rather than relying on process-wide state.
type Agent struct {
	log     *logrus.Entry
	cfg     *config.Config
	policy  PolicyEvaluator
	metrics *Metrics

	roles [config.ModuleAll]Role
	state [config.ModuleAll]ConnState

	events chan notifyReq

	mu            sync.Mutex
	reinitPending bool
	reinitFire    chan struct{}
}

type notifyReq struct {
	from config.ModuleID
	ev   EventInfo
}

// New builds an Agent over the resolved configuration. Roles are registered
// afterward with Register; the event loop is started with Run.
func New(cfg *config.Config, policy PolicyEvaluator, log *logrus.Entry, metrics *Metrics) *Agent {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Agent{
		cfg:        cfg,
		policy:     policy,
		log:        log,
		metrics:    metrics,
		events:     make(chan notifyReq, 64),
		reinitFire: make(chan struct{}, 1),
	}
}

// Register installs a role adapter under its own module identity. Must be
// called before Run.
func (a *Agent) Register(r Role) {
	a.roles[r.Module()] = r
}

// Config returns the resolved configuration this agent was built from.
func (a *Agent) Config() *config.Config { return a.cfg }

// Log returns a per-module logger entry, tagging every line with the
// role's trace name the way the original's MODULE()/EVENT() macros did.
func (a *Agent) Log(m config.ModuleID) *logrus.Entry {
	return a.log.WithField("module", m.String())
}

// enabled reports whether module m is configured on.
func (a *Agent) enabled(m config.ModuleID) bool {
	return a.cfg.Modules[m].Enabled
}

// subscribes reports whether module n is configured to receive events
// raised by module src (src appears in n's notify-me list).
func (a *Agent) subscribes(n, src config.ModuleID) bool {
	return a.cfg.Modules[n].NotifyMe[src]
}

// Notify is the single entry point by which role adapters raise events.
// Role adapters call it from their own goroutines (listener accept loops,
// the PRPD connectivity watcher, ...); Notify is safe for concurrent use
// because it only ever sends on the buffered events channel, and Run is the
// sole goroutine that reads it and mutates dispatcher state.
func (a *Agent) Notify(from config.ModuleID, ev EventInfo) {
	a.events <- notifyReq{from: from, ev: ev}
}

// Bootstrap triggers the same reset-then-checkInit sweep the reinit
// supervisor runs after a connection-down edge, modeling process startup as
// the system's first reinit cycle. Safe to call before Run starts; the
// loop goroutine picks it up as soon as it begins selecting.
func (a *Agent) Bootstrap() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reinitPending {
		return
	}
	a.reinitPending = true
	a.reinitFire <- struct{}{}
}

// Run drives the event loop until ctx is cancelled. It is the only
// goroutine that mutates dispatcher state, mirroring the single-threaded
// cooperative loop the original implementation assumed.
func (a *Agent) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-a.events:
			a.handle(req.from, req.ev)
		case <-a.reinitFire:
			a.mu.Lock()
			a.reinitPending = false
			a.mu.Unlock()
			a.doReinit()
		}
	}
}

func (a *Agent) handle(from config.ModuleID, ev EventInfo) {
	switch ev.Kind {
	case config.ConnectionDown, config.ConnectionUp:
		a.handleConnectionEvent(from, ev.Kind)
	default:
		a.handlePayload(from, ev)
	}
}

func (a *Agent) handleConnectionEvent(from config.ModuleID, kind config.EventKind) {
	want := Down
	if kind == config.ConnectionUp {
		want = Up
	}
	if a.state[from] == want {
		return // idempotent: no real edge
	}
	a.state[from] = want
	if a.metrics != nil {
		a.metrics.SetConnState(from, want)
	}
	a.Log(from).WithField("state", want.String()).Info("connection state changed")

	if want == Down {
		a.scheduleReinit()
		return
	}

	// UP edge: `from`'s own readiness may now have changed for the modules
	// it is a subscriber of, so re-check init and request a flash for each
	// of `from`'s sources, then flash `from` itself.
	for n := config.KNLM; n < config.ModuleAll; n++ {
		if n == from || !a.enabled(n) {
			continue
		}
		if a.subscribes(from, n) {
			a.checkInit(n)
			a.requestFlash(n)
		}
	}
	a.requestFlash(from)
}

func (a *Agent) handlePayload(from config.ModuleID, ev EventInfo) {
	if ev.Kind != config.Write && ev.Kind != config.GetAll {
		return
	}
	for d := config.KNLM; d < config.ModuleAll; d++ {
		if !a.enabled(d) || a.state[d] != Up {
			continue
		}
		if !a.subscribes(d, from) {
			continue
		}
		role := a.roles[d]
		if role == nil {
			continue
		}

		out, accept := a.policy.Evaluate(d, ev)
		if !accept {
			continue
		}
		if a.metrics != nil {
			a.metrics.IncEvent(d, ev.Kind)
		}
		role.Notify(from, out)
	}
}

// checkInit mirrors §4.2: M initializes only once every enabled module that
// subscribes to M is up, with mutual-subscription cycle partners exempted.
func (a *Agent) checkInit(m config.ModuleID) {
	if !a.enabled(m) || a.state[m] == Up {
		return
	}
	for n := config.KNLM; n < config.ModuleAll; n++ {
		if n == m || !a.enabled(n) {
			continue
		}
		if !a.subscribes(n, m) {
			continue
		}
		if a.subscribes(m, n) {
			continue // mutual subscription: cycle partner exempted
		}
		if a.state[n] != Up {
			return // defer
		}
	}
	role := a.roles[m]
	if role == nil {
		return
	}
	a.Log(m).Info("readiness satisfied, initializing")
	role.Init()
}

// requestFlash mirrors §4.2: M flashes once M and every subscriber of M are
// up.
func (a *Agent) requestFlash(m config.ModuleID) {
	if !a.enabled(m) || a.state[m] != Up {
		return
	}
	for n := config.KNLM; n < config.ModuleAll; n++ {
		if n == m || !a.enabled(n) {
			continue
		}
		if a.subscribes(n, m) && a.state[n] != Up {
			return
		}
	}
	role := a.roles[m]
	if role == nil {
		return
	}
	a.Log(m).Info("requesting flash")
	role.InitFlash()
}

// scheduleReinit coalesces any number of DOWN edges within one wake-up
// batch into a single reinit, matching the original's zero-delay timer.
func (a *Agent) scheduleReinit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reinitPending {
		return
	}
	a.reinitPending = true
	if a.metrics != nil {
		a.metrics.IncReinit()
	}
	time.AfterFunc(0, func() {
		select {
		case a.reinitFire <- struct{}{}:
		default:
		}
	})
}

// doReinit resets every module in ModuleId order, then re-initializes every
// module in ModuleId order. Reset is safe on modules never initialized.
func (a *Agent) doReinit() {
	a.log.Info("global reinit: resetting all modules")
	for m := config.KNLM; m < config.ModuleAll; m++ {
		role := a.roles[m]
		if role == nil {
			continue
		}
		role.Reset()
		a.state[m] = Down
		if a.metrics != nil {
			a.metrics.SetConnState(m, Down)
		}
	}
	for m := config.KNLM; m < config.ModuleAll; m++ {
		a.checkInit(m)
	}
}
