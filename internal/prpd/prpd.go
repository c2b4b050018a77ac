// Package prpd implements the PRPD_CLIENT role adapter: a route-programming
// RPC client plus the bridge that surfaces its channel's connectivity state
// to the single-threaded dispatcher.
package prpd

import (
	"context"
	"fmt"
	"sync"

	"github.com/nlagent/nlagentd/internal/agent"
	"github.com/nlagent/nlagentd/internal/config"
	"github.com/nlagent/nlagentd/internal/prpd/ribpb"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
)

// rpcQueueSize bounds how many pending route-program calls can queue up
// behind a slow RIB server, matching the fixed buffering the dispatcher's
// own event channel uses.
const rpcQueueSize = 64

type rpcJob struct {
	client  ribpb.RibClient
	rtmType uint16
	key     ribpb.RouteMatchFields
}

// Role adapter for PRPD_CLIENT. It has no framed reader: inbound events are
// delivered one route-program call at a time over RPC, and the only
// transport state the dispatcher cares about is the gRPC channel's
// connectivity.
type Role struct {
	agent *agent.Agent
	log   *logrus.Entry
	addr  string
	port  int

	mu         sync.Mutex
	conn       *grpc.ClientConn
	client     ribpb.RibClient
	cancel     context.CancelFunc
	work       chan rpcJob
	workCancel context.CancelFunc
}

func New(a *agent.Agent, addr string, port int) *Role {
	return &Role{agent: a, log: a.Log(config.PRPDClient), addr: addr, port: port}
}

func (r *Role) Module() config.ModuleID { return config.PRPDClient }

func (r *Role) Init() {
	r.mu.Lock()
	defer r.mu.Unlock()

	target := fmt.Sprintf("%s:%d", r.addr, r.port)
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		r.log.WithError(err).Warn("failed to build rib client channel")
		return
	}

	conn.Connect()

	ctx, cancel := context.WithCancel(context.Background())
	r.conn = conn
	r.client = ribpb.NewRibClient(conn)
	r.cancel = cancel

	go r.watchState(ctx, conn)

	workCtx, workCancel := context.WithCancel(context.Background())
	r.work = make(chan rpcJob, rpcQueueSize)
	r.workCancel = workCancel
	go r.runRPCWorker(workCtx, r.work)
}

// runRPCWorker drains queued route-program calls one at a time, off the
// dispatcher goroutine but still in the order Notify enqueued them, so a
// withdraw can never race ahead of the add it follows. ctx is plumbed into
// every call it makes, so cancelling it (Reset) unblocks a call already in
// flight against a connection the role no longer considers live, instead of
// leaving it to run out its own independent timeout.
func (r *Role) runRPCWorker(ctx context.Context, work <-chan rpcJob) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-work:
			r.callRPC(ctx, job.client, job.rtmType, job.key)
		}
	}
}

// watchState is the RPC-thread bridge of §4.5, expressed as a dedicated
// goroutine rather than a pipe(2) fd pair: the channel runtime already
// gives us a safe cross-goroutine handoff, so the bridge is the goroutine
// itself plus the dispatcher's own event channel (Agent.Notify), and the
// pipe is unnecessary (see DESIGN.md's open-question notes).
//
// grpc.ClientConn.WaitForStateChange is itself the blocking
// wait-for-state-change loop the original ran on its background thread;
// only a real edge (DOWN<->UP) is ever forwarded, exactly as the pipe
// bridge's "only on state change" guarantee required.
func (r *Role) watchState(ctx context.Context, conn *grpc.ClientConn) {
	last := agent.Down
	for {
		state := conn.GetState()
		coarse := agent.Down
		if state == connectivity.Ready {
			coarse = agent.Up
		}
		if coarse != last {
			last = coarse
			kind := config.ConnectionDown
			if coarse == agent.Up {
				kind = config.ConnectionUp
			}
			r.agent.Notify(config.PRPDClient, agent.EventInfo{Kind: kind})
		}

		if !conn.WaitForStateChange(ctx, state) {
			return // ctx cancelled: shutdown signal observed
		}
	}
}

func (r *Role) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	if r.workCancel != nil {
		r.workCancel()
		r.workCancel = nil
	}
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
	r.client = nil
	r.work = nil
}

// InitFlash is a no-op: PRPD_CLIENT never originates a flash dump.
func (r *Role) InitFlash() {}

// Notify parses the inbound route message and dispatches an add or remove
// RPC call, matching RibClientAddRoute / RibClientRemoveRoute. The RPC
// itself runs off the dispatcher goroutine: Agent.Run serializes every
// module's Notify call, and an RPC can block for up to rpcTimeout, which
// would otherwise stall connection events and writes for every other role
// while a route is in flight.
func (r *Role) Notify(from config.ModuleID, ev agent.EventInfo) {
	if ev.Kind != config.Write {
		return
	}
	r.mu.Lock()
	client := r.client
	work := r.work
	r.mu.Unlock()
	if client == nil {
		return
	}

	rtmType, key, err := parseRouteKey(ev.Msg)
	if err != nil {
		r.log.WithError(err).Warn("dropping unparsable route for RPC programming")
		return
	}

	select {
	case work <- rpcJob{client: client, rtmType: rtmType, key: key}:
	default:
		r.log.Warn("rpc queue full, dropping route update")
	}
}

func (r *Role) callRPC(workCtx context.Context, client ribpb.RibClient, rtmType uint16, key ribpb.RouteMatchFields) {
	ctx, cancel := context.WithTimeout(workCtx, rpcTimeout)
	defer cancel()

	switch rtmType {
	case rtmNewRoute:
		reply, err := client.AddRoute(ctx, &ribpb.RouteUpdateRequest{Key: key})
		r.logReply("AddRoute", reply, err)
	case rtmDelRoute:
		reply, err := client.RemoveRoute(ctx, &ribpb.RouteRemoveRequest{Key: key})
		r.logReply("RemoveRoute", reply, err)
	}
}

func (r *Role) logReply(op string, reply *ribpb.RouteOperReply, err error) {
	if err != nil {
		r.log.WithError(err).Warnf("%s rpc failed", op)
		return
	}
	if reply.Status != ribpb.StatusSuccess {
		r.log.Warnf("%s rejected by rib server, status=%d", op, reply.Status)
	}
}
