// Package nlm implements the NLM_SERVER and NLM_CLIENT role adapters: a TCP
// transport carrying raw netlink messages, framed by each message's own
// nlmsg_len (no FPM header).
package nlm

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/nlagent/nlagentd/internal/agent"
	"github.com/nlagent/nlagentd/internal/config"
	"github.com/nlagent/nlagentd/internal/transport"
	"github.com/sirupsen/logrus"
)

// Role implements both NLM_SERVER and NLM_CLIENT.
type Role struct {
	agent  *agent.Agent
	module config.ModuleID
	log    *logrus.Entry
	addr   string
	port   int
	server bool

	sup *transport.Supervisor

	mu       sync.Mutex
	listener net.Listener
	conn     net.Conn
}

func NewServer(a *agent.Agent, addr string, port int) *Role {
	return newRole(a, config.NLMServer, addr, port, true)
}

func NewClient(a *agent.Agent, addr string, port int) *Role {
	return newRole(a, config.NLMClient, addr, port, false)
}

func newRole(a *agent.Agent, module config.ModuleID, addr string, port int, server bool) *Role {
	r := &Role{agent: a, module: module, log: a.Log(module), addr: addr, port: port, server: server}
	r.sup = transport.NewSupervisor(r.log, r, r.reset)
	return r
}

func (r *Role) Module() config.ModuleID { return r.module }

func (r *Role) Init() { r.sup.Start(context.Background()) }

func (r *Role) Reset() {
	r.sup.Stop()
	r.reset()
}

func (r *Role) InitFlash() {}

// Notify writes the raw netlink payload straight to the peer, with no
// additional framing beyond the message's own nlmsg_len.
func (r *Role) Notify(from config.ModuleID, ev agent.EventInfo) {
	if ev.Kind != config.Write {
		return
	}
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return
	}
	if _, err := conn.Write(ev.Msg); err != nil {
		r.log.WithError(err).Warn("write netlink payload failed")
	}
}

func (r *Role) Attempt(ctx context.Context) error {
	if r.server {
		return r.attemptServer(ctx)
	}
	return r.attemptClient(ctx)
}

func (r *Role) attemptServer(ctx context.Context) error {
	ln, err := transport.ListenReusable(ctx, fmt.Sprintf("%s:%d", r.addr, r.port))
	if err != nil {
		return fmt.Errorf("nlm: listen: %w", err)
	}
	r.mu.Lock()
	r.listener = ln
	r.mu.Unlock()

	acceptCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-acceptCtx.Done()
		ln.Close()
	}()

	conn, err := ln.Accept()
	if err != nil {
		return fmt.Errorf("nlm: accept: %w", err)
	}
	return r.serve(ctx, conn)
}

func (r *Role) attemptClient(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", r.addr, r.port))
	if err != nil {
		return fmt.Errorf("nlm: dial: %w", err)
	}
	return r.serve(ctx, conn)
}

func (r *Role) serve(ctx context.Context, conn net.Conn) error {
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	r.agent.Notify(r.module, agent.EventInfo{Kind: config.ConnectionUp})
	defer r.agent.Notify(r.module, agent.EventInfo{Kind: config.ConnectionDown})

	closeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-closeCtx.Done()
		conn.Close()
	}()

	reader := transport.NewFrameReader(transport.NLMFraming)
	chunk := make([]byte, 8192)

	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			reader.Feed(chunk[:n])
			for {
				frame, ok, ferr := reader.Next()
				if ferr != nil {
					return fmt.Errorf("nlm: %w", ferr)
				}
				if !ok {
					break
				}
				r.agent.Notify(r.module, agent.EventInfo{Kind: config.Write, Msg: frame})
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return nil
		}
	}
}

func (r *Role) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
	if r.listener != nil {
		r.listener.Close()
		r.listener = nil
	}
}
