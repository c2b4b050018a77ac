// Package fpm implements the FPM_SERVER and FPM_CLIENT role adapters: a
// framed TCP transport carrying netlink route messages behind a 4-byte FPM
// header.
package fpm

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

// Role implements both FPM_SERVER (listening) and FPM_CLIENT (connecting),
// selected by server. Both share the same framed-reader and connection
// supervisor behavior; only the attempt (bind+accept vs. dial) differs.
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

// NewServer builds the FPM_SERVER adapter, binding to addr:port and
// accepting a single peer at a time.
func NewServer(a *agent.Agent, addr string, port int) *Role {
	return newRole(a, config.FPMServer, addr, port, true)
}

// NewClient builds the FPM_CLIENT adapter, dialing out to addr:port.
func NewClient(a *agent.Agent, addr string, port int) *Role {
	return newRole(a, config.FPMClient, addr, port, false)
}

func newRole(a *agent.Agent, module config.ModuleID, addr string, port int, server bool) *Role {
	r := &Role{agent: a, module: module, log: a.Log(module), addr: addr, port: port, server: server}
	r.sup = transport.NewSupervisor(r.log, r, r.reset)
	return r
}

func (r *Role) Module() config.ModuleID { return r.module }

func (r *Role) Init() {
	r.sup.Start(context.Background())
}

func (r *Role) Reset() {
	r.sup.Stop()
	r.reset()
}

// InitFlash is a no-op for FPM roles: flashes originate from KNLM, not from
// a transport adapter.
func (r *Role) InitFlash() {}

// Notify wraps the payload in an FPM header and writes it to the connected
// peer.
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

	hdr := transport.BuildFPMHeader(len(ev.Msg))
	if _, err := conn.Write(hdr); err != nil {
		r.log.WithError(err).Warn("write fpm header failed")
		return
	}
	if _, err := conn.Write(ev.Msg); err != nil {
		r.log.WithError(err).Warn("write fpm payload failed")
	}
}

// Attempt implements transport.Attempter: bind+accept for the server role,
// dial for the client role. It blocks until the peer disconnects.
func (r *Role) Attempt(ctx context.Context) error {
	if r.server {
		return r.attemptServer(ctx)
	}
	return r.attemptClient(ctx)
}

func (r *Role) attemptServer(ctx context.Context) error {
	ln, err := transport.ListenReusable(ctx, fmt.Sprintf("%s:%d", r.addr, r.port))
	if err != nil {
		return fmt.Errorf("fpm: listen: %w", err)
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
		return fmt.Errorf("fpm: accept: %w", err)
	}
	return r.serve(ctx, conn)
}

func (r *Role) attemptClient(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", r.addr, r.port))
	if err != nil {
		return fmt.Errorf("fpm: dial: %w", err)
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

	reader := transport.NewFrameReader(transport.FPMFraming)
	chunk := make([]byte, 8192)

	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			reader.Feed(chunk[:n])
			for {
				frame, ok, ferr := reader.Next()
				if ferr != nil {
					return fmt.Errorf("fpm: %w", ferr)
				}
				if !ok {
					break
				}
				r.agent.Notify(r.module, agent.EventInfo{Kind: config.Write, Msg: frame[4:]})
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return nil // EOF or peer reset: normal connection-down path
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
