// Package knlm adapts the dispatcher's Role contract to the kernel's own
// routing table, via vishvananda/netlink's route-subscription and
// route-mutation calls.
package knlm

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"syscall"

	"github.com/mdlayher/netlink"
	"github.com/nlagent/nlagentd/internal/agent"
	"github.com/nlagent/nlagentd/internal/config"
	"github.com/nlagent/nlagentd/internal/transport"
	"github.com/sirupsen/logrus"
	vnetlink "github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
)

const (
	rtmNewRoute = 24
	rtmDelRoute = 25
	rtmGetRoute = 26

	rtaDst     = 1
	rtaOif     = 4
	rtaGateway = 5
	rtaTable   = 15
)

// Role is the KNLM role adapter: it opens a netlink route subscription,
// re-emits every kernel route change as a WRITE event, and on inbound
// WRITE notifications dispatches RTM_NEWROUTE/RTM_DELROUTE back to the
// kernel.
type Role struct {
	agent *agent.Agent
	log   *logrus.Entry
	ns    string // optional named network namespace to pin the socket to

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
}

// New builds the KNLM role adapter. ns, if non-empty, is a network
// namespace name the netlink socket is pinned to via vishvananda/netns,
// matching deployments where the agent observes a namespace other than its
// own.
func New(a *agent.Agent, ns string) *Role {
	return &Role{agent: a, log: a.Log(config.KNLM), ns: ns}
}

func (r *Role) Module() config.ModuleID { return config.KNLM }

func (r *Role) Init() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.started = true
	go r.run(ctx)
}

func (r *Role) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.started = false
}

// InitFlash issues a full route dump (the original's RTM_GETROUTE) to
// subscribers. The dispatcher calls it from its own goroutine, so the dump
// runs on a separate goroutine that feeds Agent.Notify.
func (r *Role) InitFlash() {
	go r.flash()
}

func (r *Role) flash() {
	err := withNamespace(r.ns, func() error {
		routes, err := vnetlink.RouteList(nil, vnetlink.FAMILY_ALL)
		if err != nil {
			return err
		}
		for _, rt := range routes {
			msg, err := routeToMessage(rtmNewRoute, rt)
			if err != nil {
				r.log.WithError(err).Warn("flash: failed to encode route")
				continue
			}
			r.agent.Notify(config.KNLM, agent.EventInfo{Kind: config.Write, Msg: msg})
		}
		return nil
	})
	if err != nil {
		r.log.WithError(err).Warn("flash: failed to list routes")
	}
}

// Notify handles inbound WRITE events (a route program request coming from
// a subscribed role such as FPM_SERVER or NLM_SERVER): parse the route and dispatch
// RTM_NEWROUTE to add, RTM_DELROUTE to delete.
func (r *Role) Notify(from config.ModuleID, ev agent.EventInfo) {
	if ev.Kind != config.Write {
		return
	}
	var msg netlink.Message
	if err := msg.UnmarshalBinary(ev.Msg); err != nil {
		r.log.WithError(err).Warn("dropping unparsable inbound route message")
		return
	}
	route, err := messageToRoute(msg.Data)
	if err != nil {
		r.log.WithError(err).Warn("dropping route with unparsable rtmsg")
		return
	}

	err = withNamespace(r.ns, func() error {
		switch msg.Header.Type {
		case rtmNewRoute:
			return vnetlink.RouteAdd(route)
		case rtmDelRoute:
			return vnetlink.RouteDel(route)
		default:
			return nil
		}
	})
	if err != nil {
		r.log.WithError(err).Warn("kernel route mutation failed")
	}
}

func (r *Role) run(ctx context.Context) {
	updates := make(chan vnetlink.RouteUpdate)
	done := make(chan struct{})

	err := withNamespace(r.ns, func() error {
		return vnetlink.RouteSubscribe(updates, done)
	})
	if err != nil {
		r.log.WithError(err).Warn("route subscribe failed")
		r.agent.Notify(config.KNLM, agent.EventInfo{Kind: config.ConnectionDown})
		close(done)
		return
	}

	r.agent.Notify(config.KNLM, agent.EventInfo{Kind: config.ConnectionUp})
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				r.agent.Notify(config.KNLM, agent.EventInfo{Kind: config.ConnectionDown})
				return
			}
			msg, err := routeToMessage(upd.Type, upd.Route)
			if err != nil {
				r.log.WithError(err).Warn("failed to encode kernel route update")
				continue
			}
			r.agent.Notify(config.KNLM, agent.EventInfo{Kind: config.Write, Msg: msg})
		}
	}
}

// withNamespace runs fn, optionally switching the calling OS thread into
// the named network namespace first, matching the pattern
// vishvananda/netns pairs with vishvananda/netlink in namespace-aware
// agents.
func withNamespace(name string, fn func() error) error {
	if name == "" {
		return fn()
	}

	h, err := netns.GetFromName(name)
	if err != nil {
		return fmt.Errorf("knlm: netns %q: %w", name, err)
	}
	defer h.Close()

	orig, err := netns.Get()
	if err != nil {
		return fmt.Errorf("knlm: capturing current netns: %w", err)
	}
	defer orig.Close()

	if err := netns.Set(h); err != nil {
		return fmt.Errorf("knlm: entering netns %q: %w", name, err)
	}
	defer netns.Set(orig)

	return fn()
}

// routeToMessage encodes a vishvananda Route into the raw
// nlmsghdr+rtmsg+RTAs wire format the dispatcher's policy engine expects,
// with nlmsg_flags cleared as the original re-emission does.
func routeToMessage(rtmType uint16, rt vnetlink.Route) ([]byte, error) {
	family := syscall.AF_INET
	if rt.Dst != nil && rt.Dst.IP.To4() == nil {
		family = syscall.AF_INET6
	} else if rt.Gw != nil && rt.Gw.To4() == nil {
		family = syscall.AF_INET6
	}

	data := make([]byte, 12)
	data[0] = byte(family)
	if rt.Dst != nil {
		ones, _ := rt.Dst.Mask.Size()
		data[1] = byte(ones)
	}
	data[4] = byte(rt.Table)
	data[5] = byte(rt.Protocol)
	data[6] = byte(rt.Scope)
	data[7] = byte(rt.Type)

	if rt.Dst != nil {
		data = append(data, encodeAttr(rtaDst, rt.Dst.IP)...)
	}
	if rt.Gw != nil {
		data = append(data, encodeAttr(rtaGateway, rt.Gw)...)
	}
	if rt.LinkIndex > 0 {
		oif := make([]byte, 4)
		binary.LittleEndian.PutUint32(oif, uint32(rt.LinkIndex))
		data = append(data, encodeAttr(rtaOif, oif)...)
	}
	if rt.Table > 255 {
		tbl := make([]byte, 4)
		binary.LittleEndian.PutUint32(tbl, uint32(rt.Table))
		data = append(data, encodeAttr(rtaTable, tbl)...)
	}

	msg := netlink.Message{
		Header: netlink.Header{
			Length: uint32(transport.NlmsghdrLen + len(data)),
			Type:   netlink.HeaderType(rtmType),
			Flags:  0,
		},
		Data: data,
	}
	return msg.MarshalBinary()
}

// messageToRoute decodes an rtmsg+RTAs payload back into a vishvananda
// Route suitable for RouteAdd/RouteDel.
func messageToRoute(data []byte) (*vnetlink.Route, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("knlm: rtmsg payload too short")
	}
	route := &vnetlink.Route{
		Table:    int(data[4]),
		Protocol: vnetlink.RouteProtocol(data[5]),
		Scope:    vnetlink.Scope(data[6]),
		Type:     int(data[7]),
	}

	attrs, err := netlink.UnmarshalAttributes(data[12:])
	if err != nil {
		return nil, fmt.Errorf("knlm: parsing RTAs: %w", err)
	}
	family := data[0]
	for _, a := range attrs {
		switch a.Type {
		case rtaDst:
			route.Dst = &net.IPNet{IP: net.IP(a.Data), Mask: maskFor(family, int(data[1]))}
		case rtaGateway:
			route.Gw = net.IP(a.Data)
		case rtaOif:
			route.LinkIndex = int(binary.LittleEndian.Uint32(a.Data))
		case rtaTable:
			route.Table = int(binary.LittleEndian.Uint32(a.Data))
		}
	}
	return route, nil
}

func maskFor(family byte, prefixLen int) net.IPMask {
	if family == syscall.AF_INET6 {
		return net.CIDRMask(prefixLen, 128)
	}
	return net.CIDRMask(prefixLen, 32)
}

func encodeAttr(attrType uint16, value []byte) []byte {
	hdr := make([]byte, 4)
	total := 4 + len(value)
	binary.LittleEndian.PutUint16(hdr[0:2], uint16(total))
	binary.LittleEndian.PutUint16(hdr[2:4], attrType)
	out := append(hdr, value...)
	for len(out)%4 != 0 {
		out = append(out, 0)
	}
	return out
}
