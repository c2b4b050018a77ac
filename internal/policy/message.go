package policy

import (
	"encoding/binary"
	"fmt"

	"github.com/mdlayher/netlink"
	"github.com/nlagent/nlagentd/internal/transport"
)

// rtmsgLen is sizeof(struct rtmsg): 8 one-byte fields followed by a 4-byte
// flags word, matching linux/rtnetlink.h.
const rtmsgLen = 12

const (
	rtmFamilyOff   = 0
	rtmTableOff    = 4
	rtmProtocolOff = 5
)

// routeMessage wraps a decoded nlmsghdr + rtmsg + RTAs payload, giving the
// policy engine byte-level access the way the original implementation
// operated directly on the wire struct.
type routeMessage struct {
	header netlink.Header
	data   []byte // rtmsg (12 bytes) followed by RTAs
}

func parseRouteMessage(raw []byte) (*routeMessage, error) {
	var msg netlink.Message
	if err := msg.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("policy: unmarshal netlink message: %w", err)
	}
	if len(msg.Data) < rtmsgLen {
		return nil, fmt.Errorf("policy: payload too short for rtmsg: %d bytes", len(msg.Data))
	}
	return &routeMessage{header: msg.Header, data: msg.Data}, nil
}

func (m *routeMessage) rtmFamily() uint8   { return m.data[rtmFamilyOff] }
func (m *routeMessage) rtmTable() uint8    { return m.data[rtmTableOff] }
func (m *routeMessage) rtmProtocol() uint8 { return m.data[rtmProtocolOff] }

func (m *routeMessage) setRTMTable(v uint8)    { m.data[rtmTableOff] = v }
func (m *routeMessage) setRTMProtocol(v uint8) { m.data[rtmProtocolOff] = v }

// nlaAlign rounds n up to the nearest 4-byte boundary, matching NLA_ALIGN.
func nlaAlign(n int) int { return (n + 3) &^ 3 }

// nlaTotalSize returns nla_total_size(payloadLen): the attribute header (4
// bytes) plus the payload, aligned.
func nlaTotalSize(payloadLen int) int {
	return nlaAlign(4 + payloadLen)
}

// stripAttr removes every first-level RTA of the given type from m's
// payload, in place, repeating until none remain. Nested attributes inside
// other RTAs are never touched, matching the original's documented
// limitation.
func (m *routeMessage) stripAttr(attrType uint16) {
	for {
		off, attrLen, ok := findFirstLevelAttr(m.data[rtmsgLen:], attrType)
		if !ok {
			return
		}
		start := rtmsgLen + off
		end := start + attrLen

		m.data = append(m.data[:start], m.data[end:]...)
	}
}

// findFirstLevelAttr scans a flat nlattr stream (no nesting) for the first
// attribute of the given type, returning its offset within buf and its
// total aligned size (nla_total_size).
func findFirstLevelAttr(buf []byte, attrType uint16) (offset int, size int, found bool) {
	const nlaHdrLen = 4
	off := 0
	for off+nlaHdrLen <= len(buf) {
		length := int(binary.LittleEndian.Uint16(buf[off : off+2]))
		typ := binary.LittleEndian.Uint16(buf[off+2 : off+4]) &^ 0xc000 // strip NLA_F_NESTED/NLA_F_NET_BYTEORDER
		if length < nlaHdrLen {
			return 0, 0, false // malformed, stop scanning
		}
		total := nlaAlign(length)
		if off+total > len(buf) {
			return 0, 0, false // peer-claimed length overruns the buffer, stop scanning
		}
		if typ == attrType {
			return off, total, true
		}
		off += total
	}
	return 0, 0, false
}

// bytes reassembles the full wire message (header + rtmsg + RTAs), fixing
// up the header's Length field to match the current payload size.
func (m *routeMessage) bytes() []byte {
	m.header.Length = uint32(transport.NlmsghdrLen + len(m.data))
	msg := netlink.Message{Header: m.header, Data: m.data}
	out, err := msg.MarshalBinary()
	if err != nil {
		// Header fields are all fixed-width and already validated by
		// UnmarshalBinary on the way in; MarshalBinary cannot fail here.
		panic(fmt.Sprintf("policy: remarshal route message: %v", err))
	}
	return out
}
