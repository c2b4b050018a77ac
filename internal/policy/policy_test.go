package policy

import (
	"encoding/binary"
	"testing"

	"github.com/mdlayher/netlink"
	"github.com/nlagent/nlagentd/internal/agent"
	"github.com/nlagent/nlagentd/internal/config"
	"github.com/nlagent/nlagentd/internal/transport"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

// buildRouteMsg assembles a minimal nlmsghdr+rtmsg(+RTAs) wire message for
// test fixtures, mirroring the layout nla_policy.c operates on.
func buildRouteMsg(t *testing.T, family, table, protocol uint8, attrs ...[2]int) []byte {
	t.Helper()

	data := make([]byte, rtmsgLen)
	data[rtmFamilyOff] = family
	data[rtmTableOff] = table
	data[rtmProtocolOff] = protocol

	for _, a := range attrs {
		attrType, payloadLen := a[0], a[1]
		hdr := make([]byte, 4)
		total := 4 + payloadLen
		binary.LittleEndian.PutUint16(hdr[0:2], uint16(total))
		binary.LittleEndian.PutUint16(hdr[2:4], uint16(attrType))
		data = append(data, hdr...)
		data = append(data, make([]byte, payloadLen)...)
		for len(data)%4 != 0 {
			data = append(data, 0)
		}
	}

	msg := netlink.Message{
		Header: netlink.Header{
			Length: uint32(transport.NlmsghdrLen + len(data)),
			Type:   24, // RTM_NEWROUTE
		},
		Data: data,
	}
	out, err := msg.MarshalBinary()
	assert.NilError(t, err)
	return out
}

func TestFilterEmptyListAcceptsAll(t *testing.T) {
	cfg := config.NewConfig()
	eng := New(cfg)

	raw := buildRouteMsg(t, 2, 254, 2)
	_, accept := eng.Evaluate(config.FPMClient, agent.EventInfo{Kind: config.Write, Msg: raw})
	assert.Check(t, accept)
}

func TestFilterRejectsNonMatchingProtocol(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Modules[config.FPMClient].Policy[config.FilterProtocol] = []int{22}
	eng := New(cfg)

	raw := buildRouteMsg(t, 2, 254, 2)
	_, accept := eng.Evaluate(config.FPMClient, agent.EventInfo{Kind: config.Write, Msg: raw})
	assert.Check(t, !accept)
}

func TestSetProtocolOverwritesField(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Modules[config.FPMClient].Policy[config.SetProtocol] = []int{0}
	eng := New(cfg)

	raw := buildRouteMsg(t, 2, 254, 22)
	out, accept := eng.Evaluate(config.FPMClient, agent.EventInfo{Kind: config.Write, Msg: raw})
	assert.Check(t, accept)

	parsed, err := parseRouteMessage(out.Msg)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(parsed.rtmProtocol(), uint8(0)))

	// Source copy must remain unchanged.
	assert.Check(t, is.Equal(raw[16+rtmProtocolOff], uint8(22)))
}

func TestSetTableWritesRTMTableNotProtocol(t *testing.T) {
	// Regression guard for the original implementation's bug, where
	// SET_TABLE wrote into rtm_protocol instead of rtm_table.
	cfg := config.NewConfig()
	cfg.Modules[config.FPMClient].Policy[config.SetTable] = []int{5}
	eng := New(cfg)

	raw := buildRouteMsg(t, 2, 254, 22)
	out, accept := eng.Evaluate(config.FPMClient, agent.EventInfo{Kind: config.Write, Msg: raw})
	assert.Check(t, accept)

	parsed, err := parseRouteMessage(out.Msg)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(parsed.rtmTable(), uint8(5)))
	assert.Check(t, is.Equal(parsed.rtmProtocol(), uint8(22)), "SET_TABLE must not touch rtm_protocol")
}

func TestStripRTAttrRemovesOnlyMatchingAttr(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Modules[config.FPMClient].Policy[config.StripRTAttr] = []int{15}
	eng := New(cfg)

	raw := buildRouteMsg(t, 2, 254, 2, [2]int{1, 4}, [2]int{15, 12}, [2]int{3, 4})
	out, accept := eng.Evaluate(config.FPMClient, agent.EventInfo{Kind: config.Write, Msg: raw})
	assert.Check(t, accept)

	before := len(raw)
	after := len(out.Msg)
	assert.Check(t, is.Equal(before-after, nlaTotalSize(12)))

	parsed, err := parseRouteMessage(out.Msg)
	assert.NilError(t, err)
	_, _, found := findFirstLevelAttr(parsed.data[rtmsgLen:], 15)
	assert.Check(t, !found)
	assert.Check(t, is.Equal(int(parsed.header.Length), len(out.Msg)))
}

func TestStripRTAttrIsIdempotent(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Modules[config.FPMClient].Policy[config.StripRTAttr] = []int{15}
	eng := New(cfg)

	raw := buildRouteMsg(t, 2, 254, 2, [2]int{1, 4}, [2]int{15, 12}, [2]int{3, 4})
	once, _ := eng.Evaluate(config.FPMClient, agent.EventInfo{Kind: config.Write, Msg: raw})
	twice, _ := eng.Evaluate(config.FPMClient, agent.EventInfo{Kind: config.Write, Msg: once.Msg})

	assert.Check(t, is.DeepEqual(once.Msg, twice.Msg))
}
