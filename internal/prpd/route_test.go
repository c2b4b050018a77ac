package prpd

import (
	"testing"

	"github.com/mdlayher/netlink"
	"github.com/nlagent/nlagentd/internal/transport"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func buildMsg(t *testing.T, rtmType uint16, family, prefixLen, table byte, dst []byte) []byte {
	t.Helper()
	data := make([]byte, 12)
	data[0] = family
	data[1] = prefixLen
	data[4] = table

	hdr := make([]byte, 4)
	total := 4 + len(dst)
	hdr[0] = byte(total)
	hdr[1] = byte(total >> 8)
	hdr[2] = 1 // RTA_DST
	data = append(data, hdr...)
	data = append(data, dst...)
	for len(data)%4 != 0 {
		data = append(data, 0)
	}

	msg := netlink.Message{
		Header: netlink.Header{Length: uint32(transport.NlmsghdrLen + len(data)), Type: netlink.HeaderType(rtmType)},
		Data:   data,
	}
	out, err := msg.MarshalBinary()
	assert.NilError(t, err)
	return out
}

func TestParseRouteKeyExtractsPrefixAndTable(t *testing.T) {
	raw := buildMsg(t, rtmNewRoute, 2, 24, 254, []byte{10, 0, 0, 0})

	rtmType, key, err := parseRouteKey(raw)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(rtmType, uint16(rtmNewRoute)))
	assert.Check(t, is.Equal(key.Table.TableID, uint32(254)))
	assert.Check(t, is.Equal(key.PrefixLen, uint32(24)))
	assert.Check(t, is.DeepEqual(key.Prefix.Addr, []byte{10, 0, 0, 0}))
}
