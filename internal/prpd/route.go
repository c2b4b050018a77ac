package prpd

import (
	"fmt"
	"time"

	"github.com/mdlayher/netlink"
	"github.com/nlagent/nlagentd/internal/prpd/ribpb"
)

const rpcTimeout = 5 * time.Second

const (
	rtmNewRoute = 24
	rtmDelRoute = 25

	rtaDst = 1
)

// parseRouteKey decodes an nlmsghdr+rtmsg+RTAs payload into the RPC
// route-match key RibClientAddRoute/RibClientRemoveRoute built from
// rtnl_route before issuing the corresponding call.
func parseRouteKey(raw []byte) (rtmType uint16, key ribpb.RouteMatchFields, err error) {
	var msg netlink.Message
	if uerr := msg.UnmarshalBinary(raw); uerr != nil {
		return 0, key, fmt.Errorf("prpd: unmarshal netlink message: %w", uerr)
	}
	if len(msg.Data) < 12 {
		return 0, key, fmt.Errorf("prpd: rtmsg payload too short")
	}

	family := msg.Data[0]
	prefixLen := msg.Data[1]
	table := msg.Data[4]

	key = ribpb.RouteMatchFields{
		Table:     ribpb.RouteTable{TableID: uint32(table)},
		PrefixLen: uint32(prefixLen),
	}
	if family == 10 { // AF_INET6
		key.Prefix.Family = ribpb.AddressFamilyIPv6
	} else {
		key.Prefix.Family = ribpb.AddressFamilyIPv4
	}

	attrs, aerr := netlink.UnmarshalAttributes(msg.Data[12:])
	if aerr != nil {
		return 0, key, fmt.Errorf("prpd: parsing RTAs: %w", aerr)
	}
	for _, a := range attrs {
		if a.Type == rtaDst {
			key.Prefix.Addr = a.Data
		}
	}

	return uint16(msg.Header.Type), key, nil
}
