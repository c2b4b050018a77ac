// Package ribpb is the route-programming RPC contract the PRPD_CLIENT role
// speaks to a programmable routing daemon. In a full build this package
// would be generated by protoc-gen-go / protoc-gen-go-grpc from a
// rib_service.proto; since no proto toolchain runs here, the generated
// shape is reproduced by hand, grounded on the RouteUpdateRequest /
// RouteRemoveRequest / RouteOperReply messages the original RPC client
// built (routing::Rib::Stub). Each message is carried as a real
// google.protobuf.Struct on the wire — genuine protobuf encoding without a
// compiled .proto schema — with the Go types below giving call sites typed
// field access instead of raw map lookups.
package ribpb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// AddressFamily mirrors routing::NetworkAddress's family discriminant.
type AddressFamily int32

const (
	AddressFamilyIPv4 AddressFamily = 0
	AddressFamilyIPv6 AddressFamily = 1
)

// NetworkAddress carries a prefix the way routing::NetworkAddress did:
// family plus raw address bytes.
type NetworkAddress struct {
	Family AddressFamily
	Addr   []byte
}

// RouteTable identifies the routing table a route belongs to.
type RouteTable struct {
	TableID uint32
}

// RouteMatchFields is the lookup key for a route: table, prefix, and
// prefix length.
type RouteMatchFields struct {
	Table     RouteTable
	Prefix    NetworkAddress
	PrefixLen uint32
}

// RouteNexthop is one gateway/interface pair for a route's next hop.
type RouteNexthop struct {
	Gateway NetworkAddress
	IfIndex uint32
}

// RouteUpdateRequest programs (adds or replaces) a route, mirroring
// RibClientAddRoute's RouteUpdateRequest construction.
type RouteUpdateRequest struct {
	Key      RouteMatchFields
	Nexthops []RouteNexthop
	Protocol uint32
}

// RouteRemoveRequest withdraws a route, mirroring
// RibClientRemoveRoute's RouteRemoveRequest construction.
type RouteRemoveRequest struct {
	Key RouteMatchFields
}

// ReplyStatus mirrors routing::RET_SUCCESS / routing::SUCCESS.
type ReplyStatus int32

const (
	StatusSuccess ReplyStatus = 0
	StatusFailure ReplyStatus = 1
)

// RouteOperReply is the server's response to an update or remove call.
type RouteOperReply struct {
	Status ReplyStatus
}

// RibClient is the hand-rolled equivalent of the generated RibClient
// interface protoc-gen-go-grpc would produce for routing.Rib.
type RibClient interface {
	AddRoute(ctx context.Context, req *RouteUpdateRequest, opts ...grpc.CallOption) (*RouteOperReply, error)
	RemoveRoute(ctx context.Context, req *RouteRemoveRequest, opts ...grpc.CallOption) (*RouteOperReply, error)
}

type ribClient struct {
	cc grpc.ClientConnInterface
}

// NewRibClient builds a RibClient bound to an established grpc.ClientConn.
func NewRibClient(cc grpc.ClientConnInterface) RibClient {
	return &ribClient{cc: cc}
}

func (c *ribClient) AddRoute(ctx context.Context, req *RouteUpdateRequest, opts ...grpc.CallOption) (*RouteOperReply, error) {
	in, err := structpb.NewStruct(updateRequestToMap(req))
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/routing.Rib/AddRoute", in, out, opts...); err != nil {
		return nil, err
	}
	return replyFromStruct(out), nil
}

func (c *ribClient) RemoveRoute(ctx context.Context, req *RouteRemoveRequest, opts ...grpc.CallOption) (*RouteOperReply, error) {
	in, err := structpb.NewStruct(matchFieldsToMap(req.Key))
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/routing.Rib/RemoveRoute", in, out, opts...); err != nil {
		return nil, err
	}
	return replyFromStruct(out), nil
}
