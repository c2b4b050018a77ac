package ribpb

import (
	"encoding/base64"

	"google.golang.org/protobuf/types/known/structpb"
)

// matchFieldsToMap flattens RouteMatchFields into the field set a
// google.protobuf.Struct can carry. structpb only accepts JSON-ish scalar
// types (no raw bytes), and proto3 string fields must be valid UTF-8, which
// raw IPv4/IPv6 address bytes essentially never are, so addresses travel
// base64-encoded.
func matchFieldsToMap(key RouteMatchFields) map[string]interface{} {
	return map[string]interface{}{
		"table_id":   float64(key.Table.TableID),
		"prefix_len": float64(key.PrefixLen),
		"family":     float64(key.Prefix.Family),
		"addr":       base64.StdEncoding.EncodeToString(key.Prefix.Addr),
	}
}

func updateRequestToMap(req *RouteUpdateRequest) map[string]interface{} {
	m := matchFieldsToMap(req.Key)
	m["protocol"] = float64(req.Protocol)

	nexthops := make([]interface{}, len(req.Nexthops))
	for i, nh := range req.Nexthops {
		nexthops[i] = map[string]interface{}{
			"if_index":  float64(nh.IfIndex),
			"gw_family": float64(nh.Gateway.Family),
			"gw_addr":   base64.StdEncoding.EncodeToString(nh.Gateway.Addr),
		}
	}
	m["nexthops"] = nexthops
	return m
}

// replyFromStruct decodes a RouteOperReply out of the wire Struct a server
// returned, defaulting to StatusSuccess when the field is absent (matching
// routing::RET_SUCCESS being the zero value of the original's enum).
func replyFromStruct(s *structpb.Struct) *RouteOperReply {
	status := StatusSuccess
	if v, ok := s.GetFields()["status"]; ok {
		status = ReplyStatus(int32(v.GetNumberValue()))
	}
	return &RouteOperReply{Status: status}
}
