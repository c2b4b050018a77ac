package ribpb

import (
	"testing"

	"google.golang.org/protobuf/types/known/structpb"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func TestMatchFieldsToMapRoundTripsThroughStruct(t *testing.T) {
	key := RouteMatchFields{
		Table:     RouteTable{TableID: 254},
		Prefix:    NetworkAddress{Family: AddressFamilyIPv4, Addr: []byte{10, 0, 0, 0}},
		PrefixLen: 24,
	}

	s, err := structpb.NewStruct(matchFieldsToMap(key))
	assert.NilError(t, err)

	assert.Check(t, is.Equal(s.GetFields()["table_id"].GetNumberValue(), float64(254)))
	assert.Check(t, is.Equal(s.GetFields()["prefix_len"].GetNumberValue(), float64(24)))
}

func TestReplyFromStructDefaultsToSuccess(t *testing.T) {
	s, err := structpb.NewStruct(map[string]interface{}{})
	assert.NilError(t, err)

	reply := replyFromStruct(s)
	assert.Check(t, is.Equal(reply.Status, StatusSuccess))
}

func TestReplyFromStructReadsFailure(t *testing.T) {
	s, err := structpb.NewStruct(map[string]interface{}{"status": float64(StatusFailure)})
	assert.NilError(t, err)

	reply := replyFromStruct(s)
	assert.Check(t, is.Equal(reply.Status, StatusFailure))
}
