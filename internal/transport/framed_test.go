package transport

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func fpmFrame(payload []byte) []byte {
	hdr := BuildFPMHeader(len(payload))
	return append(hdr, payload...)
}

func TestFrameReaderDrainsMultipleCompleteFrames(t *testing.T) {
	r := NewFrameReader(FPMFraming)
	f1 := fpmFrame([]byte("hello"))
	f2 := fpmFrame([]byte("world!!"))

	r.Feed(append(append([]byte{}, f1...), f2...))

	got1, ok, err := r.Next()
	assert.NilError(t, err)
	assert.Check(t, ok)
	assert.Check(t, is.DeepEqual(got1, f1))

	got2, ok, err := r.Next()
	assert.NilError(t, err)
	assert.Check(t, ok)
	assert.Check(t, is.DeepEqual(got2, f2))

	_, ok, err = r.Next()
	assert.NilError(t, err)
	assert.Check(t, !ok)
}

func TestFrameReaderToleratesArbitraryChunking(t *testing.T) {
	var all []byte
	var frames [][]byte
	for i := 0; i < 5; i++ {
		payload := make([]byte, 3+i*7)
		for j := range payload {
			payload[j] = byte(i)
		}
		f := fpmFrame(payload)
		frames = append(frames, f)
		all = append(all, f...)
	}

	rng := rand.New(rand.NewSource(1))
	r := NewFrameReader(FPMFraming)
	var got [][]byte

	for len(all) > 0 {
		n := 1 + rng.Intn(len(all))
		r.Feed(all[:n])
		all = all[n:]

		for {
			frame, ok, err := r.Next()
			assert.NilError(t, err)
			if !ok {
				break
			}
			got = append(got, frame)
		}
	}

	assert.Check(t, is.Len(got, len(frames)))
	for i := range frames {
		assert.Check(t, is.DeepEqual(got[i], frames[i]))
	}
}

func TestFrameReaderRejectsInvalidHeader(t *testing.T) {
	r := NewFrameReader(FPMFraming)
	bad := make([]byte, fpmHeaderLen)
	bad[0] = 9 // bogus version
	r.Feed(bad)

	_, _, err := r.Next()
	assert.Check(t, is.ErrorIs(err, ErrInvalidHeader))
}

func TestFrameReaderNLMFramingUsesNlmsgLen(t *testing.T) {
	r := NewFrameReader(NLMFraming)
	msg := make([]byte, 20)
	binary.LittleEndian.PutUint32(msg[0:4], 20)
	r.Feed(msg)

	frame, ok, err := r.Next()
	assert.NilError(t, err)
	assert.Check(t, ok)
	assert.Check(t, is.Len(frame, 20))
}

func TestFrameReaderNLMFramingStripsAlignmentPadding(t *testing.T) {
	r := NewFrameReader(NLMFraming)

	// nlmsg_len=18 is not 4-aligned, so the wire record is NLMSG_ALIGN(18)=20
	// bytes, but the message itself is only the first 18.
	first := make([]byte, 20)
	binary.LittleEndian.PutUint32(first[0:4], 18)
	for i := NlmsghdrLen; i < 18; i++ {
		first[i] = 0xAA
	}

	second := make([]byte, 16)
	binary.LittleEndian.PutUint32(second[0:4], 16)

	r.Feed(append(append([]byte{}, first...), second...))

	frame1, ok, err := r.Next()
	assert.NilError(t, err)
	assert.Check(t, ok)
	assert.Check(t, is.Len(frame1, 18))

	frame2, ok, err := r.Next()
	assert.NilError(t, err)
	assert.Check(t, ok)
	assert.Check(t, is.Len(frame2, 16))
	assert.Check(t, is.DeepEqual(frame2, second))
}
