// Package transport implements the framed message reader and connection
// supervisor shared by every network-facing role adapter.
package transport

import (
	"encoding/binary"
	"fmt"
)

// FPMVersion and FPMTypeNetlink are the only header values the FPM wire
// format currently defines.
const (
	FPMVersion     = 1
	FPMTypeNetlink = 1
	fpmHeaderLen   = 4
)

// Framing distinguishes the two wire formats the reader understands. FPM
// frames carry their own 4-byte header; NLM frames are bare netlink
// messages whose length lives in the first 4 bytes of the embedded
// nlmsghdr.
type Framing int

const (
	FPMFraming Framing = iota
	NLMFraming
)

func (f Framing) headerLen() int {
	if f == FPMFraming {
		return fpmHeaderLen
	}
	return NlmsghdrLen
}

// NlmsghdrLen is sizeof(struct nlmsghdr): mdlayher/netlink keeps its own
// equivalent constant unexported, so it is reproduced here and shared by
// every package that needs to reason about the raw nlmsghdr layout.
const NlmsghdrLen = 16

// ErrInvalidHeader is returned when a frame's header fails validation; the
// caller must treat this as a protocol fault — tear the connection down and
// let the supervisor retry.
var ErrInvalidHeader = fmt.Errorf("transport: invalid frame header")

// FrameReader extracts length-delimited records from a growing buffer,
// tolerating arbitrary TCP chunking. It never consumes a partial frame.
type FrameReader struct {
	framing Framing
	buf     []byte
}

// NewFrameReader builds a reader for the given wire framing.
func NewFrameReader(framing Framing) *FrameReader {
	return &FrameReader{framing: framing}
}

// Feed appends newly-read bytes to the reader's internal buffer.
func (r *FrameReader) Feed(b []byte) {
	r.buf = append(r.buf, b...)
}

// Next extracts the next complete frame from the buffer, if one is fully
// present. It returns ok=false (with no error) when more data is needed.
// Callers should loop calling Next after each Feed until ok is false, so
// that all complete frames are drained before the loop yields.
func (r *FrameReader) Next() (frame []byte, ok bool, err error) {
	hdrLen := r.framing.headerLen()
	if len(r.buf) < hdrLen {
		return nil, false, nil
	}

	msgLen, recordLen, verr := r.validateHeader(r.buf[:hdrLen])
	if verr != nil {
		return nil, false, verr
	}

	if len(r.buf) < recordLen {
		return nil, false, nil
	}

	frame = make([]byte, msgLen)
	copy(frame, r.buf[:msgLen])
	r.buf = r.buf[recordLen:]
	return frame, true, nil
}

// validateHeader peeks (without consuming) the header bytes. It returns
// msgLen, the logical message length callers should see, and recordLen, the
// number of wire bytes to consume before the next frame can begin.
// NLMSG_ALIGN padding between back-to-back NLM messages is part of
// recordLen but not msgLen, matching nla_nlmsg_walk's per-message length
// (not NLMSG_ALIGN(nlmsg_len)) in the original read loop.
func (r *FrameReader) validateHeader(hdr []byte) (msgLen int, recordLen int, err error) {
	switch r.framing {
	case FPMFraming:
		version := hdr[0]
		typ := hdr[1]
		length := int(binary.BigEndian.Uint16(hdr[2:4]))
		if version != FPMVersion || typ != FPMTypeNetlink || length < fpmHeaderLen {
			return 0, 0, ErrInvalidHeader
		}
		return length, length, nil
	default: // NLMFraming
		nlmsgLen := int(binary.LittleEndian.Uint32(hdr[0:4]))
		if nlmsgLen < NlmsghdrLen {
			return 0, 0, ErrInvalidHeader
		}
		return nlmsgLen, nlaAlign(nlmsgLen), nil
	}
}

func nlaAlign(n int) int { return (n + 3) &^ 3 }

// BuildFPMHeader returns the 4-byte FPM header for a payload of dataLen
// bytes (the netlink message that follows it).
func BuildFPMHeader(dataLen int) []byte {
	hdr := make([]byte, fpmHeaderLen)
	hdr[0] = FPMVersion
	hdr[1] = FPMTypeNetlink
	binary.BigEndian.PutUint16(hdr[2:4], uint16(fpmHeaderLen+dataLen))
	return hdr
}
