package transport

import (
	"errors"
	"fmt"
)

// Frame layout constants
const (
	FrameCapacity      = 8    // Fixed bytes per bus frame
	MaxPayloadLength   = 4095 // 12-bit FIRST frame length field
	SingleFrameMaxData = 7    // Payload bytes carried by a SINGLE frame
	FirstFrameData     = 6    // Payload bytes carried by a FIRST frame
	ConsecutiveData    = 7    // Payload bytes carried by a CONSECUTIVE frame
	SequenceMask       = 0x0F
	pciTypeShift       = 4
	pciLowMask         = 0x0F
)

var (
	ErrMalformedFrame = errors.New("malformed frame header")
	ErrLengthOverflow = errors.New("payload length exceeds transport limit")
)

// FrameType is the 4-bit protocol control information tag
type FrameType uint8

const (
	FrameSingle      FrameType = 0x0
	FrameFirst       FrameType = 0x1
	FrameConsecutive FrameType = 0x2
	FrameFlowControl FrameType = 0x3
)

// String returns string representation of FrameType
func (t FrameType) String() string {
	switch t {
	case FrameSingle:
		return "SINGLE"
	case FrameFirst:
		return "FIRST"
	case FrameConsecutive:
		return "CONSECUTIVE"
	case FrameFlowControl:
		return "FLOW_CONTROL"
	default:
		return "UNKNOWN"
	}
}

// FlowStatus is carried in the low nibble of a FLOW_CONTROL frame
type FlowStatus uint8

const (
	FlowContinue FlowStatus = 0x0 // Clear to send
	FlowWait     FlowStatus = 0x1
	FlowOverflow FlowStatus = 0x2
)

// String returns string representation of FlowStatus
func (s FlowStatus) String() string {
	switch s {
	case FlowContinue:
		return "CTS"
	case FlowWait:
		return "WAIT"
	case FlowOverflow:
		return "OVERFLOW"
	default:
		return "UNKNOWN"
	}
}

// Frame is one 8-byte transport frame. Fields are populated according to
// the frame type; use the constructors and accessors rather than building
// a Frame by hand.
type Frame struct {
	typ FrameType

	// SINGLE: payload length. FIRST: declared total length.
	length int

	// CONSECUTIVE sequence number (0-15)
	seq uint8

	// FLOW_CONTROL fields
	status    FlowStatus
	blockSize uint8
	stMin     uint8

	// Payload bytes carried by this frame, without padding
	data []byte
}

// NewSingleFrame builds a SINGLE frame carrying the whole payload
func NewSingleFrame(payload []byte) (Frame, error) {
	if len(payload) > SingleFrameMaxData {
		return Frame{}, fmt.Errorf("single frame payload %d bytes: %w", len(payload), ErrLengthOverflow)
	}
	return Frame{
		typ:    FrameSingle,
		length: len(payload),
		data:   append([]byte(nil), payload...),
	}, nil
}

// NewFirstFrame builds a FIRST frame announcing totalLength and carrying
// up to the first six payload bytes
func NewFirstFrame(totalLength int, head []byte) (Frame, error) {
	if totalLength > MaxPayloadLength {
		return Frame{}, fmt.Errorf("first frame length %d: %w", totalLength, ErrLengthOverflow)
	}
	if totalLength <= SingleFrameMaxData {
		return Frame{}, fmt.Errorf("first frame length %d fits a single frame: %w", totalLength, ErrMalformedFrame)
	}
	if len(head) > FirstFrameData {
		head = head[:FirstFrameData]
	}
	return Frame{
		typ:    FrameFirst,
		length: totalLength,
		data:   append([]byte(nil), head...),
	}, nil
}

// NewConsecutiveFrame builds a CONSECUTIVE frame with the given 4-bit
// sequence number and up to seven payload bytes
func NewConsecutiveFrame(seq uint8, chunk []byte) (Frame, error) {
	if len(chunk) > ConsecutiveData {
		return Frame{}, fmt.Errorf("consecutive frame chunk %d bytes: %w", len(chunk), ErrLengthOverflow)
	}
	return Frame{
		typ:  FrameConsecutive,
		seq:  seq & SequenceMask,
		data: append([]byte(nil), chunk...),
	}, nil
}

// NewFlowControlFrame builds a FLOW_CONTROL frame
func NewFlowControlFrame(status FlowStatus, blockSize, stMin uint8) Frame {
	return Frame{
		typ:       FrameFlowControl,
		status:    status,
		blockSize: blockSize,
		stMin:     stMin,
	}
}

// Type returns the frame type
func (f Frame) Type() FrameType { return f.typ }

// Length returns the SINGLE payload length or the FIRST declared total length
func (f Frame) Length() int { return f.length }

// SequenceNumber returns the CONSECUTIVE sequence number
func (f Frame) SequenceNumber() uint8 { return f.seq }

// FlowStatus returns the FLOW_CONTROL status
func (f Frame) FlowStatus() FlowStatus { return f.status }

// BlockSize returns the FLOW_CONTROL block size (0 = no further flow control)
func (f Frame) BlockSize() uint8 { return f.blockSize }

// STmin returns the raw FLOW_CONTROL separation time byte
func (f Frame) STmin() uint8 { return f.stMin }

// Data returns the payload bytes carried by the frame
func (f Frame) Data() []byte { return f.data }

// Bytes serializes the frame into its fixed 8-byte, zero-padded form
func (f Frame) Bytes() [FrameCapacity]byte {
	var out [FrameCapacity]byte

	switch f.typ {
	case FrameSingle:
		out[0] = byte(FrameSingle)<<pciTypeShift | byte(f.length&pciLowMask)
		copy(out[1:], f.data)
	case FrameFirst:
		out[0] = byte(FrameFirst)<<pciTypeShift | byte((f.length>>8)&pciLowMask)
		out[1] = byte(f.length)
		copy(out[2:], f.data)
	case FrameConsecutive:
		out[0] = byte(FrameConsecutive)<<pciTypeShift | (f.seq & SequenceMask)
		copy(out[1:], f.data)
	case FrameFlowControl:
		out[0] = byte(FrameFlowControl)<<pciTypeShift | byte(f.status)&pciLowMask
		out[1] = f.blockSize
		out[2] = f.stMin
	}

	return out
}

// ParseFrame decodes a raw bus payload. Bytes beyond the header-declared
// length are padding and are ignored.
func ParseFrame(raw []byte) (Frame, error) {
	if len(raw) < 1 {
		return Frame{}, fmt.Errorf("empty frame: %w", ErrMalformedFrame)
	}
	if len(raw) > FrameCapacity {
		raw = raw[:FrameCapacity]
	}

	typ := FrameType(raw[0] >> pciTypeShift)
	low := raw[0] & pciLowMask

	switch typ {
	case FrameSingle:
		n := int(low)
		if n > SingleFrameMaxData || n > len(raw)-1 {
			return Frame{}, fmt.Errorf("single frame length %d: %w", n, ErrMalformedFrame)
		}
		return Frame{typ: typ, length: n, data: append([]byte(nil), raw[1:1+n]...)}, nil

	case FrameFirst:
		if len(raw) < 2 {
			return Frame{}, fmt.Errorf("first frame truncated: %w", ErrMalformedFrame)
		}
		total := int(low)<<8 | int(raw[1])
		if total <= SingleFrameMaxData {
			return Frame{}, fmt.Errorf("first frame length %d: %w", total, ErrMalformedFrame)
		}
		end := len(raw)
		if end > 2+FirstFrameData {
			end = 2 + FirstFrameData
		}
		return Frame{typ: typ, length: total, data: append([]byte(nil), raw[2:end]...)}, nil

	case FrameConsecutive:
		return Frame{typ: typ, seq: low, data: append([]byte(nil), raw[1:]...)}, nil

	case FrameFlowControl:
		status := FlowStatus(low)
		if status > FlowOverflow {
			return Frame{}, fmt.Errorf("flow status 0x%X: %w", low, ErrMalformedFrame)
		}
		if len(raw) < 3 {
			return Frame{}, fmt.Errorf("flow control truncated: %w", ErrMalformedFrame)
		}
		return Frame{typ: typ, status: status, blockSize: raw[1], stMin: raw[2]}, nil

	default:
		return Frame{}, fmt.Errorf("frame type 0x%X: %w", uint8(typ), ErrMalformedFrame)
	}
}

// String returns a short description of the frame
func (f Frame) String() string {
	switch f.typ {
	case FrameSingle:
		return fmt.Sprintf("SF{len=%d data=% X}", f.length, f.data)
	case FrameFirst:
		return fmt.Sprintf("FF{total=%d data=% X}", f.length, f.data)
	case FrameConsecutive:
		return fmt.Sprintf("CF{seq=%d data=% X}", f.seq, f.data)
	case FrameFlowControl:
		return fmt.Sprintf("FC{%s bs=%d stmin=0x%02X}", f.status, f.blockSize, f.stMin)
	default:
		return "Frame{?}"
	}
}
