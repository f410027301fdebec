package transport

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrFlowControlTimeout  = errors.New("flow control timeout")
	ErrFlowControlOverflow = errors.New("receiver reported buffer overflow")
	ErrSenderBusy          = errors.New("sender already has a transfer in progress")
	ErrSenderState         = errors.New("operation not valid in current sender state")
)

// SenderState tracks the sending side of a segmented transfer
type SenderState int

const (
	SenderIdle SenderState = iota
	SenderAwaitFlowControl
	SenderFlowControlReceived
)

// String returns string representation of SenderState
func (s SenderState) String() string {
	switch s {
	case SenderIdle:
		return "Idle"
	case SenderAwaitFlowControl:
		return "AwaitFlowControl"
	case SenderFlowControlReceived:
		return "FlowControlReceived"
	default:
		return "Unknown"
	}
}

// Sender paces CONSECUTIVE frames behind the receiver's flow control.
// It performs no I/O; Layer drives it against a FrameBus.
type Sender struct {
	state     SenderState
	pending   []Frame
	blockSize uint8
	stMin     time.Duration
}

// NewSender creates an idle sender
func NewSender() *Sender {
	return &Sender{}
}

// Start fragments payload and returns the frame to transmit first.
// A SINGLE frame completes the transfer; a FIRST frame moves the sender
// to SenderAwaitFlowControl.
func (s *Sender) Start(payload []byte) (Frame, error) {
	if s.state != SenderIdle {
		return Frame{}, ErrSenderBusy
	}

	frames, err := Fragment(payload)
	if err != nil {
		return Frame{}, err
	}

	if len(frames) > 1 {
		s.pending = frames[1:]
		s.state = SenderAwaitFlowControl
	}
	return frames[0], nil
}

// OnFlowControl applies a FLOW_CONTROL frame received while awaiting one
func (s *Sender) OnFlowControl(fc Frame) error {
	if s.state != SenderAwaitFlowControl {
		return fmt.Errorf("flow control in state %s: %w", s.state, ErrSenderState)
	}
	if fc.Type() != FrameFlowControl {
		return fmt.Errorf("expected flow control, got %s: %w", fc.Type(), ErrMalformedFrame)
	}

	switch fc.FlowStatus() {
	case FlowContinue:
		s.blockSize = fc.BlockSize()
		s.stMin = DecodeSTmin(fc.STmin())
		s.state = SenderFlowControlReceived
		return nil
	case FlowWait:
		return nil
	case FlowOverflow:
		s.Abort()
		return ErrFlowControlOverflow
	default:
		return ErrMalformedFrame
	}
}

// SkipFlowControl releases all remaining frames without waiting for the
// receiver, for peers that never send flow control
func (s *Sender) SkipFlowControl() {
	if s.state == SenderAwaitFlowControl {
		s.blockSize = 0
		s.state = SenderFlowControlReceived
	}
}

// NextBurst returns the CONSECUTIVE frames allowed by the last flow control
// and moves to SenderAwaitFlowControl if frames remain, else SenderIdle
func (s *Sender) NextBurst() ([]Frame, error) {
	if s.state != SenderFlowControlReceived {
		return nil, fmt.Errorf("burst in state %s: %w", s.state, ErrSenderState)
	}

	n := len(s.pending)
	if s.blockSize > 0 && int(s.blockSize) < n {
		n = int(s.blockSize)
	}

	burst := s.pending[:n]
	s.pending = s.pending[n:]

	if len(s.pending) > 0 {
		s.state = SenderAwaitFlowControl
	} else {
		s.pending = nil
		s.state = SenderIdle
	}
	return burst, nil
}

// SeparationTime returns the minimum gap between CONSECUTIVE frames
// requested by the receiver
func (s *Sender) SeparationTime() time.Duration {
	return s.stMin
}

// Remaining returns the number of frames not yet released
func (s *Sender) Remaining() int {
	return len(s.pending)
}

// State returns the current sender state
func (s *Sender) State() SenderState {
	return s.state
}

// Abort drops any in-flight transfer
func (s *Sender) Abort() {
	s.pending = nil
	s.blockSize = 0
	s.stMin = 0
	s.state = SenderIdle
}

// DecodeSTmin converts the separation time byte of a FLOW_CONTROL frame.
// 0x00-0x7F are milliseconds, 0xF1-0xF9 are 100-900 microseconds, and
// reserved values are treated as the maximum of 127 ms.
func DecodeSTmin(b uint8) time.Duration {
	switch {
	case b <= 0x7F:
		return time.Duration(b) * time.Millisecond
	case b >= 0xF1 && b <= 0xF9:
		return time.Duration(b-0xF0) * 100 * time.Microsecond
	default:
		return 127 * time.Millisecond
	}
}

// EncodeSTmin converts a duration into the separation time byte
func EncodeSTmin(d time.Duration) uint8 {
	switch {
	case d <= 0:
		return 0
	case d < time.Millisecond:
		us := d / (100 * time.Microsecond)
		if us < 1 {
			us = 1
		}
		return 0xF0 + uint8(us)
	case d >= 127*time.Millisecond:
		return 0x7F
	default:
		return uint8(d / time.Millisecond)
	}
}
