package transport

import (
	"bytes"
	"errors"
	"fmt"
	"time"
)

var (
	ErrSequence              = errors.New("consecutive frame sequence mismatch")
	ErrUnexpectedConsecutive = errors.New("consecutive frame without first frame")
	ErrReassemblyTimeout     = errors.New("reassembly timeout")
)

// Status is the outcome of processing one received frame
type Status int

const (
	StatusPending Status = iota
	StatusComplete
	StatusError
	StatusFlowControl
)

// String returns string representation of Status
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusComplete:
		return "Complete"
	case StatusError:
		return "Error"
	case StatusFlowControl:
		return "FlowControl"
	default:
		return "Unknown"
	}
}

// Result reports what Process did with a frame
type Result struct {
	Status  Status
	Payload []byte // Set when Status is StatusComplete
	Err     error  // Set when Status is StatusError
	First   bool   // A FIRST frame opened a new context
	Frame   Frame  // The flow control frame when Status is StatusFlowControl

	// Abandoned is true when an earlier incomplete transfer was dropped
	Abandoned bool
}

// Reassembler rebuilds payloads from received frames. It holds at most one
// in-flight context; a new FIRST frame replaces any pending one.
type Reassembler struct {
	buffer      bytes.Buffer
	total       int
	expectedSeq uint8
	inProgress  bool
	deadline    time.Time
	received    int // CONSECUTIVE frames since the last flow control

	maxLength int
	timeout   time.Duration
}

// NewReassembler creates a reassembler with the given length ceiling and
// per-frame timeout (zero disables the deadline)
func NewReassembler(maxLength int, timeout time.Duration) *Reassembler {
	if maxLength <= 0 || maxLength > MaxPayloadLength {
		maxLength = MaxPayloadLength
	}
	return &Reassembler{
		maxLength: maxLength,
		timeout:   timeout,
	}
}

// Process processes one received frame at time now
func (r *Reassembler) Process(f Frame, now time.Time) Result {
	switch f.Type() {
	case FrameSingle:
		abandoned := r.inProgress
		r.Reset()
		payload := append(make([]byte, 0, f.Length()), f.Data()...)
		return Result{Status: StatusComplete, Payload: payload, Abandoned: abandoned}

	case FrameFirst:
		abandoned := r.inProgress
		r.Reset()

		// Reject before allocating anything for the transfer
		if f.Length() > r.maxLength {
			return Result{
				Status:    StatusError,
				Err:       fmt.Errorf("declared length %d exceeds %d: %w", f.Length(), r.maxLength, ErrLengthOverflow),
				Abandoned: abandoned,
			}
		}

		r.buffer.Grow(f.Length())
		r.buffer.Write(f.Data())
		r.total = f.Length()
		r.expectedSeq = FirstSequence
		r.inProgress = true
		r.touch(now)
		return Result{Status: StatusPending, First: true, Abandoned: abandoned}

	case FrameConsecutive:
		if !r.inProgress {
			return Result{Status: StatusError, Err: ErrUnexpectedConsecutive}
		}

		if r.expired(now) {
			r.Reset()
			return Result{Status: StatusError, Err: ErrReassemblyTimeout}
		}

		if f.SequenceNumber() != r.expectedSeq {
			err := fmt.Errorf("expected %d, got %d: %w", r.expectedSeq, f.SequenceNumber(), ErrSequence)
			r.Reset()
			return Result{Status: StatusError, Err: err}
		}

		r.buffer.Write(f.Data())
		r.expectedSeq = nextSequence(r.expectedSeq)
		r.received++
		r.touch(now)

		if r.buffer.Len() >= r.total {
			// Trailing padding of the last frame is not data
			result := make([]byte, r.total)
			copy(result, r.buffer.Bytes()[:r.total])
			r.Reset()
			return Result{Status: StatusComplete, Payload: result}
		}
		return Result{Status: StatusPending}

	case FrameFlowControl:
		return Result{Status: StatusFlowControl, Frame: f}

	default:
		return Result{Status: StatusError, Err: ErrMalformedFrame}
	}
}

// Expire drops the in-flight context if its deadline has passed
func (r *Reassembler) Expire(now time.Time) error {
	if r.inProgress && r.expired(now) {
		r.Reset()
		return ErrReassemblyTimeout
	}
	return nil
}

// ConsecutiveSinceFlowControl returns the number of CONSECUTIVE frames
// accepted since the last call to ResetBlock
func (r *Reassembler) ConsecutiveSinceFlowControl() int {
	return r.received
}

// ResetBlock restarts the block counter after a flow control frame is sent
func (r *Reassembler) ResetBlock() {
	r.received = 0
}

// Reset resets the reassembler state
func (r *Reassembler) Reset() {
	r.buffer.Reset()
	r.total = 0
	r.expectedSeq = 0
	r.inProgress = false
	r.deadline = time.Time{}
	r.received = 0
}

// InProgress returns true if reassembly is in progress
func (r *Reassembler) InProgress() bool {
	return r.inProgress
}

// Accumulated returns the number of bytes collected for the current transfer
func (r *Reassembler) Accumulated() int {
	return r.buffer.Len()
}

func (r *Reassembler) touch(now time.Time) {
	if r.timeout > 0 {
		r.deadline = now.Add(r.timeout)
	}
}

func (r *Reassembler) expired(now time.Time) bool {
	return !r.deadline.IsZero() && now.After(r.deadline)
}
