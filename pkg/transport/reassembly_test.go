package transport

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func mustFrames(t *testing.T, payload []byte) []Frame {
	t.Helper()
	frames, err := Fragment(payload)
	if err != nil {
		t.Fatalf("fragment: %v", err)
	}
	return frames
}

func TestReassembler_SequenceError(t *testing.T) {
	frames := mustFrames(t, make([]byte, 30))
	r := NewReassembler(MaxPayloadLength, 0)
	now := time.Now()

	if res := r.Process(frames[0], now); res.Status != StatusPending || !res.First {
		t.Fatalf("Expected Pending from FIRST, got %s", res.Status)
	}
	if res := r.Process(frames[1], now); res.Status != StatusPending {
		t.Fatalf("Expected Pending, got %s", res.Status)
	}

	// Skip frames[2]
	res := r.Process(frames[3], now)
	if res.Status != StatusError || !errors.Is(res.Err, ErrSequence) {
		t.Fatalf("Expected sequence error, got %s (%v)", res.Status, res.Err)
	}
	if res.Payload != nil {
		t.Errorf("Expected no partial data, got %d bytes", len(res.Payload))
	}
	if r.InProgress() || r.Accumulated() != 0 {
		t.Errorf("Expected context abandoned")
	}

	// Remaining frames have no context to join
	res = r.Process(frames[4], now)
	if !errors.Is(res.Err, ErrUnexpectedConsecutive) {
		t.Errorf("Expected ErrUnexpectedConsecutive, got %v", res.Err)
	}
}

func TestReassembler_NewFirstAbandonsPending(t *testing.T) {
	r := NewReassembler(MaxPayloadLength, 0)
	now := time.Now()

	old := mustFrames(t, bytes.Repeat([]byte{0xEE}, 40))
	r.Process(old[0], now)
	r.Process(old[1], now)

	payload := bytes.Repeat([]byte{0x11}, 10)
	fresh := mustFrames(t, payload)

	res := r.Process(fresh[0], now)
	if !res.Abandoned {
		t.Errorf("Expected previous context to be reported abandoned")
	}
	res = r.Process(fresh[1], now)
	if res.Status != StatusComplete || !bytes.Equal(res.Payload, payload) {
		t.Fatalf("Expected fresh payload, got %s % X", res.Status, res.Payload)
	}
}

func TestReassembler_Timeout(t *testing.T) {
	r := NewReassembler(MaxPayloadLength, 100*time.Millisecond)
	start := time.Now()
	frames := mustFrames(t, make([]byte, 20))

	r.Process(frames[0], start)

	if err := r.Expire(start.Add(50 * time.Millisecond)); err != nil {
		t.Fatalf("Expected no expiry yet, got %v", err)
	}

	res := r.Process(frames[1], start.Add(500*time.Millisecond))
	if !errors.Is(res.Err, ErrReassemblyTimeout) {
		t.Fatalf("Expected timeout, got %s (%v)", res.Status, res.Err)
	}
	if r.InProgress() {
		t.Errorf("Expected context discarded on timeout")
	}

	r.Process(frames[0], start)
	if err := r.Expire(start.Add(time.Second)); !errors.Is(err, ErrReassemblyTimeout) {
		t.Errorf("Expected Expire to report timeout, got %v", err)
	}
}

func TestReassembler_LengthCeiling(t *testing.T) {
	r := NewReassembler(64, 0)
	ff, err := NewFirstFrame(65, []byte{1, 2, 3, 4, 5, 6})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res := r.Process(ff, time.Now())
	if !errors.Is(res.Err, ErrLengthOverflow) {
		t.Fatalf("Expected ErrLengthOverflow, got %v", res.Err)
	}
	if r.InProgress() {
		t.Errorf("Expected no context for rejected transfer")
	}
}

func TestReassembler_FlowControlPassthrough(t *testing.T) {
	r := NewReassembler(MaxPayloadLength, 0)
	res := r.Process(NewFlowControlFrame(FlowWait, 0, 0), time.Now())
	if res.Status != StatusFlowControl || res.Frame.FlowStatus() != FlowWait {
		t.Errorf("Expected flow control result, got %s", res.Status)
	}
}
