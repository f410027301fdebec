package transport

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestFragment_SingleFrame(t *testing.T) {
	for n := 0; n <= SingleFrameMaxData; n++ {
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = byte(0xA0 + i)
		}

		frames, err := Fragment(payload)
		if err != nil {
			t.Fatalf("len %d: unexpected error: %v", n, err)
		}
		if len(frames) != 1 {
			t.Fatalf("len %d: Expected 1 frame, got %d", n, len(frames))
		}

		raw := frames[0].Bytes()
		if raw[0] != byte(n) {
			t.Errorf("len %d: Expected header 0x%02X, got 0x%02X", n, n, raw[0])
		}
		if !bytes.Equal(raw[1:1+n], payload) {
			t.Errorf("len %d: payload mismatch", n)
		}
		for i := 1 + n; i < FrameCapacity; i++ {
			if raw[i] != 0 {
				t.Errorf("len %d: Expected zero padding at %d, got 0x%02X", n, i, raw[i])
			}
		}
	}
}

func TestFragment_MultiFrame(t *testing.T) {
	payload := make([]byte, 20)
	for i := range payload {
		payload[i] = byte(i + 1)
	}

	frames, err := Fragment(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 6 bytes in FIRST, then 7 + 7
	if len(frames) != 3 {
		t.Fatalf("Expected 3 frames, got %d", len(frames))
	}

	first := frames[0].Bytes()
	want := [FrameCapacity]byte{0x10, 0x14, 1, 2, 3, 4, 5, 6}
	if first != want {
		t.Errorf("FIRST frame: expected % X, got % X", want, first)
	}

	cf1 := frames[1].Bytes()
	if cf1[0] != 0x21 {
		t.Errorf("Expected first consecutive header 0x21, got 0x%02X", cf1[0])
	}

	cf2 := frames[2].Bytes()
	want = [FrameCapacity]byte{0x22, 14, 15, 16, 17, 18, 19, 20}
	if cf2 != want {
		t.Errorf("Last frame: expected % X, got % X", want, cf2)
	}
}

func TestFragment_FrameCount(t *testing.T) {
	tests := []struct {
		length int
		frames int
	}{
		{8, 2},
		{13, 2},
		{14, 3},
		{100, 15},
		{MaxPayloadLength, 1 + (MaxPayloadLength-6+6)/7},
	}

	for _, tt := range tests {
		frames, err := Fragment(make([]byte, tt.length))
		if err != nil {
			t.Fatalf("len %d: unexpected error: %v", tt.length, err)
		}
		if len(frames) != tt.frames {
			t.Errorf("len %d: Expected %d frames, got %d", tt.length, tt.frames, len(frames))
		}
	}
}

func TestFragment_SequenceWraps(t *testing.T) {
	// Enough data for 17 consecutive frames
	payload := make([]byte, FirstFrameData+17*ConsecutiveData)
	frames, err := Fragment(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []uint8{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 0, 1}
	for i, seq := range expected {
		got := frames[i+1].SequenceNumber()
		if got != seq {
			t.Errorf("Consecutive frame %d: expected seq %d, got %d", i, seq, got)
		}
	}
}

func TestFragment_LengthOverflow(t *testing.T) {
	_, err := Fragment(make([]byte, MaxPayloadLength+1))
	if !errors.Is(err, ErrLengthOverflow) {
		t.Fatalf("Expected ErrLengthOverflow, got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	lengths := []int{0, 1, 6, 7, 8, 13, 14, 15, 62, 111, 112, 500, 4094, MaxPayloadLength}

	for _, n := range lengths {
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = byte(i*7 + n)
		}

		frames, err := Fragment(payload)
		if err != nil {
			t.Fatalf("len %d: fragment error: %v", n, err)
		}

		r := NewReassembler(MaxPayloadLength, 0)
		now := time.Now()
		var result Result
		for i, f := range frames {
			raw := f.Bytes()
			parsed, err := ParseFrame(raw[:])
			if err != nil {
				t.Fatalf("len %d frame %d: parse error: %v", n, i, err)
			}
			result = r.Process(parsed, now)
			if i < len(frames)-1 && result.Status != StatusPending {
				t.Fatalf("len %d frame %d: expected Pending, got %s", n, i, result.Status)
			}
		}

		if result.Status != StatusComplete {
			t.Fatalf("len %d: expected Complete, got %s (%v)", n, result.Status, result.Err)
		}
		if !bytes.Equal(result.Payload, payload) {
			t.Errorf("len %d: payload mismatch", n)
		}
		if r.InProgress() {
			t.Errorf("len %d: context should be discarded after completion", n)
		}
	}
}

func TestParseFrame_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"empty", []byte{}},
		{"single too long", []byte{0x08, 1, 2, 3, 4, 5, 6, 7}},
		{"single truncated", []byte{0x05, 1, 2}},
		{"first too short", []byte{0x10, 0x07, 1, 2, 3, 4, 5, 6}},
		{"first truncated", []byte{0x10}},
		{"flow status reserved", []byte{0x35, 0, 0, 0, 0, 0, 0, 0}},
		{"flow truncated", []byte{0x30, 0x00}},
		{"unknown type", []byte{0x40, 0, 0, 0, 0, 0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFrame(tt.raw)
			if !errors.Is(err, ErrMalformedFrame) {
				t.Errorf("Expected ErrMalformedFrame, got %v", err)
			}
		})
	}
}

func TestParseFrame_IgnoresPadding(t *testing.T) {
	f, err := ParseFrame([]byte{0x03, 0x22, 0xF1, 0x90, 0xAA, 0xAA, 0xAA, 0xAA})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(f.Data(), []byte{0x22, 0xF1, 0x90}) {
		t.Errorf("Expected 3 payload bytes, got % X", f.Data())
	}
}

func TestFlowControlFrame_Layout(t *testing.T) {
	f := NewFlowControlFrame(FlowContinue, 8, 0x14)
	raw := f.Bytes()
	want := [FrameCapacity]byte{0x30, 0x08, 0x14}
	if raw != want {
		t.Errorf("Expected % X, got % X", want, raw)
	}

	parsed, err := ParseFrame(raw[:])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.FlowStatus() != FlowContinue || parsed.BlockSize() != 8 || parsed.STmin() != 0x14 {
		t.Errorf("Unexpected parse result %s", parsed)
	}
}
