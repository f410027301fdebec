package transport

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

// memBus is one end of an in-memory frame pipe
type memBus struct {
	in  <-chan []byte
	out chan<- []byte
}

func newMemBusPair() (*memBus, *memBus) {
	a := make(chan []byte, 1024)
	b := make(chan []byte, 1024)
	return &memBus{in: a, out: b}, &memBus{in: b, out: a}
}

func (m *memBus) SendFrame(ctx context.Context, data []byte) error {
	frame := append([]byte(nil), data...)
	select {
	case m.out <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *memBus) ReceiveFrame(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-m.in:
		return f, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func testConfig() TransportConfig {
	cfg := DefaultTransportConfig()
	cfg.ReadTimeout = 500 * time.Millisecond
	cfg.FlowControlTimeout = 200 * time.Millisecond
	cfg.ReassemblyTimeout = 200 * time.Millisecond
	return cfg
}

func TestLayer_EndToEnd(t *testing.T) {
	tests := []struct {
		name      string
		length    int
		blockSize uint8
		flow      bool
	}{
		{"single", 3, 0, true},
		{"two frames", 8, 0, true},
		{"medium", 300, 0, true},
		{"block size 4", 300, 4, true},
		{"max", MaxPayloadLength, 0, true},
		{"no flow control", 300, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			cfg := testConfig()
			cfg.BlockSize = tt.blockSize
			cfg.FlowControl = tt.flow

			busA, busB := newMemBusPair()
			sender := NewLayer(busA, cfg, nil)
			receiver := NewLayer(busB, cfg, nil)

			payload := make([]byte, tt.length)
			for i := range payload {
				payload[i] = byte(i)
			}

			type result struct {
				data []byte
				err  error
			}
			done := make(chan result, 1)
			go func() {
				data, err := receiver.Receive(ctx)
				done <- result{data, err}
			}()

			if err := sender.Send(ctx, payload); err != nil {
				t.Fatalf("Send failed: %v", err)
			}

			res := <-done
			if res.err != nil {
				t.Fatalf("Receive failed: %v", res.err)
			}
			if !bytes.Equal(res.data, payload) {
				t.Fatalf("Payload mismatch: got %d bytes", len(res.data))
			}

			if sender.GetStats().GetTxMessages() != 1 {
				t.Errorf("Expected 1 TX message, got %d", sender.GetStats().GetTxMessages())
			}
			if receiver.GetStats().GetRxMessages() != 1 {
				t.Errorf("Expected 1 RX message, got %d", receiver.GetStats().GetRxMessages())
			}
		})
	}
}

func TestLayer_FlowControlTimeout(t *testing.T) {
	ctx := context.Background()
	busA, _ := newMemBusPair()
	sender := NewLayer(busA, testConfig(), nil)

	err := sender.Send(ctx, make([]byte, 100))
	if !errors.Is(err, ErrFlowControlTimeout) {
		t.Fatalf("Expected ErrFlowControlTimeout, got %v", err)
	}
	if sender.GetStats().GetFlowControlTimeouts() != 1 {
		t.Errorf("Expected flow control timeout to be counted")
	}

	// The sender is usable again after the failure
	if err := sender.Send(ctx, []byte{0x3E, 0x00}); err != nil {
		t.Errorf("Expected single frame send to succeed, got %v", err)
	}
}

func TestLayer_IdleTimeoutIsNoWork(t *testing.T) {
	cfg := testConfig()
	cfg.ReadTimeout = 20 * time.Millisecond
	_, busB := newMemBusPair()
	receiver := NewLayer(busB, cfg, nil)

	data, err := receiver.Receive(context.Background())
	if err != nil || data != nil {
		t.Fatalf("Expected nil, nil on idle timeout, got % X, %v", data, err)
	}
}

func TestLayer_ReassemblyTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.FlowControl = false
	busA, busB := newMemBusPair()
	receiver := NewLayer(busB, cfg, nil)

	ff, _ := NewFirstFrame(20, []byte{1, 2, 3, 4, 5, 6})
	raw := ff.Bytes()
	if err := busA.SendFrame(context.Background(), raw[:]); err != nil {
		t.Fatalf("send: %v", err)
	}

	_, err := receiver.Receive(context.Background())
	if !errors.Is(err, ErrReassemblyTimeout) {
		t.Fatalf("Expected ErrReassemblyTimeout, got %v", err)
	}
	if receiver.InProgress() {
		t.Errorf("Expected context discarded")
	}
}

func TestLayer_RecoversAfterSequenceError(t *testing.T) {
	cfg := testConfig()
	cfg.FlowControl = false
	busA, busB := newMemBusPair()
	receiver := NewLayer(busB, cfg, nil)
	ctx := context.Background()

	bad := mustFrames(t, make([]byte, 30))
	for _, i := range []int{0, 2} {
		raw := bad[i].Bytes()
		busA.SendFrame(ctx, raw[:])
	}

	good := []byte{0x22, 0xF1, 0x90}
	sf, _ := NewSingleFrame(good)
	raw := sf.Bytes()
	busA.SendFrame(ctx, raw[:])

	data, err := receiver.Receive(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(data, good) {
		t.Errorf("Expected % X, got % X", good, data)
	}
	if receiver.GetStats().GetSequenceErrors() != 1 {
		t.Errorf("Expected 1 sequence error, got %d", receiver.GetStats().GetSequenceErrors())
	}
}

func TestLayer_RejectsOversizedTransfer(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPayloadLength = 64
	busA, busB := newMemBusPair()
	receiver := NewLayer(busB, cfg, nil)
	ctx := context.Background()

	ff, _ := NewFirstFrame(100, []byte{1, 2, 3, 4, 5, 6})
	raw := ff.Bytes()
	busA.SendFrame(ctx, raw[:])

	go func() {
		time.Sleep(50 * time.Millisecond)
		sf, _ := NewSingleFrame([]byte{0x3E, 0x00})
		raw := sf.Bytes()
		busA.SendFrame(ctx, raw[:])
	}()

	data, err := receiver.Receive(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(data, []byte{0x3E, 0x00}) {
		t.Errorf("Expected tester present payload, got % X", data)
	}

	// The receiver answered the oversized FIRST frame with OVERFLOW
	fcRaw, _ := busA.ReceiveFrame(ctx, 100*time.Millisecond)
	fc, err := ParseFrame(fcRaw)
	if err != nil || fc.Type() != FrameFlowControl || fc.FlowStatus() != FlowOverflow {
		t.Errorf("Expected OVERFLOW flow control, got %v (%v)", fc, err)
	}

	if _, err := NewLayer(busA, cfg, nil).tx.Start(make([]byte, 5000)); !errors.Is(err, ErrLengthOverflow) {
		t.Errorf("Expected ErrLengthOverflow, got %v", err)
	}
}
