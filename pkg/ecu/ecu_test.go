package ecu

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"avaneesh/uds-go/pkg/trace"
	"avaneesh/uds-go/pkg/transport"
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
	select {
	case m.out <- append([]byte(nil), data...):
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

type harness struct {
	ecu    *ECU
	client *transport.Layer
	sink   *trace.Memory
	done   chan error
	cancel context.CancelFunc
}

func startECU(t *testing.T, readTimeout time.Duration) *harness {
	t.Helper()

	cfg := DefaultECUConfig()
	cfg.Engine.Seed = FixedSeed(demoSeed)
	cfg.Transport.ReadTimeout = readTimeout
	cfg.Transport.FlowControlTimeout = 200 * time.Millisecond
	cfg.Transport.ReassemblyTimeout = 200 * time.Millisecond

	ecuBus, testerBus := newMemBusPair()
	sink := &trace.Memory{}
	node, err := New(cfg, DefaultDatabase(""), ecuBus, nil, sink)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	clientCfg := cfg.Transport
	clientCfg.ReadTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		ecu:    node,
		client: transport.NewLayer(testerBus, clientCfg, nil),
		sink:   sink,
		done:   make(chan error, 1),
		cancel: cancel,
	}
	go func() { h.done <- node.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-h.done:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("Serve returned %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("Serve did not stop")
		}
	})
	return h
}

func (h *harness) request(t *testing.T, req []byte) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := h.client.Send(ctx, req); err != nil {
		t.Fatalf("send % X: %v", req, err)
	}
	resp, err := h.client.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	return resp
}

func TestECU_ReadVINOverBus(t *testing.T) {
	h := startECU(t, time.Second)

	resp := h.request(t, []byte{0x22, 0xF1, 0x90})
	want := append([]byte{0x62, 0xF1, 0x90}, "VIN12345678901234"...)
	if !bytes.Equal(resp, want) {
		t.Errorf("Got % X, want % X", resp, want)
	}
	if h.ecu.TransportStats().GetRxMessages() != 1 {
		t.Errorf("Expected one received message")
	}
}

func TestECU_DownloadCommitsImage(t *testing.T) {
	h := startECU(t, time.Second)

	resp := h.request(t, []byte{0x27, 0x01})
	if !bytes.Equal(resp, []byte{0x67, 0x01, 0xCA, 0xFE, 0xBA, 0xBE}) {
		t.Fatalf("Unexpected seed % X", resp)
	}
	if resp = h.request(t, []byte{0x27, 0x02, 0x60, 0x8A, 0x22, 0x8A}); !bytes.Equal(resp, []byte{0x67, 0x02}) {
		t.Fatalf("Unlock failed: % X", resp)
	}

	image := bytes.Repeat([]byte{0x5A, 0xA5}, 1000)
	req := []byte{0x34, 0x00, 0x00, 0x00, byte(len(image) >> 8), byte(len(image)), 0x08, 0x01, 0x00, 0x00}
	if resp = h.request(t, req); !bytes.Equal(resp, []byte{0x74, 0x00, 0x0F, 0xFF}) {
		t.Fatalf("Download refused: % X", resp)
	}

	const chunk = 700
	seq := byte(1)
	for off := 0; off < len(image); off += chunk {
		end := min(off+chunk, len(image))
		block := append([]byte{0x36, seq}, image[off:end]...)
		if resp = h.request(t, block); !bytes.Equal(resp, []byte{0x76, seq}) {
			t.Fatalf("Block %d refused: % X", seq, resp)
		}
		seq++
	}

	if resp = h.request(t, []byte{0x37}); !bytes.Equal(resp, []byte{0x77}) {
		t.Fatalf("Exit refused: % X", resp)
	}

	images := h.ecu.FlashImages()
	if len(images) != 1 {
		t.Fatalf("Expected one flashed image, got %d", len(images))
	}
	if images[0].Address != 0x08010000 || !bytes.Equal(images[0].Data, image) {
		t.Errorf("Unexpected image %s", images[0])
	}
	if h.ecu.State().Completed != nil {
		t.Errorf("Completed image must be committed, not kept in state")
	}
}

func TestECU_IdleTimeoutAbortsDownload(t *testing.T) {
	h := startECU(t, 100*time.Millisecond)

	h.request(t, []byte{0x27, 0x01})
	h.request(t, []byte{0x27, 0x02, 0x60, 0x8A, 0x22, 0x8A})
	h.request(t, []byte{0x34, 0x00, 0x00, 0x00, 0x01, 0x00})
	if h.ecu.State().Download == nil {
		t.Fatalf("Expected download in progress")
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.ecu.State().Download != nil {
		if time.Now().After(deadline) {
			t.Fatalf("Download was not aborted")
		}
		time.Sleep(20 * time.Millisecond)
	}

	st := h.ecu.State()
	if !st.Unlocked() {
		t.Errorf("Idle timeout must leave security untouched, got %s", st.Security)
	}
	if resp := h.request(t, []byte{0x36, 0x01, 0x00}); !bytes.Equal(resp, []byte{0x7F, 0x36, 0x24}) {
		t.Errorf("Expected sequence error after abort, got % X", resp)
	}
}

func TestECU_SuppressedResponse(t *testing.T) {
	h := startECU(t, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.client.Send(ctx, []byte{0x3E, 0x80}); err != nil {
		t.Fatalf("send: %v", err)
	}

	// The next response on the bus must belong to the next request
	resp := h.request(t, []byte{0x3E, 0x00})
	if !bytes.Equal(resp, []byte{0x7E, 0x00}) {
		t.Errorf("Got % X", resp)
	}
}

func TestECU_Reset(t *testing.T) {
	h := startECU(t, time.Second)

	h.request(t, []byte{0x10, 0x03})
	h.ecu.Reset()

	st := h.ecu.State()
	if st.Session != NewSessionState().Session {
		t.Errorf("Expected default session after reset, got %s", st.Session)
	}
	if h.sink.Count(trace.KindReset) != 1 {
		t.Errorf("Expected reset event")
	}

	// Still serving
	if resp := h.request(t, []byte{0x3E, 0x00}); !bytes.Equal(resp, []byte{0x7E, 0x00}) {
		t.Errorf("Got % X", resp)
	}
}

func TestECUConfig_Validate(t *testing.T) {
	cfg := DefaultECUConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}

	bad := cfg
	bad.ResponseID = bad.RequestID
	if bad.Validate() == nil {
		t.Errorf("Expected error for equal IDs")
	}

	bad = cfg
	bad.Engine.MaxBlockLength = 5000
	if bad.Validate() == nil {
		t.Errorf("Expected error for block length above payload limit")
	}
}
