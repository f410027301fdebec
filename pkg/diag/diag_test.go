package diag

import (
	"context"
	"testing"
	"time"

	"avaneesh/uds-go/pkg/channel"
	"avaneesh/uds-go/pkg/ecu"
	"avaneesh/uds-go/pkg/tester"
	"avaneesh/uds-go/pkg/trace"
	"avaneesh/uds-go/pkg/uds"
)

type bench struct {
	manager *Manager
	node    *ecu.ECU
	client  *tester.Tester
	sink    *trace.Memory
	ecuCh   Channel
}

func newBench(t *testing.T) *bench {
	t.Helper()

	m := NewManagerWithLogger(nil)
	t.Cleanup(func() { m.Shutdown() })

	br := channel.NewBridge(time.Millisecond)
	a, b := br.Ends()

	ecuCh, err := m.AddChannel("ecu-bus", a)
	if err != nil {
		t.Fatalf("AddChannel: %v", err)
	}
	testerCh, err := m.AddChannel("tester-bus", b)
	if err != nil {
		t.Fatalf("AddChannel: %v", err)
	}

	cfg := ecu.DefaultECUConfig()
	cfg.Engine.Seed = ecu.FixedSeed(0xCAFEBABE)
	sink := &trace.Memory{}
	node, err := ecuCh.AddECU(cfg, nil, sink)
	if err != nil {
		t.Fatalf("AddECU: %v", err)
	}

	tcfg := tester.DefaultTesterConfig()
	tcfg.ResponseTimeout = time.Second
	client, err := testerCh.AddTester(tcfg)
	if err != nil {
		t.Fatalf("AddTester: %v", err)
	}

	return &bench{manager: m, node: node, client: client, sink: sink, ecuCh: ecuCh}
}

func TestManagerChannels(t *testing.T) {
	m := NewManagerWithLogger(nil)
	br := channel.NewBridge(time.Millisecond)
	a, _ := br.Ends()

	if _, err := m.AddChannel("bus", a); err != nil {
		t.Fatalf("AddChannel: %v", err)
	}
	if _, err := m.AddChannel("bus", a); err == nil {
		t.Error("duplicate channel id accepted")
	}
	if _, ok := m.GetChannel("bus"); !ok {
		t.Error("GetChannel did not find bus")
	}
	if m.ChannelCount() != 1 {
		t.Errorf("ChannelCount = %d", m.ChannelCount())
	}
	if err := m.RemoveChannel("bus"); err != nil {
		t.Errorf("RemoveChannel: %v", err)
	}
	if err := m.RemoveChannel("bus"); err == nil {
		t.Error("removing a missing channel succeeded")
	}
	m.Shutdown()
}

func TestUnlockOverBridge(t *testing.T) {
	b := newBench(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := RunWith(ctx, func(ctx context.Context) error {
		if err := b.client.DiagnosticSessionControl(ctx, uds.SessionExtended); err != nil {
			return err
		}
		if err := b.client.Unlock(ctx); err != nil {
			return err
		}
		vin, err := b.client.ReadVIN(ctx)
		if err != nil {
			return err
		}
		if vin != "VIN12345678901234" {
			t.Errorf("ReadVIN = %q", vin)
		}
		return nil
	}, b.node)
	if err != nil {
		t.Fatalf("RunWith: %v", err)
	}

	st := b.node.State()
	if st.Session != uds.SessionExtended || st.Security != ecu.SecurityUnlocked {
		t.Errorf("state after unlock = %s", st)
	}
	if b.sink.Count(trace.KindNegative) != 0 {
		t.Errorf("unexpected negative responses: %v", b.sink.Events())
	}

	stats := b.ecuCh.Statistics()
	if stats.FramesRx == 0 || stats.FramesTx == 0 || stats.ActiveEndpoints != 1 {
		t.Errorf("channel statistics = %+v", stats)
	}
}

func TestConnectionLossResetsECU(t *testing.T) {
	b := newBench(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := RunWith(ctx, func(ctx context.Context) error {
		return b.client.DiagnosticSessionControl(ctx, uds.SessionProgramming)
	}, b.node)
	if err != nil {
		t.Fatalf("RunWith: %v", err)
	}
	if b.node.State().Session != uds.SessionProgramming {
		t.Fatalf("session = %v, want programming", b.node.State().Session)
	}

	impl := b.ecuCh.(*channelImpl)
	impl.channel.OnConnectionLost()

	if got := b.node.State().Session; got != uds.SessionDefault {
		t.Errorf("session after connection loss = %v, want default", got)
	}
	if b.sink.Count(trace.KindReset) != 1 {
		t.Errorf("reset events = %d, want 1", b.sink.Count(trace.KindReset))
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	b := newBench(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, b.node) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name    string
		want    LogLevel
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.name)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, %v", tt.name, got, err)
		}
	}
}
