package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "uds.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}
}

func TestLoad_FullConfig(t *testing.T) {
	yaml := `endpoints:
  request_id: 0x18DA10F1
  response_id: 0x18DAF110
  extended: true

transport:
  read_timeout: 2s
  block_size: 8
  stmin: 5ms

ecu:
  id: bcm
  require_unlock_for_download: false
  max_block_length: 1026
  fixed_seed: 0xCAFEBABE
  vin: " wvwzzz1kzaw000001 "

tester:
  response_timeout: 500ms
  retries: 4

bus:
  kind: QUIC
  address: 10.0.0.2:13400
  listen: true

log:
  level: DEBUG

trace:
  file: /tmp/ecu.trace
`
	cfg, err := Load(writeTemp(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	ec := cfg.ECUConfig()
	if ec.RequestID != 0x18DA10F1 || ec.ResponseID != 0x18DAF110 || !ec.Extended {
		t.Errorf("ecu identifiers = 0x%X/0x%X ext=%v", ec.RequestID, ec.ResponseID, ec.Extended)
	}
	if ec.ID != "bcm" || ec.Engine.RequireUnlockForDownload || ec.Engine.MaxBlockLength != 1026 {
		t.Errorf("ecu config = %+v", ec)
	}
	if ec.Engine.Seed() != 0xCAFEBABE {
		t.Errorf("seed = 0x%X", ec.Engine.Seed())
	}
	if ec.Transport.ReadTimeout != 2*time.Second || ec.Transport.BlockSize != 8 || ec.Transport.STmin != 5*time.Millisecond {
		t.Errorf("transport = %+v", ec.Transport)
	}
	// Keys not in the file keep their defaults
	if ec.Transport.ReassemblyTimeout != time.Second || !ec.Transport.FlowControl {
		t.Errorf("transport defaults lost: %+v", ec.Transport)
	}

	tc := cfg.TesterConfig()
	if tc.ResponseTimeout != 500*time.Millisecond || tc.Retries != 4 || tc.PendingTimeout != 5*time.Second {
		t.Errorf("tester config = %+v", tc)
	}
	if tc.RequestID != ec.RequestID || tc.ResponseID != ec.ResponseID {
		t.Error("tester and ecu disagree on identifiers")
	}

	if cfg.Bus.Kind != BusQUIC || !cfg.Bus.Listen || cfg.Log.Level != "debug" {
		t.Errorf("normalization: kind=%q level=%q", cfg.Bus.Kind, cfg.Log.Level)
	}
	if vin, _ := cfg.Database().ReadDID(0xF190); string(vin) != "WVWZZZ1KZAW000001" {
		t.Errorf("VIN = %q", vin)
	}
	if cfg.Trace.File != "/tmp/ecu.trace" {
		t.Errorf("trace file = %q", cfg.Trace.File)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad duration", "transport:\n  read_timeout: soon\n", "invalid duration"},
		{"bad yaml", "endpoints: [\n", "invalid YAML"},
		{"same ids", "endpoints:\n  request_id: 0x7E0\n  response_id: 0x7E0\n", "both 0x7E0"},
		{"standard id range", "endpoints:\n  request_id: 0x800\n", "exceeds 0x7FF"},
		{"unknown bus", "bus:\n  kind: lin\n", "unknown kind"},
		{"serial without port", "bus:\n  kind: serial\n", "serial_port"},
		{"short vin", "ecu:\n  vin: ABC\n", "17 characters"},
		{"zero seed", "ecu:\n  fixed_seed: 0\n", "fixed_seed"},
		{"block too small", "ecu:\n  max_block_length: 2\n", "max_block_length"},
		{"log level", "log:\n  level: loud\n", "log:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTemp(t, tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Bus.Kind = "lin"
	cfg.Tester.ResponseTimeout = D(0)
	cfg.ECU.VIN = "SHORT"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"unknown kind", "response_timeout", "vin"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("Load(missing) = %v", err)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	data, err := Marshal(Default())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	cfg, err := Load(writeTemp(t, string(data)))
	if err != nil {
		t.Fatalf("Load(Marshal(Default())): %v", err)
	}
	if cfg.Transport.ReadTimeout != Default().Transport.ReadTimeout {
		t.Errorf("read timeout = %v", cfg.Transport.ReadTimeout)
	}
}

func TestOpenBusBridge(t *testing.T) {
	cfg := Default()
	cfg.Bus.Kind = BusBridge
	if _, err := cfg.OpenBus(context.Background()); err == nil {
		t.Error("bridge bus opened outside the demo")
	}
}
