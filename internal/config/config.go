// internal/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the YAML configuration shared by udsecu and udstester
type Config struct {
	Endpoints EndpointsConfig `yaml:"endpoints"`
	Transport TransportConfig `yaml:"transport"`
	ECU       ECUConfig       `yaml:"ecu"`
	Tester    TesterConfig    `yaml:"tester"`
	Bus       BusConfig       `yaml:"bus"`
	Log       LogConfig       `yaml:"log"`
	Trace     TraceConfig     `yaml:"trace"`
}

// ---- ENDPOINTS ----

type EndpointsConfig struct {
	RequestID  uint32 `yaml:"request_id"`  // tester -> ECU
	ResponseID uint32 `yaml:"response_id"` // ECU -> tester
	Extended   bool   `yaml:"extended"`    // 29-bit identifiers
}

// ---- TRANSPORT ----

type TransportConfig struct {
	MaxPayloadLength   int      `yaml:"max_payload_length"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	ReassemblyTimeout  Duration `yaml:"reassembly_timeout"`
	FlowControlTimeout Duration `yaml:"flow_control_timeout"`
	FlowControl        bool     `yaml:"flow_control"`
	BlockSize          uint8    `yaml:"block_size"`
	STmin              Duration `yaml:"stmin"`
	SeparationTime     Duration `yaml:"separation_time"`
	MaxWaitFrames      int      `yaml:"max_wait_frames"`
}

// ---- ECU ----

type ECUConfig struct {
	ID                       string  `yaml:"id"`
	RequireUnlockForDownload bool    `yaml:"require_unlock_for_download"`
	MaxBlockLength           uint16  `yaml:"max_block_length"`
	FixedSeed                *uint32 `yaml:"fixed_seed"` // nil = random seeds
	VIN                      string  `yaml:"vin"`
	DefaultDownloadAddress   uint32  `yaml:"default_download_address"`
}

// ---- TESTER ----

type TesterConfig struct {
	ID              string   `yaml:"id"`
	ResponseTimeout Duration `yaml:"response_timeout"`
	PendingTimeout  Duration `yaml:"pending_timeout"`
	Retries         uint     `yaml:"retries"`
	RetryDelay      Duration `yaml:"retry_delay"`
}

// ---- BUS ----

// Bus kinds
const (
	BusTCP       = "tcp"
	BusUDP       = "udp"
	BusQUIC      = "quic"
	BusSerial    = "serial"
	BusSocketCAN = "socketcan"
	BusBridge    = "bridge"
)

type BusConfig struct {
	Kind       string `yaml:"kind"`
	Address    string `yaml:"address"` // tcp, udp, quic
	Listen     bool   `yaml:"listen"`  // server side of tcp, udp, quic
	SerialPort string `yaml:"serial_port"`
	BaudRate   int    `yaml:"baud_rate"`
	Interface  string `yaml:"interface"` // socketcan
}

// ---- LOG / TRACE ----

type LogConfig struct {
	Level string `yaml:"level"`
}

type TraceConfig struct {
	File string `yaml:"file"` // msgpack event log, empty = off
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "500ms").
type Duration struct {
	time.Duration
}

// D is shorthand for building a Duration
func D(d time.Duration) Duration {
	return Duration{d}
}

// UnmarshalYAML parses a duration string like "1s" or "250ms".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML writes the duration in time.Duration string form
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}
