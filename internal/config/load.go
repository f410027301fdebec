// internal/config/load.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"avaneesh/uds-go/pkg/ecu"
	"avaneesh/uds-go/pkg/tester"
	"avaneesh/uds-go/pkg/transport"
)

// Default returns the configuration of the demonstration bench: one
// engine controller on 0x7E0/0x7E8 over TCP on localhost.
func Default() *Config {
	tc := transport.DefaultTransportConfig()
	ec := ecu.DefaultECUConfig()
	tr := tester.DefaultTesterConfig()

	return &Config{
		Endpoints: EndpointsConfig{
			RequestID:  ec.RequestID,
			ResponseID: ec.ResponseID,
		},
		Transport: TransportConfig{
			MaxPayloadLength:   tc.MaxPayloadLength,
			ReadTimeout:        D(tc.ReadTimeout),
			ReassemblyTimeout:  D(tc.ReassemblyTimeout),
			FlowControlTimeout: D(tc.FlowControlTimeout),
			FlowControl:        tc.FlowControl,
			BlockSize:          tc.BlockSize,
			STmin:              D(tc.STmin),
			SeparationTime:     D(tc.SeparationTime),
			MaxWaitFrames:      tc.MaxWaitFrames,
		},
		ECU: ECUConfig{
			ID:                       ec.ID,
			RequireUnlockForDownload: ec.Engine.RequireUnlockForDownload,
			MaxBlockLength:           ec.Engine.MaxBlockLength,
			DefaultDownloadAddress:   ec.Engine.DefaultDownloadAddress,
		},
		Tester: TesterConfig{
			ID:              tr.ID,
			ResponseTimeout: D(tr.ResponseTimeout),
			PendingTimeout:  D(tr.PendingTimeout),
			Retries:         tr.Retries,
			RetryDelay:      D(tr.RetryDelay),
		},
		Bus: BusConfig{
			Kind:     BusTCP,
			Address:  "127.0.0.1:13400",
			BaudRate: 115200,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads a YAML config file over the defaults. Keys missing from the
// file keep their default value.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}

	Normalize(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Marshal renders cfg as YAML
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
