// internal/config/validate.go
package config

import (
	"errors"
	"fmt"

	"avaneesh/uds-go/pkg/diag"
	"avaneesh/uds-go/pkg/link"
)

// vinLength is the length of a vehicle identification number
const vinLength = 17

// Validate checks configuration correctness and reports every problem
// found. It does not mutate configuration.
func Validate(cfg *Config) error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	// ------------------------------------------------------------
	// ENDPOINTS
	// ------------------------------------------------------------

	maxID := link.MaxStandardID
	if cfg.Endpoints.Extended {
		maxID = link.MaxExtendedID
	}
	if cfg.Endpoints.RequestID > maxID {
		fail("endpoints: request_id 0x%X exceeds 0x%X", cfg.Endpoints.RequestID, maxID)
	}
	if cfg.Endpoints.ResponseID > maxID {
		fail("endpoints: response_id 0x%X exceeds 0x%X", cfg.Endpoints.ResponseID, maxID)
	}
	if cfg.Endpoints.RequestID == cfg.Endpoints.ResponseID {
		fail("endpoints: request_id and response_id are both 0x%X", cfg.Endpoints.RequestID)
	}

	// ------------------------------------------------------------
	// TRANSPORT / ECU / TESTER
	// ------------------------------------------------------------

	if err := cfg.TransportConfig().Validate(); err != nil {
		fail("transport: %w", err)
	}

	if cfg.ECU.VIN != "" && len(cfg.ECU.VIN) != vinLength {
		fail("ecu: vin %q must be %d characters", cfg.ECU.VIN, vinLength)
	}
	if mb := int(cfg.ECU.MaxBlockLength); mb < 3 || mb > cfg.Transport.MaxPayloadLength {
		fail("ecu: max_block_length %d outside 3..%d", mb, cfg.Transport.MaxPayloadLength)
	}
	if cfg.ECU.FixedSeed != nil && *cfg.ECU.FixedSeed == 0 {
		fail("ecu: fixed_seed 0 would report the ECU as already unlocked")
	}

	if cfg.Tester.ResponseTimeout.Duration <= 0 {
		fail("tester: response_timeout must be positive")
	}
	if cfg.Tester.PendingTimeout.Duration <= 0 {
		fail("tester: pending_timeout must be positive")
	}
	if cfg.Tester.RetryDelay.Duration < 0 {
		fail("tester: retry_delay must not be negative")
	}

	// ------------------------------------------------------------
	// BUS
	// ------------------------------------------------------------

	switch cfg.Bus.Kind {
	case BusTCP, BusUDP, BusQUIC:
		if cfg.Bus.Address == "" {
			fail("bus: %s requires address", cfg.Bus.Kind)
		}
	case BusSerial:
		if cfg.Bus.SerialPort == "" {
			fail("bus: serial requires serial_port")
		}
		if cfg.Bus.BaudRate <= 0 {
			fail("bus: baud_rate must be positive")
		}
	case BusSocketCAN:
		if cfg.Bus.Interface == "" {
			fail("bus: socketcan requires interface")
		}
	case BusBridge:
	default:
		fail("bus: unknown kind %q", cfg.Bus.Kind)
	}

	// ------------------------------------------------------------
	// LOG
	// ------------------------------------------------------------

	if _, err := diag.ParseLogLevel(cfg.Log.Level); err != nil {
		fail("log: %w", err)
	}

	return errors.Join(errs...)
}
