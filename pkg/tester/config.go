package tester

import (
	"fmt"
	"time"

	"avaneesh/uds-go/pkg/transport"
)

// TesterConfig configures a diagnostic tester
type TesterConfig struct {
	// Identity
	ID string

	// Bus identifiers
	RequestID  uint32
	ResponseID uint32
	Extended   bool // 29-bit identifiers

	Transport transport.TransportConfig

	// Timeouts
	ResponseTimeout time.Duration // P2: first response after a request
	PendingTimeout  time.Duration // P2*: extension after responsePending

	// Retries of read-only requests when the response times out
	Retries    uint
	RetryDelay time.Duration
}

// DefaultTesterConfig returns the configuration matching DefaultECUConfig
func DefaultTesterConfig() TesterConfig {
	return TesterConfig{
		ID:              "tester",
		RequestID:       0x7E0,
		ResponseID:      0x7E8,
		Transport:       transport.DefaultTransportConfig(),
		ResponseTimeout: 2 * time.Second,
		PendingTimeout:  5 * time.Second,
		Retries:         2,
		RetryDelay:      100 * time.Millisecond,
	}
}

// Validate checks the configuration
func (c TesterConfig) Validate() error {
	if c.RequestID == c.ResponseID {
		return fmt.Errorf("request and response ID are both 0x%X", c.RequestID)
	}
	if c.ResponseTimeout <= 0 || c.PendingTimeout <= 0 {
		return fmt.Errorf("response timeouts must be positive")
	}
	return c.Transport.Validate()
}
