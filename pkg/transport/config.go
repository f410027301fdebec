package transport

import (
	"fmt"
	"time"
)

// TransportConfig holds configuration for transport layer
type TransportConfig struct {
	// MaxPayloadLength is the largest payload accepted in either direction
	// Default: 4095 bytes (12-bit FIRST frame length)
	MaxPayloadLength int

	// ReadTimeout bounds each wait for the next bus frame
	// Default: 5 seconds
	ReadTimeout time.Duration

	// ReassemblyTimeout is the longest gap allowed between frames of one
	// segmented message (N_Cr)
	// Default: 1 second
	ReassemblyTimeout time.Duration

	// FlowControlTimeout is how long a sender waits for FLOW_CONTROL after
	// a FIRST frame or a completed block (N_Bs)
	// Default: 1 second
	FlowControlTimeout time.Duration

	// FlowControl enables the FLOW_CONTROL handshake in both directions.
	// When disabled the sender streams CONSECUTIVE frames immediately.
	FlowControl bool

	// BlockSize advertised to senders (0 = send everything in one burst)
	BlockSize uint8

	// STmin advertised to senders
	STmin time.Duration

	// SeparationTime is the local minimum gap between CONSECUTIVE frames
	SeparationTime time.Duration

	// MaxWaitFrames bounds the number of WAIT flow control frames accepted
	// for one transfer
	MaxWaitFrames int

	// EnableStatistics enables statistics collection
	EnableStatistics bool
}

// DefaultTransportConfig returns default transport configuration
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MaxPayloadLength:   MaxPayloadLength,
		ReadTimeout:        5 * time.Second,
		ReassemblyTimeout:  1 * time.Second,
		FlowControlTimeout: 1 * time.Second,
		FlowControl:        true,
		BlockSize:          0,
		STmin:              0,
		SeparationTime:     0,
		MaxWaitFrames:      10,
		EnableStatistics:   true,
	}
}

// Validate checks the configuration for values the layer cannot honor
func (c TransportConfig) Validate() error {
	if c.MaxPayloadLength <= 0 || c.MaxPayloadLength > MaxPayloadLength {
		return fmt.Errorf("max payload length %d out of range 1..%d", c.MaxPayloadLength, MaxPayloadLength)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.FlowControl && c.FlowControlTimeout <= 0 {
		return fmt.Errorf("flow control timeout must be positive when flow control is enabled")
	}
	if c.ReassemblyTimeout < 0 || c.SeparationTime < 0 || c.STmin < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.MaxWaitFrames < 0 {
		return fmt.Errorf("max wait frames must not be negative")
	}
	return nil
}
