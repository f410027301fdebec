package ecu

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"avaneesh/uds-go/pkg/transport"
)

// SeedSource produces security access seeds
type SeedSource func() uint32

// RandomSeed draws seeds from crypto/rand
func RandomSeed() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("ecu: seed source: %v", err))
	}
	return binary.BigEndian.Uint32(b[:])
}

// FixedSeed always returns seed, for reproducible runs
func FixedSeed(seed uint32) SeedSource {
	return func() uint32 { return seed }
}

// EngineConfig configures the service dispatcher
type EngineConfig struct {
	RequireUnlockForDownload bool
	MaxBlockLength           uint16
	DefaultDownloadAddress   uint32
	Seed                     SeedSource
}

// DefaultEngineConfig returns the default engine configuration
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		RequireUnlockForDownload: true,
		MaxBlockLength:           transport.MaxPayloadLength,
		DefaultDownloadAddress:   0x08010000,
		Seed:                     RandomSeed,
	}
}

// ECUConfig configures an ECU node
type ECUConfig struct {
	ID         string
	RequestID  uint32
	ResponseID uint32
	Extended   bool // 29-bit identifiers
	Transport  transport.TransportConfig
	Engine     EngineConfig
}

// DefaultECUConfig returns the configuration of the demo engine controller
func DefaultECUConfig() ECUConfig {
	return ECUConfig{
		ID:         "ecu",
		RequestID:  0x7E0,
		ResponseID: 0x7E8,
		Transport:  transport.DefaultTransportConfig(),
		Engine:     DefaultEngineConfig(),
	}
}

// Validate checks the configuration
func (c ECUConfig) Validate() error {
	if c.RequestID == c.ResponseID {
		return fmt.Errorf("request and response ID are both 0x%X", c.RequestID)
	}
	if c.Engine.MaxBlockLength < 3 || int(c.Engine.MaxBlockLength) > c.Transport.MaxPayloadLength {
		return fmt.Errorf("max block length %d outside 3..%d", c.Engine.MaxBlockLength, c.Transport.MaxPayloadLength)
	}
	if c.Engine.Seed == nil {
		return errors.New("no seed source")
	}
	return c.Transport.Validate()
}
