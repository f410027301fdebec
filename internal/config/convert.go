// internal/config/convert.go
package config

import (
	"context"
	"fmt"

	"avaneesh/uds-go/pkg/channel"
	"avaneesh/uds-go/pkg/ecu"
	"avaneesh/uds-go/pkg/tester"
	"avaneesh/uds-go/pkg/transport"
)

// TransportConfig converts the transport section
func (c *Config) TransportConfig() transport.TransportConfig {
	tc := transport.DefaultTransportConfig()
	tc.MaxPayloadLength = c.Transport.MaxPayloadLength
	tc.ReadTimeout = c.Transport.ReadTimeout.Duration
	tc.ReassemblyTimeout = c.Transport.ReassemblyTimeout.Duration
	tc.FlowControlTimeout = c.Transport.FlowControlTimeout.Duration
	tc.FlowControl = c.Transport.FlowControl
	tc.BlockSize = c.Transport.BlockSize
	tc.STmin = c.Transport.STmin.Duration
	tc.SeparationTime = c.Transport.SeparationTime.Duration
	tc.MaxWaitFrames = c.Transport.MaxWaitFrames
	return tc
}

// ECUConfig converts the endpoint, transport and ecu sections
func (c *Config) ECUConfig() ecu.ECUConfig {
	ec := ecu.DefaultECUConfig()
	ec.ID = c.ECU.ID
	ec.RequestID = c.Endpoints.RequestID
	ec.ResponseID = c.Endpoints.ResponseID
	ec.Extended = c.Endpoints.Extended
	ec.Transport = c.TransportConfig()
	ec.Engine.RequireUnlockForDownload = c.ECU.RequireUnlockForDownload
	ec.Engine.MaxBlockLength = c.ECU.MaxBlockLength
	ec.Engine.DefaultDownloadAddress = c.ECU.DefaultDownloadAddress
	if c.ECU.FixedSeed != nil {
		ec.Engine.Seed = ecu.FixedSeed(*c.ECU.FixedSeed)
	}
	return ec
}

// Database builds the demonstration catalog with the configured VIN
func (c *Config) Database() *ecu.Database {
	return ecu.DefaultDatabase(c.ECU.VIN)
}

// TesterConfig converts the endpoint, transport and tester sections
func (c *Config) TesterConfig() tester.TesterConfig {
	tc := tester.DefaultTesterConfig()
	tc.ID = c.Tester.ID
	tc.RequestID = c.Endpoints.RequestID
	tc.ResponseID = c.Endpoints.ResponseID
	tc.Extended = c.Endpoints.Extended
	tc.Transport = c.TransportConfig()
	tc.ResponseTimeout = c.Tester.ResponseTimeout.Duration
	tc.PendingTimeout = c.Tester.PendingTimeout.Duration
	tc.Retries = c.Tester.Retries
	tc.RetryDelay = c.Tester.RetryDelay.Duration
	return tc
}

// OpenBus opens the physical bus described by the bus section. The bridge
// kind only exists inside one process and cannot be opened here.
func (c *Config) OpenBus(ctx context.Context) (channel.PhysicalChannel, error) {
	b := c.Bus
	switch b.Kind {
	case BusTCP:
		return channel.NewTCPChannel(channel.TCPChannelConfig{Address: b.Address, IsServer: b.Listen})
	case BusUDP:
		return channel.NewUDPChannel(channel.UDPChannelConfig{Address: b.Address, IsServer: b.Listen})
	case BusQUIC:
		return channel.NewQUICChannel(channel.QUICChannelConfig{Address: b.Address, IsServer: b.Listen})
	case BusSerial:
		return channel.NewSerialChannel(channel.SerialChannelConfig{Port: b.SerialPort, BaudRate: b.BaudRate})
	case BusSocketCAN:
		return channel.NewSocketCANChannel(ctx, b.Interface)
	case BusBridge:
		return nil, fmt.Errorf("bus kind %q is only available in the demo", b.Kind)
	default:
		return nil, fmt.Errorf("unknown bus kind %q", b.Kind)
	}
}
