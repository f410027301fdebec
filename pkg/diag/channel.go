package diag

import (
	"fmt"

	"avaneesh/uds-go/pkg/channel"
	"avaneesh/uds-go/pkg/ecu"
	"avaneesh/uds-go/pkg/tester"
	"avaneesh/uds-go/pkg/trace"
)

// Channel is the public interface for a diagnostic bus
type Channel interface {
	// AddECU attaches an ECU listening on config.RequestID
	AddECU(config ecu.ECUConfig, db *ecu.Database, sink trace.Sink) (*ecu.ECU, error)

	// AddTester attaches a tester listening on config.ResponseID
	AddTester(config tester.TesterConfig) (*tester.Tester, error)

	// Shutdown closes the channel and detaches all nodes
	Shutdown() error

	// Statistics returns channel statistics
	Statistics() ChannelStatistics
}

// ChannelStatistics provides channel-level statistics
type ChannelStatistics struct {
	FramesTx        uint64 // Bus frames transmitted
	FramesRx        uint64 // Bus frames received
	BadFrames       uint64 // Frames that failed to read or decode
	Unrouted        uint64 // Frames for identifiers nobody listens on
	Dropped         uint64 // Frames lost to a full endpoint inbox
	ActiveEndpoints uint64 // Number of attached nodes
	PhysicalBytesTx uint64 // Physical bytes transmitted
	PhysicalBytesRx uint64 // Physical bytes received
}

// channelImpl implements the Channel interface
type channelImpl struct {
	channel *channel.Channel
	manager *Manager
}

// AddECU attaches an ECU. The ECU session is reset whenever the bus
// connection is lost.
func (c *channelImpl) AddECU(config ecu.ECUConfig, db *ecu.Database, sink trace.Sink) (*ecu.ECU, error) {
	ep, err := c.channel.Endpoint(config.RequestID, config.ResponseID, config.Extended)
	if err != nil {
		return nil, fmt.Errorf("ecu %s: %w", config.ID, err)
	}

	node, err := ecu.New(config, db, ep, c.manager.logger, sink)
	if err != nil {
		c.channel.RemoveEndpoint(config.RequestID)
		return nil, err
	}

	c.channel.SetConnectionStateListener(resetOnLoss{node})
	return node, nil
}

// AddTester attaches a tester
func (c *channelImpl) AddTester(config tester.TesterConfig) (*tester.Tester, error) {
	ep, err := c.channel.Endpoint(config.ResponseID, config.RequestID, config.Extended)
	if err != nil {
		return nil, fmt.Errorf("tester %s: %w", config.ID, err)
	}

	node, err := tester.New(config, ep, c.manager.logger)
	if err != nil {
		c.channel.RemoveEndpoint(config.ResponseID)
		return nil, err
	}
	return node, nil
}

// Shutdown closes the channel
func (c *channelImpl) Shutdown() error {
	return c.manager.RemoveChannel(c.channel.ID())
}

// Statistics returns channel statistics
func (c *channelImpl) Statistics() ChannelStatistics {
	stats := c.channel.GetStatistics()
	physStats := c.channel.GetPhysicalStatistics()

	return ChannelStatistics{
		FramesTx:        stats.GetFramesTx(),
		FramesRx:        stats.GetFramesRx(),
		BadFrames:       stats.GetBadFrames(),
		Unrouted:        stats.GetUnrouted(),
		Dropped:         stats.GetDropped(),
		ActiveEndpoints: stats.GetActiveEndpoints(),
		PhysicalBytesTx: physStats.BytesSent,
		PhysicalBytesRx: physStats.BytesReceived,
	}
}

// resetOnLoss returns an ECU to its power-on session when the tester goes away
type resetOnLoss struct {
	node *ecu.ECU
}

func (r resetOnLoss) OnConnectionEstablished() {}

func (r resetOnLoss) OnConnectionLost() {
	r.node.Reset()
}
