package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"avaneesh/uds-go/pkg/internal/logger"
	"avaneesh/uds-go/pkg/link"
)

var (
	ErrChannelClosed = errors.New("channel is closed")
	ErrChannelOpen   = errors.New("channel is already open")
)

// Channel owns a physical bus and multiplexes it between endpoints
type Channel struct {
	id              string
	physicalChannel PhysicalChannel
	router          *Router
	stats           *Statistics
	logger          logger.Logger

	// State
	state     ChannelState
	stateMu   sync.RWMutex
	listeners []ConnectionStateListener

	// Concurrency
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Write queue for serializing writes
	writeQueue chan *writeRequest
}

// writeRequest represents a write request
type writeRequest struct {
	frame link.Frame
	resp  chan error
}

// New creates a new channel
func New(id string, physical PhysicalChannel, log logger.Logger) *Channel {
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Channel{
		id:              id,
		physicalChannel: physical,
		router:          NewRouter(),
		stats:           NewStatistics(),
		logger:          log,
		state:           ChannelStateClosed,
		ctx:             ctx,
		cancel:          cancel,
		writeQueue:      make(chan *writeRequest, 100),
	}
	physical.SetConnectionStateListener(c)
	return c
}

// ID returns the channel ID
func (c *Channel) ID() string {
	return c.id
}

// Open opens the channel and starts processing
func (c *Channel) Open() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.state == ChannelStateOpen {
		return ErrChannelOpen
	}
	if c.ctx.Err() != nil {
		return ErrChannelClosed
	}

	c.state = ChannelStateOpen
	c.logger.Info("Channel %s opening", c.id)

	// Start read loop
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.readLoop()
	}()

	// Start write loop
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.writeLoop()
	}()

	c.logger.Info("Channel %s opened", c.id)
	return nil
}

// Close closes the channel
func (c *Channel) Close() error {
	c.stateMu.Lock()
	if c.state == ChannelStateClosed {
		c.stateMu.Unlock()
		c.cancel()
		return nil
	}
	c.state = ChannelStateClosed
	c.stateMu.Unlock()

	c.logger.Info("Channel %s closing", c.id)

	// Cancel context to stop goroutines
	c.cancel()

	// Close physical channel
	if err := c.physicalChannel.Close(); err != nil {
		c.logger.Error("Error closing physical channel: %v", err)
	}

	// Wait for goroutines to finish
	c.wg.Wait()

	c.logger.Info("Channel %s closed", c.id)
	return nil
}

// readLoop continuously reads from physical channel
func (c *Channel) readLoop() {
	c.logger.Debug("Channel %s read loop started", c.id)
	defer c.logger.Debug("Channel %s read loop stopped", c.id)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		frame, err := c.physicalChannel.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				// Context cancelled, normal shutdown
				return
			}
			c.logger.Error("Channel %s read error: %v", c.id, err)
			c.stats.BadFrame()
			if errors.Is(err, ErrChannelClosed) {
				return
			}
			continue
		}

		c.stats.FrameRx()
		c.logger.Debug("Channel %s received frame: %s", c.id, frame)

		if err := c.router.Route(frame); err != nil {
			switch {
			case errors.Is(err, ErrNoSession):
				c.stats.Unrouted()
			case errors.Is(err, ErrInboxFull):
				c.stats.Dropped()
				c.logger.Warn("Channel %s: dropped frame %s: %v", c.id, frame, err)
			default:
				c.logger.Warn("Channel %s routing error: %v", c.id, err)
			}
		}
	}
}

// writeLoop processes write requests
func (c *Channel) writeLoop() {
	c.logger.Debug("Channel %s write loop started", c.id)
	defer c.logger.Debug("Channel %s write loop stopped", c.id)

	for {
		select {
		case <-c.ctx.Done():
			// Drain remaining requests with error
			for {
				select {
				case req := <-c.writeQueue:
					req.resp <- ErrChannelClosed
				default:
					return
				}
			}

		case req := <-c.writeQueue:
			err := c.physicalChannel.Write(c.ctx, req.frame)
			if err != nil {
				c.logger.Error("Channel %s write error: %v", c.id, err)
			} else {
				c.stats.FrameTx()
				c.logger.Debug("Channel %s sent frame: %s", c.id, req.frame)
			}
			req.resp <- err
		}
	}
}

// Write queues a frame and waits until it is written
func (c *Channel) Write(ctx context.Context, frame link.Frame) error {
	c.stateMu.RLock()
	if c.state != ChannelStateOpen {
		c.stateMu.RUnlock()
		return ErrChannelClosed
	}
	c.stateMu.RUnlock()

	req := &writeRequest{
		frame: frame,
		resp:  make(chan error, 1),
	}

	select {
	case c.writeQueue <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrChannelClosed
	}

	select {
	case err := <-req.resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Endpoint registers a receive/transmit identifier pair and returns the
// frame bus for a transport layer running on it
func (c *Channel) Endpoint(rxID, txID uint32, extended bool) (*Endpoint, error) {
	for _, id := range []uint32{rxID, txID} {
		if err := (link.Frame{ID: id, Extended: extended}).Validate(); err != nil {
			return nil, err
		}
	}

	ep := &Endpoint{
		channel:  c,
		rxID:     rxID,
		txID:     txID,
		extended: extended,
		inbox:    make(chan [link.DataSize]byte, DefaultInboxSize),
	}
	if err := c.router.AddSession(ep); err != nil {
		return nil, err
	}

	c.stats.SetActiveEndpoints(uint64(c.router.GetSessionCount()))
	c.logger.Info("Channel %s: added endpoint rx=0x%X tx=0x%X", c.id, rxID, txID)
	return ep, nil
}

// RemoveEndpoint removes the endpoint listening on rxID
func (c *Channel) RemoveEndpoint(rxID uint32) {
	c.router.RemoveSession(rxID)
	c.stats.SetActiveEndpoints(uint64(c.router.GetSessionCount()))
	c.logger.Info("Channel %s: removed endpoint rx=0x%X", c.id, rxID)
}

// SetConnectionStateListener registers a listener notified after the
// channel itself has handled a connection change
func (c *Channel) SetConnectionStateListener(listener ConnectionStateListener) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.listeners = append(c.listeners, listener)
}

// OnConnectionEstablished implements ConnectionStateListener
func (c *Channel) OnConnectionEstablished() {
	c.logger.Info("Channel %s: connection established", c.id)
	for _, l := range c.currentListeners() {
		l.OnConnectionEstablished()
	}
}

// OnConnectionLost implements ConnectionStateListener. Frames queued for
// the lost peer are discarded.
func (c *Channel) OnConnectionLost() {
	flushed := 0
	c.router.Each(func(s Session) {
		if ep, ok := s.(*Endpoint); ok {
			flushed += ep.Flush()
		}
	})
	c.logger.Info("Channel %s: connection lost, %d queued frames discarded", c.id, flushed)

	for _, l := range c.currentListeners() {
		l.OnConnectionLost()
	}
}

func (c *Channel) currentListeners() []ConnectionStateListener {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return append([]ConnectionStateListener(nil), c.listeners...)
}

// GetStatistics returns channel statistics
func (c *Channel) GetStatistics() *Statistics {
	return c.stats
}

// GetPhysicalStatistics returns physical channel statistics
func (c *Channel) GetPhysicalStatistics() TransportStats {
	return c.physicalChannel.Statistics()
}

// State returns the current channel state
func (c *Channel) State() ChannelState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// String returns string representation of channel
func (c *Channel) String() string {
	return fmt.Sprintf("Channel{ID=%s, State=%s, Endpoints=%d}",
		c.id, c.State(), c.router.GetSessionCount())
}
