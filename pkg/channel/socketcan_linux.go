//go:build linux

package channel

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"

	"avaneesh/uds-go/pkg/link"
)

// SocketCANChannel implements PhysicalChannel on a Linux SocketCAN
// interface such as can0 or vcan0
type SocketCANChannel struct {
	iface       string
	conn        net.Conn
	receiver    *socketcan.Receiver
	transmitter *socketcan.Transmitter

	readMu sync.Mutex

	stats struct {
		framesSent     atomic.Uint64
		framesReceived atomic.Uint64
		writeErrors    atomic.Uint64
		readErrors     atomic.Uint64
	}

	closed atomic.Bool
}

// NewSocketCANChannel binds a raw CAN socket to iface
func NewSocketCANChannel(ctx context.Context, iface string) (PhysicalChannel, error) {
	if iface == "" {
		return nil, fmt.Errorf("interface is required")
	}

	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", iface, err)
	}

	return &SocketCANChannel{
		iface:       iface,
		conn:        conn,
		receiver:    socketcan.NewReceiver(conn),
		transmitter: socketcan.NewTransmitter(conn),
	}, nil
}

// Read implements PhysicalChannel.Read. Remote and error frames are
// skipped. Cancelling ctx does not interrupt a blocked read; Close does.
func (sc *SocketCANChannel) Read(ctx context.Context) (link.Frame, error) {
	sc.readMu.Lock()
	defer sc.readMu.Unlock()

	for sc.receiver.Receive() {
		if err := ctx.Err(); err != nil {
			return link.Frame{}, err
		}
		if sc.receiver.HasErrorFrame() {
			sc.stats.readErrors.Add(1)
			continue
		}

		f := sc.receiver.Frame()
		if f.IsRemote {
			continue
		}
		sc.stats.framesReceived.Add(1)

		frame := link.Frame{ID: f.ID, Extended: f.IsExtended}
		copy(frame.Data[:], f.Data[:f.Length])
		return frame, nil
	}

	if sc.closed.Load() {
		return link.Frame{}, ErrChannelClosed
	}
	if err := sc.receiver.Err(); err != nil {
		sc.stats.readErrors.Add(1)
		return link.Frame{}, err
	}
	return link.Frame{}, ErrChannelClosed
}

// Write implements PhysicalChannel.Write. Frames always carry a DLC of 8.
func (sc *SocketCANChannel) Write(ctx context.Context, frame link.Frame) error {
	if sc.closed.Load() {
		return ErrChannelClosed
	}
	if err := frame.Validate(); err != nil {
		return err
	}

	f := can.Frame{
		ID:         frame.ID,
		Length:     link.DataSize,
		Data:       can.Data(frame.Data),
		IsExtended: frame.Extended,
	}
	if err := sc.transmitter.TransmitFrame(ctx, f); err != nil {
		sc.stats.writeErrors.Add(1)
		return err
	}
	sc.stats.framesSent.Add(1)
	return nil
}

// Close implements PhysicalChannel.Close
func (sc *SocketCANChannel) Close() error {
	if !sc.closed.CompareAndSwap(false, true) {
		return nil
	}
	return sc.conn.Close()
}

// Statistics implements PhysicalChannel.Statistics. Byte counters hold the
// payload bytes of the frames moved.
func (sc *SocketCANChannel) Statistics() TransportStats {
	return TransportStats{
		BytesSent:     sc.stats.framesSent.Load() * link.DataSize,
		BytesReceived: sc.stats.framesReceived.Load() * link.DataSize,
		WriteErrors:   sc.stats.writeErrors.Load(),
		ReadErrors:    sc.stats.readErrors.Load(),
	}
}

// SetConnectionStateListener implements PhysicalChannel. A CAN bus has no
// connection state.
func (sc *SocketCANChannel) SetConnectionStateListener(ConnectionStateListener) {}

// String returns the interface name
func (sc *SocketCANChannel) String() string {
	return sc.iface
}
