package channel

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/transport/v3/test"

	"avaneesh/uds-go/pkg/link"
)

// Bridge is an in-memory bus between two PhysicalChannels. Frames written
// on one side are delivered to the other by a background ticker.
type Bridge struct {
	bridge *test.Bridge
	a, b   *BridgeChannel

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// BridgeChannel is one side of a Bridge
type BridgeChannel struct {
	conn   net.Conn
	bridge *Bridge
	frames chan link.Frame

	stats struct {
		bytesSent     atomic.Uint64
		bytesReceived atomic.Uint64
		writeErrors   atomic.Uint64
		readErrors    atomic.Uint64
	}

	closed atomic.Bool
}

// NewBridge creates a bridge delivering queued frames every interval
func NewBridge(interval time.Duration) *Bridge {
	if interval <= 0 {
		interval = time.Millisecond
	}

	br := &Bridge{
		bridge: test.NewBridge(),
		stopCh: make(chan struct{}),
	}
	br.a = newBridgeChannel(br.bridge.GetConn0(), br)
	br.b = newBridgeChannel(br.bridge.GetConn1(), br)

	br.wg.Add(1)
	go func() {
		defer br.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-br.stopCh:
				return
			case <-ticker.C:
				for br.bridge.Tick() > 0 {
				}
			}
		}
	}()

	return br
}

func newBridgeChannel(conn net.Conn, br *Bridge) *BridgeChannel {
	bc := &BridgeChannel{
		conn:   conn,
		bridge: br,
		frames: make(chan link.Frame, 256),
	}
	go bc.pump()
	return bc
}

// Ends returns both sides of the bridge
func (br *Bridge) Ends() (*BridgeChannel, *BridgeChannel) {
	return br.a, br.b
}

// Close stops delivery and closes both sides
func (br *Bridge) Close() error {
	br.once.Do(func() {
		close(br.stopCh)
		br.wg.Wait()
		br.a.closed.Store(true)
		br.b.closed.Store(true)
		br.a.conn.Close()
		br.b.conn.Close()
	})
	return nil
}

// pump moves records from the bridge conn to the frames channel
func (bc *BridgeChannel) pump() {
	defer close(bc.frames)

	buf := make([]byte, 64)
	for {
		n, err := bc.conn.Read(buf)
		if err != nil {
			return
		}
		if n != link.RecordSize {
			bc.stats.readErrors.Add(1)
			continue
		}
		frame, _, err := link.Parse(buf[:n])
		if err != nil {
			bc.stats.readErrors.Add(1)
			continue
		}
		bc.stats.bytesReceived.Add(uint64(n))
		select {
		case bc.frames <- frame:
		case <-bc.bridge.stopCh:
			return
		}
	}
}

// Read implements PhysicalChannel.Read
func (bc *BridgeChannel) Read(ctx context.Context) (link.Frame, error) {
	select {
	case frame, ok := <-bc.frames:
		if !ok {
			return link.Frame{}, ErrChannelClosed
		}
		return frame, nil
	case <-ctx.Done():
		return link.Frame{}, ctx.Err()
	}
}

// Write implements PhysicalChannel.Write
func (bc *BridgeChannel) Write(ctx context.Context, frame link.Frame) error {
	if bc.closed.Load() {
		return ErrChannelClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	record, err := frame.Serialize()
	if err != nil {
		return err
	}
	if _, err := bc.conn.Write(record); err != nil {
		bc.stats.writeErrors.Add(1)
		return err
	}
	bc.stats.bytesSent.Add(uint64(len(record)))
	return nil
}

// Close implements PhysicalChannel.Close. Closing either side closes the
// bridge.
func (bc *BridgeChannel) Close() error {
	return bc.bridge.Close()
}

// Statistics implements PhysicalChannel.Statistics
func (bc *BridgeChannel) Statistics() TransportStats {
	return TransportStats{
		BytesSent:     bc.stats.bytesSent.Load(),
		BytesReceived: bc.stats.bytesReceived.Load(),
		WriteErrors:   bc.stats.writeErrors.Load(),
		ReadErrors:    bc.stats.readErrors.Load(),
	}
}

// SetConnectionStateListener implements PhysicalChannel
func (bc *BridgeChannel) SetConnectionStateListener(ConnectionStateListener) {}
