package channel

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"

	"avaneesh/uds-go/pkg/link"
)

// TCPChannel implements PhysicalChannel over a TCP stream of 12-byte frame
// records, for running ECU and tester on different hosts
type TCPChannel struct {
	// Connection
	conn     net.Conn
	connLock sync.RWMutex
	listener ConnectionStateListener

	// Configuration
	address        string
	isServer       bool
	netListener    net.Listener
	reconnectDelay time.Duration
	dialAttempts   uint
	readTimeout    time.Duration
	writeTimeout   time.Duration

	// Statistics
	stats struct {
		bytesSent     atomic.Uint64
		bytesReceived atomic.Uint64
		writeErrors   atomic.Uint64
		readErrors    atomic.Uint64
		connects      atomic.Uint64
		disconnects   atomic.Uint64
	}

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// TCPChannelConfig configures a TCP channel
type TCPChannelConfig struct {
	Address        string        // "host:port" format
	IsServer       bool          // true = listen, false = connect
	ReconnectDelay time.Duration // Delay between reconnection attempts (client only)
	DialAttempts   uint          // Attempts for the initial connection (client only)
	ReadTimeout    time.Duration // Idle read timeout (0 = no timeout)
	WriteTimeout   time.Duration // Write timeout (0 = no timeout)
}

// NewTCPChannel creates a new TCP channel
func NewTCPChannel(config TCPChannelConfig) (*TCPChannel, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("address is required")
	}

	// Set defaults
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = 2 * time.Second
	}
	if config.DialAttempts == 0 {
		config.DialAttempts = 5
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	tc := &TCPChannel{
		address:        config.Address,
		isServer:       config.IsServer,
		reconnectDelay: config.ReconnectDelay,
		dialAttempts:   config.DialAttempts,
		readTimeout:    config.ReadTimeout,
		writeTimeout:   config.WriteTimeout,
		ctx:            ctx,
		cancel:         cancel,
	}

	// Initialize connection
	if config.IsServer {
		if err := tc.startServer(); err != nil {
			cancel()
			return nil, err
		}
	} else {
		if err := tc.connect(); err != nil {
			cancel()
			return nil, err
		}
	}

	return tc, nil
}

// startServer starts listening for incoming connections
func (tc *TCPChannel) startServer() error {
	l, err := net.Listen("tcp", tc.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", tc.address, err)
	}

	tc.netListener = l

	// Accept connections in background
	tc.wg.Add(1)
	go tc.acceptLoop()

	return nil
}

// acceptLoop accepts incoming connections. A new tester replaces the
// previous one.
func (tc *TCPChannel) acceptLoop() {
	defer tc.wg.Done()

	for {
		select {
		case <-tc.ctx.Done():
			return
		default:
		}

		// Set accept deadline to allow periodic context checks
		if tcpListener, ok := tc.netListener.(*net.TCPListener); ok {
			tcpListener.SetDeadline(time.Now().Add(1 * time.Second))
		}

		conn, err := tc.netListener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if tc.closed.Load() {
				return
			}
			continue
		}

		tc.connLock.Lock()
		replaced := tc.conn != nil
		if replaced {
			tc.conn.Close()
			tc.stats.disconnects.Add(1)
		}
		tc.conn = conn
		tc.stats.connects.Add(1)
		listener := tc.listener
		tc.connLock.Unlock()

		if listener != nil {
			if replaced {
				listener.OnConnectionLost()
			}
			listener.OnConnectionEstablished()
		}
	}
}

// dial opens a connection, retrying up to the configured attempts
func (tc *TCPChannel) dial() (net.Conn, error) {
	var d net.Dialer
	return retry.DoWithData(
		func() (net.Conn, error) {
			ctx, cancel := context.WithTimeout(tc.ctx, 5*time.Second)
			defer cancel()
			return d.DialContext(ctx, "tcp", tc.address)
		},
		retry.Context(tc.ctx),
		retry.Attempts(tc.dialAttempts),
		retry.Delay(tc.reconnectDelay/4),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(tc.reconnectDelay),
		retry.LastErrorOnly(true),
	)
}

// connect establishes a connection to the remote server
func (tc *TCPChannel) connect() error {
	conn, err := tc.dial()
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", tc.address, err)
	}

	tc.connLock.Lock()
	tc.conn = conn
	tc.stats.connects.Add(1)
	tc.connLock.Unlock()

	// Start reconnection handler for clients
	tc.wg.Add(1)
	go tc.reconnectLoop()

	return nil
}

// reconnectLoop handles automatic reconnection for client mode
func (tc *TCPChannel) reconnectLoop() {
	defer tc.wg.Done()

	for {
		select {
		case <-tc.ctx.Done():
			return
		case <-time.After(tc.reconnectDelay):
			tc.connLock.RLock()
			conn := tc.conn
			tc.connLock.RUnlock()

			if conn != nil {
				continue
			}

			newConn, err := tc.dial()
			if err != nil {
				continue
			}

			tc.connLock.Lock()
			tc.conn = newConn
			tc.stats.connects.Add(1)
			listener := tc.listener
			tc.connLock.Unlock()

			if listener != nil {
				listener.OnConnectionEstablished()
			}
		}
	}
}

// Read implements PhysicalChannel.Read
func (tc *TCPChannel) Read(ctx context.Context) (link.Frame, error) {
	for {
		select {
		case <-ctx.Done():
			return link.Frame{}, ctx.Err()
		case <-tc.ctx.Done():
			return link.Frame{}, ErrChannelClosed
		default:
		}

		// Wait for connection if not available
		var conn net.Conn
		for {
			tc.connLock.RLock()
			conn = tc.conn
			tc.connLock.RUnlock()

			if conn != nil {
				break
			}

			select {
			case <-time.After(100 * time.Millisecond):
				continue
			case <-ctx.Done():
				return link.Frame{}, ctx.Err()
			case <-tc.ctx.Done():
				return link.Frame{}, ErrChannelClosed
			}
		}

		if tc.readTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(tc.readTimeout))
		}

		record := make([]byte, link.RecordSize)
		if _, err := io.ReadFull(conn, record); err != nil {
			tc.handleConnError(conn, &tc.stats.readErrors)
			continue
		}
		tc.stats.bytesReceived.Add(link.RecordSize)

		frame, _, err := link.Parse(record)
		if err != nil {
			tc.stats.readErrors.Add(1)
			continue
		}
		return frame, nil
	}
}

// Write implements PhysicalChannel.Write
func (tc *TCPChannel) Write(ctx context.Context, frame link.Frame) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tc.ctx.Done():
		return ErrChannelClosed
	default:
	}

	record, err := frame.Serialize()
	if err != nil {
		return err
	}

	tc.connLock.RLock()
	conn := tc.conn
	tc.connLock.RUnlock()

	if conn == nil {
		tc.stats.writeErrors.Add(1)
		return fmt.Errorf("no connection")
	}

	if tc.writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(tc.writeTimeout))
	}

	if _, err := conn.Write(record); err != nil {
		tc.handleConnError(conn, &tc.stats.writeErrors)
		return err
	}

	tc.stats.bytesSent.Add(uint64(len(record)))
	return nil
}

// Close implements PhysicalChannel.Close
func (tc *TCPChannel) Close() error {
	if !tc.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}

	// Cancel context to stop all goroutines
	tc.cancel()

	if tc.netListener != nil {
		tc.netListener.Close()
	}

	tc.connLock.Lock()
	if tc.conn != nil {
		tc.conn.Close()
		tc.stats.disconnects.Add(1)
		tc.conn = nil
	}
	tc.connLock.Unlock()

	tc.wg.Wait()
	return nil
}

// Statistics implements PhysicalChannel.Statistics
func (tc *TCPChannel) Statistics() TransportStats {
	return TransportStats{
		BytesSent:     tc.stats.bytesSent.Load(),
		BytesReceived: tc.stats.bytesReceived.Load(),
		WriteErrors:   tc.stats.writeErrors.Load(),
		ReadErrors:    tc.stats.readErrors.Load(),
		Connects:      tc.stats.connects.Load(),
		Disconnects:   tc.stats.disconnects.Load(),
	}
}

// SetConnectionStateListener implements PhysicalChannel
func (tc *TCPChannel) SetConnectionStateListener(listener ConnectionStateListener) {
	tc.connLock.Lock()
	defer tc.connLock.Unlock()
	tc.listener = listener
}

// handleConnError drops a failed connection and notifies the listener.
// conn is compared so a connection already replaced is left alone.
func (tc *TCPChannel) handleConnError(conn net.Conn, counter *atomic.Uint64) {
	if tc.closed.Load() {
		return
	}
	counter.Add(1)

	tc.connLock.Lock()
	if tc.conn != conn {
		tc.connLock.Unlock()
		return
	}
	tc.conn.Close()
	tc.conn = nil
	tc.stats.disconnects.Add(1)
	listener := tc.listener
	tc.connLock.Unlock()

	if listener != nil {
		listener.OnConnectionLost()
	}
}

// IsConnected returns true if there is an active connection
func (tc *TCPChannel) IsConnected() bool {
	tc.connLock.RLock()
	defer tc.connLock.RUnlock()
	return tc.conn != nil
}

// Addr returns the listening address in server mode
func (tc *TCPChannel) Addr() net.Addr {
	if tc.netListener != nil {
		return tc.netListener.Addr()
	}
	return nil
}

// RemoteAddr returns the remote address of the connection
func (tc *TCPChannel) RemoteAddr() net.Addr {
	tc.connLock.RLock()
	defer tc.connLock.RUnlock()
	if tc.conn != nil {
		return tc.conn.RemoteAddr()
	}
	return nil
}
