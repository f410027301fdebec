package channel

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/quic-go/quic-go"

	"avaneesh/uds-go/pkg/link"
)

// QUICProtocol is the ALPN identifier both sides negotiate
const QUICProtocol = "uds-quic"

// QUICChannel implements PhysicalChannel over a single QUIC stream of frame
// records. The client opens the stream; the server accepts it.
type QUICChannel struct {
	// Connection
	connection *quic.Conn
	stream     *quic.Stream
	connLock   sync.RWMutex

	// Configuration
	address        string
	isServer       bool
	listener       *quic.Listener
	reconnectDelay time.Duration
	dialAttempts   uint
	writeTimeout   time.Duration
	tlsConfig      *tls.Config

	stateListener ConnectionStateListener
	listenerLock  sync.RWMutex

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

// QUICChannelConfig configures a QUIC channel
type QUICChannelConfig struct {
	Address        string        // "host:port" format
	IsServer       bool          // true = listen, false = connect
	ReconnectDelay time.Duration // Delay between reconnection attempts (client only)
	DialAttempts   uint          // Attempts per (re)connection (client only)
	WriteTimeout   time.Duration // Write timeout (0 = no timeout)
	TLSConfig      *tls.Config   // Optional; a self-signed certificate is generated when nil
}

// NewQUICChannel creates a new QUIC channel
func NewQUICChannel(config QUICChannelConfig) (*QUICChannel, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("address is required")
	}

	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = 2 * time.Second
	}
	if config.DialAttempts == 0 {
		config.DialAttempts = 5
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}

	tlsConfig := config.TLSConfig
	if tlsConfig == nil {
		var err error
		tlsConfig, err = selfSignedTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to generate TLS config: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	qc := &QUICChannel{
		address:        config.Address,
		isServer:       config.IsServer,
		reconnectDelay: config.ReconnectDelay,
		dialAttempts:   config.DialAttempts,
		writeTimeout:   config.WriteTimeout,
		tlsConfig:      tlsConfig,
		ctx:            ctx,
		cancel:         cancel,
	}

	var err error
	if config.IsServer {
		err = qc.startServer()
	} else {
		err = qc.connect()
	}
	if err != nil {
		cancel()
		return nil, err
	}

	return qc, nil
}

// selfSignedTLSConfig builds a throwaway P-256 certificate for test benches
func selfSignedTLSConfig() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "uds-bench"},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{certDER},
			PrivateKey:  key,
		}},
		NextProtos:         []string{QUICProtocol},
		InsecureSkipVerify: true, // self-signed
	}, nil
}

// startServer starts listening for incoming QUIC connections
func (qc *QUICChannel) startServer() error {
	listener, err := quic.ListenAddr(qc.address, qc.tlsConfig, nil)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", qc.address, err)
	}
	qc.listener = listener

	qc.wg.Add(1)
	go qc.acceptLoop()

	return nil
}

// acceptLoop accepts incoming connections. A new tester replaces the
// previous one once it has opened its stream.
func (qc *QUICChannel) acceptLoop() {
	defer qc.wg.Done()

	for {
		conn, err := qc.listener.Accept(qc.ctx)
		if err != nil {
			if qc.closed.Load() || qc.ctx.Err() != nil {
				return
			}
			continue
		}

		qc.wg.Add(1)
		go qc.acceptStream(conn)
	}
}

func (qc *QUICChannel) acceptStream(conn *quic.Conn) {
	defer qc.wg.Done()

	stream, err := conn.AcceptStream(qc.ctx)
	if err != nil {
		conn.CloseWithError(0, "no stream")
		return
	}

	replaced := qc.install(conn, stream)
	if replaced {
		qc.notify(false)
	}
	qc.notify(true)
}

// install swaps in a new connection and reports whether one was replaced
func (qc *QUICChannel) install(conn *quic.Conn, stream *quic.Stream) bool {
	qc.connLock.Lock()
	defer qc.connLock.Unlock()

	replaced := qc.connection != nil
	if replaced {
		qc.stream.Close()
		qc.connection.CloseWithError(0, "replaced")
		qc.stats.disconnects.Add(1)
	}
	qc.connection = conn
	qc.stream = stream
	qc.stats.connects.Add(1)
	return replaced
}

// dial connects and opens the frame stream, retrying up to the configured
// attempts
func (qc *QUICChannel) dial() (*quic.Conn, *quic.Stream, error) {
	type pair struct {
		conn   *quic.Conn
		stream *quic.Stream
	}

	p, err := retry.DoWithData(
		func() (pair, error) {
			ctx, cancel := context.WithTimeout(qc.ctx, 5*time.Second)
			defer cancel()

			conn, err := quic.DialAddr(ctx, qc.address, qc.tlsConfig, nil)
			if err != nil {
				return pair{}, err
			}
			stream, err := conn.OpenStreamSync(ctx)
			if err != nil {
				conn.CloseWithError(0, "failed to open stream")
				return pair{}, err
			}
			return pair{conn, stream}, nil
		},
		retry.Context(qc.ctx),
		retry.Attempts(qc.dialAttempts),
		retry.Delay(qc.reconnectDelay/4),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(qc.reconnectDelay),
		retry.LastErrorOnly(true),
	)
	return p.conn, p.stream, err
}

// connect establishes the client connection and starts the reconnect loop
func (qc *QUICChannel) connect() error {
	conn, stream, err := qc.dial()
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", qc.address, err)
	}
	qc.install(conn, stream)

	qc.wg.Add(1)
	go qc.reconnectLoop()

	return nil
}

// reconnectLoop redials after the connection was dropped
func (qc *QUICChannel) reconnectLoop() {
	defer qc.wg.Done()

	for {
		select {
		case <-qc.ctx.Done():
			return
		case <-time.After(qc.reconnectDelay):
		}

		qc.connLock.RLock()
		alive := qc.connection != nil && qc.connection.Context().Err() == nil
		qc.connLock.RUnlock()
		if alive {
			continue
		}

		conn, stream, err := qc.dial()
		if err != nil {
			continue
		}
		if qc.install(conn, stream) {
			qc.notify(false)
		}
		qc.notify(true)
	}
}

// current returns the active stream, waiting for one to appear
func (qc *QUICChannel) current(ctx context.Context) (*quic.Stream, error) {
	for {
		qc.connLock.RLock()
		stream := qc.stream
		qc.connLock.RUnlock()

		if stream != nil {
			return stream, nil
		}

		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-qc.ctx.Done():
			return nil, ErrChannelClosed
		}
	}
}

// Read implements PhysicalChannel.Read
func (qc *QUICChannel) Read(ctx context.Context) (link.Frame, error) {
	record := make([]byte, link.RecordSize)

	for {
		stream, err := qc.current(ctx)
		if err != nil {
			return link.Frame{}, err
		}

		if _, err := io.ReadFull(stream, record); err != nil {
			qc.drop(stream, &qc.stats.readErrors)
			continue
		}
		qc.stats.bytesReceived.Add(link.RecordSize)

		frame, _, err := link.Parse(record)
		if err != nil {
			qc.stats.readErrors.Add(1)
			continue
		}
		return frame, nil
	}
}

// Write implements PhysicalChannel.Write
func (qc *QUICChannel) Write(ctx context.Context, frame link.Frame) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-qc.ctx.Done():
		return ErrChannelClosed
	default:
	}

	record, err := frame.Serialize()
	if err != nil {
		return err
	}

	qc.connLock.RLock()
	stream := qc.stream
	qc.connLock.RUnlock()

	if stream == nil {
		qc.stats.writeErrors.Add(1)
		return fmt.Errorf("no stream")
	}

	if qc.writeTimeout > 0 {
		stream.SetWriteDeadline(time.Now().Add(qc.writeTimeout))
	}

	if _, err := stream.Write(record); err != nil {
		qc.drop(stream, &qc.stats.writeErrors)
		return err
	}

	qc.stats.bytesSent.Add(uint64(len(record)))
	return nil
}

// drop tears down the connection that owned stream after an I/O error
func (qc *QUICChannel) drop(stream *quic.Stream, counter *atomic.Uint64) {
	if qc.closed.Load() {
		return
	}
	counter.Add(1)

	qc.connLock.Lock()
	if qc.stream != stream {
		qc.connLock.Unlock()
		return
	}
	qc.stream.Close()
	qc.connection.CloseWithError(0, "i/o error")
	qc.stream = nil
	qc.connection = nil
	qc.stats.disconnects.Add(1)
	qc.connLock.Unlock()

	qc.notify(false)
}

// Close implements PhysicalChannel.Close
func (qc *QUICChannel) Close() error {
	if !qc.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}

	qc.cancel()

	if qc.listener != nil {
		qc.listener.Close()
	}

	qc.connLock.Lock()
	if qc.connection != nil {
		qc.stream.Close()
		qc.connection.CloseWithError(0, "channel closed")
		qc.stats.disconnects.Add(1)
		qc.stream = nil
		qc.connection = nil
	}
	qc.connLock.Unlock()

	qc.wg.Wait()
	return nil
}

// Statistics implements PhysicalChannel.Statistics
func (qc *QUICChannel) Statistics() TransportStats {
	return TransportStats{
		BytesSent:     qc.stats.bytesSent.Load(),
		BytesReceived: qc.stats.bytesReceived.Load(),
		WriteErrors:   qc.stats.writeErrors.Load(),
		ReadErrors:    qc.stats.readErrors.Load(),
		Connects:      qc.stats.connects.Load(),
		Disconnects:   qc.stats.disconnects.Load(),
	}
}

// SetConnectionStateListener implements PhysicalChannel
func (qc *QUICChannel) SetConnectionStateListener(listener ConnectionStateListener) {
	qc.listenerLock.Lock()
	defer qc.listenerLock.Unlock()
	qc.stateListener = listener
}

func (qc *QUICChannel) notify(established bool) {
	qc.listenerLock.RLock()
	listener := qc.stateListener
	qc.listenerLock.RUnlock()

	if listener == nil {
		return
	}
	if established {
		listener.OnConnectionEstablished()
	} else {
		listener.OnConnectionLost()
	}
}

// IsConnected returns true if there is an active connection
func (qc *QUICChannel) IsConnected() bool {
	qc.connLock.RLock()
	defer qc.connLock.RUnlock()
	return qc.connection != nil && qc.connection.Context().Err() == nil
}

// Addr returns the listening address in server mode
func (qc *QUICChannel) Addr() net.Addr {
	if qc.listener != nil {
		return qc.listener.Addr()
	}
	return nil
}

// RemoteAddr returns the remote address of the connection
func (qc *QUICChannel) RemoteAddr() net.Addr {
	qc.connLock.RLock()
	defer qc.connLock.RUnlock()
	if qc.connection != nil {
		return qc.connection.RemoteAddr()
	}
	return nil
}
