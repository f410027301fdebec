package channel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"avaneesh/uds-go/pkg/link"
)

// SerialChannel implements PhysicalChannel for a serial CAN adapter that
// exchanges 12-byte frame records with the host
type SerialChannel struct {
	port        serial.Port
	portName    string
	readTimeout time.Duration

	// pending holds a partial record between reads
	pending []byte
	readMu  sync.Mutex
	writeMu sync.Mutex

	stats struct {
		bytesSent     atomic.Uint64
		bytesReceived atomic.Uint64
		writeErrors   atomic.Uint64
		readErrors    atomic.Uint64
	}

	closed atomic.Bool
}

// SerialChannelConfig configures a serial channel
type SerialChannelConfig struct {
	Port        string        // e.g. /dev/ttyUSB0 or COM3
	BaudRate    int           // Default 115200
	ReadTimeout time.Duration // Poll interval for context checks
}

// NewSerialChannel opens the serial port
func NewSerialChannel(config SerialChannelConfig) (*SerialChannel, error) {
	if config.Port == "" {
		return nil, fmt.Errorf("port is required")
	}
	if config.BaudRate == 0 {
		config.BaudRate = 115200
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 50 * time.Millisecond
	}

	mode := &serial.Mode{
		BaudRate: config.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(config.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", config.Port, err)
	}
	if err := port.SetReadTimeout(config.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", config.Port, err)
	}
	// Drop whatever the adapter buffered before we attached
	port.ResetInputBuffer()

	return &SerialChannel{
		port:        port,
		portName:    config.Port,
		readTimeout: config.ReadTimeout,
		pending:     make([]byte, 0, link.RecordSize),
	}, nil
}

// Read implements PhysicalChannel.Read
func (sc *SerialChannel) Read(ctx context.Context) (link.Frame, error) {
	sc.readMu.Lock()
	defer sc.readMu.Unlock()

	buf := make([]byte, link.RecordSize)
	for {
		if sc.closed.Load() {
			return link.Frame{}, ErrChannelClosed
		}
		if err := ctx.Err(); err != nil {
			return link.Frame{}, err
		}

		need := link.RecordSize - len(sc.pending)
		n, err := sc.port.Read(buf[:need])
		if err != nil {
			if sc.closed.Load() {
				return link.Frame{}, ErrChannelClosed
			}
			sc.stats.readErrors.Add(1)
			return link.Frame{}, err
		}
		if n == 0 {
			continue // read timeout
		}
		sc.stats.bytesReceived.Add(uint64(n))
		sc.pending = append(sc.pending, buf[:n]...)

		if len(sc.pending) < link.RecordSize {
			continue
		}

		frame, _, err := link.Parse(sc.pending)
		sc.pending = sc.pending[:0]
		if err != nil {
			sc.stats.readErrors.Add(1)
			continue
		}
		return frame, nil
	}
}

// Write implements PhysicalChannel.Write
func (sc *SerialChannel) Write(ctx context.Context, frame link.Frame) error {
	if sc.closed.Load() {
		return ErrChannelClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	record, err := frame.Serialize()
	if err != nil {
		return err
	}

	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()

	if _, err := sc.port.Write(record); err != nil {
		sc.stats.writeErrors.Add(1)
		return err
	}
	sc.stats.bytesSent.Add(uint64(len(record)))
	return nil
}

// Close implements PhysicalChannel.Close
func (sc *SerialChannel) Close() error {
	if !sc.closed.CompareAndSwap(false, true) {
		return nil
	}
	return sc.port.Close()
}

// Statistics implements PhysicalChannel.Statistics
func (sc *SerialChannel) Statistics() TransportStats {
	return TransportStats{
		BytesSent:     sc.stats.bytesSent.Load(),
		BytesReceived: sc.stats.bytesReceived.Load(),
		WriteErrors:   sc.stats.writeErrors.Load(),
		ReadErrors:    sc.stats.readErrors.Load(),
	}
}

// SetConnectionStateListener implements PhysicalChannel. A serial line has
// no connection state.
func (sc *SerialChannel) SetConnectionStateListener(ConnectionStateListener) {}

// String returns the port name
func (sc *SerialChannel) String() string {
	return sc.portName
}

// ListSerialPorts returns the serial ports present on the host
func ListSerialPorts() ([]string, error) {
	return serial.GetPortsList()
}
