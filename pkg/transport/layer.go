package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"avaneesh/uds-go/pkg/internal/logger"
)

// FrameBus is the raw frame transport a Layer runs on. ReceiveFrame returns
// nil data and a nil error when the timeout elapses without a frame.
type FrameBus interface {
	SendFrame(ctx context.Context, data []byte) error
	ReceiveFrame(ctx context.Context, timeout time.Duration) ([]byte, error)
}

// Layer runs the transport protocol for one half-duplex endpoint: it
// reassembles inbound messages and fragments outbound ones, performing the
// flow control handshake in both directions.
type Layer struct {
	bus    FrameBus
	config TransportConfig
	logger logger.Logger

	rx *Reassembler
	tx *Sender

	stats *TransportStatistics
	now   func() time.Time

	mu sync.Mutex
}

// NewLayer creates a new transport layer on bus
func NewLayer(bus FrameBus, config TransportConfig, log logger.Logger) *Layer {
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	return &Layer{
		bus:    bus,
		config: config,
		logger: log,
		rx:     NewReassembler(config.MaxPayloadLength, config.ReassemblyTimeout),
		tx:     NewSender(),
		stats:  NewTransportStatistics(),
		now:    time.Now,
	}
}

// Send fragments payload and transmits it, waiting for the receiver's flow
// control between blocks when flow control is enabled
func (l *Layer) Send(ctx context.Context, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(payload) > l.config.MaxPayloadLength {
		l.countLengthOverflow()
		return fmt.Errorf("send %d bytes: %w", len(payload), ErrLengthOverflow)
	}

	first, err := l.tx.Start(payload)
	if err != nil {
		if errors.Is(err, ErrLengthOverflow) {
			l.countLengthOverflow()
		}
		return err
	}

	if err := l.sendFrame(ctx, first); err != nil {
		l.tx.Abort()
		return err
	}

	waits := 0
	for l.tx.State() != SenderIdle {
		if l.tx.State() == SenderAwaitFlowControl {
			if !l.config.FlowControl {
				l.tx.SkipFlowControl()
			} else if err := l.awaitFlowControl(ctx, &waits); err != nil {
				l.tx.Abort()
				return err
			}
		}

		burst, err := l.tx.NextBurst()
		if err != nil {
			l.tx.Abort()
			return err
		}

		gap := l.tx.SeparationTime()
		if l.config.SeparationTime > gap {
			gap = l.config.SeparationTime
		}

		for i, f := range burst {
			if i > 0 && gap > 0 {
				if err := sleepContext(ctx, gap); err != nil {
					l.tx.Abort()
					return err
				}
			}
			if err := l.sendFrame(ctx, f); err != nil {
				l.tx.Abort()
				return err
			}
		}
	}

	if l.config.EnableStatistics {
		l.stats.IncrementTxMessages()
	}
	return nil
}

// awaitFlowControl blocks until the receiver sends CTS, honoring WAIT
// frames up to the configured limit
func (l *Layer) awaitFlowControl(ctx context.Context, waits *int) error {
	deadline := l.now().Add(l.config.FlowControlTimeout)

	for {
		remaining := deadline.Sub(l.now())
		if remaining <= 0 {
			l.countFlowControlTimeout()
			return ErrFlowControlTimeout
		}

		raw, err := l.bus.ReceiveFrame(ctx, remaining)
		if err != nil {
			return err
		}
		if raw == nil {
			l.countFlowControlTimeout()
			return ErrFlowControlTimeout
		}
		l.countRx()

		f, err := ParseFrame(raw)
		if err != nil {
			l.countMalformed()
			l.logger.Debug("Transport: discarding frame while awaiting flow control: %v", err)
			continue
		}
		if f.Type() != FrameFlowControl {
			l.logger.Debug("Transport: discarding %s while awaiting flow control", f)
			continue
		}

		if err := l.tx.OnFlowControl(f); err != nil {
			return err
		}

		switch l.tx.State() {
		case SenderFlowControlReceived:
			return nil
		case SenderAwaitFlowControl:
			// WAIT restarts the timer
			*waits++
			if *waits > l.config.MaxWaitFrames {
				l.countFlowControlTimeout()
				return fmt.Errorf("%d WAIT frames: %w", *waits, ErrFlowControlTimeout)
			}
			deadline = l.now().Add(l.config.FlowControlTimeout)
		}
	}
}

// Receive blocks until a complete payload arrives. It returns nil, nil when
// the read timeout elapses with no transfer in progress, and
// ErrReassemblyTimeout when a partial transfer times out.
func (l *Layer) Receive(ctx context.Context) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for {
		wait := l.config.ReadTimeout
		if l.rx.InProgress() && l.config.ReassemblyTimeout > 0 && l.config.ReassemblyTimeout < wait {
			wait = l.config.ReassemblyTimeout
		}

		raw, err := l.bus.ReceiveFrame(ctx, wait)
		if err != nil {
			return nil, err
		}

		if raw == nil {
			if l.rx.InProgress() {
				l.logger.Warn("Transport: reassembly timed out after %d bytes", l.rx.Accumulated())
				l.rx.Reset()
				l.countTimeout()
				return nil, ErrReassemblyTimeout
			}
			return nil, nil
		}
		l.countRx()

		f, err := ParseFrame(raw)
		if err != nil {
			l.countMalformed()
			l.logger.Debug("Transport: dropping frame % X: %v", raw, err)
			continue
		}

		res := l.rx.Process(f, l.now())
		if res.Abandoned {
			l.logger.Warn("Transport: incomplete transfer abandoned by new %s", f.Type())
		}

		switch res.Status {
		case StatusComplete:
			if l.config.EnableStatistics {
				l.stats.IncrementRxMessages()
			}
			return res.Payload, nil

		case StatusPending:
			if !l.config.FlowControl {
				continue
			}
			if res.First || (l.config.BlockSize > 0 && l.rx.ConsecutiveSinceFlowControl() >= int(l.config.BlockSize)) {
				fc := NewFlowControlFrame(FlowContinue, l.config.BlockSize, EncodeSTmin(l.config.STmin))
				if err := l.sendFrame(ctx, fc); err != nil {
					l.rx.Reset()
					return nil, err
				}
				l.rx.ResetBlock()
			}

		case StatusError:
			l.recordRxError(res.Err)
			if errors.Is(res.Err, ErrLengthOverflow) && l.config.FlowControl {
				fc := NewFlowControlFrame(FlowOverflow, 0, 0)
				if err := l.sendFrame(ctx, fc); err != nil {
					return nil, err
				}
			}

		case StatusFlowControl:
			l.logger.Debug("Transport: ignoring %s with no transfer in progress", res.Frame)
		}
	}
}

// recordRxError counts and logs a recoverable receive error
func (l *Layer) recordRxError(err error) {
	switch {
	case errors.Is(err, ErrSequence):
		if l.config.EnableStatistics {
			l.stats.IncrementSequenceErrors()
		}
	case errors.Is(err, ErrReassemblyTimeout):
		l.countTimeout()
	case errors.Is(err, ErrLengthOverflow):
		l.countLengthOverflow()
	}
	l.logger.Warn("Transport: receive error: %v", err)
}

// sendFrame serializes and writes one frame
func (l *Layer) sendFrame(ctx context.Context, f Frame) error {
	raw := f.Bytes()
	if err := l.bus.SendFrame(ctx, raw[:]); err != nil {
		return fmt.Errorf("send %s: %w", f.Type(), err)
	}
	if l.config.EnableStatistics {
		l.stats.IncrementTxFrames()
	}
	return nil
}

// Reset drops any in-flight transfer in both directions
func (l *Layer) Reset() {
	l.rx.Reset()
	l.tx.Abort()
}

// InProgress returns true while an inbound transfer is partially received
func (l *Layer) InProgress() bool {
	return l.rx.InProgress()
}

// GetStats returns the layer statistics
func (l *Layer) GetStats() *TransportStatistics {
	return l.stats
}

// Config returns the layer configuration
func (l *Layer) Config() TransportConfig {
	return l.config
}

func (l *Layer) countRx() {
	if l.config.EnableStatistics {
		l.stats.IncrementRxFrames()
	}
}

func (l *Layer) countTimeout() {
	if l.config.EnableStatistics {
		l.stats.IncrementTimeoutErrors()
	}
}

func (l *Layer) countFlowControlTimeout() {
	if l.config.EnableStatistics {
		l.stats.IncrementFlowControlTimeouts()
	}
}

func (l *Layer) countLengthOverflow() {
	if l.config.EnableStatistics {
		l.stats.IncrementLengthOverflows()
	}
}

func (l *Layer) countMalformed() {
	if l.config.EnableStatistics {
		l.stats.IncrementMalformedFrames()
	}
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
