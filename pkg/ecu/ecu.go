package ecu

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"avaneesh/uds-go/pkg/internal/logger"
	"avaneesh/uds-go/pkg/trace"
	"avaneesh/uds-go/pkg/transport"
	"avaneesh/uds-go/pkg/uds"
)

// ECU serves diagnostic requests arriving on one bus endpoint. Requests
// are handled strictly one at a time by Serve.
type ECU struct {
	config ECUConfig
	logger logger.Logger
	sink   trace.Sink

	engine *Engine
	layer  *transport.Layer

	// State
	state        SessionState
	flash        []FlashImage
	stateMu      sync.RWMutex
	resetPending atomic.Bool
}

// New creates an ECU serving db on bus
func New(config ECUConfig, db *Database, bus transport.FrameBus, log logger.Logger, sink trace.Sink) (*ECU, error) {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if sink == nil {
		sink = trace.Nop{}
	}
	if db == nil {
		db = DefaultDatabase("")
	}
	if config.Engine.Seed == nil {
		config.Engine.Seed = RandomSeed
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	e := &ECU{
		config: config,
		logger: log,
		sink:   sink,
		engine: NewEngine(config.Engine, db, sink),
		layer:  transport.NewLayer(bus, config.Transport, log),
		state:  NewSessionState(),
	}

	e.logger.Info("ECU %s created: request=0x%03X, response=0x%03X", config.ID, config.RequestID, config.ResponseID)
	return e, nil
}

// Serve receives and answers requests until ctx is done or the bus fails
func (e *ECU) Serve(ctx context.Context) error {
	e.logger.Info("ECU %s serving", e.config.ID)
	defer e.logger.Info("ECU %s stopped", e.config.ID)

	for {
		if e.resetPending.Swap(false) {
			e.layer.Reset()
		}

		req, err := e.layer.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, transport.ErrReassemblyTimeout) {
				e.sink.Record(trace.Event{Time: e.engine.now(), Kind: trace.KindFraming, Detail: err.Error()})
				e.abortDownload("reassembly timeout")
				continue
			}
			return err
		}

		if req == nil {
			e.abortDownload("idle timeout")
			continue
		}

		resp := e.handle(req)
		if resp == nil {
			continue
		}

		if err := e.layer.Send(ctx, resp); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Warn("ECU %s: response to 0x%02X not delivered: %v", e.config.ID, req[0], err)
		}
	}
}

// handle dispatches one request and commits the resulting state
func (e *ECU) handle(req []byte) []byte {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	resp, next := e.engine.Dispatch(req, e.state)
	if next.Completed != nil {
		img := *next.Completed
		e.flash = append(e.flash, img)
		next.Completed = nil
		e.logger.Info("ECU %s: flashed %s", e.config.ID, img)
	}
	e.state = next
	return resp
}

// abortDownload discards an open download context, leaving the rest of the
// session state alone
func (e *ECU) abortDownload(reason string) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if e.state.Download == nil {
		return
	}
	e.logger.Warn("ECU %s: download aborted after %d/%d bytes: %s", e.config.ID,
		len(e.state.Download.Buffer), e.state.Download.ExpectedLength, reason)
	e.sink.Record(trace.Event{
		Time:   e.engine.now(),
		Kind:   trace.KindDownload,
		SID:    uint8(uds.SIDTransferData),
		Detail: "aborted: " + reason,
	})
	e.state.Download = nil
}

// Reset returns the session to power-on state and drops partial transfers,
// for use when the tester connection is lost
func (e *ECU) Reset() {
	e.stateMu.Lock()
	e.state = NewSessionState()
	e.stateMu.Unlock()

	e.resetPending.Store(true)
	e.sink.Record(trace.Event{Time: e.engine.now(), Kind: trace.KindReset, Detail: "connection reset"})
	e.logger.Info("ECU %s: session reset", e.config.ID)
}

// State returns a snapshot of the session state
func (e *ECU) State() SessionState {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

// FlashImages returns the downloads committed so far
func (e *ECU) FlashImages() []FlashImage {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return append([]FlashImage(nil), e.flash...)
}

// Database returns the fault and data store
func (e *ECU) Database() *Database {
	return e.engine.Database()
}

// ID returns the configured name
func (e *ECU) ID() string {
	return e.config.ID
}

// TransportStats returns the transport layer statistics
func (e *ECU) TransportStats() *transport.TransportStatistics {
	return e.layer.GetStats()
}
