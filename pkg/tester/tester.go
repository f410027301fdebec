// Package tester implements the client side of a diagnostic conversation:
// it sends UDS requests over the transport layer and interprets responses.
package tester

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"avaneesh/uds-go/pkg/internal/logger"
	"avaneesh/uds-go/pkg/transport"
	"avaneesh/uds-go/pkg/uds"
)

var (
	ErrResponseTimeout = errors.New("no response within P2")
	ErrEmptyRequest    = errors.New("empty request")
)

// Tester issues requests to one ECU. Requests are serialized.
type Tester struct {
	config TesterConfig
	logger logger.Logger
	layer  *transport.Layer
	now    func() time.Time

	mu sync.Mutex
}

// New creates a tester talking on bus
func New(config TesterConfig, bus transport.FrameBus, log logger.Logger) (*Tester, error) {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	t := &Tester{
		config: config,
		logger: log,
		layer:  transport.NewLayer(bus, config.Transport, log),
		now:    time.Now,
	}

	t.logger.Info("Tester %s created: request=0x%03X, response=0x%03X", config.ID, config.RequestID, config.ResponseID)
	return t, nil
}

// Request sends req and returns the matching response. A negative response
// is returned together with a *uds.NegativeResponseError.
func (t *Tester) Request(ctx context.Context, req []byte) ([]byte, error) {
	if len(req) == 0 {
		return nil, ErrEmptyRequest
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	sid := uds.ServiceID(req[0])
	t.logger.Debug("Tester %s: -> %s % X", t.config.ID, sid, req)

	if err := t.layer.Send(ctx, req); err != nil {
		return nil, fmt.Errorf("send %s: %w", sid, err)
	}

	resp, err := t.awaitResponse(ctx, sid)
	if err != nil {
		return nil, err
	}
	t.logger.Debug("Tester %s: <- % X", t.config.ID, resp)

	return resp, uds.CheckResponse(sid, resp)
}

// Send transmits req without waiting for a response, for requests with
// the suppress-positive-response bit set
func (t *Tester) Send(ctx context.Context, req []byte) error {
	if len(req) == 0 {
		return ErrEmptyRequest
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.logger.Debug("Tester %s: -> %s % X (no response expected)", t.config.ID, uds.ServiceID(req[0]), req)
	return t.layer.Send(ctx, req)
}

// awaitResponse waits up to P2 for the response to sid, extending the
// deadline by P2* on every responsePending
func (t *Tester) awaitResponse(ctx context.Context, sid uds.ServiceID) ([]byte, error) {
	deadline := t.now().Add(t.config.ResponseTimeout)

	for {
		wait := deadline.Sub(t.now())
		if wait <= 0 {
			t.layer.Reset()
			return nil, fmt.Errorf("%s: %w", sid, ErrResponseTimeout)
		}

		rctx, cancel := context.WithTimeout(ctx, wait)
		resp, err := t.layer.Receive(rctx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				t.layer.Reset()
				return nil, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				t.layer.Reset()
				return nil, fmt.Errorf("%s: %w", sid, ErrResponseTimeout)
			}
			return nil, fmt.Errorf("receive %s: %w", sid, err)
		}
		if resp == nil {
			continue
		}

		if !matches(sid, resp) {
			t.logger.Debug("Tester %s: discarding stale response % X", t.config.ID, resp)
			continue
		}

		if uds.IsNegative(resp) && uds.NRC(resp[2]) == uds.NRCResponsePending {
			t.logger.Debug("Tester %s: %s pending, extending wait", t.config.ID, sid)
			deadline = t.now().Add(t.config.PendingTimeout)
			continue
		}
		return resp, nil
	}
}

// matches reports whether resp answers a request for sid
func matches(sid uds.ServiceID, resp []byte) bool {
	if len(resp) == 0 {
		return false
	}
	if uds.IsNegative(resp) {
		return uds.ServiceID(resp[1]) == sid
	}
	return resp[0] == sid.Response()
}

// requestIdempotent retries read-only requests whose response timed out
func (t *Tester) requestIdempotent(ctx context.Context, req []byte) ([]byte, error) {
	return retry.DoWithData(
		func() ([]byte, error) {
			return t.Request(ctx, req)
		},
		retry.Context(ctx),
		retry.Attempts(t.config.Retries+1),
		retry.Delay(t.config.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(transient),
		retry.OnRetry(func(n uint, err error) {
			t.logger.Warn("Tester %s: retry %d of %s: %v", t.config.ID, n+1, uds.ServiceID(req[0]), err)
		}),
	)
}

// transient reports whether err may clear up by repeating the request
func transient(err error) bool {
	return errors.Is(err, ErrResponseTimeout) ||
		errors.Is(err, transport.ErrReassemblyTimeout) ||
		errors.Is(err, transport.ErrFlowControlTimeout)
}

// TransportStats returns the transport layer statistics
func (t *Tester) TransportStats() *transport.TransportStatistics {
	return t.layer.GetStats()
}

// ID returns the configured name
func (t *Tester) ID() string {
	return t.config.ID
}
