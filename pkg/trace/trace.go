// Package trace carries diagnostic decision events out of the protocol
// core. The session engine reports what it decided; sinks decide where the
// events go.
package trace

import (
	"fmt"
	"sync"
	"time"

	"avaneesh/uds-go/pkg/internal/logger"
)

// Kind classifies a trace event
type Kind uint8

const (
	KindRequest Kind = iota
	KindPositive
	KindNegative
	KindSession
	KindSecurity
	KindDownload
	KindFraming
	KindReset
)

// String returns string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindPositive:
		return "positive"
	case KindNegative:
		return "negative"
	case KindSession:
		return "session"
	case KindSecurity:
		return "security"
	case KindDownload:
		return "download"
	case KindFraming:
		return "framing"
	case KindReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Event is one decision point
type Event struct {
	Time   time.Time `msgpack:"time"`
	Kind   Kind      `msgpack:"kind"`
	SID    uint8     `msgpack:"sid"`
	NRC    uint8     `msgpack:"nrc,omitempty"`
	Detail string    `msgpack:"detail,omitempty"`
}

// String returns a one-line description of the event
func (e Event) String() string {
	switch e.Kind {
	case KindNegative:
		return fmt.Sprintf("%s sid=0x%02X nrc=0x%02X %s", e.Kind, e.SID, e.NRC, e.Detail)
	default:
		return fmt.Sprintf("%s sid=0x%02X %s", e.Kind, e.SID, e.Detail)
	}
}

// Sink receives trace events
type Sink interface {
	Record(ev Event)
}

// Nop discards events
type Nop struct{}

// Record does nothing
func (Nop) Record(Event) {}

// LogSink writes requests and positive responses at debug level and
// everything else at info
type LogSink struct {
	logger logger.Logger
	prefix string
}

// NewLogSink creates a sink writing through log
func NewLogSink(log logger.Logger, prefix string) *LogSink {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &LogSink{logger: log, prefix: prefix}
}

// Record implements Sink
func (s *LogSink) Record(ev Event) {
	switch ev.Kind {
	case KindNegative, KindFraming, KindSecurity, KindSession, KindDownload, KindReset:
		s.logger.Info("%s: %s", s.prefix, ev)
	default:
		s.logger.Debug("%s: %s", s.prefix, ev)
	}
}

// Multi fans events out to several sinks
type Multi []Sink

// Record implements Sink
func (m Multi) Record(ev Event) {
	for _, s := range m {
		s.Record(ev)
	}
}

// Memory keeps events in memory, mostly for tests and reports
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// Record implements Sink
func (m *Memory) Record(ev Event) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
}

// Events returns a copy of the recorded events
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Count returns the number of recorded events of kind k
func (m *Memory) Count(k Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if ev.Kind == k {
			n++
		}
	}
	return n
}
