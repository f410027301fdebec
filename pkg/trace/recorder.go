package trace

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// Record framing constants
const (
	LengthPrefixSize = 4
	MaxRecordSize    = 64 * 1024
)

var ErrRecordTooLarge = errors.New("trace record exceeds maximum size")

// Recorder writes events as length-prefixed msgpack records
type Recorder struct {
	mu  sync.Mutex
	w   io.Writer
	err error
}

// NewRecorder creates a recorder writing to w
func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{w: w}
}

// Record implements Sink. The first write error is kept and later events
// are dropped.
func (r *Recorder) Record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return
	}

	payload, err := msgpack.Marshal(&ev)
	if err != nil {
		r.err = fmt.Errorf("encode trace event: %w", err)
		return
	}
	if len(payload) > MaxRecordSize {
		r.err = ErrRecordTooLarge
		return
	}

	var prefix [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := r.w.Write(prefix[:]); err != nil {
		r.err = err
		return
	}
	if _, err := r.w.Write(payload); err != nil {
		r.err = err
	}
}

// Err returns the first error encountered while recording
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// ReadAll decodes every record from rd until EOF
func ReadAll(rd io.Reader) ([]Event, error) {
	var events []Event
	var prefix [LengthPrefixSize]byte

	for {
		if _, err := io.ReadFull(rd, prefix[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return events, nil
			}
			return events, fmt.Errorf("read record prefix: %w", err)
		}

		size := binary.BigEndian.Uint32(prefix[:])
		if size > MaxRecordSize {
			return events, ErrRecordTooLarge
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(rd, payload); err != nil {
			return events, fmt.Errorf("read record payload: %w", err)
		}

		var ev Event
		if err := msgpack.Unmarshal(payload, &ev); err != nil {
			return events, fmt.Errorf("decode trace event: %w", err)
		}
		events = append(events, ev)
	}
}
