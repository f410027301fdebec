// Package link defines the bus frame exchanged by physical channels and
// its fixed-size record encoding for stream and datagram transports.
package link

import (
	"encoding/binary"
	"fmt"
)

// Frame is one classic CAN data frame. Data is always the full 8 bytes;
// the transport layer pads short frames.
type Frame struct {
	ID       uint32
	Extended bool
	Data     [DataSize]byte
}

// NewFrame creates a frame carrying data, zero-padded to 8 bytes
func NewFrame(id uint32, extended bool, data []byte) (Frame, error) {
	if len(data) > DataSize {
		return Frame{}, ErrDataTooLong
	}

	f := Frame{ID: id, Extended: extended}
	copy(f.Data[:], data)
	return f, f.Validate()
}

// Validate checks the identifier against the 11-bit or 29-bit range
func (f Frame) Validate() error {
	limit := MaxStandardID
	if f.Extended {
		limit = MaxExtendedID
	}
	if f.ID > limit {
		return fmt.Errorf("0x%X: %w", f.ID, ErrInvalidID)
	}
	return nil
}

// Serialize converts the frame to its 12-byte record: the big-endian
// identifier with bit 31 set for extended frames, then the data bytes
func (f Frame) Serialize() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	id := f.ID
	if f.Extended {
		id |= extendedFlag
	}

	record := make([]byte, RecordSize)
	binary.BigEndian.PutUint32(record[:IDSize], id)
	copy(record[IDSize:], f.Data[:])
	return record, nil
}

// Parse decodes one record from the front of data and returns the frame
// and the number of bytes consumed
func Parse(data []byte) (Frame, int, error) {
	if len(data) < RecordSize {
		return Frame{}, 0, ErrRecordTooShort
	}

	id := binary.BigEndian.Uint32(data[:IDSize])
	f := Frame{
		ID:       id &^ extendedFlag,
		Extended: id&extendedFlag != 0,
	}
	copy(f.Data[:], data[IDSize:RecordSize])

	if err := f.Validate(); err != nil {
		return Frame{}, RecordSize, err
	}
	return f, RecordSize, nil
}

// String returns a string representation of the frame
func (f Frame) String() string {
	if f.Extended {
		return fmt.Sprintf("%08X [% X]", f.ID, f.Data)
	}
	return fmt.Sprintf("%03X [% X]", f.ID, f.Data)
}
