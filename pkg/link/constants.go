package link

import "errors"

// Bus frame constants

// Identifier ranges
const (
	MaxStandardID uint32 = 0x7FF      // 11-bit identifier
	MaxExtendedID uint32 = 0x1FFFFFFF // 29-bit identifier
)

// Frame sizes
const (
	DataSize   = 8  // Data bytes per bus frame
	IDSize     = 4  // Identifier bytes in a serialized record
	RecordSize = 12 // Serialized frame: identifier + data
)

// extendedFlag marks a 29-bit identifier in the serialized record
const extendedFlag uint32 = 0x80000000

// Link layer errors
var (
	ErrRecordTooShort = errors.New("frame record too short")
	ErrDataTooLong    = errors.New("frame data exceeds 8 bytes")
	ErrInvalidID      = errors.New("identifier out of range")
)
