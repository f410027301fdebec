package ecu

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// DTC status bits
const (
	StatusTestFailed                         uint8 = 0x01
	StatusTestFailedThisOperationCycle       uint8 = 0x02
	StatusPendingDTC                         uint8 = 0x04
	StatusConfirmedDTC                       uint8 = 0x08
	StatusTestNotCompletedSinceLastClear     uint8 = 0x10
	StatusTestFailedSinceLastClear           uint8 = 0x20
	StatusTestNotCompletedThisOperationCycle uint8 = 0x40
	StatusWarningIndicatorRequested          uint8 = 0x80
)

// Snapshot record number used by the demo catalog
const SnapshotRecordAll uint8 = 0xFF

// Extended data record holding the occurrence counter
const ExtendedRecordOccurrence uint8 = 0x01

// SnapshotEntry is one freeze-frame value (encoded as 2 bytes)
type SnapshotEntry struct {
	ID    uint8
	Value uint16
}

// ExtendedEntry is one extended data value (encoded as 1 byte)
type ExtendedEntry struct {
	ID    uint8
	Value uint8
}

// recordKey addresses one DTC record
type recordKey struct {
	dtc    uint32
	record uint8
}

// Database is the in-memory fault and data catalog. Everything except the
// DTC status bytes is read-only once built.
type Database struct {
	mu               sync.RWMutex
	availabilityMask uint8
	dids             map[uint16][]byte
	statuses         map[uint32]uint8
	snapshots        map[recordKey][]SnapshotEntry
	extended         map[recordKey][]ExtendedEntry
}

// NewDatabase creates an empty database reporting availMask for 0x19/01
// and 0x19/02
func NewDatabase(availMask uint8) *Database {
	return &Database{
		availabilityMask: availMask,
		dids:             make(map[uint16][]byte),
		statuses:         make(map[uint32]uint8),
		snapshots:        make(map[recordKey][]SnapshotEntry),
		extended:         make(map[recordKey][]ExtendedEntry),
	}
}

// DefaultDatabase returns the demonstration catalog
func DefaultDatabase(vin string) *Database {
	if vin == "" {
		vin = "VIN12345678901234"
	}

	db := NewDatabase(0xFF)
	db.SetDID(0xF190, []byte(vin))
	db.SetDID(0xF18C, []byte("SN-000042"))
	db.SetDID(0xF187, []byte("PN-8841-220"))

	// Misfire, coolant sensor, catalyst efficiency
	db.SetDTC(0x010000, 0x28)
	db.SetDTC(0x030100, 0x08)
	db.SetDTC(0x042000, 0x2A)

	// Engine load, engine speed, vehicle speed
	db.SetSnapshot(0x010000, SnapshotRecordAll, []SnapshotEntry{{0x04, 1800}, {0x0C, 65}, {0x0D, 2500}})
	db.SetSnapshot(0x030100, SnapshotRecordAll, []SnapshotEntry{{0x04, 950}, {0x0C, 0}, {0x0D, 800}})
	db.SetSnapshot(0x042000, SnapshotRecordAll, []SnapshotEntry{{0x04, 3200}, {0x0C, 120}, {0x0D, 4000}})

	db.SetExtended(0x010000, ExtendedRecordOccurrence, []ExtendedEntry{{0x01, 12}})
	db.SetExtended(0x030100, ExtendedRecordOccurrence, []ExtendedEntry{{0x01, 3}})
	db.SetExtended(0x042000, ExtendedRecordOccurrence, []ExtendedEntry{{0x01, 45}})

	return db
}

// SetDID stores a readable data identifier
func (db *Database) SetDID(id uint16, value []byte) {
	db.dids[id] = append([]byte(nil), value...)
}

// SetDTC stores a DTC with its status
func (db *Database) SetDTC(dtc uint32, status uint8) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.statuses[dtc&0xFFFFFF] = status
}

// SetSnapshot stores the snapshot entries of one DTC record
func (db *Database) SetSnapshot(dtc uint32, record uint8, entries []SnapshotEntry) {
	db.snapshots[recordKey{dtc, record}] = append([]SnapshotEntry(nil), entries...)
}

// SetExtended stores the extended data entries of one DTC record
func (db *Database) SetExtended(dtc uint32, record uint8, entries []ExtendedEntry) {
	db.extended[recordKey{dtc, record}] = append([]ExtendedEntry(nil), entries...)
}

// AvailabilityMask returns the status bits this ECU supports
func (db *Database) AvailabilityMask() uint8 {
	return db.availabilityMask
}

// ReadDID returns the value of a data identifier
func (db *Database) ReadDID(id uint16) ([]byte, bool) {
	v, ok := db.dids[id]
	return v, ok
}

// DTCs returns all DTC codes in ascending order
func (db *Database) DTCs() []uint32 {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.sortedCodes()
}

func (db *Database) sortedCodes() []uint32 {
	codes := make([]uint32, 0, len(db.statuses))
	for code := range db.statuses {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// Status returns the status byte of dtc
func (db *Database) Status(dtc uint32) (uint8, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	s, ok := db.statuses[dtc]
	return s, ok
}

// CountByMask returns the number of DTCs with any status bit in mask
func (db *Database) CountByMask(mask uint8) int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	n := 0
	for _, s := range db.statuses {
		if s&mask != 0 {
			n++
		}
	}
	return n
}

// MatchByMask returns the DTCs with any status bit in mask, in code order
func (db *Database) MatchByMask(mask uint8) []uint32 {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var codes []uint32
	for _, code := range db.sortedCodes() {
		if db.statuses[code]&mask != 0 {
			codes = append(codes, code)
		}
	}
	return codes
}

// Snapshot returns the snapshot entries of one DTC record
func (db *Database) Snapshot(dtc uint32, record uint8) ([]SnapshotEntry, bool) {
	e, ok := db.snapshots[recordKey{dtc, record}]
	return e, ok
}

// Extended returns the extended data entries of one DTC record
func (db *Database) Extended(dtc uint32, record uint8) ([]ExtendedEntry, bool) {
	e, ok := db.extended[recordKey{dtc, record}]
	return e, ok
}

// ClearStatus clears the status byte of one DTC
func (db *Database) ClearStatus(dtc uint32) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.statuses[dtc]; !ok {
		return false
	}
	db.statuses[dtc] = 0
	return true
}

// ClearAll clears every DTC status byte
func (db *Database) ClearAll() {
	db.mu.Lock()
	defer db.mu.Unlock()
	for code := range db.statuses {
		db.statuses[code] = 0
	}
}

// Clone returns an independent copy, for running several ECU instances
func (db *Database) Clone() *Database {
	db.mu.RLock()
	defer db.mu.RUnlock()
	c := NewDatabase(db.availabilityMask)
	for id, v := range db.dids {
		c.SetDID(id, v)
	}
	for code, s := range db.statuses {
		c.statuses[code] = s
	}
	for k, e := range db.snapshots {
		c.snapshots[k] = append([]SnapshotEntry(nil), e...)
	}
	for k, e := range db.extended {
		c.extended[k] = append([]ExtendedEntry(nil), e...)
	}
	return c
}

// FormatDTC renders a 24-bit DTC in SAE J2012 form, for example
// 0x010000 as "P0100-00"
func FormatDTC(dtc uint32) string {
	hi := uint8(dtc >> 16)
	letter := [4]byte{'P', 'C', 'B', 'U'}[hi>>6]
	return fmt.Sprintf("%c%d%X%02X-%02X", letter, (hi>>4)&0x03, hi&0x0F, uint8(dtc>>8), uint8(dtc))
}

// StatusString describes the bits set in a DTC status byte
func StatusString(status uint8) string {
	names := []struct {
		bit  uint8
		name string
	}{
		{StatusWarningIndicatorRequested, "warningIndicatorRequested"},
		{StatusTestNotCompletedThisOperationCycle, "testNotCompletedThisOperationCycle"},
		{StatusTestFailedSinceLastClear, "testFailedSinceLastClear"},
		{StatusTestNotCompletedSinceLastClear, "testNotCompletedSinceLastClear"},
		{StatusConfirmedDTC, "confirmedDTC"},
		{StatusPendingDTC, "pendingDTC"},
		{StatusTestFailedThisOperationCycle, "testFailedThisOperationCycle"},
		{StatusTestFailed, "testFailed"},
	}

	var parts []string
	for _, n := range names {
		if status&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}
