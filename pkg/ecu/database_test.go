package ecu

import (
	"bytes"
	"testing"
)

func TestDefaultDatabase(t *testing.T) {
	db := DefaultDatabase("")

	vin, ok := db.ReadDID(0xF190)
	if !ok || !bytes.Equal(vin, []byte("VIN12345678901234")) {
		t.Errorf("Unexpected VIN %q", vin)
	}

	codes := db.DTCs()
	want := []uint32{0x010000, 0x030100, 0x042000}
	if len(codes) != len(want) {
		t.Fatalf("Expected %d DTCs, got %d", len(want), len(codes))
	}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("DTC %d: got %06X, want %06X", i, codes[i], want[i])
		}
	}

	snap, ok := db.Snapshot(0x042000, SnapshotRecordAll)
	if !ok || len(snap) != 3 || snap[2].Value != 4000 {
		t.Errorf("Unexpected snapshot %+v", snap)
	}
	ext, ok := db.Extended(0x010000, ExtendedRecordOccurrence)
	if !ok || len(ext) != 1 || ext[0].Value != 12 {
		t.Errorf("Unexpected extended data %+v", ext)
	}
}

func TestDatabase_CustomVIN(t *testing.T) {
	db := DefaultDatabase("WDB1234567F000001")
	vin, _ := db.ReadDID(0xF190)
	if string(vin) != "WDB1234567F000001" {
		t.Errorf("Unexpected VIN %q", vin)
	}
}

func TestDatabase_ClearAndClone(t *testing.T) {
	db := DefaultDatabase("")
	clone := db.Clone()

	if !db.ClearStatus(0x030100) {
		t.Fatalf("Expected known DTC to clear")
	}
	if db.ClearStatus(0x999999) {
		t.Errorf("Expected unknown DTC to be rejected")
	}
	if s, _ := db.Status(0x030100); s != 0 {
		t.Errorf("Expected cleared status, got %02X", s)
	}
	if s, _ := clone.Status(0x030100); s != 0x08 {
		t.Errorf("Clone must not share statuses, got %02X", s)
	}

	db.ClearAll()
	if n := db.CountByMask(0xFF); n != 0 {
		t.Errorf("Expected no active DTCs, got %d", n)
	}
	if n := clone.CountByMask(0xFF); n != 3 {
		t.Errorf("Expected clone untouched, got %d", n)
	}
}

func TestFormatDTC(t *testing.T) {
	tests := []struct {
		code uint32
		want string
	}{
		{0x010000, "P0100-00"},
		{0x030100, "P0301-00"},
		{0x042000, "P0420-00"},
		{0x4A1234, "C0A12-34"},
		{0x9A0011, "B1A00-11"},
		{0xC10100, "U0101-00"},
	}

	for _, tt := range tests {
		if got := FormatDTC(tt.code); got != tt.want {
			t.Errorf("FormatDTC(%06X) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		status uint8
		want   string
	}{
		{0x00, "none"},
		{0x08, "confirmedDTC"},
		{0x28, "testFailedSinceLastClear, confirmedDTC"},
		{0x81, "warningIndicatorRequested, testFailed"},
	}

	for _, tt := range tests {
		if got := StatusString(tt.status); got != tt.want {
			t.Errorf("StatusString(%02X) = %q, want %q", tt.status, got, tt.want)
		}
	}
}
