package ecu

import (
	"fmt"

	"avaneesh/uds-go/pkg/uds"
)

// SecurityStage is the progress of the seed/key handshake
type SecurityStage int

const (
	SecurityLocked SecurityStage = iota
	SecuritySeedIssued
	SecurityUnlocked
)

// String returns string representation of SecurityStage
func (s SecurityStage) String() string {
	switch s {
	case SecurityLocked:
		return "LOCKED"
	case SecuritySeedIssued:
		return "SEED_ISSUED"
	case SecurityUnlocked:
		return "UNLOCKED"
	default:
		return "UNKNOWN"
	}
}

// DownloadContext tracks one RequestDownload..TransferData..Exit sequence
type DownloadContext struct {
	Address        uint32
	ExpectedLength uint32
	Buffer         []byte
	MaxBlockLength uint16
	LastSequence   uint8
}

// Complete returns true once every announced byte was transferred
func (d *DownloadContext) Complete() bool {
	return uint32(len(d.Buffer)) >= d.ExpectedLength
}

// NextSequence returns the block sequence counter expected next
func (d *DownloadContext) NextSequence() uint8 {
	return d.LastSequence + 1
}

// FlashImage is a fully transferred download
type FlashImage struct {
	Address uint32
	Data    []byte
}

// String returns a short description of the image
func (f FlashImage) String() string {
	return fmt.Sprintf("%d bytes @ 0x%08X", len(f.Data), f.Address)
}

// SessionState is the per-tester diagnostic state. The dispatcher treats it
// as a value: it returns a new state and never mutates the one passed in.
type SessionState struct {
	Session  uds.SessionType
	Security SecurityStage
	Seed     uint32
	Download *DownloadContext

	// Completed holds the image finished by the last TransferData, if any,
	// for the owner to commit
	Completed *FlashImage
}

// NewSessionState returns the power-on state
func NewSessionState() SessionState {
	return SessionState{
		Session:  uds.SessionDefault,
		Security: SecurityLocked,
	}
}

// Unlocked returns true when security access was granted
func (s SessionState) Unlocked() bool {
	return s.Security == SecurityUnlocked
}

// String returns a compact description of the state
func (s SessionState) String() string {
	dl := "none"
	if s.Download != nil {
		dl = fmt.Sprintf("%d/%d", len(s.Download.Buffer), s.Download.ExpectedLength)
	}
	return fmt.Sprintf("session=%s security=%s download=%s", s.Session, s.Security, dl)
}
