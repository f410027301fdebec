package uds

// ServiceID represents a UDS service identifier
type ServiceID uint8

// Service identifiers
const (
	SIDDiagnosticSessionControl   ServiceID = 0x10 // Diagnostic Session Control
	SIDECUReset                   ServiceID = 0x11 // ECU Reset
	SIDClearDiagnosticInformation ServiceID = 0x14 // Clear Diagnostic Information
	SIDReadDTCInformation         ServiceID = 0x19 // Read DTC Information
	SIDReadDataByIdentifier       ServiceID = 0x22 // Read Data By Identifier
	SIDSecurityAccess             ServiceID = 0x27 // Security Access
	SIDRoutineControl             ServiceID = 0x31 // Routine Control
	SIDRequestDownload            ServiceID = 0x34 // Request Download
	SIDTransferData               ServiceID = 0x36 // Transfer Data
	SIDRequestTransferExit        ServiceID = 0x37 // Request Transfer Exit
	SIDTesterPresent              ServiceID = 0x3E // Tester Present
	SIDNegativeResponse           ServiceID = 0x7F // Negative Response
)

// PositiveResponseOffset is added to a SID to form its positive response SID
const PositiveResponseOffset = 0x40

// Response returns the positive response SID for s
func (s ServiceID) Response() uint8 {
	return uint8(s) + PositiveResponseOffset
}

// String returns string representation of service identifier
func (s ServiceID) String() string {
	switch s {
	case SIDDiagnosticSessionControl:
		return "DiagnosticSessionControl"
	case SIDECUReset:
		return "ECUReset"
	case SIDClearDiagnosticInformation:
		return "ClearDiagnosticInformation"
	case SIDReadDTCInformation:
		return "ReadDTCInformation"
	case SIDReadDataByIdentifier:
		return "ReadDataByIdentifier"
	case SIDSecurityAccess:
		return "SecurityAccess"
	case SIDRoutineControl:
		return "RoutineControl"
	case SIDRequestDownload:
		return "RequestDownload"
	case SIDTransferData:
		return "TransferData"
	case SIDRequestTransferExit:
		return "RequestTransferExit"
	case SIDTesterPresent:
		return "TesterPresent"
	case SIDNegativeResponse:
		return "NegativeResponse"
	default:
		return "Unknown"
	}
}

// SessionType is the diagnostic session requested through 0x10
type SessionType uint8

const (
	SessionDefault     SessionType = 0x01
	SessionProgramming SessionType = 0x02
	SessionExtended    SessionType = 0x03
)

// String returns string representation of SessionType
func (s SessionType) String() string {
	switch s {
	case SessionDefault:
		return "Default"
	case SessionProgramming:
		return "Programming"
	case SessionExtended:
		return "Extended"
	default:
		return "Unknown"
	}
}

// ECU reset types
const (
	ResetHard uint8 = 0x01
	ResetSoft uint8 = 0x03
)

// Security access sub-functions
const (
	SecurityRequestSeed uint8 = 0x01
	SecuritySendKey     uint8 = 0x02
)

// Read DTC information sub-functions
const (
	DTCReportNumberByStatusMask uint8 = 0x01
	DTCReportByStatusMask       uint8 = 0x02
	DTCReportSnapshotRecord     uint8 = 0x04
	DTCReportExtendedDataRecord uint8 = 0x06
)

// DTCFormatISO14229 is the DTC format identifier reported by 0x19/01 and 0x19/02
const DTCFormatISO14229 uint8 = 0x02

// Routine control sub-functions
const (
	RoutineStart         uint8 = 0x01
	RoutineStop          uint8 = 0x02
	RoutineRequestResult uint8 = 0x03
)

// Routine identifiers
const (
	RoutineSelfTest         uint16 = 0xFFFB
	RoutineClearFaultMemory uint16 = 0xFF00
)

// SuppressPositiveResponse is the sub-function bit that asks the server to
// stay silent on success
const SuppressPositiveResponse uint8 = 0x80

// Data identifiers
const (
	DIDVIN             uint16 = 0xF190
	DIDECUSerial       uint16 = 0xF18C
	DIDSparePartNumber uint16 = 0xF187
)

// GroupAllDTCs selects every DTC in ClearDiagnosticInformation
const GroupAllDTCs uint32 = 0xFFFFFF
