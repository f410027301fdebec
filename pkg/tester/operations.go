package tester

import (
	"context"
	"encoding/binary"
	"fmt"

	"avaneesh/uds-go/pkg/transport"
	"avaneesh/uds-go/pkg/uds"
)

// DTCRecord is one entry of a ReadDTCInformation report
type DTCRecord struct {
	Code   uint32
	Status uint8
}

// DataValue is one identifier/value pair of a snapshot or extended record
type DataValue struct {
	ID    uint8
	Value uint16
}

// Session and reset operations

// DiagnosticSessionControl switches the diagnostic session
func (t *Tester) DiagnosticSessionControl(ctx context.Context, session uds.SessionType) error {
	resp, err := t.Request(ctx, []byte{uint8(uds.SIDDiagnosticSessionControl), uint8(session)})
	if err != nil {
		return err
	}
	if len(resp) < 2 || resp[1] != uint8(session) {
		return fmt.Errorf("session echo % X: %w", resp, uds.ErrUnexpectedResponse)
	}
	return nil
}

// TesterPresent keeps the session alive and waits for the acknowledgement
func (t *Tester) TesterPresent(ctx context.Context) error {
	_, err := t.requestIdempotent(ctx, []byte{uint8(uds.SIDTesterPresent), 0x00})
	return err
}

// TesterPresentSuppressed keeps the session alive without a response
func (t *Tester) TesterPresentSuppressed(ctx context.Context) error {
	return t.Send(ctx, []byte{uint8(uds.SIDTesterPresent), uds.SuppressPositiveResponse})
}

// ECUReset requests a reset of the given type
func (t *Tester) ECUReset(ctx context.Context, resetType uint8) error {
	_, err := t.Request(ctx, []byte{uint8(uds.SIDECUReset), resetType})
	return err
}

// Security access

// RequestSeed asks for a security seed. A zero seed means the ECU is
// already unlocked.
func (t *Tester) RequestSeed(ctx context.Context) (uint32, error) {
	resp, err := t.Request(ctx, []byte{uint8(uds.SIDSecurityAccess), uds.SecurityRequestSeed})
	if err != nil {
		return 0, err
	}
	if len(resp) < 6 {
		return 0, fmt.Errorf("seed response % X: %w", resp, uds.ErrUnexpectedResponse)
	}
	return binary.BigEndian.Uint32(resp[2:6]), nil
}

// SendKey answers the last seed
func (t *Tester) SendKey(ctx context.Context, key uint32) error {
	req := []byte{uint8(uds.SIDSecurityAccess), uds.SecuritySendKey}
	_, err := t.Request(ctx, uds.AppendUint32(req, key))
	return err
}

// Unlock performs the complete seed/key exchange
func (t *Tester) Unlock(ctx context.Context) error {
	seed, err := t.RequestSeed(ctx)
	if err != nil {
		return fmt.Errorf("request seed: %w", err)
	}
	if seed == 0 {
		t.logger.Debug("Tester %s: already unlocked", t.config.ID)
		return nil
	}

	if err := t.SendKey(ctx, uds.ComputeKey(seed)); err != nil {
		return fmt.Errorf("send key: %w", err)
	}
	t.logger.Info("Tester %s: security access granted", t.config.ID)
	return nil
}

// Data identifiers

// ReadDataByIdentifier reads the value of one DID
func (t *Tester) ReadDataByIdentifier(ctx context.Context, id uint16) ([]byte, error) {
	req := uds.AppendUint16([]byte{uint8(uds.SIDReadDataByIdentifier)}, id)
	resp, err := t.requestIdempotent(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp) < 3 || binary.BigEndian.Uint16(resp[1:3]) != id {
		return nil, fmt.Errorf("DID echo % X: %w", resp, uds.ErrUnexpectedResponse)
	}
	return resp[3:], nil
}

// ReadVIN reads the vehicle identification number
func (t *Tester) ReadVIN(ctx context.Context) (string, error) {
	v, err := t.ReadDataByIdentifier(ctx, uds.DIDVIN)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// Fault memory

// ReadDTCCount returns the number of DTCs matching mask
func (t *Tester) ReadDTCCount(ctx context.Context, mask uint8) (int, error) {
	resp, err := t.requestIdempotent(ctx, []byte{uint8(uds.SIDReadDTCInformation), uds.DTCReportNumberByStatusMask, mask})
	if err != nil {
		return 0, err
	}
	if len(resp) < 6 || resp[1] != uds.DTCReportNumberByStatusMask {
		return 0, fmt.Errorf("DTC count response % X: %w", resp, uds.ErrUnexpectedResponse)
	}
	return int(binary.BigEndian.Uint16(resp[4:6])), nil
}

// ReadDTCsByStatus returns the DTCs matching mask
func (t *Tester) ReadDTCsByStatus(ctx context.Context, mask uint8) ([]DTCRecord, error) {
	resp, err := t.requestIdempotent(ctx, []byte{uint8(uds.SIDReadDTCInformation), uds.DTCReportByStatusMask, mask})
	if err != nil {
		return nil, err
	}
	if len(resp) < 4 || resp[1] != uds.DTCReportByStatusMask || (len(resp)-4)%4 != 0 {
		return nil, fmt.Errorf("DTC report % X: %w", resp, uds.ErrUnexpectedResponse)
	}

	records := make([]DTCRecord, 0, (len(resp)-4)/4)
	for off := 4; off < len(resp); off += 4 {
		records = append(records, DTCRecord{
			Code:   uds.DTCFromBytes(resp[off : off+3]),
			Status: resp[off+3],
		})
	}
	return records, nil
}

// ReadSnapshot returns the freeze-frame values of one DTC record
func (t *Tester) ReadSnapshot(ctx context.Context, dtc uint32, record uint8) ([]DataValue, error) {
	resp, err := t.readDTCRecord(ctx, uds.DTCReportSnapshotRecord, dtc, record)
	if err != nil {
		return nil, err
	}
	if len(resp)%3 != 0 {
		return nil, fmt.Errorf("snapshot data % X: %w", resp, uds.ErrUnexpectedResponse)
	}

	values := make([]DataValue, 0, len(resp)/3)
	for off := 0; off < len(resp); off += 3 {
		values = append(values, DataValue{ID: resp[off], Value: binary.BigEndian.Uint16(resp[off+1 : off+3])})
	}
	return values, nil
}

// ReadExtendedData returns the extended data values of one DTC record
func (t *Tester) ReadExtendedData(ctx context.Context, dtc uint32, record uint8) ([]DataValue, error) {
	resp, err := t.readDTCRecord(ctx, uds.DTCReportExtendedDataRecord, dtc, record)
	if err != nil {
		return nil, err
	}
	if len(resp)%2 != 0 {
		return nil, fmt.Errorf("extended data % X: %w", resp, uds.ErrUnexpectedResponse)
	}

	values := make([]DataValue, 0, len(resp)/2)
	for off := 0; off < len(resp); off += 2 {
		values = append(values, DataValue{ID: resp[off], Value: uint16(resp[off+1])})
	}
	return values, nil
}

// readDTCRecord issues a 0x19 record request and returns the bytes after
// the echoed DTC and record number
func (t *Tester) readDTCRecord(ctx context.Context, sub uint8, dtc uint32, record uint8) ([]byte, error) {
	req := []byte{uint8(uds.SIDReadDTCInformation), sub, 0, 0, 0, record}
	uds.PutDTC(req[2:5], dtc)

	resp, err := t.requestIdempotent(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp) < 6 || resp[1] != sub || uds.DTCFromBytes(resp[2:5]) != dtc&0xFFFFFF || resp[5] != record {
		return nil, fmt.Errorf("DTC record echo % X: %w", resp, uds.ErrUnexpectedResponse)
	}
	return resp[6:], nil
}

// ClearDTCs clears one DTC or, with uds.GroupAllDTCs, the whole fault memory
func (t *Tester) ClearDTCs(ctx context.Context, group uint32) error {
	req := []byte{uint8(uds.SIDClearDiagnosticInformation), 0, 0, 0}
	uds.PutDTC(req[1:4], group)
	_, err := t.Request(ctx, req)
	return err
}

// Routines

// RoutineControl runs a routine sub-function and returns any status bytes
// following the echoed routine identifier
func (t *Tester) RoutineControl(ctx context.Context, sub uint8, routine uint16) ([]byte, error) {
	req := uds.AppendUint16([]byte{uint8(uds.SIDRoutineControl), sub}, routine)
	resp, err := t.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp) < 4 || resp[1] != sub || binary.BigEndian.Uint16(resp[2:4]) != routine {
		return nil, fmt.Errorf("routine echo % X: %w", resp, uds.ErrUnexpectedResponse)
	}
	return resp[4:], nil
}

// Download

// RequestDownload opens a download of length bytes at addr and returns the
// maximum request length the ECU accepts for TransferData
func (t *Tester) RequestDownload(ctx context.Context, addr, length uint32) (uint16, error) {
	req := []byte{uint8(uds.SIDRequestDownload), 0x00}
	req = uds.AppendUint32(req, length)
	req = uds.AppendUint32(req, addr)

	resp, err := t.Request(ctx, req)
	if err != nil {
		return 0, err
	}
	if len(resp) < 4 {
		return 0, fmt.Errorf("download response % X: %w", resp, uds.ErrUnexpectedResponse)
	}
	return binary.BigEndian.Uint16(resp[2:4]), nil
}

// TransferData sends one block
func (t *Tester) TransferData(ctx context.Context, seq uint8, data []byte) error {
	req := make([]byte, 0, 2+len(data))
	req = append(req, uint8(uds.SIDTransferData), seq)
	req = append(req, data...)

	resp, err := t.Request(ctx, req)
	if err != nil {
		return err
	}
	if len(resp) < 2 || resp[1] != seq {
		return fmt.Errorf("block %02X echo % X: %w", seq, resp, uds.ErrUnexpectedResponse)
	}
	return nil
}

// RequestTransferExit closes the download
func (t *Tester) RequestTransferExit(ctx context.Context) error {
	_, err := t.Request(ctx, []byte{uint8(uds.SIDRequestTransferExit)})
	return err
}

// Download transfers image to addr: RequestDownload, one TransferData per
// block with a wrapping block counter, then RequestTransferExit
func (t *Tester) Download(ctx context.Context, addr uint32, image []byte) error {
	if len(image) == 0 {
		return fmt.Errorf("empty image")
	}

	maxLen, err := t.RequestDownload(ctx, addr, uint32(len(image)))
	if err != nil {
		return fmt.Errorf("request download: %w", err)
	}

	blockLen := min(int(maxLen), t.config.Transport.MaxPayloadLength, transport.MaxPayloadLength) - 2
	if blockLen <= 0 {
		return fmt.Errorf("ECU block length %d too small: %w", maxLen, uds.ErrUnexpectedResponse)
	}

	seq := uint8(1)
	blocks := 0
	for off := 0; off < len(image); off += blockLen {
		end := min(off+blockLen, len(image))
		if err := t.TransferData(ctx, seq, image[off:end]); err != nil {
			return fmt.Errorf("transfer block %d at offset %d: %w", blocks+1, off, err)
		}
		t.logger.Debug("Tester %s: block %02X sent (%d/%d bytes)", t.config.ID, seq, end, len(image))
		seq++
		blocks++
	}

	if err := t.RequestTransferExit(ctx); err != nil {
		return fmt.Errorf("transfer exit: %w", err)
	}

	t.logger.Info("Tester %s: downloaded %d bytes to 0x%08X in %d blocks", t.config.ID, len(image), addr, blocks)
	return nil
}
