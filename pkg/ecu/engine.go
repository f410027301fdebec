package ecu

import (
	"encoding/binary"
	"fmt"
	"time"

	"avaneesh/uds-go/pkg/trace"
	"avaneesh/uds-go/pkg/uds"
)

// Engine dispatches UDS requests against a Database. It holds no session
// state of its own: every call takes the current SessionState and returns
// the next one.
type Engine struct {
	config EngineConfig
	db     *Database
	sink   trace.Sink
	now    func() time.Time
}

// NewEngine creates a dispatcher over db. A nil sink discards events.
func NewEngine(config EngineConfig, db *Database, sink trace.Sink) *Engine {
	if sink == nil {
		sink = trace.Nop{}
	}
	if config.Seed == nil {
		config.Seed = RandomSeed
	}
	if config.MaxBlockLength == 0 {
		config.MaxBlockLength = DefaultEngineConfig().MaxBlockLength
	}

	return &Engine{
		config: config,
		db:     db,
		sink:   sink,
		now:    time.Now,
	}
}

// Database returns the store the engine serves
func (e *Engine) Database() *Database {
	return e.db
}

// Dispatch processes one complete request. A nil response means nothing
// is sent back.
func (e *Engine) Dispatch(req []byte, st SessionState) ([]byte, SessionState) {
	st.Completed = nil

	if len(req) == 0 {
		e.record(trace.KindFraming, 0, 0, "empty request ignored")
		return nil, st
	}

	sid := uds.ServiceID(req[0])
	e.record(trace.KindRequest, sid, 0, fmt.Sprintf("% X", req))

	var resp []byte
	switch sid {
	case uds.SIDDiagnosticSessionControl:
		resp, st = e.sessionControl(req, st)
	case uds.SIDECUReset:
		resp, st = e.ecuReset(req, st)
	case uds.SIDClearDiagnosticInformation:
		resp = e.clearDiagnosticInformation(req)
	case uds.SIDReadDTCInformation:
		resp = e.readDTCInformation(req)
	case uds.SIDReadDataByIdentifier:
		resp = e.readDataByIdentifier(req)
	case uds.SIDSecurityAccess:
		resp, st = e.securityAccess(req, st)
	case uds.SIDRoutineControl:
		resp = e.routineControl(req)
	case uds.SIDRequestDownload:
		resp, st = e.requestDownload(req, st)
	case uds.SIDTransferData:
		resp, st = e.transferData(req, st)
	case uds.SIDRequestTransferExit:
		resp, st = e.requestTransferExit(st)
	case uds.SIDTesterPresent:
		resp = e.testerPresent(req)
	default:
		resp = e.reject(sid, uds.NRCServiceNotSupported, "unknown service")
	}

	if resp != nil && !uds.IsNegative(resp) {
		e.record(trace.KindPositive, sid, 0, fmt.Sprintf("% X", resp))
	}
	return resp, st
}

// 0x10
func (e *Engine) sessionControl(req []byte, st SessionState) ([]byte, SessionState) {
	sid := uds.SIDDiagnosticSessionControl
	if len(req) < 2 {
		return e.reject(sid, uds.NRCIncorrectMessageLength, "missing session type"), st
	}

	session := uds.SessionType(req[1])
	if session != st.Session {
		e.record(trace.KindSession, sid, 0, fmt.Sprintf("%s -> %s", st.Session, session))
	}
	st.Session = session
	return uds.PositiveResponse(sid, uint8(session)), st
}

// 0x11
func (e *Engine) ecuReset(req []byte, st SessionState) ([]byte, SessionState) {
	sid := uds.SIDECUReset
	if len(req) < 2 {
		return e.reject(sid, uds.NRCIncorrectMessageLength, "missing reset type"), st
	}

	switch req[1] {
	case uds.ResetHard:
		e.record(trace.KindReset, sid, 0, "hard reset, state cleared")
		return uds.PositiveResponse(sid, req[1]), NewSessionState()
	case uds.ResetSoft:
		e.record(trace.KindReset, sid, 0, "soft reset, state kept")
		return uds.PositiveResponse(sid, req[1]), st
	default:
		return e.reject(sid, uds.NRCSubFunctionNotSupported, fmt.Sprintf("reset type 0x%02X", req[1])), st
	}
}

// 0x14
func (e *Engine) clearDiagnosticInformation(req []byte) []byte {
	sid := uds.SIDClearDiagnosticInformation
	if len(req) < 4 {
		return e.reject(sid, uds.NRCIncorrectMessageLength, "missing DTC group")
	}

	group := uds.DTCFromBytes(req[1:4])
	if group == uds.GroupAllDTCs {
		e.db.ClearAll()
		e.record(trace.KindSession, sid, 0, "all DTCs cleared")
		return uds.PositiveResponse(sid)
	}
	if !e.db.ClearStatus(group) {
		return e.reject(sid, uds.NRCRequestOutOfRange, "unknown DTC "+FormatDTC(group))
	}
	e.record(trace.KindSession, sid, 0, FormatDTC(group)+" cleared")
	return uds.PositiveResponse(sid)
}

// 0x19
func (e *Engine) readDTCInformation(req []byte) []byte {
	sid := uds.SIDReadDTCInformation
	if len(req) < 2 {
		return e.reject(sid, uds.NRCIncorrectMessageLength, "missing sub-function")
	}

	sub := req[1]
	switch sub {
	case uds.DTCReportNumberByStatusMask:
		if len(req) < 3 {
			return e.reject(sid, uds.NRCIncorrectMessageLength, "missing status mask")
		}
		count := e.db.CountByMask(req[2])
		resp := uds.PositiveResponse(sid, sub, e.db.AvailabilityMask(), uds.DTCFormatISO14229)
		return uds.AppendUint16(resp, uint16(count))

	case uds.DTCReportByStatusMask:
		if len(req) < 3 {
			return e.reject(sid, uds.NRCIncorrectMessageLength, "missing status mask")
		}
		resp := uds.PositiveResponse(sid, sub, e.db.AvailabilityMask(), uds.DTCFormatISO14229)
		for _, code := range e.db.MatchByMask(req[2]) {
			status, _ := e.db.Status(code)
			resp = append(resp, byte(code>>16), byte(code>>8), byte(code), status)
		}
		return resp

	case uds.DTCReportSnapshotRecord:
		if len(req) < 6 {
			return e.reject(sid, uds.NRCIncorrectMessageLength, "missing DTC or record")
		}
		code, record := uds.DTCFromBytes(req[2:5]), req[5]
		entries, ok := e.db.Snapshot(code, record)
		if !ok {
			return e.reject(sid, uds.NRCGeneralReject, fmt.Sprintf("no snapshot %02X for %s", record, FormatDTC(code)))
		}
		resp := uds.PositiveResponse(sid, sub)
		resp = append(resp, req[2:6]...)
		for _, en := range entries {
			resp = append(resp, en.ID)
			resp = uds.AppendUint16(resp, en.Value)
		}
		return resp

	case uds.DTCReportExtendedDataRecord:
		if len(req) < 6 {
			return e.reject(sid, uds.NRCIncorrectMessageLength, "missing DTC or record")
		}
		code, record := uds.DTCFromBytes(req[2:5]), req[5]
		entries, ok := e.db.Extended(code, record)
		if !ok {
			return e.reject(sid, uds.NRCGeneralReject, fmt.Sprintf("no extended record %02X for %s", record, FormatDTC(code)))
		}
		resp := uds.PositiveResponse(sid, sub)
		resp = append(resp, req[2:6]...)
		for _, en := range entries {
			resp = append(resp, en.ID, en.Value)
		}
		return resp

	default:
		return e.reject(sid, uds.NRCSubFunctionNotSupported, fmt.Sprintf("sub-function 0x%02X", sub))
	}
}

// 0x22
func (e *Engine) readDataByIdentifier(req []byte) []byte {
	sid := uds.SIDReadDataByIdentifier
	if len(req) < 3 {
		return e.reject(sid, uds.NRCIncorrectMessageLength, "missing identifier")
	}

	id := binary.BigEndian.Uint16(req[1:3])
	value, ok := e.db.ReadDID(id)
	if !ok {
		return e.reject(sid, uds.NRCRequestOutOfRange, fmt.Sprintf("unknown DID 0x%04X", id))
	}

	resp := uds.PositiveResponse(sid, req[1], req[2])
	return append(resp, value...)
}

// 0x27
func (e *Engine) securityAccess(req []byte, st SessionState) ([]byte, SessionState) {
	sid := uds.SIDSecurityAccess
	if len(req) < 2 {
		return e.reject(sid, uds.NRCIncorrectMessageLength, "missing sub-function"), st
	}

	switch req[1] {
	case uds.SecurityRequestSeed:
		if st.Unlocked() {
			// Already unlocked: the zero seed tells the tester no key is needed
			return uds.AppendUint32(uds.PositiveResponse(sid, req[1]), 0), st
		}
		seed := e.nextSeed()
		st.Security = SecuritySeedIssued
		st.Seed = seed
		e.record(trace.KindSecurity, sid, 0, fmt.Sprintf("seed %08X issued", seed))
		return uds.AppendUint32(uds.PositiveResponse(sid, req[1]), seed), st

	case uds.SecuritySendKey:
		if len(req) < 6 {
			return e.reject(sid, uds.NRCIncorrectMessageLength, "key must be 4 bytes"), st
		}

		// The last issued seed stays valid after a failed attempt
		key := binary.BigEndian.Uint32(req[2:6])
		if st.Seed == 0 || key != uds.ComputeKey(st.Seed) {
			st.Security = SecurityLocked
			e.record(trace.KindSecurity, sid, 0, "invalid key, locked")
			return e.reject(sid, uds.NRCInvalidKey, fmt.Sprintf("key %08X", key)), st
		}
		st.Security = SecurityUnlocked
		e.record(trace.KindSecurity, sid, 0, "unlocked")
		return uds.PositiveResponse(sid, req[1]), st

	default:
		return e.reject(sid, uds.NRCSubFunctionNotSupported, fmt.Sprintf("sub-function 0x%02X", req[1])), st
	}
}

// nextSeed draws a non-zero seed
func (e *Engine) nextSeed() uint32 {
	for i := 0; i < 8; i++ {
		if seed := e.config.Seed(); seed != 0 {
			return seed
		}
	}
	return 1
}

// 0x31
func (e *Engine) routineControl(req []byte) []byte {
	sid := uds.SIDRoutineControl
	if len(req) < 4 {
		return e.reject(sid, uds.NRCIncorrectMessageLength, "missing routine identifier")
	}

	sub := req[1]
	routine := binary.BigEndian.Uint16(req[2:4])

	switch routine {
	case uds.RoutineSelfTest:
		if sub != uds.RoutineStart && sub != uds.RoutineRequestResult {
			return e.reject(sid, uds.NRCSubFunctionNotSupported, fmt.Sprintf("self test sub-function 0x%02X", sub))
		}
	case uds.RoutineClearFaultMemory:
		if sub != uds.RoutineStart {
			return e.reject(sid, uds.NRCSubFunctionNotSupported, fmt.Sprintf("clear fault memory sub-function 0x%02X", sub))
		}
		e.db.ClearAll()
		e.record(trace.KindSession, sid, 0, "fault memory cleared")
	default:
		return e.reject(sid, uds.NRCRequestOutOfRange, fmt.Sprintf("unknown routine 0x%04X", routine))
	}

	return uds.PositiveResponse(sid, req[1:4]...)
}

// 0x34
func (e *Engine) requestDownload(req []byte, st SessionState) ([]byte, SessionState) {
	sid := uds.SIDRequestDownload
	if len(req) < 6 {
		return e.reject(sid, uds.NRCIncorrectMessageLength, "missing length"), st
	}
	if e.config.RequireUnlockForDownload && !st.Unlocked() {
		return e.reject(sid, uds.NRCSecurityAccessDenied, "download while locked"), st
	}

	length := binary.BigEndian.Uint32(req[2:6])
	if length == 0 {
		return e.reject(sid, uds.NRCRequestOutOfRange, "zero length download"), st
	}

	address := e.config.DefaultDownloadAddress
	if len(req) >= 10 {
		address = binary.BigEndian.Uint32(req[6:10])
	}

	if st.Download != nil {
		e.record(trace.KindDownload, sid, 0, fmt.Sprintf("replacing download at 0x%08X", st.Download.Address))
	}
	st.Download = &DownloadContext{
		Address:        address,
		ExpectedLength: length,
		MaxBlockLength: e.config.MaxBlockLength,
	}
	e.record(trace.KindDownload, sid, 0, fmt.Sprintf("%d bytes @ 0x%08X", length, address))

	resp := uds.PositiveResponse(sid, 0x00)
	return uds.AppendUint16(resp, e.config.MaxBlockLength), st
}

// 0x36
func (e *Engine) transferData(req []byte, st SessionState) ([]byte, SessionState) {
	sid := uds.SIDTransferData
	if st.Download == nil {
		return e.reject(sid, uds.NRCRequestSequenceError, "no download in progress"), st
	}
	if len(req) < 2 {
		return e.reject(sid, uds.NRCIncorrectMessageLength, "missing block sequence"), st
	}

	dl := *st.Download
	if len(req) > int(dl.MaxBlockLength) {
		return e.reject(sid, uds.NRCIncorrectMessageLength,
			fmt.Sprintf("block of %d bytes exceeds %d", len(req), dl.MaxBlockLength)), st
	}

	seq := req[1]
	if seq != dl.NextSequence() {
		st.Download = nil
		e.record(trace.KindDownload, sid, 0, fmt.Sprintf("block %02X, expected %02X, download aborted", seq, dl.NextSequence()))
		return e.reject(sid, uds.NRCWrongBlockSequenceCounter, "wrong block sequence"), st
	}

	dl.Buffer = append(dl.Buffer[:len(dl.Buffer):len(dl.Buffer)], req[2:]...)
	dl.LastSequence = seq

	if dl.Complete() {
		img := &FlashImage{Address: dl.Address, Data: dl.Buffer[:dl.ExpectedLength]}
		st.Download = nil
		st.Completed = img
		e.record(trace.KindDownload, sid, 0, "complete, "+img.String())
	} else {
		st.Download = &dl
	}

	return uds.PositiveResponse(sid, seq), st
}

// 0x37
func (e *Engine) requestTransferExit(st SessionState) ([]byte, SessionState) {
	sid := uds.SIDRequestTransferExit
	if st.Download != nil {
		e.record(trace.KindDownload, sid, 0,
			fmt.Sprintf("exit with %d/%d bytes, discarded", len(st.Download.Buffer), st.Download.ExpectedLength))
		st.Download = nil
	}
	return uds.PositiveResponse(sid), st
}

// 0x3E
func (e *Engine) testerPresent(req []byte) []byte {
	sid := uds.SIDTesterPresent
	if len(req) < 2 {
		return e.reject(sid, uds.NRCIncorrectMessageLength, "missing sub-function")
	}

	if req[1]&uds.SuppressPositiveResponse != 0 {
		return nil
	}
	return uds.PositiveResponse(sid, req[1])
}

// reject records and builds a negative response
func (e *Engine) reject(sid uds.ServiceID, code uds.NRC, detail string) []byte {
	e.record(trace.KindNegative, sid, code, detail)
	return uds.NegativeResponse(sid, code)
}

func (e *Engine) record(kind trace.Kind, sid uds.ServiceID, code uds.NRC, detail string) {
	e.sink.Record(trace.Event{
		Time:   e.now(),
		Kind:   kind,
		SID:    uint8(sid),
		NRC:    uint8(code),
		Detail: detail,
	})
}
