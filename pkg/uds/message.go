package uds

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrEmptyResponse      = errors.New("empty response")
	ErrUnexpectedResponse = errors.New("unexpected response")
)

// NegativeResponse builds the 3-byte {0x7F, SID, NRC} reply
func NegativeResponse(sid ServiceID, code NRC) []byte {
	return []byte{uint8(SIDNegativeResponse), uint8(sid), uint8(code)}
}

// PositiveResponse builds a positive reply for sid followed by params
func PositiveResponse(sid ServiceID, params ...byte) []byte {
	resp := make([]byte, 0, 1+len(params))
	resp = append(resp, sid.Response())
	return append(resp, params...)
}

// IsNegative reports whether resp is a negative response
func IsNegative(resp []byte) bool {
	return len(resp) >= 3 && resp[0] == uint8(SIDNegativeResponse)
}

// CheckResponse validates resp as the answer to a request for sid. A
// negative response is returned as *NegativeResponseError.
func CheckResponse(sid ServiceID, resp []byte) error {
	if len(resp) == 0 {
		return ErrEmptyResponse
	}
	if IsNegative(resp) {
		if ServiceID(resp[1]) != sid {
			return fmt.Errorf("negative response for SID 0x%02X while awaiting 0x%02X: %w",
				resp[1], uint8(sid), ErrUnexpectedResponse)
		}
		return &NegativeResponseError{SID: sid, Code: NRC(resp[2])}
	}
	if resp[0] != sid.Response() {
		return fmt.Errorf("response SID 0x%02X, expected 0x%02X: %w",
			resp[0], sid.Response(), ErrUnexpectedResponse)
	}
	return nil
}

// PutDTC writes a 24-bit DTC code into b[0:3]
func PutDTC(b []byte, dtc uint32) {
	b[0] = byte(dtc >> 16)
	b[1] = byte(dtc >> 8)
	b[2] = byte(dtc)
}

// DTCFromBytes reads a 24-bit DTC code from b[0:3]
func DTCFromBytes(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// AppendUint16 appends v big-endian
func AppendUint16(b []byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16(b, v)
}

// AppendUint32 appends v big-endian
func AppendUint32(b []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(b, v)
}
