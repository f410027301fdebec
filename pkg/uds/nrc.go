package uds

import (
	"errors"
	"fmt"
)

// NRC is a negative response code
type NRC uint8

// Negative response codes
const (
	NRCGeneralReject                NRC = 0x10
	NRCServiceNotSupported          NRC = 0x11
	NRCSubFunctionNotSupported      NRC = 0x12
	NRCIncorrectMessageLength       NRC = 0x13
	NRCConditionsNotCorrect         NRC = 0x22
	NRCRequestSequenceError         NRC = 0x24
	NRCRequestOutOfRange            NRC = 0x31
	NRCSecurityAccessDenied         NRC = 0x33
	NRCInvalidKey                   NRC = 0x35
	NRCExceededNumberOfAttempts     NRC = 0x36
	NRCUploadDownloadNotAccepted    NRC = 0x70
	NRCTransferDataSuspended        NRC = 0x71
	NRCWrongBlockSequenceCounter    NRC = 0x73
	NRCResponsePending              NRC = 0x78
	NRCServiceNotSupportedInSession NRC = 0x7F
)

// String returns string representation of NRC
func (c NRC) String() string {
	switch c {
	case NRCGeneralReject:
		return "generalReject"
	case NRCServiceNotSupported:
		return "serviceNotSupported"
	case NRCSubFunctionNotSupported:
		return "subFunctionNotSupported"
	case NRCIncorrectMessageLength:
		return "incorrectMessageLengthOrInvalidFormat"
	case NRCConditionsNotCorrect:
		return "conditionsNotCorrect"
	case NRCRequestSequenceError:
		return "requestSequenceError"
	case NRCRequestOutOfRange:
		return "requestOutOfRange"
	case NRCSecurityAccessDenied:
		return "securityAccessDenied"
	case NRCInvalidKey:
		return "invalidKey"
	case NRCExceededNumberOfAttempts:
		return "exceededNumberOfAttempts"
	case NRCUploadDownloadNotAccepted:
		return "uploadDownloadNotAccepted"
	case NRCTransferDataSuspended:
		return "transferDataSuspended"
	case NRCWrongBlockSequenceCounter:
		return "wrongBlockSequenceCounter"
	case NRCResponsePending:
		return "requestCorrectlyReceivedResponsePending"
	case NRCServiceNotSupportedInSession:
		return "serviceNotSupportedInActiveSession"
	default:
		return fmt.Sprintf("NRC(0x%02X)", uint8(c))
	}
}

// NegativeResponseError is returned to a client when the server answers
// with {0x7F, SID, NRC}
type NegativeResponseError struct {
	SID  ServiceID
	Code NRC
}

func (e *NegativeResponseError) Error() string {
	return fmt.Sprintf("negative response to %s (0x%02X): %s (0x%02X)",
		e.SID, uint8(e.SID), e.Code, uint8(e.Code))
}

// IsNRC reports whether err is a negative response carrying code
func IsNRC(err error, code NRC) bool {
	var nre *NegativeResponseError
	return errors.As(err, &nre) && nre.Code == code
}
