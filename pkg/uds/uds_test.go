package uds

import (
	"bytes"
	"errors"
	"testing"
)

func TestComputeKey(t *testing.T) {
	tests := []struct {
		seed uint32
		key  uint32
	}{
		{0xCAFEBABE, 0x608A228A},
		{0x00000000, 0xB7DDFBD5},
		{0x12345678, 0x3D12F993},
		{0xDEADBEEF, 0x00000000},
	}

	for _, tt := range tests {
		if got := ComputeKey(tt.seed); got != tt.key {
			t.Errorf("ComputeKey(0x%08X) = 0x%08X, want 0x%08X", tt.seed, got, tt.key)
		}
	}
}

func TestNegativeResponse(t *testing.T) {
	resp := NegativeResponse(SIDReadDataByIdentifier, NRCRequestOutOfRange)
	if !bytes.Equal(resp, []byte{0x7F, 0x22, 0x31}) {
		t.Fatalf("Expected 7F 22 31, got % X", resp)
	}
	if !IsNegative(resp) {
		t.Errorf("Expected IsNegative")
	}

	err := CheckResponse(SIDReadDataByIdentifier, resp)
	if !IsNRC(err, NRCRequestOutOfRange) {
		t.Fatalf("Expected NRC 0x31, got %v", err)
	}
	var nre *NegativeResponseError
	if !errors.As(err, &nre) || nre.SID != SIDReadDataByIdentifier {
		t.Errorf("Expected NegativeResponseError for 0x22, got %v", err)
	}
}

func TestCheckResponse(t *testing.T) {
	tests := []struct {
		name    string
		sid     ServiceID
		resp    []byte
		wantErr error
	}{
		{"positive", SIDTesterPresent, []byte{0x7E, 0x00}, nil},
		{"empty", SIDTesterPresent, nil, ErrEmptyResponse},
		{"wrong sid", SIDTesterPresent, []byte{0x50, 0x01}, ErrUnexpectedResponse},
		{"negative for other sid", SIDTesterPresent, []byte{0x7F, 0x22, 0x31}, ErrUnexpectedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckResponse(tt.sid, tt.resp)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDTCBytes(t *testing.T) {
	b := make([]byte, 3)
	PutDTC(b, 0x042000)
	if !bytes.Equal(b, []byte{0x04, 0x20, 0x00}) {
		t.Fatalf("Expected 04 20 00, got % X", b)
	}
	if DTCFromBytes(b) != 0x042000 {
		t.Errorf("Expected 0x042000, got 0x%06X", DTCFromBytes(b))
	}
}

func TestServiceID_Response(t *testing.T) {
	if SIDRequestDownload.Response() != 0x74 {
		t.Errorf("Expected 0x74, got 0x%02X", SIDRequestDownload.Response())
	}
	if SIDSecurityAccess.String() != "SecurityAccess" {
		t.Errorf("Unexpected name %s", SIDSecurityAccess)
	}
}
