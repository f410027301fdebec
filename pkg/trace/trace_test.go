package trace

import (
	"bytes"
	"testing"
	"time"
)

func TestRecorder_ReadAll(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(&buf)

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	in := []Event{
		{Time: ts, Kind: KindRequest, SID: 0x27, Detail: "27 01"},
		{Time: ts, Kind: KindNegative, SID: 0x27, NRC: 0x35, Detail: "invalid key"},
		{Time: ts, Kind: KindSecurity, SID: 0x27, Detail: "unlocked"},
	}
	for _, ev := range in {
		rec.Record(ev)
	}
	if err := rec.Err(); err != nil {
		t.Fatalf("unexpected recorder error: %v", err)
	}

	out, err := ReadAll(&buf)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("Expected %d events, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i].Kind != in[i].Kind || out[i].SID != in[i].SID || out[i].NRC != in[i].NRC || out[i].Detail != in[i].Detail {
			t.Errorf("Event %d: expected %v, got %v", i, in[i], out[i])
		}
		if !out[i].Time.Equal(in[i].Time) {
			t.Errorf("Event %d: time mismatch %v vs %v", i, out[i].Time, in[i].Time)
		}
	}
}

func TestReadAll_Truncated(t *testing.T) {
	var buf bytes.Buffer
	NewRecorder(&buf).Record(Event{Kind: KindRequest, SID: 0x10})
	data := buf.Bytes()

	if _, err := ReadAll(bytes.NewReader(data[:len(data)-1])); err == nil {
		t.Errorf("Expected error for truncated record")
	}
}

func TestMultiAndMemory(t *testing.T) {
	a, b := &Memory{}, &Memory{}
	sink := Multi{a, b, Nop{}}

	sink.Record(Event{Kind: KindNegative, SID: 0x22, NRC: 0x31})
	sink.Record(Event{Kind: KindPositive, SID: 0x22})

	if a.Count(KindNegative) != 1 || b.Count(KindPositive) != 1 {
		t.Errorf("Expected events fanned out to both sinks")
	}
	if len(a.Events()) != 2 {
		t.Errorf("Expected 2 events, got %d", len(a.Events()))
	}
}
