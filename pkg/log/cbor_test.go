package log

import (
	"bytes"
	"testing"
	"time"
)

func TestEncodeDecodeDriverEvent(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	event := Event{
		Timestamp: ts,
		Session:   "s1",
		Layer:     LayerRegistry,
		Category:  CategoryDriver,
		NodeID:    7,
		Module:    "busses/ide/generic/driver_v1",
		Driver: &DriverEvent{
			Driver:     "busses/ide/generic/driver_v1",
			Support:    0.6,
			Selected:   true,
			SearchPath: "busses/ide",
		},
	}

	data, err := EncodeEvent(event)
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	got, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}

	if !got.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, ts)
	}
	if got.NodeID != 7 || got.Module != event.Module {
		t.Errorf("identifiers = %d %q", got.NodeID, got.Module)
	}
	if got.Driver == nil {
		t.Fatal("Driver payload missing")
	}
	if got.Driver.Support != 0.6 || !got.Driver.Selected {
		t.Errorf("Driver = %+v", *got.Driver)
	}
	if got.StateChange != nil || got.Publish != nil {
		t.Error("unexpected payloads decoded")
	}
}

func TestEncoderStream(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for i := range 3 {
		if err := enc.Encode(Event{Layer: LayerDevfs, NodeID: uint32(i + 1)}); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	dec := NewDecoder(&buf)
	for i := range 3 {
		var e Event
		if err := dec.Decode(&e); err != nil {
			t.Fatalf("Decode %d: %v", i, err)
		}
		if e.NodeID != uint32(i+1) {
			t.Errorf("event %d NodeID = %d", i, e.NodeID)
		}
	}
}

func TestDecodeGarbage(t *testing.T) {
	if _, err := DecodeEvent([]byte{0xff, 0x00}); err == nil {
		t.Error("expected error for invalid input")
	}
}
