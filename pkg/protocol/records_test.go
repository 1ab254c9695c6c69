package protocol

import (
	"bytes"
	"testing"
)

func TestReadSessionStartReply_Parse(t *testing.T) {
	// count=3, ids 0x0010 0x0025 0x1000
	data := []byte{0x00, 0x03, 0x00, 0x10, 0x00, 0x25, 0x10, 0x00}

	reply := &ReadSessionStartReply{}
	if err := reply.Parse(data); err != nil {
		t.Fatalf("Failed to parse read session reply: %v", err)
	}

	want := []uint16{0x0010, 0x0025, 0x1000}
	if len(reply.RecordIDs) != len(want) {
		t.Fatalf("Expected %d record ids, got %d", len(want), len(reply.RecordIDs))
	}
	for i, id := range want {
		if reply.RecordIDs[i] != id {
			t.Errorf("Record id %d: got 0x%04X, want 0x%04X", i, reply.RecordIDs[i], id)
		}
	}
}

func TestReadSessionStartReply_ParseCountMismatch(t *testing.T) {
	// count says 2 but only one id follows
	data := []byte{0x00, 0x02, 0x00, 0x10}

	reply := &ReadSessionStartReply{}
	if err := reply.Parse(data); err == nil {
		t.Error("Expected error for count/data mismatch")
	}
}

func TestRecordReadRequest_RoundTrip(t *testing.T) {
	original := &RecordReadRequest{
		Records: []RecordDescriptor{
			{RecordID: 0x0010, Index: 0},
			{RecordID: 0x0025, Index: 12},
			{RecordID: 0x1000, Index: 0},
		},
	}

	data, err := original.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	parsed := &RecordReadRequest{}
	if err := parsed.Parse(data); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(parsed.Records) != len(original.Records) {
		t.Fatalf("Expected %d records, got %d", len(original.Records), len(parsed.Records))
	}
	for i := range original.Records {
		if parsed.Records[i] != original.Records[i] {
			t.Errorf("Record %d: got %+v, want %+v", i, parsed.Records[i], original.Records[i])
		}
	}
}

func TestRecordReadRequest_Bounds(t *testing.T) {
	empty := &RecordReadRequest{}
	if _, err := empty.Encode(); err == nil {
		t.Error("Expected error for empty request")
	}

	over := &RecordReadRequest{Records: make([]RecordDescriptor, MaxReadBatchSize+1)}
	if _, err := over.Encode(); err == nil {
		t.Error("Expected error for oversized batch")
	}
}

func TestRecordReadReply_RoundTrip(t *testing.T) {
	original := &RecordReadReply{
		Entries: []RecordEntry{
			{Descriptor: RecordDescriptor{RecordID: 0x0025, Index: 3}, Data: []byte{1, 2, 3, 4}},
			{Descriptor: RecordDescriptor{RecordID: 0x0010, Index: 0}, Data: nil},
			{Descriptor: RecordDescriptor{RecordID: 0x1000, Index: 0}, Data: bytes.Repeat([]byte{0xAB}, 324)},
		},
	}

	data, err := original.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	parsed := &RecordReadReply{}
	if err := parsed.Parse(data); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(parsed.Entries) != len(original.Entries) {
		t.Fatalf("Expected %d entries, got %d", len(original.Entries), len(parsed.Entries))
	}
	for i, e := range original.Entries {
		if parsed.Entries[i].Descriptor != e.Descriptor {
			t.Errorf("Entry %d descriptor: got %+v, want %+v", i, parsed.Entries[i].Descriptor, e.Descriptor)
		}
		if !bytes.Equal(parsed.Entries[i].Data, e.Data) {
			t.Errorf("Entry %d data mismatch", i)
		}
	}
}

func TestRecordReadReply_ParseTruncated(t *testing.T) {
	// entry header claims 10 data bytes but only 2 follow
	data := []byte{0x00, 0x25, 0x00, 0x00, 0x00, 0x0A, 0xAA, 0xBB}

	reply := &RecordReadReply{}
	if err := reply.Parse(data); err == nil {
		t.Error("Expected error for truncated entry")
	}
}

func TestSysMapBroadcast_RoundTrip(t *testing.T) {
	original := &SysMapBroadcast{
		SessionPrefix: 0x4A,
		Seed:          []byte{0x1B, 0x9B, 0x4D, 0x8A, 0xD7, 0xDF, 0x42, 0x74},
	}

	data, err := original.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	parsed, err := ParseSysMapBroadcast(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if parsed.SessionPrefix != original.SessionPrefix {
		t.Errorf("SessionPrefix: got 0x%02X, want 0x%02X", parsed.SessionPrefix, original.SessionPrefix)
	}
	if !bytes.Equal(parsed.Seed, original.Seed) {
		t.Errorf("Seed mismatch: got %X, want %X", parsed.Seed, original.Seed)
	}
}

func TestAuthKeyReply_Parse(t *testing.T) {
	reply, err := ParseAuthKeyReply([]byte{0x00, 0x10, 0x4A})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if reply.AssignedAddress != 0x0010 {
		t.Errorf("AssignedAddress: got 0x%04X, want 0x0010", reply.AssignedAddress)
	}
	if reply.SessionPrefix != 0x4A {
		t.Errorf("SessionPrefix: got 0x%02X, want 0x4A", reply.SessionPrefix)
	}

	if _, err := ParseAuthKeyReply([]byte{0x00, 0x10}); err == nil {
		t.Error("Expected error for short auth key reply")
	}
}

func TestTransferProgress_Parse(t *testing.T) {
	p, err := ParseTransferProgress([]byte{StatusSuccess, 42})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if p.Percent != 42 {
		t.Errorf("Percent: got %d, want 42", p.Percent)
	}
}

func TestImageChecksum(t *testing.T) {
	// CRC-32 IEEE of "123456789" is the classic check value.
	if got := ImageChecksum([]byte("123456789")); got != 0xCBF43926 {
		t.Errorf("ImageChecksum = 0x%08X, want 0xCBF43926", got)
	}
}

func TestStatusReport_Ready(t *testing.T) {
	tests := []struct {
		status byte
		ready  bool
	}{
		{0x01, false},
		{0x2E, false},
		{StatusReportReady, true},
	}

	for _, tt := range tests {
		r := &StatusReport{Status: tt.status}
		if r.Ready() != tt.ready {
			t.Errorf("Status 0x%02X: Ready() = %v, want %v", tt.status, r.Ready(), tt.ready)
		}
	}
}
