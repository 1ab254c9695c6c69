package codeplug_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/dbehnke/cpslink/internal/testhelpers"
	"github.com/dbehnke/cpslink/pkg/codeplug"
	"github.com/dbehnke/cpslink/pkg/logger"
	"github.com/dbehnke/cpslink/pkg/metrics"
	"github.com/dbehnke/cpslink/pkg/protocol"
	"github.com/dbehnke/cpslink/pkg/session"
)

var testKey, _ = hex.DecodeString("000102030405060708090A0B0C0D0E0F")

func quietLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error"})
}

func readySession(t *testing.T, radio *testhelpers.MockRadio) *session.Session {
	t.Helper()

	ch := radio.StartPipe()
	sess, err := session.Connect(ch, session.Options{
		Key:    testKey,
		Logger: quietLogger(),
	})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { sess.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sess.Authenticate(ctx); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if err := sess.WaitUntilReady(ctx); err != nil {
		t.Fatalf("WaitUntilReady failed: %v", err)
	}
	return sess
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestReader_ListAvailableRecords(t *testing.T) {
	radio := testhelpers.NewMockRadio(testKey)
	radio.Records[protocol.RecordDescriptor{RecordID: 0x0010}] = []byte{0x01}
	radio.Records[protocol.RecordDescriptor{RecordID: 0x0025, Index: 1}] = []byte{0x02}
	radio.Records[protocol.RecordDescriptor{RecordID: 0x0025, Index: 2}] = []byte{0x03}
	radio.Records[protocol.RecordDescriptor{RecordID: 0x0040}] = []byte{0x04}

	sess := readySession(t, radio)
	reader := codeplug.NewReader(sess, quietLogger())

	ids, err := reader.ListAvailableRecords(testContext(t))
	if err != nil {
		t.Fatalf("ListAvailableRecords failed: %v", err)
	}

	want := []uint16{0x0010, 0x0025, 0x0040}
	if len(ids) != len(want) {
		t.Fatalf("Got %d record ids, want %d", len(ids), len(want))
	}
	for i, id := range want {
		if ids[i] != id {
			t.Errorf("ids[%d] = 0x%04X, want 0x%04X", i, ids[i], id)
		}
	}
}

// Listing twice against an unchanged radio must return the same set.
func TestReader_ListIsIdempotent(t *testing.T) {
	radio := testhelpers.NewMockRadio(testKey)
	radio.Records[protocol.RecordDescriptor{RecordID: 0x0011}] = []byte{0xAA}
	radio.Records[protocol.RecordDescriptor{RecordID: 0x0022}] = []byte{0xBB}

	sess := readySession(t, radio)
	reader := codeplug.NewReader(sess, quietLogger())
	ctx := testContext(t)

	first, err := reader.ListAvailableRecords(ctx)
	if err != nil {
		t.Fatalf("First list failed: %v", err)
	}
	second, err := reader.ListAvailableRecords(ctx)
	if err != nil {
		t.Fatalf("Second list failed: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("List sizes differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("Entry %d differs: 0x%04X vs 0x%04X", i, first[i], second[i])
		}
	}
	if radio.ListCalls() != 2 {
		t.Errorf("ListCalls = %d, want 2", radio.ListCalls())
	}
}

func TestReader_ReadRecords(t *testing.T) {
	radio := testhelpers.NewMockRadio(testKey)
	descs := []protocol.RecordDescriptor{
		{RecordID: 0x0010},
		{RecordID: 0x0025, Index: 1},
		{RecordID: 0x0025, Index: 2},
		{RecordID: 0x0040},
	}
	for i, desc := range descs {
		radio.Records[desc] = bytes.Repeat([]byte{byte(i + 1)}, 8)
	}

	sess := readySession(t, radio)
	met := metrics.NewCollector()
	reader := codeplug.NewReader(sess, quietLogger(), codeplug.WithReaderMetrics(met))

	got, err := reader.ReadRecords(testContext(t), descs)
	if err != nil {
		t.Fatalf("ReadRecords failed: %v", err)
	}

	if len(got) != len(descs) {
		t.Fatalf("Got %d records, want %d", len(got), len(descs))
	}
	for _, desc := range descs {
		if !bytes.Equal(got[desc], radio.Records[desc]) {
			t.Errorf("Record %04X/%d data mismatch", desc.RecordID, desc.Index)
		}
	}
	if n := met.GetRecordsRead(); n != uint64(len(descs)) {
		t.Errorf("Records read metric = %d, want %d", n, len(descs))
	}
	if err := radio.Err(); err != nil {
		t.Errorf("Mock radio observed protocol error: %v", err)
	}
}

// Replies are associated by the echoed descriptor, so a radio that
// answers a batch in reverse order must still produce correct results.
func TestReader_OutOfOrderBatchReplies(t *testing.T) {
	radio := testhelpers.NewMockRadio(testKey)
	radio.ReverseReplies = true

	var descs []protocol.RecordDescriptor
	for i := 0; i < 5; i++ {
		desc := protocol.RecordDescriptor{RecordID: uint16(0x0100 + i)}
		descs = append(descs, desc)
		radio.Records[desc] = []byte{byte(i), byte(i), byte(i)}
	}

	sess := readySession(t, radio)
	reader := codeplug.NewReader(sess, quietLogger())

	got, err := reader.ReadRecords(testContext(t), descs)
	if err != nil {
		t.Fatalf("ReadRecords failed: %v", err)
	}
	for _, desc := range descs {
		if !bytes.Equal(got[desc], radio.Records[desc]) {
			t.Errorf("Record %04X data mismatch after reordered replies", desc.RecordID)
		}
	}
}

func TestReader_BatchSizeSplitsRequests(t *testing.T) {
	radio := testhelpers.NewMockRadio(testKey)

	var descs []protocol.RecordDescriptor
	for i := 0; i < 7; i++ {
		desc := protocol.RecordDescriptor{RecordID: uint16(0x0200 + i)}
		descs = append(descs, desc)
		radio.Records[desc] = []byte{byte(i)}
	}

	sess := readySession(t, radio)
	reader := codeplug.NewReader(sess, quietLogger(), codeplug.WithBatchSize(3))

	got, err := reader.ReadRecords(testContext(t), descs)
	if err != nil {
		t.Fatalf("ReadRecords failed: %v", err)
	}
	if len(got) != len(descs) {
		t.Errorf("Got %d records, want %d", len(got), len(descs))
	}
	if err := radio.Err(); err != nil {
		t.Errorf("Mock radio observed protocol error: %v", err)
	}
}

func TestReader_SessionClosedDuringRead(t *testing.T) {
	radio := testhelpers.NewMockRadio(testKey)
	radio.Records[protocol.RecordDescriptor{RecordID: 0x0010}] = []byte{0x01}

	sess := readySession(t, radio)
	reader := codeplug.NewReader(sess, quietLogger())

	sess.Close()

	_, err := reader.ListAvailableRecords(testContext(t))
	if !errors.Is(err, session.ErrSessionClosed) {
		t.Errorf("Got %v, want ErrSessionClosed", err)
	}
}
