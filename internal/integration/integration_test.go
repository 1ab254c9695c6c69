//go:build integration
// +build integration

package integration

import (
	"bytes"
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/dbehnke/cpslink/internal/testhelpers"
	"github.com/dbehnke/cpslink/pkg/codeplug"
	"github.com/dbehnke/cpslink/pkg/logger"
	"github.com/dbehnke/cpslink/pkg/metrics"
	"github.com/dbehnke/cpslink/pkg/protocol"
	"github.com/dbehnke/cpslink/pkg/record"
	"github.com/dbehnke/cpslink/pkg/session"
)

var testKey, _ = hex.DecodeString("000102030405060708090A0B0C0D0E0F")

// TestFullProgrammingCycle walks the complete flow a CPS run performs:
// connect, authenticate, wait for readiness, discover records, read
// them, then write a codeplug image back.
func TestFullProgrammingCycle(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})
	met := metrics.NewCollector()

	radio := testhelpers.NewMockRadio(testKey)

	// Populate the mock with one decodable channel and a couple of
	// opaque records.
	channel, err := record.EncodeChannel(&record.ChannelInfo{
		Name:      "Simplex 1",
		Mode:      record.ChannelModeDigital,
		ColorCode: 1,
		RxHz:      433_450_000,
		TxHz:      433_450_000,
	})
	if err != nil {
		t.Fatalf("EncodeChannel failed: %v", err)
	}
	channelDesc := protocol.RecordDescriptor{RecordID: 0x0100, Index: 1}
	radio.Records[channelDesc] = channel
	radio.Records[protocol.RecordDescriptor{RecordID: 0x0010}] = []byte{0x01, 0x02}
	radio.Records[protocol.RecordDescriptor{RecordID: 0x0020}] = []byte{0x03}

	sess, err := session.Connect(radio.StartPipe(), session.Options{
		Key:     testKey,
		Logger:  log,
		Metrics: met,
	})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := sess.Authenticate(ctx); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if err := sess.WaitUntilReady(ctx); err != nil {
		t.Fatalf("WaitUntilReady failed: %v", err)
	}

	id := sess.Identity()
	if id.LocalAddress != radio.AssignedAddress {
		t.Errorf("LocalAddress = 0x%04X, want 0x%04X", id.LocalAddress, radio.AssignedAddress)
	}

	// Discovery and read.
	reader := codeplug.NewReader(sess, log, codeplug.WithReaderMetrics(met))
	ids, err := reader.ListAvailableRecords(ctx)
	if err != nil {
		t.Fatalf("ListAvailableRecords failed: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("Discovered %d record ids, want 3", len(ids))
	}

	got, err := reader.ReadRecords(ctx, []protocol.RecordDescriptor{
		channelDesc,
		{RecordID: 0x0010},
		{RecordID: 0x0020},
	})
	if err != nil {
		t.Fatalf("ReadRecords failed: %v", err)
	}

	// The channel record decodes back to what was stored.
	info, err := record.DecodeChannel(got[channelDesc])
	if err != nil {
		t.Fatalf("DecodeChannel failed: %v", err)
	}
	if info.Name != "Simplex 1" {
		t.Errorf("Channel name = %q, want %q", info.Name, "Simplex 1")
	}
	if info.RxHz != 433_450_000 {
		t.Errorf("Channel RxHz = %d, want 433450000", info.RxHz)
	}

	// Write a fresh image back.
	image := make([]byte, 4096)
	for i := range image {
		image[i] = byte(i % 251)
	}

	var sawProgress bool
	writer := codeplug.NewWriter(sess, log,
		codeplug.WithPartition(1),
		codeplug.WithBlockSize(1024),
		codeplug.WithWriterMetrics(met))
	err = writer.Write(ctx, image, func(u codeplug.ProgressUpdate) {
		sawProgress = true
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if !bytes.Equal(radio.WrittenImage(), image) {
		t.Error("Radio image differs from the written image")
	}
	if !radio.Committed() {
		t.Error("Transfer was not committed")
	}
	if !sawProgress {
		t.Error("No progress updates were delivered")
	}
	if radio.LockCalls() != 1 || radio.ExitCalls() != 1 {
		t.Errorf("Lock/exit calls = %d/%d, want 1/1", radio.LockCalls(), radio.ExitCalls())
	}

	if radio.SequenceViolations() != 0 {
		t.Errorf("Radio saw %d sequence violations", radio.SequenceViolations())
	}
	if err := radio.Err(); err != nil {
		t.Errorf("Mock radio observed protocol error: %v", err)
	}
	if met.GetCommandsSent() == 0 {
		t.Error("Command counter never advanced")
	}
}

// TestReadAfterFailedWrite checks the session survives a rejected write
// and can still read records.
func TestReadAfterFailedWrite(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})

	radio := testhelpers.NewMockRadio(testKey)
	radio.FailSecurityUnlock = true
	radio.SkipProgress = true
	desc := protocol.RecordDescriptor{RecordID: 0x0030}
	radio.Records[desc] = []byte{0xAB, 0xCD}

	sess, err := session.Connect(radio.StartPipe(), session.Options{
		Key:    testKey,
		Logger: log,
	})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := sess.Authenticate(ctx); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if err := sess.WaitUntilReady(ctx); err != nil {
		t.Fatalf("WaitUntilReady failed: %v", err)
	}

	writer := codeplug.NewWriter(sess, log)
	if err := writer.Write(ctx, []byte{0x01, 0x02, 0x03}, nil); err == nil {
		t.Fatal("Write succeeded despite rejected security unlock")
	}

	// The write path cleaned up; reads must still work.
	reader := codeplug.NewReader(sess, log)
	got, err := reader.ReadRecords(ctx, []protocol.RecordDescriptor{desc})
	if err != nil {
		t.Fatalf("ReadRecords after failed write: %v", err)
	}
	if !bytes.Equal(got[desc], radio.Records[desc]) {
		t.Error("Record data mismatch after failed write")
	}
}
