package codeplug_test

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/dbehnke/cpslink/internal/testhelpers"
	"github.com/dbehnke/cpslink/pkg/codeplug"
	"github.com/dbehnke/cpslink/pkg/metrics"
)

func testImage(n int) []byte {
	img := make([]byte, n)
	for i := range img {
		img[i] = byte(i * 7)
	}
	return img
}

func TestWriter_SuccessfulWrite(t *testing.T) {
	radio := testhelpers.NewMockRadio(testKey)
	sess := readySession(t, radio)

	met := metrics.NewCollector()
	writer := codeplug.NewWriter(sess, quietLogger(),
		codeplug.WithPartition(0x0002),
		codeplug.WithBlockSize(64),
		codeplug.WithWriterMetrics(met))

	image := testImage(300)
	if err := writer.Write(testContext(t), image, nil); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if !bytes.Equal(radio.WrittenImage(), image) {
		t.Error("Radio image differs from the written image")
	}
	if !radio.Committed() {
		t.Error("Transfer was not committed")
	}
	if radio.UnlockedPartition() != 0x0002 {
		t.Errorf("Unlocked partition = %d, want 2", radio.UnlockedPartition())
	}
	if radio.EnterCalls() != 1 || radio.LockCalls() != 1 || radio.ExitCalls() != 1 {
		t.Errorf("Enter/lock/exit calls = %d/%d/%d, want 1/1/1",
			radio.EnterCalls(), radio.LockCalls(), radio.ExitCalls())
	}
	if met.GetWritesCommitted() != 1 {
		t.Errorf("Writes committed metric = %d, want 1", met.GetWritesCommitted())
	}
	if err := radio.Err(); err != nil {
		t.Errorf("Mock radio observed protocol error: %v", err)
	}
}

func TestWriter_ProgressCallback(t *testing.T) {
	radio := testhelpers.NewMockRadio(testKey)
	sess := readySession(t, radio)
	writer := codeplug.NewWriter(sess, quietLogger(), codeplug.WithBlockSize(32))

	var mu sync.Mutex
	var updates []codeplug.ProgressUpdate
	progress := func(u codeplug.ProgressUpdate) {
		mu.Lock()
		updates = append(updates, u)
		mu.Unlock()
	}

	if err := writer.Write(testContext(t), testImage(128), progress); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(updates) == 0 {
		t.Error("No progress updates were delivered")
	}
}

func TestWriter_EmptyImageRejected(t *testing.T) {
	radio := testhelpers.NewMockRadio(testKey)
	sess := readySession(t, radio)
	writer := codeplug.NewWriter(sess, quietLogger())

	if err := writer.Write(testContext(t), nil, nil); err == nil {
		t.Error("Write of an empty image succeeded")
	}
	if radio.EnterCalls() != 0 {
		t.Errorf("EnterCalls = %d, want 0", radio.EnterCalls())
	}
}

// When entering programming mode fails, no cleanup commands may be sent
// because the radio never left its normal state.
func TestWriter_EnterFailureSkipsCleanup(t *testing.T) {
	radio := testhelpers.NewMockRadio(testKey)
	radio.FailEnterProgram = true
	sess := readySession(t, radio)

	met := metrics.NewCollector()
	writer := codeplug.NewWriter(sess, quietLogger(), codeplug.WithWriterMetrics(met))

	err := writer.Write(testContext(t), testImage(64), nil)
	if !errors.Is(err, codeplug.ErrDeviceBusy) {
		t.Fatalf("Got %v, want ErrDeviceBusy", err)
	}
	if radio.LockCalls() != 0 || radio.ExitCalls() != 0 {
		t.Errorf("Lock/exit calls = %d/%d, want 0/0", radio.LockCalls(), radio.ExitCalls())
	}
	if met.GetWritesAborted() != 1 {
		t.Errorf("Writes aborted metric = %d, want 1", met.GetWritesAborted())
	}
}

// Every failure after programming mode was entered must still lock the
// partition and exit programming mode exactly once.
func TestWriter_CleanupAfterFailure(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*testhelpers.MockRadio)
		wantErr error
	}{
		{
			name:    "security unlock rejected",
			setup:   func(m *testhelpers.MockRadio) { m.FailSecurityUnlock = true },
			wantErr: codeplug.ErrSecurityRejected,
		},
		{
			name:  "transfer block failure",
			setup: func(m *testhelpers.MockRadio) { m.FailTransfer = true },
		},
		{
			name:    "validation mismatch",
			setup:   func(m *testhelpers.MockRadio) { m.FailValidate = true },
			wantErr: codeplug.ErrValidateFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			radio := testhelpers.NewMockRadio(testKey)
			radio.SkipProgress = true
			tt.setup(radio)

			sess := readySession(t, radio)
			writer := codeplug.NewWriter(sess, quietLogger(), codeplug.WithBlockSize(32))

			err := writer.Write(testContext(t), testImage(96), nil)
			if err == nil {
				t.Fatal("Write succeeded, want failure")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Got %v, want %v", err, tt.wantErr)
			}
			if radio.Committed() {
				t.Error("Transfer was committed despite the failure")
			}
			if radio.LockCalls() != 1 {
				t.Errorf("LockCalls = %d, want 1", radio.LockCalls())
			}
			if radio.ExitCalls() != 1 {
				t.Errorf("ExitCalls = %d, want 1", radio.ExitCalls())
			}
		})
	}
}
