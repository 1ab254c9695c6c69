package session

import (
	"errors"
	"testing"
	"time"

	"github.com/dbehnke/cpslink/pkg/protocol"
)

func TestPendingTableDeliver(t *testing.T) {
	var table pendingTable

	ch, err := table.register(0x4A01, time.Second)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	f := &protocol.Frame{Opcode: 0x8101, TransactionID: 0x4A01}
	if !table.deliver(f) {
		t.Fatal("deliver did not find the registered transaction")
	}

	select {
	case got := <-ch:
		if got.TransactionID != 0x4A01 {
			t.Errorf("Delivered txn 0x%04X, want 0x4A01", got.TransactionID)
		}
	default:
		t.Fatal("Reply channel is empty after deliver")
	}

	// The slot is freed on delivery; the same reply cannot match twice.
	if table.deliver(f) {
		t.Error("deliver matched a transaction that was already completed")
	}
}

func TestPendingTableUnknownTxnDiscarded(t *testing.T) {
	var table pendingTable

	if _, err := table.register(0x4A01, time.Second); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if table.deliver(&protocol.Frame{TransactionID: 0x4AFF}) {
		t.Error("deliver matched a transaction that was never registered")
	}
}

func TestPendingTableRelease(t *testing.T) {
	var table pendingTable

	if _, err := table.register(0x4A01, time.Second); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	table.release(0x4A01)
	if table.deliver(&protocol.Frame{TransactionID: 0x4A01}) {
		t.Error("deliver matched a released transaction")
	}
}

func TestPendingTableFull(t *testing.T) {
	var table pendingTable

	for i := 0; i < pendingSlots; i++ {
		if _, err := table.register(uint16(0x4A00+i), time.Minute); err != nil {
			t.Fatalf("register %d failed: %v", i, err)
		}
	}
	if _, err := table.register(0x4AFF, time.Minute); !errors.Is(err, ErrPendingTableFull) {
		t.Errorf("register on a full table returned %v, want ErrPendingTableFull", err)
	}
}

func TestPendingTableReclaimsExpiredSlots(t *testing.T) {
	var table pendingTable

	// Fill the table with slots that expire immediately.
	for i := 0; i < pendingSlots; i++ {
		if _, err := table.register(uint16(0x4A00+i), -time.Second); err != nil {
			t.Fatalf("register %d failed: %v", i, err)
		}
	}

	// Expired slots are reclaimed, so a fresh register succeeds.
	if _, err := table.register(0x4AFF, time.Minute); err != nil {
		t.Errorf("register after expiry returned %v, want success", err)
	}
}
