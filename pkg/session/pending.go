package session

import (
	"sync"
	"time"

	"github.com/dbehnke/cpslink/pkg/protocol"
)

// pendingSlots bounds the number of commands in flight. The protocol is
// effectively request/reply, so a handful of slots is plenty; the bound
// keeps abandoned calls from growing the table.
const pendingSlots = 16

type pendingSlot struct {
	inUse   bool
	txn     uint16
	expires time.Time
	reply   chan *protocol.Frame
}

// pendingTable is a fixed arena of pending-call slots keyed by transaction
// id. Slots left behind by abandoned calls expire and are reclaimed on the
// next register.
type pendingTable struct {
	mu    sync.Mutex
	slots [pendingSlots]pendingSlot
}

// register claims a slot for a transaction id and returns the channel its
// reply will arrive on. ttl bounds how long an abandoned slot survives.
func (t *pendingTable) register(txn uint16, ttl time.Duration) (chan *protocol.Frame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for i := range t.slots {
		if t.slots[i].inUse && now.After(t.slots[i].expires) {
			t.slots[i].inUse = false
		}
	}

	for i := range t.slots {
		if !t.slots[i].inUse {
			ch := make(chan *protocol.Frame, 1)
			t.slots[i] = pendingSlot{
				inUse:   true,
				txn:     txn,
				expires: now.Add(ttl),
				reply:   ch,
			}
			return ch, nil
		}
	}
	return nil, ErrPendingTableFull
}

// deliver routes a reply frame to the call waiting on its transaction id.
// Replies with no matching pending call are discarded (false).
func (t *pendingTable) deliver(f *protocol.Frame) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		if t.slots[i].inUse && t.slots[i].txn == f.TransactionID {
			t.slots[i].inUse = false
			t.slots[i].reply <- f
			return true
		}
	}
	return false
}

// release frees the slot for an abandoned transaction id. The id itself is
// never reused; only the slot is.
func (t *pendingTable) release(txn uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		if t.slots[i].inUse && t.slots[i].txn == txn {
			t.slots[i].inUse = false
			return
		}
	}
}
