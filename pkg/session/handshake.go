package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/dbehnke/cpslink/pkg/logger"
	"github.com/dbehnke/cpslink/pkg/protocol"
)

// HandshakeState tracks the readiness exchange that follows
// authentication. The peer will not honor commands until it has queried
// our capabilities and announced "ready".
type HandshakeState int

const (
	HandshakeAwaitingQuery HandshakeState = iota
	HandshakeResponded
	HandshakeReady
)

// String returns a human-readable handshake state name
func (h HandshakeState) String() string {
	switch h {
	case HandshakeAwaitingQuery:
		return "awaiting_query"
	case HandshakeResponded:
		return "responded"
	case HandshakeReady:
		return "ready"
	default:
		return "unknown"
	}
}

// HandshakeController answers the peer's capability query and tracks the
// status reports until the final "ready" broadcast.
type HandshakeController struct {
	session    *Session
	entityType byte

	mu    sync.Mutex
	state HandshakeState
	ready chan struct{}
}

func newHandshakeController(s *Session, entityType byte) *HandshakeController {
	return &HandshakeController{
		session:    s,
		entityType: entityType,
		state:      HandshakeAwaitingQuery,
		ready:      make(chan struct{}),
	}
}

// State returns the current handshake state.
func (h *HandshakeController) State() HandshakeState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// WaitUntilReady blocks until the peer announces readiness, the context
// expires, or the session dies.
func (h *HandshakeController) WaitUntilReady(ctx context.Context) error {
	select {
	case <-h.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrNotReady, ctx.Err())
	case <-h.session.closed:
		return h.session.closeError()
	}
}

// handleFrame consumes status frames routed here by the session reader.
func (h *HandshakeController) handleFrame(f *protocol.Frame) {
	switch f.Opcode {
	case protocol.OpcodeDeviceStatusQuery:
		h.handleQuery(f)
	case protocol.OpcodeDeviceStatusReport:
		h.handleReport(f)
	}
}

// handleQuery answers the peer's capability query, echoing the peer's
// transaction id. The reply consumes no command sequence number.
func (h *HandshakeController) handleQuery(f *protocol.Frame) {
	descriptor := &protocol.CapabilityDescriptor{EntityType: h.entityType}
	payload, err := descriptor.Encode()
	if err != nil {
		h.session.log.Error("Failed to encode capability descriptor", logger.Error(err))
		return
	}

	if err := h.session.sendReplyFrame(protocol.OpcodeDeviceStatusQuery, f.TransactionID, payload); err != nil {
		h.session.log.Error("Failed to answer status query", logger.Error(err))
		return
	}

	h.mu.Lock()
	if h.state == HandshakeAwaitingQuery {
		h.state = HandshakeResponded
	}
	h.mu.Unlock()

	h.session.log.Debug("Answered capability query",
		logger.Uint16("txn", f.TransactionID),
		logger.Byte("entity_type", h.entityType))
}

// handleReport consumes transitional status reports until the final ready
// announcement flips the session into CommandsAllowed.
func (h *HandshakeController) handleReport(f *protocol.Frame) {
	report, err := protocol.ParseStatusReport(f.Payload)
	if err != nil {
		h.session.log.Warn("Malformed status report", logger.Error(err))
		return
	}

	if !report.Ready() {
		h.session.log.Debug("Transitional status report", logger.Byte("status", report.Status))
		return
	}

	h.mu.Lock()
	already := h.state == HandshakeReady
	h.state = HandshakeReady
	h.mu.Unlock()

	if already {
		return
	}

	h.session.setState(StateCommandsAllowed)
	close(h.ready)
	h.session.log.Info("Peer ready, commands allowed")
}
