package session

import "errors"

// Engine-level failures. Except for ErrCommandTimeout these are fatal to
// the session: nothing here re-authenticates or repairs addressing, the
// caller must reconnect the transport and start over.
var (
	// ErrAuthenticationFailed means the peer rejected the challenge
	// response. Fatal, session closes.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrCommandTimeout means no matching reply arrived within the
	// deadline after all retries were exhausted.
	ErrCommandTimeout = errors.New("command timeout")

	// ErrProtocolViolation means the peer sent a frame outside the
	// expected state sequence. Fatal, session closes.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrNotReady means a command was issued before the readiness
	// handshake completed. The command is rejected fast rather than
	// racing the peer.
	ErrNotReady = errors.New("session not ready for commands")

	// ErrSessionClosed means the session was closed, by the caller or by
	// a fatal protocol error.
	ErrSessionClosed = errors.New("session closed")

	// ErrPendingTableFull means too many commands were in flight at once.
	ErrPendingTableFull = errors.New("pending reply table full")
)
