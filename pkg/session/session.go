// Package session implements the radio programming session: the
// challenge/response authentication state machine, the readiness
// handshake, frame sequencing, and command/reply correlation. One session
// owns one transport channel; a broken session cannot be repaired, only
// replaced by reconnecting.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dbehnke/cpslink/pkg/logger"
	"github.com/dbehnke/cpslink/pkg/metrics"
	"github.com/dbehnke/cpslink/pkg/protocol"
	"github.com/dbehnke/cpslink/pkg/transport"
)

// State represents the session lifecycle state
type State int

const (
	StateConnecting State = iota
	StateAuthenticating
	StateHandshakeReady
	StateCommandsAllowed
	StateClosed
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateHandshakeReady:
		return "handshake_ready"
	case StateCommandsAllowed:
		return "commands_allowed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EventSink receives engine events for external observers (the monitor
// feed). Implementations must not block.
type EventSink interface {
	Emit(event string, data map[string]interface{})
}

// Options configures a session
type Options struct {
	// Key is the 16-byte session key shared with the radio family.
	Key []byte
	// EntityType identifies us in the readiness capability descriptor.
	EntityType byte
	// CommandTimeout is the per-attempt reply deadline (default 5s).
	CommandTimeout time.Duration
	// CommandAttempts bounds send attempts per command (default 3).
	CommandAttempts int
	// AuthTimeout bounds the whole authentication handshake (default 10s).
	AuthTimeout time.Duration

	Logger  *logger.Logger
	Metrics *metrics.Collector
	Events  EventSink
}

// Identity is a snapshot of the session's addressing state.
type Identity struct {
	LocalAddress  uint16
	PeerAddress   uint16
	SessionPrefix byte
	State         State
}

// Session drives the proprietary programming protocol over one transport
// channel.
type Session struct {
	ch   transport.Channel
	log  *logger.Logger
	met  *metrics.Collector
	sink EventSink
	opts Options

	key protocol.SessionKey

	stateMu       sync.RWMutex
	state         State
	localAddress  uint16
	peerAddress   uint16
	sessionPrefix byte

	// seqMu serializes "allocate next sequence + write frame". Two
	// concurrent sends without this produce a non-advancing sequence and
	// the radio silently drops the frame.
	seqMu        sync.Mutex
	nextSequence byte
	nextTxnSeq   byte

	pending   pendingTable
	handshake *HandshakeController
	authCh    chan *protocol.Frame

	broadcastMu      sync.RWMutex
	broadcastHandler func(*protocol.Frame)

	// opMu makes read and write operations mutually exclusive.
	opMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// Connect wraps a connected transport channel in a new session and starts
// its reader. The session starts in Connecting; call Authenticate next.
func Connect(ch transport.Channel, opts Options) (*Session, error) {
	key, err := protocol.NewSessionKey(opts.Key)
	if err != nil {
		return nil, err
	}

	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 5 * time.Second
	}
	if opts.CommandAttempts <= 0 {
		opts.CommandAttempts = 3
	}
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = 10 * time.Second
	}
	if opts.EntityType == 0 {
		opts.EntityType = protocol.EntityTypeProgrammer
	}
	if opts.Logger == nil {
		opts.Logger = logger.New(logger.Config{Level: "info"})
	}

	s := &Session{
		ch:           ch,
		log:          opts.Logger.WithComponent("session"),
		met:          opts.Metrics,
		sink:         opts.Events,
		opts:         opts,
		key:          key,
		state:        StateConnecting,
		nextSequence: 1,
		nextTxnSeq:   1,
		authCh:       make(chan *protocol.Frame, 8),
		closed:       make(chan struct{}),
	}
	s.handshake = newHandshakeController(s, opts.EntityType)

	go s.readLoop()
	return s, nil
}

// Authenticate runs the challenge/response handshake. On success the
// session holds its assigned address and prefix and the peer proceeds to
// the readiness handshake; use WaitUntilReady before sending commands.
func (s *Session) Authenticate(ctx context.Context) error {
	if st := s.getState(); st != StateConnecting {
		return fmt.Errorf("%w: authenticate called in state %s", ErrProtocolViolation, st)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.AuthTimeout)
	defer cancel()

	unmatched := 0
	violation := func(f *protocol.Frame) error {
		unmatched++
		s.log.Warn("Unexpected frame during authentication",
			logger.Uint16("opcode", f.Opcode),
			logger.String("state", s.getState().String()))
		if unmatched > 1 {
			s.fail(ErrProtocolViolation)
			return fmt.Errorf("%w: unexpected opcode 0x%04X during authentication", ErrProtocolViolation, f.Opcode)
		}
		return nil
	}

	for {
		var f *protocol.Frame
		select {
		case f = <-s.authCh:
		case <-ctx.Done():
			s.fail(ErrAuthenticationFailed)
			return fmt.Errorf("%w: %v", ErrAuthenticationFailed, ctx.Err())
		case <-s.closed:
			return s.closeError()
		}

		switch {
		case s.getState() == StateConnecting && f.Opcode == protocol.OpcodeMasterStatusBroadcast:
			// Peer announced itself: capture its address and ask for the
			// system map.
			s.stateMu.Lock()
			s.peerAddress = f.Source
			s.stateMu.Unlock()
			s.setState(StateAuthenticating)

			if _, err := s.sendCommandFrame(protocol.OpcodeDeviceMasterQuery, nil); err != nil {
				s.fail(err)
				return fmt.Errorf("sending master query: %w", err)
			}

		case s.getState() == StateAuthenticating && f.Opcode == protocol.OpcodeDeviceSysMapBroadcast:
			sysmap, err := protocol.ParseSysMapBroadcast(f.Payload)
			if err != nil {
				s.fail(ErrProtocolViolation)
				return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
			}

			s.stateMu.Lock()
			s.sessionPrefix = sysmap.SessionPrefix
			s.stateMu.Unlock()

			response, err := s.key.EncryptChallenge(sysmap.Seed)
			if err != nil {
				s.fail(err)
				return err
			}

			s.log.Debug("Answering auth challenge",
				logger.Hex("seed", sysmap.Seed),
				logger.Byte("prefix", sysmap.SessionPrefix))

			if _, err := s.sendCommandFrame(protocol.OpcodeDeviceAuthKey, response); err != nil {
				s.fail(err)
				return fmt.Errorf("sending auth key: %w", err)
			}

		case s.getState() == StateAuthenticating && f.Opcode == protocol.OpcodeDeviceAuthKey|protocol.ReplyFlag:
			reply, err := protocol.ParseCommandReply(f)
			if err != nil {
				s.fail(ErrProtocolViolation)
				return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
			}

			if reply.Status != protocol.StatusSuccess {
				s.met.SessionFailed()
				s.fail(ErrAuthenticationFailed)
				return fmt.Errorf("%w: peer status 0x%02X", ErrAuthenticationFailed, reply.Status)
			}

			auth, err := protocol.ParseAuthKeyReply(reply.Data)
			if err != nil {
				s.fail(ErrProtocolViolation)
				return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
			}

			s.stateMu.Lock()
			s.localAddress = auth.AssignedAddress
			s.sessionPrefix = auth.SessionPrefix
			s.stateMu.Unlock()
			s.setState(StateHandshakeReady)
			s.met.SessionOpened()

			s.log.Info("Authenticated",
				logger.Uint16("address", auth.AssignedAddress),
				logger.Byte("prefix", auth.SessionPrefix))
			s.emit("authenticated", map[string]interface{}{
				"address": auth.AssignedAddress,
				"prefix":  auth.SessionPrefix,
			})
			return nil

		case f.Opcode == protocol.OpcodeDeviceConnectionReply:
			// Optional confirmation; no externally observable change.
			s.log.Debug("Received connection reply")

		default:
			if err := violation(f); err != nil {
				return err
			}
		}
	}
}

// WaitUntilReady blocks until the readiness handshake completes and the
// peer accepts commands.
func (s *Session) WaitUntilReady(ctx context.Context) error {
	return s.handshake.WaitUntilReady(ctx)
}

// Identity returns a snapshot of the session's addressing state.
func (s *Session) Identity() Identity {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return Identity{
		LocalAddress:  s.localAddress,
		PeerAddress:   s.peerAddress,
		SessionPrefix: s.sessionPrefix,
		State:         s.state,
	}
}

// Reserve serializes read and write operations: a codeplug reader and
// writer must never interleave commands on the same session. Returns the
// release function.
func (s *Session) Reserve() func() {
	s.opMu.Lock()
	return s.opMu.Unlock
}

// SetBroadcastHandler installs the sink for unsolicited non-handshake
// frames (transfer progress). A nil handler drops them.
func (s *Session) SetBroadcastHandler(h func(*protocol.Frame)) {
	s.broadcastMu.Lock()
	s.broadcastHandler = h
	s.broadcastMu.Unlock()
}

// Close shuts the session down. Safe to call more than once.
func (s *Session) Close() error {
	s.shutdown(ErrSessionClosed)
	return nil
}

// Done returns a channel closed when the session shuts down.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Emit forwards an engine event to the configured sink, if any.
func (s *Session) Emit(event string, data map[string]interface{}) {
	s.emit(event, data)
}

// WrapKey encrypts a radio-supplied key blob with the session key for the
// write-path security unlock.
func (s *Session) WrapKey(radioKey []byte) ([]byte, error) {
	return s.key.EncryptKeyBlob(radioKey)
}

// sendCommandFrame allocates the next sequence and transaction id, builds
// a command frame and writes it. The whole allocation+write runs under one
// mutex; this is the single-writer boundary the sequence counter needs.
func (s *Session) sendCommandFrame(opcode uint16, payload []byte) (uint16, error) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	select {
	case <-s.closed:
		return 0, s.closeError()
	default:
	}

	s.stateMu.RLock()
	dest := s.peerAddress
	src := s.localAddress
	prefix := s.sessionPrefix
	s.stateMu.RUnlock()

	seq := s.nextSequence
	s.nextSequence++ // wraps mod 256 with the byte type
	txnSeq := s.nextTxnSeq
	s.nextTxnSeq++
	txn := uint16(prefix)<<8 | uint16(txnSeq)

	f := &protocol.Frame{
		Opcode:         opcode,
		CarriesCommand: true,
		Sequence:       seq,
		Destination:    dest,
		Source:         src,
		TransactionID:  txn,
		Payload:        payload,
	}

	if err := s.writeFrame(f); err != nil {
		return 0, err
	}
	return txn, nil
}

// sendReplyFrame answers a peer-initiated exchange, echoing the peer's
// transaction id. Replies do not carry a command and never consume a
// sequence number.
func (s *Session) sendReplyFrame(opcode uint16, echoTxn uint16, payload []byte) error {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	s.stateMu.RLock()
	dest := s.peerAddress
	src := s.localAddress
	s.stateMu.RUnlock()

	f := &protocol.Frame{
		Opcode:        opcode | protocol.ReplyFlag,
		Destination:   dest,
		Source:        src,
		TransactionID: echoTxn,
		Payload:       payload,
	}
	return s.writeFrame(f)
}

// writeFrame encodes and writes one frame. Callers hold seqMu.
func (s *Session) writeFrame(f *protocol.Frame) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}
	if err := s.ch.WriteAll(data); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	s.met.FrameSent(len(data))
	return nil
}

// readLoop is the single reader: it decodes frames off the transport and
// routes each to the pending-reply table, the handshake controller, the
// auth machine or the broadcast sink.
func (s *Session) readLoop() {
	reader := channelReader{ch: s.ch}
	for {
		f, err := protocol.ReadFrame(reader)
		if err != nil {
			select {
			case <-s.closed:
			default:
				s.log.Error("Reader failed, closing session", logger.Error(err))
				s.fail(err)
			}
			return
		}

		s.met.FrameReceived(protocol.FrameFixedSize + len(f.Payload))
		s.route(f)
	}
}

func (s *Session) route(f *protocol.Frame) {
	switch {
	case f.IsReply():
		if s.pending.deliver(f) {
			return
		}
		if s.getState() <= StateAuthenticating {
			s.authDeliver(f)
			return
		}
		// No matching pending call: the owning call timed out or never
		// existed. Discard.
		s.log.Debug("Discarding unmatched reply",
			logger.Uint16("opcode", f.Opcode),
			logger.Uint16("txn", f.TransactionID))

	case f.Opcode == protocol.OpcodeDeviceStatusQuery || f.Opcode == protocol.OpcodeDeviceStatusReport:
		s.handshake.handleFrame(f)

	case f.Opcode == protocol.OpcodeMasterStatusBroadcast ||
		f.Opcode == protocol.OpcodeDeviceSysMapBroadcast ||
		f.Opcode == protocol.OpcodeDeviceConnectionReply:
		if s.getState() <= StateAuthenticating {
			s.authDeliver(f)
		} else {
			s.log.Debug("Ignoring session-control frame after authentication",
				logger.Uint16("opcode", f.Opcode))
		}

	default:
		s.broadcastMu.RLock()
		handler := s.broadcastHandler
		s.broadcastMu.RUnlock()

		if handler != nil {
			handler(f)
		} else {
			s.log.Debug("Dropping unsolicited frame",
				logger.Uint16("opcode", f.Opcode))
		}
	}
}

func (s *Session) authDeliver(f *protocol.Frame) {
	select {
	case s.authCh <- f:
	default:
		s.log.Warn("Auth frame queue full, dropping frame",
			logger.Uint16("opcode", f.Opcode))
	}
}

// fail closes the session after a fatal protocol or transport error.
func (s *Session) fail(err error) {
	s.shutdown(err)
}

func (s *Session) shutdown(err error) {
	s.closeOnce.Do(func() {
		s.closeErr = err
		s.setState(StateClosed)
		close(s.closed)
		if cerr := s.ch.Close(); cerr != nil {
			s.log.Debug("Transport close error", logger.Error(cerr))
		}
		s.log.Info("Session closed", logger.Error(err))
	})
}

func (s *Session) closeError() error {
	select {
	case <-s.closed:
		if s.closeErr != nil && s.closeErr != ErrSessionClosed {
			return fmt.Errorf("%w: %v", ErrSessionClosed, s.closeErr)
		}
		return ErrSessionClosed
	default:
		return nil
	}
}

func (s *Session) setState(state State) {
	s.stateMu.Lock()
	prev := s.state
	s.state = state
	s.stateMu.Unlock()

	if prev != state {
		s.emit("session_state", map[string]interface{}{"state": state.String()})
	}
}

func (s *Session) getState() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Session) emit(event string, data map[string]interface{}) {
	if s.sink != nil {
		s.sink.Emit(event, data)
	}
}

// channelReader adapts a transport.Channel to io.Reader for frame decoding.
// ReadFrame only issues exact-size reads, so filling the buffer is correct.
type channelReader struct {
	ch transport.Channel
}

func (r channelReader) Read(p []byte) (int, error) {
	if err := r.ch.ReadFull(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
