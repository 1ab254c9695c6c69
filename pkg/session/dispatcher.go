package session

import (
	"context"
	"fmt"
	"time"

	"github.com/dbehnke/cpslink/pkg/logger"
	"github.com/dbehnke/cpslink/pkg/protocol"
)

// Send dispatches one command and waits for its reply, correlating by
// transaction id. Each attempt gets a fresh transaction id and a fresh
// sequence number; an abandoned id is never reused. Timed-out attempts are
// retried with the same payload up to the configured attempt count, then
// surface ErrCommandTimeout.
func (s *Session) Send(ctx context.Context, opcode uint16, payload []byte) (*protocol.CommandReply, error) {
	if st := s.getState(); st != StateCommandsAllowed {
		if st == StateClosed {
			if err := s.closeError(); err != nil {
				return nil, err
			}
			return nil, ErrSessionClosed
		}
		return nil, fmt.Errorf("%w: state %s", ErrNotReady, st)
	}

	s.met.CommandSent()

	for attempt := 1; attempt <= s.opts.CommandAttempts; attempt++ {
		reply, err := s.sendOnce(ctx, opcode, payload)
		if err == nil {
			return reply, nil
		}
		if err != errAttemptTimeout {
			return nil, err
		}

		if attempt < s.opts.CommandAttempts {
			s.met.CommandRetried()
			s.log.Warn("Command timed out, retrying",
				logger.Uint16("opcode", opcode),
				logger.Int("attempt", attempt))
		}
	}

	s.met.CommandTimedOut()
	return nil, fmt.Errorf("%w: opcode 0x%04X after %d attempts", ErrCommandTimeout, opcode, s.opts.CommandAttempts)
}

// errAttemptTimeout is internal to the retry loop; callers only ever see
// ErrCommandTimeout.
var errAttemptTimeout = fmt.Errorf("attempt timed out")

func (s *Session) sendOnce(ctx context.Context, opcode uint16, payload []byte) (*protocol.CommandReply, error) {
	// Register before the frame hits the wire so a fast reply cannot race
	// the pending table. Slot TTL outlives the attempt so expiry only
	// reclaims truly abandoned slots.
	txn, replyCh, err := s.sendRegistered(opcode, payload)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(s.opts.CommandTimeout)
	defer timer.Stop()

	select {
	case f := <-replyCh:
		return s.checkReply(opcode, f)

	case <-timer.C:
		s.pending.release(txn)
		return nil, errAttemptTimeout

	case <-ctx.Done():
		s.pending.release(txn)
		return nil, ctx.Err()

	case <-s.closed:
		s.pending.release(txn)
		return nil, s.closeError()
	}
}

// sendRegistered allocates the transaction, registers the pending slot and
// writes the frame as one unit under the sequence mutex.
func (s *Session) sendRegistered(opcode uint16, payload []byte) (uint16, chan *protocol.Frame, error) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	select {
	case <-s.closed:
		return 0, nil, s.closeError()
	default:
	}

	s.stateMu.RLock()
	dest := s.peerAddress
	src := s.localAddress
	prefix := s.sessionPrefix
	s.stateMu.RUnlock()

	seq := s.nextSequence
	s.nextSequence++
	txnSeq := s.nextTxnSeq
	s.nextTxnSeq++
	txn := uint16(prefix)<<8 | uint16(txnSeq)

	replyCh, err := s.pending.register(txn, 2*s.opts.CommandTimeout)
	if err != nil {
		return 0, nil, err
	}

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
		s.pending.release(txn)
		return 0, nil, err
	}

	s.log.Debug("Sent command",
		logger.Uint16("opcode", opcode),
		logger.Uint16("txn", txn),
		logger.Int("seq", int(seq)))

	return txn, replyCh, nil
}

// checkReply validates that a correlated reply actually answers the
// request opcode. A mismatch means the peer and engine disagree about the
// session state; that is fatal.
func (s *Session) checkReply(opcode uint16, f *protocol.Frame) (*protocol.CommandReply, error) {
	reply, err := protocol.ParseCommandReply(f)
	if err != nil {
		s.fail(ErrProtocolViolation)
		return nil, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	if reply.Opcode != opcode|protocol.ReplyFlag {
		s.fail(ErrProtocolViolation)
		return nil, fmt.Errorf("%w: reply opcode 0x%04X for request 0x%04X", ErrProtocolViolation, reply.Opcode, opcode)
	}
	return reply, nil
}
