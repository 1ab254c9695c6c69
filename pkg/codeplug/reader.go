// Package codeplug implements the two data-transfer protocols layered on
// an authenticated session: the discovery-plus-batched-read protocol and
// the security-unlock-plus-commit write protocol.
package codeplug

import (
	"context"
	"errors"
	"fmt"

	"github.com/dbehnke/cpslink/pkg/logger"
	"github.com/dbehnke/cpslink/pkg/metrics"
	"github.com/dbehnke/cpslink/pkg/protocol"
	"github.com/dbehnke/cpslink/pkg/session"
)

// Peer-reported failures surfaced to the caller. Busy and Locked are
// retryable at the caller's discretion; the engine does not retry them.
var (
	ErrSecurityRejected = errors.New("security unlock rejected")
	ErrDeviceBusy       = errors.New("device busy")
	ErrDeviceLocked     = errors.New("device locked")
	ErrValidateFailed   = errors.New("transfer validation failed")
)

// statusError maps a peer status byte to the error taxonomy.
func statusError(opcode uint16, status byte) error {
	switch status {
	case protocol.StatusSuccess:
		return nil
	case protocol.StatusBusy:
		return fmt.Errorf("%w: opcode 0x%04X", ErrDeviceBusy, opcode)
	case protocol.StatusLocked:
		return fmt.Errorf("%w: opcode 0x%04X", ErrDeviceLocked, opcode)
	case protocol.StatusSecurityRejected:
		return fmt.Errorf("%w: opcode 0x%04X", ErrSecurityRejected, opcode)
	case protocol.StatusCRCMismatch:
		return fmt.Errorf("%w: opcode 0x%04X", ErrValidateFailed, opcode)
	default:
		return fmt.Errorf("opcode 0x%04X failed with status 0x%02X", opcode, status)
	}
}

// Reader reads codeplug records over an authenticated, ready session.
type Reader struct {
	session   *session.Session
	log       *logger.Logger
	met       *metrics.Collector
	batchSize int
}

// ReaderOption customizes a Reader
type ReaderOption func(*Reader)

// WithBatchSize overrides the per-request record batch size
func WithBatchSize(n int) ReaderOption {
	return func(r *Reader) {
		r.batchSize = n
	}
}

// WithReaderMetrics attaches a metrics collector
func WithReaderMetrics(m *metrics.Collector) ReaderOption {
	return func(r *Reader) {
		r.met = m
	}
}

// NewReader creates a Reader bound to a session
func NewReader(sess *session.Session, log *logger.Logger, opts ...ReaderOption) *Reader {
	r := &Reader{
		session:   sess,
		log:       log.WithComponent("codeplug.reader"),
		batchSize: protocol.DefaultReadBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.batchSize <= 0 || r.batchSize > protocol.MaxReadBatchSize {
		r.batchSize = protocol.DefaultReadBatchSize
	}
	return r
}

// ListAvailableRecords asks the radio which record ids exist. The returned
// set varies per model and firmware and is the only truth about what can
// be read; callers must never substitute a hard-coded list.
func (r *Reader) ListAvailableRecords(ctx context.Context) ([]uint16, error) {
	release := r.session.Reserve()
	defer release()

	req := &protocol.ReadSessionStartRequest{Mode: protocol.ReadModeDefault}
	payload, err := req.Encode()
	if err != nil {
		return nil, err
	}

	reply, err := r.session.Send(ctx, protocol.OpcodeReadSessionStart, payload)
	if err != nil {
		return nil, fmt.Errorf("starting read session: %w", err)
	}
	if err := statusError(protocol.OpcodeReadSessionStart, reply.Status); err != nil {
		return nil, err
	}

	list := &protocol.ReadSessionStartReply{}
	if err := list.Parse(reply.Data); err != nil {
		return nil, fmt.Errorf("parsing record list: %w", err)
	}

	r.log.Info("Discovered records", logger.Int("count", len(list.RecordIDs)))
	r.session.Emit("records_discovered", map[string]interface{}{"count": len(list.RecordIDs)})
	return list.RecordIDs, nil
}

// ReadRecords fetches the requested records and returns their raw bytes
// keyed by descriptor. Non-indexed records are read in batches; indexed
// records go one request per entry because batched indexed reads are
// unreliable on-device. Reply entries are keyed by their echoed
// descriptor, so out-of-order replies associate correctly.
func (r *Reader) ReadRecords(ctx context.Context, descriptors []protocol.RecordDescriptor) (map[protocol.RecordDescriptor][]byte, error) {
	release := r.session.Reserve()
	defer release()

	results := make(map[protocol.RecordDescriptor][]byte, len(descriptors))

	var plain []protocol.RecordDescriptor
	for _, desc := range descriptors {
		if desc.Index == 0 {
			plain = append(plain, desc)
		} else {
			if err := r.readBatch(ctx, []protocol.RecordDescriptor{desc}, results); err != nil {
				return nil, err
			}
		}
	}

	for start := 0; start < len(plain); start += r.batchSize {
		end := start + r.batchSize
		if end > len(plain) {
			end = len(plain)
		}
		if err := r.readBatch(ctx, plain[start:end], results); err != nil {
			return nil, err
		}
	}

	// Closing the read session is best-effort; the records are already in
	// hand.
	if err := r.endSession(ctx); err != nil {
		r.log.Warn("Failed to end read session", logger.Error(err))
	}

	return results, nil
}

func (r *Reader) readBatch(ctx context.Context, batch []protocol.RecordDescriptor, results map[protocol.RecordDescriptor][]byte) error {
	req := &protocol.RecordReadRequest{Records: batch}
	payload, err := req.Encode()
	if err != nil {
		return err
	}

	reply, err := r.session.Send(ctx, protocol.OpcodeRecordRead, payload)
	if err != nil {
		return fmt.Errorf("reading record batch: %w", err)
	}
	if err := statusError(protocol.OpcodeRecordRead, reply.Status); err != nil {
		return err
	}

	parsed := &protocol.RecordReadReply{}
	if err := parsed.Parse(reply.Data); err != nil {
		return fmt.Errorf("parsing record batch: %w", err)
	}

	for _, entry := range parsed.Entries {
		results[entry.Descriptor] = entry.Data
		r.met.RecordRead()
	}

	r.log.Debug("Read record batch",
		logger.Int("requested", len(batch)),
		logger.Int("returned", len(parsed.Entries)))
	return nil
}

func (r *Reader) endSession(ctx context.Context) error {
	reply, err := r.session.Send(ctx, protocol.OpcodeReadSessionEnd, nil)
	if err != nil {
		return err
	}
	return statusError(protocol.OpcodeReadSessionEnd, reply.Status)
}
