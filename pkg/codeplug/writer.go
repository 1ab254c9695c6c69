package codeplug

import (
	"context"
	"fmt"
	"time"

	"github.com/dbehnke/cpslink/pkg/logger"
	"github.com/dbehnke/cpslink/pkg/metrics"
	"github.com/dbehnke/cpslink/pkg/protocol"
	"github.com/dbehnke/cpslink/pkg/session"
)

// ProgressUpdate is one asynchronous progress broadcast from the radio
// while it receives or unpacks transferred data.
type ProgressUpdate struct {
	Status  byte
	Percent int
}

// ProgressFunc receives progress updates during a write. May be nil.
type ProgressFunc func(ProgressUpdate)

// Writer drives the security-unlock-plus-commit write protocol. The step
// order is fixed; whatever happens after programming mode is entered, the
// partition is locked and programming mode exited before Write returns.
type Writer struct {
	session     *session.Session
	log         *logger.Logger
	met         *metrics.Collector
	partitionID uint16
	blockSize   int
}

// WriterOption customizes a Writer
type WriterOption func(*Writer)

// WithPartition selects the codeplug partition to write
func WithPartition(id uint16) WriterOption {
	return func(w *Writer) {
		w.partitionID = id
	}
}

// WithBlockSize overrides the transfer block size
func WithBlockSize(n int) WriterOption {
	return func(w *Writer) {
		w.blockSize = n
	}
}

// WithWriterMetrics attaches a metrics collector
func WithWriterMetrics(m *metrics.Collector) WriterOption {
	return func(w *Writer) {
		w.met = m
	}
}

// NewWriter creates a Writer bound to a session
func NewWriter(sess *session.Session, log *logger.Logger, opts ...WriterOption) *Writer {
	w := &Writer{
		session:   sess,
		log:       log.WithComponent("codeplug.writer"),
		blockSize: protocol.DefaultTransferBlockSize,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.blockSize <= 0 || w.blockSize > protocol.MaxPayloadLength-4 {
		w.blockSize = protocol.DefaultTransferBlockSize
	}
	return w
}

// Write pushes a complete codeplug image to the radio: enter programming
// mode, unlock security with the TEA-wrapped radio key, unlock the
// partition, transfer the image in blocks, validate the CRC, commit.
// Progress broadcasts are forwarded to progress as they arrive.
func (w *Writer) Write(ctx context.Context, image []byte, progress ProgressFunc) error {
	if len(image) == 0 {
		return fmt.Errorf("empty codeplug image")
	}

	release := w.session.Reserve()
	defer release()

	// Progress broadcasts arrive interleaved with transfer replies on the
	// session's unsolicited path.
	w.session.SetBroadcastHandler(func(f *protocol.Frame) {
		if f.Opcode != protocol.OpcodeTransferProgress {
			return
		}
		p, err := protocol.ParseTransferProgress(f.Payload)
		if err != nil {
			w.log.Warn("Malformed progress broadcast", logger.Error(err))
			return
		}
		w.met.TransferProgress(0, p.Percent)
		w.session.Emit("transfer_progress", map[string]interface{}{
			"status":  p.Status,
			"percent": int(p.Percent),
		})
		if progress != nil {
			progress(ProgressUpdate{Status: p.Status, Percent: int(p.Percent)})
		}
	})
	defer w.session.SetBroadcastHandler(nil)

	if err := w.step(ctx, protocol.OpcodeEnterProgramMode, nil); err != nil {
		w.met.WriteAborted()
		return fmt.Errorf("entering programming mode: %w", err)
	}

	// From here on the radio is in programming mode: the partition lock
	// and mode exit must run on every path out of this function.
	defer w.cleanup()

	err := w.writeLocked(ctx, image)
	if err != nil {
		w.met.WriteAborted()
		return err
	}

	w.met.WriteCommitted()
	w.session.Emit("write_committed", map[string]interface{}{"bytes": len(image)})
	w.log.Info("Codeplug write committed", logger.Int("bytes", len(image)))
	return nil
}

func (w *Writer) writeLocked(ctx context.Context, image []byte) error {
	radioKey, err := w.readRadioKey(ctx)
	if err != nil {
		return fmt.Errorf("reading radio key: %w", err)
	}

	wrapped, err := w.session.WrapKey(radioKey)
	if err != nil {
		return fmt.Errorf("wrapping radio key: %w", err)
	}

	if err := w.step(ctx, protocol.OpcodeSecurityUnlock, wrapped); err != nil {
		return fmt.Errorf("security unlock: %w", err)
	}

	unlock := &protocol.PartitionUnlockRequest{PartitionID: w.partitionID}
	payload, err := unlock.Encode()
	if err != nil {
		return err
	}
	if err := w.step(ctx, protocol.OpcodePartitionUnlock, payload); err != nil {
		return fmt.Errorf("unlocking partition %d: %w", w.partitionID, err)
	}

	if err := w.transfer(ctx, image); err != nil {
		return fmt.Errorf("transferring image: %w", err)
	}

	validate := &protocol.TransferValidateRequest{Checksum: protocol.ImageChecksum(image)}
	payload, err = validate.Encode()
	if err != nil {
		return err
	}
	if err := w.step(ctx, protocol.OpcodeTransferValidate, payload); err != nil {
		return fmt.Errorf("validating transfer: %w", err)
	}

	if err := w.step(ctx, protocol.OpcodeTransferCommit, nil); err != nil {
		return fmt.Errorf("committing transfer: %w", err)
	}
	return nil
}

func (w *Writer) readRadioKey(ctx context.Context) ([]byte, error) {
	reply, err := w.session.Send(ctx, protocol.OpcodeReadRadioKey, nil)
	if err != nil {
		return nil, err
	}
	if err := statusError(protocol.OpcodeReadRadioKey, reply.Status); err != nil {
		return nil, err
	}
	if len(reply.Data) != protocol.RadioKeyLength {
		return nil, fmt.Errorf("radio key length %d (expected %d)", len(reply.Data), protocol.RadioKeyLength)
	}
	return reply.Data, nil
}

func (w *Writer) transfer(ctx context.Context, image []byte) error {
	for offset := 0; offset < len(image); offset += w.blockSize {
		end := offset + w.blockSize
		if end > len(image) {
			end = len(image)
		}

		req := &protocol.DataTransferRequest{
			Offset: uint32(offset),
			Chunk:  image[offset:end],
		}
		payload, err := req.Encode()
		if err != nil {
			return err
		}
		if err := w.step(ctx, protocol.OpcodeDataTransfer, payload); err != nil {
			return fmt.Errorf("block at offset %d: %w", offset, err)
		}

		w.met.TransferProgress(end-offset, byte((end*100)/len(image)))
	}
	return nil
}

// step sends one programming-mode command and maps its status.
func (w *Writer) step(ctx context.Context, opcode uint16, payload []byte) error {
	reply, err := w.session.Send(ctx, opcode, payload)
	if err != nil {
		return err
	}
	return statusError(opcode, reply.Status)
}

// cleanup locks the partition and leaves programming mode. It runs on
// every path out of Write once programming mode was entered, with its own
// deadline so a canceled caller context cannot leave the radio unlocked.
func (w *Writer) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := w.step(ctx, protocol.OpcodePartitionLock, nil); err != nil {
		w.log.Error("Failed to lock partition", logger.Error(err))
	}
	if err := w.step(ctx, protocol.OpcodeExitProgramMode, nil); err != nil {
		w.log.Error("Failed to exit programming mode", logger.Error(err))
	}
}
