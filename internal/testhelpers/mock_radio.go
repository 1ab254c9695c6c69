// Package testhelpers provides a scripted radio for protocol tests: it
// speaks the real wire format over an in-memory pipe and can be told to
// misbehave at specific points (reject auth, fail the security unlock,
// answer out of order, drop commands).
package testhelpers

import (
	"bytes"
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/dbehnke/cpslink/pkg/protocol"
	"github.com/dbehnke/cpslink/pkg/transport"
)

// MockRadio simulates a radio for testing
type MockRadio struct {
	// Identity
	Address         uint16 // the radio's own frame address
	AssignedAddress uint16 // the address it assigns to the programmer
	SessionPrefix   byte
	Seed            []byte // 8-byte auth seed
	Key             []byte // 16-byte session key
	RadioKey        []byte // 32-byte write-unlock key

	// Codeplug contents served to readers
	Records map[protocol.RecordDescriptor][]byte

	// Failure injection
	RejectAuth         bool
	FailEnterProgram   bool
	FailSecurityUnlock bool
	FailTransfer       bool
	FailValidate       bool
	ReverseReplies     bool           // answer record batches in reverse request order
	DropNext           map[uint16]int // opcode -> number of commands to silently drop
	SkipProgress       bool           // suppress transfer progress broadcasts
	SkipReadiness      bool           // stop after auth, never run the readiness handshake

	mu                 sync.Mutex
	conn               net.Conn
	lastSequence       byte
	sequenceSeen       bool
	sequenceViolations int
	enterCalls         int
	lockCalls          int
	exitCalls          int
	listCalls          int
	unlockedPartition  uint16
	image              []byte
	committed          bool
	err                error
}

// NewMockRadio creates a mock radio with sane defaults and a deterministic
// auth seed.
func NewMockRadio(key []byte) *MockRadio {
	radioKey := make([]byte, protocol.RadioKeyLength)
	for i := range radioKey {
		radioKey[i] = byte(0xA0 + i)
	}

	return &MockRadio{
		Address:         0x0020,
		AssignedAddress: 0x0010,
		SessionPrefix:   0x4A,
		Seed:            []byte{0x1B, 0x9B, 0x4D, 0x8A, 0xD7, 0xDF, 0x42, 0x74},
		Key:             key,
		RadioKey:        radioKey,
		Records:         make(map[protocol.RecordDescriptor][]byte),
		DropNext:        make(map[uint16]int),
	}
}

// StartPipe connects the mock radio to an in-memory pipe and returns the
// programmer's end as a transport channel.
func (m *MockRadio) StartPipe() transport.Channel {
	local, remote := net.Pipe()
	go m.Serve(remote)
	return transport.FromConn(local)
}

// Serve runs the radio side of the protocol on conn until the peer goes
// away. It announces itself first, walks the auth and readiness
// handshakes, then serves commands.
func (m *MockRadio) Serve(conn net.Conn) {
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	defer conn.Close()

	if err := m.handshake(conn); err != nil {
		m.setErr(err)
		return
	}

	for {
		f, err := protocol.ReadFrame(conn)
		if err != nil {
			return
		}
		if !m.admit(f) {
			continue
		}
		if err := m.handleCommand(conn, f); err != nil {
			m.setErr(err)
			return
		}
	}
}

// admit enforces the radio's sequence discipline: a command frame whose
// sequence does not advance by exactly one is silently dropped, exactly
// like real hardware.
func (m *MockRadio) admit(f *protocol.Frame) bool {
	if !f.CarriesCommand {
		return true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sequenceSeen && f.Sequence != m.lastSequence+1 {
		m.sequenceViolations++
		return false
	}
	m.lastSequence = f.Sequence
	m.sequenceSeen = true

	if n := m.DropNext[f.Opcode]; n > 0 {
		m.DropNext[f.Opcode] = n - 1
		return false
	}
	return true
}

func (m *MockRadio) handshake(conn net.Conn) error {
	// Announce ourselves.
	if err := m.send(conn, &protocol.Frame{
		Opcode: protocol.OpcodeMasterStatusBroadcast,
		Source: m.Address,
	}); err != nil {
		return err
	}

	// Expect the master query.
	f, err := m.expectCommand(conn, protocol.OpcodeDeviceMasterQuery)
	if err != nil {
		return err
	}

	// Send the system map with prefix and seed.
	sysmap := &protocol.SysMapBroadcast{SessionPrefix: m.SessionPrefix, Seed: m.Seed}
	payload, err := sysmap.Encode()
	if err != nil {
		return err
	}
	if err := m.send(conn, &protocol.Frame{
		Opcode:  protocol.OpcodeDeviceSysMapBroadcast,
		Source:  m.Address,
		Payload: payload,
	}); err != nil {
		return err
	}

	// Expect the encrypted challenge response.
	f, err = m.expectCommand(conn, protocol.OpcodeDeviceAuthKey)
	if err != nil {
		return err
	}

	key, err := protocol.NewSessionKey(m.Key)
	if err != nil {
		return err
	}
	want, err := key.EncryptChallenge(m.Seed)
	if err != nil {
		return err
	}

	status := protocol.StatusSuccess
	if m.RejectAuth || !bytes.Equal(f.Payload, want) {
		status = protocol.StatusFailure
	}

	authReply := &protocol.AuthKeyReply{AssignedAddress: m.AssignedAddress, SessionPrefix: m.SessionPrefix}
	data, err := authReply.Encode()
	if err != nil {
		return err
	}
	if err := m.reply(conn, f, protocol.OpcodeDeviceAuthKey, status, data); err != nil {
		return err
	}
	if status != protocol.StatusSuccess {
		return fmt.Errorf("auth rejected")
	}

	// Optional connection confirmation.
	if err := m.send(conn, &protocol.Frame{
		Opcode: protocol.OpcodeDeviceConnectionReply,
		Source: m.Address,
	}); err != nil {
		return err
	}

	if m.SkipReadiness {
		return nil
	}

	// Readiness: query capabilities, expect the descriptor reply, then
	// announce transitional states and finally ready.
	queryTxn := uint16(m.SessionPrefix)<<8 | 0x00F1
	if err := m.send(conn, &protocol.Frame{
		Opcode:        protocol.OpcodeDeviceStatusQuery,
		Source:        m.Address,
		Destination:   m.AssignedAddress,
		TransactionID: queryTxn,
	}); err != nil {
		return err
	}

	f, err = m.readFrame(conn)
	if err != nil {
		return err
	}
	if f.Opcode != protocol.OpcodeDeviceStatusQuery|protocol.ReplyFlag {
		return fmt.Errorf("expected capability reply, got opcode 0x%04X", f.Opcode)
	}
	if f.TransactionID != queryTxn {
		return fmt.Errorf("capability reply txn 0x%04X, want 0x%04X", f.TransactionID, queryTxn)
	}

	for _, status := range []byte{0x01, 0x2E, protocol.StatusReportReady} {
		report := &protocol.StatusReport{Status: status}
		payload, err := report.Encode()
		if err != nil {
			return err
		}
		if err := m.send(conn, &protocol.Frame{
			Opcode:  protocol.OpcodeDeviceStatusReport,
			Source:  m.Address,
			Payload: payload,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockRadio) handleCommand(conn net.Conn, f *protocol.Frame) error {
	switch f.Opcode {
	case protocol.OpcodeReadSessionStart:
		m.mu.Lock()
		m.listCalls++
		ids := make(map[uint16]bool)
		for desc := range m.Records {
			ids[desc.RecordID] = true
		}
		m.mu.Unlock()

		list := make([]uint16, 0, len(ids))
		for id := range ids {
			list = append(list, id)
		}
		sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })

		reply := &protocol.ReadSessionStartReply{RecordIDs: list}
		data, err := reply.Encode()
		if err != nil {
			return err
		}
		return m.reply(conn, f, f.Opcode, protocol.StatusSuccess, data)

	case protocol.OpcodeRecordRead:
		req := &protocol.RecordReadRequest{}
		if err := req.Parse(f.Payload); err != nil {
			return m.reply(conn, f, f.Opcode, protocol.StatusFailure, nil)
		}

		m.mu.Lock()
		var entries []protocol.RecordEntry
		for _, desc := range req.Records {
			if data, ok := m.Records[desc]; ok {
				entries = append(entries, protocol.RecordEntry{Descriptor: desc, Data: data})
			}
		}
		m.mu.Unlock()

		if m.ReverseReplies {
			for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}

		reply := &protocol.RecordReadReply{Entries: entries}
		data, err := reply.Encode()
		if err != nil {
			return err
		}
		return m.reply(conn, f, f.Opcode, protocol.StatusSuccess, data)

	case protocol.OpcodeReadSessionEnd:
		return m.reply(conn, f, f.Opcode, protocol.StatusSuccess, nil)

	case protocol.OpcodeEnterProgramMode:
		m.mu.Lock()
		m.enterCalls++
		m.image = nil
		m.committed = false
		m.mu.Unlock()
		if m.FailEnterProgram {
			return m.reply(conn, f, f.Opcode, protocol.StatusBusy, nil)
		}
		return m.reply(conn, f, f.Opcode, protocol.StatusSuccess, nil)

	case protocol.OpcodeReadRadioKey:
		return m.reply(conn, f, f.Opcode, protocol.StatusSuccess, m.RadioKey)

	case protocol.OpcodeSecurityUnlock:
		key, err := protocol.NewSessionKey(m.Key)
		if err != nil {
			return err
		}
		want, err := key.EncryptKeyBlob(m.RadioKey)
		if err != nil {
			return err
		}
		if m.FailSecurityUnlock || !bytes.Equal(f.Payload, want) {
			return m.reply(conn, f, f.Opcode, protocol.StatusSecurityRejected, nil)
		}
		return m.reply(conn, f, f.Opcode, protocol.StatusSuccess, nil)

	case protocol.OpcodePartitionUnlock:
		req := &protocol.PartitionUnlockRequest{}
		if err := req.Parse(f.Payload); err != nil {
			return m.reply(conn, f, f.Opcode, protocol.StatusFailure, nil)
		}
		m.mu.Lock()
		m.unlockedPartition = req.PartitionID
		m.mu.Unlock()
		return m.reply(conn, f, f.Opcode, protocol.StatusSuccess, nil)

	case protocol.OpcodeDataTransfer:
		req := &protocol.DataTransferRequest{}
		if err := req.Parse(f.Payload); err != nil {
			return m.reply(conn, f, f.Opcode, protocol.StatusFailure, nil)
		}

		m.mu.Lock()
		failNow := m.FailTransfer && req.Offset > 0
		if !failNow {
			end := int(req.Offset) + len(req.Chunk)
			if end > len(m.image) {
				grown := make([]byte, end)
				copy(grown, m.image)
				m.image = grown
			}
			copy(m.image[req.Offset:], req.Chunk)
		}
		imageLen := len(m.image)
		m.mu.Unlock()

		if failNow {
			return m.reply(conn, f, f.Opcode, protocol.StatusFailure, nil)
		}

		// Real radios push progress broadcasts interleaved with transfer
		// replies; emit one before the reply to exercise that path.
		if !m.SkipProgress {
			progress := &protocol.TransferProgress{
				Status:  protocol.StatusSuccess,
				Percent: byte(imageLen % 101),
			}
			payload, err := progress.Encode()
			if err != nil {
				return err
			}
			if err := m.send(conn, &protocol.Frame{
				Opcode:  protocol.OpcodeTransferProgress,
				Source:  m.Address,
				Payload: payload,
			}); err != nil {
				return err
			}
		}
		return m.reply(conn, f, f.Opcode, protocol.StatusSuccess, nil)

	case protocol.OpcodeTransferValidate:
		req := &protocol.TransferValidateRequest{}
		if err := req.Parse(f.Payload); err != nil {
			return m.reply(conn, f, f.Opcode, protocol.StatusFailure, nil)
		}
		m.mu.Lock()
		sum := protocol.ImageChecksum(m.image)
		m.mu.Unlock()
		if m.FailValidate || sum != req.Checksum {
			return m.reply(conn, f, f.Opcode, protocol.StatusCRCMismatch, nil)
		}
		return m.reply(conn, f, f.Opcode, protocol.StatusSuccess, nil)

	case protocol.OpcodeTransferCommit:
		m.mu.Lock()
		m.committed = true
		m.mu.Unlock()
		return m.reply(conn, f, f.Opcode, protocol.StatusSuccess, nil)

	case protocol.OpcodePartitionLock:
		m.mu.Lock()
		m.lockCalls++
		m.mu.Unlock()
		return m.reply(conn, f, f.Opcode, protocol.StatusSuccess, nil)

	case protocol.OpcodeExitProgramMode:
		m.mu.Lock()
		m.exitCalls++
		m.mu.Unlock()
		return m.reply(conn, f, f.Opcode, protocol.StatusSuccess, nil)

	default:
		return m.reply(conn, f, f.Opcode, protocol.StatusFailure, nil)
	}
}

func (m *MockRadio) expectCommand(conn net.Conn, opcode uint16) (*protocol.Frame, error) {
	for {
		f, err := m.readFrame(conn)
		if err != nil {
			return nil, err
		}
		if !m.admit(f) {
			continue
		}
		if f.Opcode != opcode {
			return nil, fmt.Errorf("expected opcode 0x%04X, got 0x%04X", opcode, f.Opcode)
		}
		return f, nil
	}
}

func (m *MockRadio) readFrame(conn net.Conn) (*protocol.Frame, error) {
	return protocol.ReadFrame(conn)
}

func (m *MockRadio) send(conn net.Conn, f *protocol.Frame) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}
	_, err = conn.Write(data)
	return err
}

func (m *MockRadio) reply(conn net.Conn, req *protocol.Frame, opcode uint16, status byte, data []byte) error {
	payload := make([]byte, 1+len(data))
	payload[0] = status
	copy(payload[1:], data)

	return m.send(conn, &protocol.Frame{
		Opcode:        opcode | protocol.ReplyFlag,
		Source:        m.Address,
		Destination:   req.Source,
		TransactionID: req.TransactionID,
		Payload:       payload,
	})
}

func (m *MockRadio) setErr(err error) {
	m.mu.Lock()
	if m.err == nil {
		m.err = err
	}
	m.mu.Unlock()
}

// Accessors for test assertions

// Err returns the first protocol error the mock radio observed
func (m *MockRadio) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// SequenceViolations returns how many command frames were dropped for a
// non-advancing sequence
func (m *MockRadio) SequenceViolations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sequenceViolations
}

// EnterCalls returns how many times programming mode was entered
func (m *MockRadio) EnterCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enterCalls
}

// LockCalls returns how many times the partition was locked
func (m *MockRadio) LockCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lockCalls
}

// ExitCalls returns how many times programming mode was exited
func (m *MockRadio) ExitCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exitCalls
}

// ListCalls returns how many read sessions were started
func (m *MockRadio) ListCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls
}

// UnlockedPartition returns the partition id of the last unlock
func (m *MockRadio) UnlockedPartition() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlockedPartition
}

// WrittenImage returns a copy of the image assembled from data transfers
func (m *MockRadio) WrittenImage() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	img := make([]byte, len(m.image))
	copy(img, m.image)
	return img
}

// Committed reports whether a transfer commit was received
func (m *MockRadio) Committed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed
}
