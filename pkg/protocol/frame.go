package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrFraming marks malformed frame bytes. Framing is not
// self-resynchronizing: once a frame fails to parse the stream position is
// unknown and the caller must close the session.
var ErrFraming = errors.New("framing error")

// Frame is one session-layer message. Every exchange in both directions
// uses this layout; all multi-byte header fields are big-endian.
type Frame struct {
	Opcode         uint16
	CarriesCommand bool
	Sequence       byte
	Destination    uint16
	Source         uint16
	TransactionID  uint16
	Payload        []byte
}

// IsReply reports whether the frame opcode carries the reply flag.
func (f *Frame) IsReply() bool {
	return f.Opcode&ReplyFlag != 0
}

// RequestOpcode strips the reply flag off a reply opcode.
func (f *Frame) RequestOpcode() uint16 {
	return f.Opcode &^ ReplyFlag
}

// Encode serializes the frame to wire bytes.
func (f *Frame) Encode() ([]byte, error) {
	if len(f.Payload) > MaxPayloadLength {
		return nil, fmt.Errorf("%w: payload too large: %d", ErrFraming, len(f.Payload))
	}

	data := make([]byte, FrameFixedSize+len(f.Payload))
	binary.BigEndian.PutUint16(data[FrameOffsetTotalLength:], uint16(FrameHeaderSize+len(f.Payload)))
	binary.BigEndian.PutUint16(data[FrameOffsetOpcode:], f.Opcode)
	if f.CarriesCommand {
		data[FrameOffsetFlags] |= FlagCarriesCommand
	}
	data[FrameOffsetSequence] = f.Sequence
	binary.BigEndian.PutUint16(data[FrameOffsetDestination:], f.Destination)
	binary.BigEndian.PutUint16(data[FrameOffsetSource:], f.Source)
	binary.BigEndian.PutUint16(data[FrameOffsetTransactionID:], f.TransactionID)
	binary.BigEndian.PutUint16(data[FrameOffsetPayloadLength:], uint16(len(f.Payload)))
	copy(data[FrameOffsetPayload:], f.Payload)
	return data, nil
}

// Parse decodes a complete frame from raw bytes (including the leading
// totalLength field).
func (f *Frame) Parse(data []byte) error {
	if len(data) < FrameFixedSize {
		return fmt.Errorf("%w: short frame: %d bytes", ErrFraming, len(data))
	}

	totalLength := binary.BigEndian.Uint16(data[FrameOffsetTotalLength:])
	if int(totalLength) != len(data)-FrameLengthSize {
		return fmt.Errorf("%w: total length %d does not match %d available bytes",
			ErrFraming, totalLength, len(data)-FrameLengthSize)
	}

	payloadLength := binary.BigEndian.Uint16(data[FrameOffsetPayloadLength:])
	if int(payloadLength) != len(data)-FrameFixedSize {
		return fmt.Errorf("%w: payload length %d does not match %d remaining bytes",
			ErrFraming, payloadLength, len(data)-FrameFixedSize)
	}

	f.Opcode = binary.BigEndian.Uint16(data[FrameOffsetOpcode:])
	f.CarriesCommand = data[FrameOffsetFlags]&FlagCarriesCommand != 0
	f.Sequence = data[FrameOffsetSequence]
	f.Destination = binary.BigEndian.Uint16(data[FrameOffsetDestination:])
	f.Source = binary.BigEndian.Uint16(data[FrameOffsetSource:])
	f.TransactionID = binary.BigEndian.Uint16(data[FrameOffsetTransactionID:])
	f.Payload = make([]byte, payloadLength)
	copy(f.Payload, data[FrameOffsetPayload:])
	return nil
}

// ReadFrame reads exactly one frame off a byte stream: the two-byte total
// length first, then the remainder. An error from here means the stream is
// corrupted or closed; there is no recovery short of reconnecting.
func ReadFrame(r io.Reader) (*Frame, error) {
	var lengthBuf [FrameLengthSize]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, err
	}

	totalLength := binary.BigEndian.Uint16(lengthBuf[:])
	if totalLength < FrameHeaderSize {
		return nil, fmt.Errorf("%w: total length %d below header size", ErrFraming, totalLength)
	}

	data := make([]byte, FrameLengthSize+int(totalLength))
	copy(data, lengthBuf[:])
	if _, err := io.ReadFull(r, data[FrameLengthSize:]); err != nil {
		return nil, fmt.Errorf("reading frame body: %w", err)
	}

	f := &Frame{}
	if err := f.Parse(data); err != nil {
		return nil, err
	}
	return f, nil
}

// CommandReply is the decoded payload of a reply frame: the echoed status
// byte followed by command-specific data.
type CommandReply struct {
	Opcode uint16
	Status byte
	Data   []byte
}

// ParseCommandReply interprets a reply frame. The opcode must carry the
// reply flag and the payload must hold at least the status byte.
func ParseCommandReply(f *Frame) (*CommandReply, error) {
	if !f.IsReply() {
		return nil, fmt.Errorf("%w: reply opcode 0x%04X missing reply flag", ErrFraming, f.Opcode)
	}
	if len(f.Payload) < 1 {
		return nil, fmt.Errorf("%w: reply frame without status byte", ErrFraming)
	}

	reply := &CommandReply{
		Opcode: f.Opcode,
		Status: f.Payload[0],
		Data:   make([]byte, len(f.Payload)-1),
	}
	copy(reply.Data, f.Payload[1:])
	return reply, nil
}
