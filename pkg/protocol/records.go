package protocol

import (
	"encoding/binary"
	"fmt"
)

// RecordDescriptor identifies one readable/writable unit on the radio.
// Index is 0 for non-indexed records; indexed record types (one entry per
// channel, per contact, ...) carry the entry number.
type RecordDescriptor struct {
	RecordID uint16
	Index    uint16
}

// ReadSessionStartRequest is the payload of a ReadSessionStart command.
// Mode is fixed for codeplug reads; the reserved byte is sent as zero.
type ReadSessionStartRequest struct {
	Mode byte
}

// Encode encodes the ReadSessionStartRequest payload to raw bytes
func (p *ReadSessionStartRequest) Encode() ([]byte, error) {
	return []byte{p.Mode, 0x00}, nil
}

// Parse parses a ReadSessionStartRequest payload from raw bytes
func (p *ReadSessionStartRequest) Parse(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("invalid read session start size: %d (expected 2)", len(data))
	}
	p.Mode = data[0]
	return nil
}

// ReadSessionStartReply is the decoded data of a ReadSessionStart reply:
// the flat list of record ids this radio actually has. The set varies per
// model and firmware and is authoritative.
type ReadSessionStartReply struct {
	RecordIDs []uint16
}

// Parse parses a ReadSessionStartReply from reply data
func (p *ReadSessionStartReply) Parse(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("invalid read session reply size: %d", len(data))
	}

	count := int(binary.BigEndian.Uint16(data[0:2]))
	if len(data) != 2+count*2 {
		return fmt.Errorf("read session reply count %d does not match %d data bytes", count, len(data)-2)
	}

	p.RecordIDs = make([]uint16, count)
	for i := 0; i < count; i++ {
		p.RecordIDs[i] = binary.BigEndian.Uint16(data[2+i*2:])
	}
	return nil
}

// Encode encodes the ReadSessionStartReply data to raw bytes
func (p *ReadSessionStartReply) Encode() ([]byte, error) {
	data := make([]byte, 2+len(p.RecordIDs)*2)
	binary.BigEndian.PutUint16(data[0:2], uint16(len(p.RecordIDs)))
	for i, id := range p.RecordIDs {
		binary.BigEndian.PutUint16(data[2+i*2:], id)
	}
	return data, nil
}

// RecordReadRequest asks for a batch of records in one command. Entry
// count is a single byte; callers keep batches well below the cap because
// large batches truncate on-device.
type RecordReadRequest struct {
	Records []RecordDescriptor
}

// Encode encodes the RecordReadRequest payload to raw bytes
func (p *RecordReadRequest) Encode() ([]byte, error) {
	if len(p.Records) == 0 {
		return nil, fmt.Errorf("empty record read request")
	}
	if len(p.Records) > MaxReadBatchSize {
		return nil, fmt.Errorf("record read batch too large: %d (max %d)", len(p.Records), MaxReadBatchSize)
	}

	data := make([]byte, 1+len(p.Records)*4)
	data[0] = byte(len(p.Records))
	for i, rec := range p.Records {
		binary.BigEndian.PutUint16(data[1+i*4:], rec.RecordID)
		binary.BigEndian.PutUint16(data[3+i*4:], rec.Index)
	}
	return data, nil
}

// Parse parses a RecordReadRequest payload from raw bytes
func (p *RecordReadRequest) Parse(data []byte) error {
	if len(data) < 1 {
		return fmt.Errorf("empty record read request")
	}

	count := int(data[0])
	if len(data) != 1+count*4 {
		return fmt.Errorf("record read request count %d does not match %d data bytes", count, len(data)-1)
	}

	p.Records = make([]RecordDescriptor, count)
	for i := range p.Records {
		p.Records[i].RecordID = binary.BigEndian.Uint16(data[1+i*4:])
		p.Records[i].Index = binary.BigEndian.Uint16(data[3+i*4:])
	}
	return nil
}

// RecordEntry is one record's bytes inside a RecordRead reply. Entries
// echo their id and index so a reply can be demultiplexed even when the
// radio answers in a different order than requested.
type RecordEntry struct {
	Descriptor RecordDescriptor
	Data       []byte
}

// RecordReadReply is the decoded data of a RecordRead reply.
type RecordReadReply struct {
	Entries []RecordEntry
}

// Parse parses a RecordReadReply from reply data
func (p *RecordReadReply) Parse(data []byte) error {
	p.Entries = nil
	for off := 0; off < len(data); {
		if len(data)-off < 6 {
			return fmt.Errorf("truncated record entry header at offset %d", off)
		}

		var entry RecordEntry
		entry.Descriptor.RecordID = binary.BigEndian.Uint16(data[off:])
		entry.Descriptor.Index = binary.BigEndian.Uint16(data[off+2:])
		length := int(binary.BigEndian.Uint16(data[off+4:]))
		off += 6

		if len(data)-off < length {
			return fmt.Errorf("truncated record entry data: need %d bytes, have %d", length, len(data)-off)
		}
		entry.Data = make([]byte, length)
		copy(entry.Data, data[off:off+length])
		off += length

		p.Entries = append(p.Entries, entry)
	}
	return nil
}

// Encode encodes the RecordReadReply data to raw bytes
func (p *RecordReadReply) Encode() ([]byte, error) {
	var size int
	for _, e := range p.Entries {
		size += 6 + len(e.Data)
	}

	data := make([]byte, 0, size)
	var scratch [6]byte
	for _, e := range p.Entries {
		binary.BigEndian.PutUint16(scratch[0:], e.Descriptor.RecordID)
		binary.BigEndian.PutUint16(scratch[2:], e.Descriptor.Index)
		binary.BigEndian.PutUint16(scratch[4:], uint16(len(e.Data)))
		data = append(data, scratch[:]...)
		data = append(data, e.Data...)
	}
	return data, nil
}
