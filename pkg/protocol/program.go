package protocol

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// PartitionUnlockRequest selects the codeplug partition for a write.
type PartitionUnlockRequest struct {
	PartitionID uint16
}

// Encode encodes the PartitionUnlockRequest payload to raw bytes
func (p *PartitionUnlockRequest) Encode() ([]byte, error) {
	data := make([]byte, 2)
	binary.BigEndian.PutUint16(data, p.PartitionID)
	return data, nil
}

// Parse parses a PartitionUnlockRequest payload from raw bytes
func (p *PartitionUnlockRequest) Parse(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("invalid partition unlock size: %d (expected 2)", len(data))
	}
	p.PartitionID = binary.BigEndian.Uint16(data)
	return nil
}

// DataTransferRequest carries one block of the codeplug image. The radio
// reassembles blocks by offset, so blocks may be resent after a timeout.
type DataTransferRequest struct {
	Offset uint32
	Chunk  []byte
}

// Encode encodes the DataTransferRequest payload to raw bytes
func (p *DataTransferRequest) Encode() ([]byte, error) {
	if len(p.Chunk) == 0 {
		return nil, fmt.Errorf("empty transfer chunk")
	}

	data := make([]byte, 4+len(p.Chunk))
	binary.BigEndian.PutUint32(data, p.Offset)
	copy(data[4:], p.Chunk)
	return data, nil
}

// Parse parses a DataTransferRequest payload from raw bytes
func (p *DataTransferRequest) Parse(data []byte) error {
	if len(data) < 5 {
		return fmt.Errorf("invalid data transfer size: %d", len(data))
	}

	p.Offset = binary.BigEndian.Uint32(data[0:4])
	p.Chunk = make([]byte, len(data)-4)
	copy(p.Chunk, data[4:])
	return nil
}

// TransferValidateRequest asks the radio to CRC-check the transferred
// image against the checksum we computed locally.
type TransferValidateRequest struct {
	Checksum uint32
}

// Encode encodes the TransferValidateRequest payload to raw bytes
func (p *TransferValidateRequest) Encode() ([]byte, error) {
	data := make([]byte, 4)
	binary.BigEndian.PutUint32(data, p.Checksum)
	return data, nil
}

// Parse parses a TransferValidateRequest payload from raw bytes
func (p *TransferValidateRequest) Parse(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("invalid transfer validate size: %d (expected 4)", len(data))
	}
	p.Checksum = binary.BigEndian.Uint32(data)
	return nil
}

// ImageChecksum computes the CRC the radio validates the transferred image
// against (CRC-32 IEEE over the full image).
func ImageChecksum(image []byte) uint32 {
	return crc32.ChecksumIEEE(image)
}

// TransferProgress is the payload of the unsolicited progress broadcasts
// the radio emits while unpacking or flashing transferred data. They
// arrive interleaved with transfer command replies.
type TransferProgress struct {
	Status  byte
	Percent byte
}

// Parse parses a TransferProgress payload from raw bytes
func (p *TransferProgress) Parse(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("invalid transfer progress size: %d (expected 2)", len(data))
	}
	p.Status = data[0]
	p.Percent = data[1]
	return nil
}

// Encode encodes the TransferProgress payload to raw bytes
func (p *TransferProgress) Encode() ([]byte, error) {
	return []byte{p.Status, p.Percent}, nil
}

// ParseTransferProgress parses a TransferProgress payload from raw bytes
func ParseTransferProgress(data []byte) (*TransferProgress, error) {
	p := &TransferProgress{}
	err := p.Parse(data)
	return p, err
}
