package protocol

import (
	"encoding/binary"
	"fmt"
)

// SysMapBroadcast is the payload of a DeviceSysMapBroadcast frame: the
// session prefix assigned by the peer followed by the 8-byte auth seed.
type SysMapBroadcast struct {
	SessionPrefix byte
	Seed          []byte // 8 bytes
}

// Parse parses a SysMapBroadcast payload from raw bytes
func (p *SysMapBroadcast) Parse(data []byte) error {
	if len(data) < SysMapPayloadLength {
		return fmt.Errorf("invalid sysmap payload size: %d (expected at least %d)", len(data), SysMapPayloadLength)
	}

	p.SessionPrefix = data[0]
	p.Seed = make([]byte, AuthSeedLength)
	copy(p.Seed, data[1:1+AuthSeedLength])
	return nil
}

// Encode encodes the SysMapBroadcast payload to raw bytes
func (p *SysMapBroadcast) Encode() ([]byte, error) {
	if len(p.Seed) != AuthSeedLength {
		return nil, fmt.Errorf("invalid seed length: %d (expected %d)", len(p.Seed), AuthSeedLength)
	}

	data := make([]byte, SysMapPayloadLength)
	data[0] = p.SessionPrefix
	copy(data[1:], p.Seed)
	return data, nil
}

// AuthKeyReply is the decoded data of a DeviceAuthKeyReply: the address the
// peer assigned to us and the confirmed session prefix. The status byte is
// carried by the surrounding CommandReply.
type AuthKeyReply struct {
	AssignedAddress uint16
	SessionPrefix   byte
}

// Parse parses an AuthKeyReply from reply data (after the status byte)
func (p *AuthKeyReply) Parse(data []byte) error {
	if len(data) < AuthKeyReplyDataLength {
		return fmt.Errorf("invalid auth key reply size: %d (expected %d)", len(data), AuthKeyReplyDataLength)
	}

	p.AssignedAddress = binary.BigEndian.Uint16(data[0:2])
	p.SessionPrefix = data[2]
	return nil
}

// Encode encodes the AuthKeyReply data to raw bytes
func (p *AuthKeyReply) Encode() ([]byte, error) {
	data := make([]byte, AuthKeyReplyDataLength)
	binary.BigEndian.PutUint16(data[0:2], p.AssignedAddress)
	data[2] = p.SessionPrefix
	return data, nil
}

// ParseSysMapBroadcast parses a SysMapBroadcast payload from raw bytes
func ParseSysMapBroadcast(data []byte) (*SysMapBroadcast, error) {
	p := &SysMapBroadcast{}
	err := p.Parse(data)
	return p, err
}

// ParseAuthKeyReply parses an AuthKeyReply from reply data
func ParseAuthKeyReply(data []byte) (*AuthKeyReply, error) {
	p := &AuthKeyReply{}
	err := p.Parse(data)
	return p, err
}
