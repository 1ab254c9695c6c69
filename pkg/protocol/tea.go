package protocol

import (
	"encoding/binary"
	"fmt"
)

// teaDelta is the round constant of the session cipher. The radio runs
// textbook 32-round TEA for the auth challenge and the write-path key wrap.
const teaDelta uint32 = 0x9E3779B9

const teaRounds = 32

// SessionKey holds the four 32-bit TEA subkeys derived from a 16-byte key.
type SessionKey [4]uint32

// NewSessionKey builds a SessionKey from 16 raw bytes (big-endian words).
func NewSessionKey(key []byte) (SessionKey, error) {
	var sk SessionKey
	if len(key) != SessionKeyLength {
		return sk, fmt.Errorf("invalid session key length: %d (expected %d)", len(key), SessionKeyLength)
	}
	for i := range sk {
		sk[i] = binary.BigEndian.Uint32(key[i*4:])
	}
	return sk, nil
}

// EncryptBlock runs one TEA encryption over a 64-bit block. The block is
// split into two big-endian 32-bit halves. Pure function; both the auth
// challenge and the key wrap are built on it.
func (k SessionKey) EncryptBlock(block uint64) uint64 {
	v0 := uint32(block >> 32)
	v1 := uint32(block)

	var acc uint32
	for i := 0; i < teaRounds; i++ {
		acc += teaDelta
		v0 += ((v1 << 4) + k[0]) ^ (v1 + acc) ^ ((v1 >> 5) + k[1])
		v1 += ((v0 << 4) + k[2]) ^ (v0 + acc) ^ ((v0 >> 5) + k[3])
	}

	return uint64(v0)<<32 | uint64(v1)
}

// EncryptChallenge encrypts the 8-byte authentication seed from
// DeviceSysMapBroadcast into the DeviceAuthKey response.
func (k SessionKey) EncryptChallenge(seed []byte) ([]byte, error) {
	if len(seed) != AuthSeedLength {
		return nil, fmt.Errorf("invalid auth seed length: %d (expected %d)", len(seed), AuthSeedLength)
	}

	out := k.EncryptBlock(binary.BigEndian.Uint64(seed))
	response := make([]byte, AuthResponseLength)
	binary.BigEndian.PutUint64(response, out)
	return response, nil
}

// EncryptKeyBlob wraps the 32-byte radio-supplied key for the write-path
// security unlock: four independent 8-byte blocks, no chaining.
func (k SessionKey) EncryptKeyBlob(radioKey []byte) ([]byte, error) {
	if len(radioKey) != RadioKeyLength {
		return nil, fmt.Errorf("invalid radio key length: %d (expected %d)", len(radioKey), RadioKeyLength)
	}

	wrapped := make([]byte, RadioKeyLength)
	for i := 0; i < RadioKeyLength; i += 8 {
		out := k.EncryptBlock(binary.BigEndian.Uint64(radioKey[i:]))
		binary.BigEndian.PutUint64(wrapped[i:], out)
	}
	return wrapped, nil
}
