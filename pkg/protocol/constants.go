package protocol

// Opcodes (u16). Replies echo the request opcode with the reply flag set.
const (
	// Session establishment / authentication
	OpcodeMasterStatusBroadcast uint16 = 0x00B1 // unsolicited, peer announces itself
	OpcodeDeviceMasterQuery     uint16 = 0x00B2
	OpcodeDeviceSysMapBroadcast uint16 = 0x00B3 // carries auth seed + session prefix
	OpcodeDeviceAuthKey         uint16 = 0x00B4
	OpcodeDeviceConnectionReply uint16 = 0x00B5 // optional confirmation, no state change

	// Readiness handshake
	OpcodeDeviceStatusQuery  uint16 = 0x00C1 // peer asks for our capability descriptor
	OpcodeDeviceStatusReport uint16 = 0x00C2 // transitional and final "ready" broadcasts

	// Read path
	OpcodeReadSessionStart uint16 = 0x0101
	OpcodeRecordRead       uint16 = 0x0102
	OpcodeReadSessionEnd   uint16 = 0x0103

	// Write path (programming mode)
	OpcodeEnterProgramMode uint16 = 0x0201
	OpcodeReadRadioKey     uint16 = 0x0202
	OpcodeSecurityUnlock   uint16 = 0x0203
	OpcodePartitionUnlock  uint16 = 0x0204
	OpcodeDataTransfer     uint16 = 0x0205
	OpcodeTransferValidate uint16 = 0x0206
	OpcodeTransferCommit   uint16 = 0x0207
	OpcodePartitionLock    uint16 = 0x0208
	OpcodeExitProgramMode  uint16 = 0x0209
	OpcodeTransferProgress uint16 = 0x020A // unsolicited, interleaved with transfer replies
)

// ReplyFlag is OR'd into the request opcode on every reply frame. A reply
// whose opcode does not carry this bit is invalid.
const ReplyFlag uint16 = 0x8000

// Frame layout constants. All multi-byte fields are big-endian.
const (
	FrameLengthSize = 2  // the leading totalLength field
	FrameHeaderSize = 12 // header bytes after totalLength, before payload
	FrameFixedSize  = FrameLengthSize + FrameHeaderSize

	// Offsets within a full frame (including the length field)
	FrameOffsetTotalLength   = 0
	FrameOffsetOpcode        = 2
	FrameOffsetFlags         = 4
	FrameOffsetSequence      = 5
	FrameOffsetDestination   = 6
	FrameOffsetSource        = 8
	FrameOffsetTransactionID = 10
	FrameOffsetPayloadLength = 12
	FrameOffsetPayload       = 14

	// MaxPayloadLength bounds a single frame payload. totalLength is a u16
	// that excludes itself, so the payload can be at most 64K-12 bytes.
	MaxPayloadLength = 0xFFFF - FrameHeaderSize
)

// Frame flag bits
const (
	FlagCarriesCommand byte = 0x01
)

// Reply status codes (first payload byte of every reply frame)
const (
	StatusSuccess          byte = 0x00
	StatusFailure          byte = 0x01
	StatusBusy             byte = 0x02
	StatusLocked           byte = 0x03
	StatusSecurityRejected byte = 0x04
	StatusCRCMismatch      byte = 0x05
)

// Readiness handshake status values carried by DeviceStatusReport
const (
	StatusReportReady byte = 0x7F // anything below is a transitional state
)

// Capability descriptor entity types (our reply to DeviceStatusQuery)
const (
	EntityTypeProgrammer byte = 0x10
)

// Authentication payload layout
const (
	AuthSeedLength     = 8  // TEA block fed to the session key
	AuthResponseLength = 8  // encrypted seed sent in DeviceAuthKey
	SessionKeyLength   = 16 // four 32-bit TEA subkeys
	RadioKeyLength     = 32 // radio-supplied key wrapped during write unlock

	// DeviceSysMapBroadcast payload: prefix byte then 8-byte seed
	SysMapPayloadLength = 1 + AuthSeedLength

	// DeviceAuthKeyReply payload: status, assigned address (u16), prefix
	AuthKeyReplyDataLength = 3
)

// Read path constants
const (
	ReadModeDefault byte = 0x01

	// DefaultReadBatchSize is the largest number of non-indexed records
	// placed in one RecordRead request. Larger batches produce truncated
	// replies on several radio firmwares.
	DefaultReadBatchSize = 60

	// MaxReadBatchSize is the hard cap the request encoding allows
	// (entry count is a single byte).
	MaxReadBatchSize = 255
)

// Write path constants
const (
	DefaultTransferBlockSize = 1024
)
