package codec

import (
	"errors"
	"fmt"
)

// Frame layout (after the variant-specific header bytes)
const (
	CodeSize         = 1      // Command code
	LengthSize       = 2      // Payload length, little-endian
	MaxPayloadSize   = 0xFFFF // Largest payload the length field can carry
	BitmapFieldsLen  = 5      // width(2) + height(2) + bits per pixel(1)
	AckPayloadSize   = 3      // status(1) + chunk index(2)
	InfoPayloadSize  = 9      // see EncodeDeviceInfo
	TimePayloadSize  = 8      // see EncodeTime
	ClockPayloadSize = 7      // see EncodeClockMode

	// FrameAckIndex is the index carried by frame level acknowledgements
	FrameAckIndex uint16 = 0xFFFF
)

// CommandCode identifies the frame type on the wire
type CommandCode uint8

const (
	// Host to device
	CodeDisplayBitmap   CommandCode = 0x01
	CodeSetBrightness   CommandCode = 0x02
	CodeSetPower        CommandCode = 0x03
	CodeQueryDeviceInfo CommandCode = 0x04
	CodeSyncTime        CommandCode = 0x05
	CodeSetClockMode    CommandCode = 0x06

	// Device to host
	CodeAck        CommandCode = 0x80
	CodeDeviceInfo CommandCode = 0x84
)

// String returns string representation of CommandCode
func (c CommandCode) String() string {
	switch c {
	case CodeDisplayBitmap:
		return "DisplayBitmap"
	case CodeSetBrightness:
		return "SetBrightness"
	case CodeSetPower:
		return "SetPower"
	case CodeQueryDeviceInfo:
		return "QueryDeviceInfo"
	case CodeSyncTime:
		return "SyncTime"
	case CodeSetClockMode:
		return "SetClockMode"
	case CodeAck:
		return "Ack"
	case CodeDeviceInfo:
		return "DeviceInfo"
	default:
		return fmt.Sprintf("Code(0x%02X)", uint8(c))
	}
}

// AckStatus is the first payload byte of an acknowledgement frame
type AckStatus uint8

const (
	AckChunkOK       AckStatus = 0x00 // Chunk accepted
	AckFrameComplete AckStatus = 0x01 // All chunks received and frame applied
	AckOutOfOrder    AckStatus = 0x10 // Chunk index was not the expected one
	AckDuplicate     AckStatus = 0x11 // Chunk index already consumed
	AckBadChecksum   AckStatus = 0x12 // Reassembled frame failed validation
	AckBusy          AckStatus = 0x13 // Device cannot accept data right now
	AckUnsupported   AckStatus = 0x14 // Command code not supported by firmware
)

// IsPositive returns true for statuses that acknowledge progress
func (s AckStatus) IsPositive() bool {
	return s == AckChunkOK || s == AckFrameComplete
}

// String returns string representation of AckStatus
func (s AckStatus) String() string {
	switch s {
	case AckChunkOK:
		return "ChunkOK"
	case AckFrameComplete:
		return "FrameComplete"
	case AckOutOfOrder:
		return "OutOfOrder"
	case AckDuplicate:
		return "Duplicate"
	case AckBadChecksum:
		return "BadChecksum"
	case AckBusy:
		return "Busy"
	case AckUnsupported:
		return "Unsupported"
	default:
		return fmt.Sprintf("AckStatus(0x%02X)", uint8(s))
	}
}

// Errors
var (
	ErrMalformedHeader  = errors.New("malformed frame header")
	ErrLengthMismatch   = errors.New("frame length mismatch")
	ErrChecksumMismatch = errors.New("frame checksum mismatch")

	ErrInvalidCommand    = errors.New("invalid command")
	ErrInvalidBrightness = errors.New("brightness out of range")
	ErrPayloadTooLarge   = errors.New("payload exceeds frame length field")
	ErrMatrixTooLarge    = errors.New("matrix exceeds device capability")
	ErrUnexpectedCode    = errors.New("unexpected command code")
)

// EncodeError reports a command that cannot be turned into a frame.
// It is a programmer/configuration error and is never retried.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string {
	return "encode: " + e.Err.Error()
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// DecodeError reports bytes that are not a valid frame for the variant
type DecodeError struct {
	Err    error
	Offset int // Byte offset where validation failed
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode at offset %d: %v", e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
