package types

import (
	"fmt"

	"github.com/google/uuid"
)

// TransferStatus is the terminal outcome of one send
type TransferStatus int

const (
	StatusSuccess TransferStatus = iota
	StatusTimeout
	StatusLinkLost
	StatusRejected
	StatusCancelled
)

// String returns string representation of TransferStatus
func (s TransferStatus) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusTimeout:
		return "Timeout"
	case StatusLinkLost:
		return "LinkLost"
	case StatusRejected:
		return "Rejected"
	case StatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// TransferResult is produced exactly once per send and never shared
type TransferResult struct {
	ID     uuid.UUID      // Transfer identifier, also used in log lines
	Status TransferStatus // Terminal outcome
	Reason string         // Human readable reason for Rejected (and context for others)
	Err    error          // Underlying error, nil on success

	TotalChunks int // Chunks the frame was split into
	ChunksSent  int // Chunks acknowledged before the transfer ended
	Attempts    int // Write attempts across all chunks
}

// IsSuccess returns true if the transfer completed
func (r TransferResult) IsSuccess() bool {
	return r.Status == StatusSuccess
}

// String returns a compact representation for logging
func (r TransferResult) String() string {
	if r.Reason != "" {
		return fmt.Sprintf("Transfer{%s %s(%s) chunks=%d/%d attempts=%d}",
			r.ID, r.Status, r.Reason, r.ChunksSent, r.TotalChunks, r.Attempts)
	}
	return fmt.Sprintf("Transfer{%s %s chunks=%d/%d attempts=%d}",
		r.ID, r.Status, r.ChunksSent, r.TotalChunks, r.Attempts)
}

// LinkState is the lifecycle state of one physical connection
type LinkState int

const (
	LinkDisconnected LinkState = iota
	LinkConnecting
	LinkResolving
	LinkReady
	LinkTransferring
	LinkFaulted
)

// String returns string representation of LinkState
func (s LinkState) String() string {
	switch s {
	case LinkDisconnected:
		return "Disconnected"
	case LinkConnecting:
		return "Connecting"
	case LinkResolving:
		return "Resolving"
	case LinkReady:
		return "Ready"
	case LinkTransferring:
		return "Transferring"
	case LinkFaulted:
		return "Faulted"
	default:
		return "Unknown"
	}
}

// DeviceInfo describes the panel reported by the device
type DeviceInfo struct {
	Width      int
	Height     int
	DeviceType uint8
	LEDType    uint8
	MCUVersion string
	HasWiFi    bool
	Reported   bool // false when filled from defaults after a failed query
}

// DefaultDeviceInfo is used when the device does not answer an info query
func DefaultDeviceInfo() DeviceInfo {
	return DeviceInfo{
		Width:      64,
		Height:     16,
		MCUVersion: "Unknown",
	}
}
