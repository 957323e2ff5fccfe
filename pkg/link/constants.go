package link

import (
	"errors"
	"fmt"
	"time"
)

// GATT layout exposed by the display firmware
const (
	ServiceUUID    = "0000fa00-0000-1000-8000-00805f9b34fb"
	WriteCharUUID  = "0000fa02-0000-1000-8000-00805f9b34fb"
	NotifyCharUUID = "0000fa03-0000-1000-8000-00805f9b34fb"

	// DeviceNamePrefix is the advertised name prefix of supported displays
	DeviceNamePrefix = "LED_BLE_"
)

// Link sizing and timing defaults
const (
	DefaultMTU            = 20 // Usable ATT payload before MTU exchange
	DefaultConnectTimeout = 10 * time.Second
	DefaultAckTimeout     = 2 * time.Second
	DefaultResponseWait   = 3 * time.Second

	ackBufferSize          = 32
	notificationBufferSize = 32
)

// WriteMode selects between GATT write request and write command
type WriteMode int

const (
	WriteWithoutResponse WriteMode = iota
	WriteWithResponse
)

// String returns string representation of WriteMode
func (m WriteMode) String() string {
	switch m {
	case WriteWithoutResponse:
		return "WithoutResponse"
	case WriteWithResponse:
		return "WithResponse"
	default:
		return "Unknown"
	}
}

// Errors
var (
	ErrNotReady        = errors.New("session not ready")
	ErrAlreadyActive   = errors.New("session already connected")
	ErrLinkClosed      = errors.New("link closed")
	ErrServiceNotFound = errors.New("display service not found")
	ErrDeviceNotFound  = errors.New("device not found")
	ErrMTUUnavailable  = errors.New("mtu not available")
	ErrTransferPending = errors.New("no transfer lock held")

	// ErrWriteModeUnsupported is returned by backends that cannot write
	// with response on this platform
	ErrWriteModeUnsupported = fmt.Errorf("write with response: %w", errors.ErrUnsupported)
)
