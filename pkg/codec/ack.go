package codec

import (
	"encoding/binary"
	"fmt"

	"avaneesh/ipixel-go/pkg/types"
)

// Ack is a parsed acknowledgement notification from the device
type Ack struct {
	Status AckStatus
	Index  uint16 // Chunk index the ack refers to
}

// String returns string representation of Ack
func (a Ack) String() string {
	return fmt.Sprintf("Ack{%s, index=%d}", a.Status, a.Index)
}

// EncodeAck builds the acknowledgement frame a device sends for a chunk
func (c *Codec) EncodeAck(a Ack) (*Frame, error) {
	payload := make([]byte, AckPayloadSize)
	payload[0] = byte(a.Status)
	binary.LittleEndian.PutUint16(payload[1:], a.Index)
	return c.EncodeRaw(CodeAck, payload)
}

// ParseAck extracts an Ack from a decoded frame
func ParseAck(f *Frame) (Ack, error) {
	if f.Code != CodeAck {
		return Ack{}, fmt.Errorf("%w: %s", ErrUnexpectedCode, f.Code)
	}
	if len(f.Payload) != AckPayloadSize {
		return Ack{}, fmt.Errorf("%w: ack payload %d bytes", ErrLengthMismatch, len(f.Payload))
	}
	return Ack{
		Status: AckStatus(f.Payload[0]),
		Index:  binary.LittleEndian.Uint16(f.Payload[1:]),
	}, nil
}

// EncodeDeviceInfo builds the response frame for a device info query.
//
// Payload layout:
//
//	[2B] width (LE)
//	[2B] height (LE)
//	[1B] device type
//	[1B] LED type
//	[1B] MCU major version
//	[1B] MCU minor version
//	[1B] WiFi present (0/1)
func (c *Codec) EncodeDeviceInfo(info types.DeviceInfo, mcuMajor, mcuMinor uint8) (*Frame, error) {
	payload := make([]byte, InfoPayloadSize)
	binary.LittleEndian.PutUint16(payload[0:], uint16(info.Width))
	binary.LittleEndian.PutUint16(payload[2:], uint16(info.Height))
	payload[4] = info.DeviceType
	payload[5] = info.LEDType
	payload[6] = mcuMajor
	payload[7] = mcuMinor
	if info.HasWiFi {
		payload[8] = 1
	}
	return c.EncodeRaw(CodeDeviceInfo, payload)
}

// ParseDeviceInfo extracts device info from a decoded response frame
func ParseDeviceInfo(f *Frame) (types.DeviceInfo, error) {
	if f.Code != CodeDeviceInfo {
		return types.DeviceInfo{}, fmt.Errorf("%w: %s", ErrUnexpectedCode, f.Code)
	}
	p := f.Payload
	if len(p) != InfoPayloadSize {
		return types.DeviceInfo{}, fmt.Errorf("%w: device info payload %d bytes", ErrLengthMismatch, len(p))
	}
	return types.DeviceInfo{
		Width:      int(binary.LittleEndian.Uint16(p[0:])),
		Height:     int(binary.LittleEndian.Uint16(p[2:])),
		DeviceType: p[4],
		LEDType:    p[5],
		MCUVersion: fmt.Sprintf("%d.%d", p[6], p[7]),
		HasWiFi:    p[8] != 0,
		Reported:   true,
	}, nil
}
