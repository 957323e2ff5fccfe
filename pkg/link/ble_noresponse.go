//go:build !darwin && !windows

package link

// BLEWriteWithResponse reports whether the BLE backend can write with
// response. BlueZ and the nRF SoftDevice backends only write without
// response, so displays there are acknowledged by notification.
const BLEWriteWithResponse = false

func (l *bleLink) writeWithResponse(p []byte) error {
	return ErrWriteModeUnsupported
}
