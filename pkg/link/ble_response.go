//go:build darwin || windows

package link

// BLEWriteWithResponse reports whether the BLE backend can write with
// response. The WriteCompletionAck strategy depends on it.
const BLEWriteWithResponse = true

func (l *bleLink) writeWithResponse(p []byte) error {
	_, err := l.writeChar.Write(p)
	return err
}
