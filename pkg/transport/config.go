package transport

// Config holds configuration for the chunk layer
type Config struct {
	// MTUCeiling caps the usable MTU regardless of the
	// negotiated MTU. Zero means no cap.
	MTUCeiling int

	// MaxReassemblySize is the maximum buffer size for device side reassembly
	// Default: 8192 bytes
	MaxReassemblySize int
}

// DefaultConfig returns default chunk layer configuration
func DefaultConfig() Config {
	return Config{
		MTUCeiling:        0,
		MaxReassemblySize: DefaultMaxReassemblySize,
	}
}

// ChunkPayload returns the usable chunk payload for a link MTU: the smaller
// of mtu and the ceiling, minus the chunk header.
func (c Config) ChunkPayload(mtu int) int {
	if c.MTUCeiling > 0 && c.MTUCeiling < mtu {
		mtu = c.MTUCeiling
	}
	return mtu - HeaderSize
}
