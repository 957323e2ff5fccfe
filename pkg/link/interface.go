package link

import (
	"context"
	"time"

	"avaneesh/ipixel-go/pkg/types"
)

// Dialer resolves an address and establishes the physical connection.
// Implementations exist for BLE and for the QUIC bridge; tests use the
// in-memory simulator.
type Dialer interface {
	// Dial connects to the device at address. It must honour ctx.
	Dial(ctx context.Context, address string) (Link, error)
}

// Link is one established physical connection. All transport I/O of the
// module goes through this interface.
type Link interface {
	// Discover resolves the display service and its characteristics.
	// It returns ErrServiceNotFound when the device does not expose them.
	Discover(ctx context.Context) error

	// MTU returns the usable payload per write after MTU negotiation
	MTU() (int, error)

	// Write sends one packet to the write characteristic
	Write(ctx context.Context, p []byte, mode WriteMode) error

	// Notifications delivers packets from the notify characteristic.
	// The channel is never closed; use Disconnected to detect loss.
	Notifications() <-chan []byte

	// Disconnected is closed when the link drops for any reason,
	// including Close
	Disconnected() <-chan struct{}

	// Close tears the link down. It is safe to call more than once.
	Close() error
}

// StateCallback is called when session state changes
type StateCallback func(state types.LinkState, err error)

// SessionConfig contains configuration for a link session
type SessionConfig struct {
	ConnectTimeout time.Duration // Bound on dial + discovery
	AckTimeout     time.Duration // Per-attempt wait for an ack
	FallbackMTU    int           // Used when MTU negotiation fails
	MTUCeiling     int           // Caps the negotiated MTU, 0 = none
	Ack            AckStrategy   // How chunk delivery is confirmed
	StateCallback  StateCallback // Callback for state changes
}

// DefaultSessionConfig returns default configuration
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ConnectTimeout: DefaultConnectTimeout,
		AckTimeout:     DefaultAckTimeout,
		FallbackMTU:    DefaultMTU,
		Ack:            NotificationAck{},
	}
}
