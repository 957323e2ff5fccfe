package supervisor

import (
	"fmt"
	"strings"
	"time"

	"avaneesh/ipixel-go/pkg/link"
	"avaneesh/ipixel-go/pkg/retry"
)

// QueuePolicy selects what happens to sends while reconnecting
type QueuePolicy int

const (
	// QueueWhileReconnecting holds sends in a bounded queue, evicting the
	// oldest when full
	QueueWhileReconnecting QueuePolicy = iota
	// RejectWhileReconnecting fails sends immediately
	RejectWhileReconnecting
)

// String returns string representation of QueuePolicy
func (p QueuePolicy) String() string {
	switch p {
	case QueueWhileReconnecting:
		return "queue"
	case RejectWhileReconnecting:
		return "reject"
	default:
		return "unknown"
	}
}

// ParseQueuePolicy resolves a policy by config name
func ParseQueuePolicy(s string) (QueuePolicy, error) {
	switch strings.ToLower(s) {
	case "", "queue":
		return QueueWhileReconnecting, nil
	case "reject":
		return RejectWhileReconnecting, nil
	default:
		return 0, fmt.Errorf("unknown queue policy %q", s)
	}
}

// Defaults
const (
	DefaultQueueDepth        = 8
	DefaultReconnectAttempts = 5
)

// Config contains configuration for the supervisor
type Config struct {
	// Address of the device
	Address string

	// Reconnect is the backoff between connection attempts.
	// MaxAttempts caps attempts per outage.
	Reconnect retry.Policy

	QueuePolicy QueuePolicy
	QueueDepth  int

	// StatusCallback is optional
	StatusCallback StatusCallback

	// LinkStateCallback receives every session transition. Optional.
	LinkStateCallback link.StateCallback
}

// DefaultConfig returns default supervisor configuration
func DefaultConfig() Config {
	return Config{
		Reconnect: retry.Policy{
			Base:        500 * time.Millisecond,
			Multiplier:  retry.DefaultMultiplier,
			Cap:         10 * time.Second,
			MaxAttempts: DefaultReconnectAttempts,
			Jitter:      0.2,
		},
		QueuePolicy: QueueWhileReconnecting,
		QueueDepth:  DefaultQueueDepth,
	}
}
