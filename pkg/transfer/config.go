package transfer

import (
	"time"

	"github.com/google/uuid"

	"avaneesh/ipixel-go/pkg/retry"
)

// DefaultTransferDeadline caps one send including all retries
const DefaultTransferDeadline = 30 * time.Second

// Progress reports an acknowledged chunk
type Progress struct {
	ID    uuid.UUID
	Sent  int // Chunks acknowledged so far
	Total int
}

// ProgressCallback is called after each acknowledged chunk
type ProgressCallback func(Progress)

// Config contains configuration for the coordinator
type Config struct {
	// Retry bounds the attempts per chunk. MaxAttempts counts the first
	// write, so 3 means one write and up to two retries.
	Retry retry.Policy

	// TransferDeadline caps the whole send. Zero disables the cap.
	TransferDeadline time.Duration

	// OnProgress is optional
	OnProgress ProgressCallback
}

// DefaultConfig returns default coordinator configuration
func DefaultConfig() Config {
	return Config{
		Retry:            retry.DefaultPolicy(),
		TransferDeadline: DefaultTransferDeadline,
	}
}
