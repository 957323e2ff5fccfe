package types

import (
	"errors"
	"fmt"
	"time"
)

// Brightness limits accepted by the device firmware
const (
	MinBrightness = 1
	MaxBrightness = 100
)

// MaxClockStyle is the highest clock face the firmware knows
const MaxClockStyle = 8

var (
	ErrNilMatrix         = errors.New("display command has no matrix")
	ErrInvalidBrightness = errors.New("brightness must be between 1 and 100")
	ErrInvalidClockStyle = errors.New("clock style must be between 0 and 8")
	ErrInvalidTime       = errors.New("time outside the device calendar")
	ErrUnknownCommand    = errors.New("unknown command kind")
)

// ClockMode switches the panel to its built-in clock face
type ClockMode struct {
	Style    uint8     // Clock face, 0 to MaxClockStyle
	Date     time.Time // Date shown under the clock, zero for today
	ShowDate bool
	Format24 bool
}

// CommandKind tags the variant held by a Command
type CommandKind uint8

const (
	KindDisplayBitmap CommandKind = iota + 1
	KindSetBrightness
	KindSetPower
	KindQueryDeviceInfo
	KindSyncTime
	KindSetClockMode
)

// String returns string representation of CommandKind
func (k CommandKind) String() string {
	switch k {
	case KindDisplayBitmap:
		return "DisplayBitmap"
	case KindSetBrightness:
		return "SetBrightness"
	case KindSetPower:
		return "SetPower"
	case KindQueryDeviceInfo:
		return "QueryDeviceInfo"
	case KindSyncTime:
		return "SyncTime"
	case KindSetClockMode:
		return "SetClockMode"
	default:
		return fmt.Sprintf("CommandKind(%d)", uint8(k))
	}
}

// Command is one logical instruction for the display.
// It is a tagged union: exactly one of the variant fields is meaningful,
// selected by Kind. Values are immutable once constructed.
type Command struct {
	kind       CommandKind
	matrix     *PixelMatrix
	brightness uint8
	on         bool
	at         time.Time
	clock      ClockMode
}

// NewDisplayBitmap creates a command that replaces the display contents
func NewDisplayBitmap(m *PixelMatrix) Command {
	return Command{kind: KindDisplayBitmap, matrix: m}
}

// NewSetBrightness creates a brightness command. Range checking is done by
// Validate so that a bad level surfaces as an encode error, not a panic.
func NewSetBrightness(level int) Command {
	c := Command{kind: KindSetBrightness}
	if level < 0 || level > 255 {
		// keep it out of range without wrapping around into a valid level
		c.brightness = 0
		return c
	}
	c.brightness = uint8(level)
	return c
}

// NewSetPower creates a power on/off command
func NewSetPower(on bool) Command {
	return Command{kind: KindSetPower, on: on}
}

// NewQueryDeviceInfo creates a command asking the device to report its
// panel geometry and firmware details
func NewQueryDeviceInfo() Command {
	return Command{kind: KindQueryDeviceInfo}
}

// NewSyncTime creates a command setting the device clock to t. The device
// keeps local wall time, so t is sent in its own location.
func NewSyncTime(t time.Time) Command {
	return Command{kind: KindSyncTime, at: t}
}

// NewSetClockMode creates a command showing the built-in clock face. A zero
// Date is replaced by the current date.
func NewSetClockMode(mode ClockMode) Command {
	if mode.Date.IsZero() {
		mode.Date = time.Now()
	}
	return Command{kind: KindSetClockMode, clock: mode}
}

// Kind returns the command variant
func (c Command) Kind() CommandKind {
	return c.kind
}

// Matrix returns the bitmap of a DisplayBitmap command, nil otherwise
func (c Command) Matrix() *PixelMatrix {
	return c.matrix
}

// Brightness returns the level of a SetBrightness command
func (c Command) Brightness() uint8 {
	return c.brightness
}

// On returns the requested power state of a SetPower command
func (c Command) On() bool {
	return c.on
}

// Time returns the time of a SyncTime command
func (c Command) Time() time.Time {
	return c.at
}

// ClockMode returns the settings of a SetClockMode command
func (c Command) ClockMode() ClockMode {
	return c.clock
}

// Validate checks that the command is well formed
func (c Command) Validate() error {
	switch c.kind {
	case KindDisplayBitmap:
		if c.matrix == nil {
			return ErrNilMatrix
		}
		return nil
	case KindSetBrightness:
		if c.brightness < MinBrightness || c.brightness > MaxBrightness {
			return ErrInvalidBrightness
		}
		return nil
	case KindSetPower, KindQueryDeviceInfo:
		return nil
	case KindSyncTime:
		return validYear(c.at)
	case KindSetClockMode:
		if c.clock.Style > MaxClockStyle {
			return ErrInvalidClockStyle
		}
		return validYear(c.clock.Date)
	default:
		return ErrUnknownCommand
	}
}

// String returns a short description used in log lines
func (c Command) String() string {
	switch c.kind {
	case KindDisplayBitmap:
		if c.matrix == nil {
			return "DisplayBitmap(nil)"
		}
		return fmt.Sprintf("DisplayBitmap(%dx%d %s)", c.matrix.Width(), c.matrix.Height(), c.matrix.Depth())
	case KindSetBrightness:
		return fmt.Sprintf("SetBrightness(%d)", c.brightness)
	case KindSetPower:
		return fmt.Sprintf("SetPower(%t)", c.on)
	case KindSyncTime:
		return fmt.Sprintf("SyncTime(%s)", c.at.Format(time.DateTime))
	case KindSetClockMode:
		return fmt.Sprintf("SetClockMode(style=%d, 24h=%t, date=%t)", c.clock.Style, c.clock.Format24, c.clock.ShowDate)
	default:
		return c.kind.String()
	}
}

// validYear bounds t to what fits the two byte year field
func validYear(t time.Time) error {
	if y := t.Year(); y < 2000 || y > 0xFFFF {
		return fmt.Errorf("%w: year %d", ErrInvalidTime, y)
	}
	return nil
}
