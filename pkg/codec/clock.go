package codec

import (
	"encoding/binary"
	"fmt"
	"time"

	"avaneesh/ipixel-go/pkg/types"
)

// EncodeTime serializes wall clock time as
// [year:2 LE][month][day][hour][minute][second][weekday], weekday 0 = Sunday.
func EncodeTime(t time.Time) []byte {
	p := make([]byte, TimePayloadSize)
	binary.LittleEndian.PutUint16(p, uint16(t.Year()))
	p[2] = byte(t.Month())
	p[3] = byte(t.Day())
	p[4] = byte(t.Hour())
	p[5] = byte(t.Minute())
	p[6] = byte(t.Second())
	p[7] = byte(t.Weekday())
	return p
}

// ParseTime is the inverse of EncodeTime. The result is in time.Local.
func ParseTime(p []byte) (time.Time, error) {
	if len(p) != TimePayloadSize {
		return time.Time{}, fmt.Errorf("%w: time payload %d bytes", ErrLengthMismatch, len(p))
	}
	month, day := time.Month(p[2]), int(p[3])
	if month < time.January || month > time.December || day < 1 || day > 31 ||
		p[4] > 23 || p[5] > 59 || p[6] > 59 {
		return time.Time{}, fmt.Errorf("%w: % X", ErrInvalidCommand, p)
	}
	return time.Date(int(binary.LittleEndian.Uint16(p)), month, day,
		int(p[4]), int(p[5]), int(p[6]), 0, time.Local), nil
}

// EncodeClockMode serializes clock settings as
// [style][show_date][format_24][year:2 LE][month][day].
func EncodeClockMode(m types.ClockMode) []byte {
	p := make([]byte, ClockPayloadSize)
	p[0] = m.Style
	p[1] = boolByte(m.ShowDate)
	p[2] = boolByte(m.Format24)
	binary.LittleEndian.PutUint16(p[3:], uint16(m.Date.Year()))
	p[5] = byte(m.Date.Month())
	p[6] = byte(m.Date.Day())
	return p
}

// ParseClockMode is the inverse of EncodeClockMode
func ParseClockMode(p []byte) (types.ClockMode, error) {
	if len(p) != ClockPayloadSize {
		return types.ClockMode{}, fmt.Errorf("%w: clock payload %d bytes", ErrLengthMismatch, len(p))
	}
	if p[0] > types.MaxClockStyle {
		return types.ClockMode{}, fmt.Errorf("%w: style %d", ErrInvalidCommand, p[0])
	}
	month := time.Month(p[5])
	if month < time.January || month > time.December || p[6] < 1 || p[6] > 31 {
		return types.ClockMode{}, fmt.Errorf("%w: date % X", ErrInvalidCommand, p[3:])
	}
	return types.ClockMode{
		Style:    p[0],
		ShowDate: p[1] != 0,
		Format24: p[2] != 0,
		Date:     time.Date(int(binary.LittleEndian.Uint16(p[3:])), month, int(p[6]), 0, 0, 0, 0, time.Local),
	}, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
