package codec

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"avaneesh/ipixel-go/pkg/types"
)

func TestEncodeSyncTime(t *testing.T) {
	at := time.Date(2024, time.March, 9, 14, 5, 30, 0, time.Local) // a Saturday
	frame, err := New(VariantStandard).Encode(types.NewSyncTime(at))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if frame.Code != CodeSyncTime {
		t.Errorf("code = %s, want SyncTime", frame.Code)
	}
	want := []byte{0xE8, 0x07, 3, 9, 14, 5, 30, 6}
	if !bytes.Equal(frame.Payload, want) {
		t.Errorf("payload = % X, want % X", frame.Payload, want)
	}

	back, err := ParseTime(frame.Payload)
	if err != nil {
		t.Fatalf("ParseTime: %v", err)
	}
	if !back.Equal(at) {
		t.Errorf("ParseTime = %v, want %v", back, at)
	}
}

func TestEncodeClockMode(t *testing.T) {
	mode := types.ClockMode{
		Style:    3,
		Date:     time.Date(2025, time.December, 31, 0, 0, 0, 0, time.Local),
		ShowDate: true,
	}
	frame, err := New(VariantCRC16).Encode(types.NewSetClockMode(mode))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	want := []byte{3, 1, 0, 0xE9, 0x07, 12, 31}
	if frame.Code != CodeSetClockMode || !bytes.Equal(frame.Payload, want) {
		t.Fatalf("got %s % X, want SetClockMode % X", frame.Code, frame.Payload, want)
	}

	back, err := ParseClockMode(frame.Payload)
	if err != nil {
		t.Fatalf("ParseClockMode: %v", err)
	}
	if back.Style != 3 || !back.ShowDate || back.Format24 || !back.Date.Equal(mode.Date) {
		t.Errorf("ParseClockMode = %+v", back)
	}
}

func TestClockModeDefaultsToToday(t *testing.T) {
	cmd := types.NewSetClockMode(types.ClockMode{Style: 1})
	if y, m, d := cmd.ClockMode().Date.Date(); y != time.Now().Year() || m != time.Now().Month() || d < 1 {
		t.Errorf("date = %v, want today", cmd.ClockMode().Date)
	}
}

func TestParseClockPayloadErrors(t *testing.T) {
	tests := []struct {
		name  string
		parse func() error
		want  error
	}{
		{"time short", func() error { _, err := ParseTime([]byte{1, 2}); return err }, ErrLengthMismatch},
		{"time month", func() error { _, err := ParseTime([]byte{0xE8, 0x07, 13, 1, 0, 0, 0, 0}); return err }, ErrInvalidCommand},
		{"time hour", func() error { _, err := ParseTime([]byte{0xE8, 0x07, 1, 1, 24, 0, 0, 0}); return err }, ErrInvalidCommand},
		{"clock short", func() error { _, err := ParseClockMode([]byte{1}); return err }, ErrLengthMismatch},
		{"clock style", func() error { _, err := ParseClockMode([]byte{9, 0, 0, 0xE8, 0x07, 1, 1}); return err }, ErrInvalidCommand},
		{"clock day", func() error { _, err := ParseClockMode([]byte{1, 0, 0, 0xE8, 0x07, 1, 0}); return err }, ErrInvalidCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.parse(); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}
