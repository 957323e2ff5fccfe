package main

import (
	"strings"
	"testing"
)

func TestParseBitmap(t *testing.T) {
	m, err := parseBitmap(strings.NewReader("; smiley\n.#.#\n\n....\n#..#\r\n.##.\n"))
	if err != nil {
		t.Fatalf("parseBitmap: %v", err)
	}
	if m.Width() != 4 || m.Height() != 4 {
		t.Fatalf("size %dx%d, want 4x4", m.Width(), m.Height())
	}
	if m.At(1, 0) != 1 || m.At(0, 0) != 0 || m.At(3, 2) != 1 {
		t.Errorf("pixels not parsed: %v %v", m.Row(0), m.Row(2))
	}
}

func TestParseBitmapErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", "\n; nothing\n"},
		{"ragged", "##\n#\n"},
		{"bad char", "#?#\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseBitmap(strings.NewReader(tt.input)); err == nil {
				t.Errorf("expected error for %q", tt.input)
			}
		})
	}
}
