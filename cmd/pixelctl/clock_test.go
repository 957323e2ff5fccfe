package main

import "testing"

func TestParseClockArgs(t *testing.T) {
	mode, err := parseClockArgs([]string{"3", "date", "24h"})
	if err != nil {
		t.Fatalf("parseClockArgs: %v", err)
	}
	if mode.Style != 3 || !mode.ShowDate || !mode.Format24 {
		t.Errorf("got %+v", mode)
	}
	if !mode.Date.IsZero() {
		t.Errorf("date should default to today on send, got %v", mode.Date)
	}
}

func TestParseClockArgsErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing style", nil},
		{"style too high", []string{"9"}},
		{"not a number", []string{"x"}},
		{"unknown option", []string{"1", "12h"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseClockArgs(tt.args); err == nil {
				t.Errorf("expected error for %v", tt.args)
			}
		})
	}
}
