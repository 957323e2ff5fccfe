package main

import (
	"fmt"
	"strconv"

	"avaneesh/ipixel-go/pkg/types"
)

// parseClockArgs reads "STYLE [24h] [date]"
func parseClockArgs(args []string) (types.ClockMode, error) {
	var mode types.ClockMode
	if len(args) == 0 {
		return mode, fmt.Errorf("usage: clock 0-%d [24h] [date]", types.MaxClockStyle)
	}
	style, err := strconv.ParseUint(args[0], 10, 8)
	if err != nil || style > types.MaxClockStyle {
		return mode, fmt.Errorf("bad clock style %q", args[0])
	}
	mode.Style = uint8(style)

	for _, opt := range args[1:] {
		switch opt {
		case "24h":
			mode.Format24 = true
		case "date":
			mode.ShowDate = true
		default:
			return mode, fmt.Errorf("unknown clock option %q", opt)
		}
	}
	return mode, nil
}
