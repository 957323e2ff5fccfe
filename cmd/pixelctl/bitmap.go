package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"avaneesh/ipixel-go/pkg/types"
)

// readBitmapFile loads a bi-level bitmap drawn as text
func readBitmapFile(path string) (*types.PixelMatrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseBitmap(f)
}

// parseBitmap reads one row per line. '#', '*', 'X' and '1' are lit, '.',
// '0' and space are off. Blank lines and lines starting with ';' are
// skipped; every row must have the same width.
func parseBitmap(r io.Reader) (*types.PixelMatrix, error) {
	var pixels []uint8
	width, height := 0, 0

	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" || strings.HasPrefix(text, ";") {
			continue
		}
		if width == 0 {
			width = len(text)
		} else if len(text) != width {
			return nil, fmt.Errorf("line %d: width %d, want %d", line, len(text), width)
		}
		for i, ch := range []byte(text) {
			switch ch {
			case '#', '*', 'X', '1':
				pixels = append(pixels, 1)
			case '.', '0', ' ':
				pixels = append(pixels, 0)
			default:
				return nil, fmt.Errorf("line %d column %d: unexpected %q", line, i+1, ch)
			}
		}
		height++
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if height == 0 {
		return nil, fmt.Errorf("empty bitmap")
	}
	return types.NewPixelMatrix(width, height, types.BiLevel, pixels)
}
