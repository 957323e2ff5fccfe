package types

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDimensions = errors.New("matrix dimensions must be positive")
	ErrPixelCount        = errors.New("pixel count does not match dimensions")
	ErrPixelRange        = errors.New("pixel value out of range for depth")
)

// Depth is the number of intensity levels a pixel carries on the wire
type Depth uint8

const (
	BiLevel   Depth = 1 // 1 bit per pixel, packed MSB first
	Grayscale Depth = 8 // 1 byte per pixel
)

// String returns string representation of Depth
func (d Depth) String() string {
	switch d {
	case BiLevel:
		return "bi-level"
	case Grayscale:
		return "grayscale"
	default:
		return fmt.Sprintf("Depth(%d)", uint8(d))
	}
}

// MaxValue returns the largest pixel value allowed at this depth
func (d Depth) MaxValue() uint8 {
	if d == BiLevel {
		return 1
	}
	return 0xFF
}

// PixelMatrix is an immutable width x height grid of pixel intensities.
// 0 is off; the maximum is defined by Depth.
type PixelMatrix struct {
	width  int
	height int
	depth  Depth
	pixels []uint8 // row-major
}

// NewPixelMatrix creates a matrix from row-major pixel values.
// The slice is copied so later caller mutation cannot leak in.
func NewPixelMatrix(width, height int, depth Depth, pixels []uint8) (*PixelMatrix, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrInvalidDimensions
	}
	if depth != BiLevel && depth != Grayscale {
		return nil, fmt.Errorf("unsupported depth %d", depth)
	}
	if len(pixels) != width*height {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrPixelCount, len(pixels), width*height)
	}

	max := depth.MaxValue()
	data := make([]uint8, len(pixels))
	for i, p := range pixels {
		if p > max {
			return nil, fmt.Errorf("%w: pixel %d = %d", ErrPixelRange, i, p)
		}
		data[i] = p
	}

	return &PixelMatrix{width: width, height: height, depth: depth, pixels: data}, nil
}

// NewBlankMatrix creates an all-off matrix
func NewBlankMatrix(width, height int, depth Depth) (*PixelMatrix, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrInvalidDimensions
	}
	return NewPixelMatrix(width, height, depth, make([]uint8, width*height))
}

// Width returns the number of columns
func (m *PixelMatrix) Width() int { return m.width }

// Height returns the number of rows
func (m *PixelMatrix) Height() int { return m.height }

// Depth returns the pixel depth
func (m *PixelMatrix) Depth() Depth { return m.depth }

// At returns the pixel at column x, row y
func (m *PixelMatrix) At(x, y int) uint8 {
	return m.pixels[y*m.width+x]
}

// Row returns a copy of row y
func (m *PixelMatrix) Row(y int) []uint8 {
	row := make([]uint8, m.width)
	copy(row, m.pixels[y*m.width:(y+1)*m.width])
	return row
}

// WithPixel returns a copy of the matrix with one pixel changed
func (m *PixelMatrix) WithPixel(x, y int, v uint8) (*PixelMatrix, error) {
	if x < 0 || x >= m.width || y < 0 || y >= m.height {
		return nil, fmt.Errorf("pixel (%d,%d) outside %dx%d", x, y, m.width, m.height)
	}
	next, err := NewPixelMatrix(m.width, m.height, m.depth, m.pixels)
	if err != nil {
		return nil, err
	}
	if v > m.depth.MaxValue() {
		return nil, ErrPixelRange
	}
	next.pixels[y*m.width+x] = v
	return next, nil
}

// Equal reports whether two matrices hold the same pixels
func (m *PixelMatrix) Equal(o *PixelMatrix) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.width != o.width || m.height != o.height || m.depth != o.depth {
		return false
	}
	for i := range m.pixels {
		if m.pixels[i] != o.pixels[i] {
			return false
		}
	}
	return true
}
