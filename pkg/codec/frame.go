package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"avaneesh/ipixel-go/pkg/types"
)

// Frame is one fully encoded protocol command
type Frame struct {
	Code     CommandCode // Command code
	Payload  []byte      // Payload without length or checksum
	Checksum []byte      // Trailer as computed over header, code, length and payload

	raw []byte // Wire bytes
}

// Bytes returns the wire representation of the frame
func (f *Frame) Bytes() []byte {
	return f.raw
}

// Len returns the wire length of the frame
func (f *Frame) Len() int {
	return len(f.raw)
}

// String returns a string representation of the frame
func (f *Frame) String() string {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("Frame{Code=%s, ", f.Code))
	buf.WriteString(fmt.Sprintf("PayloadLen=%d, ", len(f.Payload)))
	buf.WriteString(fmt.Sprintf("Checksum=% X}", f.Checksum))
	return buf.String()
}

// Codec encodes and decodes frames for one device variant.
// It holds no mutable state and is safe for concurrent use.
type Codec struct {
	variant Variant
}

// New creates a codec for the given variant
func New(v Variant) *Codec {
	return &Codec{variant: v}
}

// Variant returns the variant the codec was built for
func (c *Codec) Variant() Variant {
	return c.variant
}

// Encode serializes a command into a frame
func (c *Codec) Encode(cmd types.Command) (*Frame, error) {
	if err := cmd.Validate(); err != nil {
		switch err {
		case types.ErrInvalidBrightness:
			return nil, &EncodeError{Err: fmt.Errorf("%w: %d", ErrInvalidBrightness, cmd.Brightness())}
		default:
			return nil, &EncodeError{Err: fmt.Errorf("%w: %w", ErrInvalidCommand, err)}
		}
	}

	var code CommandCode
	var payload []byte

	switch cmd.Kind() {
	case types.KindDisplayBitmap:
		m := cmd.Matrix()
		if m.Width() > c.variant.MaxWidth || m.Height() > c.variant.MaxHeight {
			return nil, &EncodeError{Err: fmt.Errorf("%w: %dx%d > %dx%d",
				ErrMatrixTooLarge, m.Width(), m.Height(), c.variant.MaxWidth, c.variant.MaxHeight)}
		}
		code = CodeDisplayBitmap
		payload = EncodeBitmap(m)
	case types.KindSetBrightness:
		code = CodeSetBrightness
		payload = []byte{cmd.Brightness()}
	case types.KindSetPower:
		code = CodeSetPower
		payload = []byte{boolByte(cmd.On())}
	case types.KindQueryDeviceInfo:
		code = CodeQueryDeviceInfo
	case types.KindSyncTime:
		code = CodeSyncTime
		payload = EncodeTime(cmd.Time())
	case types.KindSetClockMode:
		code = CodeSetClockMode
		payload = EncodeClockMode(cmd.ClockMode())
	}

	return c.EncodeRaw(code, payload)
}

// EncodeRaw builds a frame from a code and an already serialized payload
func (c *Codec) EncodeRaw(code CommandCode, payload []byte) (*Frame, error) {
	if len(payload) > MaxPayloadSize {
		return nil, &EncodeError{Err: fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))}
	}

	v := c.variant
	size := v.Overhead() + len(payload)
	raw := make([]byte, 0, size)
	raw = append(raw, v.Header...)
	raw = append(raw, byte(code))
	raw = binary.LittleEndian.AppendUint16(raw, uint16(len(payload)))
	raw = append(raw, payload...)
	body := len(raw)
	raw = v.Checksum.Append(raw, raw)

	payloadStart := len(v.Header) + CodeSize + LengthSize
	return &Frame{
		Code:     code,
		Payload:  raw[payloadStart:body],
		Checksum: raw[body:],
		raw:      raw,
	}, nil
}

// Decode parses and validates wire bytes. The slice must hold exactly one frame.
func (c *Codec) Decode(data []byte) (*Frame, error) {
	v := c.variant
	hdr := len(v.Header)

	if len(data) < hdr+CodeSize+LengthSize {
		return nil, &DecodeError{Err: ErrMalformedHeader, Offset: len(data)}
	}
	if !bytes.Equal(data[:hdr], v.Header) {
		return nil, &DecodeError{Err: ErrMalformedHeader, Offset: 0}
	}

	length := int(binary.LittleEndian.Uint16(data[hdr+CodeSize:]))
	expected := v.Overhead() + length
	if len(data) != expected {
		return nil, &DecodeError{
			Err:    fmt.Errorf("%w: length field %d implies %d bytes, got %d", ErrLengthMismatch, length, expected, len(data)),
			Offset: hdr + CodeSize,
		}
	}

	body := expected - v.Checksum.Size()
	if !v.Checksum.Verify(data[:body], data[body:]) {
		return nil, &DecodeError{Err: ErrChecksumMismatch, Offset: body}
	}

	raw := make([]byte, len(data))
	copy(raw, data)
	payloadStart := hdr + CodeSize + LengthSize

	return &Frame{
		Code:     CommandCode(raw[hdr]),
		Payload:  raw[payloadStart:body],
		Checksum: raw[body:],
		raw:      raw,
	}, nil
}

// EncodeBitmap serializes a matrix as [width][height][bpp][row-major pixels].
// Bi-level rows are packed MSB first and padded to a whole byte.
func EncodeBitmap(m *types.PixelMatrix) []byte {
	w, h := m.Width(), m.Height()
	out := make([]byte, BitmapFieldsLen, BitmapFieldsLen+BitmapDataSize(w, h, m.Depth()))
	binary.LittleEndian.PutUint16(out[0:], uint16(w))
	binary.LittleEndian.PutUint16(out[2:], uint16(h))
	out[4] = byte(m.Depth())

	if m.Depth() == types.Grayscale {
		for y := 0; y < h; y++ {
			out = append(out, m.Row(y)...)
		}
		return out
	}

	rowBytes := (w + 7) / 8
	for y := 0; y < h; y++ {
		row := make([]byte, rowBytes)
		for x := 0; x < w; x++ {
			if m.At(x, y) != 0 {
				row[x/8] |= 0x80 >> (x % 8)
			}
		}
		out = append(out, row...)
	}
	return out
}

// DecodeBitmap is the inverse of EncodeBitmap
func DecodeBitmap(payload []byte) (*types.PixelMatrix, error) {
	if len(payload) < BitmapFieldsLen {
		return nil, fmt.Errorf("%w: bitmap payload %d bytes", ErrLengthMismatch, len(payload))
	}
	w := int(binary.LittleEndian.Uint16(payload[0:]))
	h := int(binary.LittleEndian.Uint16(payload[2:]))
	depth := types.Depth(payload[4])
	data := payload[BitmapFieldsLen:]

	if len(data) != BitmapDataSize(w, h, depth) {
		return nil, fmt.Errorf("%w: bitmap data %d bytes for %dx%d %s", ErrLengthMismatch, len(data), w, h, depth)
	}

	pixels := make([]uint8, 0, w*h)
	switch depth {
	case types.Grayscale:
		pixels = append(pixels, data...)
	case types.BiLevel:
		rowBytes := (w + 7) / 8
		for y := 0; y < h; y++ {
			row := data[y*rowBytes : (y+1)*rowBytes]
			for x := 0; x < w; x++ {
				if row[x/8]&(0x80>>(x%8)) != 0 {
					pixels = append(pixels, 1)
				} else {
					pixels = append(pixels, 0)
				}
			}
		}
	default:
		return nil, fmt.Errorf("unsupported depth %d", depth)
	}

	return types.NewPixelMatrix(w, h, depth, pixels)
}

// BitmapDataSize returns the number of pixel data bytes for a matrix
func BitmapDataSize(width, height int, depth types.Depth) int {
	if depth == types.Grayscale {
		return width * height
	}
	return ((width + 7) / 8) * height
}
