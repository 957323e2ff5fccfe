package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Chunk layer constants
const (
	HeaderSize      = 4      // [index:2 LE][total:2 LE]
	MinChunkPayload = 1      // Smallest usable chunk payload
	MaxChunks       = 0xFFFF // Total is carried in 16 bits
)

var (
	ErrPayloadTooLargeForSingleChunk = errors.New("link cannot carry a chunk payload")
	ErrTooManyChunks                 = errors.New("frame needs more than 65535 chunks")
	ErrEmptyFrame                    = errors.New("empty frame")
	ErrShortChunk                    = errors.New("chunk shorter than header")
	ErrInvalidIndex                  = errors.New("chunk index outside total")
)

// Chunk is one transport-sized piece of an encoded frame
type Chunk struct {
	Index   uint16 // Zero based position
	Total   uint16 // Number of chunks in the frame
	Payload []byte // Slice of the frame bytes
}

// IsFirst returns true for the first chunk of a frame
func (c Chunk) IsFirst() bool {
	return c.Index == 0
}

// IsLast returns true for the final chunk of a frame
func (c Chunk) IsLast() bool {
	return c.Index+1 == c.Total
}

// Serialize converts chunk to wire format
func (c Chunk) Serialize() []byte {
	result := make([]byte, HeaderSize+len(c.Payload))
	binary.LittleEndian.PutUint16(result[0:], c.Index)
	binary.LittleEndian.PutUint16(result[2:], c.Total)
	copy(result[HeaderSize:], c.Payload)
	return result
}

// String returns string representation of Chunk
func (c Chunk) String() string {
	return fmt.Sprintf("Chunk{%d/%d, %d bytes}", c.Index+1, c.Total, len(c.Payload))
}

// ParseChunk parses a chunk from wire format. The payload is copied.
func ParseChunk(data []byte) (Chunk, error) {
	if len(data) < HeaderSize {
		return Chunk{}, ErrShortChunk
	}
	c := Chunk{
		Index: binary.LittleEndian.Uint16(data[0:]),
		Total: binary.LittleEndian.Uint16(data[2:]),
	}
	if c.Total == 0 || c.Index >= c.Total {
		return Chunk{}, fmt.Errorf("%w: index %d total %d", ErrInvalidIndex, c.Index, c.Total)
	}
	c.Payload = make([]byte, len(data)-HeaderSize)
	copy(c.Payload, data[HeaderSize:])
	return c, nil
}

// Split breaks frame bytes into chunks of at most maxChunkPayload bytes.
// The count is ceil(len(frame)/maxChunkPayload) and chunks are returned in
// index order. Payloads share the frame's backing array.
func Split(frame []byte, maxChunkPayload int) ([]Chunk, error) {
	if maxChunkPayload < MinChunkPayload {
		return nil, fmt.Errorf("%w: max chunk payload %d", ErrPayloadTooLargeForSingleChunk, maxChunkPayload)
	}
	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}

	count := (len(frame) + maxChunkPayload - 1) / maxChunkPayload
	if count > MaxChunks {
		return nil, fmt.Errorf("%w: %d", ErrTooManyChunks, count)
	}

	chunks := make([]Chunk, 0, count)
	for offset := 0; offset < len(frame); {
		// Determine chunk size
		size := maxChunkPayload
		if remaining := len(frame) - offset; remaining < size {
			size = remaining
		}

		chunks = append(chunks, Chunk{
			Index:   uint16(len(chunks)),
			Total:   uint16(count),
			Payload: frame[offset : offset+size],
		})
		offset += size
	}

	return chunks, nil
}
