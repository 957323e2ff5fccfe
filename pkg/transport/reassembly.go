package transport

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"avaneesh/ipixel-go/pkg/codec"
)

var (
	ErrInconsistentTotal = errors.New("chunks disagree on total")
	ErrMissingChunk      = errors.New("missing chunk")
	ErrDuplicateChunk    = errors.New("duplicate chunk")
	ErrOutOfOrder        = errors.New("chunk out of order")
	ErrBufferOverflow    = errors.New("reassembly buffer overflow")
)

// DefaultMaxReassemblySize bounds the device side buffer. It fits the
// largest bitmap of every built-in variant.
const DefaultMaxReassemblySize = 8192

// Reassemble concatenates chunk payloads in index order. The input may be
// in any order but must contain every index exactly once.
func Reassemble(chunks []Chunk) ([]byte, error) {
	if len(chunks) == 0 {
		return nil, ErrEmptyFrame
	}

	total := chunks[0].Total
	sorted := make([]Chunk, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	var buf bytes.Buffer
	for i, c := range sorted {
		if c.Total != total {
			return nil, fmt.Errorf("%w: %d vs %d", ErrInconsistentTotal, c.Total, total)
		}
		if i > 0 && sorted[i-1].Index == c.Index {
			return nil, fmt.Errorf("%w: index %d", ErrDuplicateChunk, c.Index)
		}
		if int(c.Index) != i {
			return nil, fmt.Errorf("%w: index %d", ErrMissingChunk, i)
		}
		buf.Write(c.Payload)
	}
	if len(sorted) != int(total) {
		return nil, fmt.Errorf("%w: have %d of %d", ErrMissingChunk, len(sorted), total)
	}

	return buf.Bytes(), nil
}

// ReassembleFrame reassembles chunks and decodes the result with c
func ReassembleFrame(c *codec.Codec, chunks []Chunk) (*codec.Frame, error) {
	data, err := Reassemble(chunks)
	if err != nil {
		return nil, err
	}
	return c.Decode(data)
}

// Reassembler rebuilds frames from chunks the way device firmware does:
// chunks must arrive in strict index order. A retransmission of the most
// recently accepted chunk is reported as a repeat so the caller can
// acknowledge it again without applying anything twice. Once the ack for
// an index 0 chunk has been delivered (see MarkAcked), an identical index 0
// chunk is a new frame, so the same command can be sent twice on purpose.
type Reassembler struct {
	buffer     bytes.Buffer
	maxSize    int
	expected   uint16
	total      uint16
	inProgress bool

	last      Chunk // Most recently accepted chunk
	hasLast   bool
	lastAcked bool // The host has seen the ack for last
	stats     *Statistics
}

// NewReassembler creates a new reassembler. A maxSize <= 0 selects
// DefaultMaxReassemblySize.
func NewReassembler(maxSize int) *Reassembler {
	if maxSize <= 0 {
		maxSize = DefaultMaxReassemblySize
	}
	return &Reassembler{
		maxSize: maxSize,
		stats:   NewStatistics(),
	}
}

// Process accepts one chunk. It returns the complete frame bytes once the
// final chunk is accepted. repeat is true when c duplicates the previously
// accepted chunk; nothing is changed in that case.
func (r *Reassembler) Process(c Chunk) (frame []byte, repeat bool, err error) {
	r.stats.IncrementRxChunks()

	if r.isRepeat(c) {
		r.stats.IncrementRepeats()
		return nil, true, nil
	}

	// Index 0 always starts a new frame, abandoning a partial one
	if c.Index == 0 {
		r.buffer.Reset()
		r.inProgress = true
		r.expected = 0
		r.total = c.Total
	} else if !r.inProgress {
		r.stats.IncrementSequenceErrors()
		return nil, false, fmt.Errorf("%w: got %d with no frame in progress", ErrOutOfOrder, c.Index)
	}

	if c.Total != r.total {
		want := r.total
		r.stats.IncrementSequenceErrors()
		r.Reset()
		return nil, false, fmt.Errorf("%w: %d vs %d", ErrInconsistentTotal, c.Total, want)
	}

	if c.Index != r.expected {
		r.stats.IncrementSequenceErrors()
		if c.Index < r.expected {
			return nil, false, fmt.Errorf("%w: index %d", ErrDuplicateChunk, c.Index)
		}
		return nil, false, fmt.Errorf("%w: got %d, want %d", ErrOutOfOrder, c.Index, r.expected)
	}

	if r.buffer.Len()+len(c.Payload) > r.maxSize {
		r.stats.IncrementBufferOverflows()
		r.Reset()
		return nil, false, ErrBufferOverflow
	}

	r.buffer.Write(c.Payload)
	r.last = Chunk{Index: c.Index, Total: c.Total, Payload: append([]byte(nil), c.Payload...)}
	r.hasLast = true
	r.lastAcked = false
	r.expected++

	if c.IsLast() {
		result := make([]byte, r.buffer.Len())
		copy(result, r.buffer.Bytes())
		r.buffer.Reset()
		r.inProgress = false
		r.expected = 0
		r.stats.IncrementRxFrames()
		return result, false, nil
	}

	return nil, false, nil
}

func (r *Reassembler) isRepeat(c Chunk) bool {
	if !r.hasLast || c.Index != r.last.Index || c.Total != r.last.Total {
		return false
	}
	if c.Index == 0 && r.lastAcked {
		return false
	}
	return bytes.Equal(c.Payload, r.last.Payload)
}

// MarkAcked records that the positive ack for index reached the host.
// It only matters for the most recently accepted chunk.
func (r *Reassembler) MarkAcked(index uint16) {
	if r.hasLast && r.last.Index == index {
		r.lastAcked = true
	}
}

// Expected returns the next index the reassembler will accept
func (r *Reassembler) Expected() uint16 {
	return r.expected
}

// InProgress returns true if reassembly is in progress
func (r *Reassembler) InProgress() bool {
	return r.inProgress
}

// Stats returns the reassembler counters
func (r *Reassembler) Stats() *Statistics {
	return r.stats
}

// Reset drops any partial frame and forgets the last accepted chunk
func (r *Reassembler) Reset() {
	r.buffer.Reset()
	r.inProgress = false
	r.expected = 0
	r.total = 0
	r.hasLast = false
	r.lastAcked = false
	r.last = Chunk{}
}
