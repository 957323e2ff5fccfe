package transport

import (
	"bytes"
	"errors"
	"testing"

	"avaneesh/ipixel-go/pkg/codec"
)

func TestReassemble_AnyOrder(t *testing.T) {
	frame := testFrame(t)
	chunks, err := Split(frame.Bytes(), 7)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	// Reverse the order
	reversed := make([]Chunk, len(chunks))
	for i, c := range chunks {
		reversed[len(chunks)-1-i] = c
	}

	data, err := Reassemble(reversed)
	if err != nil {
		t.Fatalf("Reassemble failed: %v", err)
	}
	if !bytes.Equal(data, frame.Bytes()) {
		t.Errorf("Reassembled bytes differ from frame")
	}

	decoded, err := ReassembleFrame(codec.New(codec.VariantStandard), chunks)
	if err != nil {
		t.Fatalf("ReassembleFrame failed: %v", err)
	}
	if !bytes.Equal(decoded.Bytes(), frame.Bytes()) {
		t.Errorf("Decoded frame differs")
	}
}

func TestReassemble_Errors(t *testing.T) {
	a := Chunk{Index: 0, Total: 3, Payload: []byte{1}}
	b := Chunk{Index: 1, Total: 3, Payload: []byte{2}}
	c := Chunk{Index: 2, Total: 3, Payload: []byte{3}}

	tests := []struct {
		name   string
		chunks []Chunk
		want   error
	}{
		{"Empty", nil, ErrEmptyFrame},
		{"Missing middle", []Chunk{a, c}, ErrMissingChunk},
		{"Missing tail", []Chunk{a, b}, ErrMissingChunk},
		{"Duplicate", []Chunk{a, b, b, c}, ErrDuplicateChunk},
		{"Inconsistent total", []Chunk{a, b, {Index: 2, Total: 4, Payload: []byte{3}}}, ErrInconsistentTotal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Reassemble(tt.chunks); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestReassembler_InOrder(t *testing.T) {
	frame := testFrame(t)
	chunks, _ := Split(frame.Bytes(), 20)

	r := NewReassembler(0)
	for i, c := range chunks {
		out, repeat, err := r.Process(c)
		if err != nil {
			t.Fatalf("Chunk %d: unexpected error: %v", i, err)
		}
		if repeat {
			t.Fatalf("Chunk %d: unexpected repeat", i)
		}
		if i < len(chunks)-1 {
			if out != nil {
				t.Fatalf("Chunk %d: frame completed early", i)
			}
			if !r.InProgress() {
				t.Errorf("Chunk %d: expected reassembly in progress", i)
			}
			continue
		}
		if !bytes.Equal(out, frame.Bytes()) {
			t.Errorf("Reassembled frame mismatch")
		}
	}

	if r.InProgress() {
		t.Errorf("Reassembler still in progress after final chunk")
	}
	if r.Stats().GetRxFrames() != 1 {
		t.Errorf("Expected 1 RX frame, got %d", r.Stats().GetRxFrames())
	}
}

func TestReassembler_RepeatOfLastAccepted(t *testing.T) {
	chunks, _ := Split([]byte{1, 2, 3, 4, 5, 6}, 2)
	r := NewReassembler(0)

	if _, _, err := r.Process(chunks[0]); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if _, _, err := r.Process(chunks[1]); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	// Ack for chunk 1 was lost and the host retransmits it
	out, repeat, err := r.Process(chunks[1])
	if err != nil || !repeat || out != nil {
		t.Fatalf("Expected idempotent repeat, got out=%v repeat=%v err=%v", out, repeat, err)
	}
	if r.Expected() != 2 {
		t.Errorf("Expected next index 2, got %d", r.Expected())
	}

	out, _, err = r.Process(chunks[2])
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !bytes.Equal(out, []byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("Expected full frame, got % X", out)
	}

	// Repeat of the final chunk re-acks without producing a second frame
	out, repeat, err = r.Process(chunks[2])
	if err != nil || !repeat || out != nil {
		t.Errorf("Expected repeat of final chunk, got out=%v repeat=%v err=%v", out, repeat, err)
	}
	if r.Stats().GetRepeats() != 2 {
		t.Errorf("Expected 2 repeats, got %d", r.Stats().GetRepeats())
	}
}

func TestReassembler_SingleChunkAfterAck(t *testing.T) {
	chunks, _ := Split([]byte{1, 2, 3}, 8)
	r := NewReassembler(0)

	if _, _, err := r.Process(chunks[0]); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	// Ack not yet seen by the host: identical resend is a retransmit
	out, repeat, err := r.Process(chunks[0])
	if err != nil || !repeat || out != nil {
		t.Fatalf("Expected repeat, got out=%v repeat=%v err=%v", out, repeat, err)
	}

	// Ack delivered: the same frame again is a new frame
	r.MarkAcked(0)
	out, repeat, err = r.Process(chunks[0])
	if err != nil || repeat {
		t.Fatalf("Expected new frame, got repeat=%v err=%v", repeat, err)
	}
	if !bytes.Equal(out, []byte{1, 2, 3}) {
		t.Errorf("Expected frame, got % X", out)
	}

	// Acceptance clears the acked mark
	if _, repeat, _ = r.Process(chunks[0]); !repeat {
		t.Error("Expected repeat after fresh acceptance")
	}
}

func TestReassembler_MarkAckedIgnoresOtherIndex(t *testing.T) {
	chunks, _ := Split([]byte{1, 2, 3, 4}, 2)
	r := NewReassembler(0)

	if _, _, err := r.Process(chunks[0]); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	r.MarkAcked(1)
	if _, repeat, _ := r.Process(chunks[0]); !repeat {
		t.Error("Expected repeat when a different index was acked")
	}
}

func TestReassembler_StrictOrder(t *testing.T) {
	chunks, _ := Split([]byte{1, 2, 3, 4, 5, 6, 7, 8}, 2)

	tests := []struct {
		name  string
		feed  []Chunk
		next  Chunk
		want  error
	}{
		{"Skip ahead", []Chunk{chunks[0]}, chunks[2], ErrOutOfOrder},
		{"Old duplicate", []Chunk{chunks[0], chunks[1], chunks[2]}, chunks[1], ErrDuplicateChunk},
		{"No frame in progress", nil, chunks[1], ErrOutOfOrder},
		{"Total changes", []Chunk{chunks[0]}, Chunk{Index: 1, Total: 9, Payload: []byte{3, 4}}, ErrInconsistentTotal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReassembler(0)
			for _, c := range tt.feed {
				if _, _, err := r.Process(c); err != nil {
					t.Fatalf("feed failed: %v", err)
				}
			}
			_, _, err := r.Process(tt.next)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestReassembler_IndexZeroRestarts(t *testing.T) {
	first, _ := Split([]byte{1, 2, 3, 4, 5, 6}, 2)
	second, _ := Split([]byte{9, 8, 7}, 2)

	r := NewReassembler(0)
	r.Process(first[0])
	r.Process(first[1])

	// Host abandoned the first frame and starts over
	for i, c := range second {
		out, repeat, err := r.Process(c)
		if err != nil || repeat {
			t.Fatalf("Chunk %d: err=%v repeat=%v", i, err, repeat)
		}
		if c.IsLast() && !bytes.Equal(out, []byte{9, 8, 7}) {
			t.Errorf("Expected second frame, got % X", out)
		}
	}
}

func TestReassembler_Overflow(t *testing.T) {
	chunks, _ := Split(make([]byte, 64), 16)
	r := NewReassembler(32)

	r.Process(chunks[0])
	r.Process(chunks[1])
	if _, _, err := r.Process(chunks[2]); !errors.Is(err, ErrBufferOverflow) {
		t.Fatalf("Expected overflow, got %v", err)
	}
	if r.InProgress() {
		t.Errorf("Overflow must reset reassembly")
	}
	if r.Stats().GetBufferOverflows() != 1 {
		t.Errorf("Expected 1 overflow, got %d", r.Stats().GetBufferOverflows())
	}
}
