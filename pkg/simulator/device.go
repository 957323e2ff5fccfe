// Package simulator implements a virtual display that speaks the device
// side of the protocol: chunk reassembly, acknowledgements, frame
// application and device info responses. Faults can be injected to exercise
// the retry and reconnect paths.
package simulator

import (
	"errors"
	"sync"
	"time"

	"avaneesh/ipixel-go/pkg/codec"
	"avaneesh/ipixel-go/pkg/internal/logger"
	"avaneesh/ipixel-go/pkg/link"
	"avaneesh/ipixel-go/pkg/transport"
	"avaneesh/ipixel-go/pkg/types"
)

// Config describes the simulated hardware
type Config struct {
	Variant           codec.Variant
	Info              types.DeviceInfo
	MCUMajor          uint8
	MCUMinor          uint8
	MTU               int  // Usable MTU reported after discovery, 0 = negotiation fails
	ServiceMissing    bool // Discovery fails with ErrServiceNotFound
	MaxReassemblySize int
}

// DefaultConfig returns a 64x16 standard variant display
func DefaultConfig() Config {
	return Config{
		Variant: codec.VariantStandard,
		Info: types.DeviceInfo{
			Width:      64,
			Height:     16,
			DeviceType: 0x01,
			LEDType:    0x02,
		},
		MCUMajor:          1,
		MCUMinor:          4,
		MTU:               20,
		MaxReassemblySize: transport.DefaultMaxReassemblySize,
	}
}

// Faults are one-shot failure counters. Each counter is decremented as the
// fault fires.
type Faults struct {
	DropAcks        int  // Swallow the next N chunk acks
	RejectNext      int  // Answer the next N chunks with AckBusy
	CorruptNextAck  int  // Send the next N acks with a broken checksum
	DisconnectAfter int  // Drop the link on the write following N accepted chunks
	RefuseDials     int  // Fail the next N connection attempts
	NoFrameAck      bool // Never send the terminal frame ack
}

// Event describes a frame the device applied
type Event struct {
	Code       codec.CommandCode
	Power      bool
	Brightness uint8
	Matrix     *types.PixelMatrix
	Clock      *types.ClockMode // Set while the clock face is shown
	At         time.Time
}

// Device is one virtual display
type Device struct {
	config      Config
	codec       *codec.Codec
	reassembler *transport.Reassembler
	logger      logger.Logger

	mu         sync.Mutex
	faults     Faults
	accepted   int
	received   []uint16
	completion [][]byte // Notifications sent for the last completed frame
	power      bool
	brightness uint8
	matrix     *types.PixelMatrix
	clock      *types.ClockMode
	clockSkew  time.Duration // Device wall time minus host time
	applied    int
	current    *memLink

	listeners   map[int]chan Event
	nextListen  int
	listenersMu sync.Mutex
}

// NewDevice creates a virtual display
func NewDevice(config Config, log logger.Logger) *Device {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if config.Variant.Header == nil {
		config.Variant = codec.VariantStandard
	}
	return &Device{
		config:      config,
		codec:       codec.New(config.Variant),
		reassembler: transport.NewReassembler(config.MaxReassemblySize),
		logger:      log,
		brightness:  types.MaxBrightness,
		listeners:   make(map[int]chan Event),
	}
}

// Config returns the simulated hardware description
func (d *Device) Config() Config {
	return d.config
}

// InjectFaults replaces the pending fault counters
func (d *Device) InjectFaults(f Faults) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults = f
	d.accepted = 0
}

// Power returns the applied power state
func (d *Device) Power() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.power
}

// Brightness returns the applied brightness
func (d *Device) Brightness() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.brightness
}

// Matrix returns the last displayed bitmap, nil if none
func (d *Device) Matrix() *types.PixelMatrix {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.matrix
}

// Clock returns the clock face settings, ok is false while a bitmap or
// nothing is shown
func (d *Device) Clock() (mode types.ClockMode, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.clock == nil {
		return types.ClockMode{}, false
	}
	return *d.clock, true
}

// Now returns the device wall time as last set by a time sync
func (d *Device) Now() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return time.Now().Add(d.clockSkew)
}

// FramesApplied returns how many frames were applied
func (d *Device) FramesApplied() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.applied
}

// Received returns the index of every chunk written to the device
func (d *Device) Received() []uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint16(nil), d.received...)
}

// ResetHistory clears the received chunk log
func (d *Device) ResetHistory() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.received = nil
}

// Statistics returns the reassembler counters
func (d *Device) Statistics() *transport.Statistics {
	return d.reassembler.Stats()
}

// Subscribe registers for applied frame events. The returned function
// unsubscribes. Slow subscribers miss events.
func (d *Device) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)

	d.listenersMu.Lock()
	id := d.nextListen
	d.nextListen++
	d.listeners[id] = ch
	d.listenersMu.Unlock()

	return ch, func() {
		d.listenersMu.Lock()
		delete(d.listeners, id)
		d.listenersMu.Unlock()
	}
}

// Drop simulates the device going out of range
func (d *Device) Drop() {
	d.mu.Lock()
	l := d.current
	d.current = nil
	d.mu.Unlock()

	if l != nil {
		l.drop()
	}
}

// refuseDial consumes one RefuseDials fault
func (d *Device) refuseDial() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.faults.RefuseDials > 0 {
		d.faults.RefuseDials--
		return true
	}
	return false
}

// attach makes l the active connection, dropping any previous one
func (d *Device) attach(l *memLink) {
	d.mu.Lock()
	prev := d.current
	d.current = l
	d.reassembler.Reset()
	d.mu.Unlock()

	if prev != nil {
		prev.drop()
	}
}

func (d *Device) detach(l *memLink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == l {
		d.current = nil
	}
}

// Handle processes one write from the host. It returns the notifications
// to send back, whether a write with response should fail, and whether the
// link must be dropped instead.
func (d *Device) Handle(p []byte, mode link.WriteMode) (notes [][]byte, writeOK bool, drop bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, err := transport.ParseChunk(p)
	if err != nil {
		d.logger.Warn("Simulator: Bad chunk (% X): %v", p, err)
		return nil, false, false
	}
	d.received = append(d.received, c.Index)

	if d.faults.DisconnectAfter > 0 && d.accepted >= d.faults.DisconnectAfter {
		d.faults.DisconnectAfter = 0
		d.logger.Info("Simulator: Dropping link at chunk %d", c.Index)
		return nil, false, true
	}

	if d.faults.RejectNext > 0 {
		d.faults.RejectNext--
		return d.ackNotes(codec.AckBusy, c.Index, mode), false, false
	}

	frame, repeat, err := d.reassembler.Process(c)
	if err != nil {
		d.logger.Debug("Simulator: Chunk %s: %v", c, err)
		return d.ackNotes(statusFor(err), c.Index, mode), false, false
	}

	if repeat {
		notes = d.chunkAck(c.Index, mode)
		if c.IsLast() {
			notes = append(notes, d.completion...)
		}
		return notes, true, false
	}

	d.accepted++
	notes = d.chunkAck(c.Index, mode)
	if frame == nil {
		return notes, true, false
	}

	d.completion = d.complete(frame)
	return append(notes, d.completion...), true, false
}

// chunkAck builds the positive ack for one chunk, honouring DropAcks. In
// write with response mode the write completion is the ack.
func (d *Device) chunkAck(index uint16, mode link.WriteMode) [][]byte {
	if mode == link.WriteWithResponse {
		d.reassembler.MarkAcked(index)
		return nil
	}
	if d.faults.DropAcks > 0 {
		d.faults.DropAcks--
		return nil
	}
	corrupt := d.faults.CorruptNextAck > 0
	note := d.ack(codec.AckChunkOK, index)
	if !corrupt {
		d.reassembler.MarkAcked(index)
	}
	return [][]byte{note}
}

func (d *Device) ackNotes(status codec.AckStatus, index uint16, mode link.WriteMode) [][]byte {
	if mode == link.WriteWithResponse {
		return nil
	}
	return [][]byte{d.ack(status, index)}
}

func (d *Device) ack(status codec.AckStatus, index uint16) []byte {
	f, err := d.codec.EncodeAck(codec.Ack{Status: status, Index: index})
	if err != nil {
		return nil
	}
	b := f.Bytes()
	if d.faults.CorruptNextAck > 0 {
		d.faults.CorruptNextAck--
		b[len(b)-1] ^= 0xFF
	}
	return b
}

// complete applies a reassembled frame and returns the frame level
// notifications
func (d *Device) complete(raw []byte) [][]byte {
	var notes [][]byte

	frame, err := d.codec.Decode(raw)
	if err != nil {
		d.logger.Warn("Simulator: Reassembled frame invalid: %v", err)
		return [][]byte{d.ack(codec.AckBadChecksum, codec.FrameAckIndex)}
	}

	ev := Event{Code: frame.Code, At: time.Now()}
	switch frame.Code {
	case codec.CodeDisplayBitmap:
		m, err := codec.DecodeBitmap(frame.Payload)
		if err != nil {
			d.logger.Warn("Simulator: Bad bitmap: %v", err)
			return [][]byte{d.ack(codec.AckBadChecksum, codec.FrameAckIndex)}
		}
		d.matrix = m
		d.clock = nil
	case codec.CodeSetBrightness:
		if len(frame.Payload) != 1 {
			return [][]byte{d.ack(codec.AckBadChecksum, codec.FrameAckIndex)}
		}
		d.brightness = frame.Payload[0]
	case codec.CodeSetPower:
		if len(frame.Payload) != 1 {
			return [][]byte{d.ack(codec.AckBadChecksum, codec.FrameAckIndex)}
		}
		d.power = frame.Payload[0] != 0
	case codec.CodeSyncTime:
		t, err := codec.ParseTime(frame.Payload)
		if err != nil {
			d.logger.Warn("Simulator: Bad time: %v", err)
			return [][]byte{d.ack(codec.AckBadChecksum, codec.FrameAckIndex)}
		}
		d.clockSkew = time.Until(t)
	case codec.CodeSetClockMode:
		mode, err := codec.ParseClockMode(frame.Payload)
		if err != nil {
			d.logger.Warn("Simulator: Bad clock mode: %v", err)
			return [][]byte{d.ack(codec.AckBadChecksum, codec.FrameAckIndex)}
		}
		d.clock = &mode
		d.matrix = nil
	case codec.CodeQueryDeviceInfo:
		info, err := d.codec.EncodeDeviceInfo(d.config.Info, d.config.MCUMajor, d.config.MCUMinor)
		if err == nil {
			notes = append(notes, info.Bytes())
		}
	default:
		return [][]byte{d.ack(codec.AckUnsupported, codec.FrameAckIndex)}
	}

	d.applied++
	ev.Power, ev.Brightness, ev.Matrix, ev.Clock = d.power, d.brightness, d.matrix, d.clock
	d.publish(ev)
	d.logger.Debug("Simulator: Applied %s", frame.Code)

	if d.config.Variant.FrameAck && !d.faults.NoFrameAck {
		notes = append([][]byte{d.ack(codec.AckFrameComplete, codec.FrameAckIndex)}, notes...)
	}
	return notes
}

func (d *Device) publish(ev Event) {
	d.listenersMu.Lock()
	defer d.listenersMu.Unlock()
	for _, ch := range d.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
}

func statusFor(err error) codec.AckStatus {
	switch {
	case errors.Is(err, transport.ErrDuplicateChunk):
		return codec.AckDuplicate
	case errors.Is(err, transport.ErrBufferOverflow):
		return codec.AckBusy
	default:
		return codec.AckOutOfOrder
	}
}
