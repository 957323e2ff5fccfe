package transport

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Statistics tracks chunk transport metrics. The sending side counts Tx,
// retries, timeouts and rejects; the device side counts Rx, repeats and
// sequence errors.
type Statistics struct {
	// Chunk counts
	TxChunks uint64
	RxChunks uint64

	// Frame counts
	TxFrames uint64
	RxFrames uint64

	// Error counts
	Retries         uint64
	Timeouts        uint64
	Rejects         uint64
	SequenceErrors  uint64
	BufferOverflows uint64
	Repeats         uint64

	// Timing (stored as Unix nano for atomic operations)
	lastTxTimeNano int64
	lastRxTimeNano int64
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{}
}

// IncrementTxChunks increments transmitted chunk count
func (s *Statistics) IncrementTxChunks() {
	atomic.AddUint64(&s.TxChunks, 1)
	atomic.StoreInt64(&s.lastTxTimeNano, time.Now().UnixNano())
}

// IncrementRxChunks increments received chunk count
func (s *Statistics) IncrementRxChunks() {
	atomic.AddUint64(&s.RxChunks, 1)
	atomic.StoreInt64(&s.lastRxTimeNano, time.Now().UnixNano())
}

// IncrementTxFrames increments completed outgoing frame count
func (s *Statistics) IncrementTxFrames() {
	atomic.AddUint64(&s.TxFrames, 1)
}

// IncrementRxFrames increments reassembled frame count
func (s *Statistics) IncrementRxFrames() {
	atomic.AddUint64(&s.RxFrames, 1)
}

// IncrementRetries increments chunk retry count
func (s *Statistics) IncrementRetries() {
	atomic.AddUint64(&s.Retries, 1)
}

// IncrementTimeouts increments ack timeout count
func (s *Statistics) IncrementTimeouts() {
	atomic.AddUint64(&s.Timeouts, 1)
}

// IncrementRejects increments negative ack count
func (s *Statistics) IncrementRejects() {
	atomic.AddUint64(&s.Rejects, 1)
}

// IncrementSequenceErrors increments sequence error count
func (s *Statistics) IncrementSequenceErrors() {
	atomic.AddUint64(&s.SequenceErrors, 1)
}

// IncrementBufferOverflows increments buffer overflow count
func (s *Statistics) IncrementBufferOverflows() {
	atomic.AddUint64(&s.BufferOverflows, 1)
}

// IncrementRepeats increments re-acknowledged retransmission count
func (s *Statistics) IncrementRepeats() {
	atomic.AddUint64(&s.Repeats, 1)
}

// GetTxChunks returns transmitted chunk count
func (s *Statistics) GetTxChunks() uint64 {
	return atomic.LoadUint64(&s.TxChunks)
}

// GetRxChunks returns received chunk count
func (s *Statistics) GetRxChunks() uint64 {
	return atomic.LoadUint64(&s.RxChunks)
}

// GetTxFrames returns completed outgoing frame count
func (s *Statistics) GetTxFrames() uint64 {
	return atomic.LoadUint64(&s.TxFrames)
}

// GetRxFrames returns reassembled frame count
func (s *Statistics) GetRxFrames() uint64 {
	return atomic.LoadUint64(&s.RxFrames)
}

// GetRetries returns chunk retry count
func (s *Statistics) GetRetries() uint64 {
	return atomic.LoadUint64(&s.Retries)
}

// GetTimeouts returns ack timeout count
func (s *Statistics) GetTimeouts() uint64 {
	return atomic.LoadUint64(&s.Timeouts)
}

// GetRejects returns negative ack count
func (s *Statistics) GetRejects() uint64 {
	return atomic.LoadUint64(&s.Rejects)
}

// GetSequenceErrors returns sequence error count
func (s *Statistics) GetSequenceErrors() uint64 {
	return atomic.LoadUint64(&s.SequenceErrors)
}

// GetBufferOverflows returns buffer overflow count
func (s *Statistics) GetBufferOverflows() uint64 {
	return atomic.LoadUint64(&s.BufferOverflows)
}

// GetRepeats returns re-acknowledged retransmission count
func (s *Statistics) GetRepeats() uint64 {
	return atomic.LoadUint64(&s.Repeats)
}

// GetLastTxTime returns the last transmission time
func (s *Statistics) GetLastTxTime() time.Time {
	nano := atomic.LoadInt64(&s.lastTxTimeNano)
	if nano == 0 {
		return time.Time{}
	}
	return time.Unix(0, nano)
}

// GetLastRxTime returns the last reception time
func (s *Statistics) GetLastRxTime() time.Time {
	nano := atomic.LoadInt64(&s.lastRxTimeNano)
	if nano == 0 {
		return time.Time{}
	}
	return time.Unix(0, nano)
}

// String returns a one line summary for logging
func (s *Statistics) String() string {
	return fmt.Sprintf("chunks tx=%d rx=%d frames tx=%d rx=%d retries=%d timeouts=%d rejects=%d seqerr=%d",
		s.GetTxChunks(), s.GetRxChunks(), s.GetTxFrames(), s.GetRxFrames(),
		s.GetRetries(), s.GetTimeouts(), s.GetRejects(), s.GetSequenceErrors())
}

// Reset resets all statistics to zero
func (s *Statistics) Reset() {
	atomic.StoreUint64(&s.TxChunks, 0)
	atomic.StoreUint64(&s.RxChunks, 0)
	atomic.StoreUint64(&s.TxFrames, 0)
	atomic.StoreUint64(&s.RxFrames, 0)
	atomic.StoreUint64(&s.Retries, 0)
	atomic.StoreUint64(&s.Timeouts, 0)
	atomic.StoreUint64(&s.Rejects, 0)
	atomic.StoreUint64(&s.SequenceErrors, 0)
	atomic.StoreUint64(&s.BufferOverflows, 0)
	atomic.StoreUint64(&s.Repeats, 0)
	atomic.StoreInt64(&s.lastTxTimeNano, 0)
	atomic.StoreInt64(&s.lastRxTimeNano, 0)
}
