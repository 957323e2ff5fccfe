// Package transfer drives one command across a link session: encode, split,
// deliver each chunk with bounded retries, then wait for the frame level
// acknowledgement.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"avaneesh/ipixel-go/pkg/codec"
	"avaneesh/ipixel-go/pkg/internal/logger"
	"avaneesh/ipixel-go/pkg/link"
	"avaneesh/ipixel-go/pkg/transport"
	"avaneesh/ipixel-go/pkg/types"
)

// Session is the part of link.Session the coordinator uses
type Session interface {
	Address() string
	State() types.LinkState
	Codec() *codec.Codec
	MaxChunkPayload() int
	Statistics() *transport.Statistics

	Acquire(ctx context.Context) error
	Release()
	WriteChunk(ctx context.Context, c transport.Chunk) (codec.Ack, error)
	AwaitFrameAck(ctx context.Context) error
	AwaitResponse(ctx context.Context, code codec.CommandCode) (*codec.Frame, error)
}

var _ Session = (*link.Session)(nil)

// Coordinator sends commands. It holds no per-send state and may be shared
// between sessions.
type Coordinator struct {
	config Config
	logger logger.Logger
}

// NewCoordinator creates a coordinator
func NewCoordinator(config Config, log logger.Logger) *Coordinator {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if config.Retry.MaxAttempts < 1 {
		config.Retry.MaxAttempts = 1
	}
	return &Coordinator{config: config, logger: log}
}

// Config returns the coordinator configuration
func (c *Coordinator) Config() Config {
	return c.config
}

// Send delivers cmd over s and returns its terminal result.
// ctx cancellation is observed between write attempts only.
func (c *Coordinator) Send(ctx context.Context, cmd types.Command, s Session) types.TransferResult {
	res, _ := c.run(ctx, cmd, s, 0)
	return res
}

// Request delivers cmd and waits for the device response with the given
// code while still holding the session.
func (c *Coordinator) Request(ctx context.Context, cmd types.Command, s Session, code codec.CommandCode) (*codec.Frame, types.TransferResult) {
	res, frame := c.run(ctx, cmd, s, code)
	return frame, res
}

// sendState carries one send through its steps
type sendState struct {
	res      types.TransferResult
	ctx      context.Context // Caller context, checked between attempts
	io       context.Context // I/O context, cancelled only by the deadline
	deadline time.Time
}

func (c *Coordinator) run(ctx context.Context, cmd types.Command, s Session, respCode codec.CommandCode) (types.TransferResult, *codec.Frame) {
	st := &sendState{res: types.TransferResult{ID: uuid.New()}, ctx: ctx}

	frame, err := s.Codec().Encode(cmd)
	if err != nil {
		return c.finish(st, cmd, types.StatusRejected, "encode", err), nil
	}

	switch s.State() {
	case types.LinkReady, types.LinkTransferring:
	default:
		return c.finish(st, cmd, types.StatusLinkLost, "not connected", fmt.Errorf("%w: %s", link.ErrNotReady, s.State())), nil
	}

	io := context.WithoutCancel(ctx)
	var cancel context.CancelFunc = func() {}
	if c.config.TransferDeadline > 0 {
		st.deadline = time.Now().Add(c.config.TransferDeadline)
		io, cancel = context.WithDeadline(io, st.deadline)
	}
	defer cancel()
	st.io = io

	// Lock wait honours both the caller and the deadline
	lockCtx, lockCancel := c.waitContext(st)
	err = s.Acquire(lockCtx)
	lockCancel()
	if err != nil {
		switch {
		case errors.Is(err, link.ErrNotReady):
			return c.finish(st, cmd, types.StatusLinkLost, "not connected", err), nil
		case ctx.Err() != nil:
			return c.finish(st, cmd, types.StatusCancelled, "", ctx.Err()), nil
		default:
			return c.finish(st, cmd, types.StatusTimeout, "transfer deadline", err), nil
		}
	}
	defer s.Release()

	// The MTU may have been renegotiated while waiting for the lock
	maxPayload := s.MaxChunkPayload()
	chunks, err := transport.Split(frame.Bytes(), maxPayload)
	if err != nil {
		return c.finish(st, cmd, types.StatusRejected, "chunking", err), nil
	}
	st.res.TotalChunks = len(chunks)

	c.logger.Debug("Transfer %s: %s to %s in %d chunks of <= %d bytes",
		st.res.ID, cmd, s.Address(), len(chunks), maxPayload)

	for _, chunk := range chunks {
		if res, done := c.deliver(st, cmd, s, chunk); done {
			return res, nil
		}
	}

	if s.Codec().Variant().FrameAck {
		if err := s.AwaitFrameAck(st.io); err != nil {
			status, reason := classify(err)
			return c.finish(st, cmd, status, reason, err), nil
		}
	}

	var resp *codec.Frame
	if respCode != 0 {
		resp, err = s.AwaitResponse(st.io, respCode)
		if err != nil {
			status, reason := classify(err)
			return c.finish(st, cmd, status, reason, err), nil
		}
	}

	return c.finish(st, cmd, types.StatusSuccess, "", nil), resp
}

// deliver writes one chunk with retries. done is true when the transfer
// has ended.
func (c *Coordinator) deliver(st *sendState, cmd types.Command, s Session, chunk transport.Chunk) (types.TransferResult, bool) {
	policy := c.config.Retry

	for attempt := 1; ; attempt++ {
		if err := st.ctx.Err(); err != nil {
			return c.finish(st, cmd, types.StatusCancelled, "", err), true
		}
		if err := st.io.Err(); err != nil {
			return c.finish(st, cmd, types.StatusTimeout, "transfer deadline", err), true
		}

		st.res.Attempts++
		_, err := s.WriteChunk(st.io, chunk)
		if err == nil {
			st.res.ChunksSent++
			if c.config.OnProgress != nil {
				c.config.OnProgress(Progress{ID: st.res.ID, Sent: st.res.ChunksSent, Total: st.res.TotalChunks})
			}
			return types.TransferResult{}, false
		}

		status, reason := classify(err)
		if status == types.StatusLinkLost {
			return c.finish(st, cmd, status, reason, err), true
		}
		if !policy.Allows(attempt + 1) {
			return c.finish(st, cmd, status, reason, err), true
		}

		s.Statistics().IncrementRetries()
		c.logger.Debug("Transfer %s: Chunk %d/%d attempt %d failed (%v), retrying",
			st.res.ID, chunk.Index+1, chunk.Total, attempt, err)

		waitCtx, cancel := c.waitContext(st)
		err = policy.Wait(waitCtx, attempt)
		cancel()
		if err != nil {
			if st.ctx.Err() != nil {
				return c.finish(st, cmd, types.StatusCancelled, "", st.ctx.Err()), true
			}
			return c.finish(st, cmd, types.StatusTimeout, "transfer deadline", err), true
		}
	}
}

// waitContext is done when either the caller cancels or the deadline passes
func (c *Coordinator) waitContext(st *sendState) (context.Context, context.CancelFunc) {
	if st.deadline.IsZero() {
		return context.WithCancel(st.ctx)
	}
	return context.WithDeadline(st.ctx, st.deadline)
}

func (c *Coordinator) finish(st *sendState, cmd types.Command, status types.TransferStatus, reason string, err error) types.TransferResult {
	st.res.Status = status
	st.res.Reason = reason
	st.res.Err = err

	switch status {
	case types.StatusSuccess:
		c.logger.Info("Transfer %s: %s delivered (%d chunks, %d attempts)",
			st.res.ID, cmd, st.res.TotalChunks, st.res.Attempts)
	case types.StatusCancelled:
		c.logger.Info("Transfer %s: %s cancelled after %d/%d chunks", st.res.ID, cmd, st.res.ChunksSent, st.res.TotalChunks)
	default:
		c.logger.Warn("Transfer %s: %s failed: %s: %v", st.res.ID, cmd, st.res, err)
	}
	return st.res
}

// classify maps a session error onto a terminal status
func classify(err error) (types.TransferStatus, string) {
	var we *link.WriteError
	if errors.As(err, &we) {
		switch we.Kind {
		case link.WriteLinkLost:
			return types.StatusLinkLost, "link lost"
		case link.WriteRejected:
			if we.Err == nil {
				return types.StatusRejected, we.Status.String()
			}
			return types.StatusRejected, "write rejected"
		default:
			return types.StatusTimeout, "no acknowledgement"
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.StatusTimeout, "transfer deadline"
	}
	return types.StatusTimeout, err.Error()
}
