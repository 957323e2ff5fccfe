package link

import (
	"context"
	"errors"
	"time"

	"avaneesh/ipixel-go/pkg/codec"
	"avaneesh/ipixel-go/pkg/transport"
)

// AckEvent is one parsed notification from the device. Err is set when the
// notification could not be decoded.
type AckEvent struct {
	Ack codec.Ack
	Err error
}

// AckTransport is the part of a session an AckStrategy drives
type AckTransport interface {
	Write(ctx context.Context, p []byte, mode WriteMode) error
	Acks() <-chan AckEvent
	Lost() <-chan struct{}
	AckTimeout() time.Duration
}

// AckStrategy decides how delivery of a single chunk is confirmed.
// Deliver performs exactly one write.
type AckStrategy interface {
	Deliver(ctx context.Context, t AckTransport, c transport.Chunk) (codec.Ack, error)
	Name() string
}

// NotificationAck writes without response and waits for an ack
// notification carrying the chunk index.
type NotificationAck struct{}

// Name returns the strategy name
func (NotificationAck) Name() string { return "notify" }

// Deliver implements AckStrategy
func (NotificationAck) Deliver(ctx context.Context, t AckTransport, c transport.Chunk) (codec.Ack, error) {
	if err := t.Write(ctx, c.Serialize(), WriteWithoutResponse); err != nil {
		return codec.Ack{}, classifyWriteError(c.Index, t, err)
	}

	timer := time.NewTimer(t.AckTimeout())
	defer timer.Stop()

	for {
		select {
		case ev := <-t.Acks():
			if ev.Err != nil {
				return codec.Ack{}, &WriteError{Kind: WriteTimeout, Index: c.Index, Err: ev.Err}
			}
			if ev.Ack.Index != c.Index {
				// Late ack of an earlier chunk or a frame level ack
				continue
			}
			if !ev.Ack.Status.IsPositive() {
				return codec.Ack{}, &WriteError{Kind: WriteRejected, Index: c.Index, Status: ev.Ack.Status}
			}
			return ev.Ack, nil

		case <-timer.C:
			return codec.Ack{}, &WriteError{Kind: WriteTimeout, Index: c.Index}

		case <-t.Lost():
			return codec.Ack{}, &WriteError{Kind: WriteLinkLost, Index: c.Index, Err: ErrLinkClosed}

		case <-ctx.Done():
			return codec.Ack{}, &WriteError{Kind: WriteTimeout, Index: c.Index, Err: ctx.Err()}
		}
	}
}

// WriteCompletionAck uses a write with response; completion of the GATT
// write is the acknowledgement.
type WriteCompletionAck struct{}

// Name returns the strategy name
func (WriteCompletionAck) Name() string { return "response" }

// Deliver implements AckStrategy
func (WriteCompletionAck) Deliver(ctx context.Context, t AckTransport, c transport.Chunk) (codec.Ack, error) {
	wctx, cancel := context.WithTimeout(ctx, t.AckTimeout())
	defer cancel()

	if err := t.Write(wctx, c.Serialize(), WriteWithResponse); err != nil {
		var we *WriteError
		if errors.As(err, &we) {
			return codec.Ack{}, we
		}
		select {
		case <-t.Lost():
			return codec.Ack{}, &WriteError{Kind: WriteLinkLost, Index: c.Index, Err: err}
		default:
		}
		if errors.Is(err, ErrLinkClosed) {
			return codec.Ack{}, &WriteError{Kind: WriteLinkLost, Index: c.Index, Err: err}
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return codec.Ack{}, &WriteError{Kind: WriteTimeout, Index: c.Index, Err: err}
		}
		return codec.Ack{}, &WriteError{Kind: WriteRejected, Index: c.Index, Err: err}
	}
	return codec.Ack{Status: codec.AckChunkOK, Index: c.Index}, nil
}

// LookupAckStrategy resolves a strategy by config name
func LookupAckStrategy(name string) (AckStrategy, error) {
	switch name {
	case "", "notify":
		return NotificationAck{}, nil
	case "response":
		return WriteCompletionAck{}, nil
	default:
		return nil, errors.New("unknown write mode " + name)
	}
}

func classifyWriteError(index uint16, t AckTransport, err error) error {
	select {
	case <-t.Lost():
		return &WriteError{Kind: WriteLinkLost, Index: index, Err: err}
	default:
	}
	if errors.Is(err, ErrLinkClosed) {
		return &WriteError{Kind: WriteLinkLost, Index: index, Err: err}
	}
	return &WriteError{Kind: WriteTimeout, Index: index, Err: err}
}
