package link

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBLEWriteWithResponseUnsupported(t *testing.T) {
	if BLEWriteWithResponse {
		t.Skip("backend writes with response on this platform")
	}
	l := &bleLink{writeSem: make(chan struct{}, 1)}

	err := l.Write(context.Background(), []byte{0x01}, WriteWithResponse)
	assert.ErrorIs(t, err, ErrWriteModeUnsupported)
	assert.ErrorIs(t, err, errors.ErrUnsupported)
	assert.Empty(t, l.writeSem, "write slot must not be taken")
}

func TestBLEWriteWaitsForAbandonedWrite(t *testing.T) {
	l := &bleLink{writeSem: make(chan struct{}, 1)}
	l.writeSem <- struct{}{} // a previous write still in the adapter

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Write(ctx, []byte{0x01}, WriteWithoutResponse)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunCtxHandsOffLateResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	late := make(chan int, 1)

	cancel()
	v, err := runCtx(ctx, func() (int, error) {
		<-release
		return 7, nil
	}, func(v int) { late <- v })

	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, v)

	close(release)
	select {
	case got := <-late:
		assert.Equal(t, 7, got)
	case <-time.After(time.Second):
		t.Fatal("late result was not handed off")
	}
}

func TestRunCtxDropsLateError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	called := make(chan struct{}, 1)

	cancel()
	_, err := runCtx(ctx, func() (int, error) {
		<-release
		return 0, errors.New("connect failed")
	}, func(int) { called <- struct{}{} })
	require.ErrorIs(t, err, context.Canceled)

	close(release)
	select {
	case <-called:
		t.Fatal("late must only see successful results")
	case <-time.After(50 * time.Millisecond):
	}
}
