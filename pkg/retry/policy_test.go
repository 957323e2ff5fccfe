package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_Delay(t *testing.T) {
	p := Policy{Base: 100 * time.Millisecond, Multiplier: 2, Cap: time.Second, MaxAttempts: 5}

	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{40, time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.n), "retry %d", tt.n)
	}
}

func TestPolicy_DelayUncapped(t *testing.T) {
	p := Policy{Base: time.Millisecond, Multiplier: 3, MaxAttempts: 4}
	assert.Equal(t, 9*time.Millisecond, p.Delay(3))
}

func TestPolicy_Exponential(t *testing.T) {
	p := Policy{Base: 50 * time.Millisecond, Multiplier: 1.5, Cap: 0, MaxAttempts: 3, Jitter: 0.1}
	b := p.exponential()

	assert.Equal(t, 50*time.Millisecond, b.InitialInterval)
	assert.Equal(t, 1.5, b.Multiplier)
	assert.Equal(t, 0.1, b.RandomizationFactor)
	assert.Equal(t, time.Duration(0), b.MaxElapsedTime, "attempts bound retries, not elapsed time")
	assert.Greater(t, b.MaxInterval, time.Hour, "zero cap means uncapped")
}

func TestPolicy_Jitter(t *testing.T) {
	p := Policy{Base: 100 * time.Millisecond, Multiplier: 2, Cap: time.Second, MaxAttempts: 3, Jitter: 0.2}

	for i := 0; i < 100; i++ {
		d := p.Delay(2)
		assert.GreaterOrEqual(t, d, 160*time.Millisecond)
		assert.LessOrEqual(t, d, 240*time.Millisecond)
	}
}

func TestPolicy_Allows(t *testing.T) {
	p := DefaultPolicy()
	assert.False(t, p.Allows(0))
	assert.True(t, p.Allows(1))
	assert.True(t, p.Allows(3))
	assert.False(t, p.Allows(4))
}

func TestPolicy_Validate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	bad := []Policy{
		{Base: -1, Multiplier: 2, MaxAttempts: 1},
		{Base: 1, Multiplier: 0.5, MaxAttempts: 1},
		{Base: 1, Multiplier: 2, MaxAttempts: 0},
		{Base: 1, Multiplier: 2, MaxAttempts: 1, Jitter: 1.5},
	}
	for _, p := range bad {
		assert.Error(t, p.Validate(), "%+v", p)
	}
}

func TestPolicy_WaitCancelled(t *testing.T) {
	p := Policy{Base: time.Hour, Multiplier: 2, MaxAttempts: 2}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- p.Wait(ctx, 1) }()

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after cancel")
	}
}

func TestPolicy_WaitElapses(t *testing.T) {
	p := Policy{Base: 5 * time.Millisecond, Multiplier: 2, MaxAttempts: 2}
	start := time.Now()
	require.NoError(t, p.Wait(context.Background(), 1))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}
