// Package retry holds the bounded exponential backoff shared by chunk
// retries and reconnect attempts.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default policy values
const (
	DefaultBase        = 100 * time.Millisecond
	DefaultMultiplier  = 2.0
	DefaultCap         = 2 * time.Second
	DefaultMaxAttempts = 3
)

// Policy describes a bounded exponential backoff with optional jitter.
// MaxAttempts counts total attempts, so MaxAttempts-1 waits happen at most.
type Policy struct {
	Base        time.Duration
	Multiplier  float64
	Cap         time.Duration // Zero means uncapped
	MaxAttempts int
	Jitter      float64 // Fraction of the delay, 0 disables jitter
}

// DefaultPolicy returns the policy used for chunk retries
func DefaultPolicy() Policy {
	return Policy{
		Base:        DefaultBase,
		Multiplier:  DefaultMultiplier,
		Cap:         DefaultCap,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Validate checks the policy values
func (p Policy) Validate() error {
	if p.Base < 0 || p.Cap < 0 {
		return fmt.Errorf("negative backoff duration")
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("backoff multiplier %.2f below 1", p.Multiplier)
	}
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts %d below 1", p.MaxAttempts)
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return fmt.Errorf("jitter %.2f outside [0,1]", p.Jitter)
	}
	return nil
}

// Allows reports whether attempt number n (1-based) may run
func (p Policy) Allows(n int) bool {
	return n >= 1 && n <= p.MaxAttempts
}

// Delay returns the wait before retry n, where n=1 is the wait after the
// first failed attempt.
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		return 0
	}

	b := p.exponential()
	var d time.Duration
	for i := 0; i < n; i++ {
		d = b.NextBackOff()
	}
	return d
}

// exponential maps the policy onto a fresh backoff.ExponentialBackOff.
// Attempts are bounded by MaxAttempts, not by elapsed time.
func (p Policy) exponential() *backoff.ExponentialBackOff {
	maxInterval := p.Cap
	if maxInterval <= 0 {
		maxInterval = time.Duration(math.MaxInt64)
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Base,
		RandomizationFactor: p.Jitter,
		Multiplier:          p.Multiplier,
		MaxInterval:         maxInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// Wait sleeps for Delay(n) or until ctx is done
func (p Policy) Wait(ctx context.Context, n int) error {
	d := p.Delay(n)
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
