// Package retry wraps quota-consuming calls with classified exponential backoff.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/desertthunder/ytq/internal/failures"
	"github.com/desertthunder/ytq/internal/shared"
)

const (
	DefaultMaxAttempts = 10
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 64 * time.Second
	DefaultJitter      = time.Second
)

// Attempt describes a failed call that is about to be retried.
type Attempt struct {
	Number int // 1-indexed; 1 means the first call just failed
	Delay  time.Duration
	Err    *failures.ClassifiedError
}

// Policy controls retry behaviour.
//
// Wait before retry n (0-indexed) is min(MaxDelay, BaseDelay * 2^n) plus a uniform jitter in [0, Jitter).
type Policy struct {
	// MaxAttempts is the total number of calls including the first.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration
	// Observer is called before each sleep.
	Observer func(Attempt)
	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns the provider-recommended schedule: 10 attempts, 1s doubling to 64s, 1s jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Jitter:      DefaultJitter,
	}
}

// FromConfig builds a Policy from the retry section of the config, keeping defaults for unset values.
func FromConfig(cfg shared.RetryConfig) Policy {
	p := DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelay.Duration > 0 {
		p.BaseDelay = cfg.BaseDelay.Duration
	}
	if cfg.MaxDelay.Duration > 0 {
		p.MaxDelay = cfg.MaxDelay.Duration
	}
	if cfg.Jitter.Duration >= 0 {
		p.Jitter = cfg.Jitter.Duration
	}
	return p
}

// Backoff returns the wait before retry n (0-indexed), without jitter.
func (p Policy) Backoff(n int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 0; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do calls op until it succeeds, fails with a non-retryable category, or MaxAttempts is reached.
//
// Every returned error is a [*failures.ClassifiedError]. Cancellation while waiting is
// reported as [failures.Unknown] wrapping ctx.Err().
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var last *failures.ClassifiedError
	for n := 0; n < attempts; n++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		last = failures.Classify(err)
		if !last.Retryable || n == attempts-1 {
			return last
		}

		delay := p.Backoff(n)
		if p.Jitter > 0 {
			delay += rand.N(p.Jitter)
		}

		if p.Observer != nil {
			p.Observer(Attempt{Number: n + 1, Delay: delay, Err: last})
		}

		if err := sleep(ctx, delay); err != nil {
			return failures.New(failures.Unknown, 0, "", "retry cancelled: "+err.Error(), err)
		}
	}

	return last
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
