// Package retry runs an operation under a bounded exponential backoff.
// Whether a failure is retried at all is decided by a caller-supplied
// classifier.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"
)

type Class int

const (
	Permanent Class = iota
	Transient
	RateLimited
)

func (c Class) String() string {
	switch c {
	case Permanent:
		return "permanent"
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	}
	return "unknown"
}

type Policy struct {
	// MaxRetries is the number of attempts made after the first one.
	MaxRetries int
	BaseDelay  time.Duration
	// MaxDelay caps a single wait; zero means no cap.
	MaxDelay time.Duration
	// RateLimitMultiplier scales the delay for RateLimited failures.
	RateLimitMultiplier float64

	Classify func(error) Class
	Sleep    func(ctx context.Context, d time.Duration) error
	Logger   *slog.Logger
}

// Delay returns the wait before retry n (1-based) for a failure of class c.
func (p Policy) Delay(n int, c Class) time.Duration {
	if n < 1 {
		n = 1
	}
	// doubling saturates instead of overflowing
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			break
		}
		if d > math.MaxInt64/2 {
			d = math.MaxInt64
			break
		}
		d *= 2
	}
	if c == RateLimited && p.RateLimitMultiplier > 1 {
		f := float64(d) * p.RateLimitMultiplier
		if f >= math.MaxInt64 {
			d = math.MaxInt64
		} else {
			d = time.Duration(f)
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do calls fn until it succeeds, fails permanently, or the retry budget is
// spent. The last error is returned unwrapped.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	classify := p.Classify
	if classify == nil {
		classify = func(error) Class { return Permanent }
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		class := classify(err)
		if class == Permanent || attempt >= p.MaxRetries {
			return err
		}

		wait := p.Delay(attempt+1, class)
		logger.Warn("retrying after failure",
			"attempt", attempt+1,
			"class", class.String(),
			"wait", wait.String(),
			"error", err,
		)
		if serr := sleep(ctx, wait); serr != nil {
			return errors.Join(err, serr)
		}
	}
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
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
