// Package resilience retries and circuit-breaks calls to the geocoding
// service and to remote archive hosts.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Backoff is a retry policy with exponentially growing, jittered waits.
// Zero fields take the values of DefaultBackoff.
type Backoff struct {
	Attempts int           // total tries, the first one included
	Initial  time.Duration // wait before the second try
	Max      time.Duration // cap on any single wait
	Factor   float64       // growth per try
	Jitter   float64       // +/- fraction of each wait; negative disables

	// Retryable decides which errors are worth another try. Nil means IsTransient.
	Retryable func(error) bool

	// Notify runs before each wait with the number of the try that failed.
	Notify func(attempt int, err error)
}

// DefaultBackoff is three tries starting at 500ms, doubling up to 30s with 25% jitter.
func DefaultBackoff() Backoff {
	return Backoff{
		Attempts: 3,
		Initial:  500 * time.Millisecond,
		Max:      30 * time.Second,
		Factor:   2,
		Jitter:   0.25,
	}
}

// BackoffFromMillis builds a Backoff from config units. Non-positive values
// keep the defaults; a negative jitter keeps the default jitter.
func BackoffFromMillis(attempts, initialMs, maxMs int, factor, jitter float64) Backoff {
	b := DefaultBackoff()
	if attempts > 0 {
		b.Attempts = attempts
	}
	if initialMs > 0 {
		b.Initial = time.Duration(initialMs) * time.Millisecond
	}
	if maxMs > 0 {
		b.Max = time.Duration(maxMs) * time.Millisecond
	}
	if factor > 0 {
		b.Factor = factor
	}
	if jitter >= 0 {
		b.Jitter = jitter
	}
	return b
}

func (b Backoff) normalized() Backoff {
	d := DefaultBackoff()
	if b.Attempts <= 0 {
		b.Attempts = d.Attempts
	}
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Factor <= 0 {
		b.Factor = d.Factor
	}
	if b.Jitter < 0 {
		b.Jitter = 0
	}
	if b.Retryable == nil {
		b.Retryable = IsTransient
	}
	return b
}

// wait returns the pause after the given failed try (1-based).
func (b Backoff) wait(attempt int) time.Duration {
	d := math.Min(float64(b.Initial)*math.Pow(b.Factor, float64(attempt-1)), float64(b.Max))
	if b.Jitter > 0 {
		d += d * b.Jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(math.Max(d, 0))
}

// Retry calls fn until it succeeds, returns an error b does not consider
// retryable, runs out of tries, or ctx ends. The last error is returned.
func Retry[T any](ctx context.Context, b Backoff, fn func(ctx context.Context) (T, error)) (T, error) {
	b = b.normalized()

	for attempt := 1; ; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		if attempt == b.Attempts || ctx.Err() != nil || !b.Retryable(err) {
			return val, err
		}

		if b.Notify != nil {
			b.Notify(attempt, err)
		}
		pause := time.NewTimer(b.wait(attempt))
		select {
		case <-ctx.Done():
			pause.Stop()
			return val, err
		case <-pause.C:
		}
	}
}

// LogRetries returns a Notify hook that logs each retry of operation against service.
func LogRetries(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("resilience: retrying",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.String("error_type", Classify(err)),
			zap.Error(err),
		)
	}
}
