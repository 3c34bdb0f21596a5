package errors

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds the retries of a single backend call.
type RetryPolicy struct {
	// Attempts is the total number of calls, the first included.
	// Values below 1 mean a single call.
	Attempts int

	// Backoff is the wait after the first failure. It doubles after each
	// further failure, up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration

	// Jitter randomizes each wait by up to this fraction either way.
	Jitter float64

	// Retryable overrides IsRetryable.
	Retryable func(error) bool
}

// DefaultRetry suits a networked store such as Redis.
var DefaultRetry = RetryPolicy{
	Attempts:   3,
	Backoff:    50 * time.Millisecond,
	MaxBackoff: 2 * time.Second,
	Jitter:     0.1,
}

// NoRetry makes exactly one call.
var NoRetry = RetryPolicy{Attempts: 1}

// Retry calls fn until it succeeds, fails with an error that is not
// retryable, the attempts run out, or ctx ends. When the attempts run out
// the last error is returned as fatal with the attempt count.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := max(p.Attempts, 1)
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	wait := p.Backoff
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return zero, &CategorizedError{Err: err, Category: CategoryFatal, Retries: n - 1, Context: "backend call cancelled"}
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if !retryable(err) {
			return zero, err
		}
		if n == attempts {
			return zero, &CategorizedError{Err: err, Category: CategoryFatal, Retries: n, Context: "retries exhausted"}
		}

		timer := time.NewTimer(jittered(wait, p.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, &CategorizedError{Err: ctx.Err(), Category: CategoryFatal, Retries: n, Context: "backend call cancelled"}
		case <-timer.C:
		}

		wait *= 2
		if p.MaxBackoff > 0 && wait > p.MaxBackoff {
			wait = p.MaxBackoff
		}
	}
}

func jittered(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 || d <= 0 {
		return d
	}
	return d + time.Duration(float64(d)*jitter*(rand.Float64()*2-1))
}
