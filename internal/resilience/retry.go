package resilience

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// Backoff describes how many attempts to make and how long to wait between them
type Backoff struct {
	Name     string
	Attempts int
	Base     time.Duration
	Cap      time.Duration
	Factor   float64
	// Jitter is the largest random fraction of the delay added on top of it
	Jitter float64
}

var (
	// StartupBackoff waits out a database that is still accepting connections
	StartupBackoff = Backoff{Name: "startup", Attempts: 5, Base: 200 * time.Millisecond, Cap: 5 * time.Second, Factor: 2, Jitter: 0.1}

	// BackendBackoff covers short round trips to Redis
	BackendBackoff = Backoff{Name: "backend", Attempts: 3, Base: 50 * time.Millisecond, Cap: time.Second, Factor: 2, Jitter: 0.1}
)

// Delay returns the wait after the given zero-based attempt failed
func (b Backoff) Delay(attempt int) time.Duration {
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}
	delay := time.Duration(float64(b.Base) * math.Pow(factor, float64(attempt)))
	if b.Cap > 0 && delay > b.Cap {
		delay = b.Cap
	}
	if b.Jitter > 0 && delay > 0 {
		delay += time.Duration(rand.Float64() * b.Jitter * float64(delay))
	}
	return delay
}

// Retry calls fn until it succeeds, the attempts run out, ctx ends or
// retryable rejects the error. A nil retryable retries every error.
// The last error from fn is returned.
func Retry(ctx context.Context, b Backoff, retryable func(error) bool, fn func(context.Context) error) error {
	attempts := max(b.Attempts, 1)

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err = fn(ctx); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		delay := b.Delay(attempt)
		slog.Debug("Retrying after failure",
			"backoff", b.Name,
			"attempt", attempt+1,
			"delay", delay,
			"error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
