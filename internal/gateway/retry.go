package gateway

import (
	"context"
	"errors"
	"time"
)

// Retry defaults.
const (
	DefaultRetries = 2
	DefaultBackoff = 500 * time.Millisecond
)

// Retrier runs an operation with fixed exponential backoff and no jitter.
type Retrier struct {
	Retries int
	Backoff time.Duration

	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier returns a Retrier with the default budget.
func NewRetrier() *Retrier {
	return &Retrier{Retries: DefaultRetries, Backoff: DefaultBackoff, Sleep: sleepContext}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// budget runs out. The last error is returned unchanged.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var err error
	for attempt := 0; attempt <= r.Retries; attempt++ {
		if attempt > 0 {
			if serr := sleep(ctx, r.Backoff*time.Duration(1<<(attempt-1))); serr != nil {
				return err
			}
		}
		err = fn(ctx)
		if err == nil || errors.Is(err, ErrSchemaMismatch) || ctx.Err() != nil {
			return err
		}
	}
	return err
}
