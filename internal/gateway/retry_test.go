package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingRetrier(waits *[]time.Duration) *Retrier {
	return &Retrier{
		Retries: DefaultRetries,
		Backoff: DefaultBackoff,
		Sleep: func(ctx context.Context, d time.Duration) error {
			*waits = append(*waits, d)
			return ctx.Err()
		},
	}
}

func TestRetrier_Backoff(t *testing.T) {
	var waits []time.Duration
	r := recordingRetrier(&waits)

	transport := &Error{Op: "embed", Err: errors.New("connection refused")}
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return transport
	})

	assert.Same(t, transport, err, "final failure is returned unchanged")
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, waits)
}

func TestRetrier_SucceedsAfterFailure(t *testing.T) {
	var waits []time.Duration
	r := recordingRetrier(&waits)

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return &Error{Op: "extract", StatusCode: 500, Err: errors.New("boom")}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, waits, 2)
}

func TestRetrier_SchemaMismatchNotRetried(t *testing.T) {
	var waits []time.Duration
	r := recordingRetrier(&waits)

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return fmt.Errorf("wrapped: %w", ErrSchemaMismatch)
	})

	assert.ErrorIs(t, err, ErrSchemaMismatch)
	assert.Equal(t, 1, calls)
	assert.Empty(t, waits)
}

func TestRetrier_StopsWhenContextDone(t *testing.T) {
	var waits []time.Duration
	r := recordingRetrier(&waits)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := r.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return &Error{Op: "embed", Err: context.Canceled}
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Empty(t, waits)
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
}
