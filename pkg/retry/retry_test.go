package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return Retryable(errors.New("not ready"))
		}
		return nil
	}, WithMaxAttempts(5), WithInitialDelay(time.Millisecond), WithJitter(0))

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func(context.Context) error {
		attempts++
		return errors.New("plain failure")
	}, WithMaxAttempts(5), WithInitialDelay(time.Millisecond))

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_PermanentShortCircuitsRetryIf(t *testing.T) {
	cause := errors.New("bad credentials")
	attempts := 0
	err := Do(context.Background(), func(context.Context) error {
		attempts++
		return Permanent(cause)
	}, WithMaxAttempts(5), WithInitialDelay(time.Millisecond), WithRetryIf(func(error) bool { return true }))

	assert.Equal(t, cause, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_ExhaustionUnwrapsLastError(t *testing.T) {
	cause := errors.New("still down")
	var notified []int
	err := Do(context.Background(), func(context.Context) error {
		return Retryable(cause)
	},
		WithMaxAttempts(3),
		WithInitialDelay(time.Millisecond),
		WithJitter(0),
		WithOnRetry(func(attempt int, _ error, _ time.Duration) {
			notified = append(notified, attempt)
		}),
	)

	assert.Equal(t, cause, err)
	assert.Equal(t, []int{1, 2}, notified)
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := Do(ctx, func(context.Context) error {
		attempts++
		cancel()
		return Retryable(errors.New("not ready"))
	}, WithMaxAttempts(10), WithInitialDelay(time.Hour))

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoWithData(t *testing.T) {
	attempts := 0
	got, err := DoWithData(context.Background(), func(context.Context) (string, error) {
		attempts++
		if attempts < 2 {
			return "", Retryable(errors.New("warming up"))
		}
		return "ready", nil
	}, WithMaxAttempts(3), WithInitialDelay(time.Millisecond), WithJitter(0))

	require.NoError(t, err)
	assert.Equal(t, "ready", got)
}

func TestErrorClassification(t *testing.T) {
	cause := errors.New("cause")

	assert.True(t, IsRetryable(Retryable(cause)))
	assert.False(t, IsRetryable(cause))
	assert.True(t, IsPermanent(Permanent(cause)))
	assert.False(t, IsPermanent(Retryable(cause)))

	assert.Nil(t, Retryable(nil))
	assert.Nil(t, Permanent(nil))
	assert.ErrorIs(t, Retryable(cause), cause)
}

func TestCalculateDelay_ExponentialAndCapped(t *testing.T) {
	r := New(
		WithInitialDelay(100*time.Millisecond),
		WithMultiplier(2.0),
		WithMaxDelay(350*time.Millisecond),
		WithJitter(0),
	)

	assert.Equal(t, 100*time.Millisecond, r.calculateDelay(1))
	assert.Equal(t, 200*time.Millisecond, r.calculateDelay(2))
	assert.Equal(t, 350*time.Millisecond, r.calculateDelay(3))
}
