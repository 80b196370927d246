package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry_SucceedsAfterTransientError(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetry(3), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_FailsAfterMaxRetries(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetry(2), func() error {
		attempts++
		return errors.New("persistent")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Equal(t, 3, attempts)
}

func TestRetry_StopsOnNonRetryableAppError(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetry(5), func() error {
		attempts++
		return New(ErrCodeDimensionMismatch, "expected 768, got 256", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, ErrCodeDimensionMismatch, GetCode(err))
}

func TestRetry_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxRetries: 10, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, cfg, func() error {
			attempts++
			return errors.New("fail")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attempts)
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not stop after cancellation")
	}
}

func TestRetryConfig_Delay_ExponentialAndCapped(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: 350 * time.Millisecond, Multiplier: 2}

	assert.Equal(t, time.Duration(0), cfg.Delay(0))
	assert.Equal(t, 100*time.Millisecond, cfg.Delay(1))
	assert.Equal(t, 200*time.Millisecond, cfg.Delay(2))
	assert.Equal(t, 350*time.Millisecond, cfg.Delay(3))
	assert.Equal(t, 350*time.Millisecond, cfg.Delay(8))
}

func TestRetryConfig_Delay_Jitter(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, Jitter: true}
	for i := 0; i < 20; i++ {
		d := cfg.Delay(1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.Less(t, d, 100*time.Millisecond)
	}
}

func TestRetryWithResult_ReturnsValue(t *testing.T) {
	calls := 0
	v, err := RetryWithResult(context.Background(), fastRetry(2), func() (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("first call fails")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.InitialDelay)
	assert.Greater(t, cfg.Multiplier, 1.0)
}
