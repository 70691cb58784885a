package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(attempts int) BackoffConfig {
	return BackoffConfig{
		InitialDelay: 1 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  attempts,
		Jitter:       false,
	}
}

func TestBackoff_SuccessFirstAttempt(t *testing.T) {
	backoff := NewBackoff(testConfig(3))

	attempts := 0
	err := backoff.Retry(context.Background(), func() error {
		attempts++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestBackoff_SuccessAfterRetries(t *testing.T) {
	backoff := NewBackoff(testConfig(3))

	attempts := 0
	err := backoff.Retry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestBackoff_ExhaustsAttempts(t *testing.T) {
	backoff := NewBackoff(testConfig(3))

	attempts := 0
	wantErr := errors.New("permanent failure")
	err := backoff.Retry(context.Background(), func() error {
		attempts++
		return wantErr
	})

	assert.Equal(t, wantErr, err)
	assert.Equal(t, 3, attempts)
}

func TestBackoff_RetryNotify(t *testing.T) {
	backoff := NewBackoff(testConfig(3))

	type notification struct {
		attempt int
		final   bool
	}
	var seen []notification

	err := backoff.RetryNotify(context.Background(), func() error {
		return errors.New("always fails")
	}, func(attempt int, err error, final bool) {
		seen = append(seen, notification{attempt, final})
	})

	require.Error(t, err)
	require.Len(t, seen, 3)
	assert.Equal(t, notification{1, false}, seen[0])
	assert.Equal(t, notification{2, false}, seen[1])
	assert.Equal(t, notification{3, true}, seen[2])
}

func TestBackoff_NotifyNotCalledOnSuccess(t *testing.T) {
	backoff := NewBackoff(testConfig(3))

	notified := 0
	err := backoff.RetryNotify(context.Background(), func() error {
		return nil
	}, func(int, error, bool) {
		notified++
	})

	require.NoError(t, err)
	assert.Zero(t, notified)
}

func TestBackoff_ContextCancellation(t *testing.T) {
	cfg := testConfig(5)
	cfg.InitialDelay = 100 * time.Millisecond
	backoff := NewBackoff(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := backoff.Retry(ctx, func() error {
		attempts++
		return errors.New("fail")
	})

	assert.Equal(t, context.Canceled, err)
	assert.Equal(t, 1, attempts)
}

func TestBackoff_DelayGrowth(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  10,
		Jitter:       false,
	})

	assert.Equal(t, 1*time.Second, backoff.GetNextDelay(1))
	assert.Equal(t, 2*time.Second, backoff.GetNextDelay(2))
	assert.Equal(t, 4*time.Second, backoff.GetNextDelay(3))
	assert.Equal(t, 60*time.Second, backoff.GetNextDelay(10))
}

func TestBackoff_JitterStaysBounded(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       true,
	})

	for i := 0; i < 50; i++ {
		delay := backoff.GetNextDelay(2)
		assert.GreaterOrEqual(t, delay, time.Duration(0))
		assert.LessOrEqual(t, delay, 60*time.Second)
	}
}
