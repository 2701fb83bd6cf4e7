package reindex

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryWithBackoff_Success(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), func() error {
		attempts++
		return nil
	}, 3, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryWithBackoff_EventualSuccess(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}, 5, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithBackoff_AllAttemptsFail(t *testing.T) {
	attempts := 0
	expected := errors.New("persistent error")
	err := RetryWithBackoff(context.Background(), func() error {
		attempts++
		return expected
	}, 3, time.Millisecond)
	assert.Equal(t, expected, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithBackoff_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := RetryWithBackoff(ctx, func() error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return errors.New("fail")
	}, 10, time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, attempts)
}

func TestRetryWithBackoff_InvalidAttempts(t *testing.T) {
	err := RetryWithBackoff(context.Background(), func() error { return nil }, 0, time.Millisecond)
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
}
