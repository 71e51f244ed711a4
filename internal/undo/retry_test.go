package undo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_SucceedsOnFirstAttempt(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffMultiplier: 2, Retryable: func(error) bool { return true }}

	attempts := 0
	ok := policy.Run(context.Background(), func(ctx context.Context) (bool, error) {
		attempts++
		return true, nil
	})

	assert.True(t, ok)
	assert.Equal(t, 1, attempts)
}

func TestRetryPolicy_RetriesUntilSuccess(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffMultiplier: 2, Retryable: func(error) bool { return true }}

	attempts := 0
	ok := policy.Run(context.Background(), func(ctx context.Context) (bool, error) {
		attempts++
		if attempts < 3 {
			return false, errors.New("connection reset")
		}
		return true, nil
	})

	assert.True(t, ok)
	assert.Equal(t, 3, attempts)
}

func TestRetryPolicy_ExhaustsRetriesAndFails(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffMultiplier: 2, Retryable: func(error) bool { return true }}

	attempts := 0
	ok := policy.Run(context.Background(), func(ctx context.Context) (bool, error) {
		attempts++
		return false, errors.New("still broken")
	})

	assert.False(t, ok)
	assert.Equal(t, 3, attempts, "MaxRetries=2 means 3 total attempts")
}

func TestRetryPolicy_NonRetryableErrorAbortsImmediately(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMultiplier: 2, Retryable: func(error) bool { return false }}

	attempts := 0
	ok := policy.Run(context.Background(), func(ctx context.Context) (bool, error) {
		attempts++
		return false, errors.New("permission denied")
	})

	assert.False(t, ok)
	assert.Equal(t, 1, attempts)
}

func TestRetryTransient_OnlyRetriesTransientLookingErrors(t *testing.T) {
	policy := RetryTransient()
	assert.True(t, policy.Retryable(errors.New("read tcp: connection reset by peer")))
	assert.True(t, policy.Retryable(errors.New("context deadline exceeded: timeout")))
	assert.False(t, policy.Retryable(errors.New("validation error: email is invalid")))
}

func TestNamedPolicy_ResolvesPresets(t *testing.T) {
	assert.Equal(t, 5, NamedPolicy("aggressive").MaxRetries)
	assert.Equal(t, 1, NamedPolicy("conservative").MaxRetries)
	assert.Equal(t, 3, NamedPolicy("retryAll").MaxRetries)
	assert.Equal(t, 3, NamedPolicy("unknown-name").MaxRetries, "unrecognized names default to retryTransient")
}
