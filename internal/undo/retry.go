package undo

import (
	"context"
	"math/rand"
	"strings"
	"time"
)

// RetryPolicy describes how a fallible boolean action should be retried
// (§4.5): attempt count, backoff shape, and a predicate deciding whether a
// given error is worth retrying at all.
type RetryPolicy struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	Retryable         func(err error) bool
}

// Run executes action up to MaxRetries+1 times. action returns (true, nil)
// on success, (false, nil) on a recognized-but-unsuccessful attempt, or
// (false, err) on error. The predicate decides whether an error is worth
// retrying; a rejected error aborts immediately. Delay between attempts is
// exponential with up to 20% jitter, capped at MaxDelay.
func (p RetryPolicy) Run(ctx context.Context, action func(ctx context.Context) (bool, error)) bool {
	delay := p.InitialDelay

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		ok, err := action(ctx)
		if err == nil && ok {
			return true
		}
		if err != nil && p.Retryable != nil && !p.Retryable(err) {
			return false
		}

		if attempt < p.MaxRetries {
			sleep(ctx, jitter(delay))
			delay = time.Duration(float64(delay) * p.BackoffMultiplier)
			if delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}
	}

	return false
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	spread := float64(d) * 0.2
	offset := (rand.Float64()*2 - 1) * spread
	return time.Duration(float64(d) + offset)
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// RetryAll never rejects an error — every failure is retried up to
// MaxRetries.
func RetryAll() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3, InitialDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second,
		BackoffMultiplier: 2, Retryable: func(error) bool { return true },
	}
}

// RetryTransient only retries errors that look like socket/timeout/IO
// failures (substring match, case-insensitive).
func RetryTransient() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3, InitialDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second,
		BackoffMultiplier: 2, Retryable: isTransientError,
	}
}

// Aggressive retries hard and fast: 5 retries, 50ms initial, 10s cap, x2.
func Aggressive() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 5, InitialDelay: 50 * time.Millisecond, MaxDelay: 10 * time.Second,
		BackoffMultiplier: 2, Retryable: func(error) bool { return true },
	}
}

// Conservative makes one extra attempt with a long initial delay: 1 retry,
// 500ms, x1.5, 1s cap.
func Conservative() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 1, InitialDelay: 500 * time.Millisecond, MaxDelay: 1 * time.Second,
		BackoffMultiplier: 1.5, Retryable: func(error) bool { return true },
	}
}

// NamedPolicy resolves one of the four presets by configuration name,
// defaulting to RetryTransient for an unrecognized name.
func NamedPolicy(name string) RetryPolicy {
	switch strings.ToLower(name) {
	case "retryall":
		return RetryAll()
	case "aggressive":
		return Aggressive()
	case "conservative":
		return Conservative()
	default:
		return RetryTransient()
	}
}

var transientSubstrings = []string{
	"timeout", "timed out", "connection", "i/o", "broken pipe", "reset by peer", "temporarily unavailable",
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sub := range transientSubstrings {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}
