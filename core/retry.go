package core

import (
	"context"
	"time"
)

// RetryPolicy defines retry behavior for failing work.
type RetryPolicy struct {
	// MaxRetries is the maximum number of retry attempts (0 = no retry, 1 = one retry)
	MaxRetries int

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries. Zero means no cap.
	MaxDelay time.Duration

	// BackoffRatio is the multiplier for delay after each retry.
	// A ratio of 1 gives a fixed interval; with InitialDelay=100ms and BackoffRatio=2.0:
	// - Retry 1 delay: 100ms
	// - Retry 2 delay: 200ms
	// - Retry 3 delay: 400ms (capped by MaxDelay)
	BackoffRatio float64
}

// FixedRetryPolicy waits the same delay before every retry.
func FixedRetryPolicy(maxRetries int, delay time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxRetries:   maxRetries,
		InitialDelay: delay,
		MaxDelay:     delay,
		BackoffRatio: 1.0,
	}
}

// WithMaxRetries returns a copy of p allowing n retries.
func (p RetryPolicy) WithMaxRetries(n int) RetryPolicy {
	if n < 0 {
		n = 0
	}
	p.MaxRetries = n
	return p
}

// Delay returns the wait before the given retry.
// attempt is 0-indexed (0 = first retry, 1 = second retry, etc.)
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.InitialDelay <= 0 {
		return 0
	}
	ratio := p.BackoffRatio
	if ratio <= 0 {
		ratio = 1
	}

	delay := float64(p.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= ratio
		if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
			break
		}
	}

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// Sleep waits for d or until ctx is done, whichever happens first.
// It reports whether the full delay elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
