package pipeline

import (
	"context"
	"time"
)

// RetryPolicy expresses a bounded retry schedule: up to MaxAttempts tries
// with a delay of BaseDelay * 2^(attempt-1) between them. The schedule is a
// plain function of the attempt number so the ceiling and delays are
// independently testable.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Delay returns the wait before retrying after the given 1-based attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Sleep waits for d or until the context is cancelled, whichever comes
// first. Cancellation is honored at retry boundaries, never mid-write.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
