package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicyDelayDoubles(t *testing.T) {
	t.Parallel()
	policy := RetryPolicy{MaxAttempts: 4, BaseDelay: time.Second}

	require.Equal(t, time.Second, policy.Delay(1))
	require.Equal(t, 2*time.Second, policy.Delay(2))
	require.Equal(t, 4*time.Second, policy.Delay(3))
}

func TestSleepHonorsCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Sleep(ctx, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSleepZeroReturnsImmediately(t *testing.T) {
	t.Parallel()
	start := time.Now()
	require.NoError(t, Sleep(context.Background(), 0))
	require.Less(t, time.Since(start), time.Second)
}
