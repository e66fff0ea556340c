package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestExponentialRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	policy := NewExponentialRetryPolicy(2)
	transient := errors.New("connection reset")

	require.False(t, policy.ShouldRetry(nil, 0))
	require.True(t, policy.ShouldRetry(transient, 0))
	require.True(t, policy.ShouldRetry(transient, 1))
	require.False(t, policy.ShouldRetry(transient, 2))
	require.False(t, policy.ShouldRetry(context.DeadlineExceeded, 0))
	require.False(t, policy.ShouldRetry(fmt.Errorf("wrapped: %w", context.Canceled), 0))
	require.False(t, policy.ShouldRetry(timeoutErr{}, 0))
	require.False(t, policy.ShouldRetry(&StatusError{Code: 404}, 0))
	require.True(t, policy.ShouldRetry(&StatusError{Code: 503}, 0))
}

func TestExponentialRetryPolicyDisabled(t *testing.T) {
	t.Parallel()

	require.False(t, NewExponentialRetryPolicy(0).ShouldRetry(errors.New("x"), 0))
	require.False(t, NewExponentialRetryPolicy(-3).ShouldRetry(errors.New("x"), 0))
}

func TestExponentialRetryPolicyBackoffBounded(t *testing.T) {
	t.Parallel()

	policy := NewExponentialRetryPolicy(5)
	for attempt := 0; attempt < 10; attempt++ {
		d := policy.Backoff(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, 5*time.Second)
	}
}
