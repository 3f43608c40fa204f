package courier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	t.Parallel()
	policy := NewExponentialRetryPolicy(3, time.Millisecond, 10*time.Millisecond)

	require.False(t, policy.ShouldRetry(nil, 0))
	require.True(t, policy.ShouldRetry(NewTransientError("download", errors.New("503")), 0))
	require.False(t, policy.ShouldRetry(NewTransientError("download", errors.New("503")), 3))
	require.False(t, policy.ShouldRetry(NewAuthError("login", errors.New("401")), 0))
	require.False(t, policy.ShouldRetry(context.Canceled, 0))
	require.False(t, policy.ShouldRetry(context.DeadlineExceeded, 0))
	require.True(t, policy.ShouldRetry(timeoutErr{}, 1))
	require.False(t, policy.ShouldRetry(errors.New("plain failure"), 0))
}

func TestRetryPolicy_DoRetriesTransient(t *testing.T) {
	t.Parallel()
	policy := NewExponentialRetryPolicy(3, time.Millisecond, 5*time.Millisecond)

	attempts := 0
	err := policy.Do(context.Background(), func() error {
		attempts++
		if attempts <= 2 {
			return NewTransientError("upload", errors.New("flaky"))
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestRetryPolicy_DoExhausts(t *testing.T) {
	t.Parallel()
	policy := NewExponentialRetryPolicy(2, time.Millisecond, 5*time.Millisecond)

	attempts := 0
	err := policy.Do(context.Background(), func() error {
		attempts++
		return NewTransientError("upload", errors.New("still flaky"))
	})

	require.Error(t, err)
	require.True(t, IsTransient(err))
	// Initial attempt + 2 retries.
	require.Equal(t, 3, attempts)
}

func TestRetryPolicy_DoFailsFastOnAuth(t *testing.T) {
	t.Parallel()
	policy := NewExponentialRetryPolicy(5, time.Millisecond, 5*time.Millisecond)

	attempts := 0
	err := policy.Do(context.Background(), func() error {
		attempts++
		return NewAuthError("login", errors.New("session expired"))
	})

	require.True(t, IsAuth(err))
	require.Equal(t, 1, attempts)
}

func TestRetryPolicy_BackoffCapped(t *testing.T) {
	t.Parallel()
	policy := NewExponentialRetryPolicy(3, 100*time.Millisecond, 200*time.Millisecond)

	for attempt := 0; attempt < 8; attempt++ {
		require.LessOrEqual(t, policy.Backoff(attempt), 200*time.Millisecond)
	}
}

func TestRetryPolicy_Defaults(t *testing.T) {
	t.Parallel()
	policy := NewExponentialRetryPolicy(0, 0, 0)

	require.True(t, policy.ShouldRetry(NewTransientError("x", errors.New("y")), 2))
	require.False(t, policy.ShouldRetry(NewTransientError("x", errors.New("y")), 3))
}
