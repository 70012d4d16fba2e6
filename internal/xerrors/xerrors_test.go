package xerrors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"structured", New(KindExtraction, "bad pdf", nil), KindExtraction},
		{"wrapped", fmt.Errorf("outer: %w", New(KindQueueFull, "full", nil)), KindQueueFull},
		{"context canceled", context.Canceled, KindCancelled},
		{"deadline", context.DeadlineExceeded, KindModelTimeout},
		{"plain", errors.New("boom"), KindInternal},
		{"nil", nil, Kind("")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(KindModelTimeout, "slow", nil)))
	assert.True(t, IsRetryable(New(KindModelUnavailable, "down", nil)))
	assert.False(t, IsRetryable(New(KindModelShapeMismatch, "dims", nil)))
	assert.False(t, IsRetryable(New(KindCancelled, "ctx", nil)))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(New(KindModelShapeMismatch, "dims", nil)))
	assert.True(t, IsFatal(New(KindStoreCorruption, "db", nil)))
	assert.False(t, IsFatal(New(KindExtraction, "page", nil)))
}

func TestWrapPreservesCancellation(t *testing.T) {
	err := Wrap(KindIO, "read", context.Canceled)
	require.NotNil(t, err)
	assert.Equal(t, KindCancelled, err.Kind)
	assert.True(t, IsCancelled(err))
}

func TestErrorChain(t *testing.T) {
	cause := errors.New("disk gone")
	err := New(KindIO, "stat failed", cause).WithDetail("path", "/x/a.txt")

	assert.ErrorIs(t, err, cause)
	assert.True(t, errors.Is(err, &Error{Kind: KindIO}))
	assert.Equal(t, "/x/a.txt", err.Details["path"])
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return New(KindExtraction, "permanent", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryEventualSuccess(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	got, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, New(KindModelTimeout, "slow", nil)
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestRetryRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, DefaultRetryConfig(), func() error {
		return New(KindModelTimeout, "slow", nil)
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker("ollama", WithMaxFailures(2), WithResetTimeout(10*time.Millisecond))

	assert.True(t, cb.Allow())
	cb.RecordFailure()
	assert.True(t, cb.Allow())
	cb.RecordFailure()
	assert.False(t, cb.Allow())
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(15 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.True(t, cb.Allow())

	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
}
