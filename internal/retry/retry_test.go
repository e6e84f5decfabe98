package retry

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/goran-ethernal/StarboardIndexor/internal/common"
	"github.com/goran-ethernal/StarboardIndexor/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockNetError implements net.Error for testing
type mockNetError struct {
	msg     string
	timeout bool
}

func (e *mockNetError) Error() string   { return e.msg }
func (e *mockNetError) Timeout() bool   { return e.timeout }
func (e *mockNetError) Temporary() bool { return false }

func fastConfig(attempts int) *config.RetryConfig {
	return &config.RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    common.NewDuration(5 * time.Millisecond),
		MaxBackoff:        common.NewDuration(20 * time.Millisecond),
		BackoffMultiplier: 2.0,
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{name: "nil error", err: nil, retryable: false},
		{name: "network error", err: &mockNetError{msg: "network timeout", timeout: true}, retryable: true},
		{name: "connection refused", err: syscall.ECONNREFUSED, retryable: true},
		{name: "connection reset", err: fmt.Errorf("post: %w", syscall.ECONNRESET), retryable: true},
		{name: "deadline exceeded", err: context.DeadlineExceeded, retryable: true},
		{name: "cancelled", err: context.Canceled, retryable: false},
		{name: "status 429", err: &StatusError{Code: 429}, retryable: true},
		{name: "status 503", err: fmt.Errorf("graphql: %w", &StatusError{Code: 503}), retryable: true},
		{name: "status 400", err: &StatusError{Code: 400, Body: "bad query"}, retryable: false},
		{name: "status 404", err: &StatusError{Code: 404}, retryable: false},
		{name: "gateway text", err: errors.New("502 bad gateway"), retryable: true},
		{name: "unexpected eof", err: errors.New("unexpected EOF"), retryable: true},
		{name: "invalid parameter", err: errors.New("invalid parameter"), retryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, Retryable(tt.err))
		})
	}
}

func TestBackoff(t *testing.T) {
	cfg := &config.RetryConfig{
		InitialBackoff:    common.NewDuration(1 * time.Second),
		MaxBackoff:        common.NewDuration(5 * time.Second),
		BackoffMultiplier: 2.0,
	}

	tests := []struct {
		attempt  int
		min, max time.Duration
	}{
		{attempt: 1, min: 0, max: 0},
		{attempt: 2, min: 750 * time.Millisecond, max: 1250 * time.Millisecond},
		{attempt: 3, min: 1500 * time.Millisecond, max: 2500 * time.Millisecond},
		{attempt: 4, min: 3 * time.Second, max: 5 * time.Second},
		{attempt: 10, min: 3750 * time.Millisecond, max: 6250 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt %d", tt.attempt), func(t *testing.T) {
			for range 10 {
				backoff := Backoff(tt.attempt, cfg)
				assert.GreaterOrEqual(t, backoff, tt.min)
				assert.LessOrEqual(t, backoff, tt.max)
			}
		})
	}

	require.Zero(t, Backoff(5, nil))
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), fastConfig(5), "test_operation", func() error {
		callCount++
		if callCount < 3 {
			return &mockNetError{msg: "temporary error", timeout: true}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, callCount)
}

func TestDo_NonRetryableError(t *testing.T) {
	callCount := 0
	expectedErr := errors.New("invalid parameter")
	err := Do(context.Background(), fastConfig(5), "test_operation", func() error {
		callCount++
		return expectedErr
	})
	require.ErrorIs(t, err, expectedErr)
	assert.Contains(t, err.Error(), "non-retryable error")
	assert.Equal(t, 1, callCount)
}

func TestDo_ExhaustedRetries(t *testing.T) {
	callCount := 0
	expectedErr := &StatusError{Code: 503}
	err := Do(context.Background(), fastConfig(3), "test_operation", func() error {
		callCount++
		return expectedErr
	})
	require.ErrorIs(t, err, expectedErr)
	assert.Contains(t, err.Error(), "all 3 attempts failed")
	assert.Equal(t, 3, callCount)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	callCount := 0
	err := Do(ctx, fastConfig(5), "test_operation", func() error {
		callCount++
		if callCount == 2 {
			cancel()
		}
		return &mockNetError{msg: "temporary error", timeout: true}
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context cancelled")
	assert.Equal(t, 2, callCount)
}

func TestDo_NilConfig(t *testing.T) {
	expectedErr := errors.New("some error")
	callCount := 0
	err := Do(context.Background(), nil, "test_operation", func() error {
		callCount++
		return expectedErr
	})
	require.ErrorIs(t, err, expectedErr)
	assert.Equal(t, 1, callCount)
}

func TestSleep(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	require.ErrorIs(t, Sleep(ctx, 0), context.Canceled)
}
