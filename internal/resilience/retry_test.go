package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     1.0,
	}
}

func TestDoValRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	calls := 0
	val, err := DoVal(context.Background(), fastRetry(3), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransientError(errors.New("flaky"), 503)
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Equal(t, 3, calls)
}

func TestDoDoesNotRetryPermanentErrors(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), fastRetry(5), func(ctx context.Context) error {
		calls++
		return errors.New("bad request")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoStopsOnContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, fastRetry(10), func(ctx context.Context) error {
		calls++
		cancel()
		return NewTransientError(errors.New("flaky"), 500)
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	sentinel := NewTransientError(errors.New("down"), 502)
	err := Do(context.Background(), fastRetry(4), func(ctx context.Context) error {
		calls++
		return sentinel
	})

	assert.Equal(t, 4, calls)
	var te *TransientError
	assert.ErrorAs(t, err, &te)
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit transient", NewTransientError(errors.New("x"), 429), true},
		{"plain error", errors.New("invalid input"), false},
		{"message heuristic", errors.New("read: connection reset by peer"), true},
		{"timeout message", errors.New("dial tcp: i/o timeout"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	t.Parallel()

	assert.True(t, IsTransientHTTPStatus(429))
	assert.True(t, IsTransientHTTPStatus(503))
	assert.False(t, IsTransientHTTPStatus(404))
	assert.False(t, IsTransientHTTPStatus(200))
}
