package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(threshold int, reset time.Duration) (*CircuitBreaker, *time.Time) {
	now := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: threshold,
		ResetTimeout:     reset,
	})
	cb.nowFunc = func() time.Time { return now }
	return cb, &now
}

func failing(ctx context.Context) (int, error) {
	return 0, eris.New("backend error")
}

func succeeding(ctx context.Context) (int, error) {
	return 1, nil
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, 30*time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := ExecuteVal(ctx, cb, failing)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	// Further calls short-circuit without invoking fn.
	invoked := false
	_, err := ExecuteVal(ctx, cb, func(context.Context) (int, error) {
		invoked = true
		return 0, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, invoked)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(3, 30*time.Second)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = ExecuteVal(ctx, cb, failing)
	}
	_, err := ExecuteVal(ctx, cb, succeeding)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, _ = ExecuteVal(ctx, cb, failing)
	}
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbeRecovers(t *testing.T) {
	cb, now := newTestBreaker(2, 30*time.Second)
	ctx := context.Background()

	_, _ = ExecuteVal(ctx, cb, failing)
	_, _ = ExecuteVal(ctx, cb, failing)
	require.Equal(t, CircuitOpen, cb.State())

	*now = now.Add(31 * time.Second)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	// A successful probe closes the circuit again.
	_, err := ExecuteVal(ctx, cb, succeeding)
	require.NoError(t, err)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, now := newTestBreaker(2, 30*time.Second)
	ctx := context.Background()

	_, _ = ExecuteVal(ctx, cb, failing)
	_, _ = ExecuteVal(ctx, cb, failing)

	*now = now.Add(31 * time.Second)
	_, err := ExecuteVal(ctx, cb, failing)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCircuitOpen)

	_, err = ExecuteVal(ctx, cb, failing)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(1, 30*time.Second)
	ctx := context.Background()

	_, _ = ExecuteVal(ctx, cb, failing)
	require.Equal(t, CircuitOpen, cb.State())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())

	_, err := ExecuteVal(ctx, cb, succeeding)
	assert.NoError(t, err)
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     30 * time.Second,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_, _ = ExecuteVal(context.Background(), cb, failing)
	assert.Equal(t, []string{"closed->open"}, transitions)
}
