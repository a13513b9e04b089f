package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

func failing() error { return errBackend }

func succeeding() error { return nil }

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := New(Config{MaxFailures: 3, Timeout: time.Minute})

	for i := 0; i < 2; i++ {
		err := cb.Call(failing)
		assert.ErrorIs(t, err, errBackend)
	}
	assert.Equal(t, StateClosed, cb.State())

	err := cb.Call(failing)
	assert.ErrorIs(t, err, errBackend)
	assert.Equal(t, StateOpen, cb.State())

	// Open circuit rejects without running the function
	executed := false
	err = cb.Call(func() error {
		executed = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, executed)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := New(Config{MaxFailures: 2, Timeout: time.Minute})

	require.Error(t, cb.Call(failing))
	require.NoError(t, cb.Call(succeeding))
	require.Error(t, cb.Call(failing))
	assert.Equal(t, StateClosed, cb.State(), "interleaved successes should keep the circuit closed")

	require.Error(t, cb.Call(failing))
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	cb := New(Config{MaxFailures: 1, Timeout: 200 * time.Millisecond})

	require.Error(t, cb.Call(failing))
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Call(succeeding), ErrCircuitOpen)

	time.Sleep(250 * time.Millisecond)

	// After the timeout one probe call is allowed through
	require.NoError(t, cb.Call(succeeding))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := New(Config{MaxFailures: 1, Timeout: 200 * time.Millisecond})

	require.Error(t, cb.Call(failing))
	time.Sleep(250 * time.Millisecond)

	err := cb.Call(failing)
	assert.ErrorIs(t, err, errBackend)
	assert.Equal(t, StateOpen, cb.State())

	assert.ErrorIs(t, cb.Call(succeeding), ErrCircuitOpen)
}

func TestBreakerHalfOpenSuccessThreshold(t *testing.T) {
	cb := New(Config{MaxFailures: 1, Timeout: 200 * time.Millisecond, HalfOpenSuccess: 2})

	require.Error(t, cb.Call(failing))
	time.Sleep(250 * time.Millisecond)

	require.NoError(t, cb.Call(succeeding))
	assert.Equal(t, StateHalfOpen, cb.State(), "one success is not enough to close")

	require.NoError(t, cb.Call(succeeding))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerReset(t *testing.T) {
	cb := New(Config{MaxFailures: 1, Timeout: time.Minute})

	require.Error(t, cb.Call(failing))
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Call(succeeding))
}

func TestBreakerDefaults(t *testing.T) {
	cb := New(Config{})

	for i := 0; i < 4; i++ {
		require.Error(t, cb.Call(failing))
	}
	assert.Equal(t, StateClosed, cb.State())

	require.Error(t, cb.Call(failing))
	assert.Equal(t, StateOpen, cb.State(), "default threshold is five failures")
}

func TestBreakerMetrics(t *testing.T) {
	cb := New(Config{MaxFailures: 3, Timeout: time.Minute})

	require.Error(t, cb.Call(failing))

	m := cb.Metrics()
	assert.Equal(t, StateClosed, m.State)
	assert.Equal(t, 1, m.FailureCount)
	assert.False(t, m.LastFailureTime.IsZero())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
