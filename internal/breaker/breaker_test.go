package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *time.Time) {
	b := New("diagnosis", threshold, cooldown)
	now := time.Now()
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerTripsAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(5, 30*time.Second)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
		assert.Equal(t, Closed, b.State())
		assert.True(t, b.Allow())
	}

	b.RecordFailure()
	assert.Equal(t, Open, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(5, 30*time.Second)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	b.RecordSuccess()

	// Four more failures must not trip a threshold of five.
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, Closed, b.State())
}

func TestBreakerCooldownToHalfOpen(t *testing.T) {
	b, now := newTestBreaker(2, 30*time.Second)

	b.RecordFailure()
	b.RecordFailure()
	require.Equal(t, Open, b.State())
	require.False(t, b.Allow())

	*now = now.Add(29 * time.Second)
	assert.False(t, b.Allow(), "cooldown has not elapsed yet")

	*now = now.Add(2 * time.Second)
	assert.True(t, b.Allow(), "cooldown elapsed, probe admitted")
	assert.Equal(t, HalfOpen, b.State())
}

func TestBreakerHalfOpenProbeOutcomes(t *testing.T) {
	t.Run("probe success closes", func(t *testing.T) {
		b, now := newTestBreaker(2, 30*time.Second)
		b.RecordFailure()
		b.RecordFailure()
		*now = now.Add(31 * time.Second)
		require.True(t, b.Allow())

		b.RecordSuccess()
		assert.Equal(t, Closed, b.State())
	})

	t.Run("probe failure reopens immediately", func(t *testing.T) {
		b, now := newTestBreaker(2, 30*time.Second)
		b.RecordFailure()
		b.RecordFailure()
		*now = now.Add(31 * time.Second)
		require.True(t, b.Allow())

		b.RecordFailure()
		assert.Equal(t, Open, b.State())
		assert.False(t, b.Allow())
	})
}

func TestBreakerDefaults(t *testing.T) {
	b := New("x", 0, 0)
	assert.Equal(t, DefaultFailureThreshold, b.failureThreshold)
	assert.Equal(t, DefaultCooldown, b.cooldown)
}

func TestRegistryGetCreatesOnce(t *testing.T) {
	r := NewRegistry(5, 30*time.Second)

	first := r.Get("diagnosis")
	second := r.Get("diagnosis")
	assert.Same(t, first, second)

	first.RecordFailure()
	states := r.States()
	assert.Equal(t, Closed, states["diagnosis"])
	assert.Len(t, states, 1)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "half_open", HalfOpen.String())
}
