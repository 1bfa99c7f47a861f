package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker("test", BreakerConfig{FailureThreshold: 3, CoolDown: time.Minute})

	fail := func() error { return errors.New("upstream down") }
	for i := 0; i < 3; i++ {
		require.NotErrorIs(t, b.Execute(fail), ErrCircuitOpen, "circuit opened early on attempt %d", i)
	}

	require.Equal(t, BreakerOpen, b.State())
	assert.ErrorIs(t, b.Execute(fail), ErrCircuitOpen)
}

func TestBreakerRecoversAfterCoolDown(t *testing.T) {
	b := NewBreaker("test", BreakerConfig{FailureThreshold: 1, CoolDown: 10 * time.Millisecond})

	_ = b.Execute(func() error { return errors.New("boom") })
	require.Equal(t, BreakerOpen, b.State())

	time.Sleep(20 * time.Millisecond)

	// First probe in half-open succeeds and closes the circuit.
	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("test", BreakerConfig{FailureThreshold: 1, CoolDown: 10 * time.Millisecond})

	_ = b.Execute(func() error { return errors.New("boom") })
	time.Sleep(20 * time.Millisecond)

	_ = b.Execute(func() error { return errors.New("still down") })
	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreakerStateChangeCallback(t *testing.T) {
	var transitions []string
	b := NewBreaker("callback", BreakerConfig{
		FailureThreshold: 1,
		CoolDown:         time.Minute,
		OnStateChange: func(name string, from, to BreakerState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = b.Execute(func() error { return errors.New("boom") })
	assert.Equal(t, []string{"closed->open"}, transitions)
}
