package backoff_test

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/attaradev/nats-pubsub-sub004/backoff"
)

func TestDelayBoundsForAllDeliveries(t *testing.T) {
	for d := 1; d <= 50; d++ {
		got := backoff.Delay(d, errors.New("boom"))
		assert.GreaterOrEqual(t, got, 1)
		assert.LessOrEqual(t, got, 60)
	}
}

func TestDelayPermanentDoublesUntilClamp(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, 2, backoff.Delay(1, err))
	assert.Equal(t, 4, backoff.Delay(2, err))
	assert.Equal(t, 8, backoff.Delay(3, err))
	assert.Equal(t, 60, backoff.Delay(10, err)) // clamps well before power caps
}

func TestDelayTransientStartsLower(t *testing.T) {
	transient := &backoff.TransientError{Err: errors.New("timeout")}
	assert.Equal(t, 1, backoff.Delay(1, transient)) // floor(0.5) == 0, clamped to 1
	assert.Equal(t, 1, backoff.Delay(2, transient))
	assert.Equal(t, 2, backoff.Delay(3, transient))
}

func TestIsTransientClassification(t *testing.T) {
	assert.True(t, backoff.IsTransient(&backoff.TransientError{Err: errors.New("x")}))
	assert.True(t, backoff.IsTransient(&net.DNSError{IsTimeout: true}))
	assert.False(t, backoff.IsTransient(errors.New("validation failed")))
	assert.False(t, backoff.IsTransient(nil))
}
