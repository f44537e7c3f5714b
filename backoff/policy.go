// Package backoff computes the bounded exponential redelivery delay
// MessageProcessor applies when a handler fails, and classifies errors
// as transient (worth a gentler backoff) or permanent (accelerate
// toward the dead-letter queue).
//
// The closed-form formula below is deliberately not delegated to
// github.com/cenkalti/backoff/v4 (wired elsewhere, for the consumer's
// reconnect/retry loop): the delay here must be a deterministic pure
// function of delivery count and error class, not a stateful retry
// policy with jitter.
package backoff

import (
	"errors"
	"io"
	"math"
	"net"
	"os"
)

const (
	minDelaySeconds = 1
	maxDelaySeconds = 60
	maxPower        = 6

	transientBase = 0.5
	permanentBase = 2.0
)

// TransientError marks an error as a transient, retry-friendly failure
// (timeout, temporary network error). Wrap an error with this type, or
// rely on IsTransient's classification of the standard timeout/net
// interfaces.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// timeouter is satisfied by net.Error and os.PathError-style errors
// that expose Timeout().
type timeouter interface {
	Timeout() bool
}

// IsTransient reports whether err is a transient failure: timeouts,
// I/O errors, and temporary network failures. Anything else is treated
// as permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return true
	}

	var t timeouter
	if errors.As(err, &t) && t.Timeout() {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	return false
}

// Delay computes the redelivery delay in seconds for the given 1-based
// delivery count and error: base = 0.5 for transient errors, 2.0
// otherwise; power = min(deliveries-1, 6); raw = floor(base * 2^power);
// clamped to [1, 60].
func Delay(deliveries int, err error) int {
	base := permanentBase
	if IsTransient(err) {
		base = transientBase
	}

	power := deliveries - 1
	if power > maxPower {
		power = maxPower
	}
	if power < 0 {
		power = 0
	}

	raw := int(math.Floor(base * math.Pow(2, float64(power))))

	if raw < minDelaySeconds {
		return minDelaySeconds
	}
	if raw > maxDelaySeconds {
		return maxDelaySeconds
	}
	return raw
}
