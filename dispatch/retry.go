package dispatch

import "time"

// Relay group delivery states.
type relayState uint8

const (
	statePending relayState = iota
	stateSuccess
	stateRateLimited
	stateTransient
	stateFatal
)

// RetryPolicy governs push relay delivery. Rate limiting (HTTP 429) waits
// RateLimitDelay without consuming an attempt; transient failures back off
// exponentially until MaxAttempts.
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	Multiplier     float64
	RateLimitDelay time.Duration
}

// DefaultRetryPolicy returns the production policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    10,
		BaseDelay:      500 * time.Millisecond,
		Multiplier:     2.0,
		RateLimitDelay: 60 * time.Second,
	}
}

// Delay returns the backoff before the given retry (attempt counts from 1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
	}
	return d
}
