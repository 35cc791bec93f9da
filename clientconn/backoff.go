package clientconn

import "time"

// BackoffPolicy is a capped exponential backoff policy: max-attempts (or
// unlimited), initial delay, max delay, and multiplier.
type BackoffPolicy struct {
	// Enabled gates whether a failed initial connect attempt transitions to
	// reconnecting(1) at all, or goes straight to failed.
	Enabled bool

	Initial    time.Duration
	Max        time.Duration
	Multiplier float64

	// MaxAttempts caps the number of reconnect attempts; 0 means unlimited.
	MaxAttempts int
}

// DefaultBackoffPolicy starts with a short initial delay and doubles up to
// a one-minute ceiling.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Enabled:     true,
		Initial:     500 * time.Millisecond,
		Max:         60 * time.Second,
		Multiplier:  2,
		MaxAttempts: 0,
	}
}

// Delay returns the backoff delay before reconnect attempt n (1-indexed),
// capped at Max.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return p.Initial
	}
	d := float64(p.Initial)
	mult := p.Multiplier
	if mult <= 1 {
		mult = 2
	}
	for i := 1; i < attempt; i++ {
		d *= mult
		if d >= float64(p.Max) {
			return p.Max
		}
	}
	return time.Duration(d)
}
