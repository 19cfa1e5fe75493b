package stream

import "time"

// RetryPolicy controls backoff for failed attempts of the Processing State
// Machine's Step: any error from beginning the transaction, the handler,
// the follow-up append or the commit is retried until MaxAttempts. The
// engine-wide policy applies to every record; RetryPolicyProvider is not
// consulted.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	Multiplier     float64
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy is a conservative default: a handful of attempts with
// capped exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: 100 * time.Millisecond,
		Multiplier:     2.0,
		MaxBackoff:     5 * time.Second,
	}
}

// backoff returns the delay after failed attempt N (1-indexed), before
// attempt N+1, capped at MaxBackoff.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return p.InitialBackoff
	}
	d := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d > p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return d
}

// RetryPolicyProvider lets a RecordProcessor expose a RetryPolicy for its
// own value type. The ProcessingMachine does not consult it; Step always
// uses the engine-wide RetryPolicy.
type RetryPolicyProvider interface {
	RetryPolicy() RetryPolicy
}
