package store

import "time"

// RetryPolicy bounds how often and how soon a retryable job comes back.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// NextDelay computes the backoff before the given attempt is dispatched
// again: baseDelay doubled per retry, capped at maxDelay. A server
// supplied retry-after wins when it is larger than the computed backoff.
func (p RetryPolicy) NextDelay(retryCount int, retryAfter time.Duration) time.Duration {
	d := p.BaseDelay << uint(retryCount)
	if d <= 0 || d > p.MaxDelay {
		d = p.MaxDelay
	}
	if retryAfter > d {
		d = retryAfter
	}
	return d
}
