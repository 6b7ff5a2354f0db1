package deployment

import "time"

// =============================================================================
// Retry Policy
// =============================================================================

// RetryPolicy bounds a polling loop. Delay grows by Multiplier after each
// attempt and is capped at MaxInterval when that is set.
type RetryPolicy struct {
	MaxAttempts int
	Interval    time.Duration
	MaxInterval time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy polls for roughly a minute with gentle backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 15,
		Interval:    2 * time.Second,
		MaxInterval: 10 * time.Second,
		Multiplier:  1.5,
	}
}

// NoWaitPolicy retries immediately. Used by tests.
func NoWaitPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts}
}

// Attempts returns the number of attempts, at least one.
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the wait after the given attempt (1-based).
//
// Example:
//
//	p := RetryPolicy{MaxAttempts: 5, Interval: time.Second, Multiplier: 2, MaxInterval: 5 * time.Second}
//	p.Delay(1) // 1s
//	p.Delay(2) // 2s
//	p.Delay(4) // 5s (capped)
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.Interval <= 0 {
		return 0
	}
	d := float64(p.Interval)
	if p.Multiplier > 1 {
		for i := 1; i < attempt; i++ {
			d *= p.Multiplier
			if p.MaxInterval > 0 && d >= float64(p.MaxInterval) {
				return p.MaxInterval
			}
		}
	}
	delay := time.Duration(d)
	if p.MaxInterval > 0 && delay > p.MaxInterval {
		return p.MaxInterval
	}
	return delay
}

// Budget returns the total time spent waiting between attempts.
func (p RetryPolicy) Budget() time.Duration {
	var total time.Duration
	for i := 1; i < p.Attempts(); i++ {
		total += p.Delay(i)
	}
	return total
}
