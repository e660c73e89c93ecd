package redelivery

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffPolicy decides whether a failed working set is retried.
//
// Next is called with the number of retries already made for the current
// working set and returns the delay before the next attempt, or false when
// retries are exhausted. Implementations must be safe for concurrent use.
type BackoffPolicy interface {
	Next(retries int) (time.Duration, bool)
}

// FixedBackoff waits Interval between attempts and allows MaxRetries retries
// after the initial attempt.
type FixedBackoff struct {
	Interval   time.Duration
	MaxRetries int
}

// DefaultBackoff is 5 retries, 100ms apart.
func DefaultBackoff() FixedBackoff {
	return FixedBackoff{Interval: 100 * time.Millisecond, MaxRetries: 5}
}

func (b FixedBackoff) Next(retries int) (time.Duration, bool) {
	if retries >= b.MaxRetries {
		return 0, false
	}
	return b.Interval, true
}

// ExponentialBackoff grows the delay by Multiplier on every retry, capped at
// Max. Jitter in [0,1] randomises each delay by up to that fraction.
type ExponentialBackoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
	MaxRetries int
}

func (b ExponentialBackoff) Next(retries int) (time.Duration, bool) {
	if retries >= b.MaxRetries {
		return 0, false
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 2
	}
	delay := float64(b.Initial) * math.Pow(mult, float64(retries))
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	if b.Jitter > 0 {
		j := math.Min(b.Jitter, 1)
		delay = delay * (1 - j + 2*j*rand.Float64())
	}
	return time.Duration(delay), true
}

// NoRetry never retries.
type NoRetry struct{}

func (NoRetry) Next(int) (time.Duration, bool) { return 0, false }

// maxRetryScan bounds TotalWait for policies that never give up.
const maxRetryScan = 10000

// TotalWait sums the delays policy allows for one record that keeps failing,
// which is how long a partition can stall on it before it is recovered. With
// jitter the result is one sample, not a bound.
func TotalWait(policy BackoffPolicy) time.Duration {
	var total time.Duration
	for retries := 0; retries < maxRetryScan; retries++ {
		delay, ok := policy.Next(retries)
		if !ok {
			break
		}
		total += delay
	}
	return total
}
