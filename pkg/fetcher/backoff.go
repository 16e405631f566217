package fetcher

import (
	"math/rand"
	"time"
)

// BackoffDelay returns the capped exponential backoff slept after attempt i
// (1-based): min(initial * 2^(i-1), max).
func BackoffDelay(attempt int, initial, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max || d < 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// jitter spreads a delay by +/-20% to avoid synchronized retries across
// concurrent fetchers.
func jitter(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.8 + rand.Float64()*0.4))
}
