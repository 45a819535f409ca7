package campaign

import (
	"math/rand/v2"
	"time"
)

// IntervalPolicy picks the pause between two consecutive sends.
type IntervalPolicy func(minSeconds, maxSeconds int) time.Duration

// NextDelay draws a whole number of milliseconds uniformly from
// [minSeconds*1000, maxSeconds*1000].
func NextDelay(minSeconds, maxSeconds int) time.Duration {
	if minSeconds < 0 {
		minSeconds = 0
	}
	if maxSeconds < minSeconds {
		maxSeconds = minSeconds
	}

	lo := int64(minSeconds) * 1000
	hi := int64(maxSeconds) * 1000
	ms := lo + rand.Int64N(hi-lo+1)
	return time.Duration(ms) * time.Millisecond
}
