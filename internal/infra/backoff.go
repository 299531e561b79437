package infra

import (
	"math/rand"
	"time"
)

const (
	backoffBase = 1 * time.Second
	backoffMax  = 60 * time.Second
)

// CalculateBackoff returns the reconnect delay for the given retry count:
// exponential from 1s, capped at 60s, with up to 25% jitter so venues that
// disconnect together do not reconnect in lockstep.
func CalculateBackoff(retryCount int) time.Duration {
	delay := backoffBase << uint(retryCount)
	if delay > backoffMax || delay <= 0 {
		delay = backoffMax
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 4))
	return delay + jitter
}
