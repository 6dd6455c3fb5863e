package statusmon

import (
	"math"
	"time"
)

// BackoffPolicy computes reconnect delays with exponential growth.
type BackoffPolicy struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultBackoffPolicy returns the monitor's default reconnect policy:
// 3s initial delay, 2x multiplier, 30s cap.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		InitialDelay: 3 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
	}
}

// Delay returns the backoff delay after `attempt` consecutive failures
// (0-indexed: the first retry waits InitialDelay), capped at MaxDelay.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}
