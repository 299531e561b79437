package service

import (
	"time"

	"liquidity_go/internal/domain"
)

// StatusTracker drives the system readiness state machine. It is evaluated
// once per metrics tick by the tick loop goroutine; Status is safe to call
// from other goroutines only through the tracker's owner.
//
// Transitions:
//
//	warming  -> live      at least minRequired required venues healthy for
//	                      warmupTicks consecutive ticks
//	live     -> degraded  any required venue unhealthy
//	degraded -> live      every required venue healthy again, held for a
//	                      fresh warmup streak
//	degraded -> warming   a majority of required venues unhealthy for
//	                      longer than degradedReset
type StatusTracker struct {
	required       []string
	minRequired    int
	warmupTicks    int
	staleThreshold time.Duration
	degradedReset  time.Duration

	status        domain.SystemStatus
	healthyStreak int
	degradedSince time.Time
}

// NewStatusTracker builds a tracker starting in the warming state.
func NewStatusTracker(required []string, minRequired, warmupTicks int, staleThreshold, degradedReset time.Duration) *StatusTracker {
	return &StatusTracker{
		required:       required,
		minRequired:    minRequired,
		warmupTicks:    warmupTicks,
		staleThreshold: staleThreshold,
		degradedReset:  degradedReset,
		status:         domain.StatusWarming,
	}
}

// Status returns the current readiness state.
func (t *StatusTracker) Status() domain.SystemStatus { return t.status }

// Healthy reports whether one venue counts toward readiness: connected,
// recent data, and a book not frozen by a sequence gap.
func (t *StatusTracker) Healthy(now time.Time, h domain.VenueHealth, gapped bool) bool {
	return h.Connected && !gapped && !h.IsStale(now, t.staleThreshold)
}

// Evaluate advances the state machine one tick and returns the new status.
// healths and gapped are keyed by venue id and must cover every required
// venue; a missing entry counts as unhealthy.
func (t *StatusTracker) Evaluate(now time.Time, healths map[string]domain.VenueHealth, gapped map[string]bool) domain.SystemStatus {
	healthy := 0
	for _, id := range t.required {
		if t.Healthy(now, healths[id], gapped[id]) {
			healthy++
		}
	}
	unhealthy := len(t.required) - healthy

	switch t.status {
	case domain.StatusWarming:
		if healthy >= t.minRequired {
			t.healthyStreak++
		} else {
			t.healthyStreak = 0
		}
		if t.warmupTicks > 0 && t.healthyStreak >= t.warmupTicks {
			t.status = domain.StatusLive
		}

	case domain.StatusLive:
		if unhealthy > 0 {
			t.status = domain.StatusDegraded
			t.degradedSince = now
			t.healthyStreak = 0
		}

	case domain.StatusDegraded:
		if unhealthy == 0 {
			t.healthyStreak++
			if t.healthyStreak >= t.warmupTicks {
				t.status = domain.StatusLive
			}
			return t.status
		}
		t.healthyStreak = 0
		if unhealthy*2 > len(t.required) && now.Sub(t.degradedSince) > t.degradedReset {
			t.status = domain.StatusWarming
		}
	}
	return t.status
}
