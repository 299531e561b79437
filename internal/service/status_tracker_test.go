package service

import (
	"testing"
	"time"

	"liquidity_go/internal/domain"
)

func newTestTracker() *StatusTracker {
	// minRequired 2, warmupTicks 3, stale 3s, degraded reset 30s.
	return NewStatusTracker([]string{"binance", "kraken", "coinbase"},
		2, 3, 3*time.Second, 30*time.Second)
}

func healthyVenue(now time.Time) domain.VenueHealth {
	return domain.VenueHealth{Connected: true, LastMessageAt: now}
}

func allHealthy(now time.Time) map[string]domain.VenueHealth {
	return map[string]domain.VenueHealth{
		"binance":  healthyVenue(now),
		"kraken":   healthyVenue(now),
		"coinbase": healthyVenue(now),
	}
}

func TestWarmingToLiveRequiresStreak(t *testing.T) {
	tr := newTestTracker()
	now := time.Now()

	for i := 0; i < 2; i++ {
		if got := tr.Evaluate(now, allHealthy(now), nil); got != domain.StatusWarming {
			t.Fatalf("tick %d: status = %v, want warming", i, got)
		}
	}
	if got := tr.Evaluate(now, allHealthy(now), nil); got != domain.StatusLive {
		t.Fatalf("third healthy tick should go live, got %v", got)
	}
}

func TestWarmingStreakResetsOnUnhealthyTick(t *testing.T) {
	tr := newTestTracker()
	now := time.Now()

	tr.Evaluate(now, allHealthy(now), nil)
	tr.Evaluate(now, allHealthy(now), nil)

	// Drop below minRequired for one tick.
	tr.Evaluate(now, map[string]domain.VenueHealth{"binance": healthyVenue(now)}, nil)

	tr.Evaluate(now, allHealthy(now), nil)
	tr.Evaluate(now, allHealthy(now), nil)
	if got := tr.Evaluate(now, allHealthy(now), nil); got != domain.StatusLive {
		t.Fatalf("streak should restart after reset, got %v", got)
	}
}

func TestMinRequiredVenuesSufficeForWarmup(t *testing.T) {
	tr := newTestTracker()
	now := time.Now()
	two := map[string]domain.VenueHealth{
		"binance": healthyVenue(now),
		"kraken":  healthyVenue(now),
	}

	tr.Evaluate(now, two, nil)
	tr.Evaluate(now, two, nil)
	if got := tr.Evaluate(now, two, nil); got != domain.StatusLive {
		t.Fatalf("minRequired healthy venues should warm up, got %v", got)
	}
}

func TestLiveToDegradedOnStaleVenue(t *testing.T) {
	tr := newTestTracker()
	now := time.Now()
	for i := 0; i < 3; i++ {
		tr.Evaluate(now, allHealthy(now), nil)
	}

	healths := allHealthy(now)
	healths["kraken"] = domain.VenueHealth{Connected: true, LastMessageAt: now.Add(-5 * time.Second)}
	if got := tr.Evaluate(now, healths, nil); got != domain.StatusDegraded {
		t.Fatalf("stale required venue should degrade, got %v", got)
	}
}

func TestLiveToDegradedOnGappedBook(t *testing.T) {
	tr := newTestTracker()
	now := time.Now()
	for i := 0; i < 3; i++ {
		tr.Evaluate(now, allHealthy(now), nil)
	}

	got := tr.Evaluate(now, allHealthy(now), map[string]bool{"binance": true})
	if got != domain.StatusDegraded {
		t.Fatalf("frozen book should degrade, got %v", got)
	}
}

func TestDegradedRecoversAfterWarmup(t *testing.T) {
	tr := newTestTracker()
	now := time.Now()
	for i := 0; i < 3; i++ {
		tr.Evaluate(now, allHealthy(now), nil)
	}
	tr.Evaluate(now, allHealthy(now), map[string]bool{"binance": true})

	// Full health must hold for a fresh warmup streak before going live.
	for i := 0; i < 2; i++ {
		if got := tr.Evaluate(now, allHealthy(now), nil); got != domain.StatusDegraded {
			t.Fatalf("tick %d: status = %v, want degraded", i, got)
		}
	}
	if got := tr.Evaluate(now, allHealthy(now), nil); got != domain.StatusLive {
		t.Fatalf("recovery streak should go live, got %v", got)
	}
}

func TestDegradedFallsBackToWarming(t *testing.T) {
	tr := newTestTracker()
	start := time.Now()
	for i := 0; i < 3; i++ {
		tr.Evaluate(start, allHealthy(start), nil)
	}

	// Two of three venues disconnected.
	broken := map[string]domain.VenueHealth{"binance": healthyVenue(start)}
	if got := tr.Evaluate(start, broken, nil); got != domain.StatusDegraded {
		t.Fatalf("status = %v, want degraded", got)
	}

	// Majority unhealthy, but reset window not yet elapsed.
	if got := tr.Evaluate(start.Add(10*time.Second), broken, nil); got != domain.StatusDegraded {
		t.Fatalf("status = %v, want degraded before reset window", got)
	}

	later := start.Add(31 * time.Second)
	broken = map[string]domain.VenueHealth{"binance": healthyVenue(later)}
	if got := tr.Evaluate(later, broken, nil); got != domain.StatusWarming {
		t.Fatalf("status = %v, want warming after reset window", got)
	}
}

func TestMissingHealthEntryCountsUnhealthy(t *testing.T) {
	tr := newTestTracker()
	now := time.Now()

	// Only one venue reporting: below minRequired, stays warming forever.
	one := map[string]domain.VenueHealth{"binance": healthyVenue(now)}
	for i := 0; i < 10; i++ {
		if got := tr.Evaluate(now, one, nil); got != domain.StatusWarming {
			t.Fatalf("status = %v, want warming", got)
		}
	}
}
