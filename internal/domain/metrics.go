package domain

import (
	"math"
	"time"
)

// VenueMetrics carries per-venue detail inside a consolidated frame.
type VenueMetrics struct {
	Venue     string  `json:"venue"`
	SpreadBps float64 `json:"spread_bps"`
	Share     float64 `json:"share"`
	LatencyMs float64 `json:"latency_ms"`
	Stale     bool    `json:"stale"`
}

// ConsolidatedMetrics is one tick's cross-venue liquidity view. It is
// recomputed wholesale each tick and never partially mutated.
type ConsolidatedMetrics struct {
	Timestamp time.Time          `json:"ts"`
	Symbol    string             `json:"symbol"`
	WindowBps int                `json:"window_bps"`
	Mid       float64            `json:"mid"`
	SpreadBps float64            `json:"spread_bps"`
	Depth     float64            `json:"depth"`
	HHI       float64            `json:"hhi"`
	Imbalance float64            `json:"imbalance"`
	Shares    map[string]float64 `json:"venue_shares"`
	Venues    []VenueMetrics     `json:"venues"`
	Status    string             `json:"status"`

	// Stale marks a retained prior value: too few venues qualified this
	// tick, so the frame was not recomputed.
	Stale bool `json:"stale,omitempty"`

	// LowConfidence marks a tick computed with zero windowed depth.
	LowConfidence bool `json:"low_confidence,omitempty"`
}

// Round truncates float fields to wire precision so frames stay small.
func (m *ConsolidatedMetrics) Round() {
	m.Mid = roundTo(m.Mid, 2)
	m.SpreadBps = roundTo(m.SpreadBps, 1)
	m.Depth = roundTo(m.Depth, 6)
	m.HHI = roundTo(m.HHI, 3)
	m.Imbalance = roundTo(m.Imbalance, 3)
	for v, s := range m.Shares {
		m.Shares[v] = roundTo(s, 4)
	}
	for i := range m.Venues {
		m.Venues[i].SpreadBps = roundTo(m.Venues[i].SpreadBps, 1)
		m.Venues[i].Share = roundTo(m.Venues[i].Share, 4)
		m.Venues[i].LatencyMs = roundTo(m.Venues[i].LatencyMs, 1)
	}
}

// Clone returns a deep copy safe to mutate independently.
func (m *ConsolidatedMetrics) Clone() *ConsolidatedMetrics {
	out := *m
	out.Shares = make(map[string]float64, len(m.Shares))
	for v, s := range m.Shares {
		out.Shares[v] = s
	}
	out.Venues = append([]VenueMetrics(nil), m.Venues...)
	return &out
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow10(places)
	return math.Round(v*scale) / scale
}
