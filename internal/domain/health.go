package domain

import "time"

// VenueHealth tracks the liveness of one venue connection. The owning
// adapter is the only writer; readers get copies.
type VenueHealth struct {
	VenueID           string    `json:"venue_id"`
	Connected         bool      `json:"connected"`
	LastMessageAt     time.Time `json:"last_message_at"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	Resyncing         bool      `json:"resyncing"`
}

// IsStale reports whether the venue has not produced a message within the
// threshold. A venue with no messages at all is always stale.
func (h VenueHealth) IsStale(now time.Time, threshold time.Duration) bool {
	if h.LastMessageAt.IsZero() {
		return true
	}
	return now.Sub(h.LastMessageAt) > threshold
}

// SystemStatus is the system-wide readiness state.
type SystemStatus int

const (
	StatusWarming SystemStatus = iota
	StatusLive
	StatusDegraded
)

func (s SystemStatus) String() string {
	switch s {
	case StatusLive:
		return "live"
	case StatusDegraded:
		return "degraded"
	default:
		return "warming"
	}
}

// MarshalJSON renders the status as its lowercase name.
func (s SystemStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}
