package domain

import (
	"context"
	"time"
)

// VenueAdapter defines the interface for exchange WebSocket connectors.
// One concrete implementation exists per venue, selected through the
// adapter registry; failures never propagate beyond the adapter's venue.
type VenueAdapter interface {
	// VenueID returns the registry key, e.g. "binance".
	VenueID() string

	// Connect starts the supervised connection loop. It returns once the
	// loop is launched; reconnection with backoff happens internally.
	Connect(ctx context.Context) error

	// Disconnect closes the connection and blocks until no further book
	// updates will be emitted.
	Disconnect()

	// Resync requests a fresh full snapshot after a sequence gap.
	Resync(ctx context.Context) error

	IsConnected() bool
}

// BookReader is the read side of a per-venue order book store, consumed by
// the metrics computer and the smart order router.
type BookReader interface {
	VenueID() string
	Snapshot() *OrderBookSnapshot
	Health() VenueHealth
	Gapped() bool
}

// MetricsPublisher receives each computed tick for fan-out.
type MetricsPublisher interface {
	Publish(m *ConsolidatedMetrics)
}

// VenueRepository persists venue metadata (fee overrides, enabled flags).
type VenueRepository interface {
	UpsertVenue(v *VenueInfo) error
	GetVenue(id string) (*VenueInfo, error)
	ListVenues() ([]*VenueInfo, error)
	SetSetting(key, value string) error
	GetSetting(key string) (string, error)
}

// Clock abstracts time for the status tracker and metrics tests.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
