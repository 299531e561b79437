package app

import (
	"context"
	"log/slog"
	"time"

	"liquidity_go/internal/domain"
	"liquidity_go/internal/infra"
	"liquidity_go/internal/infra/storage"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Storage *storage.Storage
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, logging, DB)
func (b *Bootstrap) Initialize(configPath string) error {
	slog.Info("🚀 Bootstrapping liquidity core...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Initialize Storage (venue registry DB)
	store, err := storage.NewStorage("")
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized")

	return nil
}

// SyncVenues reconciles the configured venues into the registry DB. The
// config is the source of truth for connection data and fees; an existing
// record's Enabled flag is preserved as an operator override.
func (b *Bootstrap) SyncVenues(ctx context.Context) {
	slog.Info("🔄 Syncing venue registry...")

	for id, vc := range b.Config.Venues {
		select {
		case <-ctx.Done():
			return
		default:
		}

		venue := &domain.VenueInfo{
			ID:          id,
			Name:        id,
			Enabled:     vc.Enabled,
			TakerFeeBps: vc.TakerFeeBps,
			UpdatedAt:   time.Now(),
		}
		if existing, _ := b.Storage.GetVenue(id); existing != nil {
			venue.Enabled = existing.Enabled
			venue.Name = existing.Name
			venue.CreatedAt = existing.CreatedAt
		}
		if err := b.Storage.UpsertVenue(venue); err != nil {
			slog.Error("Failed to upsert venue", slog.String("venue", id), slog.Any("error", err))
		}
	}

	if err := b.Storage.SetSetting("last_venue_sync", time.Now().Format(time.RFC3339)); err != nil {
		slog.Warn("Failed to record sync time", slog.Any("error", err))
	}
	slog.Info("✨ Venue registry synced", slog.Int("venues", len(b.Config.Venues)))
}
