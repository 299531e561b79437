package app

import (
	"context"
	"log/slog"
	"time"

	"liquidity_go/internal/book"
	"liquidity_go/internal/domain"
	"liquidity_go/internal/infra"
	"liquidity_go/internal/server"
	"liquidity_go/internal/service"

	"github.com/shopspring/decimal"
)

// Core is the explicit context object holding every running component.
// Constructed once at process start, started and stopped as a unit; no
// component reaches for global state.
type Core struct {
	cfg      *infra.Config
	counters *infra.Counters

	stores   []*book.Store
	adapters []domain.VenueAdapter
	hub      *server.Hub
	metrics  *service.MetricsService
	sor      *service.SOR
	srv      *server.Server

	cancel context.CancelFunc
}

// NewCore builds the full component graph from config. The repository, when
// present, supplies per-venue fee overrides; nil falls back to config fees.
func NewCore(cfg *infra.Config, repo domain.VenueRepository) (*Core, error) {
	counters := infra.GlobalCounters

	ids := cfg.EnabledVenues()
	stores := make([]*book.Store, 0, len(ids))
	adapters := make([]domain.VenueAdapter, 0, len(ids))
	for _, id := range ids {
		store := book.NewStore(id, cfg.Core.Symbol, cfg.Core.TopLevels, cfg.Core.RingSize)
		adapter, err := NewAdapter(id, cfg.Venues[id], cfg.Core.Symbol, store, counters)
		if err != nil {
			return nil, err
		}
		stores = append(stores, store)
		adapters = append(adapters, adapter)
	}

	tracker := service.NewStatusTracker(cfg.RequiredVenues(), cfg.Core.MinRequiredVenues,
		cfg.Core.WarmupTicks, cfg.StaleThreshold(), cfg.DegradedReset())
	hub := server.NewHub(cfg.HeartbeatInterval(), cfg.Hub.SendBuffer, counters)
	metrics := service.NewMetricsService(cfg, stores, tracker, hub, counters, nil)
	sor := service.NewSOR(cfg.Core.Symbol, cfg.StaleThreshold(), stores,
		venueFees(cfg, repo), metrics, nil)
	srv := server.NewServer(cfg, hub, metrics, sor, stores, counters, nil)

	return &Core{
		cfg:      cfg,
		counters: counters,
		stores:   stores,
		adapters: adapters,
		hub:      hub,
		metrics:  metrics,
		sor:      sor,
		srv:      srv,
	}, nil
}

// venueFees merges config fee schedules with repository overrides.
func venueFees(cfg *infra.Config, repo domain.VenueRepository) map[string]decimal.Decimal {
	fees := make(map[string]decimal.Decimal, len(cfg.Venues))
	for id, vc := range cfg.Venues {
		fees[id] = vc.TakerFeeBps
	}
	if repo == nil {
		return fees
	}
	venues, err := repo.ListVenues()
	if err != nil {
		slog.Warn("Fee override lookup failed", slog.Any("error", err))
		return fees
	}
	for _, v := range venues {
		if _, configured := fees[v.ID]; configured && !v.TakerFeeBps.IsZero() {
			fees[v.ID] = v.TakerFeeBps
		}
	}
	return fees
}

// Start brings every component up: hub, venue adapters, metrics loop, HTTP.
func (c *Core) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	c.hub.Start(ctx)
	for _, adapter := range c.adapters {
		if err := adapter.Connect(ctx); err != nil {
			return err
		}
		slog.Info("✅ Venue adapter started", slog.String("venue", adapter.VenueID()))
	}
	c.metrics.Start(ctx)
	c.srv.Start()

	slog.Info("✨ Liquidity core operational",
		slog.String("symbol", c.cfg.Core.Symbol),
		slog.Int("venues", len(c.adapters)))
	return nil
}

// Stop tears everything down in reverse order. Adapters are disconnected
// before the hub closes so no update can arrive after teardown begins.
func (c *Core) Stop() {
	slog.Info("👋 Shutting down liquidity core...")
	if c.cancel != nil {
		c.cancel()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.srv.Stop(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", slog.Any("error", err))
	}

	c.metrics.Stop()
	for _, adapter := range c.adapters {
		adapter.Disconnect()
	}
	c.hub.Stop()
	slog.Info("✅ Shutdown complete")
}
