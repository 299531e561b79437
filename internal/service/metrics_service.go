package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"liquidity_go/internal/book"
	"liquidity_go/internal/domain"
	"liquidity_go/internal/infra"
	"liquidity_go/pkg/quant"
)

// MetricsService recomputes the consolidated liquidity view on a fixed tick.
// Each tick reads the latest published snapshot of every venue store,
// evaluates system readiness, and emits one immutable frame to the publisher.
// Nothing here blocks on network or subscribers.
type MetricsService struct {
	symbol         string
	windowBps      int
	minVenues      int
	staleThreshold time.Duration
	tickPeriod     time.Duration

	stores   []*book.Store
	tracker  *StatusTracker
	pub      domain.MetricsPublisher
	counters *infra.Counters
	clock    domain.Clock

	last   atomic.Pointer[domain.ConsolidatedMetrics]
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMetricsService wires the tick loop. Stores must be in stable order;
// the per-venue detail array follows it.
func NewMetricsService(cfg *infra.Config, stores []*book.Store, tracker *StatusTracker,
	pub domain.MetricsPublisher, counters *infra.Counters, clock domain.Clock) *MetricsService {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &MetricsService{
		symbol:         cfg.Core.Symbol,
		windowBps:      cfg.Core.DepthWindowBps,
		minVenues:      cfg.Core.MinRequiredVenues,
		staleThreshold: cfg.StaleThreshold(),
		tickPeriod:     cfg.TickPeriod(),
		stores:         stores,
		tracker:        tracker,
		pub:            pub,
		counters:       counters,
		clock:          clock,
	}
}

// Start launches the tick loop.
func (s *MetricsService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				frame := s.computeTick(s.clock.Now())
				s.pub.Publish(frame)
			}
		}
	}()
	slog.Info("Metrics loop started", slog.Duration("period", s.tickPeriod))
}

// Stop halts the tick loop and waits for it to exit.
func (s *MetricsService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Latest returns the most recent frame, nil before the first tick.
func (s *MetricsService) Latest() *domain.ConsolidatedMetrics {
	return s.last.Load()
}

// Status returns the current readiness state. Safe for concurrent readers
// only through the frame's Status field; this accessor serves the tick
// goroutine and startup code.
func (s *MetricsService) Status() domain.SystemStatus {
	if frame := s.last.Load(); frame != nil {
		switch frame.Status {
		case domain.StatusLive.String():
			return domain.StatusLive
		case domain.StatusDegraded.String():
			return domain.StatusDegraded
		}
		return domain.StatusWarming
	}
	return domain.StatusWarming
}

// computeTick builds one frame. Runs on the tick goroutine only.
func (s *MetricsService) computeTick(now time.Time) *domain.ConsolidatedMetrics {
	healths := make(map[string]domain.VenueHealth, len(s.stores))
	gapped := make(map[string]bool, len(s.stores))
	for _, st := range s.stores {
		st.RecordTick(now)
		healths[st.VenueID()] = st.Health()
		gapped[st.VenueID()] = st.Gapped()
	}
	status := s.tracker.Evaluate(now, healths, gapped)

	type qualified struct {
		store *book.Store
		snap  *domain.OrderBookSnapshot
		mid   quant.PriceMicros
	}
	var quals []qualified
	for _, st := range s.stores {
		id := st.VenueID()
		if !s.tracker.Healthy(now, healths[id], gapped[id]) {
			continue
		}
		snap := st.Snapshot()
		if snap == nil {
			continue
		}
		mid, ok := snap.Mid()
		if !ok {
			continue
		}
		quals = append(quals, qualified{store: st, snap: snap, mid: mid})
	}

	if len(quals) < s.minVenues {
		frame := s.staleFrame(now, status)
		s.counters.RecordSkippedTick()
		s.last.Store(frame)
		return frame
	}

	// Consolidated mid is the arithmetic mean of qualifying venue mids;
	// the depth window is anchored on it, not on any single venue.
	var midSum float64
	var bestBid, bestAsk quant.PriceMicros
	for i, q := range quals {
		midSum += q.mid.Float()
		bid, _ := q.snap.BestBid()
		ask, _ := q.snap.BestAsk()
		if i == 0 || bid.Price > bestBid {
			bestBid = bid.Price
		}
		if i == 0 || ask.Price < bestAsk {
			bestAsk = ask.Price
		}
	}
	mid := midSum / float64(len(quals))
	low, high := quant.BpsBounds(quant.ToPriceMicros(mid), s.windowBps)

	var totalDepth, totalBid, totalAsk float64
	venueDepth := make(map[string]float64, len(quals))
	for _, q := range quals {
		bd, ad := q.snap.DepthWithin(low, high)
		d := bd.Float() + ad.Float()
		venueDepth[q.snap.VenueID] = d
		totalDepth += d
		totalBid += bd.Float()
		totalAsk += ad.Float()
	}

	frame := &domain.ConsolidatedMetrics{
		Timestamp: now,
		Symbol:    s.symbol,
		WindowBps: s.windowBps,
		Mid:       mid,
		Depth:     totalDepth,
		Shares:    make(map[string]float64, len(quals)),
		Status:    status.String(),
	}
	if mid > 0 {
		frame.SpreadBps = 10_000 * (bestAsk.Float() - bestBid.Float()) / mid
	}

	if totalDepth > 0 {
		for id, d := range venueDepth {
			share := d / totalDepth
			frame.Shares[id] = share
			frame.HHI += share * share
		}
		frame.Imbalance = (totalBid - totalAsk) / (totalBid + totalAsk)
	} else {
		// An empty window is a valid but untrustworthy tick.
		frame.LowConfidence = true
	}

	frame.Venues = s.venueDetail(now, healths, gapped, frame.Shares)
	frame.Round()
	s.counters.RecordTick()
	s.last.Store(frame)
	return frame
}

// staleFrame retains the prior consolidated values under a fresh timestamp
// and status. Before any frame exists it returns an empty shell.
func (s *MetricsService) staleFrame(now time.Time, status domain.SystemStatus) *domain.ConsolidatedMetrics {
	prior := s.last.Load()
	var frame *domain.ConsolidatedMetrics
	if prior != nil {
		frame = prior.Clone()
	} else {
		frame = &domain.ConsolidatedMetrics{
			Symbol:    s.symbol,
			WindowBps: s.windowBps,
			Shares:    map[string]float64{},
		}
	}
	frame.Timestamp = now
	frame.Status = status.String()
	frame.Stale = true
	return frame
}

// venueDetail builds the per-venue array in store order, covering every
// venue whether or not it qualified this tick.
func (s *MetricsService) venueDetail(now time.Time, healths map[string]domain.VenueHealth,
	gapped map[string]bool, shares map[string]float64) []domain.VenueMetrics {
	out := make([]domain.VenueMetrics, 0, len(s.stores))
	for _, st := range s.stores {
		id := st.VenueID()
		h := healths[id]
		vm := domain.VenueMetrics{
			Venue: id,
			Share: shares[id],
			Stale: !s.tracker.Healthy(now, h, gapped[id]),
		}
		if !h.LastMessageAt.IsZero() {
			vm.LatencyMs = float64(now.Sub(h.LastMessageAt).Microseconds()) / 1000
		}
		if snap := st.Snapshot(); snap != nil {
			if sp, ok := snap.SpreadBps(); ok {
				vm.SpreadBps = sp
			}
		}
		out = append(out, vm)
	}
	return out
}
