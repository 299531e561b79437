package book

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"liquidity_go/internal/domain"
	"liquidity_go/pkg/quant"
)

// Store holds one venue's order book. The venue adapter is the sole writer;
// the metrics computer and the smart order router only read published
// snapshots, so a reader never observes a half-applied update.
//
// A sequence gap freezes the book: further incremental updates are dropped
// (not buffered) and a resync request is signaled until a fresh snapshot
// arrives. Consistency over completeness.
type Store struct {
	venueID  string
	symbol   string
	maxDepth int

	mu      sync.Mutex
	bids    []domain.PriceLevel // descending by price
	asks    []domain.PriceLevel // ascending by price
	lastSeq uint64
	gapped  bool
	health  domain.VenueHealth
	ring    *Ring

	snap     atomic.Pointer[domain.OrderBookSnapshot]
	resyncCh chan struct{}
}

// NewStore creates a store bounded at maxDepth levels per side, with a ring
// buffer of ringSize top-of-book entries.
func NewStore(venueID, symbol string, maxDepth, ringSize int) *Store {
	return &Store{
		venueID:  venueID,
		symbol:   symbol,
		maxDepth: maxDepth,
		ring:     NewRing(ringSize),
		health:   domain.VenueHealth{VenueID: venueID},
		resyncCh: make(chan struct{}, 1),
	}
}

// VenueID returns the owning venue's identifier.
func (s *Store) VenueID() string { return s.venueID }

// Symbol returns the instrument this store tracks.
func (s *Store) Symbol() string { return s.symbol }

// Apply ingests one normalized update. Full snapshots replace the book and
// clear any gap; incremental updates must follow lastSeq+1 exactly.
// Replaying an already-applied sequence is a no-op.
func (s *Store) Apply(u *domain.BookUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.Snapshot {
		return s.applySnapshot(u)
	}

	if u.Sequence <= s.lastSeq && s.lastSeq != 0 {
		return nil // idempotent replay
	}
	if s.gapped {
		s.signalResync()
		return domain.ErrSequenceGap
	}
	if s.lastSeq == 0 {
		// Deltas before any snapshot cannot be applied.
		s.gapped = true
		s.signalResync()
		return domain.ErrNoSnapshot
	}
	if u.Sequence != s.lastSeq+1 {
		s.gapped = true
		s.signalResync()
		return domain.ErrSequenceGap
	}

	newBids := applyLevels(s.bids, u.Bids, byBidOrder)
	newAsks := applyLevels(s.asks, u.Asks, byAskOrder)
	newBids = truncate(newBids, s.maxDepth)
	newAsks = truncate(newAsks, s.maxDepth)

	candidate := s.buildSnapshot(newBids, newAsks, u.Sequence, u.Timestamp)
	if err := candidate.Validate(); err != nil {
		// Prior valid book is retained untouched.
		return err
	}

	s.bids, s.asks = newBids, newAsks
	s.lastSeq = u.Sequence
	s.snap.Store(candidate)
	return nil
}

// applySnapshot must be called with mu held.
func (s *Store) applySnapshot(u *domain.BookUpdate) error {
	bids := compactLevels(u.Bids, byBidOrder)
	asks := compactLevels(u.Asks, byAskOrder)
	bids = truncate(bids, s.maxDepth)
	asks = truncate(asks, s.maxDepth)

	candidate := s.buildSnapshot(bids, asks, u.Sequence, u.Timestamp)
	if err := candidate.Validate(); err != nil {
		return err
	}

	s.bids, s.asks = bids, asks
	s.lastSeq = u.Sequence
	s.gapped = false
	s.health.Resyncing = false
	s.snap.Store(candidate)
	return nil
}

// buildSnapshot must be called with mu held; it copies the level slices so
// the published snapshot is immutable.
func (s *Store) buildSnapshot(bids, asks []domain.PriceLevel, seq uint64, ts time.Time) *domain.OrderBookSnapshot {
	return &domain.OrderBookSnapshot{
		VenueID:   s.venueID,
		Symbol:    s.symbol,
		Sequence:  seq,
		Timestamp: ts,
		Bids:      append([]domain.PriceLevel(nil), bids...),
		Asks:      append([]domain.PriceLevel(nil), asks...),
	}
}

// Snapshot returns the latest published book, or nil before the first one.
func (s *Store) Snapshot() *domain.OrderBookSnapshot {
	return s.snap.Load()
}

// TopOfBook returns the current best bid/ask.
func (s *Store) TopOfBook() (domain.TopOfBook, bool) {
	snap := s.snap.Load()
	if snap == nil {
		return domain.TopOfBook{}, false
	}
	bid, okB := snap.BestBid()
	ask, okA := snap.BestAsk()
	if !okB || !okA {
		return domain.TopOfBook{}, false
	}
	return domain.TopOfBook{Timestamp: snap.Timestamp, BestBid: bid, BestAsk: ask}, true
}

// DepthWithin reads windowed depth from the current snapshot.
func (s *Store) DepthWithin(low, high quant.PriceMicros) (bidDepth, askDepth quant.QtySats) {
	snap := s.snap.Load()
	if snap == nil {
		return 0, 0
	}
	return snap.DepthWithin(low, high)
}

// Gapped reports whether the book is frozen awaiting resync.
func (s *Store) Gapped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gapped
}

// ResyncRequests returns the channel the adapter watches for resync signals.
// The channel has capacity 1; repeated gaps coalesce into one request.
func (s *Store) ResyncRequests() <-chan struct{} {
	return s.resyncCh
}

// signalResync must be called with mu held.
func (s *Store) signalResync() {
	select {
	case s.resyncCh <- struct{}{}:
	default:
	}
}

// MarkGap freezes the book when the adapter detects a venue-level
// discontinuity that the normalized sequence cannot express.
func (s *Store) MarkGap() {
	s.mu.Lock()
	s.gapped = true
	s.signalResync()
	s.mu.Unlock()
}

// Health returns a copy of the venue health record.
func (s *Store) Health() domain.VenueHealth {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health
}

// RecordMessage notes a successfully parsed inbound message.
func (s *Store) RecordMessage(t time.Time) {
	s.mu.Lock()
	s.health.LastMessageAt = t
	s.health.ConsecutiveErrors = 0
	s.mu.Unlock()
}

// RecordParseError increments the consecutive error counter.
func (s *Store) RecordParseError() {
	s.mu.Lock()
	s.health.ConsecutiveErrors++
	s.mu.Unlock()
}

// SetConnected updates the connection flag. A disconnect also freezes the
// book: the stream is broken, so any further deltas would be gapped anyway.
func (s *Store) SetConnected(connected bool) {
	s.mu.Lock()
	s.health.Connected = connected
	if !connected {
		s.gapped = true
	}
	s.mu.Unlock()
}

// MarkResyncing flags that a resync is in flight.
func (s *Store) MarkResyncing() {
	s.mu.Lock()
	s.health.Resyncing = true
	s.mu.Unlock()
}

// RecordTick appends the current top-of-book to the ring buffer. Called by
// the metrics loop each tick; a venue without a book is skipped.
func (s *Store) RecordTick(now time.Time) {
	top, ok := s.TopOfBook()
	if !ok {
		return
	}
	top.Timestamp = now
	s.mu.Lock()
	s.ring.Push(top)
	s.mu.Unlock()
}

// RecentTops returns up to n most recent ring entries, oldest first.
func (s *Store) RecentTops(n int) []domain.TopOfBook {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.Recent(n)
}

// LatestTop returns the most recent ring entry.
func (s *Store) LatestTop() (domain.TopOfBook, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.Latest()
}

type levelOrder func(a, b quant.PriceMicros) bool

func byBidOrder(a, b quant.PriceMicros) bool { return a > b }
func byAskOrder(a, b quant.PriceMicros) bool { return a < b }

// applyLevels copies side and upserts-or-removes each change by price key.
// Size 0 removes the level. The input slice is never mutated.
func applyLevels(side, changes []domain.PriceLevel, less levelOrder) []domain.PriceLevel {
	out := append([]domain.PriceLevel(nil), side...)
	for _, ch := range changes {
		idx := sort.Search(len(out), func(i int) bool {
			return !less(out[i].Price, ch.Price)
		})
		found := idx < len(out) && out[idx].Price == ch.Price
		switch {
		case ch.Size == 0 && found:
			out = append(out[:idx], out[idx+1:]...)
		case ch.Size == 0:
			// Removal of an unknown level is a no-op.
		case found:
			out[idx].Size = ch.Size
		default:
			out = append(out, domain.PriceLevel{})
			copy(out[idx+1:], out[idx:])
			out[idx] = ch
		}
	}
	return out
}

// compactLevels sorts snapshot levels best-first, dropping zero sizes and
// collapsing duplicate prices (last one wins).
func compactLevels(levels []domain.PriceLevel, less levelOrder) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(levels))
	seen := make(map[quant.PriceMicros]int, len(levels))
	for _, lvl := range levels {
		if lvl.Size == 0 {
			continue
		}
		if idx, ok := seen[lvl.Price]; ok {
			out[idx] = lvl
			continue
		}
		seen[lvl.Price] = len(out)
		out = append(out, lvl)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i].Price, out[j].Price) })
	return out
}

func truncate(levels []domain.PriceLevel, max int) []domain.PriceLevel {
	if max > 0 && len(levels) > max {
		return levels[:max]
	}
	return levels
}
