package service

import (
	"fmt"
	"sort"
	"time"

	"liquidity_go/internal/book"
	"liquidity_go/internal/domain"
	"liquidity_go/pkg/quant"

	"github.com/shopspring/decimal"
)

var tenThousand = decimal.NewFromInt(10_000)

// StatusSource reports the current system readiness state.
type StatusSource interface {
	Status() domain.SystemStatus
}

// SOR simulates smart order routing against the latest published book
// snapshots. No orders leave the process; the router exists to quantify
// what cross-venue routing would have saved versus a single-venue fill.
type SOR struct {
	symbol         string
	staleThreshold time.Duration
	stores         []*book.Store
	fees           map[string]decimal.Decimal // taker fee in bps per venue
	status         StatusSource
	clock          domain.Clock
}

// NewSOR builds a router over the given stores, in stable venue order.
// Venue order is the tie-break at equal prices.
func NewSOR(symbol string, staleThreshold time.Duration, stores []*book.Store,
	fees map[string]decimal.Decimal, status StatusSource, clock domain.Clock) *SOR {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &SOR{
		symbol:         symbol,
		staleThreshold: staleThreshold,
		stores:         stores,
		fees:           fees,
		status:         status,
		clock:          clock,
	}
}

// venueBook pairs a qualifying venue with the snapshot the whole execution
// reads. One snapshot per venue per request; the simulation never sees a
// book change mid-walk.
type venueBook struct {
	id   string
	snap *domain.OrderBookSnapshot
}

// Execute runs both strategies against the same snapshots and compares.
func (s *SOR) Execute(req *domain.ExecutionRequest) (*domain.ExecutionComparison, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	if st := s.status.Status(); st != domain.StatusLive {
		return nil, fmt.Errorf("%w: system is %s", domain.ErrInvalidState, st)
	}

	books := s.qualifyingBooks(req.Side.BookSide())
	if len(books) == 0 {
		return nil, fmt.Errorf("%w: no live venue books", domain.ErrInsufficientLiquidity)
	}

	smart, err := s.routeSmart(req.Side, req.Quantity, books)
	if err != nil {
		return nil, err
	}
	naive := s.routeNaive(req.Side, req.Quantity, books)

	return compare(req.Side, smart, naive), nil
}

func (s *SOR) validate(req *domain.ExecutionRequest) error {
	if req.Symbol != s.symbol {
		return fmt.Errorf("%w: unsupported symbol %q", domain.ErrParse, req.Symbol)
	}
	if req.Side != domain.OrderBuy && req.Side != domain.OrderSell {
		return fmt.Errorf("%w: side %q", domain.ErrParse, req.Side)
	}
	if !req.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", domain.ErrParse)
	}
	return nil
}

// qualifyingBooks returns snapshots of venues that are live enough to
// route against: connected, fresh, unfrozen, with resting liquidity on
// the consumed side.
func (s *SOR) qualifyingBooks(side domain.Side) []venueBook {
	now := s.clock.Now()
	var out []venueBook
	for _, st := range s.stores {
		h := st.Health()
		if !h.Connected || st.Gapped() || h.IsStale(now, s.staleThreshold) {
			continue
		}
		snap := st.Snapshot()
		if snap == nil || len(snap.SideLevels(side)) == 0 {
			continue
		}
		out = append(out, venueBook{id: st.VenueID(), snap: snap})
	}
	return out
}

// routeSmart walks all venue books merged in price order, best price first,
// venue order breaking ties. Fees accrue per venue as liquidity is taken.
func (s *SOR) routeSmart(side domain.OrderSide, qty decimal.Decimal, books []venueBook) (*domain.ExecutionResult, error) {
	type mergedLevel struct {
		venue int
		price quant.PriceMicros
		size  quant.QtySats
	}
	var levels []mergedLevel
	for vi, b := range books {
		for _, lvl := range b.snap.SideLevels(side.BookSide()) {
			levels = append(levels, mergedLevel{venue: vi, price: lvl.Price, size: lvl.Size})
		}
	}
	buy := side == domain.OrderBuy
	sort.SliceStable(levels, func(i, j int) bool {
		if levels[i].price != levels[j].price {
			if buy {
				return levels[i].price < levels[j].price
			}
			return levels[i].price > levels[j].price
		}
		return levels[i].venue < levels[j].venue
	})

	remaining := qty
	perVenueQty := make([]decimal.Decimal, len(books))
	perVenueNotional := make([]decimal.Decimal, len(books))
	venueOrder := make([]int, 0, len(books))
	for _, lvl := range levels {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(remaining, lvl.size.Decimal())
		if !take.IsPositive() {
			continue
		}
		if perVenueQty[lvl.venue].IsZero() {
			venueOrder = append(venueOrder, lvl.venue)
		}
		perVenueQty[lvl.venue] = perVenueQty[lvl.venue].Add(take)
		perVenueNotional[lvl.venue] = perVenueNotional[lvl.venue].Add(take.Mul(lvl.price.Decimal()))
		remaining = remaining.Sub(take)
	}
	if remaining.IsPositive() {
		return nil, fmt.Errorf("%w: %s of %s unfilled", domain.ErrInsufficientLiquidity,
			remaining.String(), qty.String())
	}

	result := &domain.ExecutionResult{FilledQuantity: qty}
	var notional decimal.Decimal
	for _, vi := range venueOrder {
		vQty, vNotional := perVenueQty[vi], perVenueNotional[vi]
		notional = notional.Add(vNotional)
		result.FeesPaid = result.FeesPaid.Add(vNotional.Mul(s.feeBps(books[vi].id)).Div(tenThousand))
		result.VenueBreakdown = append(result.VenueBreakdown, domain.Fill{
			Venue:    books[vi].id,
			Quantity: vQty,
			Price:    vNotional.Div(vQty),
		})
	}
	result.VWAP = notional.Div(qty)
	return result, nil
}

// routeNaive is the single-venue baseline: send everything to the venue
// with the best touch price among venues able to fill the full quantity,
// falling back to the deepest venue, and fill at that venue's touch.
func (s *SOR) routeNaive(side domain.OrderSide, qty decimal.Decimal, books []venueBook) *domain.ExecutionResult {
	type candidate struct {
		idx       int
		touch     decimal.Decimal
		available decimal.Decimal
	}
	buy := side == domain.OrderBuy
	cands := make([]candidate, 0, len(books))
	for i, b := range books {
		levels := b.snap.SideLevels(side.BookSide())
		var avail quant.QtySats
		for _, lvl := range levels {
			avail += lvl.Size
		}
		cands = append(cands, candidate{
			idx:       i,
			touch:     levels[0].Price.Decimal(),
			available: avail.Decimal(),
		})
	}

	betterTouch := func(a, b decimal.Decimal) bool {
		if buy {
			return a.LessThan(b)
		}
		return a.GreaterThan(b)
	}

	best := -1
	for _, c := range cands {
		if c.available.LessThan(qty) {
			continue
		}
		if best < 0 || betterTouch(c.touch, cands[best].touch) {
			best = c.idx
		}
	}
	if best < 0 {
		// No venue covers the full size; take the deepest one.
		for _, c := range cands {
			if best < 0 || c.available.GreaterThan(cands[best].available) {
				best = c.idx
			}
		}
	}

	chosen := cands[best]
	fillQty := decimal.Min(qty, chosen.available)
	notional := fillQty.Mul(chosen.touch)
	return &domain.ExecutionResult{
		FilledQuantity: fillQty,
		VWAP:           chosen.touch,
		FeesPaid:       notional.Mul(s.feeBps(books[best].id)).Div(tenThousand),
		VenueBreakdown: []domain.Fill{{
			Venue:    books[best].id,
			Quantity: fillQty,
			Price:    chosen.touch,
		}},
	}
}

func (s *SOR) feeBps(venue string) decimal.Decimal {
	return s.fees[venue]
}

// compare measures the smart route's fee-inclusive improvement per unit,
// so a partially filled baseline is still comparable.
func compare(side domain.OrderSide, smart, naive *domain.ExecutionResult) *domain.ExecutionComparison {
	out := &domain.ExecutionComparison{SOR: *smart, Naive: *naive}
	if naive.FilledQuantity.IsZero() || smart.FilledQuantity.IsZero() {
		return out
	}
	smartPU := smart.EffectiveCost(side).Div(smart.FilledQuantity)
	naivePU := naive.EffectiveCost(side).Div(naive.FilledQuantity)

	var savedPU decimal.Decimal
	if side == domain.OrderBuy {
		savedPU = naivePU.Sub(smartPU)
	} else {
		savedPU = smartPU.Sub(naivePU)
	}
	out.Saved = savedPU.Mul(smart.FilledQuantity).Round(2)
	if !naivePU.IsZero() {
		out.SavedBps = savedPU.Div(naivePU.Abs()).Mul(tenThousand).Round(2)
	}
	return out
}
