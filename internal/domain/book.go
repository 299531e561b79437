package domain

import (
	"fmt"
	"time"

	"liquidity_go/pkg/quant"
)

// Side identifies which half of the book a level belongs to.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// PriceLevel is a single resting level. Size 0 means the level is removed.
type PriceLevel struct {
	Price quant.PriceMicros `json:"price"`
	Size  quant.QtySats     `json:"size"`
}

// BookUpdate is a normalized message from a venue adapter: either a full
// snapshot (Snapshot=true, levels replace the book wholesale) or an
// incremental batch of level changes sharing one sequence number.
type BookUpdate struct {
	VenueID   string
	Symbol    string
	Sequence  uint64
	Timestamp time.Time
	Snapshot  bool
	Bids      []PriceLevel
	Asks      []PriceLevel
}

// OrderBookSnapshot is an immutable point-in-time view of one venue's book.
// Bids are strictly descending by price, asks strictly ascending.
type OrderBookSnapshot struct {
	VenueID   string       `json:"venue_id"`
	Symbol    string       `json:"symbol"`
	Sequence  uint64       `json:"sequence"`
	Timestamp time.Time    `json:"ts"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
}

// Validate checks ordering invariants and rejects crossed books.
func (s *OrderBookSnapshot) Validate() error {
	for i := 1; i < len(s.Bids); i++ {
		if s.Bids[i].Price >= s.Bids[i-1].Price {
			return fmt.Errorf("%w: bids not strictly descending at index %d", ErrInvalidBook, i)
		}
	}
	for i := 1; i < len(s.Asks); i++ {
		if s.Asks[i].Price <= s.Asks[i-1].Price {
			return fmt.Errorf("%w: asks not strictly ascending at index %d", ErrInvalidBook, i)
		}
	}
	if len(s.Bids) > 0 && len(s.Asks) > 0 && s.Bids[0].Price >= s.Asks[0].Price {
		return fmt.Errorf("%w: bid %v >= ask %v", ErrCrossedBook,
			s.Bids[0].Price.Float(), s.Asks[0].Price.Float())
	}
	return nil
}

// BestBid returns the highest resting bid, if any.
func (s *OrderBookSnapshot) BestBid() (PriceLevel, bool) {
	if len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the lowest resting ask, if any.
func (s *OrderBookSnapshot) BestAsk() (PriceLevel, bool) {
	if len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[0], true
}

// Mid returns the venue mid price, valid only with both sides present.
func (s *OrderBookSnapshot) Mid() (quant.PriceMicros, bool) {
	bid, okB := s.BestBid()
	ask, okA := s.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	return quant.Mid(bid.Price, ask.Price), true
}

// SpreadBps returns the venue's own spread in basis points.
func (s *OrderBookSnapshot) SpreadBps() (float64, bool) {
	bid, okB := s.BestBid()
	ask, okA := s.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	mid, _ := s.Mid()
	if mid == 0 {
		return 0, false
	}
	return 10_000 * float64(ask.Price-bid.Price) / float64(mid), true
}

// DepthWithin sums resting size inside [low, high]: bids at or above low,
// asks at or below high.
func (s *OrderBookSnapshot) DepthWithin(low, high quant.PriceMicros) (bidDepth, askDepth quant.QtySats) {
	for _, lvl := range s.Bids {
		if lvl.Price < low {
			break
		}
		bidDepth += lvl.Size
	}
	for _, lvl := range s.Asks {
		if lvl.Price > high {
			break
		}
		askDepth += lvl.Size
	}
	return bidDepth, askDepth
}

// SideLevels returns the levels for one side in best-first order.
func (s *OrderBookSnapshot) SideLevels(side Side) []PriceLevel {
	if side == SideBid {
		return s.Bids
	}
	return s.Asks
}

// TopOfBook is a compact best bid/ask record kept in the per-venue ring buffer.
type TopOfBook struct {
	Timestamp time.Time  `json:"ts"`
	BestBid   PriceLevel `json:"best_bid"`
	BestAsk   PriceLevel `json:"best_ask"`
}
