package domain

import "github.com/shopspring/decimal"

// OrderSide is the direction of a simulated execution.
type OrderSide string

const (
	OrderBuy  OrderSide = "buy"
	OrderSell OrderSide = "sell"
)

// BookSide returns the side of the book the order consumes.
func (s OrderSide) BookSide() Side {
	if s == OrderBuy {
		return SideAsk
	}
	return SideBid
}

// ExecutionRequest is a simulated order: fill Quantity units of Symbol.
type ExecutionRequest struct {
	Symbol   string          `json:"symbol"`
	Side     OrderSide       `json:"side"`
	Quantity decimal.Decimal `json:"notional"`
}

// Fill is one venue's contribution to a simulated execution.
type Fill struct {
	Venue    string          `json:"venue"`
	Quantity decimal.Decimal `json:"qty"`
	Price    decimal.Decimal `json:"price"`
}

// ExecutionResult is the outcome of walking the book(s) for one strategy.
type ExecutionResult struct {
	FilledQuantity decimal.Decimal `json:"filled_qty"`
	VWAP           decimal.Decimal `json:"vwap"`
	FeesPaid       decimal.Decimal `json:"fees_paid"`
	VenueBreakdown []Fill          `json:"venue_breakdown"`
}

// Notional returns filled quantity times VWAP.
func (r *ExecutionResult) Notional() decimal.Decimal {
	return r.FilledQuantity.Mul(r.VWAP)
}

// EffectiveCost returns notional plus fees for a buy, notional minus fees
// for a sell; lower is better for buys, higher for sells.
func (r *ExecutionResult) EffectiveCost(side OrderSide) decimal.Decimal {
	if side == OrderBuy {
		return r.Notional().Add(r.FeesPaid)
	}
	return r.Notional().Sub(r.FeesPaid)
}

// ExecutionComparison pairs the smart route against the naive baseline.
// SavedBps is the fee-inclusive price improvement of the smart route.
type ExecutionComparison struct {
	SOR      ExecutionResult `json:"sor"`
	Naive    ExecutionResult `json:"naive"`
	SavedBps decimal.Decimal `json:"saved_bps"`
	Saved    decimal.Decimal `json:"saved"`
}
