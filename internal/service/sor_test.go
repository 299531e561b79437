package service

import (
	"errors"
	"testing"
	"time"

	"liquidity_go/internal/book"
	"liquidity_go/internal/domain"

	"github.com/shopspring/decimal"
)

type fixedStatus struct {
	status domain.SystemStatus
}

func (f fixedStatus) Status() domain.SystemStatus { return f.status }

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func sorStore(t *testing.T, id string, bids, asks []domain.PriceLevel) *book.Store {
	t.Helper()
	st := book.NewStore(id, "BTC-USD", 50, 16)
	now := time.Now()
	err := st.Apply(&domain.BookUpdate{
		VenueID: id, Symbol: "BTC-USD", Sequence: 1, Timestamp: now,
		Snapshot: true, Bids: bids, Asks: asks,
	})
	if err != nil {
		t.Fatal(err)
	}
	st.SetConnected(true)
	st.RecordMessage(now)
	return st
}

func newTestSOR(stores []*book.Store, fees map[string]decimal.Decimal, status domain.SystemStatus) *SOR {
	if fees == nil {
		fees = map[string]decimal.Decimal{}
	}
	return NewSOR("BTC-USD", 3*time.Second, stores, fees, fixedStatus{status}, nil)
}

func buyReq(qty string) *domain.ExecutionRequest {
	return &domain.ExecutionRequest{Symbol: "BTC-USD", Side: domain.OrderBuy, Quantity: dec(qty)}
}

func TestExecuteRejectsWhenNotLive(t *testing.T) {
	a := sorStore(t, "binance",
		[]domain.PriceLevel{level(99.9, 1)}, []domain.PriceLevel{level(100, 1)})

	for _, status := range []domain.SystemStatus{domain.StatusWarming, domain.StatusDegraded} {
		t.Run(status.String(), func(t *testing.T) {
			sor := newTestSOR([]*book.Store{a}, nil, status)
			_, err := sor.Execute(buyReq("0.5"))
			if !errors.Is(err, domain.ErrInvalidState) {
				t.Errorf("err = %v, want ErrInvalidState", err)
			}
		})
	}
}

func TestExecuteValidatesRequest(t *testing.T) {
	a := sorStore(t, "binance",
		[]domain.PriceLevel{level(99.9, 1)}, []domain.PriceLevel{level(100, 1)})
	sor := newTestSOR([]*book.Store{a}, nil, domain.StatusLive)

	cases := []struct {
		name string
		req  *domain.ExecutionRequest
	}{
		{"wrong symbol", &domain.ExecutionRequest{Symbol: "ETH-USD", Side: domain.OrderBuy, Quantity: dec("1")}},
		{"bad side", &domain.ExecutionRequest{Symbol: "BTC-USD", Side: "hold", Quantity: dec("1")}},
		{"zero quantity", &domain.ExecutionRequest{Symbol: "BTC-USD", Side: domain.OrderBuy, Quantity: dec("0")}},
		{"negative quantity", &domain.ExecutionRequest{Symbol: "BTC-USD", Side: domain.OrderSell, Quantity: dec("-2")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := sor.Execute(tc.req); !errors.Is(err, domain.ErrParse) {
				t.Errorf("err = %v, want ErrParse", err)
			}
		})
	}
}

func TestExecuteSplitsAcrossVenues(t *testing.T) {
	// Venue A: 0.5 at the best ask. Venue B: 1.0 at a worse ask.
	a := sorStore(t, "binance",
		[]domain.PriceLevel{level(99.0, 1)},
		[]domain.PriceLevel{level(100.00, 0.5)})
	b := sorStore(t, "kraken",
		[]domain.PriceLevel{level(99.0, 1)},
		[]domain.PriceLevel{level(100.10, 1.0)})
	fees := map[string]decimal.Decimal{"binance": dec("7.5"), "kraken": dec("16")}
	sor := newTestSOR([]*book.Store{a, b}, fees, domain.StatusLive)

	cmp, err := sor.Execute(buyReq("1.0"))
	if err != nil {
		t.Fatal(err)
	}

	if !cmp.SOR.FilledQuantity.Equal(dec("1")) {
		t.Errorf("filled = %s, want 1", cmp.SOR.FilledQuantity)
	}
	if len(cmp.SOR.VenueBreakdown) != 2 {
		t.Fatalf("breakdown = %+v, want 2 venues", cmp.SOR.VenueBreakdown)
	}
	first, second := cmp.SOR.VenueBreakdown[0], cmp.SOR.VenueBreakdown[1]
	if first.Venue != "binance" || !first.Quantity.Equal(dec("0.5")) {
		t.Errorf("first fill = %+v, want 0.5 at binance", first)
	}
	if second.Venue != "kraken" || !second.Quantity.Equal(dec("0.5")) {
		t.Errorf("second fill = %+v, want 0.5 at kraken", second)
	}

	// VWAP = (0.5*100.00 + 0.5*100.10) / 1.0 = 100.05.
	if !cmp.SOR.VWAP.Equal(dec("100.05")) {
		t.Errorf("vwap = %s, want 100.05", cmp.SOR.VWAP)
	}
	// Fees: 50*7.5bps + 50.05*16bps = 0.0375 + 0.08008.
	if !cmp.SOR.FeesPaid.Equal(dec("0.11758")) {
		t.Errorf("fees = %s, want 0.11758", cmp.SOR.FeesPaid)
	}

	// Naive fills the full size at kraken's touch (only venue deep enough).
	if cmp.Naive.VenueBreakdown[0].Venue != "kraken" {
		t.Errorf("naive venue = %s, want kraken", cmp.Naive.VenueBreakdown[0].Venue)
	}
	if !cmp.Naive.VWAP.Equal(dec("100.10")) {
		t.Errorf("naive vwap = %s, want 100.10", cmp.Naive.VWAP)
	}
	if cmp.SavedBps.IsNegative() {
		t.Errorf("favorably fragmented liquidity must not show negative improvement, got %s bps", cmp.SavedBps)
	}
}

func TestExecuteTieBreaksByVenueOrder(t *testing.T) {
	a := sorStore(t, "binance",
		[]domain.PriceLevel{level(99.0, 1)},
		[]domain.PriceLevel{level(100.00, 0.4)})
	b := sorStore(t, "kraken",
		[]domain.PriceLevel{level(99.0, 1)},
		[]domain.PriceLevel{level(100.00, 0.4)})
	sor := newTestSOR([]*book.Store{a, b}, nil, domain.StatusLive)

	cmp, err := sor.Execute(buyReq("0.6"))
	if err != nil {
		t.Fatal(err)
	}
	if cmp.SOR.VenueBreakdown[0].Venue != "binance" {
		t.Errorf("equal prices should fill first venue first, got %s",
			cmp.SOR.VenueBreakdown[0].Venue)
	}
	if !cmp.SOR.VenueBreakdown[1].Quantity.Equal(dec("0.2")) {
		t.Errorf("overflow fill = %s, want 0.2", cmp.SOR.VenueBreakdown[1].Quantity)
	}
}

func TestExecuteSellWalksBidsDescending(t *testing.T) {
	a := sorStore(t, "binance",
		[]domain.PriceLevel{level(100.00, 0.5)},
		[]domain.PriceLevel{level(100.20, 1)})
	b := sorStore(t, "kraken",
		[]domain.PriceLevel{level(100.10, 0.5)},
		[]domain.PriceLevel{level(100.30, 1)})
	sor := newTestSOR([]*book.Store{a, b}, nil, domain.StatusLive)

	cmp, err := sor.Execute(&domain.ExecutionRequest{
		Symbol: "BTC-USD", Side: domain.OrderSell, Quantity: dec("0.8"),
	})
	if err != nil {
		t.Fatal(err)
	}
	// Best bid is kraken's 100.10; the remainder sells into binance's 100.00.
	if cmp.SOR.VenueBreakdown[0].Venue != "kraken" {
		t.Errorf("first fill venue = %s, want kraken", cmp.SOR.VenueBreakdown[0].Venue)
	}
	want := dec("0.5").Mul(dec("100.10")).Add(dec("0.3").Mul(dec("100.00"))).Div(dec("0.8"))
	if !cmp.SOR.VWAP.Equal(want) {
		t.Errorf("vwap = %s, want %s", cmp.SOR.VWAP, want)
	}
}

func TestExecuteInsufficientLiquidity(t *testing.T) {
	a := sorStore(t, "binance",
		[]domain.PriceLevel{level(99.0, 1)},
		[]domain.PriceLevel{level(100.00, 0.3)})
	sor := newTestSOR([]*book.Store{a}, nil, domain.StatusLive)

	_, err := sor.Execute(buyReq("5"))
	if !errors.Is(err, domain.ErrInsufficientLiquidity) {
		t.Errorf("err = %v, want ErrInsufficientLiquidity", err)
	}
}

func TestExecuteSkipsStaleAndGappedVenues(t *testing.T) {
	fresh := sorStore(t, "binance",
		[]domain.PriceLevel{level(99.0, 1)},
		[]domain.PriceLevel{level(100.10, 2)})
	stale := sorStore(t, "kraken",
		[]domain.PriceLevel{level(99.5, 1)},
		[]domain.PriceLevel{level(100.00, 2)})
	stale.RecordMessage(time.Now().Add(-10 * time.Second))
	frozen := sorStore(t, "coinbase",
		[]domain.PriceLevel{level(99.5, 1)},
		[]domain.PriceLevel{level(100.00, 2)})
	frozen.MarkGap()
	sor := newTestSOR([]*book.Store{fresh, stale, frozen}, nil, domain.StatusLive)

	cmp, err := sor.Execute(buyReq("1"))
	if err != nil {
		t.Fatal(err)
	}
	for _, fill := range cmp.SOR.VenueBreakdown {
		if fill.Venue != "binance" {
			t.Errorf("fill routed to unqualified venue %s", fill.Venue)
		}
	}
}

func TestExecuteNaivePartialFillStillCompares(t *testing.T) {
	// No single venue can cover the size; naive caps at the deepest venue.
	a := sorStore(t, "binance",
		[]domain.PriceLevel{level(99.0, 1)},
		[]domain.PriceLevel{level(100.00, 0.6)})
	b := sorStore(t, "kraken",
		[]domain.PriceLevel{level(99.0, 1)},
		[]domain.PriceLevel{level(100.05, 0.7)})
	sor := newTestSOR([]*book.Store{a, b}, nil, domain.StatusLive)

	cmp, err := sor.Execute(buyReq("1.2"))
	if err != nil {
		t.Fatal(err)
	}
	if !cmp.SOR.FilledQuantity.Equal(dec("1.2")) {
		t.Errorf("smart filled = %s, want 1.2", cmp.SOR.FilledQuantity)
	}
	if !cmp.Naive.FilledQuantity.Equal(dec("0.7")) {
		t.Errorf("naive filled = %s, want deepest venue's 0.7", cmp.Naive.FilledQuantity)
	}
	if cmp.Naive.VenueBreakdown[0].Venue != "kraken" {
		t.Errorf("naive venue = %s, want kraken", cmp.Naive.VenueBreakdown[0].Venue)
	}
}
