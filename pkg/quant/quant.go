package quant

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// PriceMicros is a price scaled by 1e6. Integer representation keeps map keys
// exact in the book hotpath; floats are only produced at the read boundary.
type PriceMicros int64

// QtySats is a quantity scaled by 1e8 (satoshi-style fixed point).
type QtySats int64

// TimeStamp is a unix timestamp in milliseconds.
type TimeStamp int64

const (
	priceScale = 1_000_000
	qtyScale   = 100_000_000
)

// ToPriceMicros converts a float price into micros, rounding half away from zero.
func ToPriceMicros(price float64) PriceMicros {
	return PriceMicros(math.Round(price * priceScale))
}

// ToQtySats converts a float quantity into sats.
func ToQtySats(qty float64) QtySats {
	return QtySats(math.Round(qty * qtyScale))
}

// Float returns the price as a float64.
func (p PriceMicros) Float() float64 {
	return float64(p) / priceScale
}

// Decimal returns the price as an exact decimal.
func (p PriceMicros) Decimal() decimal.Decimal {
	return decimal.New(int64(p), -6)
}

// Float returns the quantity as a float64.
func (q QtySats) Float() float64 {
	return float64(q) / qtyScale
}

// Decimal returns the quantity as an exact decimal.
func (q QtySats) Decimal() decimal.Decimal {
	return decimal.New(int64(q), -8)
}

// Mid returns the midpoint of bid and ask in micros.
func Mid(bid, ask PriceMicros) PriceMicros {
	return (bid + ask) / 2
}

// BpsBounds returns the [low, high] price bounds of a ±bps window around mid.
func BpsBounds(mid PriceMicros, bps int) (PriceMicros, PriceMicros) {
	delta := int64(mid) * int64(bps) / 10_000
	return mid - PriceMicros(delta), mid + PriceMicros(delta)
}

// NextSeq atomically increments and returns the next sequence number.
func NextSeq(seq *uint64) uint64 {
	return atomic.AddUint64(seq, 1)
}

// Now returns the current time as a millisecond timestamp.
func Now() TimeStamp {
	return TimeStamp(time.Now().UnixMilli())
}

// Time converts the timestamp back into a time.Time.
func (t TimeStamp) Time() time.Time {
	return time.UnixMilli(int64(t))
}
