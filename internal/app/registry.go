package app

import (
	"fmt"

	"liquidity_go/internal/book"
	"liquidity_go/internal/domain"
	"liquidity_go/internal/infra"
	"liquidity_go/internal/infra/binance"
	"liquidity_go/internal/infra/coinbase"
	"liquidity_go/internal/infra/kraken"
)

// AdapterFactory builds one venue's adapter bound to its store.
type AdapterFactory func(cfg infra.VenueConfig, symbol string, store *book.Store, counters *infra.Counters) domain.VenueAdapter

// adapterRegistry maps venue ids to their concrete adapter. Adding a venue
// means one entry here plus its worker package.
var adapterRegistry = map[string]AdapterFactory{
	"binance": func(cfg infra.VenueConfig, symbol string, store *book.Store, counters *infra.Counters) domain.VenueAdapter {
		return binance.NewWorker(cfg, symbol, store, counters)
	},
	"kraken": func(cfg infra.VenueConfig, symbol string, store *book.Store, counters *infra.Counters) domain.VenueAdapter {
		return kraken.NewWorker(cfg, symbol, store, counters)
	},
	"coinbase": func(cfg infra.VenueConfig, symbol string, store *book.Store, counters *infra.Counters) domain.VenueAdapter {
		return coinbase.NewWorker(cfg, symbol, store, counters)
	},
}

// NewAdapter resolves a venue id through the registry.
func NewAdapter(id string, cfg infra.VenueConfig, symbol string, store *book.Store, counters *infra.Counters) (domain.VenueAdapter, error) {
	factory, ok := adapterRegistry[id]
	if !ok {
		return nil, fmt.Errorf("unknown venue %q", id)
	}
	return factory(cfg, symbol, store, counters), nil
}
