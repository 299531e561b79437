package binance

// depthUpdate represents a Binance diff depth stream event
type depthUpdate struct {
	Event     string     `json:"e"` // depthUpdate
	EventTime int64      `json:"E"` // milliseconds
	Symbol    string     `json:"s"` // BTCUSDT
	FirstID   uint64     `json:"U"`
	FinalID   uint64     `json:"u"`
	Bids      [][]string `json:"b"` // [price, qty]
	Asks      [][]string `json:"a"`
}

// depthSnapshot represents the REST order book snapshot
type depthSnapshot struct {
	LastUpdateID uint64     `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}
