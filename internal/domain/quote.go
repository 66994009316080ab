package domain

// Quote is a two-sided quote snapshot. Derived fresh every cycle; never
// mutated in place, only replaced.
type Quote struct {
	Bid           float64 `json:"bid"`
	Ask           float64 `json:"ask"`
	Spread        float64 `json:"spread"`
	InventorySkew float64 `json:"inventory_skew"`
	BidSize       float64 `json:"bid_size"`
	AskSize       float64 `json:"ask_size"`
	ComputedUnixM int64   `json:"computed_at_unix"`
}

// Valid reports whether the quote is submittable. A (0, 0) quote is the
// explicit invalid-quote sentinel for mid <= 0 and must never reach the
// venue.
func (q Quote) Valid() bool {
	return q.Bid > 0 && q.Ask > 0
}

// InventoryState is a per-tick cache of venue-reported balances. The source
// of truth for position is the venue; this is recomputed every cycle.
type InventoryState struct {
	BaseAmount      float64 `json:"base_amount"`
	QuoteAmount     float64 `json:"quote_amount"`
	CurrentPosition float64 `json:"current_position"`
	TargetPosition  float64 `json:"target_position"`
	TotalValue      float64 `json:"total_value"`
}

// Balances is the venue-reported wallet snapshot for one trading pair.
type Balances struct {
	Base  float64 `json:"base"`
	Quote float64 `json:"quote"`
}

// Ticker is the latest venue price snapshot for a symbol.
type Ticker struct {
	Symbol  string  `json:"symbol"`
	Last    float64 `json:"last"`
	BestBid float64 `json:"best_bid"`
	BestAsk float64 `json:"best_ask"`
	TsUnixM int64   `json:"ts_unix"`
}

// Mid returns the book midpoint, falling back to the last trade when one
// side of the book is empty.
func (t Ticker) Mid() float64 {
	if t.BestBid > 0 && t.BestAsk > 0 {
		return (t.BestBid + t.BestAsk) / 2
	}
	return t.Last
}

// OrderBookLevel is a single aggregated price level.
type OrderBookLevel struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
}

// OrderBook is a depth snapshot, best levels first.
type OrderBook struct {
	Symbol  string           `json:"symbol"`
	Bids    []OrderBookLevel `json:"bids"`
	Asks    []OrderBookLevel `json:"asks"`
	TsUnixM int64            `json:"ts_unix"`
}
