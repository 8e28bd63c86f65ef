package venue

// GammaEvent is the JSON shape returned by the venue's paged events
// endpoint. Each event embeds zero or more markets.
type GammaEvent struct {
	ID      string       `json:"id"`
	Markets []GammaMarket `json:"markets"`
}

// GammaMarket is the JSON shape of a single market as embedded in an event.
// Field names mirror the venue's actual wire format: several numeric fields
// arrive as strings, and volume/assetId fields have a documented fallback
// chain (see discovery.Normalize).
type GammaMarket struct {
	ID              string  `json:"id"`
	ConditionID     string  `json:"conditionId"`
	Question        string  `json:"question"`
	Outcomes        string  `json:"outcomes"`      // JSON-encoded string array
	OutcomePrices   string  `json:"outcomePrices"` // JSON-encoded string array
	Active          bool    `json:"active"`
	Closed          bool    `json:"closed"`
	EndDate         string  `json:"endDate"`
	CreatedAt       string  `json:"createdAt"`
	Volume          string  `json:"volume"`
	VolumeNum       float64 `json:"volumeNum"`
	VolumeClob      float64 `json:"volumeClob"`
	VolumeAmm       float64 `json:"volumeAmm"`
	Volume24hr      float64 `json:"volume24hr"`
	Volume24hrClob  float64 `json:"volume24hrClob"`
	Volume1wk       float64 `json:"volume1wk"`
	Volume1wkClob   float64 `json:"volume1wkClob"`
	ClobTokenIds    string  `json:"clobTokenIds"` // JSON-encoded string array
	AssetID         string  `json:"asset_id"`
	OutcomeTokens   string  `json:"outcome_tokens"`
	BestBid         float64 `json:"bestBid"`
	BestAsk         float64 `json:"bestAsk"`
	Spread          float64 `json:"spread"`
	Tokens          []GammaToken `json:"tokens"`
}

// GammaToken is one entry of a market's per-outcome token list.
type GammaToken struct {
	TokenID string `json:"token_id"`
	ID      string `json:"id"`
	AssetID string `json:"asset_id"`
}

// OrderbookDTO is the venue's wire shape for a book snapshot.
type OrderbookDTO struct {
	AssetID string          `json:"asset_id"`
	Market  string          `json:"market"`
	Bids    []PriceLevelDTO `json:"bids"`
	Asks    []PriceLevelDTO `json:"asks"`
	Hash    string          `json:"hash"`
}

// PriceLevelDTO is one bid/ask level.
type PriceLevelDTO struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// TradeDTO is the venue's wire shape for a recent trade.
type TradeDTO struct {
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side"`
	Timestamp string `json:"timestamp"` // unix seconds, as a string
}
