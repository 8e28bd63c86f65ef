// Package types defines shared data structures used across all packages.
//
// This is the common vocabulary for the surveillance engine — markets,
// order book snapshots, trade ticks, and the signal/posterior types the
// detector family and notifier exchange. It has no dependencies on internal
// packages, so it can be imported by any layer.
package types

import (
	"strconv"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side is the aggressor side of a trade tick.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Tier is the monitoring priority assigned to a market on each discovery
// refresh.
type Tier string

const (
	TierActive    Tier = "ACTIVE"
	TierWatchlist Tier = "WATCHLIST"
	TierIgnored   Tier = "IGNORED"
)

// Category is the closed enum of market subject-matter tags.
type Category string

const (
	CategoryPolitics         Category = "politics"
	CategoryFed              Category = "fed"
	CategoryEarnings         Category = "earnings"
	CategoryCEOChanges       Category = "ceo_changes"
	CategoryMergers          Category = "mergers"
	CategorySportsAwards     Category = "sports_awards"
	CategoryCourtCases       Category = "court_cases"
	CategoryHollywoodAwards  Category = "hollywood_awards"
	CategoryEconomicData     Category = "economic_data"
	CategoryWorldEvents      Category = "world_events"
	CategoryMacro            Category = "macro"
	CategoryCryptoEvents     Category = "crypto_events"
	CategoryPardons          Category = "pardons"
)

// SignalType enumerates the ten early-signal kinds: nine from the
// per-market detector family plus the cross-market coordinated signal.
type SignalType string

const (
	SignalOrderbookImbalance   SignalType = "orderbook_imbalance"
	SignalSpreadAnomaly        SignalType = "spread_anomaly"
	SignalMarketMakerWithdraw  SignalType = "market_maker_withdrawal"
	SignalLiquidityVacuum      SignalType = "liquidity_vacuum"
	SignalAggressiveBuyer      SignalType = "aggressive_buyer"
	SignalAggressiveSeller     SignalType = "aggressive_seller"
	SignalFrontRunning         SignalType = "front_running"
	SignalVolumeSpike          SignalType = "volume_spike"
	SignalPriceMovement        SignalType = "price_movement"
	SignalCoordinatedCrossMkt  SignalType = "coordinated_cross_market"
)

// Direction is the implied price direction of a signal.
type Direction string

const (
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
	DirectionNeutral Direction = "neutral"
)

// Priority is the notifier's delivery priority tier.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

// ————————————————————————————————————————————————————————————————————————
// Market
// ————————————————————————————————————————————————————————————————————————

// Market is the normalized representation of a venue binary (or
// multi-outcome) prediction market.
type Market struct {
	ID               string    // condition ID (opaque, stable)
	Question         string
	Outcomes         []string
	OutcomePrices    []float64 // parallel to Outcomes, each in [0,1]
	VolumeNum        float64
	Active           bool
	Closed           bool
	EndDate          *time.Time
	AssetIDs         []string // parallel to Outcomes; empty means unsubscribable
	Category         Category // empty string = uncategorized
	CategoryScore    float64
	IsBlacklisted    bool
	Tier             Tier
	TierReason       string
	OpportunityScore float64 // [0,100]
	VolumeScore      float64
	EdgeScore        float64
	CatalystScore    float64
	QualityScore     float64
	CreatedAt        time.Time
	DiscoveredAt     time.Time
	ScoreUpdatedAt   time.Time
}

// MarketAge returns how long ago the market was created.
func (m Market) MarketAge(now time.Time) time.Duration {
	if m.CreatedAt.IsZero() {
		return 0
	}
	return now.Sub(m.CreatedAt)
}

// TimeToClose returns the duration until EndDate, or 0 if EndDate is unset.
func (m Market) TimeToClose(now time.Time) time.Duration {
	if m.EndDate == nil {
		return 0
	}
	return m.EndDate.Sub(now)
}

// PriceSum returns the sum of outcome prices — should be ~1 for a healthy
// market; deviation is itself a detector input.
func (m Market) PriceSum() float64 {
	var sum float64
	for _, p := range m.OutcomePrices {
		sum += p
	}
	return sum
}

// Subscribable reports whether the market has per-outcome asset IDs to
// subscribe to on the venue WebSocket.
func (m Market) Subscribable() bool {
	return len(m.AssetIDs) == len(m.Outcomes) && len(m.AssetIDs) > 0
}

// ————————————————————————————————————————————————————————————————————————
// Order book / trades
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level in the order book. Price/Size
// arrive from the venue as decimal strings and are kept as strings here;
// the helpers below parse them with strconv.ParseFloat when a number is
// needed.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// OrderbookSnapshot is a point-in-time view of one asset's order book.
type OrderbookSnapshot struct {
	AssetID   string
	MarketID  string
	Bids      []PriceLevel // sorted descending by price
	Asks      []PriceLevel // sorted ascending by price
	Hash      string       // venue-provided checksum for staleness detection
	Timestamp time.Time
}

// BestBidAsk returns the top-of-book bid and ask as floats, and whether
// both sides are non-empty.
func (s OrderbookSnapshot) BestBidAsk() (bid, ask float64, ok bool) {
	if len(s.Bids) == 0 || len(s.Asks) == 0 {
		return 0, 0, false
	}
	return parseFloat(s.Bids[0].Price), parseFloat(s.Asks[0].Price), true
}

// Spread returns bestAsk - bestBid, and whether it is defined.
func (s OrderbookSnapshot) Spread() (float64, bool) {
	bid, ask, ok := s.BestBidAsk()
	if !ok {
		return 0, false
	}
	return ask - bid, true
}

// MidPrice returns (bestBid+bestAsk)/2, and whether it is defined.
func (s OrderbookSnapshot) MidPrice() (float64, bool) {
	bid, ask, ok := s.BestBidAsk()
	if !ok {
		return 0, false
	}
	return (bid + ask) / 2, true
}

// DepthN sums size over the top n levels on each side.
func (s OrderbookSnapshot) DepthN(n int) (bidVol, askVol float64) {
	for i, l := range s.Bids {
		if i >= n {
			break
		}
		bidVol += parseFloat(l.Size)
	}
	for i, l := range s.Asks {
		if i >= n {
			break
		}
		askVol += parseFloat(l.Size)
	}
	return bidVol, askVol
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// TradeTick is a single executed trade.
type TradeTick struct {
	MarketID  string
	AssetID   string
	Timestamp time.Time
	Price     float64
	Size      float64
	Side      Side
}

// ————————————————————————————————————————————————————————————————————————
// Signals
// ————————————————————————————————————————————————————————————————————————

// EarlySignal is one detector's output. Metadata is a tagged union keyed
// by SignalType; each detector constructs its own concrete metadata value
// (see internal/detect) and stores it here as an interface{} for the
// notifier/persistence layer to pattern-match on.
type EarlySignal struct {
	ID         string
	MarketID   string
	SignalType SignalType
	Timestamp  time.Time
	Confidence float64 // [0,1]
	Direction  Direction
	Metadata   interface{}
}

// ————————————————————————————————————————————————————————————————————————
// Signal performance
// ————————————————————————————————————————————————————————————————————————

// Horizon is a forward-sampling offset from signal entry time.
type Horizon string

const (
	Horizon30Min Horizon = "30min"
	Horizon1Hr   Horizon = "1hr"
	Horizon4Hr   Horizon = "4hr"
	Horizon24Hr  Horizon = "24hr"
	Horizon7Day  Horizon = "7day"
)

// AllHorizons lists the five forward-sampling offsets in ascending order.
var AllHorizons = []Horizon{Horizon30Min, Horizon1Hr, Horizon4Hr, Horizon24Hr, Horizon7Day}

// HorizonDuration returns the time.Duration for a Horizon.
func HorizonDuration(h Horizon) time.Duration {
	switch h {
	case Horizon30Min:
		return 30 * time.Minute
	case Horizon1Hr:
		return time.Hour
	case Horizon4Hr:
		return 4 * time.Hour
	case Horizon24Hr:
		return 24 * time.Hour
	case Horizon7Day:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// SignalPerformanceRecord tracks a single signal's forward price/pnl path.
type SignalPerformanceRecord struct {
	ID            string
	SignalID      string
	MarketID      string
	SignalType    SignalType
	Confidence    float64
	EntryTime     time.Time
	EntryPrice    float64
	Direction     Direction
	Price         map[Horizon]*float64 // nil until sampled
	PnL           map[Horizon]*float64
	MarketResolved bool
	ResolutionTime *time.Time
	FinalPnL      *float64
	WasCorrect    *bool
}

// FilledHorizons returns the horizons with a sampled price as of now.
func (r SignalPerformanceRecord) FilledHorizons(now time.Time) []Horizon {
	var out []Horizon
	for _, h := range AllHorizons {
		if r.EntryTime.Add(HorizonDuration(h)).After(now) {
			continue
		}
		if r.Price[h] != nil {
			out = append(out, h)
		}
	}
	return out
}

// ————————————————————————————————————————————————————————————————————————
// Subscriptions
// ————————————————————————————————————————————————————————————————————————

// SubState is a subscription's lifecycle state.
type SubState string

const (
	SubPending SubState = "PENDING"
	SubActive  SubState = "ACTIVE"
	SubFailed  SubState = "FAILED"
)

// Subscription binds one asset ID to its owning market.
type Subscription struct {
	AssetID  string
	MarketID string
	State    SubState
}
