package state

import (
	"sync"
	"time"

	"surveil/internal/config"
	"surveil/pkg/types"
)

// Snapshot is a consistent point-in-time read of a market's rolling state.
// Detectors operate exclusively on Snapshot values; they never hold a
// reference into PerMarketState's internals.
type Snapshot struct {
	MarketID        string
	Timestamp       time.Time
	MidPrice        float64
	Spread          float64
	BidDepth        float64
	AskDepth        float64
	Depth           float64 // best bid size + best ask size (top level only)
	Imbalance       float64 // (bidVolN - askVolN) / (bidVolN + askVolN)
	TradeFlow       float64 // signed trade size, most recent
	MicroPrice      float64
	MicroPriceSlope float64
	ZVolume         float64 // z-score of the trade-flow series
	ZDepth          float64
	ZSpread         float64
	ZImbalance      float64
	WarmedUp        bool
}

// PerMarketState holds the rolling series for a single market. It must be
// mutated by exactly one writer (the ingestion dispatcher for that market);
// Snapshot() may be called concurrently by any number of detector readers.
type PerMarketState struct {
	marketID string
	cfg      config.MicrostructureConfig

	mu sync.RWMutex

	midPrice  *series
	spread    *series
	bidDepth  *series
	askDepth  *series
	depth     *series
	imbalance *series
	tradeFlow *series

	microPriceBuf *RingBuffer

	lastSnapshot    Snapshot
	lastUpdateTime  time.Time
}

// New creates per-market rolling state sized per MicrostructureConfig.
func New(marketID string, cfg config.MicrostructureConfig) *PerMarketState {
	cap := cfg.RingBufferSize
	alpha := cfg.EWMAAlpha
	return &PerMarketState{
		marketID:      marketID,
		cfg:           cfg,
		midPrice:      newSeries(cap, alpha),
		spread:        newSeries(cap, alpha),
		bidDepth:      newSeries(cap, alpha),
		askDepth:      newSeries(cap, alpha),
		depth:         newSeries(cap, alpha),
		imbalance:     newSeries(cap, alpha),
		tradeFlow:     newSeries(cap, alpha),
		microPriceBuf: NewRingBuffer(cap),
	}
}

// IngestOrderbook folds a new orderbook snapshot into every series,
// recomputes depth, imbalance, micro-price, and its slope, and publishes a
// fresh Snapshot for readers.
func (s *PerMarketState) IngestOrderbook(ob types.OrderbookSnapshot) {
	now := ob.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	mid, hasMid := ob.MidPrice()
	spread, hasSpread := ob.Spread()
	n := s.cfg.DepthLevels
	if n <= 0 {
		n = 5
	}
	bidVol, askVol := ob.DepthN(n)
	depthTop1Bid, depthTop1Ask := ob.DepthN(1)
	depth1 := depthTop1Bid + depthTop1Ask

	var imbalance float64
	if total := bidVol + askVol; total > 0 {
		imbalance = (bidVol - askVol) / total
	}

	var microPrice float64
	if total := bidVol + askVol; total > 0 {
		bestBid, bestAsk, ok := ob.BestBidAsk()
		if ok {
			microPrice = (askVol*bestBid + bidVol*bestAsk) / total
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if hasMid {
		s.midPrice.push(mid)
	}
	if hasSpread {
		s.spread.push(spread)
	}
	s.bidDepth.push(bidVol)
	s.askDepth.push(askVol)
	s.depth.push(depth1)
	s.imbalance.push(imbalance)
	s.microPriceBuf.Push(microPrice)

	slope := leastSquaresSlope(s.microPriceBuf.Recent(s.cfg.MicroPriceSlopeWindow))

	minSample := s.cfg.MinSampleSize
	warmedUp := s.depth.warmedUp(minSample) && s.spread.warmedUp(minSample) && s.imbalance.warmedUp(minSample)

	s.lastSnapshot = Snapshot{
		MarketID:        s.marketID,
		Timestamp:       now,
		MidPrice:        mid,
		Spread:          spread,
		BidDepth:        bidVol,
		AskDepth:        askVol,
		Depth:           depth1,
		Imbalance:       imbalance,
		TradeFlow:       s.lastSnapshot.TradeFlow,
		MicroPrice:      microPrice,
		MicroPriceSlope: slope,
		ZVolume:         s.tradeFlow.zScore(s.lastSnapshot.TradeFlow, minSample),
		ZDepth:          s.depth.zScore(depth1, minSample),
		ZSpread:         s.spread.zScore(spread, minSample),
		ZImbalance:      s.imbalance.zScore(imbalance, minSample),
		WarmedUp:        warmedUp,
	}
	s.lastUpdateTime = now
}

// IngestTrade folds a signed trade size into the trade-flow series
// (+size for buy, -size for sell) and recomputes its z-score.
func (s *PerMarketState) IngestTrade(tick types.TradeTick) {
	signed := tick.Size
	if tick.Side == types.SideSell {
		signed = -signed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tradeFlow.push(signed)
	s.lastSnapshot.TradeFlow = signed
	s.lastSnapshot.ZVolume = s.tradeFlow.zScore(signed, s.cfg.MinSampleSize)
	if tick.Timestamp.After(s.lastUpdateTime) {
		s.lastUpdateTime = tick.Timestamp
	}
}

// Snapshot returns the most recently published consistent state.
func (s *PerMarketState) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSnapshot
}

// EWMABaseline exposes the current EWMA baseline for the named series,
// used by detectors comparing live values against a smoothed reference
// (e.g. SpreadAnomaly, MarketMakerWithdrawal).
func (s *PerMarketState) EWMABaseline(name string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ser := s.seriesByName(name)
	if ser == nil || !ser.ewma.Initialized() {
		return 0, false
	}
	return ser.ewma.Value(), true
}

// Recent returns the last n raw samples of the named series.
func (s *PerMarketState) Recent(name string, n int) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ser := s.seriesByName(name)
	if ser == nil {
		return nil
	}
	return ser.buf.Recent(n)
}

func (s *PerMarketState) seriesByName(name string) *series {
	switch name {
	case "midPrice":
		return s.midPrice
	case "spread":
		return s.spread
	case "bidDepth":
		return s.bidDepth
	case "askDepth":
		return s.askDepth
	case "depth":
		return s.depth
	case "imbalance":
		return s.imbalance
	case "tradeFlow":
		return s.tradeFlow
	default:
		return nil
	}
}

// leastSquaresSlope fits y = a + b*x over evenly spaced x = 0..n-1 and
// returns b. With fewer than 2 points, returns 0.
func leastSquaresSlope(y []float64) float64 {
	n := len(y)
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, v := range y {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	nf := float64(n)
	denom := nf*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (nf*sumXY - sumX*sumY) / denom
}
