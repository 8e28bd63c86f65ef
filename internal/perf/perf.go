// Package perf implements the signal performance tracker: forward-sampling
// a signal's market price at fixed horizons, computing pnl and
// correctness, and maintaining a streaming per-signal-type posterior used
// by the notifier to rank alerts.
//
// The tracker runs as a single-owner goroutine that drains a buffered
// channel of newly-recorded signals and resolution events, mirroring the
// report-channel/ticker shape used elsewhere in this codebase for
// aggregating concurrent writers behind one lock.
package perf

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"surveil/internal/config"
	"surveil/pkg/types"
)

// PriceReader reads the current mid-price for a market, used to sample
// forward prices at each horizon. Returns ok=false if the market has no
// live price (closed, delisted, or never ingested).
type PriceReader interface {
	MidPrice(marketID string) (float64, bool)
}

type newSignalEvent struct {
	record *types.SignalPerformanceRecord
}

type resolutionEvent struct {
	marketID       string
	predictedWon   bool
	finalPrice     float64
	resolutionTime time.Time
}

// Tracker owns every SignalPerformanceRecord and the per-signal-type
// posteriors derived from them.
type Tracker struct {
	cfg    config.PerfConfig
	reader PriceReader
	logger *slog.Logger

	mu         sync.RWMutex
	records    map[string]*types.SignalPerformanceRecord
	byMarket   map[string][]string // marketID -> record IDs, for resolution
	posteriors map[types.SignalType]*posteriorAccumulator

	newSignalCh chan newSignalEvent
	resolveCh   chan resolutionEvent
}

// New creates a Tracker. reader is consulted on every poll tick to sample
// forward prices.
func New(cfg config.PerfConfig, reader PriceReader, logger *slog.Logger) *Tracker {
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = 1000
	}
	return &Tracker{
		cfg:         cfg,
		reader:      reader,
		logger:      logger.With("component", "perf"),
		records:     make(map[string]*types.SignalPerformanceRecord),
		byMarket:    make(map[string][]string),
		posteriors:  make(map[types.SignalType]*posteriorAccumulator),
		newSignalCh: make(chan newSignalEvent, capacity),
		resolveCh:   make(chan resolutionEvent, capacity),
	}
}

// Run starts the tracker's polling loop. It blocks until ctx is canceled.
func (t *Tracker) Run(ctx context.Context) {
	interval := t.cfg.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-t.newSignalCh:
			t.mu.Lock()
			t.records[ev.record.ID] = ev.record
			t.byMarket[ev.record.MarketID] = append(t.byMarket[ev.record.MarketID], ev.record.ID)
			t.mu.Unlock()
		case ev := <-t.resolveCh:
			t.applyResolution(ev)
		case now := <-ticker.C:
			t.sampleDueHorizons(now)
		}
	}
}

// Record submits a new signal for forward-sampling. entryPrice is the
// market's mid-price at the moment the signal fired.
func (t *Tracker) Record(sig types.EarlySignal, entryPrice float64) {
	record := &types.SignalPerformanceRecord{
		ID:         uuid.NewString(),
		SignalID:   sig.ID,
		MarketID:   sig.MarketID,
		SignalType: sig.SignalType,
		Confidence: sig.Confidence,
		EntryTime:  sig.Timestamp,
		EntryPrice: entryPrice,
		Direction:  sig.Direction,
		Price:      make(map[types.Horizon]*float64),
		PnL:        make(map[types.Horizon]*float64),
	}

	select {
	case t.newSignalCh <- newSignalEvent{record: record}:
	default:
		t.logger.Warn("perf new-signal channel full, dropping record", "market", sig.MarketID, "signal_type", sig.SignalType)
	}
}

// ResolveMarket reports that marketID resolved. predictedWon reports
// whether the market's first (bullish) outcome won: a bearish record counts
// as correct when it did not, every other record when it did. finalPrice
// is that outcome's settlement price (1 or 0 for a binary market, or the
// continuous settlement value).
func (t *Tracker) ResolveMarket(marketID string, predictedWon bool, finalPrice float64, resolutionTime time.Time) {
	select {
	case t.resolveCh <- resolutionEvent{marketID: marketID, predictedWon: predictedWon, finalPrice: finalPrice, resolutionTime: resolutionTime}:
	default:
		t.logger.Warn("perf resolve channel full, dropping resolution", "market", marketID)
	}
}

// Records returns a copy of every tracked performance record, for the
// caller to periodically persist (the tracker itself owns no storage
// dependency).
func (t *Tracker) Records() []types.SignalPerformanceRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.SignalPerformanceRecord, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, *r)
	}
	return out
}

// RecordByID returns a copy of the performance record for recordID, if known.
func (t *Tracker) RecordByID(recordID string) (types.SignalPerformanceRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.records[recordID]
	if !ok {
		return types.SignalPerformanceRecord{}, false
	}
	return *r, true
}

// Posterior returns a consistent snapshot of the posterior for signalType.
// Returns a default posterior (PosteriorConfidence and AccuracyWeight 0.5,
// the Beta(1,1) prior mean) if no records have been observed yet.
func (t *Tracker) Posterior(signalType types.SignalType) SignalTypePosterior {
	t.mu.RLock()
	defer t.mu.RUnlock()
	acc, ok := t.posteriors[signalType]
	if !ok {
		return SignalTypePosterior{SignalType: signalType, PosteriorConfidence: 0.5, AccuracyWeight: 0.5}
	}
	return acc.snapshot(signalType, t.cfg.MaxKellyFraction)
}

func (t *Tracker) sampleDueHorizons(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, record := range t.records {
		if record.MarketResolved {
			continue
		}
		for _, h := range types.AllHorizons {
			if record.Price[h] != nil {
				continue
			}
			due := record.EntryTime.Add(types.HorizonDuration(h))
			if due.After(now) {
				continue
			}
			price, ok := t.reader.MidPrice(record.MarketID)
			if !ok {
				continue // undefined: market closed/delisted, leave unfilled
			}
			pnl := computePnL(record.EntryPrice, price, record.Direction)
			record.Price[h] = floatPtr(price)
			record.PnL[h] = floatPtr(pnl)

			if record.WasCorrect == nil {
				correct := pnl > 0
				record.WasCorrect = &correct
				t.updatePosteriorLocked(record.SignalType, correct, pnl)
			}
			t.updateHorizonAvgLocked(record.SignalType, h, pnl)
		}
	}
}

func (t *Tracker) applyResolution(ev resolutionEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range t.byMarket[ev.marketID] {
		record, ok := t.records[id]
		if !ok || record.MarketResolved {
			continue
		}
		finalPnL := computePnL(record.EntryPrice, ev.finalPrice, record.Direction)
		record.MarketResolved = true
		rt := ev.resolutionTime
		record.ResolutionTime = &rt
		record.FinalPnL = floatPtr(finalPnL)
		won := ev.predictedWon
		if record.Direction == types.DirectionBearish {
			won = !won
		}
		record.WasCorrect = &won

		if len(record.FilledHorizons(rt)) == 0 {
			t.updatePosteriorLocked(record.SignalType, won, finalPnL)
		}
	}
}

func (t *Tracker) updatePosteriorLocked(signalType types.SignalType, correct bool, pnl float64) {
	acc, ok := t.posteriors[signalType]
	if !ok {
		acc = newPosteriorAccumulator()
		t.posteriors[signalType] = acc
	}
	acc.observe(correct, pnl)
}

func (t *Tracker) updateHorizonAvgLocked(signalType types.SignalType, h types.Horizon, pnl float64) {
	acc, ok := t.posteriors[signalType]
	if !ok {
		acc = newPosteriorAccumulator()
		t.posteriors[signalType] = acc
	}
	acc.observeHorizon(h, pnl)
}

func computePnL(entryPrice, observedPrice float64, direction types.Direction) float64 {
	if entryPrice == 0 {
		return 0
	}
	sign := 1.0
	if direction == types.DirectionBearish {
		sign = -1.0
	}
	if direction == types.DirectionNeutral {
		sign = 1.0
	}
	return (observedPrice - entryPrice) / entryPrice * sign
}

func floatPtr(v float64) *float64 {
	return &v
}
