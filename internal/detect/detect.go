package detect

import (
	"time"

	"github.com/google/uuid"

	"surveil/internal/config"
	"surveil/internal/state"
	"surveil/pkg/types"
)

// Context is everything a detector needs to evaluate one market on one
// ingestion tick.
type Context struct {
	MarketID string
	State    *state.PerMarketState
	Cfg      config.MicrostructureConfig
	Now      time.Time
}

// Detector is a pure function (PerMarketState, Config) → Option<EarlySignal>,
// called once per update per market.
type Detector func(Context) *types.EarlySignal

// All returns the nine single-market detectors in a stable order. Multiple
// detectors may fire on the same tick; the caller (RunAll, run by the
// orchestrator's detection workers) emits every non-nil result — the notifier is responsible for
// deduplication, not the detector family.
func All() []Detector {
	return []Detector{
		OrderbookImbalance,
		SpreadAnomaly,
		MarketMakerWithdrawal,
		LiquidityVacuum,
		AggressiveBuyer,
		AggressiveSeller,
		FrontRunning,
		VolumeSpike,
		PriceMovement,
	}
}

// RunAll evaluates every detector against ctx and returns the signals that
// fired. Each fired signal is assigned a fresh ID here, the one place every
// single-market detector's result passes through, rather than in each
// detector constructor.
func RunAll(ctx Context) []types.EarlySignal {
	var out []types.EarlySignal
	for _, d := range All() {
		if sig := d(ctx); sig != nil {
			sig.ID = uuid.NewString()
			out = append(out, *sig)
		}
	}
	return out
}
