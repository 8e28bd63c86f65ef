package perf

import (
	"surveil/internal/state"
	"surveil/pkg/types"
)

// SignalTypePosterior is a consistent snapshot of a signal type's running
// performance, consumed by the notifier's scoring formula.
type SignalTypePosterior struct {
	SignalType types.SignalType

	Wins   int
	Losses int
	Total  int

	Accuracy float64 // wins / total
	WinRate  float64 // alias of Accuracy, kept distinct per the vocabulary this tracks

	AvgPnL map[types.Horizon]float64

	Sharpe              float64 // mean pnl / stddev pnl across realized outcomes
	ExpectedValue       float64 // winRate*avgWin - (1-winRate)*avgLoss
	KellyFraction       float64 // clamped to [0, maxKellyFraction]
	PosteriorConfidence float64 // Beta(1+wins, 1+losses) mean

	// AccuracyWeight and ExpectedValueBoost feed the notifier's
	// adjustedScore formula directly.
	AccuracyWeight     float64
	ExpectedValueBoost float64
}

// posteriorAccumulator holds the running state for one signal type. All
// access is serialized by Tracker.mu; it has no lock of its own.
type posteriorAccumulator struct {
	wins, losses int

	winPnLSum, winCount   float64
	lossPnLSum, lossCount float64

	pnlWelford state.Welford

	horizonSum   map[types.Horizon]float64
	horizonCount map[types.Horizon]float64
}

func newPosteriorAccumulator() *posteriorAccumulator {
	return &posteriorAccumulator{
		horizonSum:   make(map[types.Horizon]float64),
		horizonCount: make(map[types.Horizon]float64),
	}
}

// observe records one resolved win/loss outcome with its realized pnl,
// updating win/loss counts, the Kelly inputs, and the overall pnl
// distribution used for Sharpe.
func (a *posteriorAccumulator) observe(correct bool, pnl float64) {
	if correct {
		a.wins++
		a.winPnLSum += pnl
		a.winCount++
	} else {
		a.losses++
		a.lossPnLSum += -pnl // store loss magnitude as positive
		a.lossCount++
	}
	a.pnlWelford.Update(pnl)
}

// observeHorizon folds a horizon-specific pnl sample into the running
// per-horizon average, independent of the win/loss accounting.
func (a *posteriorAccumulator) observeHorizon(h types.Horizon, pnl float64) {
	a.horizonSum[h] += pnl
	a.horizonCount[h]++
}

func (a *posteriorAccumulator) snapshot(signalType types.SignalType, maxKellyFraction float64) SignalTypePosterior {
	total := a.wins + a.losses

	var accuracy float64
	if total > 0 {
		accuracy = float64(a.wins) / float64(total)
	}

	var avgWin, avgLoss float64
	if a.winCount > 0 {
		avgWin = a.winPnLSum / a.winCount
	}
	if a.lossCount > 0 {
		avgLoss = a.lossPnLSum / a.lossCount
	}

	var b, kelly float64
	if avgLoss > 0 {
		b = avgWin / avgLoss
		kelly = (accuracy*b - (1 - accuracy)) / b
	}
	if kelly < 0 {
		kelly = 0
	}
	if maxKellyFraction <= 0 {
		maxKellyFraction = 0.25
	}
	if kelly > maxKellyFraction {
		kelly = maxKellyFraction
	}

	alpha := float64(1 + a.wins)
	beta := float64(1 + a.losses)
	posteriorConfidence := alpha / (alpha + beta)

	var sharpe float64
	if a.pnlWelford.Count() > 1 {
		if sd := a.pnlWelford.StdDev(); sd > 0 {
			sharpe = a.pnlWelford.Mean() / sd
		}
	}

	expectedValue := accuracy*avgWin - (1-accuracy)*avgLoss

	avgPnL := make(map[types.Horizon]float64, len(a.horizonSum))
	for h, sum := range a.horizonSum {
		if c := a.horizonCount[h]; c > 0 {
			avgPnL[h] = sum / c
		}
	}

	return SignalTypePosterior{
		SignalType:          signalType,
		Wins:                a.wins,
		Losses:              a.losses,
		Total:               total,
		Accuracy:            accuracy,
		WinRate:             accuracy,
		AvgPnL:              avgPnL,
		Sharpe:              sharpe,
		ExpectedValue:       expectedValue,
		KellyFraction:       kelly,
		PosteriorConfidence: posteriorConfidence,
		// Bayesian-smoothed accuracy avoids wild swings from a handful of
		// early outcomes; this is what the notifier scores against.
		AccuracyWeight:     posteriorConfidence,
		ExpectedValueBoost: clip(expectedValue*0.5, -0.2, 0.2),
	}
}

func clip(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
