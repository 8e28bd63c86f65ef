package detect

import (
	"math"

	"surveil/pkg/types"
)

// OrderbookImbalance fires when the top-N-level volume imbalance exceeds a
// threshold and is itself a statistical outlier.
func OrderbookImbalance(ctx Context) *types.EarlySignal {
	snap := ctx.State.Snapshot()
	threshold := ctx.Cfg.OrderbookImbalanceThreshold
	if threshold <= 0 {
		threshold = 0.15
	}

	if math.Abs(snap.Imbalance) < threshold || math.Abs(snap.ZImbalance) < 2 {
		return nil
	}

	ampPart := clip((math.Abs(snap.Imbalance)-threshold)/threshold, 0, 1)
	zPart := clip(math.Abs(snap.ZImbalance)/10, 0, 1)
	confidence := 0.6*ampPart + 0.4*zPart

	direction := types.DirectionBearish
	if snap.Imbalance > 0 {
		direction = types.DirectionBullish
	}

	return &types.EarlySignal{
		MarketID:   ctx.MarketID,
		SignalType: types.SignalOrderbookImbalance,
		Timestamp:  ctx.Now,
		Confidence: confidence,
		Direction:  direction,
		Metadata: OrderbookImbalanceMeta{
			Imbalance: snap.Imbalance,
			ZScore:    snap.ZImbalance,
			Threshold: threshold,
		},
	}
}

// SpreadAnomaly fires when the live spread is abnormally wide relative to
// its EWMA baseline.
func SpreadAnomaly(ctx Context) *types.EarlySignal {
	snap := ctx.State.Snapshot()
	if !snap.WarmedUp {
		return nil
	}
	baseline, ok := ctx.State.EWMABaseline("spread")
	if !ok || baseline <= 0 {
		return nil
	}

	multiplier := ctx.Cfg.SpreadAnomalyMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	if snap.Spread < baseline*multiplier {
		return nil
	}

	confidence := clip((snap.Spread/baseline-multiplier)/multiplier, 0, 1)

	return &types.EarlySignal{
		MarketID:   ctx.MarketID,
		SignalType: types.SignalSpreadAnomaly,
		Timestamp:  ctx.Now,
		Confidence: confidence,
		Direction:  types.DirectionNeutral,
		Metadata: SpreadAnomalyMeta{
			Spread:     snap.Spread,
			Baseline:   baseline,
			Multiplier: multiplier,
		},
	}
}

// MarketMakerWithdrawal fires when top-of-book depth drops sharply versus
// its EWMA baseline.
func MarketMakerWithdrawal(ctx Context) *types.EarlySignal {
	snap := ctx.State.Snapshot()
	if !snap.WarmedUp {
		return nil
	}
	baseline, ok := ctx.State.EWMABaseline("depth")
	if !ok || baseline <= 0 {
		return nil
	}

	threshold := ctx.Cfg.DepthDropThresholdPct
	if threshold <= 0 {
		threshold = 20
	}
	dropPct := (baseline - snap.Depth) / baseline * 100
	if dropPct < threshold {
		return nil
	}

	confidence := clip(dropPct/100, 0, 1)

	return &types.EarlySignal{
		MarketID:   ctx.MarketID,
		SignalType: types.SignalMarketMakerWithdraw,
		Timestamp:  ctx.Now,
		Confidence: confidence,
		Direction:  types.DirectionNeutral,
		Metadata: MarketMakerWithdrawalMeta{
			Depth:    snap.Depth,
			Baseline: baseline,
			DropPct:  dropPct,
		},
	}
}

// LiquidityVacuum fires when depth drops on both sides simultaneously and
// the spread widens; confidence scales with the product of the two effects.
func LiquidityVacuum(ctx Context) *types.EarlySignal {
	snap := ctx.State.Snapshot()
	if !snap.WarmedUp {
		return nil
	}

	bidBaseline, okBid := ctx.State.EWMABaseline("bidDepth")
	askBaseline, okAsk := ctx.State.EWMABaseline("askDepth")
	spreadBaseline, okSpread := ctx.State.EWMABaseline("spread")
	if !okBid || !okAsk || !okSpread || bidBaseline <= 0 || askBaseline <= 0 || spreadBaseline <= 0 {
		return nil
	}

	bidDrop := (bidBaseline - snap.BidDepth) / bidBaseline
	askDrop := (askBaseline - snap.AskDepth) / askBaseline
	spreadWiden := (snap.Spread - spreadBaseline) / spreadBaseline

	const effectFloor = 0.1
	if bidDrop < effectFloor || askDrop < effectFloor || spreadWiden < effectFloor {
		return nil
	}

	confidence := clip(bidDrop*askDrop*4, 0, 1)*0.7 + clip(spreadWiden, 0, 1)*0.3

	return &types.EarlySignal{
		MarketID:   ctx.MarketID,
		SignalType: types.SignalLiquidityVacuum,
		Timestamp:  ctx.Now,
		Confidence: confidence,
		Direction:  types.DirectionNeutral,
		Metadata: LiquidityVacuumMeta{
			BidDropPct:     bidDrop * 100,
			AskDropPct:     askDrop * 100,
			SpreadWidenPct: spreadWiden * 100,
		},
	}
}

// AggressiveBuyer fires when signed trade-flow over the recent window is a
// strong positive outlier.
func AggressiveBuyer(ctx Context) *types.EarlySignal {
	return aggressiveFlowSignal(ctx, true)
}

// AggressiveSeller fires when signed trade-flow over the recent window is a
// strong negative outlier.
func AggressiveSeller(ctx Context) *types.EarlySignal {
	return aggressiveFlowSignal(ctx, false)
}

func aggressiveFlowSignal(ctx Context, buyer bool) *types.EarlySignal {
	window := ctx.Cfg.AggressiveFlowWindow
	if window <= 0 {
		window = 20
	}
	samples := ctx.State.Recent("tradeFlow", window)
	if len(samples) < ctx.Cfg.MinSampleSize {
		return nil
	}

	var sum float64
	for _, v := range samples {
		sum += v
	}
	// The dispersion comes from the whole retained trade-flow series, so a
	// one-sided run in the window is measured against the market's usual
	// flow rather than against itself.
	all := ctx.State.Recent("tradeFlow", 0)
	var mean float64
	for _, v := range all {
		mean += v
	}
	mean /= float64(len(all))
	var variance float64
	for _, v := range all {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(all))
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return nil
	}
	z := sum / (stddev * math.Sqrt(float64(len(samples))))

	threshold := ctx.Cfg.AggressiveZThreshold
	if threshold <= 0 {
		threshold = 2.0
	}

	if buyer && z < threshold {
		return nil
	}
	if !buyer && z > -threshold {
		return nil
	}

	confidence := clip(math.Abs(z)/(threshold*2), 0, 1)
	signalType := types.SignalAggressiveSeller
	direction := types.DirectionBearish
	if buyer {
		signalType = types.SignalAggressiveBuyer
		direction = types.DirectionBullish
	}

	return &types.EarlySignal{
		MarketID:   ctx.MarketID,
		SignalType: signalType,
		Timestamp:  ctx.Now,
		Confidence: confidence,
		Direction:  direction,
		Metadata: AggressiveFlowMeta{
			WindowSum: sum,
			ZScore:    z,
			Window:    len(samples),
		},
	}
}

// FrontRunning fires when a composite score reaches 0.3. The score adds the
// absolute mean imbalance over the last 2×MinSampleSize samples, the
// absolute micro-price slope times 50, and the absolute spread z-score
// divided by 10, so one large component can fire it on its own; the three
// are not required to coincide, and no time window is applied.
func FrontRunning(ctx Context) *types.EarlySignal {
	snap := ctx.State.Snapshot()
	if !snap.WarmedUp {
		return nil
	}

	imbSamples := ctx.State.Recent("imbalance", ctx.Cfg.MinSampleSize*2)
	if len(imbSamples) == 0 {
		return nil
	}
	var sum float64
	for _, v := range imbSamples {
		sum += v
	}
	meanImbalance := sum / float64(len(imbSamples))

	composite := math.Abs(meanImbalance) + math.Abs(snap.MicroPriceSlope)*50 + math.Abs(snap.ZSpread)/10

	const fireThreshold = 0.3
	if composite < fireThreshold {
		return nil
	}

	var tier ConfidenceTier
	var confidence float64
	switch {
	case composite >= 0.8:
		tier, confidence = TierHigh, 0.85
	case composite >= 0.5:
		tier, confidence = TierMedium, 0.65
	default:
		tier, confidence = TierLow, 0.4
	}

	direction := types.DirectionNeutral
	switch {
	case meanImbalance > 0.05:
		direction = types.DirectionBullish
	case meanImbalance < -0.05:
		direction = types.DirectionBearish
	}

	return &types.EarlySignal{
		MarketID:   ctx.MarketID,
		SignalType: types.SignalFrontRunning,
		Timestamp:  ctx.Now,
		Confidence: confidence,
		Direction:  direction,
		Metadata: FrontRunningMeta{
			CompositeScore:  composite,
			Tier:            tier,
			MeanImbalance:   meanImbalance,
			MicroPriceSlope: snap.MicroPriceSlope,
			ZSpread:         snap.ZSpread,
		},
	}
}

// VolumeSpike fires when the absolute size of the most recent trade-flow
// sample is at least VolumeSpikeMultiplier times the mean absolute size of
// the preceding samples in the window. It compares individual trade sizes;
// it does not difference cumulative volume between cycles.
func VolumeSpike(ctx Context) *types.EarlySignal {
	window := ctx.Cfg.AggressiveFlowWindow
	if window <= 0 {
		window = 20
	}
	samples := ctx.State.Recent("tradeFlow", window+1)
	if len(samples) < ctx.Cfg.MinSampleSize+1 {
		return nil
	}

	current := math.Abs(samples[len(samples)-1])
	history := samples[:len(samples)-1]

	var sum float64
	for _, v := range history {
		sum += math.Abs(v)
	}
	recentAvg := sum / float64(len(history))
	if recentAvg == 0 {
		return nil
	}

	multiplier := ctx.Cfg.VolumeSpikeMultiplier
	if multiplier <= 0 {
		multiplier = 3.0
	}
	multiple := current / recentAvg
	if multiple < multiplier {
		return nil
	}

	confidence := clip((multiple-multiplier)/multiplier, 0, 1)

	return &types.EarlySignal{
		MarketID:   ctx.MarketID,
		SignalType: types.SignalVolumeSpike,
		Timestamp:  ctx.Now,
		Confidence: confidence,
		Direction:  types.DirectionNeutral,
		Metadata: VolumeSpikeMeta{
			CurrentVolume: current,
			RecentAverage: recentAvg,
			Multiple:      multiple,
		},
	}
}

// PriceMovement fires when the mid-price has moved sharply over a short
// recent window.
func PriceMovement(ctx Context) *types.EarlySignal {
	window := ctx.Cfg.MicroPriceSlopeWindow
	if window <= 0 {
		window = 20
	}
	samples := ctx.State.Recent("midPrice", window)
	if len(samples) < 2 {
		return nil
	}

	first := samples[0]
	if first == 0 {
		return nil
	}
	last := samples[len(samples)-1]
	changePct := (last - first) / first * 100

	threshold := ctx.Cfg.PriceMovementThresholdPct
	if threshold <= 0 {
		threshold = 1.5
	}
	if math.Abs(changePct) < threshold {
		return nil
	}

	confidence := clip(math.Abs(changePct)/(threshold*3), 0, 1)
	direction := types.DirectionBearish
	if changePct > 0 {
		direction = types.DirectionBullish
	}

	return &types.EarlySignal{
		MarketID:   ctx.MarketID,
		SignalType: types.SignalPriceMovement,
		Timestamp:  ctx.Now,
		Confidence: confidence,
		Direction:  direction,
		Metadata: PriceMovementMeta{
			ChangePct: changePct,
			Window:    len(samples),
		},
	}
}
