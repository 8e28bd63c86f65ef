package detect

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"surveil/internal/config"
	"surveil/internal/history"
	"surveil/pkg/types"
)

// CorrelationMeta is the metadata attached to a coordinated_cross_market
// signal.
type CorrelationMeta struct {
	Category          types.Category `json:"category"`
	Window            time.Duration  `json:"window"`
	ClusterSize       int            `json:"cluster_size"`
	AvgCorrelation    float64        `json:"avg_correlation"`
	AvgPriceChangePct float64        `json:"avg_price_change_pct"`
	AvgVolumeMultiple float64        `json:"avg_volume_multiple"`
	CategoryBaseline  float64        `json:"category_baseline"`
	LeakStartTime     *time.Time     `json:"leak_start_time,omitempty"`
	Markets           []string       `json:"markets"`
}

// MarketRef is the minimal market identity the correlation detector needs:
// enough to group markets into category clusters and to pick an anchor.
type MarketRef struct {
	MarketID string
	Category types.Category
	Volume   float64
}

// preFilterPriceChangeThresholdPct bounds the O(N^2) pair count before the
// pairwise correlation pass: a market with under 1% movement in the last
// hour cannot be part of a coordinated move.
const preFilterPriceChangeThresholdPct = 1.0

// CoordinatedCrossMarket evaluates every category cluster of markets and
// emits one coordinated_cross_market signal per cluster whose markets are
// moving together beyond the configured thresholds. Unlike the single-
// market detectors, this is not a pure Detector func — it operates across
// markets and is invoked once per correlation tick, not once per ingestion
// update.
func CoordinatedCrossMarket(markets []MarketRef, tracker *history.Tracker, cfg config.CorrelationConfig, now time.Time) []types.EarlySignal {
	clusters := clusterByCategory(markets)

	minMarkets := cfg.MinMarketsForSignal
	if minMarkets <= 0 {
		minMarkets = 2
	}

	var out []types.EarlySignal
	for category, members := range clusters {
		if len(members) < minMarkets {
			continue
		}

		filtered := preFilter(members, tracker, now, cfg.PreFilterCap)
		if len(filtered) < minMarkets {
			continue
		}

		if sig := evaluateCluster(category, filtered, tracker, cfg, now); sig != nil {
			sig.ID = uuid.NewString()
			out = append(out, *sig)
		}
	}
	return out
}

func clusterByCategory(markets []MarketRef) map[types.Category][]MarketRef {
	out := make(map[types.Category][]MarketRef)
	for _, m := range markets {
		if m.Category == "" {
			continue
		}
		out[m.Category] = append(out[m.Category], m)
	}
	return out
}

// preFilter keeps markets with sufficient history and a > 1% move over the
// last hour, then caps to the top `cap` markets by absolute price change.
func preFilter(members []MarketRef, tracker *history.Tracker, now time.Time, cap int) []MarketRef {
	type scored struct {
		ref    MarketRef
		change float64
	}

	var candidates []scored
	for _, m := range members {
		if !tracker.HasSufficientHistory(m.MarketID, 3) {
			continue
		}
		pct, ok := tracker.PriceChangePct(m.MarketID, now, time.Hour)
		if !ok || math.Abs(pct) <= preFilterPriceChangeThresholdPct {
			continue
		}
		candidates = append(candidates, scored{ref: m, change: pct})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return math.Abs(candidates[i].change) > math.Abs(candidates[j].change)
	})

	if cap <= 0 {
		cap = 50
	}
	if len(candidates) > cap {
		candidates = candidates[:cap]
	}

	out := make([]MarketRef, len(candidates))
	for i, c := range candidates {
		out[i] = c.ref
	}
	return out
}

func evaluateCluster(category types.Category, members []MarketRef, tracker *history.Tracker, cfg config.CorrelationConfig, now time.Time) *types.EarlySignal {
	windows := cfg.Windows
	if len(windows) == 0 {
		windows = []time.Duration{time.Hour, 4 * time.Hour, 8 * time.Hour}
	}

	minCorrelation := cfg.MinCorrelation
	if minCorrelation <= 0 {
		minCorrelation = 0.6
	}
	minPriceChangePct := cfg.MinPriceChangePercent
	if minPriceChangePct <= 0 {
		minPriceChangePct = 2.0
	}
	baselineWindow := cfg.BaselineWindow
	if baselineWindow <= 0 {
		baselineWindow = 24 * time.Hour
	}

	baseline := categoryBaseline(cfg.CategoryBaselines, category)

	for _, window := range windows {
		avgCorr, avgChange, avgVolMult, ok := clusterStats(members, tracker, now, window, baselineWindow)
		if !ok {
			continue
		}
		if avgCorr < minCorrelation || avgChange < minPriceChangePct {
			continue
		}

		confidence := 0.5
		if avgCorr >= 0.8 {
			confidence += 0.2
		}
		if avgChange >= 5.0 {
			confidence += 0.2
		}
		if avgVolMult >= 1.5 {
			confidence += 0.15
		}
		if avgCorr-baseline > 0.2 {
			confidence += 0.15
		}
		if len(members) >= 5 {
			confidence += 0.1
		}
		confidence = clip(confidence, 0, 1.0)

		anchor := highestVolume(members)
		direction := clusterDirection(members, tracker, now, window)

		leakStart := estimateLeakStart(members, tracker, now, window, minCorrelation)

		marketIDs := make([]string, len(members))
		for i, m := range members {
			marketIDs[i] = m.MarketID
		}

		return &types.EarlySignal{
			MarketID:   anchor.MarketID,
			SignalType: types.SignalCoordinatedCrossMkt,
			Timestamp:  now,
			Confidence: confidence,
			Direction:  direction,
			Metadata: CorrelationMeta{
				Category:          category,
				Window:            window,
				ClusterSize:       len(members),
				AvgCorrelation:    avgCorr,
				AvgPriceChangePct: avgChange,
				AvgVolumeMultiple: avgVolMult,
				CategoryBaseline:  baseline,
				LeakStartTime:     leakStart,
				Markets:           marketIDs,
			},
		}
	}
	return nil
}

func categoryBaseline(baselines map[string]float64, category types.Category) float64 {
	if v, ok := baselines[string(category)]; ok {
		return v
	}
	return 0.5
}

func clusterStats(members []MarketRef, tracker *history.Tracker, now time.Time, window, baselineWindow time.Duration) (avgCorr, avgChange, avgVolMult float64, ok bool) {
	var corrSum float64
	var pairCount int
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			c, pairOk := tracker.Correlation(members[i].MarketID, members[j].MarketID, now, window)
			if !pairOk {
				continue
			}
			corrSum += c
			pairCount++
		}
	}
	if pairCount == 0 {
		return 0, 0, 0, false
	}

	var changeSum, changeCount float64
	var volSum, volCount float64
	for _, m := range members {
		if pct, pctOk := tracker.PriceChangePct(m.MarketID, now, window); pctOk {
			changeSum += math.Abs(pct)
			changeCount++
		}
		if mult, multOk := tracker.VolumeMultiple(m.MarketID, now, baselineWindow); multOk {
			volSum += mult
			volCount++
		}
	}
	if changeCount == 0 {
		return 0, 0, 0, false
	}

	avgCorr = corrSum / float64(pairCount)
	avgChange = changeSum / changeCount
	if volCount > 0 {
		avgVolMult = volSum / volCount
	}
	return avgCorr, avgChange, avgVolMult, true
}

func highestVolume(members []MarketRef) MarketRef {
	best := members[0]
	for _, m := range members[1:] {
		if m.Volume > best.Volume {
			best = m
		}
	}
	return best
}

// clusterDirection reports bullish if the cluster's price changes over
// window are predominantly positive, bearish if predominantly negative,
// else neutral.
func clusterDirection(members []MarketRef, tracker *history.Tracker, now time.Time, window time.Duration) types.Direction {
	var up, down int
	for _, m := range members {
		pct, ok := tracker.PriceChangePct(m.MarketID, now, window)
		if !ok {
			continue
		}
		if pct > 0 {
			up++
		} else if pct < 0 {
			down++
		}
	}
	switch {
	case up > down:
		return types.DirectionBullish
	case down > up:
		return types.DirectionBearish
	default:
		return types.DirectionNeutral
	}
}

// estimateLeakStart slides an inner window (a quarter of the outer window)
// backward from now in steps of a tenth of the outer window, for as long as
// the cluster's average pairwise correlation over the inner window stays at
// or above minCorrelation. It returns the earliest point reached before the
// first step that falls below the threshold or lacks history (at most the
// full outer window back), or nil if the check already fails at now.
func estimateLeakStart(members []MarketRef, tracker *history.Tracker, now time.Time, window time.Duration, minCorrelation float64) *time.Time {
	innerWindow := window / 4
	if innerWindow <= 0 {
		return nil
	}
	step := window / 10
	if step <= 0 {
		step = time.Minute
	}

	var earliest *time.Time
	for offset := time.Duration(0); offset <= window; offset += step {
		asOf := now.Add(-offset)
		avgCorr, _, _, ok := clusterStats(members, tracker, asOf, innerWindow, innerWindow)
		if !ok {
			break
		}
		if avgCorr >= minCorrelation {
			t := asOf
			earliest = &t
		} else {
			break
		}
	}
	return earliest
}
