package discovery

import (
	"time"

	"surveil/internal/config"
	"surveil/pkg/types"
)

const defaultCategoryFloor = 3000

// defaultWatchlistFactor is how much looser the watchlist volume floor is
// than the ACTIVE floor for the same category.
const defaultWatchlistFactor = 0.25

// AssignTier computes a market's monitoring tier and opportunity score.
// Mutates nothing; returns the tier, a human-readable reason, and the four
// sub-scores that compose opportunityScore.
func AssignTier(m types.Market, category types.Category, categoryScore float64, blacklisted bool, cfg config.DiscoveryConfig, now time.Time) (tier types.Tier, reason string, opportunityScore, volumeScore, edgeScore, catalystScore, qualityScore float64) {
	volumeScore = normalizedVolumeScore(m.VolumeNum)
	edgeScore = edgeScoreOf(m)
	catalystScore = catalystScoreOf(m, now)
	qualityScore = qualityScoreOf(m)

	opportunityScore = 0.35*volumeScore + 0.25*edgeScore + 0.2*catalystScore + 0.2*qualityScore
	if opportunityScore > 100 {
		opportunityScore = 100
	}

	if blacklisted {
		return types.TierIgnored, "blacklisted question", opportunityScore, volumeScore, edgeScore, catalystScore, qualityScore
	}
	if category == "" {
		return types.TierIgnored, "uncategorized", opportunityScore, volumeScore, edgeScore, catalystScore, qualityScore
	}

	activeFloor := categoryFloor(cfg, category)
	watchlistFloor := activeFloor * defaultWatchlistFactor

	if m.VolumeNum >= activeFloor {
		return types.TierActive, "category volume floor met", opportunityScore, volumeScore, edgeScore, catalystScore, qualityScore
	}
	if m.VolumeNum >= watchlistFloor && catalystScore > 0 {
		return types.TierWatchlist, "below active floor but near catalyst window", opportunityScore, volumeScore, edgeScore, catalystScore, qualityScore
	}
	return types.TierIgnored, "insufficient volume", opportunityScore, volumeScore, edgeScore, catalystScore, qualityScore
}

func categoryFloor(cfg config.DiscoveryConfig, category types.Category) float64 {
	if floor, ok := cfg.CategoryVolumeFloors[string(category)]; ok {
		return floor
	}
	return defaultCategoryFloor
}

// normalizedVolumeScore maps volume to [0,100] on a log-ish saturating
// curve: $100k+ saturates the score.
func normalizedVolumeScore(volume float64) float64 {
	const saturation = 100000.0
	score := volume / saturation * 100
	if score > 100 {
		return 100
	}
	if score < 0 {
		return 0
	}
	return score
}

// edgeScoreOf rewards markets whose outcome prices sum close to 1 (healthy
// book) over wildly mispriced or incomplete books — a tight price sum means
// the market is actively priced by participants, which is a precondition
// for meaningful microstructure signals.
func edgeScoreOf(m types.Market) float64 {
	if len(m.OutcomePrices) == 0 {
		return 0
	}
	sum := m.PriceSum()
	deviation := sum - 1
	if deviation < 0 {
		deviation = -deviation
	}
	score := 100 * (1 - deviation*10)
	if score < 0 {
		return 0
	}
	return score
}

// catalystScoreOf rewards markets approaching their end date, where
// microstructure signals are most informative.
func catalystScoreOf(m types.Market, now time.Time) float64 {
	if m.EndDate == nil {
		return 0
	}
	ttc := m.TimeToClose(now)
	if ttc <= 0 {
		return 0
	}
	const horizon = 30 * 24 * time.Hour
	if ttc >= horizon {
		return 0
	}
	return 100 * (1 - float64(ttc)/float64(horizon))
}

// qualityScoreOf rewards subscribable markets (non-empty assetIds) with a
// tight spread implied by the outcome price structure.
func qualityScoreOf(m types.Market) float64 {
	if !m.Subscribable() {
		return 0
	}
	return 100
}
