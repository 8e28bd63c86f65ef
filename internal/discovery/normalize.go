package discovery

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"surveil/internal/venue"
	"surveil/pkg/types"
)

// Normalize converts a raw GammaMarket into the internal Market
// representation, applying the venue's documented fallback chains for
// volume and asset IDs.
func Normalize(gm venue.GammaMarket, now time.Time) (types.Market, error) {
	outcomes, err := parseStringArray(gm.Outcomes)
	if err != nil {
		return types.Market{}, fmt.Errorf("parse outcomes for %s: %w", gm.ID, err)
	}

	priceStrs, err := parseStringArray(gm.OutcomePrices)
	if err != nil {
		return types.Market{}, fmt.Errorf("parse outcomePrices for %s: %w", gm.ID, err)
	}
	prices := make([]float64, len(priceStrs))
	for i, s := range priceStrs {
		prices[i], _ = strconv.ParseFloat(s, 64)
	}

	m := types.Market{
		ID:            gm.ID,
		Question:      gm.Question,
		Outcomes:      outcomes,
		OutcomePrices: prices,
		VolumeNum:     resolveVolume(gm),
		Active:        gm.Active,
		Closed:        gm.Closed,
		AssetIDs:      resolveAssetIDs(gm),
		DiscoveredAt:  now,
	}

	if gm.EndDate != "" {
		if t, err := time.Parse(time.RFC3339, gm.EndDate); err == nil {
			m.EndDate = &t
		}
	}
	if gm.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339, gm.CreatedAt); err == nil {
			m.CreatedAt = t
		}
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}

	return m, nil
}

// resolveVolume applies the fallback chain: volume → volumeNum →
// volumeClob+volumeAmm → volume24hr* → volume1wk*.
func resolveVolume(gm venue.GammaMarket) float64 {
	if v, err := strconv.ParseFloat(gm.Volume, 64); err == nil && v > 0 {
		return v
	}
	if gm.VolumeNum > 0 {
		return gm.VolumeNum
	}
	if sum := gm.VolumeClob + gm.VolumeAmm; sum > 0 {
		return sum
	}
	if sum := gm.Volume24hr + gm.Volume24hrClob; sum > 0 {
		return sum
	}
	if sum := gm.Volume1wk + gm.Volume1wkClob; sum > 0 {
		return sum
	}
	return 0
}

// resolveAssetIDs applies the fallback chain: tokens[*].token_id|id|asset_id
// → asset_id → outcome_tokens → clobTokenIds → conditionId as last resort.
func resolveAssetIDs(gm venue.GammaMarket) []string {
	if len(gm.Tokens) > 0 {
		ids := make([]string, 0, len(gm.Tokens))
		for _, t := range gm.Tokens {
			switch {
			case t.TokenID != "":
				ids = append(ids, t.TokenID)
			case t.ID != "":
				ids = append(ids, t.ID)
			case t.AssetID != "":
				ids = append(ids, t.AssetID)
			}
		}
		if len(ids) > 0 {
			return ids
		}
	}
	if gm.AssetID != "" {
		return []string{gm.AssetID}
	}
	if ids, err := parseStringArray(gm.OutcomeTokens); err == nil && len(ids) > 0 {
		return ids
	}
	if ids, err := parseStringArray(gm.ClobTokenIds); err == nil && len(ids) > 0 {
		return ids
	}
	if gm.ConditionID != "" {
		return []string{gm.ConditionID}
	}
	return nil
}

func parseStringArray(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}
