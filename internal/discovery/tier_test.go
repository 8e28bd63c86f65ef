package discovery

import (
	"testing"
	"time"

	"surveil/internal/config"
	"surveil/pkg/types"
)

func TestAssignTierBlacklisted(t *testing.T) {
	cfg := config.Default().Discovery
	m := types.Market{VolumeNum: 1_000_000}
	tier, _, _, _, _, _, _ := AssignTier(m, "", 0, true, cfg, time.Now())
	if tier != types.TierIgnored {
		t.Errorf("AssignTier() = %v, want IGNORED for blacklisted", tier)
	}
}

func TestAssignTierActiveAboveFloor(t *testing.T) {
	cfg := config.Default().Discovery
	m := types.Market{VolumeNum: 10000, OutcomePrices: []float64{0.5, 0.5}, AssetIDs: []string{"a", "b"}, Outcomes: []string{"Yes", "No"}}
	tier, _, opp, _, _, _, _ := AssignTier(m, types.CategoryPolitics, 2, false, cfg, time.Now())
	if tier != types.TierActive {
		t.Errorf("AssignTier() = %v, want ACTIVE", tier)
	}
	if opp <= 0 {
		t.Errorf("opportunityScore = %v, want > 0", opp)
	}
}

func TestAssignTierIgnoredBelowFloor(t *testing.T) {
	cfg := config.Default().Discovery
	m := types.Market{VolumeNum: 10}
	tier, _, _, _, _, _, _ := AssignTier(m, types.CategoryPolitics, 2, false, cfg, time.Now())
	if tier != types.TierIgnored {
		t.Errorf("AssignTier() = %v, want IGNORED", tier)
	}
}

func TestAssignTierUncategorized(t *testing.T) {
	cfg := config.Default().Discovery
	m := types.Market{VolumeNum: 1_000_000}
	tier, reason, _, _, _, _, _ := AssignTier(m, "", 0, false, cfg, time.Now())
	if tier != types.TierIgnored || reason != "uncategorized" {
		t.Errorf("AssignTier() = (%v, %q), want (IGNORED, uncategorized)", tier, reason)
	}
}
