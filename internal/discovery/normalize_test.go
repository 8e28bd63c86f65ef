package discovery

import (
	"testing"
	"time"

	"surveil/internal/venue"
)

func TestNormalizeOutcomesAndPrices(t *testing.T) {
	gm := venue.GammaMarket{
		ID:            "m1",
		Question:      "Will it happen?",
		Outcomes:      `["Yes","No"]`,
		OutcomePrices: `["0.6","0.4"]`,
		VolumeNum:     5000,
		Tokens: []venue.GammaToken{
			{TokenID: "t1"}, {TokenID: "t2"},
		},
	}
	m, err := Normalize(gm, time.Now())
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if len(m.Outcomes) != 2 || len(m.OutcomePrices) != 2 {
		t.Fatalf("Normalize() outcomes/prices = %v/%v", m.Outcomes, m.OutcomePrices)
	}
	if m.OutcomePrices[0] != 0.6 {
		t.Errorf("OutcomePrices[0] = %v, want 0.6", m.OutcomePrices[0])
	}
	if len(m.AssetIDs) != 2 || m.AssetIDs[0] != "t1" {
		t.Errorf("AssetIDs = %v, want [t1 t2]", m.AssetIDs)
	}
}

func TestResolveVolumeFallbackChain(t *testing.T) {
	cases := []struct {
		name string
		gm   venue.GammaMarket
		want float64
	}{
		{"volume string wins", venue.GammaMarket{Volume: "100", VolumeNum: 200}, 100},
		{"volumeNum fallback", venue.GammaMarket{VolumeNum: 200}, 200},
		{"clob+amm fallback", venue.GammaMarket{VolumeClob: 30, VolumeAmm: 20}, 50},
		{"24hr fallback", venue.GammaMarket{Volume24hr: 75}, 75},
		{"1wk fallback", venue.GammaMarket{Volume1wk: 10}, 10},
		{"nothing", venue.GammaMarket{}, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := resolveVolume(c.gm); got != c.want {
				t.Errorf("resolveVolume() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestResolveAssetIDsFallbackChain(t *testing.T) {
	cases := []struct {
		name string
		gm   venue.GammaMarket
		want []string
	}{
		{"tokens wins", venue.GammaMarket{Tokens: []venue.GammaToken{{TokenID: "a"}}, AssetID: "b"}, []string{"a"}},
		{"asset_id fallback", venue.GammaMarket{AssetID: "b"}, []string{"b"}},
		{"outcome_tokens fallback", venue.GammaMarket{OutcomeTokens: `["c","d"]`}, []string{"c", "d"}},
		{"clobTokenIds fallback", venue.GammaMarket{ClobTokenIds: `["e"]`}, []string{"e"}},
		{"conditionId last resort", venue.GammaMarket{ConditionID: "cond1"}, []string{"cond1"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := resolveAssetIDs(c.gm)
			if len(got) != len(c.want) {
				t.Fatalf("resolveAssetIDs() = %v, want %v", got, c.want)
			}
			for i := range got {
				if got[i] != c.want[i] {
					t.Errorf("resolveAssetIDs()[%d] = %v, want %v", i, got[i], c.want[i])
				}
			}
		})
	}
}
