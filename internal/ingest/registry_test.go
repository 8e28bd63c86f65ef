package ingest

import (
	"testing"

	"surveil/pkg/types"
)

func TestSetMarketAssetsMarksNewAssetsPending(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.SetMarketAssets("m1", []string{"a1", "a2"})

	marketID, ok := r.ResolveMarket("a1")
	if !ok || marketID != "m1" {
		t.Fatalf("ResolveMarket(a1) = %v, %v, want m1, true", marketID, ok)
	}

	r.mu.RLock()
	sub := r.subs["a1"]
	r.mu.RUnlock()
	if sub.State != types.SubPending {
		t.Errorf("new asset state = %v, want PENDING", sub.State)
	}
}

func TestSetMarketAssetsDropsRemovedAssets(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.SetMarketAssets("m1", []string{"a1", "a2"})
	r.SetMarketAssets("m1", []string{"a1"})

	if _, ok := r.ResolveMarket("a2"); ok {
		t.Errorf("a2 should have been dropped when market's asset set shrank")
	}
	if _, ok := r.ResolveMarket("a1"); !ok {
		t.Errorf("a1 should still resolve")
	}
}

func TestRemoveMarketDropsAllItsAssets(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.SetMarketAssets("m1", []string{"a1", "a2"})
	r.RemoveMarket("m1")

	if ids := r.DesiredAssetIDs(); len(ids) != 0 {
		t.Errorf("DesiredAssetIDs() after RemoveMarket = %v, want empty", ids)
	}
}

func TestMarkStateTransitionsExistingAssets(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.SetMarketAssets("m1", []string{"a1"})
	r.MarkState([]string{"a1"}, types.SubActive)

	r.mu.RLock()
	sub := r.subs["a1"]
	r.mu.RUnlock()
	if sub.State != types.SubActive {
		t.Errorf("state after MarkState = %v, want ACTIVE", sub.State)
	}
}

func TestDiffComputesAddAndRemove(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.SetMarketAssets("m1", []string{"a1", "a2"})

	live := map[string]bool{"a2": true, "stale": true}
	toAdd, toRemove := r.Diff(live)

	if len(toAdd) != 1 || toAdd[0] != "a1" {
		t.Errorf("toAdd = %v, want [a1]", toAdd)
	}
	if len(toRemove) != 1 || toRemove[0] != "stale" {
		t.Errorf("toRemove = %v, want [stale]", toRemove)
	}
}
