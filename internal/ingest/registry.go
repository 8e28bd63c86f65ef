package ingest

import (
	"sync"

	"surveil/pkg/types"
)

// Registry holds the assetId<->marketId mapping the venue's asset-centric
// WebSocket contract requires, plus each asset's subscription lifecycle
// state. One mutex guards both maps, matching the teacher's WSFeed
// subscribedMu scope (a single registry-wide lock, not per-market
// sharding — subscription churn is orders of magnitude rarer than
// per-market state updates, so contention here is not a concern).
type Registry struct {
	mu            sync.RWMutex
	assetToMarket map[string]string
	marketAssets  map[string][]string
	subs          map[string]types.Subscription // keyed by assetId
}

// NewRegistry creates an empty subscription registry.
func NewRegistry() *Registry {
	return &Registry{
		assetToMarket: make(map[string]string),
		marketAssets:  make(map[string][]string),
		subs:          make(map[string]types.Subscription),
	}
}

// SetMarketAssets records marketID's current asset IDs, marking any newly
// seen ones PENDING. Asset IDs the market no longer lists are forgotten.
func (r *Registry) SetMarketAssets(marketID string, assetIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, old := range r.marketAssets[marketID] {
		if !contains(assetIDs, old) {
			delete(r.assetToMarket, old)
			delete(r.subs, old)
		}
	}

	r.marketAssets[marketID] = append([]string(nil), assetIDs...)
	for _, assetID := range assetIDs {
		r.assetToMarket[assetID] = marketID
		if _, ok := r.subs[assetID]; !ok {
			r.subs[assetID] = types.Subscription{AssetID: assetID, MarketID: marketID, State: types.SubPending}
		}
	}
}

// RemoveMarket drops every asset belonging to marketID, e.g. when a market
// is retired from ACTIVE/WATCHLIST tiers.
func (r *Registry) RemoveMarket(marketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, assetID := range r.marketAssets[marketID] {
		delete(r.assetToMarket, assetID)
		delete(r.subs, assetID)
	}
	delete(r.marketAssets, marketID)
}

// ResolveMarket maps an inbound frame's assetId to its owning marketId.
func (r *Registry) ResolveMarket(assetID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	marketID, ok := r.assetToMarket[assetID]
	return marketID, ok
}

// DesiredAssetIDs returns every asset ID currently tracked, regardless of
// subscription state.
func (r *Registry) DesiredAssetIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.assetToMarket))
	for assetID := range r.assetToMarket {
		out = append(out, assetID)
	}
	return out
}

// MarkState transitions a set of asset IDs to a new subscription state,
// e.g. PENDING -> ACTIVE after the server acks a subscribe batch.
func (r *Registry) MarkState(assetIDs []string, state types.SubState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, assetID := range assetIDs {
		if sub, ok := r.subs[assetID]; ok {
			sub.State = state
			r.subs[assetID] = sub
		}
	}
}

// Diff computes which of the live connection's subscribed asset IDs need
// to be added or removed to match the registry's desired set.
func (r *Registry) Diff(live map[string]bool) (toAdd, toRemove []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for assetID := range r.assetToMarket {
		if !live[assetID] {
			toAdd = append(toAdd, assetID)
		}
	}
	for assetID := range live {
		if _, ok := r.assetToMarket[assetID]; !ok {
			toRemove = append(toRemove, assetID)
		}
	}
	return toAdd, toRemove
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
