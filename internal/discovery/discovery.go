// Package discovery periodically polls the venue for markets, normalizes
// and categorizes them, assigns a monitoring tier, and exposes the
// resulting market set to the rest of the pipeline.
package discovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"surveil/internal/config"
	"surveil/internal/venue"
	"surveil/pkg/types"
)

// Discovery owns the current market set and refreshes it on a ticker.
// REST errors leave the previous market set intact — a retryable failure
// during one cycle never clears already-discovered markets.
type Discovery struct {
	client *venue.Client
	cfg    config.DiscoveryConfig
	logger *slog.Logger

	mu      sync.RWMutex
	markets map[string]types.Market
}

// New creates a Discovery loop against client.
func New(client *venue.Client, cfg config.DiscoveryConfig, logger *slog.Logger) *Discovery {
	return &Discovery{
		client:  client,
		cfg:     cfg,
		logger:  logger.With("component", "discovery"),
		markets: make(map[string]types.Market),
	}
}

// Run blocks, refreshing the market set every cfg.RefreshInterval, until ctx
// is cancelled.
func (d *Discovery) Run(ctx context.Context) error {
	d.refresh(ctx)

	ticker := time.NewTicker(d.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.refresh(ctx)
		}
	}
}

func (d *Discovery) refresh(ctx context.Context) {
	events, err := d.client.FetchEvents(ctx, d.cfg.PageSize, d.cfg.MaxEvents)
	if err != nil {
		d.logger.Warn("discovery refresh failed, keeping previous market set", "error", err)
		return
	}

	now := time.Now()
	seen := make(map[string]bool)
	next := make(map[string]types.Market, len(d.markets))

	for _, ev := range events {
		for _, gm := range ev.Markets {
			if gm.ID == "" || seen[gm.ID] {
				continue
			}
			seen[gm.ID] = true

			m, err := Normalize(gm, now)
			if err != nil {
				d.logger.Debug("skipping malformed market", "market_id", gm.ID, "error", err)
				continue
			}
			if m.VolumeNum < d.cfg.MinVolumeThreshold {
				continue
			}

			category, catScore, blacklisted, _ := Categorize(m.Question)
			m.Category = category
			m.CategoryScore = catScore
			m.IsBlacklisted = blacklisted

			tier, reason, opp, vol, edge, catalyst, quality := AssignTier(m, category, catScore, blacklisted, d.cfg, now)
			m.Tier = tier
			m.TierReason = reason
			m.OpportunityScore = opp
			m.VolumeScore = vol
			m.EdgeScore = edge
			m.CatalystScore = catalyst
			m.QualityScore = quality
			m.ScoreUpdatedAt = now

			if prev, ok := d.markets[m.ID]; ok {
				m.CreatedAt = prev.CreatedAt
				m.DiscoveredAt = prev.DiscoveredAt
			}

			next[m.ID] = m
		}
	}

	if d.cfg.MaxMarketsToTrack > 0 && len(next) > d.cfg.MaxMarketsToTrack {
		next = capByOpportunity(next, d.cfg.MaxMarketsToTrack)
	}

	d.mu.Lock()
	d.markets = next
	d.mu.Unlock()

	d.logger.Info("discovery refresh complete", "events", len(events), "markets", len(next))
}

// capByOpportunity keeps the top-N markets by opportunityScore, always
// keeping ACTIVE tier markets first.
func capByOpportunity(markets map[string]types.Market, n int) map[string]types.Market {
	list := make([]types.Market, 0, len(markets))
	for _, m := range markets {
		list = append(list, m)
	}
	// simple selection: ACTIVE first, then by opportunityScore descending
	for i := 1; i < len(list); i++ {
		j := i
		for j > 0 && less(list[j], list[j-1]) {
			list[j], list[j-1] = list[j-1], list[j]
			j--
		}
	}
	if len(list) > n {
		list = list[:n]
	}
	out := make(map[string]types.Market, len(list))
	for _, m := range list {
		out[m.ID] = m
	}
	return out
}

func less(a, b types.Market) bool {
	rank := func(t types.Tier) int {
		switch t {
		case types.TierActive:
			return 0
		case types.TierWatchlist:
			return 1
		default:
			return 2
		}
	}
	ra, rb := rank(a.Tier), rank(b.Tier)
	if ra != rb {
		return ra < rb
	}
	return a.OpportunityScore > b.OpportunityScore
}

// Snapshot returns a copy of the current market set.
func (d *Discovery) Snapshot() []types.Market {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]types.Market, 0, len(d.markets))
	for _, m := range d.markets {
		out = append(out, m)
	}
	return out
}

// Subscribable returns only ACTIVE/WATCHLIST markets with asset IDs — the
// set the ingestion layer should subscribe to.
func (d *Discovery) Subscribable() []types.Market {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []types.Market
	for _, m := range d.markets {
		if (m.Tier == types.TierActive || m.Tier == types.TierWatchlist) && m.Subscribable() {
			out = append(out, m)
		}
	}
	return out
}
