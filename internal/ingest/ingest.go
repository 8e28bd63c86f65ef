// Package ingest maintains the WebSocket connection(s) to the venue's
// market data feed, resolves inbound frames to markets via a subscription
// registry, batches them by type, and folds the result into per-market
// rolling state.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"surveil/internal/config"
	"surveil/internal/health"
	"surveil/internal/state"
	"surveil/internal/venue"
)

// Ingestor wires one Connection, its subscription Registry, and a
// Dispatcher together, and batches frames by type before dispatch so a
// burst of book/trade updates for the same market is applied as a group
// rather than one goroutine wakeup per message — the batching behavior
// spec.md names explicitly and the teacher's single-message dispatch loop
// does not need.
type Ingestor struct {
	conn       *Connection
	registry   *Registry
	dispatcher *Dispatcher
	cfg        config.IngestConfig
	logger     *slog.Logger
}

// New creates an Ingestor for the given WebSocket URL.
func New(wsURL string, cfg config.IngestConfig, store *state.Store, venueClient *venue.Client, counters *health.Counters, logger *slog.Logger) *Ingestor {
	registry := NewRegistry()
	conn := NewConnection(wsURL, cfg, logger)

	in := &Ingestor{
		conn:     conn,
		registry: registry,
		cfg:      cfg,
		logger:   logger.With("component", "ingest"),
	}

	dispatcher := NewDispatcher(registry, store, venueClient, counters, cfg.UnknownAssetRateThreshold, logger, in.triggerResubscribe)
	in.dispatcher = dispatcher
	return in
}

// OnUpdate registers a callback invoked once per successfully ingested
// frame, after per-market state has been updated, with the affected
// market's ID.
func (in *Ingestor) OnUpdate(fn func(marketID string)) {
	in.dispatcher.OnUpdate(fn)
}

// SetMarketAssets updates the registry's desired asset set for a market
// (e.g. called by the orchestrator whenever discovery promotes/demotes a
// market's tier) and immediately resubscribes the delta if the connection
// is open.
func (in *Ingestor) SetMarketAssets(marketID string, assetIDs []string) {
	in.registry.SetMarketAssets(marketID, assetIDs)
	in.triggerResubscribe()
}

// RemoveMarket drops a market from the registry and unsubscribes its
// assets.
func (in *Ingestor) RemoveMarket(marketID string) {
	in.registry.RemoveMarket(marketID)
	in.triggerResubscribe()
}

func (in *Ingestor) triggerResubscribe() {
	if err := in.conn.Resubscribe(in.registry.DesiredAssetIDs()); err != nil {
		in.logger.Warn("resubscribe failed", "error", err)
	}
}

// Run starts the connection loop and the batching/dispatch loop. It blocks
// until ctx is cancelled.
func (in *Ingestor) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- in.conn.Run(ctx, in.registry.DesiredAssetIDs)
	}()

	in.batchLoop(ctx)

	return <-errCh
}

// batchLoop groups inbound frames by type into batches of cfg.BatchSize,
// flushing early on cfg.BatchTimeout, and dispatches each batch in arrival
// order so that a market's updates are never reordered relative to each
// other.
func (in *Ingestor) batchLoop(ctx context.Context) {
	batchSize := in.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	batchTimeout := in.cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 250 * time.Millisecond
	}

	batches := make(map[string][]rawFrame)
	timer := time.NewTimer(batchTimeout)
	defer timer.Stop()

	flush := func(frameType string) {
		for _, f := range batches[frameType] {
			in.dispatcher.Dispatch(ctx, f)
		}
		delete(batches, frameType)
	}

	flushAll := func() {
		for t := range batches {
			flush(t)
		}
	}

	for {
		select {
		case <-ctx.Done():
			flushAll()
			return
		case f, ok := <-in.conn.Frames():
			if !ok {
				flushAll()
				return
			}
			batches[f.Type] = append(batches[f.Type], f)
			if len(batches[f.Type]) >= batchSize {
				flush(f.Type)
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(batchTimeout)
		case <-timer.C:
			flushAll()
			timer.Reset(batchTimeout)
		}
	}
}
