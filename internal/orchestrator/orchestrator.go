// Package orchestrator wires venue discovery, ingestion, per-market state,
// detection, cross-market correlation, signal performance tracking,
// notification, and storage into a single running process. It mirrors the
// teacher's engine package: one struct owning every subsystem, one errgroup
// running each subsystem's loop, and a single cancellable context tearing
// the whole pipeline down together.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"surveil/internal/config"
	"surveil/internal/detect"
	"surveil/internal/discovery"
	"surveil/internal/health"
	"surveil/internal/history"
	"surveil/internal/ingest"
	"surveil/internal/notifier"
	"surveil/internal/perf"
	"surveil/internal/state"
	"surveil/internal/storage"
	"surveil/internal/venue"
	"surveil/pkg/types"
)

// historyDownsample is the resolution history.Tracker keeps samples at.
// Cross-market correlation windows are measured in hours, so a finer
// resolution than this only costs memory without adding signal.
const historyDownsample = time.Minute

// detectionQueueSize bounds how many pending per-market detection runs can
// queue up behind the worker pool before new update notifications are
// dropped, matching the ingestion dispatcher's own "never block the hot
// path" stance.
const detectionQueueSize = 4096

// Orchestrator owns every subsystem and the goroutines that run them.
type Orchestrator struct {
	cfg    config.Config
	logger *slog.Logger

	venueClient *venue.Client
	discovery   *discovery.Discovery
	store       *state.Store
	historyTrk  *history.Tracker
	ingestor    *ingest.Ingestor
	perfTracker *perf.Tracker
	notif       *notifier.Notifier
	storageAdp  *storage.Adapter
	counters    *health.Counters
	healthSrv   *health.Server

	detectionCh chan string

	// resolvedMarkets tracks which closed markets have already had their
	// performance records resolved, so a market staying Closed across
	// discovery refreshes doesn't re-fire ResolveMarket every tick.
	resolvedMarkets map[string]bool
}

// New builds every subsystem from cfg but starts nothing.
func New(cfg config.Config, logger *slog.Logger) (*Orchestrator, error) {
	counters := health.NewCounters()

	venueClient := venue.NewClient(cfg.Venue, logger)
	disc := discovery.New(venueClient, cfg.Discovery, logger)
	store := state.NewStore(cfg.Microstructure)
	historyTrk := history.NewTracker(historyDownsample, cfg.Discovery.RetentionWindow)

	storageAdp, err := storage.Open(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: open storage: %w", err)
	}

	o := &Orchestrator{
		cfg:             cfg,
		logger:          logger.With("component", "orchestrator"),
		venueClient:     venueClient,
		discovery:       disc,
		store:           store,
		historyTrk:      historyTrk,
		storageAdp:      storageAdp,
		counters:        counters,
		detectionCh:     make(chan string, detectionQueueSize),
		resolvedMarkets: make(map[string]bool),
	}

	o.perfTracker = perf.New(cfg.Perf, storeMidPriceReader{store: store}, logger)

	var sink notifier.Sink = notifier.NewWebhookSink(cfg.Notifier, logger)
	o.notif = notifier.New(cfg.Notifier, sink, logger)
	o.notif.OnDeliveryDisabled(o.onDeliveryDisabled)

	o.ingestor = ingest.New(cfg.Venue.WSMarketURL, cfg.Ingest, store, venueClient, counters, logger)
	o.ingestor.OnUpdate(o.onMarketUpdate)

	o.healthSrv = health.NewServer(cfg.Health, counters, logger)

	return o, nil
}

// storeMidPriceReader adapts state.Store to perf.PriceReader.
type storeMidPriceReader struct {
	store *state.Store
}

func (r storeMidPriceReader) MidPrice(marketID string) (float64, bool) {
	st, ok := r.store.Get(marketID)
	if !ok {
		return 0, false
	}
	snap := st.Snapshot()
	if snap.MidPrice == 0 {
		return 0, false
	}
	return snap.MidPrice, true
}

// Run starts every subsystem and blocks until ctx is cancelled or a
// subsystem returns an unrecoverable error, at which point every other
// subsystem is cancelled too.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return o.discovery.Run(ctx) })
	g.Go(func() error { return o.ingestor.Run(ctx) })
	g.Go(func() error { o.perfTracker.Run(ctx); return nil })
	g.Go(func() error { return o.healthSrv.Start() })
	g.Go(func() error { o.reconcileLoop(ctx); return nil })
	g.Go(func() error { o.correlationLoop(ctx); return nil })
	g.Go(func() error { o.perfPersistLoop(ctx); return nil })

	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		g.Go(func() error { o.detectionWorker(ctx); return nil })
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.healthSrv.Stop(shutdownCtx); err != nil {
		o.logger.Warn("health server shutdown error", "error", err)
	}

	err := g.Wait()
	if closeErr := o.storageAdp.Close(); closeErr != nil {
		o.logger.Warn("storage close error", "error", closeErr)
	}
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// onMarketUpdate is the ingestion dispatcher's per-frame hook. It also
// feeds history.Tracker so the correlation loop has a price/volume series
// to work from, independent of the per-market detector family which reads
// directly off state.Store.
func (o *Orchestrator) onMarketUpdate(marketID string) {
	st, ok := o.store.Get(marketID)
	if !ok {
		return
	}
	snap := st.Snapshot()
	if snap.MidPrice > 0 {
		// Depth (top-of-book resting liquidity) stands in for "volume" here:
		// the correlation detector's VolumeMultiple only needs a series that
		// spikes on coordinated activity, and top-of-book depth is cheaply
		// available on every update without double-counting the trade-flow
		// series the per-market detectors already own.
		o.historyTrk.Append(marketID, snap.Timestamp, snap.MidPrice, snap.Depth)
	}

	select {
	case o.detectionCh <- marketID:
	default:
		o.counters.IncSignalsDropped()
		o.logger.Warn("detection queue full, dropping update", "market_id", marketID)
	}
}

// detectionWorker runs the single-market detector family against whichever
// market was just updated, once per queued notification.
func (o *Orchestrator) detectionWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case marketID, ok := <-o.detectionCh:
			if !ok {
				return
			}
			o.runDetectors(ctx, marketID)
		}
	}
}

func (o *Orchestrator) runDetectors(ctx context.Context, marketID string) {
	st, ok := o.store.Get(marketID)
	if !ok {
		return
	}
	snap := st.Snapshot()
	if !snap.WarmedUp {
		return
	}

	signals := detect.RunAll(detect.Context{
		MarketID: marketID,
		State:    st,
		Cfg:      o.cfg.Microstructure,
		Now:      snap.Timestamp,
	})
	for _, sig := range signals {
		o.processSignal(ctx, sig, snap.MidPrice)
	}
}

// processSignal persists a detected signal, records it for forward
// performance sampling, and routes it through the notifier. It is shared by
// both the per-market detector family and the cross-market correlation
// loop, since both produce the same types.EarlySignal shape.
func (o *Orchestrator) processSignal(ctx context.Context, sig types.EarlySignal, entryPrice float64) {
	o.counters.IncSignalsEmitted()

	if err := o.storageAdp.InsertSignal(ctx, sig); err != nil {
		o.counters.IncStorageErrors()
		o.logger.Warn("insert signal failed", "error", err)
	}

	o.perfTracker.Record(sig, entryPrice)

	posterior := o.perfTracker.Posterior(sig.SignalType)
	delivered, _, err := o.notif.Notify(ctx, sig, posterior, sig.Timestamp)
	if err != nil {
		o.logger.Warn("notify failed", "market_id", sig.MarketID, "error", err)
	}
	if delivered {
		o.counters.IncNotifyDelivered()
	} else {
		o.counters.IncNotifyFiltered()
	}
}

// onDeliveryDisabled is the notifier's hook for a non-retryable sink
// failure. It raises a system_alert so a disabled webhook shows up
// wherever operators already look for operational alerts, without the
// notifier package taking a storage dependency of its own.
func (o *Orchestrator) onDeliveryDisabled(ctx context.Context, reason string) {
	o.logger.Error("webhook delivery disabled", "reason", reason)
	err := o.storageAdp.InsertSystemAlert(ctx, uuid.NewString(), "webhook_delivery_disabled", "error",
		reason, "notifier", "Send", nil, time.Now())
	if err != nil {
		o.counters.IncStorageErrors()
		o.logger.Warn("insert system alert failed", "error", err)
	}
}

// reconcileLoop keeps discovery's market set mirrored into storage, the
// ingestion subscription registry, and signal performance resolution.
func (o *Orchestrator) reconcileLoop(ctx context.Context) {
	interval := o.cfg.Discovery.RefreshInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.reconcile(ctx)
		}
	}
}

func (o *Orchestrator) reconcile(ctx context.Context) {
	all := o.discovery.Snapshot()
	subscribable := o.discovery.Subscribable()

	desired := make(map[string][]string, len(subscribable))
	for _, m := range subscribable {
		desired[m.ID] = m.AssetIDs
	}

	live := make(map[string]bool)
	for marketID := range desired {
		live[marketID] = true
		o.ingestor.SetMarketAssets(marketID, desired[marketID])
	}
	// A market still in discovery's set that is no longer subscribable (for
	// example, demoted to IGNORED) is dropped below via RemoveMarket. A
	// market that has left discovery's set entirely is not visited by the
	// loop below, so its registry entry is not removed here.

	o.counters.SetMarketsTracked(len(all))

	for _, m := range all {
		if err := o.storageAdp.UpsertMarket(ctx, m); err != nil {
			o.counters.IncStorageErrors()
			o.logger.Warn("upsert market failed", "market_id", m.ID, "error", err)
		}
		if !live[m.ID] {
			o.ingestor.RemoveMarket(m.ID)
		}
		if m.Closed {
			o.resolveMarketOnce(m)
		}
	}
}

// resolveMarketOnce reports a closed market's outcome to the performance
// tracker exactly once. A binary market's resolved OutcomePrices settle to
// 1/0; the first outcome (by convention the "yes"/bullish side) winning is
// what predictedWon reports.
func (o *Orchestrator) resolveMarketOnce(m types.Market) {
	if o.resolvedMarkets[m.ID] {
		return
	}
	o.resolvedMarkets[m.ID] = true

	finalPrice := 0.5
	if len(m.OutcomePrices) > 0 {
		finalPrice = m.OutcomePrices[0]
	}
	predictedWon := finalPrice >= 0.5

	o.perfTracker.ResolveMarket(m.ID, predictedWon, finalPrice, time.Now())
}

// correlationLoop evaluates coordinated cross-market movement on a fixed
// tick, independent of any single market's update rate.
func (o *Orchestrator) correlationLoop(ctx context.Context) {
	interval := o.cfg.Correlation.TickInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.runCorrelation(ctx)
		}
	}
}

func (o *Orchestrator) runCorrelation(ctx context.Context) {
	markets := o.discovery.Subscribable()
	refs := make([]detect.MarketRef, 0, len(markets))
	for _, m := range markets {
		refs = append(refs, detect.MarketRef{MarketID: m.ID, Category: m.Category, Volume: m.VolumeNum})
	}

	signals := detect.CoordinatedCrossMarket(refs, o.historyTrk, o.cfg.Correlation, time.Now())
	for _, sig := range signals {
		entryPrice, _ := storeMidPriceReader{store: o.store}.MidPrice(sig.MarketID)
		o.processSignal(ctx, sig, entryPrice)
	}
}

// perfPersistLoop periodically flushes the performance tracker's in-memory
// records to storage. The tracker itself holds no storage dependency, so
// persistence cadence is entirely this loop's concern.
func (o *Orchestrator) perfPersistLoop(ctx context.Context) {
	interval := o.cfg.Perf.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, rec := range o.perfTracker.Records() {
				if err := o.storageAdp.UpdateSignalPerformance(ctx, rec); err != nil {
					o.counters.IncStorageErrors()
					o.logger.Warn("persist signal performance failed", "record_id", rec.ID, "error", err)
				}
			}
		}
	}
}
