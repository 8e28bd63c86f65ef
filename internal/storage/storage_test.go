package storage

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"surveil/internal/config"
	"surveil/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	path := filepath.Join(t.TempDir(), "surveil.db")
	a, err := Open(config.StorageConfig{Path: path}, testLogger())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestUpsertMarketIsIdempotent(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()

	m := types.Market{
		ID:             "m1",
		Question:       "Will X happen?",
		Outcomes:       []string{"Yes", "No"},
		OutcomePrices:  []float64{0.6, 0.4},
		VolumeNum:      10000,
		Active:         true,
		Category:       types.CategoryPolitics,
		Tier:           types.TierActive,
		ScoreUpdatedAt: time.Now(),
	}

	if err := a.UpsertMarket(ctx, m); err != nil {
		t.Fatalf("UpsertMarket() error = %v", err)
	}
	if err := a.UpsertMarket(ctx, m); err != nil {
		t.Fatalf("second UpsertMarket() error = %v", err)
	}

	var count int
	if err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM markets WHERE id = ?", "m1").Scan(&count); err != nil {
		t.Fatalf("count query error = %v", err)
	}
	if count != 1 {
		t.Errorf("markets row count = %d, want 1 (upsert must not duplicate)", count)
	}
}

func TestAppendPriceIsAppendOnly(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()
	now := time.Now()

	if err := a.AppendPrice(ctx, "m1", now, 0, 0.5, 100); err != nil {
		t.Fatalf("AppendPrice() error = %v", err)
	}
	if err := a.AppendPrice(ctx, "m1", now.Add(time.Second), 0, 0.51, 120); err != nil {
		t.Fatalf("second AppendPrice() error = %v", err)
	}

	var count int
	a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM market_prices WHERE market_id = ?", "m1").Scan(&count)
	if count != 2 {
		t.Errorf("market_prices row count = %d, want 2", count)
	}
}

func TestAppendOrderbookSnapshot(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()

	snap := types.OrderbookSnapshot{
		MarketID:  "m1",
		AssetID:   "a1",
		Bids:      []types.PriceLevel{{Price: "0.50", Size: "100"}},
		Asks:      []types.PriceLevel{{Price: "0.52", Size: "80"}},
		Timestamp: time.Now(),
	}
	if err := a.AppendOrderbookSnapshot(ctx, snap); err != nil {
		t.Fatalf("AppendOrderbookSnapshot() error = %v", err)
	}

	var mid float64
	if err := a.db.QueryRowContext(ctx, "SELECT mid_price FROM orderbook_snapshots WHERE market_id = ?", "m1").Scan(&mid); err != nil {
		t.Fatalf("query error = %v", err)
	}
	if mid != 0.51 {
		t.Errorf("mid_price = %v, want 0.51", mid)
	}
}

func TestInsertSignalIsAtMostOnce(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()

	sig := types.EarlySignal{
		ID:         "sig-1",
		MarketID:   "m1",
		SignalType: types.SignalOrderbookImbalance,
		Timestamp:  time.Now(),
		Confidence: 0.8,
		Direction:  types.DirectionBullish,
	}
	if err := a.InsertSignal(ctx, sig); err != nil {
		t.Fatalf("InsertSignal() error = %v", err)
	}
	if err := a.InsertSignal(ctx, sig); err != nil {
		t.Fatalf("second InsertSignal() error = %v", err)
	}

	var count int
	a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM signals WHERE id = ?", "sig-1").Scan(&count)
	if count != 1 {
		t.Errorf("signals row count = %d, want 1 (at-most-once)", count)
	}
}

func TestUpdateSignalPerformanceUpsertsHorizons(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()
	now := time.Now()

	rec := types.SignalPerformanceRecord{
		ID:         "perf-1",
		SignalID:   "sig-1",
		MarketID:   "m1",
		SignalType: types.SignalOrderbookImbalance,
		Confidence: 0.8,
		EntryTime:  now,
		EntryPrice: 0.5,
		Direction:  types.DirectionBullish,
		Price:      map[types.Horizon]*float64{},
		PnL:        map[types.Horizon]*float64{},
	}
	if err := a.UpdateSignalPerformance(ctx, rec); err != nil {
		t.Fatalf("UpdateSignalPerformance() error = %v", err)
	}

	price30 := 0.55
	pnl30 := 0.10
	rec.Price[types.Horizon30Min] = &price30
	rec.PnL[types.Horizon30Min] = &pnl30
	if err := a.UpdateSignalPerformance(ctx, rec); err != nil {
		t.Fatalf("second UpdateSignalPerformance() error = %v", err)
	}

	var count int
	a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM signal_performance WHERE id = ?", "perf-1").Scan(&count)
	if count != 1 {
		t.Fatalf("signal_performance row count = %d, want 1 (upsert)", count)
	}

	var gotPnl float64
	if err := a.db.QueryRowContext(ctx, "SELECT pnl_30min FROM signal_performance WHERE id = ?", "perf-1").Scan(&gotPnl); err != nil {
		t.Fatalf("query error = %v", err)
	}
	if gotPnl != 0.10 {
		t.Errorf("pnl_30min = %v, want 0.10", gotPnl)
	}
}

func TestInsertSystemAlert(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()

	err := a.InsertSystemAlert(ctx, "alert-1", "queue_overflow", "WARN", "signal bus full, dropped lowest-priority entry", "notifier", "enqueue", map[string]interface{}{"dropped_priority": "LOW"}, time.Now())
	if err != nil {
		t.Fatalf("InsertSystemAlert() error = %v", err)
	}

	var count int
	a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM system_alerts WHERE id = ?", "alert-1").Scan(&count)
	if count != 1 {
		t.Errorf("system_alerts row count = %d, want 1", count)
	}
}

func TestQueryRunsArbitrarySQL(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()
	a.UpsertMarket(ctx, types.Market{ID: "m1", Question: "q", ScoreUpdatedAt: time.Now()})

	rows, err := a.Query(ctx, "SELECT id FROM markets WHERE id = ?", "m1")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	defer rows.Close()

	if !rows.Next() {
		t.Fatal("expected one row")
	}
	var id string
	rows.Scan(&id)
	if id != "m1" {
		t.Errorf("id = %v, want m1", id)
	}
}
