// Package storage persists surveillance data to SQLite.
//
// Writes are best-effort: the ingestion and detection pipeline is correct
// even when storage is briefly unavailable, so every write method here
// returns an error for the caller to log and swallow rather than one that
// must be propagated onto the hot path. Down-sampling of high-frequency
// writes (orderbook snapshots, trade ticks) is the caller's responsibility;
// this package only appends what it is given.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"surveil/internal/config"
	"surveil/pkg/types"
)

// Adapter wraps a SQLite connection and exposes the surveillance schema's
// write/query surface.
type Adapter struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates (or opens) the SQLite database at cfg.Path and applies the
// schema migrations.
func Open(cfg config.StorageConfig, logger *slog.Logger) (*Adapter, error) {
	path := cfg.Path
	if path == "" {
		path = "surveil.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create dir: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}

	a := &Adapter{db: db, logger: logger.With("component", "storage")}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	a.logger.Info("opened storage", "path", path)
	return a, nil
}

// Close closes the underlying database connection.
func (a *Adapter) Close() error {
	return a.db.Close()
}

func (a *Adapter) migrate() error {
	var version int
	a.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		if _, err := a.db.Exec(schemaV1); err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
		a.logger.Info("applied migration v1")
	}
	return nil
}

// Query runs an arbitrary read-only query against the schema, for ad-hoc
// reporting and debugging.
func (a *Adapter) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return a.db.QueryContext(ctx, query, args...)
}

// UpsertMarket inserts or replaces the current normalized/scored view of a
// market. Applying it twice with the same values yields the same row.
func (a *Adapter) UpsertMarket(ctx context.Context, m types.Market) error {
	outcomes, _ := json.Marshal(m.Outcomes)
	prices, _ := json.Marshal(m.OutcomePrices)

	var endDate interface{}
	if m.EndDate != nil {
		endDate = m.EndDate.UTC().Format(time.RFC3339Nano)
	}

	scoreUpdatedAt := m.ScoreUpdatedAt.UTC().Format(time.RFC3339Nano)

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO markets (
			id, question, outcomes, outcome_prices, volume, active, closed, end_date,
			category, category_score, is_blacklisted, tier, tier_reason,
			tier_updated_at, opportunity_score, volume_score, edge_score, catalyst_score,
			quality_score, score_updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			question=excluded.question, outcomes=excluded.outcomes,
			outcome_prices=excluded.outcome_prices, volume=excluded.volume,
			active=excluded.active, closed=excluded.closed, end_date=excluded.end_date,
			category=excluded.category, category_score=excluded.category_score,
			is_blacklisted=excluded.is_blacklisted, tier=excluded.tier,
			tier_reason=excluded.tier_reason,
			tier_updated_at=excluded.tier_updated_at, opportunity_score=excluded.opportunity_score,
			volume_score=excluded.volume_score, edge_score=excluded.edge_score,
			catalyst_score=excluded.catalyst_score, quality_score=excluded.quality_score,
			score_updated_at=excluded.score_updated_at
	`,
		m.ID, m.Question, string(outcomes), string(prices), m.VolumeNum, m.Active, m.Closed, endDate,
		string(m.Category), m.CategoryScore, m.IsBlacklisted, string(m.Tier), m.TierReason,
		scoreUpdatedAt, m.OpportunityScore, m.VolumeScore, m.EdgeScore, m.CatalystScore,
		m.QualityScore, scoreUpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert market %s: %w", m.ID, err)
	}
	return nil
}

// AppendPrice records a single outcome's price at a point in time.
func (a *Adapter) AppendPrice(ctx context.Context, marketID string, ts time.Time, outcomeIndex int, price, volume float64) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO market_prices (market_id, timestamp, outcome_index, price, volume) VALUES (?, ?, ?, ?, ?)`,
		marketID, ts.UTC().Format(time.RFC3339Nano), outcomeIndex, price, volume,
	)
	if err != nil {
		return fmt.Errorf("storage: append price %s: %w", marketID, err)
	}
	return nil
}

// AppendOrderbookSnapshot records a down-sampled order book snapshot.
func (a *Adapter) AppendOrderbookSnapshot(ctx context.Context, snap types.OrderbookSnapshot) error {
	bids, _ := json.Marshal(snap.Bids)
	asks, _ := json.Marshal(snap.Asks)

	var spread, mid, bestBid, bestAsk interface{}
	if s, ok := snap.Spread(); ok {
		spread = s
	}
	if m, ok := snap.MidPrice(); ok {
		mid = m
	}
	if b, a2, ok := snap.BestBidAsk(); ok {
		bestBid, bestAsk = b, a2
	}

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO orderbook_snapshots (market_id, timestamp, bids, asks, spread, mid_price, best_bid, best_ask)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.MarketID, snap.Timestamp.UTC().Format(time.RFC3339Nano), string(bids), string(asks),
		spread, mid, bestBid, bestAsk,
	)
	if err != nil {
		return fmt.Errorf("storage: append orderbook snapshot %s: %w", snap.MarketID, err)
	}
	return nil
}

// AppendTradeTick records a sampled trade execution.
func (a *Adapter) AppendTradeTick(ctx context.Context, t types.TradeTick) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO trade_ticks (market_id, timestamp, price, size, side) VALUES (?, ?, ?, ?, ?)`,
		t.MarketID, t.Timestamp.UTC().Format(time.RFC3339Nano), t.Price, t.Size, string(t.Side),
	)
	if err != nil {
		return fmt.Errorf("storage: append trade tick %s: %w", t.MarketID, err)
	}
	return nil
}

// InsertSignal records a detector's emitted signal, at-most-once per ID.
func (a *Adapter) InsertSignal(ctx context.Context, sig types.EarlySignal) error {
	metadata, err := json.Marshal(sig.Metadata)
	if err != nil {
		metadata = []byte("{}")
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO signals (id, market_id, signal_type, confidence, timestamp, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sig.ID, sig.MarketID, string(sig.SignalType), sig.Confidence, sig.Timestamp.UTC().Format(time.RFC3339Nano), string(metadata),
	)
	if err != nil {
		return fmt.Errorf("storage: insert signal %s: %w", sig.ID, err)
	}
	return nil
}

// UpdateSignalPerformance upserts the forward-sampling state of a signal
// performance record. Call this at least once per horizon fill and again
// on market resolution (at-least-once semantics).
func (a *Adapter) UpdateSignalPerformance(ctx context.Context, rec types.SignalPerformanceRecord) error {
	var resolutionTime interface{}
	if rec.ResolutionTime != nil {
		resolutionTime = rec.ResolutionTime.UTC().Format(time.RFC3339Nano)
	}

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO signal_performance (
			id, signal_id, market_id, signal_type, confidence, entry_time, entry_price,
			entry_direction, price_30min, price_1hr, price_4hr, price_24hr, price_7day,
			pnl_30min, pnl_1hr, pnl_4hr, pnl_24hr, pnl_7day,
			market_resolved, resolution_time, final_pnl, was_correct, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '{}')
		ON CONFLICT(id) DO UPDATE SET
			price_30min=excluded.price_30min, price_1hr=excluded.price_1hr,
			price_4hr=excluded.price_4hr, price_24hr=excluded.price_24hr, price_7day=excluded.price_7day,
			pnl_30min=excluded.pnl_30min, pnl_1hr=excluded.pnl_1hr, pnl_4hr=excluded.pnl_4hr,
			pnl_24hr=excluded.pnl_24hr, pnl_7day=excluded.pnl_7day,
			market_resolved=excluded.market_resolved, resolution_time=excluded.resolution_time,
			final_pnl=excluded.final_pnl, was_correct=excluded.was_correct
	`,
		rec.ID, rec.SignalID, rec.MarketID, string(rec.SignalType), rec.Confidence,
		rec.EntryTime.UTC().Format(time.RFC3339Nano), rec.EntryPrice, string(rec.Direction),
		nullableFloat(rec.Price[types.Horizon30Min]), nullableFloat(rec.Price[types.Horizon1Hr]),
		nullableFloat(rec.Price[types.Horizon4Hr]), nullableFloat(rec.Price[types.Horizon24Hr]),
		nullableFloat(rec.Price[types.Horizon7Day]),
		nullableFloat(rec.PnL[types.Horizon30Min]), nullableFloat(rec.PnL[types.Horizon1Hr]),
		nullableFloat(rec.PnL[types.Horizon4Hr]), nullableFloat(rec.PnL[types.Horizon24Hr]),
		nullableFloat(rec.PnL[types.Horizon7Day]),
		rec.MarketResolved, resolutionTime, nullableFloat(rec.FinalPnL), nullableBool(rec.WasCorrect),
	)
	if err != nil {
		return fmt.Errorf("storage: update signal performance %s: %w", rec.ID, err)
	}
	return nil
}

// InsertSystemAlert records an operational alert raised by the error
// taxonomy (Resource overflow, Logic invariant violation, etc).
func (a *Adapter) InsertSystemAlert(ctx context.Context, id, name, level, message, component, operation string, alertCtx map[string]interface{}, ts time.Time) error {
	ctxJSON, err := json.Marshal(alertCtx)
	if err != nil {
		ctxJSON = []byte("{}")
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO system_alerts (id, name, level, message, component, operation, context, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, name, level, message, component, operation, string(ctxJSON),
		ts.UTC().Format(time.RFC3339Nano), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("storage: insert system alert %s: %w", name, err)
	}
	return nil
}

func nullableFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableBool(v *bool) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
