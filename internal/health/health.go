// Package health exposes a /healthz endpoint and a small set of
// process-wide counters/gauges the rest of the pipeline updates via
// atomic operations.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"surveil/internal/config"
)

// Counters holds the atomic counters and gauges surfaced on /healthz.
// Every field is safe for concurrent increment/set from any goroutine.
type Counters struct {
	marketsTracked      int64
	subscriptionsActive int64
	signalsEmitted      int64
	signalsDropped      int64
	wsReconnects        int64
	storageErrors       int64
	notifyDelivered     int64
	notifyFiltered      int64
	lastIngestAt        int64 // unix nanos
}

func (c *Counters) SetMarketsTracked(n int)      { atomic.StoreInt64(&c.marketsTracked, int64(n)) }
func (c *Counters) SetSubscriptionsActive(n int) { atomic.StoreInt64(&c.subscriptionsActive, int64(n)) }
func (c *Counters) IncSignalsEmitted()           { atomic.AddInt64(&c.signalsEmitted, 1) }
func (c *Counters) IncSignalsDropped()           { atomic.AddInt64(&c.signalsDropped, 1) }
func (c *Counters) IncWSReconnects()             { atomic.AddInt64(&c.wsReconnects, 1) }
func (c *Counters) IncStorageErrors()            { atomic.AddInt64(&c.storageErrors, 1) }
func (c *Counters) IncNotifyDelivered()          { atomic.AddInt64(&c.notifyDelivered, 1) }
func (c *Counters) IncNotifyFiltered()           { atomic.AddInt64(&c.notifyFiltered, 1) }

// MarkIngest records that an ingestion update was just processed, for
// staleness detection.
func (c *Counters) MarkIngest(now time.Time) {
	atomic.StoreInt64(&c.lastIngestAt, now.UnixNano())
}

func (c *Counters) snapshot() snapshotJSON {
	lastIngestNanos := atomic.LoadInt64(&c.lastIngestAt)
	var lastIngest *time.Time
	if lastIngestNanos > 0 {
		t := time.Unix(0, lastIngestNanos)
		lastIngest = &t
	}
	return snapshotJSON{
		MarketsTracked:      atomic.LoadInt64(&c.marketsTracked),
		SubscriptionsActive: atomic.LoadInt64(&c.subscriptionsActive),
		SignalsEmitted:      atomic.LoadInt64(&c.signalsEmitted),
		SignalsDropped:      atomic.LoadInt64(&c.signalsDropped),
		WSReconnects:        atomic.LoadInt64(&c.wsReconnects),
		StorageErrors:       atomic.LoadInt64(&c.storageErrors),
		NotifyDelivered:     atomic.LoadInt64(&c.notifyDelivered),
		NotifyFiltered:      atomic.LoadInt64(&c.notifyFiltered),
		LastIngestAt:        lastIngest,
	}
}

type snapshotJSON struct {
	Status              string     `json:"status"`
	MarketsTracked       int64      `json:"markets_tracked"`
	SubscriptionsActive  int64      `json:"subscriptions_active"`
	SignalsEmitted       int64      `json:"signals_emitted"`
	SignalsDropped       int64      `json:"signals_dropped"`
	WSReconnects         int64      `json:"ws_reconnects"`
	StorageErrors        int64      `json:"storage_errors"`
	NotifyDelivered      int64      `json:"notify_delivered"`
	NotifyFiltered       int64      `json:"notify_filtered"`
	LastIngestAt         *time.Time `json:"last_ingest_at,omitempty"`
}

// staleIngestThreshold is how long without an ingestion update before
// /healthz reports degraded status.
const staleIngestThreshold = 2 * time.Minute

// Server exposes Counters over a bare http.ServeMux, matching the
// teacher's no-router-library dashboard server.
type Server struct {
	cfg      config.HealthConfig
	counters *Counters
	server   *http.Server
	logger   *slog.Logger
}

// NewServer builds the health endpoint. Call Start to begin serving.
func NewServer(cfg config.HealthConfig, counters *Counters, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{cfg: cfg, counters: counters, logger: logger.With("component", "health")}
	mux.HandleFunc("/healthz", s.handleHealthz)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// NewCounters allocates a fresh Counters instance.
func NewCounters() *Counters {
	return &Counters{}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := s.counters.snapshot()
	snap.Status = "ok"
	if snap.LastIngestAt != nil && time.Since(*snap.LastIngestAt) > staleIngestThreshold {
		snap.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	if snap.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(snap)
}

// Start runs the health HTTP server. It blocks until Stop is called or the
// server errors.
func (s *Server) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	s.logger.Info("health server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("health: server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the health HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	return s.server.Shutdown(ctx)
}
