package discovery

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"surveil/internal/config"
	"surveil/internal/venue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDiscoveryRefreshPopulatesMarkets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		events := []venue.GammaEvent{
			{ID: "e1", Markets: []venue.GammaMarket{
				{
					ID:            "m1",
					Question:      "Will the president win re-election?",
					Outcomes:      `["Yes","No"]`,
					OutcomePrices: `["0.6","0.4"]`,
					Volume:        "20000",
					Active:        true,
					Tokens:        []venue.GammaToken{{TokenID: "t1"}, {TokenID: "t2"}},
				},
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(events)
	}))
	defer srv.Close()

	vcfg := config.VenueConfig{GammaBaseURL: srv.URL, CLOBBaseURL: srv.URL, RequestTimeout: 2 * time.Second, RateLimitPerMin: 6000, MaxBackoff: time.Second}
	client := venue.NewClient(vcfg, testLogger())

	dcfg := config.Default().Discovery
	dcfg.MinVolumeThreshold = 100

	d := New(client, dcfg, testLogger())
	d.refresh(context.Background())

	snap := d.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("Snapshot() returned %d markets, want 1", len(snap))
	}
	if snap[0].Tier != "ACTIVE" {
		t.Errorf("market tier = %v, want ACTIVE", snap[0].Tier)
	}
}

func TestDiscoveryRefreshKeepsMarketsOnError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			events := []venue.GammaEvent{
				{ID: "e1", Markets: []venue.GammaMarket{
					{ID: "m1", Question: "Will the president win?", Outcomes: `["Yes","No"]`, OutcomePrices: `["0.5","0.5"]`, Volume: "20000", Tokens: []venue.GammaToken{{TokenID: "t1"}, {TokenID: "t2"}}},
				}},
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(events)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	vcfg := config.VenueConfig{GammaBaseURL: srv.URL, CLOBBaseURL: srv.URL, RequestTimeout: 2 * time.Second, RateLimitPerMin: 6000, MaxBackoff: time.Second}
	client := venue.NewClient(vcfg, testLogger())

	dcfg := config.Default().Discovery
	dcfg.MinVolumeThreshold = 100

	d := New(client, dcfg, testLogger())
	d.refresh(context.Background())
	if len(d.Snapshot()) != 1 {
		t.Fatalf("expected 1 market after first refresh")
	}

	d.refresh(context.Background())
	if len(d.Snapshot()) != 1 {
		t.Errorf("expected market set to survive a failed refresh, got %d", len(d.Snapshot()))
	}
}
