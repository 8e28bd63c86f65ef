package ingest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"surveil/internal/config"
	"surveil/internal/health"
	"surveil/internal/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMicrostructureConfig() config.MicrostructureConfig {
	return config.MicrostructureConfig{
		RingBufferSize:        64,
		MinSampleSize:         5,
		EWMAAlpha:             0.2,
		MicroPriceSlopeWindow: 8,
		DepthLevels:           5,
	}
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *Registry, *state.Store) {
	t.Helper()
	registry := NewRegistry()
	store := state.NewStore(testMicrostructureConfig())
	counters := health.NewCounters()
	d := NewDispatcher(registry, store, nil, counters, 0.1, testLogger(), nil)
	return d, registry, store
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestDispatchBookFrameUpdatesState(t *testing.T) {
	t.Parallel()
	d, registry, store := newTestDispatcher(t)
	registry.SetMarketAssets("m1", []string{"asset1"})

	frame := bookFrame{
		EventType: "book",
		AssetID:   "asset1",
		Market:    "m1",
		Bids:      []priceLevelFrame{{Price: "0.50", Size: "100"}},
		Asks:      []priceLevelFrame{{Price: "0.52", Size: "80"}},
		Hash:      "h1",
	}
	d.Dispatch(context.Background(), rawFrame{Type: "book", AssetID: "asset1", ReceivedAt: time.Now(), Payload: mustMarshal(t, frame)})

	snap := store.GetOrCreate("m1").Snapshot()
	if snap.MidPrice != 0.51 {
		t.Errorf("MidPrice = %v, want 0.51", snap.MidPrice)
	}
}

func TestDispatchUnknownAssetIsDropped(t *testing.T) {
	t.Parallel()
	d, _, store := newTestDispatcher(t)

	frame := bookFrame{EventType: "book", AssetID: "ghost", Bids: []priceLevelFrame{{Price: "0.5", Size: "10"}}, Asks: []priceLevelFrame{{Price: "0.6", Size: "10"}}}
	d.Dispatch(context.Background(), rawFrame{Type: "book", AssetID: "ghost", ReceivedAt: time.Now(), Payload: mustMarshal(t, frame)})

	if _, ok := store.Get("m1"); ok {
		t.Errorf("unresolvable asset should not create market state")
	}
}

func TestDispatchPriceChangeAppliesDeltaOnTopOfCache(t *testing.T) {
	t.Parallel()
	d, registry, store := newTestDispatcher(t)
	registry.SetMarketAssets("m1", []string{"asset1"})

	book := bookFrame{
		EventType: "book",
		AssetID:   "asset1",
		Bids:      []priceLevelFrame{{Price: "0.50", Size: "100"}},
		Asks:      []priceLevelFrame{{Price: "0.52", Size: "80"}},
		Hash:      "h1",
	}
	d.Dispatch(context.Background(), rawFrame{Type: "book", AssetID: "asset1", ReceivedAt: time.Now(), Payload: mustMarshal(t, book)})

	delta := priceChangeFrame{
		EventType: "price_change",
		AssetID:   "asset1",
		Hash:      "h2",
		Changes: []struct {
			Price string `json:"price"`
			Side  string `json:"side"`
			Size  string `json:"size"`
		}{{Price: "0.51", Side: "BUY", Size: "20"}},
	}
	d.Dispatch(context.Background(), rawFrame{Type: "price_change", AssetID: "asset1", ReceivedAt: time.Now(), Payload: mustMarshal(t, delta)})

	snap := store.GetOrCreate("m1").Snapshot()
	if snap.BidDepth != 120 {
		t.Errorf("BidDepth after delta = %v, want 120 (100 existing + 20 new level)", snap.BidDepth)
	}
}

func TestDispatchPriceChangeRemovesZeroSizeLevel(t *testing.T) {
	t.Parallel()
	d, registry, store := newTestDispatcher(t)
	registry.SetMarketAssets("m1", []string{"asset1"})

	book := bookFrame{
		EventType: "book",
		AssetID:   "asset1",
		Bids:      []priceLevelFrame{{Price: "0.50", Size: "100"}, {Price: "0.49", Size: "40"}},
		Asks:      []priceLevelFrame{{Price: "0.52", Size: "80"}},
		Hash:      "h1",
	}
	d.Dispatch(context.Background(), rawFrame{Type: "book", AssetID: "asset1", ReceivedAt: time.Now(), Payload: mustMarshal(t, book)})

	delta := priceChangeFrame{
		EventType: "price_change",
		AssetID:   "asset1",
		Hash:      "h2",
		Changes: []struct {
			Price string `json:"price"`
			Side  string `json:"side"`
			Size  string `json:"size"`
		}{{Price: "0.50", Side: "BUY", Size: "0"}},
	}
	d.Dispatch(context.Background(), rawFrame{Type: "price_change", AssetID: "asset1", ReceivedAt: time.Now(), Payload: mustMarshal(t, delta)})

	snap := store.GetOrCreate("m1").Snapshot()
	if snap.BidDepth != 40 {
		t.Errorf("BidDepth after zeroing the 0.50 level = %v, want 40 (remaining 0.49 level)", snap.BidDepth)
	}
}

func TestDispatchTradeFrameRoutesToTradeFlow(t *testing.T) {
	t.Parallel()
	d, registry, store := newTestDispatcher(t)
	registry.SetMarketAssets("m1", []string{"asset1"})

	trade := tradeFrame{EventType: "last_trade_price", AssetID: "asset1", Price: "0.55", Size: "10", Side: "BUY", Timestamp: time.Now().Format(time.RFC3339)}
	d.Dispatch(context.Background(), rawFrame{Type: "last_trade_price", AssetID: "asset1", ReceivedAt: time.Now(), Payload: mustMarshal(t, trade)})

	snap := store.GetOrCreate("m1").Snapshot()
	if snap.TradeFlow != 10 {
		t.Errorf("TradeFlow = %v, want +10 for a BUY", snap.TradeFlow)
	}
}

func TestDispatchTradeFrameSignsSellsNegative(t *testing.T) {
	t.Parallel()
	d, registry, store := newTestDispatcher(t)
	registry.SetMarketAssets("m1", []string{"asset1"})

	trade := tradeFrame{EventType: "last_trade_price", AssetID: "asset1", Price: "0.45", Size: "5", Side: "SELL", Timestamp: time.Now().Format(time.RFC3339)}
	d.Dispatch(context.Background(), rawFrame{Type: "last_trade_price", AssetID: "asset1", ReceivedAt: time.Now(), Payload: mustMarshal(t, trade)})

	snap := store.GetOrCreate("m1").Snapshot()
	if snap.TradeFlow != -5 {
		t.Errorf("TradeFlow = %v, want -5 for a SELL", snap.TradeFlow)
	}
}

func TestUnknownAssetRateTriggersCallback(t *testing.T) {
	t.Parallel()
	registry := NewRegistry()
	store := state.NewStore(testMicrostructureConfig())
	triggered := make(chan struct{}, 1)
	d := NewDispatcher(registry, store, nil, nil, 0.1, testLogger(), func() {
		select {
		case triggered <- struct{}{}:
		default:
		}
	})

	for i := 0; i < 200; i++ {
		frame := bookFrame{EventType: "book", AssetID: "ghost", Bids: []priceLevelFrame{{Price: "0.5", Size: "1"}}, Asks: []priceLevelFrame{{Price: "0.6", Size: "1"}}}
		d.Dispatch(context.Background(), rawFrame{Type: "book", AssetID: "ghost", ReceivedAt: time.Now(), Payload: mustMarshal(t, frame)})
	}

	select {
	case <-triggered:
	default:
		t.Errorf("expected unknown-asset-rate callback to fire after sustained unresolvable frames")
	}
}
