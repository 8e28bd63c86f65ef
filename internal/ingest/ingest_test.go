package ingest

import (
	"context"
	"testing"
	"time"

	"surveil/internal/config"
	"surveil/internal/state"
)

func newTestIngestor(t *testing.T, cfg config.IngestConfig) *Ingestor {
	t.Helper()
	store := state.NewStore(testMicrostructureConfig())
	return New("ws://example.invalid", cfg, store, nil, nil, testLogger())
}

func pushFrame(t *testing.T, in *Ingestor, assetID string) {
	t.Helper()
	trade := tradeFrame{EventType: "last_trade_price", AssetID: assetID, Price: "0.5", Size: "1", Side: "BUY"}
	in.conn.framesCh <- rawFrame{Type: "last_trade_price", AssetID: assetID, ReceivedAt: time.Now(), Payload: mustMarshal(t, trade)}
}

func TestBatchLoopFlushesOnBatchSize(t *testing.T) {
	t.Parallel()
	in := newTestIngestor(t, config.IngestConfig{BatchSize: 3, BatchTimeout: time.Hour})
	in.registry.SetMarketAssets("m1", []string{"asset1"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		in.batchLoop(ctx)
		close(done)
	}()

	pushFrame(t, in, "asset1")
	pushFrame(t, in, "asset1")
	pushFrame(t, in, "asset1")

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	snap := in.dispatcher.store.GetOrCreate("m1").Snapshot()
	if snap.TradeFlow == 0 {
		t.Errorf("expected trade flow to be populated after a full batch flush")
	}
}

func TestBatchLoopFlushesOnTimeout(t *testing.T) {
	t.Parallel()
	in := newTestIngestor(t, config.IngestConfig{BatchSize: 100, BatchTimeout: 20 * time.Millisecond})
	in.registry.SetMarketAssets("m1", []string{"asset1"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		in.batchLoop(ctx)
		close(done)
	}()

	pushFrame(t, in, "asset1")

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	snap := in.dispatcher.store.GetOrCreate("m1").Snapshot()
	if snap.TradeFlow == 0 {
		t.Errorf("expected timeout to flush a partial batch below batch size")
	}
}

func TestBatchLoopFlushesOnContextCancel(t *testing.T) {
	t.Parallel()
	in := newTestIngestor(t, config.IngestConfig{BatchSize: 100, BatchTimeout: time.Hour})
	in.registry.SetMarketAssets("m1", []string{"asset1"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		in.batchLoop(ctx)
		close(done)
	}()

	pushFrame(t, in, "asset1")
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	snap := in.dispatcher.store.GetOrCreate("m1").Snapshot()
	if snap.TradeFlow == 0 {
		t.Errorf("expected context cancellation to flush any in-flight batch")
	}
}

func TestSetMarketAssetsUpdatesRegistry(t *testing.T) {
	t.Parallel()
	in := newTestIngestor(t, config.IngestConfig{})
	in.SetMarketAssets("m1", []string{"asset1"})

	if _, ok := in.registry.ResolveMarket("asset1"); !ok {
		t.Errorf("expected asset1 to resolve to m1 after SetMarketAssets")
	}
}

func TestRemoveMarketClearsRegistry(t *testing.T) {
	t.Parallel()
	in := newTestIngestor(t, config.IngestConfig{})
	in.SetMarketAssets("m1", []string{"asset1"})
	in.RemoveMarket("m1")

	if _, ok := in.registry.ResolveMarket("asset1"); ok {
		t.Errorf("expected asset1 to be dropped after RemoveMarket")
	}
}
