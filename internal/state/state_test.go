package state

import (
	"testing"
	"time"

	"surveil/internal/config"
	"surveil/pkg/types"
)

func testCfg() config.MicrostructureConfig {
	cfg := config.Default().Microstructure
	cfg.MinSampleSize = 3
	return cfg
}

func book(bidPrice, bidSize, askPrice, askSize string) types.OrderbookSnapshot {
	return types.OrderbookSnapshot{
		Bids:      []types.PriceLevel{{Price: bidPrice, Size: bidSize}},
		Asks:      []types.PriceLevel{{Price: askPrice, Size: askSize}},
		Timestamp: time.Now(),
	}
}

func TestIngestOrderbookComputesDerivedFields(t *testing.T) {
	s := New("m1", testCfg())
	s.IngestOrderbook(book("0.40", "100", "0.45", "50"))

	snap := s.Snapshot()
	if snap.MidPrice < 0.424 || snap.MidPrice > 0.426 {
		t.Errorf("MidPrice = %v, want ~0.425", snap.MidPrice)
	}
	if snap.Spread < 0.0499 || snap.Spread > 0.0501 {
		t.Errorf("Spread = %v, want ~0.05", snap.Spread)
	}
	wantImbalance := (100.0 - 50.0) / (100.0 + 50.0)
	if snap.Imbalance < wantImbalance-0.001 || snap.Imbalance > wantImbalance+0.001 {
		t.Errorf("Imbalance = %v, want ~%v", snap.Imbalance, wantImbalance)
	}
}

func TestZScoreZeroBeforeWarmup(t *testing.T) {
	s := New("m1", testCfg())
	s.IngestOrderbook(book("0.40", "100", "0.45", "50"))

	snap := s.Snapshot()
	if snap.WarmedUp {
		t.Error("should not be warmed up after one sample (minSampleSize=3)")
	}
	if snap.ZSpread != 0 || snap.ZImbalance != 0 {
		t.Errorf("z-scores should be 0 before warm-up, got spread=%v imbalance=%v", snap.ZSpread, snap.ZImbalance)
	}
}

func TestWarmsUpAfterMinSampleSize(t *testing.T) {
	s := New("m1", testCfg())
	for i := 0; i < 5; i++ {
		s.IngestOrderbook(book("0.40", "100", "0.45", "50"))
	}
	if !s.Snapshot().WarmedUp {
		t.Error("expected WarmedUp=true after minSampleSize samples")
	}
}

func TestIngestTradeSignsFlow(t *testing.T) {
	s := New("m1", testCfg())
	s.IngestTrade(types.TradeTick{Side: types.SideBuy, Size: 10, Timestamp: time.Now()})
	if got := s.Snapshot().TradeFlow; got != 10 {
		t.Errorf("buy trade flow = %v, want 10", got)
	}
	s.IngestTrade(types.TradeTick{Side: types.SideSell, Size: 4, Timestamp: time.Now()})
	if got := s.Snapshot().TradeFlow; got != -4 {
		t.Errorf("sell trade flow = %v, want -4", got)
	}
}

func TestLeastSquaresSlope(t *testing.T) {
	flat := []float64{5, 5, 5, 5}
	if slope := leastSquaresSlope(flat); slope != 0 {
		t.Errorf("flat series slope = %v, want 0", slope)
	}
	rising := []float64{1, 2, 3, 4, 5}
	if slope := leastSquaresSlope(rising); slope < 0.99 || slope > 1.01 {
		t.Errorf("rising series slope = %v, want ~1.0", slope)
	}
}

func TestStoreGetOrCreate(t *testing.T) {
	st := NewStore(testCfg())
	a := st.GetOrCreate("m1")
	b := st.GetOrCreate("m1")
	if a != b {
		t.Error("GetOrCreate() should return the same instance for the same marketID")
	}
	if _, ok := st.Get("m2"); ok {
		t.Error("Get() on unknown market should report ok=false")
	}
}
