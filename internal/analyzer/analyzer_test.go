package analyzer

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	busp "github.com/yohan-kwon/kquant-core/internal/bus"
	"github.com/yohan-kwon/kquant-core/internal/cache"
	"github.com/yohan-kwon/kquant-core/internal/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func pushCandles(t *testing.T, c cache.Cache, symbol, interval string, closes []string) {
	t.Helper()
	base := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	for i, s := range closes {
		candle := types.Candle{
			Symbol: symbol, Interval: interval,
			TS:    base.Add(time.Duration(i) * time.Minute),
			Open:  dec(s), High: dec(s), Low: dec(s), Close: dec(s),
			Volume: 100,
		}
		if err := c.PushCandle(context.Background(), symbol, interval, candle, cache.DefaultRingCap); err != nil {
			t.Fatalf("PushCandle: %v", err)
		}
	}
}

func TestAnalyzer_AbsentUntilWindowFills(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache(0)
	b := busp.NewInProcessBus("test", zerolog.Nop())
	a := New(DefaultConfig(), c, b, zerolog.Nop())

	pushCandles(t, c, "005930", "1m", []string{"100", "101", "102"})
	if err := a.Recompute(ctx, "005930", "1m"); err != nil {
		t.Fatalf("Recompute: %v", err)
	}

	snap, ok, err := c.GetIndicators(ctx, "005930", "1m")
	if err != nil || !ok {
		t.Fatalf("expected a snapshot to be written, ok=%v err=%v", ok, err)
	}
	if _, present := snap.Get("sma_5"); present {
		t.Error("sma_5 should be absent with only 3 candles, not zero")
	}
}

func TestAnalyzer_SMA5PresentAtFiveCandles(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache(0)
	b := busp.NewInProcessBus("test", zerolog.Nop())
	a := New(DefaultConfig(), c, b, zerolog.Nop())

	pushCandles(t, c, "005930", "1m", []string{"74900", "74950", "75000", "75050", "75100"})
	if err := a.Recompute(ctx, "005930", "1m"); err != nil {
		t.Fatalf("Recompute: %v", err)
	}

	snap, ok, _ := c.GetIndicators(ctx, "005930", "1m")
	if !ok {
		t.Fatal("expected a snapshot")
	}
	sma5, present := snap.Get("sma_5")
	if !present {
		t.Fatal("sma_5 should be present at exactly 5 candles")
	}
	if !sma5.Equal(dec("75000")) {
		t.Errorf("sma_5 = %s, want 75000", sma5)
	}
}

func TestAnalyzer_PublishesIndicatorsUpdated(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache(0)
	b := busp.NewInProcessBus("test", zerolog.Nop())
	if err := b.Start(ctx); err != nil {
		t.Fatalf("bus start: %v", err)
	}
	defer b.Stop(time.Second)

	received := make(chan types.IndicatorSnapshot, 1)
	b.Subscribe(busp.TopicIndicatorsUpdated, 0, func(_ context.Context, env busp.Envelope) {
		received <- env.Payload.(types.IndicatorSnapshot)
	})

	a := New(DefaultConfig(), c, b, zerolog.Nop())
	pushCandles(t, c, "005930", "1m", []string{"100", "101", "102", "103", "104"})
	if err := a.Recompute(ctx, "005930", "1m"); err != nil {
		t.Fatalf("Recompute: %v", err)
	}

	select {
	case snap := <-received:
		if snap.Symbol != "005930" {
			t.Errorf("symbol = %s, want 005930", snap.Symbol)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for indicators_updated")
	}
}

func TestAnalyzer_FingerprintShortCircuitsUnchangedHead(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache(0)
	b := busp.NewInProcessBus("test", zerolog.Nop())
	a := New(DefaultConfig(), c, b, zerolog.Nop())

	pushCandles(t, c, "005930", "1m", []string{"100", "101", "102", "103", "104"})
	if err := a.Recompute(ctx, "005930", "1m"); err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	key := "005930|1m"
	fp1 := a.fingerprints[key]

	// Recompute again with no new candle: the fingerprint must not change.
	if err := a.Recompute(ctx, "005930", "1m"); err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if a.fingerprints[key] != fp1 {
		t.Error("fingerprint changed despite an unchanged head")
	}
}
