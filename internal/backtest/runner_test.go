package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/yohan-kwon/kquant-core/internal/analyzer"
	"github.com/yohan-kwon/kquant-core/internal/broker/paper"
	"github.com/yohan-kwon/kquant-core/internal/bus"
	"github.com/yohan-kwon/kquant-core/internal/cache"
	"github.com/yohan-kwon/kquant-core/internal/order"
	"github.com/yohan-kwon/kquant-core/internal/risk"
	"github.com/yohan-kwon/kquant-core/internal/strategy"
	"github.com/yohan-kwon/kquant-core/internal/types"
)

// harness wires the same production components cmd/bot does, scaled down
// for a deterministic in-test replay.
type harness struct {
	bus    *bus.InProcessBus
	cache  cache.Cache
	orders *order.Engine
	broker *paper.Broker
}

func newHarness(t *testing.T, symbol string) *harness {
	t.Helper()
	logger := zerolog.Nop()

	b := bus.NewInProcessBus("test", logger)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("start bus: %v", err)
	}
	t.Cleanup(func() { b.Stop(time.Second) })

	c := cache.NewMemoryCache(64 << 20)

	an := analyzer.New(analyzer.DefaultConfig(), c, b, logger)
	an.Start(context.Background())

	strat := strategy.NewMovingAverageStrategy(strategy.MovingAverageConfig{
		K:                  decimal.NewFromFloat(2.0),
		SessionCloseHour:   23,
		SessionCloseMinute: 59,
	})
	se := strategy.NewEngine(b, logger)
	se.Load(context.Background(), strat, []string{symbol})
	se.Start(context.Background())

	riskEngine := risk.NewEngine(risk.Config{
		MaxPositionRatio:    decimal.NewFromFloat(0.5),
		MaxSectorRatio:      decimal.NewFromFloat(1),
		MaxDailyLoss:        decimal.NewFromInt(10_000_000),
		MaxMonthlyLoss:      decimal.NewFromInt(10_000_000),
		MinCashReserveRatio: decimal.Zero,
		MaxOrdersPerDay:     1000,
		MaxConsecLosses:     1000,
		MaxTotalExposure:    decimal.NewFromFloat(1),
		MinOrderValue:       decimal.NewFromInt(1),
		MaxOrderValue:        decimal.NewFromInt(10_000_000),
		CheckTimeout:        500 * time.Millisecond,
	}, logger)

	idNode, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	pb, err := paper.NewBroker(paper.Config{
		InitialCash: decimal.NewFromInt(10_000_000),
		FillDelay:   time.Millisecond,
	}, idNode)
	if err != nil {
		t.Fatalf("new paper broker: %v", err)
	}

	oe := order.NewEngine(order.DefaultConfig(), b, c, pb, riskEngine, logger)
	oe.Start(context.Background())
	t.Cleanup(oe.Stop)

	return &harness{bus: b, cache: c, orders: oe, broker: pb}
}

func candleSeries(symbol string, closes []int64, start time.Time) []types.Candle {
	candles := make([]types.Candle, len(closes))
	for i, c := range closes {
		px := decimal.NewFromInt(c)
		candles[i] = types.Candle{
			Symbol: symbol, Interval: "1m", TS: start.Add(time.Duration(i) * time.Minute),
			Open: px, High: px, Low: px, Close: px, Volume: 1000,
		}
	}
	return candles
}

func TestRunner_UptrendGeneratesEquityCurve(t *testing.T) {
	symbol := "005930"
	h := newHarness(t, symbol)

	closes := []int64{74900, 74950, 75000, 75050, 75100, 75200, 75300, 75400}
	candles := candleSeries(symbol, closes, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))

	cfg := DefaultConfig()
	cfg.SettleDelay = 30 * time.Millisecond
	runner := NewRunner(cfg, h.cache, h.bus, h.orders, h.broker.MarkPrice, zerolog.Nop())

	result, err := runner.Run(context.Background(), symbol, candles)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(result.EquityCurve) != len(candles) {
		t.Errorf("EquityCurve has %d points, want %d", len(result.EquityCurve), len(candles))
	}
	if !result.StartEquity.Equal(cfg.InitialEquity) {
		t.Errorf("StartEquity = %s, want %s", result.StartEquity, cfg.InitialEquity)
	}
	// The uptrend should have driven the moving-average strategy to buy,
	// moving the position off flat.
	pos := h.orders.Position(symbol)
	if pos.Qty == 0 {
		t.Error("expected a non-zero position after a sustained uptrend")
	}
}

func TestRunner_FlatMarketNoTrades(t *testing.T) {
	symbol := "000660"
	h := newHarness(t, symbol)

	closes := []int64{50000, 50000, 50000, 50000, 50000, 50000}
	candles := candleSeries(symbol, closes, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))

	cfg := DefaultConfig()
	cfg.SettleDelay = 20 * time.Millisecond
	runner := NewRunner(cfg, h.cache, h.bus, h.orders, h.broker.MarkPrice, zerolog.Nop())

	result, err := runner.Run(context.Background(), symbol, candles)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !result.EndEquity.Equal(result.StartEquity) {
		t.Errorf("EndEquity = %s, want unchanged %s on a flat market", result.EndEquity, result.StartEquity)
	}
	if result.TotalTrades != 0 {
		t.Errorf("TotalTrades = %d, want 0", result.TotalTrades)
	}
}

func TestResult_DerivedMetrics(t *testing.T) {
	result := Result{
		StartEquity:   decimal.NewFromInt(10000),
		EndEquity:     decimal.NewFromInt(11000),
		TotalTrades:   10,
		WinningTrades: 6,
		LosingTrades:  4,
	}
	if result.TotalTrades != result.WinningTrades+result.LosingTrades {
		t.Error("WinningTrades + LosingTrades should equal TotalTrades")
	}
}
