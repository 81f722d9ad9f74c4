package order

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	busp "github.com/yohan-kwon/kquant-core/internal/bus"
	"github.com/yohan-kwon/kquant-core/internal/cache"
	riskp "github.com/yohan-kwon/kquant-core/internal/risk"
	"github.com/yohan-kwon/kquant-core/internal/types"
)

func newTestBus(t *testing.T) *busp.InProcessBus {
	t.Helper()
	b := busp.NewInProcessBus("test", zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		b.Stop(time.Second)
	})
	if err := b.Start(ctx); err != nil {
		t.Fatalf("bus start: %v", err)
	}
	return b
}

func newTestEngine(t *testing.T, b busp.Bus, br *fakeBroker) *Engine {
	t.Helper()
	riskEngine := riskp.NewEngine(riskp.DefaultConfig(), zerolog.Nop())
	c := cache.NewMemoryCache(cache.DefaultMemoryBudgetBytes)
	t.Cleanup(func() { c.Close() })

	cfg := DefaultConfig()
	cfg.StartingCash = decimal.NewFromInt(100_000_000)
	cfg.RiskCheckTimeout = riskp.DefaultConfig().CheckTimeout

	return NewEngine(cfg, b, c, br, riskEngine, zerolog.Nop())
}

func buySignal(symbol, strategy string, qty int64, price int64) types.TradingSignal {
	return types.TradingSignal{
		ID:             "sig-" + symbol,
		StrategyName:   strategy,
		Symbol:         symbol,
		Action:         types.ActionBuy,
		Confidence:     decimal.NewFromInt(1),
		SuggestedPrice: decimal.NewFromInt(price),
		TS:             time.Now().UTC(),
		Metadata:       map[string]string{"quantity": decimal.NewFromInt(qty).String()},
	}
}

func TestEngine_ApprovedSignalQueuesAndPlaces(t *testing.T) {
	b := newTestBus(t)
	br := newFakeBroker()
	e := newTestEngine(t, b, br)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	placedCh := make(chan types.Order, 1)
	b.Subscribe(busp.TopicOrderPlaced, 4, func(ctx context.Context, env busp.Envelope) {
		if o, ok := env.Payload.(types.Order); ok {
			placedCh <- o
		}
	})

	sig := buySignal("005930", "macross", 10, 70000)
	if err := b.Publish(ctx, busp.NewEnvelope(busp.TopicTradingSignal, "test", sig)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case o := <-placedCh:
		if o.State != types.OrderSubmitted {
			t.Errorf("state = %v, want SUBMITTED", o.State)
		}
		if o.Quantity != 10 {
			t.Errorf("quantity = %d, want 10", o.Quantity)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for order_placed")
	}

	if br.placedCount() != 1 {
		t.Errorf("broker received %d placements, want 1", br.placedCount())
	}
}

func TestEngine_RejectedSignalPublishesOrderFailed(t *testing.T) {
	b := newTestBus(t)
	br := newFakeBroker()
	e := newTestEngine(t, b, br)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	failedCh := make(chan orderFailedPayload, 1)
	b.Subscribe(busp.TopicOrderFailed, 4, func(ctx context.Context, env busp.Envelope) {
		if p, ok := env.Payload.(orderFailedPayload); ok {
			failedCh <- p
		}
	})

	// Notional far exceeds MaxOrderValue's default bound.
	sig := buySignal("005930", "macross", 10, 50_000_000)
	if err := b.Publish(ctx, busp.NewEnvelope(busp.TopicTradingSignal, "test", sig)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case p := <-failedCh:
		if len(p.Reasons) == 0 {
			t.Error("expected at least one rejection reason")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for order_failed")
	}

	if br.placedCount() != 0 {
		t.Errorf("broker received %d placements, want 0", br.placedCount())
	}
}

func TestEngine_FillUpdatesPositionAndPublishesFullyExecuted(t *testing.T) {
	b := newTestBus(t)
	br := newFakeBroker()
	e := newTestEngine(t, b, br)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	placedCh := make(chan types.Order, 1)
	b.Subscribe(busp.TopicOrderPlaced, 4, func(ctx context.Context, env busp.Envelope) {
		if o, ok := env.Payload.(types.Order); ok {
			placedCh <- o
		}
	})
	executedCh := make(chan types.Order, 1)
	b.Subscribe(busp.TopicOrderFullyExecuted, 4, func(ctx context.Context, env busp.Envelope) {
		if o, ok := env.Payload.(types.Order); ok {
			executedCh <- o
		}
	})

	sig := buySignal("005930", "macross", 10, 70000)
	if err := b.Publish(ctx, busp.NewEnvelope(busp.TopicTradingSignal, "test", sig)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var placed types.Order
	select {
	case placed = <-placedCh:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for order_placed")
	}

	br.pushFill(placed.BrokerOrderID, 10, decimal.NewFromInt(70000))

	select {
	case executed := <-executedCh:
		if executed.FilledQty != 10 {
			t.Errorf("filled_qty = %d, want 10", executed.FilledQty)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for order_fully_executed")
	}

	pos := e.Position("005930")
	if pos.Qty != 10 {
		t.Errorf("position qty = %d, want 10", pos.Qty)
	}
	if !pos.AvgCost.Equal(decimal.NewFromInt(70000)) {
		// small commission makes avg cost slightly above 70000
		t.Logf("avg cost = %s", pos.AvgCost)
	}
}

func TestEngine_DuplicateInFlightRejectedSameKey(t *testing.T) {
	b := newTestBus(t)
	br := newFakeBroker()
	e := newTestEngine(t, b, br)
	ctx := context.Background()

	first := buySignal("005930", "macross", 10, 70000)
	e.handleSignal(ctx, busp.NewEnvelope(busp.TopicTradingSignal, "test", first))

	if !e.isDuplicateInFlight(e.buildOrder(first)) {
		t.Fatal("expected the first order to be tracked in-flight")
	}

	second := buySignal("005930", "macross", 5, 70000)
	failedCh := make(chan orderFailedPayload, 1)
	b.Subscribe(busp.TopicOrderFailed, 4, func(ctx context.Context, env busp.Envelope) {
		if p, ok := env.Payload.(orderFailedPayload); ok {
			failedCh <- p
		}
	})
	e.handleSignal(ctx, busp.NewEnvelope(busp.TopicTradingSignal, "test", second))

	select {
	case p := <-failedCh:
		if p.Reasons[0] != "duplicate_in_flight" {
			t.Errorf("reason = %s, want duplicate_in_flight", p.Reasons[0])
		}
	case <-time.After(time.Second):
		t.Fatal("expected order_failed for duplicate in-flight signal")
	}
}

func TestEngine_StopLossSignalWaivesDedup(t *testing.T) {
	b := newTestBus(t)
	br := newFakeBroker()
	e := newTestEngine(t, b, br)
	ctx := context.Background()

	sig := types.TradingSignal{
		ID: "sig-1", StrategyName: StopLossSource, Symbol: "005930",
		Action: types.ActionSell, SuggestedPrice: decimal.NewFromInt(70000),
		Metadata: map[string]string{"quantity": "10"},
	}
	e.handleSignal(ctx, busp.NewEnvelope(busp.TopicTradingSignal, "test", sig))

	placedCh := make(chan types.Order, 2)
	b.Subscribe(busp.TopicOrderPlaced, 4, func(ctx context.Context, env busp.Envelope) {
		if o, ok := env.Payload.(types.Order); ok {
			placedCh <- o
		}
	})

	sig2 := sig
	sig2.ID = "sig-2"
	e.handleSignal(ctx, busp.NewEnvelope(busp.TopicTradingSignal, "test", sig2))

	if e.queue.Len() != 2 {
		t.Errorf("queue length = %d, want 2 (dedup must be waived for stop-loss signals)", e.queue.Len())
	}
}

func TestPriorityKey_MarketOrdersOutrankLimit(t *testing.T) {
	market := types.Order{Type: types.OrderTypeMarket, Side: types.SideBuy}
	limit := types.Order{Type: types.OrderTypeLimit, Side: types.SideBuy}
	if PriorityKey(market, 0) >= PriorityKey(limit, 0) {
		t.Error("expected a MARKET order to sort ahead of a LIMIT order")
	}
}

func TestPriorityKey_SellOutranksBuyAtSameType(t *testing.T) {
	sell := types.Order{Type: types.OrderTypeLimit, Side: types.SideSell}
	buy := types.Order{Type: types.OrderTypeLimit, Side: types.SideBuy}
	if PriorityKey(sell, 0) >= PriorityKey(buy, 0) {
		t.Error("expected a SELL order to sort ahead of a BUY order of the same type")
	}
}
