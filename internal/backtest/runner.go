// Package backtest replays historical candles through the production
// event-bus/cache/analyzer/strategy/order stack (spec §4.D-§4.H) instead
// of a parallel simulation of it, so a backtest run exercises exactly the
// code path a live run does. Kept as ambient test tooling per the
// teacher's own internal/backtest convention; it is not a spec'd
// capability (spec.md lists "backtesting harness" as out of scope).
package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	busp "github.com/yohan-kwon/kquant-core/internal/bus"
	"github.com/yohan-kwon/kquant-core/internal/cache"
	"github.com/yohan-kwon/kquant-core/internal/order"
	"github.com/yohan-kwon/kquant-core/internal/types"
)

// Config configures a replay run.
type Config struct {
	InitialEquity decimal.Decimal
	Interval      string
	RingSize      int

	// SettleDelay is how long Run waits after publishing one candle's
	// events for the bus's async handler chain (analyzer -> strategy ->
	// order -> broker) to settle before sampling equity and advancing.
	// The live path has no equivalent wait; this is a replay-determinism
	// concession of the harness, not a timing guarantee of the core.
	SettleDelay time.Duration
}

// DefaultConfig matches the live defaults (spec §6 ring_size, 1m bars).
func DefaultConfig() Config {
	return Config{
		InitialEquity: decimal.NewFromInt(10_000_000),
		Interval:      "1m",
		RingSize:      200,
		SettleDelay:   20 * time.Millisecond,
	}
}

// Trade is one realized-P&L delta observed between two consecutive
// replayed candles, derived from the order book's RealizedPnL rather than
// tracked independently, so it can never disagree with position state.
type Trade struct {
	Symbol string
	TS     time.Time
	NetPL  decimal.Decimal
}

// EquityPoint samples portfolio value at one replayed candle.
type EquityPoint struct {
	Timestamp time.Time
	Equity    decimal.Decimal
	Drawdown  decimal.Decimal
}

// Result holds backtest results.
type Result struct {
	StartEquity   decimal.Decimal
	EndEquity     decimal.Decimal
	TotalReturn   decimal.Decimal
	MaxDrawdown   decimal.Decimal
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       decimal.Decimal
	ProfitFactor  decimal.Decimal
	Trades        []Trade
	EquityCurve   []EquityPoint
}

// MarkFn forwards a bar's close to whatever broker binding needs to
// evaluate resting limit orders against it (the paper broker's
// MarkPrice). Optional; nil means the caller wires marking some other way.
type MarkFn func(symbol string, price decimal.Decimal)

// Runner replays candles for one symbol through a live-wired Bus/Cache/
// order.Engine triple.
type Runner struct {
	cfg    Config
	cache  cache.Cache
	bus    busp.Bus
	orders *order.Engine
	mark   MarkFn
	logger zerolog.Logger

	equityCurve  []EquityPoint
	highWater    decimal.Decimal
	lastRealized map[string]decimal.Decimal
}

// NewRunner builds a Runner against an already-started production stack:
// c and b are the live Cache/Bus, orders is the live Order Engine (whose
// Position()/PortfolioValue() the runner samples each bar), and mark (if
// non-nil) is called with each bar's close before publishing
// market_data_received.
func NewRunner(cfg Config, c cache.Cache, b busp.Bus, orders *order.Engine, mark MarkFn, logger zerolog.Logger) *Runner {
	return &Runner{
		cfg:          cfg,
		cache:        c,
		bus:          b,
		orders:       orders,
		mark:         mark,
		logger:       logger.With().Str("component", "backtest").Logger(),
		highWater:    cfg.InitialEquity,
		lastRealized: make(map[string]decimal.Decimal),
	}
}

// Run replays candles (ascending by TS) for symbol and returns the
// resulting performance summary.
func (r *Runner) Run(ctx context.Context, symbol string, candles []types.Candle) (*Result, error) {
	var trades []Trade

	for _, candle := range candles {
		if err := r.cache.PushCandle(ctx, symbol, r.cfg.Interval, candle, r.cfg.RingSize); err != nil {
			return nil, fmt.Errorf("push candle: %w", err)
		}

		if r.mark != nil {
			r.mark(symbol, candle.Close)
		}

		tick := types.MarketTick{
			Symbol: symbol, TS: candle.TS,
			Open: candle.Open, High: candle.High, Low: candle.Low, Close: candle.Close,
			Volume: candle.Volume, Source: "backtest",
		}
		if err := r.bus.Publish(ctx, busp.NewEnvelope(busp.TopicMarketDataReceived, "backtest", tick)); err != nil {
			return nil, fmt.Errorf("publish market_data_received: %w", err)
		}
		if err := r.bus.Publish(ctx, busp.NewEnvelope(busp.TopicCandleClosed, "backtest", candle)); err != nil {
			return nil, fmt.Errorf("publish candle_closed: %w", err)
		}

		if r.cfg.SettleDelay > 0 {
			time.Sleep(r.cfg.SettleDelay)
		}

		if t, ok := r.sampleTrade(symbol, candle.TS); ok {
			trades = append(trades, t)
		}
		r.sampleEquity(candle.TS)
	}

	return r.buildResult(trades), nil
}

func (r *Runner) sampleTrade(symbol string, ts time.Time) (Trade, bool) {
	pos := r.orders.Position(symbol)
	prev, seen := r.lastRealized[symbol]
	r.lastRealized[symbol] = pos.RealizedPnL
	if !seen || pos.RealizedPnL.Equal(prev) {
		return Trade{}, false
	}
	return Trade{Symbol: symbol, TS: ts, NetPL: pos.RealizedPnL.Sub(prev)}, true
}

func (r *Runner) sampleEquity(ts time.Time) {
	equity := r.orders.PortfolioValue()
	if equity.GreaterThan(r.highWater) {
		r.highWater = equity
	}
	drawdown := decimal.Zero
	if r.highWater.IsPositive() {
		drawdown = r.highWater.Sub(equity).Div(r.highWater)
	}
	r.equityCurve = append(r.equityCurve, EquityPoint{Timestamp: ts, Equity: equity, Drawdown: drawdown})
}

func (r *Runner) buildResult(trades []Trade) *Result {
	endEquity := r.cfg.InitialEquity
	if len(r.equityCurve) > 0 {
		endEquity = r.equityCurve[len(r.equityCurve)-1].Equity
	}

	maxDrawdown := decimal.Zero
	for _, p := range r.equityCurve {
		if p.Drawdown.GreaterThan(maxDrawdown) {
			maxDrawdown = p.Drawdown
		}
	}

	winning, losing := 0, 0
	grossProfit, grossLoss := decimal.Zero, decimal.Zero
	for _, t := range trades {
		switch {
		case t.NetPL.IsPositive():
			winning++
			grossProfit = grossProfit.Add(t.NetPL)
		case t.NetPL.IsNegative():
			losing++
			grossLoss = grossLoss.Add(t.NetPL.Abs())
		}
	}

	totalReturn := decimal.Zero
	if r.cfg.InitialEquity.IsPositive() {
		totalReturn = endEquity.Sub(r.cfg.InitialEquity).Div(r.cfg.InitialEquity)
	}
	winRate := decimal.Zero
	if len(trades) > 0 {
		winRate = decimal.NewFromInt(int64(winning)).Div(decimal.NewFromInt(int64(len(trades))))
	}
	profitFactor := decimal.Zero
	if grossLoss.IsPositive() {
		profitFactor = grossProfit.Div(grossLoss)
	}

	return &Result{
		StartEquity:   r.cfg.InitialEquity,
		EndEquity:     endEquity,
		TotalReturn:   totalReturn,
		MaxDrawdown:   maxDrawdown,
		TotalTrades:   len(trades),
		WinningTrades: winning,
		LosingTrades:  losing,
		WinRate:       winRate,
		ProfitFactor:  profitFactor,
		Trades:        trades,
		EquityCurve:   r.equityCurve,
	}
}
