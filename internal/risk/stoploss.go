package risk

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	busp "github.com/yohan-kwon/kquant-core/internal/bus"
	"github.com/yohan-kwon/kquant-core/internal/cache"
	"github.com/yohan-kwon/kquant-core/internal/types"
)

// StopLossConfig holds the thresholds for the three stop modes, per spec
// §4.G.2 and §6 (`stop_loss_pct, take_profit_pct, trailing_offset_pct`).
type StopLossConfig struct {
	StopPct            decimal.Decimal
	TakePct            decimal.Decimal
	TrailingOffsetPct  decimal.Decimal
	BreakEvenThreshold decimal.Decimal // profit ratio at which stop moves to entry
	UseTrailing        bool
	UseBreakEven       bool
}

// DefaultStopLossConfig matches the spec's stated fields with conservative
// values; operators override from config.
func DefaultStopLossConfig() StopLossConfig {
	return StopLossConfig{
		StopPct:            decimal.RequireFromString("0.03"),
		TakePct:            decimal.RequireFromString("0.06"),
		TrailingOffsetPct:  decimal.RequireFromString("0.02"),
		BreakEvenThreshold: decimal.RequireFromString("0.02"),
		UseTrailing:        true,
		UseBreakEven:       true,
	}
}

// entryState is what the monitor remembers per symbol since the position
// was opened: the entry price and the high-water mark used for trailing.
type entryState struct {
	entryPrice decimal.Decimal
	hwm        *HighWaterMarkTracker
	breakEven  bool
}

// StopLossMonitor watches market_data_received and position_updated for
// every open position and publishes a liquidating trading_signal when a
// stop or take-profit level is crossed. The signal is subject to the
// synchronous risk check like any other (spec's Open Question #2), except
// the duplicate-in-flight rule, which the Order Engine is told to waive
// for source=risk.stop_loss so a liquidation isn't blocked by a queued buy.
type StopLossMonitor struct {
	cfg    StopLossConfig
	cache  cache.Cache
	bus    busp.Bus
	logger zerolog.Logger

	mu      sync.Mutex
	entries map[string]*entryState
}

// NewStopLossMonitor builds a monitor.
func NewStopLossMonitor(cfg StopLossConfig, c cache.Cache, b busp.Bus, logger zerolog.Logger) *StopLossMonitor {
	return &StopLossMonitor{
		cfg:     cfg,
		cache:   c,
		bus:     b,
		logger:  logger.With().Str("component", "risk.stop_loss").Logger(),
		entries: make(map[string]*entryState),
	}
}

// Start subscribes to market_data_received and position_updated.
func (m *StopLossMonitor) Start(ctx context.Context) []busp.Subscription {
	subs := []busp.Subscription{
		m.bus.Subscribe(busp.TopicMarketDataReceived, 0, func(ctx context.Context, env busp.Envelope) {
			tick, ok := env.Payload.(types.MarketTick)
			if !ok {
				return
			}
			m.evaluate(ctx, tick.Symbol, tick.Close)
		}),
		m.bus.Subscribe(busp.TopicPositionUpdated, 0, func(ctx context.Context, env busp.Envelope) {
			pos, ok := env.Payload.(types.Position)
			if !ok {
				return
			}
			m.onPositionUpdated(pos)
		}),
	}
	return subs
}

// onPositionUpdated tracks entry price per symbol; a position going flat
// (qty==0) clears its tracked state, a fresh non-zero position seeds it.
func (m *StopLossMonitor) onPositionUpdated(pos types.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pos.Qty == 0 {
		delete(m.entries, pos.Symbol)
		return
	}

	st, ok := m.entries[pos.Symbol]
	if !ok {
		m.entries[pos.Symbol] = &entryState{
			entryPrice: pos.AvgCost,
			hwm:        NewHighWaterMarkTracker(pos.AvgCost),
		}
		return
	}
	st.entryPrice = pos.AvgCost
}

// evaluate checks the three stop modes for symbol against mark and
// publishes a liquidating signal on the first one that triggers.
func (m *StopLossMonitor) evaluate(ctx context.Context, symbol string, mark decimal.Decimal) {
	m.mu.Lock()
	st, ok := m.entries[symbol]
	if !ok {
		m.mu.Unlock()
		return
	}
	st.hwm.Update(mark)

	stopPrice := st.entryPrice.Mul(decimal.NewFromInt(1).Sub(m.cfg.StopPct))
	takePrice := st.entryPrice.Mul(decimal.NewFromInt(1).Add(m.cfg.TakePct))

	if m.cfg.UseTrailing {
		trailingStop := st.hwm.Peak().Mul(decimal.NewFromInt(1).Sub(m.cfg.TrailingOffsetPct))
		if trailingStop.GreaterThan(stopPrice) {
			stopPrice = trailingStop
		}
	}
	if m.cfg.UseBreakEven && !st.breakEven {
		profitRatio := mark.Sub(st.entryPrice).Div(st.entryPrice)
		if profitRatio.GreaterThanOrEqual(m.cfg.BreakEvenThreshold) {
			st.breakEven = true
		}
	}
	if st.breakEven && st.entryPrice.GreaterThan(stopPrice) {
		stopPrice = st.entryPrice
	}
	m.mu.Unlock()

	triggered := mark.LessThanOrEqual(stopPrice) || mark.GreaterThanOrEqual(takePrice)
	if !triggered {
		return
	}

	signal := types.TradingSignal{
		ID:             uuid.NewString(),
		StrategyName:   "risk.stop_loss",
		Symbol:         symbol,
		Action:         types.ActionSell,
		Confidence:     decimal.NewFromInt(1),
		SuggestedPrice: mark,
		Reason:         "stop_loss_or_take_profit",
		TS:             time.Now().UTC(),
	}

	env := busp.NewEnvelope(busp.TopicTradingSignal, "risk.stop_loss", signal)
	if err := m.bus.Publish(ctx, env); err != nil {
		m.logger.Error().Err(err).Str("symbol", symbol).Msg("failed to publish stop-loss signal")
		return
	}

	m.mu.Lock()
	delete(m.entries, symbol)
	m.mu.Unlock()

	m.logger.Info().Str("symbol", symbol).Str("mark", mark.String()).Str("stop", stopPrice.String()).
		Str("take", takePrice.String()).Msg("stop-loss/take-profit triggered")
}
