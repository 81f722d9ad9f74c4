package strategy

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yohan-kwon/kquant-core/internal/types"
)

// kst is the Korea Standard Time zone used for the session-close check.
// time.LoadLocation requires tzdata; fall back to a fixed +9h offset (KST
// observes no DST) if the system has none, so the strategy never panics
// on a minimal container image.
var kst = func() *time.Location {
	if loc, err := time.LoadLocation("Asia/Seoul"); err == nil {
		return loc
	}
	return time.FixedZone("KST", 9*60*60)
}()

// MovingAverageConfig holds the tunables spec'd for the built-in
// "1m vs 5m moving average" strategy.
type MovingAverageConfig struct {
	// K scales the normalized (p-m)/m distance into a confidence in [0,1].
	K decimal.Decimal

	// SessionCloseHour/Minute is the forced-exit time in KST, default 15:20.
	SessionCloseHour   int
	SessionCloseMinute int

	// MinTurnover5d, when positive, is the minimum 5-day turnover
	// (price*volume summed) required to take new entries; it is read
	// from the indicator named TurnoverIndicatorName if present.
	MinTurnover5d decimal.Decimal
}

// TurnoverIndicatorName is the indicator key the optional volume filter
// reads. The analyzer does not publish it, so without it the filter passes
// every entry.
const TurnoverIndicatorName = "turnover_5d"

// DefaultMovingAverageConfig matches the spec's stated defaults.
func DefaultMovingAverageConfig() MovingAverageConfig {
	return MovingAverageConfig{
		K:                  decimal.RequireFromString("0.02"),
		SessionCloseHour:   15,
		SessionCloseMinute: 20,
		MinTurnover5d:      decimal.Zero,
	}
}

type symbolState struct {
	holding    bool
	entryPrice decimal.Decimal
	entryTS    time.Time
}

// MovingAverageStrategy is the spec's required built-in reference
// strategy: go long when price crosses above its 5-period SMA on the
// 1-minute candle, exit when it crosses back at or below, and force an
// exit at the configured session-close time regardless of signal.
type MovingAverageStrategy struct {
	cfg MovingAverageConfig

	mu     sync.Mutex
	states map[string]*symbolState
}

// NewMovingAverageStrategy builds the strategy with the given config.
func NewMovingAverageStrategy(cfg MovingAverageConfig) *MovingAverageStrategy {
	return &MovingAverageStrategy{cfg: cfg, states: make(map[string]*symbolState)}
}

func (s *MovingAverageStrategy) Name() string { return "moving_average_1m_5m" }

func (s *MovingAverageStrategy) RequiredIndicators() []string {
	return []string{"sma_5"}
}

func (s *MovingAverageStrategy) ParameterSchema() map[string]ParameterSpec {
	return map[string]ParameterSpec{
		"k": {Type: "decimal", Default: "0.02", Min: "0.0001", Max: "1", Desc: "confidence scaling factor"},
		"session_close_hour":   {Type: "int", Default: 15, Min: 0, Max: 23, Desc: "forced-exit hour, KST"},
		"session_close_minute": {Type: "int", Default: 20, Min: 0, Max: 59, Desc: "forced-exit minute, KST"},
		"min_turnover_5d":      {Type: "decimal", Default: "0", Min: "0", Desc: "skip entries below this 5-day turnover"},
	}
}

func (s *MovingAverageStrategy) OnStart() {}
func (s *MovingAverageStrategy) OnStop()  {}

func (s *MovingAverageStrategy) state(symbol string) *symbolState {
	st, ok := s.states[symbol]
	if !ok {
		st = &symbolState{}
		s.states[symbol] = st
	}
	return st
}

// Analyze implements the Strategy contract.
func (s *MovingAverageStrategy) Analyze(snap Snapshot) *types.TradingSignal {
	if snap.Candle.Interval != "1m" {
		return nil
	}

	sma5, ok := snap.Indicators.Get("sma_5")
	if !ok || sma5.IsZero() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(snap.Symbol)

	price := snap.Candle.Close

	if st.holding && s.sessionClosed(snap.TS) {
		sig := s.signal(snap, types.ActionHoldExit, decimal.NewFromInt(1), "session_close_forced_exit")
		st.holding = false
		return sig
	}

	if price.GreaterThan(sma5) && !st.holding {
		if !s.turnoverOK(snap.Indicators) {
			return nil
		}
		confidence := s.confidence(price, sma5)
		st.holding = true
		st.entryPrice = price
		st.entryTS = snap.TS
		return s.signal(snap, types.ActionBuy, confidence, "price_above_sma5")
	}

	if price.LessThanOrEqual(sma5) && st.holding {
		confidence := s.confidence(price, sma5)
		st.holding = false
		return s.signal(snap, types.ActionSell, confidence, "price_at_or_below_sma5")
	}

	return nil
}

// confidence is clamp(|p-m|/m / k, 0, 1).
func (s *MovingAverageStrategy) confidence(price, sma decimal.Decimal) decimal.Decimal {
	if sma.IsZero() || s.cfg.K.IsZero() {
		return decimal.Zero
	}
	dist := price.Sub(sma).Div(sma).Abs()
	return clampRatio(dist.Div(s.cfg.K))
}

func (s *MovingAverageStrategy) turnoverOK(ind types.IndicatorSnapshot) bool {
	if s.cfg.MinTurnover5d.IsZero() {
		return true
	}
	turnover, ok := ind.Get(TurnoverIndicatorName)
	if !ok {
		return true // indicator not wired; filter is a no-op
	}
	return turnover.GreaterThanOrEqual(s.cfg.MinTurnover5d)
}

func (s *MovingAverageStrategy) sessionClosed(ts time.Time) bool {
	local := ts.In(kst)
	return local.Hour() > s.cfg.SessionCloseHour ||
		(local.Hour() == s.cfg.SessionCloseHour && local.Minute() >= s.cfg.SessionCloseMinute)
}

func (s *MovingAverageStrategy) signal(snap Snapshot, action types.SignalAction, confidence decimal.Decimal, reason string) *types.TradingSignal {
	return &types.TradingSignal{
		ID:             uuid.NewString(),
		StrategyName:   s.Name(),
		Symbol:         snap.Symbol,
		Action:         action,
		Confidence:     confidence,
		SuggestedPrice: snap.Candle.Close,
		Reason:         reason,
		TS:             snap.TS,
	}
}

// Reset clears all per-symbol state; used by tests and by a hot-reload.
func (s *MovingAverageStrategy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = make(map[string]*symbolState)
}
