package strategy

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	busp "github.com/yohan-kwon/kquant-core/internal/bus"
	"github.com/yohan-kwon/kquant-core/internal/types"
)

// DefaultAnalyzeTimeout is the spec's default per-strategy dispatch
// timeout; three consecutive timeouts auto-deactivate the strategy.
const DefaultAnalyzeTimeout = 200 * time.Millisecond

// MaxConsecutiveTimeouts is the auto-deactivation threshold.
const MaxConsecutiveTimeouts = 3

// registration tracks one active strategy plus its dispatch health and
// the set of symbols it's subscribed to (empty means all symbols).
type registration struct {
	strat             Strategy
	symbols           map[string]bool // nil/empty = subscribed to every symbol
	consecutiveTimeout int
	active            bool
}

// Engine is the Strategy Engine: it loads strategies, dispatches them on
// every indicators_updated event for the symbols they're subscribed to,
// and tracks their signal/fill performance.
type Engine struct {
	bus     busp.Bus
	logger  zerolog.Logger
	timeout time.Duration

	mu    sync.Mutex
	regs  map[string]*registration
	perf  map[string]*PerformanceTracker
}

// NewEngine builds a Strategy Engine dispatching through bus.
func NewEngine(b busp.Bus, logger zerolog.Logger) *Engine {
	return &Engine{
		bus:     b,
		logger:  logger.With().Str("component", "strategy").Logger(),
		timeout: DefaultAnalyzeTimeout,
		regs:    make(map[string]*registration),
		perf:    make(map[string]*PerformanceTracker),
	}
}

// Load registers a strategy and activates it, subscribing it to symbols
// (nil/empty means every symbol seen on indicators_updated).
func (e *Engine) Load(ctx context.Context, strat Strategy, symbols []string) {
	e.mu.Lock()
	sset := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		sset[s] = true
	}
	e.regs[strat.Name()] = &registration{strat: strat, symbols: sset, active: true}
	e.perf[strat.Name()] = NewPerformanceTracker()
	e.mu.Unlock()

	strat.OnStart()
	e.publishLifecycle(ctx, busp.TopicStrategyActivated, strat.Name(), "")
}

// Unload deactivates and removes a strategy by name.
func (e *Engine) Unload(ctx context.Context, name string) {
	e.mu.Lock()
	reg, ok := e.regs[name]
	if ok {
		delete(e.regs, name)
	}
	e.mu.Unlock()

	if !ok {
		return
	}
	reg.strat.OnStop()
	e.publishLifecycle(ctx, busp.TopicStrategyDeactivated, name, "unloaded")
}

// Reload is a convenience for hot-reloading: unload the named strategy if
// present, then load the replacement under the same or a new name.
func (e *Engine) Reload(ctx context.Context, name string, replacement Strategy, symbols []string) {
	e.Unload(ctx, name)
	e.Load(ctx, replacement, symbols)
}

// Start subscribes to indicators_updated and dispatches on every event.
func (e *Engine) Start(ctx context.Context) busp.Subscription {
	return e.bus.Subscribe(busp.TopicIndicatorsUpdated, 0, func(ctx context.Context, env busp.Envelope) {
		snap, ok := env.Payload.(types.IndicatorSnapshot)
		if !ok {
			return
		}
		e.dispatch(ctx, snap, env.CorrelationID)
	})
}

// dispatch runs every active strategy subscribed to snap.Symbol.
func (e *Engine) dispatch(ctx context.Context, ind types.IndicatorSnapshot, correlationID string) {
	e.mu.Lock()
	var active []*registration
	for _, reg := range e.regs {
		if !reg.active {
			continue
		}
		if len(reg.symbols) > 0 && !reg.symbols[ind.Symbol] {
			continue
		}
		active = append(active, reg)
	}
	e.mu.Unlock()

	for _, reg := range active {
		e.runOne(ctx, reg, ind, correlationID)
	}
}

func (e *Engine) runOne(ctx context.Context, reg *registration, ind types.IndicatorSnapshot, correlationID string) {
	if !ind.HasAll(reg.strat.RequiredIndicators()) {
		return
	}

	snap := Snapshot{Symbol: ind.Symbol, TS: ind.TS, Indicators: ind}

	resultCh := make(chan *types.TradingSignal, 1)
	go func() {
		resultCh <- reg.strat.Analyze(snap)
	}()

	select {
	case sig := <-resultCh:
		e.mu.Lock()
		reg.consecutiveTimeout = 0
		e.mu.Unlock()
		if sig != nil {
			e.emitSignal(ctx, reg.strat.Name(), sig, correlationID)
		}
	case <-time.After(e.timeout):
		e.onTimeout(ctx, reg)
	}
}

func (e *Engine) onTimeout(ctx context.Context, reg *registration) {
	e.mu.Lock()
	reg.consecutiveTimeout++
	count := reg.consecutiveTimeout
	name := reg.strat.Name()
	if count >= MaxConsecutiveTimeouts {
		reg.active = false
	}
	e.mu.Unlock()

	e.logger.Warn().Str("strategy", name).Int("consecutive_timeouts", count).Msg("strategy analyze timed out")

	if count >= MaxConsecutiveTimeouts {
		e.publishLifecycle(ctx, busp.TopicStrategyDeactivated, name, "timeout")
	}
}

func (e *Engine) emitSignal(ctx context.Context, stratName string, sig *types.TradingSignal, correlationID string) {
	sig.StrategyName = stratName
	if sig.CorrelationID == "" {
		sig.CorrelationID = correlationID
	}
	if sig.CorrelationID == "" {
		sig.CorrelationID = uuid.NewString()
	}

	e.mu.Lock()
	if tracker, ok := e.perf[stratName]; ok {
		tracker.RecordSignal(*sig)
	}
	e.mu.Unlock()

	env := busp.NewEnvelope(busp.TopicTradingSignal, "strategy."+stratName, *sig)
	env.CorrelationID = sig.CorrelationID
	if err := e.bus.Publish(ctx, env); err != nil {
		e.logger.Error().Err(err).Str("strategy", stratName).Msg("failed to publish trading_signal")
	}
}

func (e *Engine) publishLifecycle(ctx context.Context, topic, name, reason string) {
	payload := map[string]string{"strategy_name": name}
	if reason != "" {
		payload["reason"] = reason
	}
	env := busp.NewEnvelope(topic, "strategy", payload)
	if err := e.bus.Publish(ctx, env); err != nil {
		e.logger.Error().Err(err).Str("strategy", name).Str("topic", topic).Msg("failed to publish lifecycle event")
	}
}

// RecordFill feeds a fill back into the named strategy's performance
// tracker; called by the Order Engine (or the composition root relaying
// order_fully_executed/order_partially_executed) once a signal it emitted
// results in an execution.
func (e *Engine) RecordFill(stratName string, fill types.Fill) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if tracker, ok := e.perf[stratName]; ok {
		tracker.RecordFill(fill)
	}
}

// Performance returns a snapshot of the named strategy's tracked metrics.
func (e *Engine) Performance(stratName string) (PerformanceSnapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tracker, ok := e.perf[stratName]
	if !ok {
		return PerformanceSnapshot{}, false
	}
	return tracker.Snapshot(), true
}
