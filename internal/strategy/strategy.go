// Package strategy implements the Strategy Engine (spec §4.F): a plugin
// loader and per-symbol dispatcher that runs registered strategies on
// every indicator update and emits trading signals.
package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/yohan-kwon/kquant-core/internal/types"
)

// ParameterSpec describes one strategy parameter for validation and for
// any configuration UI.
type ParameterSpec struct {
	Type    string // "decimal", "int", "bool", "string"
	Default interface{}
	Min     interface{}
	Max     interface{}
	Desc    string
}

// Snapshot is what the engine hands a strategy on each dispatch: the
// closed candle that triggered it and its indicator values.
type Snapshot struct {
	Symbol     string
	TS         time.Time
	Candle     types.Candle
	Indicators types.IndicatorSnapshot
}

// Strategy is the plugin contract every strategy implements (spec §4.F).
// An instance is owned exclusively by the Strategy Engine; its state is
// never shared across strategies or across symbols unless the strategy
// itself chooses to key its internal maps by symbol.
type Strategy interface {
	// Name returns the strategy's unique identifier.
	Name() string

	// RequiredIndicators lists indicator names that must be present in
	// the snapshot before Analyze is invoked.
	RequiredIndicators() []string

	// ParameterSchema describes this strategy's configurable parameters.
	ParameterSchema() map[string]ParameterSpec

	// Analyze evaluates one snapshot and optionally returns a signal.
	// A nil return means no action this tick.
	Analyze(snap Snapshot) *types.TradingSignal

	// OnStart is called once when the engine activates this strategy.
	OnStart()

	// OnStop is called once when the engine deactivates this strategy.
	OnStop()
}

// clampRatio clamps x to [0,1], the confidence range every built-in
// strategy reports in.
func clampRatio(x decimal.Decimal) decimal.Decimal {
	if x.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	if x.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return x
}
