package risk

import (
	"github.com/shopspring/decimal"
)

// SizingMode selects a Position size recommender's formula, per spec
// §4.G.2 ("fixed fractional, volatility-based, Kelly").
type SizingMode int

const (
	SizingFixedFractional SizingMode = iota
	SizingVolatility
	SizingKelly
)

// PositionSizeRecommender suggests an order quantity for a new entry. It
// never places orders itself — strategies call it and pass the result
// along in the signal's metadata or the Order Engine's lot sizing step.
type PositionSizeRecommender struct {
	mode SizingMode

	// RiskPerTrade is the fraction of portfolio value risked per trade
	// under SizingFixedFractional (e.g. 0.01 for 1%).
	RiskPerTrade decimal.Decimal

	// KellyCap bounds the fraction of portfolio value a Kelly-mode
	// recommendation may ever commit, guarding against the formula's
	// well-known over-betting at noisy win-rate estimates.
	KellyCap decimal.Decimal
}

// NewPositionSizeRecommender builds a recommender in the given mode.
func NewPositionSizeRecommender(mode SizingMode) *PositionSizeRecommender {
	return &PositionSizeRecommender{
		mode:         mode,
		RiskPerTrade: decimal.RequireFromString("0.01"),
		KellyCap:     decimal.RequireFromString("0.20"),
	}
}

// FixedFractional sizes so that a stop-out at (entry-stop) risks exactly
// RiskPerTrade of portfolioValue: qty = floor(portfolioValue*r / |entry-stop|).
func (p *PositionSizeRecommender) FixedFractional(portfolioValue, entry, stop decimal.Decimal) int64 {
	riskDistance := entry.Sub(stop).Abs()
	if riskDistance.IsZero() || portfolioValue.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	riskAmount := portfolioValue.Mul(p.RiskPerTrade)
	qty := riskAmount.Div(riskDistance).Floor().IntPart()
	if qty < 0 {
		return 0
	}
	return qty
}

// Volatility sizes inversely proportional to ATR: qty = floor(portfolioValue*r / (atrMultiple*atr)).
// Wider ATR (more volatile) implies a smaller position for the same
// dollar risk budget.
func (p *PositionSizeRecommender) Volatility(portfolioValue, atr, atrMultiple decimal.Decimal) int64 {
	if atr.LessThanOrEqual(decimal.Zero) || portfolioValue.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	riskAmount := portfolioValue.Mul(p.RiskPerTrade)
	riskDistance := atr.Mul(atrMultiple)
	if riskDistance.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	qty := riskAmount.Div(riskDistance).Floor().IntPart()
	if qty < 0 {
		return 0
	}
	return qty
}

// Kelly sizes using the bounded Kelly criterion: f* = winRate - (1-winRate)/payoffRatio,
// clamped to [0, KellyCap], applied to portfolioValue and converted to
// shares at entry price. payoffRatio is avg-win / avg-loss from the
// strategy's rolling performance record.
func (p *PositionSizeRecommender) Kelly(portfolioValue, entry, winRate, payoffRatio decimal.Decimal) int64 {
	if entry.LessThanOrEqual(decimal.Zero) || portfolioValue.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	if payoffRatio.LessThanOrEqual(decimal.Zero) {
		return 0
	}

	lossRate := decimal.NewFromInt(1).Sub(winRate)
	fStar := winRate.Sub(lossRate.Div(payoffRatio))

	if fStar.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	if fStar.GreaterThan(p.KellyCap) {
		fStar = p.KellyCap
	}

	capital := portfolioValue.Mul(fStar)
	qty := capital.Div(entry).Floor().IntPart()
	if qty < 0 {
		return 0
	}
	return qty
}

// Recommend dispatches to the configured mode. extra carries the inputs
// the selected mode needs beyond portfolioValue/entry: [stop] for
// FixedFractional, [atr, atrMultiple] for Volatility, [winRate,
// payoffRatio] for Kelly.
func (p *PositionSizeRecommender) Recommend(portfolioValue, entry decimal.Decimal, extra ...decimal.Decimal) int64 {
	switch p.mode {
	case SizingFixedFractional:
		if len(extra) < 1 {
			return 0
		}
		return p.FixedFractional(portfolioValue, entry, extra[0])
	case SizingVolatility:
		if len(extra) < 2 {
			return 0
		}
		return p.Volatility(portfolioValue, extra[0], extra[1])
	case SizingKelly:
		if len(extra) < 2 {
			return 0
		}
		return p.Kelly(portfolioValue, entry, extra[0], extra[1])
	default:
		return 0
	}
}
