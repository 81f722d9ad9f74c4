package indicator

import (
	"github.com/shopspring/decimal"
)

// EMA calculates the Exponential Moving Average with alpha = 2/(period+1).
// The first value is seeded with the simple average of the first `period`
// samples, matching the standard definition used throughout the analyzer.
type EMA struct {
	period   int
	alpha    decimal.Decimal
	count    int
	sum      decimal.Decimal
	value    decimal.Decimal
	hasValue bool
}

// NewEMA creates a new EMA calculator with the given period.
func NewEMA(period int) *EMA {
	if period < 1 {
		period = 1
	}
	alpha := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(period + 1)))
	return &EMA{period: period, alpha: alpha}
}

// Update adds a new value and returns the current EMA, or zero if the
// seed window hasn't filled yet.
func (e *EMA) Update(value decimal.Decimal) decimal.Decimal {
	e.count++

	if !e.hasValue {
		e.sum = e.sum.Add(value)
		if e.count < e.period {
			return decimal.Zero
		}
		e.value = e.sum.Div(decimal.NewFromInt(int64(e.period)))
		e.hasValue = true
		return e.value
	}

	// EMA = alpha*value + (1-alpha)*prevEMA
	e.value = e.alpha.Mul(value).Add(decimal.NewFromInt(1).Sub(e.alpha).Mul(e.value))
	return e.value
}

// Current returns the current EMA without adding new data.
func (e *EMA) Current() decimal.Decimal {
	if !e.hasValue {
		return decimal.Zero
	}
	return e.value
}

// Ready reports whether the seed window has filled.
func (e *EMA) Ready() bool {
	return e.hasValue
}

// Period returns the EMA period.
func (e *EMA) Period() int {
	return e.period
}

// Reset clears all data.
func (e *EMA) Reset() {
	e.count = 0
	e.sum = decimal.Zero
	e.value = decimal.Zero
	e.hasValue = false
}
