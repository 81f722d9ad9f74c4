package indicator

import (
	"github.com/shopspring/decimal"
)

// ATR calculates Average True Range using Wilder's smoothing, per the
// standard definition: TR = max(high-low, |high-prevClose|, |low-prevClose|);
// the first ATR is the simple average of the first `period` TRs, every
// subsequent ATR is (prevATR*(period-1) + TR) / period.
type ATR struct {
	period    int
	prevClose decimal.Decimal
	count     int
	sum       decimal.Decimal // running sum during the warm-up window
	value     decimal.Decimal
	hasValue  bool
}

// NewATR creates a new ATR calculator with the given period.
func NewATR(period int) *ATR {
	if period < 1 {
		period = 1
	}
	return &ATR{period: period}
}

// Update calculates the True Range for the current bar and updates ATR.
// Returns the current ATR value, or zero if not yet ready.
func (a *ATR) Update(high, low, close decimal.Decimal) decimal.Decimal {
	var tr decimal.Decimal
	if a.count == 0 {
		tr = high.Sub(low)
	} else {
		hl := high.Sub(low)
		hpc := high.Sub(a.prevClose).Abs()
		lpc := low.Sub(a.prevClose).Abs()
		tr = maxDecimal(hl, maxDecimal(hpc, lpc))
	}

	a.prevClose = close
	a.count++

	periodDec := decimal.NewFromInt(int64(a.period))

	switch {
	case a.count < a.period:
		a.sum = a.sum.Add(tr)
		return decimal.Zero
	case a.count == a.period:
		a.sum = a.sum.Add(tr)
		a.value = a.sum.Div(periodDec)
		a.hasValue = true
	default:
		a.value = a.value.Mul(periodDec.Sub(decimal.NewFromInt(1))).Add(tr).Div(periodDec)
	}

	return a.value
}

// Current returns the current ATR value without adding new data.
func (a *ATR) Current() decimal.Decimal {
	if !a.hasValue {
		return decimal.Zero
	}
	return a.value
}

// Ready returns true if enough data points have been collected.
func (a *ATR) Ready() bool {
	return a.hasValue
}

// Period returns the ATR period.
func (a *ATR) Period() int {
	return a.period
}

// Reset clears all data.
func (a *ATR) Reset() {
	a.prevClose = decimal.Zero
	a.count = 0
	a.sum = decimal.Zero
	a.value = decimal.Zero
	a.hasValue = false
}

// maxDecimal returns the maximum of two decimals.
func maxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}
