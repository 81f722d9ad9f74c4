package indicator

import (
	"github.com/shopspring/decimal"
)

// RSI calculates the Relative Strength Index using Wilder's smoothing of
// average gains and losses, per the standard definition. Undefined (not
// zero — callers must check Ready) until `period` changes have been seen.
type RSI struct {
	period     int
	prevClose  decimal.Decimal
	hasPrev    bool
	count      int
	gainSum    decimal.Decimal
	lossSum    decimal.Decimal
	avgGain    decimal.Decimal
	avgLoss    decimal.Decimal
	hasValue   bool
}

// NewRSI creates a new RSI calculator with the given period.
func NewRSI(period int) *RSI {
	if period < 1 {
		period = 1
	}
	return &RSI{period: period}
}

// Update feeds a new close price and returns the current RSI in [0,100],
// or zero (check Ready) if the warm-up window hasn't filled.
func (r *RSI) Update(close decimal.Decimal) decimal.Decimal {
	if !r.hasPrev {
		r.prevClose = close
		r.hasPrev = true
		return decimal.Zero
	}

	change := close.Sub(r.prevClose)
	r.prevClose = close

	var gain, loss decimal.Decimal
	if change.IsPositive() {
		gain = change
	} else {
		loss = change.Abs()
	}

	r.count++
	periodDec := decimal.NewFromInt(int64(r.period))

	switch {
	case r.count < r.period:
		r.gainSum = r.gainSum.Add(gain)
		r.lossSum = r.lossSum.Add(loss)
		return decimal.Zero
	case r.count == r.period:
		r.gainSum = r.gainSum.Add(gain)
		r.lossSum = r.lossSum.Add(loss)
		r.avgGain = r.gainSum.Div(periodDec)
		r.avgLoss = r.lossSum.Div(periodDec)
		r.hasValue = true
	default:
		r.avgGain = r.avgGain.Mul(periodDec.Sub(decimal.NewFromInt(1))).Add(gain).Div(periodDec)
		r.avgLoss = r.avgLoss.Mul(periodDec.Sub(decimal.NewFromInt(1))).Add(loss).Div(periodDec)
	}

	return r.compute()
}

func (r *RSI) compute() decimal.Decimal {
	if r.avgLoss.IsZero() {
		return decimal.NewFromInt(100)
	}
	rs := r.avgGain.Div(r.avgLoss)
	hundred := decimal.NewFromInt(100)
	return hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
}

// Current returns the current RSI without adding new data.
func (r *RSI) Current() decimal.Decimal {
	if !r.hasValue {
		return decimal.Zero
	}
	return r.compute()
}

// Ready reports whether enough samples have been seen.
func (r *RSI) Ready() bool {
	return r.hasValue
}

// Period returns the RSI period.
func (r *RSI) Period() int {
	return r.period
}

// Reset clears all data.
func (r *RSI) Reset() {
	r.hasPrev = false
	r.count = 0
	r.gainSum = decimal.Zero
	r.lossSum = decimal.Zero
	r.avgGain = decimal.Zero
	r.avgLoss = decimal.Zero
	r.hasValue = false
}
