package indicator

import (
	"github.com/shopspring/decimal"
)

// Bollinger calculates Bollinger Bands: an SMA midline plus upper/lower
// bands offset by a configurable multiple of the rolling standard
// deviation, per the standard 20/2 definition.
type Bollinger struct {
	period     int
	numStdDevs decimal.Decimal
	sma        *SMA
	stddev     *StdDev
}

// NewBollinger creates a Bollinger Bands calculator.
func NewBollinger(period int, numStdDevs decimal.Decimal) *Bollinger {
	return &Bollinger{
		period:     period,
		numStdDevs: numStdDevs,
		sma:        NewSMA(period),
		stddev:     NewStdDev(period),
	}
}

// Update feeds a new close and returns (upper, mid, lower). All three are
// zero (check Ready) until the window has filled.
func (b *Bollinger) Update(close decimal.Decimal) (decimal.Decimal, decimal.Decimal, decimal.Decimal) {
	mid := b.sma.Update(close)
	sd := b.stddev.Update(close)

	if !b.Ready() {
		return decimal.Zero, decimal.Zero, decimal.Zero
	}

	offset := sd.Mul(b.numStdDevs)
	return mid.Add(offset), mid, mid.Sub(offset)
}

// Current returns the last computed (upper, mid, lower) without adding data.
func (b *Bollinger) Current() (decimal.Decimal, decimal.Decimal, decimal.Decimal) {
	if !b.Ready() {
		return decimal.Zero, decimal.Zero, decimal.Zero
	}
	mid := b.sma.Current()
	offset := b.stddev.Current().Mul(b.numStdDevs)
	return mid.Add(offset), mid, mid.Sub(offset)
}

// Ready reports whether the rolling window has filled.
func (b *Bollinger) Ready() bool {
	return b.sma.Ready() && b.stddev.Ready()
}

// Reset clears all internal state.
func (b *Bollinger) Reset() {
	b.sma.Reset()
	b.stddev.Reset()
}
