package indicator

import (
	"github.com/shopspring/decimal"
)

// MACD calculates the Moving Average Convergence Divergence: fast EMA minus
// slow EMA, plus a signal-line EMA of that difference and the resulting
// histogram, per the standard 12/26/9 definition.
type MACD struct {
	fast   *EMA
	slow   *EMA
	signal *EMA

	macd      decimal.Decimal
	signalVal decimal.Decimal
	hist      decimal.Decimal
	hasValue  bool
}

// NewMACD creates a MACD calculator with the given fast/slow/signal periods.
func NewMACD(fastPeriod, slowPeriod, signalPeriod int) *MACD {
	return &MACD{
		fast:   NewEMA(fastPeriod),
		slow:   NewEMA(slowPeriod),
		signal: NewEMA(signalPeriod),
	}
}

// Update feeds a new close and returns (macd, signal, histogram). All three
// are zero (check Ready) until the slow EMA and signal EMA have both warmed
// up.
func (m *MACD) Update(close decimal.Decimal) (decimal.Decimal, decimal.Decimal, decimal.Decimal) {
	fastVal := m.fast.Update(close)
	slowVal := m.slow.Update(close)

	if !m.fast.Ready() || !m.slow.Ready() {
		return decimal.Zero, decimal.Zero, decimal.Zero
	}

	m.macd = fastVal.Sub(slowVal)
	sig := m.signal.Update(m.macd)

	if !m.signal.Ready() {
		return m.macd, decimal.Zero, decimal.Zero
	}

	m.signalVal = sig
	m.hist = m.macd.Sub(m.signalVal)
	m.hasValue = true

	return m.macd, m.signalVal, m.hist
}

// Current returns the last computed (macd, signal, histogram) triple.
func (m *MACD) Current() (decimal.Decimal, decimal.Decimal, decimal.Decimal) {
	if !m.hasValue {
		return decimal.Zero, decimal.Zero, decimal.Zero
	}
	return m.macd, m.signalVal, m.hist
}

// Ready reports whether macd, signal, and histogram are all available.
func (m *MACD) Ready() bool {
	return m.hasValue
}

// Reset clears all internal EMAs.
func (m *MACD) Reset() {
	m.fast.Reset()
	m.slow.Reset()
	m.signal.Reset()
	m.macd = decimal.Zero
	m.signalVal = decimal.Zero
	m.hist = decimal.Zero
	m.hasValue = false
}
