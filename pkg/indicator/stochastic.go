package indicator

import (
	"github.com/shopspring/decimal"
)

// Stochastic calculates the Stochastic Oscillator: %K from the rolling
// high/low range over `period` bars, and %D as an SMA of %K over
// `smoothPeriod` bars, per the standard 14/3 definition.
type Stochastic struct {
	period       int
	highs, lows  []decimal.Decimal
	kSMA         *SMA
	lastK        decimal.Decimal
	hasK         bool
}

// NewStochastic creates a Stochastic Oscillator calculator.
func NewStochastic(period, smoothPeriod int) *Stochastic {
	if period < 1 {
		period = 1
	}
	return &Stochastic{
		period: period,
		highs:  make([]decimal.Decimal, 0, period),
		lows:   make([]decimal.Decimal, 0, period),
		kSMA:   NewSMA(smoothPeriod),
	}
}

// Update feeds a new (high, low, close) bar and returns (%K, %D). Both are
// zero (check Ready) until the rolling window and %D smoothing have filled.
func (s *Stochastic) Update(high, low, close decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	s.highs = append(s.highs, high)
	s.lows = append(s.lows, low)
	if len(s.highs) > s.period {
		s.highs = s.highs[1:]
		s.lows = s.lows[1:]
	}

	if len(s.highs) < s.period {
		return decimal.Zero, decimal.Zero
	}

	hh, ll := s.highs[0], s.lows[0]
	for _, h := range s.highs {
		if h.GreaterThan(hh) {
			hh = h
		}
	}
	for _, l := range s.lows {
		if l.LessThan(ll) {
			ll = l
		}
	}

	rng := hh.Sub(ll)
	var k decimal.Decimal
	if rng.IsZero() {
		k = decimal.NewFromInt(50)
	} else {
		k = close.Sub(ll).Div(rng).Mul(decimal.NewFromInt(100))
	}
	s.lastK = k
	s.hasK = true

	d := s.kSMA.Update(k)
	if !s.kSMA.Ready() {
		return k, decimal.Zero
	}
	return k, d
}

// Current returns the last computed (%K, %D).
func (s *Stochastic) Current() (decimal.Decimal, decimal.Decimal) {
	if !s.hasK {
		return decimal.Zero, decimal.Zero
	}
	if !s.kSMA.Ready() {
		return s.lastK, decimal.Zero
	}
	return s.lastK, s.kSMA.Current()
}

// Ready reports whether both %K and %D are available.
func (s *Stochastic) Ready() bool {
	return s.hasK && s.kSMA.Ready()
}

// Reset clears all internal state.
func (s *Stochastic) Reset() {
	s.highs = s.highs[:0]
	s.lows = s.lows[:0]
	s.kSMA.Reset()
	s.hasK = false
	s.lastK = decimal.Zero
}
