package strategy

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"github.com/yohan-kwon/kquant-core/internal/types"
)

// PerformanceSnapshot is the derived-on-query metric set spec §4.F
// requires: win rate, total return, max drawdown, and a Sharpe ratio
// from daily aggregates. Not computed in the hot path.
type PerformanceSnapshot struct {
	SignalCount   int
	FillCount     int
	WinCount      int
	LossCount     int
	WinRate       decimal.Decimal
	TotalReturn   decimal.Decimal // sum of realized P&L across closed round-trips
	MaxDrawdown   decimal.Decimal // ratio, positive
	SharpeRatio   float64         // from daily realized-P&L aggregates, unannualized
}

// closedTrade is one round-trip: an entry fill followed by its matching
// exit fill for the same symbol, FIFO-matched.
type closedTrade struct {
	pnl decimal.Decimal
	day time.Time
}

// PerformanceTracker accumulates a strategy's emitted signals and the
// fills that resulted from them, and derives round-trip P&L via FIFO
// matching per symbol.
type PerformanceTracker struct {
	mu sync.Mutex

	signalCount int
	openLots    map[string][]lot // FIFO queue of open entry fills per symbol
	trades      []closedTrade

	equityCurve []decimal.Decimal // cumulative realized P&L after each trade, for drawdown
}

type lot struct {
	side  types.Side
	qty   int64
	price decimal.Decimal
}

// NewPerformanceTracker builds an empty tracker.
func NewPerformanceTracker() *PerformanceTracker {
	return &PerformanceTracker{openLots: make(map[string][]lot)}
}

// RecordSignal counts an emitted signal; signal/fill ratio itself isn't
// reported but the count is useful context alongside FillCount.
func (p *PerformanceTracker) RecordSignal(sig types.TradingSignal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signalCount++
}

// RecordFill matches fill against the open-lot FIFO queue for its
// symbol. A fill on the same side as the queue's head opens a new lot;
// a fill on the opposite side closes (fully or partially) against the
// head lot(s), realizing P&L for each closed portion.
func (p *PerformanceTracker) RecordFill(fill types.Fill) {
	p.mu.Lock()
	defer p.mu.Unlock()

	queue := p.openLots[fill.Symbol]
	remaining := fill.Qty

	for remaining > 0 && len(queue) > 0 && queue[0].side != fill.Side {
		head := &queue[0]
		matched := remaining
		if head.qty < matched {
			matched = head.qty
		}

		var pnl decimal.Decimal
		if head.side == types.SideBuy {
			pnl = fill.Price.Sub(head.price).Mul(decimal.NewFromInt(matched))
		} else {
			pnl = head.price.Sub(fill.Price).Mul(decimal.NewFromInt(matched))
		}
		pnl = pnl.Sub(fill.Commission.Mul(decimal.NewFromInt(matched)).Div(decimal.NewFromInt(fill.Qty)))

		p.trades = append(p.trades, closedTrade{pnl: pnl, day: fill.TS.UTC().Truncate(24 * time.Hour)})
		cumulative := pnl
		if n := len(p.equityCurve); n > 0 {
			cumulative = p.equityCurve[n-1].Add(pnl)
		}
		p.equityCurve = append(p.equityCurve, cumulative)

		head.qty -= matched
		remaining -= matched
		if head.qty == 0 {
			queue = queue[1:]
		}
	}

	if remaining > 0 {
		queue = append(queue, lot{side: fill.Side, qty: remaining, price: fill.Price})
	}

	p.openLots[fill.Symbol] = queue
}

// Snapshot derives the current metric set from accumulated trades.
func (p *PerformanceTracker) Snapshot() PerformanceSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := PerformanceSnapshot{SignalCount: p.signalCount, FillCount: len(p.trades)}
	if len(p.trades) == 0 {
		return snap
	}

	total := decimal.Zero
	for _, t := range p.trades {
		total = total.Add(t.pnl)
		if t.pnl.GreaterThan(decimal.Zero) {
			snap.WinCount++
		} else if t.pnl.LessThan(decimal.Zero) {
			snap.LossCount++
		}
	}
	snap.TotalReturn = total

	decided := snap.WinCount + snap.LossCount
	if decided > 0 {
		snap.WinRate = decimal.NewFromInt(int64(snap.WinCount)).Div(decimal.NewFromInt(int64(decided)))
	}

	snap.MaxDrawdown = maxDrawdown(p.equityCurve)
	snap.SharpeRatio = dailySharpe(p.trades)

	return snap
}

// maxDrawdown returns the largest peak-to-trough drop in the cumulative
// P&L curve, as a ratio of the peak (0 when the curve never exceeds 0).
func maxDrawdown(curve []decimal.Decimal) decimal.Decimal {
	if len(curve) == 0 {
		return decimal.Zero
	}
	peak := curve[0]
	maxDD := decimal.Zero
	for _, v := range curve {
		if v.GreaterThan(peak) {
			peak = v
		}
		if peak.LessThanOrEqual(decimal.Zero) {
			continue
		}
		dd := peak.Sub(v).Div(peak.Abs())
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD
}

// dailySharpe buckets closed-trade P&L by day, then computes mean/stddev
// of the daily P&L series via gonum/stat. Unannualized: callers scale by
// sqrt(252) themselves if an annualized figure is wanted.
func dailySharpe(trades []closedTrade) float64 {
	byDay := make(map[int64]float64)
	for _, t := range trades {
		f, _ := t.pnl.Float64()
		byDay[t.day.Unix()] += f
	}
	if len(byDay) < 2 {
		return 0
	}
	daily := make([]float64, 0, len(byDay))
	for _, v := range byDay {
		daily = append(daily, v)
	}
	mean := stat.Mean(daily, nil)
	sd := stat.StdDev(daily, nil)
	if sd == 0 || math.IsNaN(sd) {
		return 0
	}
	return mean / sd
}
