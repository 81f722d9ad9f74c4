package order

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yohan-kwon/kquant-core/internal/types"
)

// Book is the Order Engine's exclusive in-memory view of every symbol's
// position (spec §4.H.5), mirrored to the cache on every change. Buys
// update the weighted-average cost basis; sells realize P&L against it.
type Book struct {
	mu  sync.Mutex
	pos map[string]types.Position
}

// NewBook builds an empty position book.
func NewBook() *Book { return &Book{pos: make(map[string]types.Position)} }

// Get returns the current record for symbol, zero-valued if untracked.
func (b *Book) Get(symbol string) types.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pos[symbol]; ok {
		return p
	}
	return types.Position{Symbol: symbol}
}

// All returns a snapshot copy of every tracked position.
func (b *Book) All() map[string]types.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]types.Position, len(b.pos))
	for k, v := range b.pos {
		out[k] = v
	}
	return out
}

// ApplyFill folds one fill into symbol's position and returns the updated
// record plus the realized P&L this fill contributed (zero for buys).
//
// BUY: new_avg_cost = (old_avg_cost*old_qty + fill_price*fill_qty + commission) / new_qty
// SELL: realized_pnl += (fill_price - avg_cost)*fill_qty - commission
func (b *Book) ApplyFill(symbol string, side types.Side, qty int64, price, commission decimal.Decimal, ts time.Time) (types.Position, decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos := b.pos[symbol]
	pos.Symbol = symbol

	var realizedDelta decimal.Decimal
	if side == types.SideBuy {
		oldNotional := pos.AvgCost.Mul(decimal.NewFromInt(pos.Qty))
		addedNotional := price.Mul(decimal.NewFromInt(qty)).Add(commission)
		newQty := pos.Qty + qty
		if newQty > 0 {
			pos.AvgCost = oldNotional.Add(addedNotional).Div(decimal.NewFromInt(newQty))
		}
		pos.Qty = newQty
	} else {
		realizedDelta = price.Sub(pos.AvgCost).Mul(decimal.NewFromInt(qty)).Sub(commission)
		pos.RealizedPnL = pos.RealizedPnL.Add(realizedDelta)
		pos.Qty -= qty
		if pos.Qty <= 0 {
			pos.Qty = 0
			pos.AvgCost = decimal.Zero
		}
	}
	pos.LastUpdated = ts
	b.pos[symbol] = pos
	return pos, realizedDelta
}

// Mark recomputes unrealized P&L against the latest trade price, without
// touching realized P&L or cost basis. Reports false if symbol carries no
// open position.
func (b *Book) Mark(symbol string, price decimal.Decimal, ts time.Time) (types.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.pos[symbol]
	if !ok || pos.Qty == 0 {
		return types.Position{}, false
	}
	pos.LastMarkPrice = price
	pos.UnrealizedPnL = price.Sub(pos.AvgCost).Mul(decimal.NewFromInt(pos.Qty))
	pos.LastUpdated = ts
	b.pos[symbol] = pos
	return pos, true
}
