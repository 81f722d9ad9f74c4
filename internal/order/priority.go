package order

import "github.com/yohan-kwon/kquant-core/internal/types"

// Priority key components (spec §4.H.2). Lower keys dequeue first.
const (
	priorityBase   = 100
	priorityMarket = -20
	priorityLimit  = 0
	prioritySell   = -5
	priorityBuy    = 0
)

// PriorityKey computes an order's queue ordering key. override is the
// configured per-strategy priority adjustment (±10), zero if unset.
// Orders with equal keys tie-break on CreatedTS (older first), which the
// queue itself enforces.
func PriorityKey(o types.Order, override int) int {
	key := priorityBase
	if o.Type == types.OrderTypeMarket {
		key += priorityMarket
	} else {
		key += priorityLimit
	}
	if o.Side == types.SideSell {
		key += prioritySell
	} else {
		key += priorityBuy
	}
	return key + override
}
