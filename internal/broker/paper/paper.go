// Package paper provides a simulated broker.Broker implementation used for
// paper trading and backtest replay. It fills MARKET orders immediately at
// the last known mark (plus slippage in KRX tick-size units) and LIMIT
// orders when the mark crosses the limit price, charging the same
// commission/tax schedule a live KIS fill would incur.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"

	"github.com/yohan-kwon/kquant-core/internal/broker"
	"github.com/yohan-kwon/kquant-core/internal/commission"
	"github.com/yohan-kwon/kquant-core/internal/types"
)

// Config holds paper-broker tunables.
type Config struct {
	InitialCash  decimal.Decimal
	SlippageTick int // number of KRX tick-size units applied against the taker
	FillDelay    time.Duration
	Rates        commission.Rates
}

// DefaultConfig matches a conservative retail paper-trading setup.
func DefaultConfig() Config {
	return Config{
		InitialCash:  decimal.NewFromInt(10_000_000),
		SlippageTick: 1,
		FillDelay:    10 * time.Millisecond,
		Rates:        commission.DefaultRates(),
	}
}

type openOrder struct {
	order  types.Order
	filled int64
}

// Broker is a broker.Broker implementation that simulates fills against
// the last mark price pushed via MarkPrice, with no real network calls.
type Broker struct {
	cfg    Config
	idNode *snowflake.Node

	mu     sync.Mutex
	marks  map[string]decimal.Decimal
	orders map[string]*openOrder // brokerOrderID -> order

	fills    chan broker.FillNotification
	statuses chan broker.StatusChange
}

// NewBroker builds a paper Broker. idNode supplies broker-order-id
// generation; pass nil to use a default snowflake node (id 1).
func NewBroker(cfg Config, idNode *snowflake.Node) (*Broker, error) {
	if idNode == nil {
		var err error
		idNode, err = snowflake.NewNode(1)
		if err != nil {
			return nil, fmt.Errorf("paper: snowflake node: %w", err)
		}
	}
	return &Broker{
		cfg:      cfg,
		idNode:   idNode,
		marks:    make(map[string]decimal.Decimal),
		orders:   make(map[string]*openOrder),
		fills:    make(chan broker.FillNotification, 1024),
		statuses: make(chan broker.StatusChange, 1024),
	}, nil
}

// MarkPrice updates the simulated last-traded price for symbol, evaluating
// any resting LIMIT orders against it. Callers typically wire this to
// market_data_received.
func (b *Broker) MarkPrice(symbol string, price decimal.Decimal) {
	b.mu.Lock()
	b.marks[symbol] = price
	pending := make([]*openOrder, 0)
	for _, o := range b.orders {
		if o.order.Symbol == symbol && o.order.Type == types.OrderTypeLimit {
			pending = append(pending, o)
		}
	}
	b.mu.Unlock()

	for _, o := range pending {
		b.tryFillLimit(o, price)
	}
}

func (b *Broker) tryFillLimit(o *openOrder, mark decimal.Decimal) {
	b.mu.Lock()
	crosses := (o.order.Side == types.SideBuy && mark.LessThanOrEqual(o.order.Price)) ||
		(o.order.Side == types.SideSell && mark.GreaterThanOrEqual(o.order.Price))
	remaining := o.order.Quantity - o.filled
	b.mu.Unlock()
	if !crosses || remaining <= 0 {
		return
	}
	b.fill(o, o.order.Price, remaining)
}

// Place implements broker.Broker. The client-generated order.ID is reused
// as the idempotency key: placing the same order.ID twice returns the
// same broker order id without a second simulated submission.
func (b *Broker) Place(ctx context.Context, order types.Order) (broker.PlacementResult, error) {
	b.mu.Lock()
	for brokerID, existing := range b.orders {
		if existing.order.ID == order.ID {
			b.mu.Unlock()
			return broker.PlacementResult{BrokerOrderID: brokerID}, nil
		}
	}
	brokerOrderID := b.idNode.Generate().String()
	b.orders[brokerOrderID] = &openOrder{order: order}
	mark := b.marks[order.Symbol]
	b.mu.Unlock()

	if order.Type == types.OrderTypeMarket {
		if mark.IsZero() {
			// Unregister so a retry with the same order.ID is a fresh attempt.
			b.mu.Lock()
			delete(b.orders, brokerOrderID)
			b.mu.Unlock()
			return broker.PlacementResult{}, broker.NewRetriable(fmt.Errorf("paper: no mark for %s", order.Symbol))
		}
		fillPrice := b.slippedPrice(mark, order.Side)
		go func() {
			time.Sleep(b.cfg.FillDelay)
			b.mu.Lock()
			o := b.orders[brokerOrderID]
			b.mu.Unlock()
			if o != nil {
				b.fill(o, fillPrice, order.Quantity)
			}
		}()
	}

	return broker.PlacementResult{BrokerOrderID: brokerOrderID}, nil
}

// slippedPrice applies cfg.SlippageTick KRX tick-size units against the
// taker: buys fill slightly above mark, sells slightly below.
func (b *Broker) slippedPrice(mark decimal.Decimal, side types.Side) decimal.Decimal {
	tick := types.TickSize(mark).Mul(decimal.NewFromInt(int64(b.cfg.SlippageTick)))
	if side == types.SideBuy {
		return mark.Add(tick)
	}
	d := mark.Sub(tick)
	if d.LessThanOrEqual(decimal.Zero) {
		return mark
	}
	return d
}

func (b *Broker) fill(o *openOrder, price decimal.Decimal, qty int64) {
	b.mu.Lock()
	remaining := o.order.Quantity - o.filled
	if qty > remaining {
		qty = remaining
	}
	if qty <= 0 {
		b.mu.Unlock()
		return
	}
	o.filled += qty
	done := o.filled >= o.order.Quantity
	var brokerOrderID string
	for id, v := range b.orders {
		if v == o {
			brokerOrderID = id
			break
		}
	}
	b.mu.Unlock()

	commissionBreakdown := commission.Compute(b.cfg.Rates, o.order.Side, price, qty)

	b.fills <- broker.FillNotification{
		BrokerOrderID: brokerOrderID,
		Fill: types.Fill{
			FillID:     b.idNode.Generate().String(),
			OrderID:    o.order.ID,
			Symbol:     o.order.Symbol,
			Side:       o.order.Side,
			Qty:        qty,
			Price:      price,
			Commission: commissionBreakdown.Total,
			TS:         time.Now().UTC(),
		},
	}

	if done {
		b.statuses <- broker.StatusChange{
			BrokerOrderID: brokerOrderID,
			State:         types.OrderFilled,
			TS:            time.Now().UTC(),
		}
	}
}

// Cancel implements broker.Broker: removes any remaining quantity from the
// simulated book and reports the cancellation.
func (b *Broker) Cancel(ctx context.Context, brokerOrderID string) error {
	b.mu.Lock()
	o, ok := b.orders[brokerOrderID]
	if ok {
		delete(b.orders, brokerOrderID)
	}
	b.mu.Unlock()
	if !ok {
		return broker.ErrNotConnected
	}
	b.statuses <- broker.StatusChange{
		BrokerOrderID: brokerOrderID,
		State:         types.OrderCancelled,
		TS:            time.Now().UTC(),
	}
	return nil
}

func (b *Broker) Fills() <-chan broker.FillNotification     { return b.fills }
func (b *Broker) StatusChanges() <-chan broker.StatusChange { return b.statuses }

// AccountCash always reports the configured starting cash; the paper
// broker does not itself track cash — the Order Engine's Book is the
// source of truth for simulated accounting, matching spec §3's ownership
// rule ("others read via bus events", never a second ledger).
func (b *Broker) AccountCash(ctx context.Context) (decimal.Decimal, error) {
	return b.cfg.InitialCash, nil
}

func (b *Broker) Close() error { return nil }
