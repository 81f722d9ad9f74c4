package order

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	brokerp "github.com/yohan-kwon/kquant-core/internal/broker"
	"github.com/yohan-kwon/kquant-core/internal/types"
)

// fakeBroker is a minimal in-memory broker.Broker for exercising the Order
// Engine without a network dependency, in the style of the Strategy
// Engine's stubStrategy test double.
type fakeBroker struct {
	mu       sync.Mutex
	counter  int64
	placed   []types.Order
	placeErr error
	cancels  []string

	fills    chan brokerp.FillNotification
	statuses chan brokerp.StatusChange
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		fills:    make(chan brokerp.FillNotification, 32),
		statuses: make(chan brokerp.StatusChange, 32),
	}
}

func (b *fakeBroker) Place(ctx context.Context, order types.Order) (brokerp.PlacementResult, error) {
	if b.placeErr != nil {
		return brokerp.PlacementResult{}, b.placeErr
	}
	b.mu.Lock()
	b.counter++
	id := b.counter
	b.placed = append(b.placed, order)
	b.mu.Unlock()
	return brokerp.PlacementResult{BrokerOrderID: fmt.Sprintf("B%d", id)}, nil
}

func (b *fakeBroker) Cancel(ctx context.Context, brokerOrderID string) error {
	b.mu.Lock()
	b.cancels = append(b.cancels, brokerOrderID)
	b.mu.Unlock()
	return nil
}

func (b *fakeBroker) Fills() <-chan brokerp.FillNotification { return b.fills }

func (b *fakeBroker) StatusChanges() <-chan brokerp.StatusChange { return b.statuses }

func (b *fakeBroker) AccountCash(ctx context.Context) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (b *fakeBroker) Close() error { return nil }

func (b *fakeBroker) pushFill(brokerOrderID string, qty int64, price decimal.Decimal) {
	b.fills <- brokerp.FillNotification{
		BrokerOrderID: brokerOrderID,
		Fill:          types.Fill{Qty: qty, Price: price},
	}
}

func (b *fakeBroker) placedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.placed)
}
