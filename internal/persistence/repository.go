// Package persistence provides the durable order/fill/position history
// backing reporting and post-mortem analysis. It is a second, slower tier
// below the KV Cache's queue-state mirror (internal/cache's
// SetQueueState/AllQueueState, which the Order Engine uses for crash
// recovery) — this package never sits on the hot path of an order.
package persistence

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yohan-kwon/kquant-core/internal/types"
)

// Repository defines the interface for state persistence.
type Repository interface {
	// Order operations
	SaveOrder(ctx context.Context, order types.Order) error
	GetOrder(ctx context.Context, id string) (*types.Order, error)
	GetOpenOrders(ctx context.Context) ([]types.Order, error)

	// Fill operations
	SaveFill(ctx context.Context, fill types.Fill) error
	GetFillsByOrder(ctx context.Context, orderID string) ([]types.Fill, error)

	// Position operations
	SavePosition(ctx context.Context, position types.Position) error
	GetPositions(ctx context.Context) ([]types.Position, error)

	// Equity operations
	SaveEquitySnapshot(ctx context.Context, snapshot EquitySnapshot) error
	GetLatestEquitySnapshot(ctx context.Context) (*EquitySnapshot, error)
	GetEquityHistory(ctx context.Context, from, to time.Time) ([]EquitySnapshot, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// EquitySnapshot represents persisted portfolio state, taken from a
// types.RiskContext at a point in time.
type EquitySnapshot struct {
	ID               int64
	Timestamp        time.Time
	PortfolioValue   decimal.Decimal
	Cash             decimal.Decimal
	RealizedPnLToday decimal.Decimal
	RealizedPnLMonth decimal.Decimal
	OpenPositions    int
}
