// Package cache implements the ephemeral, typed key-value store shared by
// the pipeline, analyzer, strategy engine, and order engine. Each
// keyspace is owned by exactly one writer component; everyone else reads.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/yohan-kwon/kquant-core/internal/types"
)

// Keyspace TTLs and bounds, per spec §4.B.
const (
	MarketTTL      = 24 * time.Hour
	IndicatorTTL   = time.Hour
	OrderbookTTL   = 5 * time.Minute
	DefaultRingCap = 200
	TradesCap      = 100

	// DefaultMemoryBudgetBytes bounds the in-process variant's eviction
	// policy; the Redis variant approximates it by counting entries,
	// since Go code cannot see Redis's own heap.
	DefaultMemoryBudgetBytes = 150 * 1024 * 1024
)

// Key helpers — one function per keyspace so callers never hand-format a
// key and risk a typo crossing a component's ownership boundary.
func MarketKey(symbol string) string             { return fmt.Sprintf("market:%s", symbol) }
func CandlesKey(symbol, interval string) string  { return fmt.Sprintf("candles:%s:%s", symbol, interval) }
func IndicatorsKey(symbol, interval string) string {
	return fmt.Sprintf("indicators:%s:%s", symbol, interval)
}
func PositionKey(symbol string) string  { return fmt.Sprintf("positions:%s", symbol) }
func OrderbookKey(symbol, side string) string {
	return fmt.Sprintf("orderbook:%s:%s", symbol, side)
}
func TradesKey(symbol string) string { return fmt.Sprintf("trades:%s", symbol) }

// Cache is the interface every component depends on. Both the in-process
// map-backed variant and the Redis-backed variant satisfy it, so tests
// run without a Redis instance.
type Cache interface {
	SetMarketTick(ctx context.Context, symbol string, tick types.MarketTick) error
	GetMarketTick(ctx context.Context, symbol string) (types.MarketTick, bool, error)

	// PushCandle performs a bounded push+trim in one call: the candle is
	// inserted at the head and the ring is trimmed to cap in the same
	// operation, so the size cap is an invariant of the write itself.
	PushCandle(ctx context.Context, symbol, interval string, candle types.Candle, cap int) error
	GetCandles(ctx context.Context, symbol, interval string) ([]types.Candle, error)

	SetIndicators(ctx context.Context, symbol, interval string, snap types.IndicatorSnapshot) error
	GetIndicators(ctx context.Context, symbol, interval string) (types.IndicatorSnapshot, bool, error)

	SetPosition(ctx context.Context, symbol string, pos types.Position) error
	GetPosition(ctx context.Context, symbol string) (types.Position, bool, error)
	AllPositions(ctx context.Context) (map[string]types.Position, error)

	PushTrade(ctx context.Context, symbol string, fill types.Fill, cap int) error
	GetTrades(ctx context.Context, symbol string) ([]types.Fill, error)

	// SetQueueState mirrors the order engine's durable queue so a crash
	// and restart resumes without losing non-terminal orders.
	SetQueueState(ctx context.Context, orderID string, order types.Order) error
	DeleteQueueState(ctx context.Context, orderID string) error
	AllQueueState(ctx context.Context) (map[string]types.Order, error)

	// Stats reports approximate entry count and eviction counters for the
	// memory-budget policy bookkeeping.
	Stats() Stats

	Close() error
}

// Stats is a point-in-time snapshot of cache occupancy and eviction
// activity, exported via internal/metrics.
type Stats struct {
	Entries       int
	EvictedTTL    uint64
	EvictedLRU    uint64
	ApproxBytes   int64
}
