// Package adapter implements source-specific market data ingestion.
// Adapters are interchangeable: both variants normalize to types.MarketTick
// and push onto the same channel toward the pipeline.
package adapter

import (
	"context"
	"time"

	"github.com/yohan-kwon/kquant-core/internal/types"
)

// HealthEvent is delivered on an adapter's health callback.
type HealthEvent string

const (
	HealthHeartbeat   HealthEvent = "heartbeat"
	HealthDisconnected HealthEvent = "disconnected"
	HealthReconnected  HealthEvent = "reconnected"
	HealthFailed       HealthEvent = "adapter_failed"
)

// HealthCallback receives adapter connectivity transitions.
type HealthCallback func(event HealthEvent, detail string)

// Reconnect policy shared by both adapter variants, per spec §4.C.
const (
	ReconnectInitialDelay = time.Second
	ReconnectMultiplier   = 2
	ReconnectMaxDelay     = 60 * time.Second
	ReconnectMaxAttempts  = 5
	ReconnectWindow       = 10 * time.Minute
)

// Adapter is the contract every ingestion source implements.
type Adapter interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Subscribe(symbol string) error
	Unsubscribe(symbol string) error

	// Ticks returns the push channel of normalized MarketTick values.
	Ticks() <-chan types.MarketTick

	OnHealth(cb HealthCallback)
}

// backoffSchedule returns the delay before reconnect attempt n (1-indexed),
// capped at ReconnectMaxDelay.
func backoffSchedule(attempt int) time.Duration {
	delay := ReconnectInitialDelay
	for i := 1; i < attempt; i++ {
		delay *= ReconnectMultiplier
		if delay > ReconnectMaxDelay {
			return ReconnectMaxDelay
		}
	}
	return delay
}

// normalize applies the shared normalization responsibilities: symbol
// canonicalization only — field renaming and numeric parsing are
// source-specific and done by the caller before invoking this.
func normalize(tick types.MarketTick) types.MarketTick {
	tick.Symbol = types.CanonicalizeSymbol(tick.Symbol)
	return tick
}

// validateTick rejects a tick missing any required field, per spec §4.C
// ("output must populate every required field or be rejected"). Whether
// close is a *sane* price (positive, in range) is the pipeline's quality
// gate, not the adapter's concern — this only checks presence.
func validateTick(tick types.MarketTick) bool {
	return tick.Symbol != "" && !tick.TS.IsZero()
}
