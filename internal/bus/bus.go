// Package bus implements the process-wide (and optionally cross-process)
// typed publish/subscribe event bus that every other component routes
// through.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Topic names are the contract; components agree on them by string value
// rather than by importing one another.
const (
	TopicMarketDataReceived     = "market_data_received"
	TopicCandleClosed           = "candle_closed"
	TopicIndicatorsUpdated      = "indicators_updated"
	TopicTradingSignal          = "trading_signal"
	TopicOrderPlaced            = "order_placed"
	TopicOrderPartiallyExecuted = "order_partially_executed"
	TopicOrderFullyExecuted     = "order_fully_executed"
	TopicOrderFailed            = "order_failed"
	TopicOrderCancelled         = "order_cancelled"
	TopicPositionUpdated        = "position_updated"
	TopicRiskAlert              = "risk_alert"
	TopicEmergencyStop          = "emergency_stop"
	TopicHeartbeat              = "heartbeat"
	TopicSystemStatus           = "system_status"
	TopicStrategyActivated      = "strategy_activated"
	TopicStrategyDeactivated    = "strategy_deactivated"

	// EnvelopeVersion is carried on the wire when a broker-backed transport
	// is in use, so consumers on either side of an upgrade can tell self-
	// describing envelopes apart.
	EnvelopeVersion = 1
)

// Envelope is the typed unit of delivery on every topic.
type Envelope struct {
	Topic         string      `json:"topic"`
	Version       int         `json:"version"`
	SourceID      string      `json:"source_id"`
	TS            time.Time   `json:"ts"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	Payload       interface{} `json:"payload"`
}

// NewEnvelope builds an envelope with a fresh correlation id if one isn't
// supplied, and the version/TS stamped for the caller.
func NewEnvelope(topic, sourceID string, payload interface{}) Envelope {
	return Envelope{
		Topic:         topic,
		Version:       EnvelopeVersion,
		SourceID:      sourceID,
		TS:            time.Now().UTC(),
		CorrelationID: uuid.NewString(),
		Payload:       payload,
	}
}

// Handler processes one delivered envelope. It must not block
// indefinitely; long work should be dispatched to the handler's own
// goroutine pool.
type Handler func(ctx context.Context, env Envelope)

// Subscription is returned by Subscribe so a caller can later unsubscribe.
type Subscription interface {
	Unsubscribe()
}

// Bus is the interface every other component depends on. Core logic must
// be agnostic of whether an implementation is in-process only or bridged
// to an external broker.
type Bus interface {
	// Publish delivers env to all current subscribers of env.Topic.
	// Publish never blocks on a slow subscriber: delivery to each
	// subscription happens through its own bounded buffer.
	Publish(ctx context.Context, env Envelope) error

	// Subscribe registers handler for topic with a buffer of bufSize
	// (0 uses the bus default). Handlers run on a worker pool distinct
	// from the publisher goroutine.
	Subscribe(topic string, bufSize int, handler Handler) Subscription

	// RequestResponse publishes req on topic and awaits exactly one reply
	// correlated by req.CorrelationID, deadlined by timeout. It implements
	// the risk_check RPC pattern generically.
	RequestResponse(ctx context.Context, topic string, payload interface{}, timeout time.Duration) (Envelope, error)

	// Reply completes a pending RequestResponse by correlation id. Replier
	// components call this instead of Publish when responding to a
	// RequestResponse call.
	Reply(ctx context.Context, correlationID string, payload interface{}) error

	// Start brings up the worker pool and the heartbeat self-publish loop.
	Start(ctx context.Context) error

	// Stop drains pending deliveries up to grace, then aborts.
	Stop(grace time.Duration) error

	// Stats returns a snapshot of per-topic counters for metrics export.
	Stats() map[string]TopicStats
}

// TopicStats mirrors spec §4.A's required per-topic counters.
type TopicStats struct {
	Published       uint64
	Delivered       uint64
	Dropped         uint64
	HandlerFailures uint64
}
