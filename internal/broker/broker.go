// Package broker defines the Order Engine's broker collaborator
// interface (spec §4.H.3). Concrete bindings (paper, live) implement it;
// authentication and endpoint wiring for a live broker are out of scope
// for the core and live entirely inside that binding.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yohan-kwon/kquant-core/internal/types"
)

// Sentinel errors the core inspects to decide retry behavior.
var (
	ErrNotConnected  = errors.New("broker: not connected")
	ErrOrderRejected = errors.New("broker: order rejected")
)

// RetriableError wraps an error the broker client has classified as
// transient (HTTP 429/5xx or a network timeout); the Order Engine's
// retry loop only backs off and retries on this, never on a plain error.
type RetriableError struct {
	Err error
}

func (e *RetriableError) Error() string { return "broker: retriable: " + e.Err.Error() }
func (e *RetriableError) Unwrap() error { return e.Err }

// NewRetriable wraps err as retriable.
func NewRetriable(err error) error { return &RetriableError{Err: err} }

// IsRetriable reports whether err (or anything it wraps) was classified
// retriable by the broker client.
func IsRetriable(err error) bool {
	var re *RetriableError
	return errors.As(err, &re)
}

// PlacementResult is returned by Place on success.
type PlacementResult struct {
	BrokerOrderID string
}

// FillNotification is one broker-reported fill, pushed asynchronously.
type FillNotification struct {
	BrokerOrderID string
	Fill          types.Fill
}

// StatusChange is an asynchronous broker-side order status push (e.g. a
// cancel acknowledged, or a reject discovered after initial acceptance).
type StatusChange struct {
	BrokerOrderID string
	State         types.OrderState
	Reason        string
	TS            time.Time
}

// Broker is the Order Engine's sole view of the external broker. All
// methods must be safe for concurrent use.
type Broker interface {
	// Place submits order and returns the broker's assigned id, or an
	// error (wrapped with NewRetriable when the failure is transient).
	Place(ctx context.Context, order types.Order) (PlacementResult, error)

	// Cancel requests cancellation of a previously placed order.
	Cancel(ctx context.Context, brokerOrderID string) error

	// Fills returns the channel of asynchronous fill pushes. Called once
	// at startup; the channel lives for the broker client's lifetime.
	Fills() <-chan FillNotification

	// StatusChanges returns the channel of asynchronous status pushes.
	StatusChanges() <-chan StatusChange

	// AccountCash reports the broker's view of available cash, used by
	// the Risk Engine's cash-reserve rule as a cross-check against the
	// core's own accounting.
	AccountCash(ctx context.Context) (decimal.Decimal, error)

	// Close releases the broker client's resources.
	Close() error
}

// RetryConfig bounds the Order Engine's submission retry loop (spec
// §4.H.3: "retried with exponential backoff, bounded to 3 attempts").
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
}

// DefaultRetryConfig matches the spec's stated bound.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialDelay: 200 * time.Millisecond, Multiplier: 2.0}
}

// Delay returns the backoff delay before attempt (0-indexed).
func (c RetryConfig) Delay(attempt int) time.Duration {
	d := c.InitialDelay
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * c.Multiplier)
	}
	return d
}

// PlaceWithRetry calls b.Place, retrying on a RetriableError up to
// cfg.MaxAttempts times with exponential backoff. A non-retriable error
// returns immediately.
func PlaceWithRetry(ctx context.Context, b Broker, order types.Order, cfg RetryConfig) (PlacementResult, error) {
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return PlacementResult{}, ctx.Err()
			case <-time.After(cfg.Delay(attempt - 1)):
			}
		}

		res, err := b.Place(ctx, order)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !IsRetriable(err) {
			return PlacementResult{}, err
		}
	}
	return PlacementResult{}, lastErr
}
