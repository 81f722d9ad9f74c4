package types

import "errors"

// Sentinel errors for the trading system.
var (
	// Risk Engine errors
	ErrEmergencyStopActive  = errors.New("emergency stop active: risk engine rejecting all signals")
	ErrExposureLimitExceeded = errors.New("exposure limit exceeded")
	ErrInsufficientCash     = errors.New("insufficient cash reserve")
	ErrDailyLossLimit       = errors.New("daily loss limit exceeded")
	ErrMonthlyLossLimit     = errors.New("monthly loss limit exceeded")
	ErrTradeFrequencyLimit  = errors.New("trade frequency limit exceeded")
	ErrConsecutiveLossLimit = errors.New("consecutive loss limit exceeded")

	// Order Engine errors
	ErrDuplicateOrder   = errors.New("duplicate in-flight order for symbol/side/strategy")
	ErrOrderExpired     = errors.New("order expired in priority queue")
	ErrOrderRejected    = errors.New("order rejected by broker")
	ErrInvalidOrderSize = errors.New("invalid order size")
	ErrQueueSaturated   = errors.New("order queue at concurrency cap")

	// Pipeline/data errors
	ErrInvalidPrice    = errors.New("invalid price value")
	ErrInvalidOHLC     = errors.New("OHLC consistency violated")
	ErrStaleData       = errors.New("market data is stale")
	ErrDuplicateTick   = errors.New("duplicate market tick")
	ErrOutlierTick     = errors.New("market tick rejected as outlier")
	ErrMissingField    = errors.New("required market data field missing")
	ErrDataUnavailable = errors.New("market data unavailable")

	// Event Bus errors
	ErrBusClosed      = errors.New("event bus closed")
	ErrRPCTimeout     = errors.New("request/response timed out")
	ErrSubscriberSlow = errors.New("subscriber buffer full, message dropped")

	// Cache errors
	ErrCacheKeyNotFound = errors.New("cache key not found")
	ErrWrongKeyspace    = errors.New("write attempted outside owning component's keyspace")

	// Connection errors
	ErrConnectionLost    = errors.New("connection lost")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// State errors
	ErrPositionMismatch = errors.New("position mismatch with broker")
	ErrStateNotFound    = errors.New("state not found")

	// Validation errors
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrInvalidSymbol    = errors.New("invalid symbol")
	ErrInvalidTimeframe = errors.New("invalid timeframe")
	ErrInvalidParameter = errors.New("invalid strategy parameter")
)
