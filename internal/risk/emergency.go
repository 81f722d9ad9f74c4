package risk

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	busp "github.com/yohan-kwon/kquant-core/internal/bus"
	"github.com/yohan-kwon/kquant-core/internal/types"
)

// EmergencyStopConfig holds the thresholds spec §4.G.2's arming conditions
// check against.
type EmergencyStopConfig struct {
	MaxDailyLoss        decimal.Decimal
	MaxConsecutiveLoss  int
	UpstreamDownAfter   time.Duration // no heartbeat for this long arms the stop
	StaleValuationAfter time.Duration // no position_updated for this long arms the stop
	MaxErrorRate        float64       // order_failed / (order_failed+order_fully_executed) over the window
	ErrorRateWindow      time.Duration
	PollInterval        time.Duration
	ResetToken          string // authenticated token required to disarm
}

// DefaultEmergencyStopConfig mirrors the spec's named conditions with
// conservative values; operators override from config.
func DefaultEmergencyStopConfig() EmergencyStopConfig {
	return EmergencyStopConfig{
		MaxDailyLoss:        decimal.RequireFromString("500000"),
		MaxConsecutiveLoss:  5,
		UpstreamDownAfter:   60 * time.Second,
		StaleValuationAfter: 120 * time.Second,
		MaxErrorRate:        0.5,
		ErrorRateWindow:     5 * time.Minute,
		PollInterval:        5 * time.Second,
		ResetToken:          "",
	}
}

// EmergencyStopMonitor watches the conditions that should halt all new
// order submission and arms/disarms the Risk Engine's latch accordingly.
// It is the sole writer of that latch besides a manual operator trigger.
type EmergencyStopMonitor struct {
	cfg    EmergencyStopConfig
	engine *Engine
	bus    busp.Bus
	logger zerolog.Logger

	mu             sync.Mutex
	lastHeartbeat  time.Time
	lastPosUpdate  time.Time
	ctxSnapshot    types.RiskContext
	failedCount    int
	succeededCount int
	windowStart    time.Time
}

// NewEmergencyStopMonitor builds a monitor bound to engine's latch.
func NewEmergencyStopMonitor(cfg EmergencyStopConfig, engine *Engine, b busp.Bus, logger zerolog.Logger) *EmergencyStopMonitor {
	now := time.Now().UTC()
	return &EmergencyStopMonitor{
		cfg:           cfg,
		engine:        engine,
		bus:           b,
		logger:        logger.With().Str("component", "risk.emergency_stop").Logger(),
		lastHeartbeat: now,
		lastPosUpdate: now,
		windowStart:   now,
	}
}

// Start subscribes to heartbeat, position_updated, order_fully_executed and
// order_failed, and launches the periodic condition sweep. The returned
// subscriptions and the sweep goroutine both stop when ctx is cancelled.
func (m *EmergencyStopMonitor) Start(ctx context.Context) []busp.Subscription {
	subs := []busp.Subscription{
		m.bus.Subscribe(busp.TopicHeartbeat, 0, func(ctx context.Context, env busp.Envelope) {
			m.mu.Lock()
			m.lastHeartbeat = time.Now().UTC()
			m.mu.Unlock()
		}),
		m.bus.Subscribe(busp.TopicPositionUpdated, 0, func(ctx context.Context, env busp.Envelope) {
			m.mu.Lock()
			m.lastPosUpdate = time.Now().UTC()
			m.mu.Unlock()
		}),
		m.bus.Subscribe(busp.TopicOrderFullyExecuted, 0, func(ctx context.Context, env busp.Envelope) {
			m.recordOutcome(true)
		}),
		m.bus.Subscribe(busp.TopicOrderFailed, 0, func(ctx context.Context, env busp.Envelope) {
			m.recordOutcome(false)
		}),
	}

	go m.sweepLoop(ctx)
	return subs
}

func (m *EmergencyStopMonitor) recordOutcome(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if now.Sub(m.windowStart) > m.cfg.ErrorRateWindow {
		m.windowStart = now
		m.failedCount = 0
		m.succeededCount = 0
	}
	if success {
		m.succeededCount++
	} else {
		m.failedCount++
	}
}

// UpdateContext lets the caller (typically the composition root's order
// accounting loop) hand the monitor the latest portfolio snapshot used for
// the daily-loss and consecutive-loss conditions.
func (m *EmergencyStopMonitor) UpdateContext(rc types.RiskContext) {
	m.mu.Lock()
	m.ctxSnapshot = rc
	m.mu.Unlock()
}

func (m *EmergencyStopMonitor) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *EmergencyStopMonitor) sweep(ctx context.Context) {
	m.mu.Lock()
	rc := m.ctxSnapshot
	sinceHeartbeat := time.Since(m.lastHeartbeat)
	sinceValuation := time.Since(m.lastPosUpdate)
	total := m.failedCount + m.succeededCount
	var errorRate float64
	if total > 0 {
		errorRate = float64(m.failedCount) / float64(total)
	}
	m.mu.Unlock()

	if m.engine.EmergencyStopActive() {
		return
	}

	var reason string
	switch {
	case rc.RealizedPnLToday.IsNegative() && rc.RealizedPnLToday.Abs().GreaterThanOrEqual(m.cfg.MaxDailyLoss):
		reason = "daily_loss_limit_exceeded"
	case rc.ConsecutiveLosses >= m.cfg.MaxConsecutiveLoss:
		reason = "consecutive_loss_limit_exceeded"
	case sinceHeartbeat > m.cfg.UpstreamDownAfter:
		reason = "upstream_api_down"
	case sinceValuation > m.cfg.StaleValuationAfter:
		reason = "position_valuation_stale"
	case total >= 5 && errorRate >= m.cfg.MaxErrorRate:
		reason = "error_rate_too_high"
	}

	if reason == "" {
		return
	}

	m.Trigger(ctx, reason)
}

// Trigger arms the latch for reason (also usable for a manual operator
// trigger) and publishes emergency_stop.
func (m *EmergencyStopMonitor) Trigger(ctx context.Context, reason string) {
	m.engine.ArmEmergencyStop(reason)
	m.logger.Warn().Str("reason", reason).Msg("emergency stop armed")

	env := busp.NewEnvelope(busp.TopicEmergencyStop, "risk.emergency_stop", map[string]interface{}{
		"armed":  true,
		"reason": reason,
		"ts":     time.Now().UTC(),
	})
	if err := m.bus.Publish(ctx, env); err != nil {
		m.logger.Error().Err(err).Msg("failed to publish emergency_stop")
	}
}

// Disarm clears the latch given the configured reset token, and publishes
// emergency_stop with armed=false on success.
func (m *EmergencyStopMonitor) Disarm(ctx context.Context, token string) error {
	if err := m.engine.DisarmEmergencyStop(token, m.cfg.ResetToken); err != nil {
		return err
	}
	m.logger.Warn().Msg("emergency stop disarmed")

	env := busp.NewEnvelope(busp.TopicEmergencyStop, "risk.emergency_stop", map[string]interface{}{
		"armed": false,
		"ts":    time.Now().UTC(),
	})
	return m.bus.Publish(ctx, env)
}
