// Package risk implements the Risk Engine (spec §4.G): the synchronous
// multi-rule risk_check decision plus the asynchronous monitors that watch
// positions and portfolio-level metrics.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	busp "github.com/yohan-kwon/kquant-core/internal/bus"
	"github.com/yohan-kwon/kquant-core/internal/types"
)

// Outcome is the tagged result of a risk rule (or the whole check),
// replacing exceptions-as-control-flow with an explicit enum (spec §9).
type Outcome int

const (
	Approve Outcome = iota
	Adjust
	Reject
)

func (o Outcome) String() string {
	switch o {
	case Approve:
		return "APPROVE"
	case Adjust:
		return "ADJUST"
	case Reject:
		return "REJECT"
	default:
		return "UNKNOWN"
	}
}

// Decision is the Risk Engine's answer to a risk_check request.
type Decision struct {
	Outcome          Outcome
	AdjustedQuantity int64
	Reasons          []string
}

// Config holds every rule threshold, all configuration per spec §6.
type Config struct {
	MaxPositionRatio     decimal.Decimal
	MaxSectorRatio       decimal.Decimal
	MaxDailyLoss         decimal.Decimal
	MaxMonthlyLoss       decimal.Decimal
	MinCashReserveRatio  decimal.Decimal
	MaxOrdersPerDay      int
	MaxConsecLosses      int
	MaxTotalExposure     decimal.Decimal
	MinOrderValue        decimal.Decimal
	MaxOrderValue        decimal.Decimal
	CheckTimeout         time.Duration // matches bus §4.A's risk_check RPC default
}

// DefaultConfig matches the spec's stated conservative defaults.
func DefaultConfig() Config {
	return Config{
		MaxPositionRatio:    decimal.RequireFromString("0.10"),
		MaxSectorRatio:      decimal.RequireFromString("0.30"),
		MaxDailyLoss:        decimal.NewFromInt(500_000),
		MaxMonthlyLoss:      decimal.NewFromInt(5_000_000),
		MinCashReserveRatio: decimal.RequireFromString("0.05"),
		MaxOrdersPerDay:     100,
		MaxConsecLosses:     5,
		MaxTotalExposure:    decimal.RequireFromString("1.00"),
		MinOrderValue:       decimal.NewFromInt(10_000),
		MaxOrderValue:       decimal.NewFromInt(50_000_000),
		CheckTimeout:        500 * time.Millisecond,
	}
}

// Request is the risk_check RPC payload: the intended order plus the
// point-in-time context the Order Engine — which owns positions and P&L
// — derived it from. Risk never reaches back into order state directly
// (spec §9's fix for the cyclic OrderEngine/RiskEngine ownership).
type Request struct {
	Order types.Order
	// ReferencePrice is used for notional math when Order.Price is zero
	// (MARKET orders carry no limit price): the Order Engine supplies the
	// latest known market price at risk_check time.
	ReferencePrice decimal.Decimal
	Sector         string
	Context        types.RiskContext
}

// price returns the order's limit price, falling back to ReferencePrice
// for MARKET orders.
func (r Request) price() decimal.Decimal {
	if !r.Order.Price.IsZero() {
		return r.Order.Price
	}
	return r.ReferencePrice
}

// Engine evaluates risk_check requests against the configured rule chain
// and runs the emergency-stop latch. It holds no position state of its
// own — that's supplied fresh on every Request.
type Engine struct {
	cfg Config

	mu          sync.RWMutex
	emergency   bool
	emergencyAt time.Time
	emergencyReason string

	logger zerolog.Logger
}

// NewEngine builds a risk Engine.
func NewEngine(cfg Config, logger zerolog.Logger) *Engine {
	return &Engine{cfg: cfg, logger: logger.With().Str("component", "risk").Logger()}
}

// ArmEmergencyStop latches the emergency-stop flag. While armed, rule 10
// rejects every new order regardless of the other nine rules' outcome.
func (e *Engine) ArmEmergencyStop(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emergency = true
	e.emergencyAt = time.Now().UTC()
	e.emergencyReason = reason
}

// DisarmEmergencyStop clears the latch. Spec requires an authenticated
// reset token distinct from normal config; the token check itself is an
// external-collaborator concern (who is authorized), so the Engine only
// requires the caller supply a non-empty token matching the expectedToken
// argument — wiring the actual operator identity check is out of scope.
func (e *Engine) DisarmEmergencyStop(token, expectedToken string) error {
	if token == "" || token != expectedToken {
		return fmt.Errorf("risk: invalid emergency-stop reset token")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emergency = false
	e.emergencyReason = ""
	return nil
}

// EmergencyStopActive reports the current latch state.
func (e *Engine) EmergencyStopActive() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.emergency
}

// Check runs the ten rules in order (spec §4.G.1) and returns the first
// non-APPROVE outcome, or APPROVE if every rule passes. While the emergency
// stop is armed, an ADJUST outcome is returned as a REJECT instead. It never panics:
// every rule is a pure function over req: Check has no I/O and completes
// within microseconds, well inside the 50ms p99 budget.
func (e *Engine) Check(ctx context.Context, req Request) Decision {
	if req.Context.PortfolioValue.LessThanOrEqual(decimal.Zero) {
		return Decision{Outcome: Reject, Reasons: []string{"context_unavailable"}}
	}
	select {
	case <-ctx.Done():
		return Decision{Outcome: Reject, Reasons: []string{"context_unavailable"}}
	default:
	}

	notional := req.price().Mul(decimal.NewFromInt(req.Order.Quantity))

	if d, ok := e.checkPositionSize(req, notional); !ok {
		if d.Outcome == Adjust && e.EmergencyStopActive() {
			return Decision{Outcome: Reject, Reasons: []string{"emergency_stop_active"}}
		}
		return d
	}
	if d, ok := e.checkSectorExposure(req, notional); !ok {
		return d
	}
	if d, ok := checkDailyLoss(e.cfg, req.Context); !ok {
		return d
	}
	if d, ok := checkMonthlyLoss(e.cfg, req.Context); !ok {
		return d
	}
	if d, ok := e.checkCashReserve(req, notional); !ok {
		if d.Outcome == Adjust && e.EmergencyStopActive() {
			return Decision{Outcome: Reject, Reasons: []string{"emergency_stop_active"}}
		}
		return d
	}
	if d, ok := checkTradeFrequency(e.cfg, req.Context); !ok {
		return d
	}
	if d, ok := checkConsecutiveLoss(e.cfg, req.Context); !ok {
		return d
	}
	if d, ok := checkTotalExposure(e.cfg, req.Context, notional); !ok {
		return d
	}
	if d, ok := checkOrderValueBounds(e.cfg, notional); !ok {
		return d
	}
	if e.EmergencyStopActive() {
		return Decision{Outcome: Reject, Reasons: []string{"emergency_stop_active"}}
	}

	return Decision{Outcome: Approve, AdjustedQuantity: req.Order.Quantity}
}

// Rule 1 — PositionSize: projected post-order notional for the symbol,
// divided by portfolio value, must not exceed MaxPositionRatio. BUY grows
// the position; SELL shrinks it and can never violate this rule further,
// so only BUY projections are capped.
func (e *Engine) checkPositionSize(req Request, notional decimal.Decimal) (Decision, bool) {
	if req.Order.Side == types.SideSell {
		return Decision{}, true
	}
	capNotional := e.cfg.MaxPositionRatio.Mul(req.Context.PortfolioValue)
	if notional.LessThanOrEqual(capNotional) {
		return Decision{}, true
	}

	price := req.price()
	if price.LessThanOrEqual(decimal.Zero) {
		return Decision{Outcome: Reject, Reasons: []string{"position_size_limit"}}, false
	}

	adjQty := capNotional.Div(price).Floor().IntPart()
	if adjQty < 1 {
		return Decision{Outcome: Reject, Reasons: []string{"position_size_limit"}}, false
	}
	return Decision{Outcome: Adjust, AdjustedQuantity: adjQty, Reasons: []string{"position_size_limit"}}, false
}

// Rule 2 — SectorExposure: sum of notionals in the order's sector,
// including this order, must not exceed MaxSectorRatio of portfolio value.
func (e *Engine) checkSectorExposure(req Request, notional decimal.Decimal) (Decision, bool) {
	if req.Sector == "" {
		return Decision{}, true
	}
	existing := req.Context.SectorNotional[req.Sector]
	projected := existing
	if req.Order.Side == types.SideBuy {
		projected = existing.Add(notional)
	}
	capNotional := e.cfg.MaxSectorRatio.Mul(req.Context.PortfolioValue)
	if projected.LessThanOrEqual(capNotional) {
		return Decision{}, true
	}
	return Decision{Outcome: Reject, Reasons: []string{"sector_exposure_limit"}}, false
}

// Rule 3 — DailyLoss: realized P&L today must be strictly greater than
// the negative daily loss limit (inclusive at exactly -limit rejects).
func checkDailyLoss(cfg Config, rc types.RiskContext) (Decision, bool) {
	if rc.RealizedPnLToday.GreaterThan(cfg.MaxDailyLoss.Neg()) {
		return Decision{}, true
	}
	return Decision{Outcome: Reject, Reasons: []string{"daily_loss_limit"}}, false
}

// Rule 4 — MonthlyLoss: same shape as DailyLoss, over the month.
func checkMonthlyLoss(cfg Config, rc types.RiskContext) (Decision, bool) {
	if rc.RealizedPnLMonth.GreaterThan(cfg.MaxMonthlyLoss.Neg()) {
		return Decision{}, true
	}
	return Decision{Outcome: Reject, Reasons: []string{"monthly_loss_limit"}}, false
}

// Rule 5 — CashReserve: cash remaining after the order must cover the
// configured reserve ratio of portfolio value. Only constrains BUYs
// (a SELL increases cash).
func (e *Engine) checkCashReserve(req Request, notional decimal.Decimal) (Decision, bool) {
	if req.Order.Side == types.SideSell {
		return Decision{}, true
	}
	reserve := e.cfg.MinCashReserveRatio.Mul(req.Context.PortfolioValue)
	if req.Context.Cash.Sub(notional).GreaterThanOrEqual(reserve) {
		return Decision{}, true
	}

	price := req.price()
	if price.LessThanOrEqual(decimal.Zero) {
		return Decision{Outcome: Reject, Reasons: []string{"cash_reserve_limit"}}, false
	}
	affordable := req.Context.Cash.Sub(reserve).Div(price).Floor().IntPart()
	if affordable < 1 {
		return Decision{Outcome: Reject, Reasons: []string{"cash_reserve_limit"}}, false
	}
	return Decision{Outcome: Adjust, AdjustedQuantity: affordable, Reasons: []string{"cash_reserve_limit"}}, false
}

// Rule 6 — TradeFrequency: orders placed today must stay under the cap.
func checkTradeFrequency(cfg Config, rc types.RiskContext) (Decision, bool) {
	if rc.OrdersToday < cfg.MaxOrdersPerDay {
		return Decision{}, true
	}
	return Decision{Outcome: Reject, Reasons: []string{"trade_frequency_limit"}}, false
}

// Rule 7 — ConsecutiveLoss: a losing streak halts new entries.
func checkConsecutiveLoss(cfg Config, rc types.RiskContext) (Decision, bool) {
	if rc.ConsecutiveLosses < cfg.MaxConsecLosses {
		return Decision{}, true
	}
	return Decision{Outcome: Reject, Reasons: []string{"consecutive_loss_limit"}}, false
}

// Rule 8 — TotalExposure: portfolio-wide notional (existing + this order)
// divided by portfolio value must not exceed MaxTotalExposure.
func checkTotalExposure(cfg Config, rc types.RiskContext, notional decimal.Decimal) (Decision, bool) {
	projected := rc.TotalNotional.Add(notional)
	capNotional := cfg.MaxTotalExposure.Mul(rc.PortfolioValue)
	if projected.LessThanOrEqual(capNotional) {
		return Decision{}, true
	}
	return Decision{Outcome: Reject, Reasons: []string{"total_exposure_limit"}}, false
}

// Rule 9 — OrderValueBounds: notional must fall within the configured
// absolute min/max per-order value.
func checkOrderValueBounds(cfg Config, notional decimal.Decimal) (Decision, bool) {
	if notional.GreaterThanOrEqual(cfg.MinOrderValue) && notional.LessThanOrEqual(cfg.MaxOrderValue) {
		return Decision{}, true
	}
	return Decision{Outcome: Reject, Reasons: []string{"order_value_bounds"}}, false
}

// Start subscribes the Engine to the risk_check request topic and answers
// every request via the bus's RequestResponse/Reply RPC pattern (spec
// §4.A). Callers not going through the bus can call Check directly (used
// by the Order Engine's synchronous intake path and by tests).
func (e *Engine) Start(ctx context.Context, bus busp.Bus) busp.Subscription {
	return bus.Subscribe(TopicRiskCheckRequest, 0, func(ctx context.Context, env busp.Envelope) {
		req, ok := env.Payload.(Request)
		if !ok {
			return
		}
		decision := e.Check(ctx, req)
		if err := bus.Reply(ctx, env.CorrelationID, decision); err != nil {
			e.logger.Error().Err(err).Str("correlation_id", env.CorrelationID).Msg("risk_check reply failed")
		}
	})
}

// TopicRiskCheckRequest is the request-side topic for the risk_check RPC.
// Replies arrive correlated by CorrelationID per bus.RequestResponse.
const TopicRiskCheckRequest = "risk_check"
