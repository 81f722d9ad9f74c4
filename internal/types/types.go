// Package types defines shared entities used across the trading system.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of an order or fill.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// SignalAction is the action a strategy asks the order engine to take.
// ActionHoldExit is the forced-close signal emitted at session end.
type SignalAction int

const (
	ActionBuy SignalAction = iota
	ActionSell
	ActionHoldExit
)

func (a SignalAction) String() string {
	switch a {
	case ActionBuy:
		return "BUY"
	case ActionSell:
		return "SELL"
	case ActionHoldExit:
		return "HOLD_EXIT"
	default:
		return "UNKNOWN"
	}
}

// Side maps a signal action to the order side it implies.
func (a SignalAction) Side() Side {
	if a == ActionBuy {
		return SideBuy
	}
	return SideSell
}

// OrderType is the order execution style.
type OrderType int

const (
	OrderTypeMarket OrderType = iota
	OrderTypeLimit
)

func (t OrderType) String() string {
	if t == OrderTypeMarket {
		return "MARKET"
	}
	return "LIMIT"
}

// TimeInForce controls how long an order remains workable.
type TimeInForce int

const (
	TIFDay TimeInForce = iota
	TIFIOC
	TIFFOK
)

func (t TimeInForce) String() string {
	switch t {
	case TIFDay:
		return "DAY"
	case TIFIOC:
		return "IOC"
	case TIFFOK:
		return "FOK"
	default:
		return "DAY"
	}
}

// OrderState is the lifecycle state of an Order.
// NEW -> QUEUED -> SUBMITTED -> (PARTIAL|FILLED|CANCELLED|REJECTED|FAILED).
type OrderState int

const (
	OrderNew OrderState = iota
	OrderQueued
	OrderSubmitted
	OrderPartial
	OrderFilled
	OrderCancelled
	OrderRejected
	OrderFailed
)

func (s OrderState) String() string {
	switch s {
	case OrderNew:
		return "NEW"
	case OrderQueued:
		return "QUEUED"
	case OrderSubmitted:
		return "SUBMITTED"
	case OrderPartial:
		return "PARTIAL"
	case OrderFilled:
		return "FILLED"
	case OrderCancelled:
		return "CANCELLED"
	case OrderRejected:
		return "REJECTED"
	case OrderFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether the state accepts no further transitions.
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected, OrderFailed:
		return true
	default:
		return false
	}
}

// MarketTick is a single adapter-emitted snapshot of market state.
// Immutable once created; consumed by the pipeline and not persisted.
type MarketTick struct {
	Symbol string
	TS     time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume int64
	Source string
}

// Candle is an aggregated OHLCV bar over one interval bucket.
type Candle struct {
	Symbol   string
	Interval string
	TS       time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   int64
}

// Valid reports whether the candle satisfies the OHLC consistency invariant:
// low <= min(open,close), high >= max(open,close).
func (c Candle) Valid() bool {
	if c.Volume < 0 {
		return false
	}
	lo, hi := c.Open, c.Open
	if c.Close.LessThan(lo) {
		lo = c.Close
	}
	if c.Close.GreaterThan(hi) {
		hi = c.Close
	}
	return c.Low.LessThanOrEqual(lo) && c.High.GreaterThanOrEqual(hi)
}

// IndicatorSnapshot is the full indicator set computed for one candle close.
// A name absent from Values means "not yet available" (insufficient
// samples), never zero.
type IndicatorSnapshot struct {
	Symbol   string
	Interval string
	TS       time.Time
	Values   map[string]decimal.Decimal
}

// Get returns an indicator value and whether it is present.
func (s IndicatorSnapshot) Get(name string) (decimal.Decimal, bool) {
	v, ok := s.Values[name]
	return v, ok
}

// HasAll reports whether every named indicator is present in the snapshot.
func (s IndicatorSnapshot) HasAll(names []string) bool {
	for _, n := range names {
		if _, ok := s.Values[n]; !ok {
			return false
		}
	}
	return true
}

// TradingSignal is a strategy's decision output; input to risk and order.
type TradingSignal struct {
	ID             string
	StrategyName   string
	Symbol         string
	Action         SignalAction
	Confidence     decimal.Decimal // 0..1
	SuggestedPrice decimal.Decimal
	Reason         string
	TS             time.Time
	CorrelationID  string
	Metadata       map[string]string
}

// Order is the canonical, Order-Engine-owned record of an intended trade.
type Order struct {
	ID             string
	ClientOrderID  string
	BrokerOrderID  string
	Symbol         string
	Side           Side
	Type           OrderType
	Quantity       int64
	Price          decimal.Decimal // limit price; zero for MARKET
	TIF            TimeInForce
	State          OrderState
	FilledQty      int64
	AvgFillPrice   decimal.Decimal
	CommissionPaid decimal.Decimal
	CreatedTS      time.Time
	UpdatedTS      time.Time
	StrategyName   string
	SignalID       string
	PriorityKey    int
	LastFillTS     time.Time
	FillCount      int
	RejectReason   string
}

// Remaining returns the unfilled quantity.
func (o Order) Remaining() int64 {
	return o.Quantity - o.FilledQty
}

// Fill is one immutable execution against an Order.
type Fill struct {
	FillID     string
	OrderID    string
	Symbol     string
	Side       Side
	Qty        int64
	Price      decimal.Decimal
	Commission decimal.Decimal
	TS         time.Time
}

// Position is the Order-Engine-owned per-symbol holding record.
// Qty == 0 is retained for history and may be garbage-collected after a
// grace window.
type Position struct {
	Symbol        string
	Qty           int64
	AvgCost       decimal.Decimal
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	LastMarkPrice decimal.Decimal
	LastUpdated   time.Time
}

// RiskContext is the point-in-time snapshot the Risk Engine evaluates a
// signal against. Derived from positions, today's/month's realized P&L,
// open order notional, and configured limits.
type RiskContext struct {
	PortfolioValue      decimal.Decimal
	Cash                decimal.Decimal
	RealizedPnLToday    decimal.Decimal
	RealizedPnLMonth    decimal.Decimal
	OpenOrderNotional   decimal.Decimal
	TotalNotional       decimal.Decimal
	SectorNotional      map[string]decimal.Decimal
	OrdersToday         int
	ConsecutiveLosses   int
	Positions           map[string]Position
	EmergencyStopActive bool
}

// InstrumentSpec carries Korean-market trading conventions for a symbol.
type InstrumentSpec struct {
	Symbol  string
	Sector  string
	LotSize int64 // KRX equities trade in whole shares; lot size is 1
}

// DefaultInstrumentSpec returns a spec for a symbol not otherwise registered,
// assuming the common case: whole-share lots, unknown sector.
func DefaultInstrumentSpec(symbol string) InstrumentSpec {
	return InstrumentSpec{Symbol: symbol, Sector: "UNKNOWN", LotSize: 1}
}

// TickSize returns the KRX price-banded minimum tick for a given price,
// per the Korea Exchange's tiered tick-size table for equities (in KRW).
func TickSize(price decimal.Decimal) decimal.Decimal {
	switch {
	case price.LessThan(decimal.NewFromInt(2000)):
		return decimal.NewFromInt(1)
	case price.LessThan(decimal.NewFromInt(5000)):
		return decimal.NewFromInt(5)
	case price.LessThan(decimal.NewFromInt(20000)):
		return decimal.NewFromInt(10)
	case price.LessThan(decimal.NewFromInt(50000)):
		return decimal.NewFromInt(50)
	case price.LessThan(decimal.NewFromInt(200000)):
		return decimal.NewFromInt(100)
	case price.LessThan(decimal.NewFromInt(500000)):
		return decimal.NewFromInt(500)
	default:
		return decimal.NewFromInt(1000)
	}
}

// CanonicalizeSymbol strips exchange suffixes (e.g. ".KS", ".KQ") that
// aggregator sources attach, returning the bare 6-digit KRX code.
func CanonicalizeSymbol(raw string) string {
	for _, suffix := range []string{".KS", ".KQ", ".KRX"} {
		if len(raw) > len(suffix) && raw[len(raw)-len(suffix):] == suffix {
			return raw[:len(raw)-len(suffix)]
		}
	}
	return raw
}
