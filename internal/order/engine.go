// Package order implements the Order Engine (spec §4.H): signal intake,
// priority-queued broker submission, execution tracking, and position/P&L
// accounting. It is the sole writer of the `positions` and queue-state
// cache keyspaces and the sole publisher of every order_* and
// position_updated bus topic.
package order

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	busp "github.com/yohan-kwon/kquant-core/internal/bus"
	"github.com/yohan-kwon/kquant-core/internal/cache"
	brokerp "github.com/yohan-kwon/kquant-core/internal/broker"
	commissionpkg "github.com/yohan-kwon/kquant-core/internal/commission"
	riskp "github.com/yohan-kwon/kquant-core/internal/risk"
	"github.com/yohan-kwon/kquant-core/internal/types"
)

// TopicPartialFillStalled fires once per order the first time its
// partial-fill watchdog crosses max_partial_fill_time (spec §4.H.4).
const TopicPartialFillStalled = "partial_fill_stalled"

// StopLossSource is the StrategyName the stop-loss/take-profit monitor
// tags its liquidating signals with. It is the one source exempt from the
// duplicate-in-flight dedup rule (spec's Open Question #2): a forced exit
// must never be blocked by a parallel queued entry on the same symbol.
const StopLossSource = "risk.stop_loss"

// Config holds the Order Engine's tunables (spec §4.H/§6).
type Config struct {
	MaxConcurrentSubmissions int
	PriorityTimeout          time.Duration
	MaxPartialFillTime       time.Duration
	MaxFillsPerOrder         int
	DefaultQuantity          int64
	StrategyPriorityOverride map[string]int
	RiskCheckTimeout         time.Duration
	Rates                    commissionpkg.Rates
	StartingCash             decimal.Decimal
	Sectors                  map[string]string // symbol -> sector
	ExpirySweepInterval      time.Duration
	WatchdogInterval         time.Duration
	Retry                    brokerp.RetryConfig
}

// DefaultConfig matches the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentSubmissions: 10,
		PriorityTimeout:          300 * time.Second,
		MaxPartialFillTime:       300 * time.Second,
		MaxFillsPerOrder:         100,
		DefaultQuantity:          1,
		RiskCheckTimeout:         500 * time.Millisecond,
		Rates:                    commissionpkg.DefaultRates(),
		StartingCash:             decimal.Zero,
		ExpirySweepInterval:      time.Second,
		WatchdogInterval:         time.Second,
		Retry:                    brokerp.DefaultRetryConfig(),
	}
}

// Engine is the Order Engine: it turns trading_signal events into broker
// orders, tracks their execution to a terminal state, and owns the
// position/P&L book the Risk Engine's context is derived from.
type Engine struct {
	cfg    Config
	bus    busp.Bus
	cache  cache.Cache
	broker brokerp.Broker
	risk   *riskp.Engine
	logger zerolog.Logger

	idNode  *snowflake.Node
	queue   *Queue
	tracker *Tracker
	book    *Book

	mu          sync.Mutex
	orders      map[string]*types.Order
	inFlight    map[string]string // dedup key -> order id
	brokerIndex map[string]string // broker order id -> order id
	cash        decimal.Decimal
	realizedToday decimal.Decimal
	realizedMonth decimal.Decimal
	ordersToday int
	consecutiveLosses int

	subs []busp.Subscription

	// QuantityFn overrides the default fixed-lot sizing for a signal; nil
	// falls back to cfg.DefaultQuantity (or a metadata["quantity"] override
	// on the signal itself, checked first regardless).
	QuantityFn func(types.TradingSignal) int64

	// OnFill is called after every fill is booked, so the caller can feed
	// the strategy engine's performance tracker. May be nil.
	OnFill func(strategyName string, fill types.Fill)
}

// NewEngine builds an Order Engine. risk is called directly on the
// synchronous intake path (the Risk Engine documents this as its intended
// non-bus caller; bus RPC remains available for any other consumer).
func NewEngine(cfg Config, b busp.Bus, c cache.Cache, br brokerp.Broker, risk *riskp.Engine, logger zerolog.Logger) *Engine {
	idNode, err := snowflake.NewNode(1)
	if err != nil {
		// Only fails if node > 1023; 1 is always valid, so this branch is
		// unreachable in practice — but idNode must never be nil.
		idNode = &snowflake.Node{}
	}
	return &Engine{
		cfg:         cfg,
		bus:         b,
		cache:       c,
		broker:      br,
		risk:        risk,
		logger:      logger.With().Str("component", "order").Logger(),
		idNode:      idNode,
		queue:       NewQueue(),
		tracker:     NewTracker(),
		book:        NewBook(),
		orders:      make(map[string]*types.Order),
		inFlight:    make(map[string]string),
		brokerIndex: make(map[string]string),
		cash:        cfg.StartingCash,
	}
}

// Start subscribes to trading_signal and market_data_received and
// launches the engine's background loops. ctx cancellation stops them.
func (e *Engine) Start(ctx context.Context) {
	e.subs = append(e.subs,
		e.bus.Subscribe(busp.TopicTradingSignal, 0, e.handleSignal),
		e.bus.Subscribe(busp.TopicMarketDataReceived, 0, e.handleMarketData),
	)
	go e.submissionLoop(ctx)
	go e.fillConsumerLoop(ctx)
	go e.statusConsumerLoop(ctx)
	go e.watchdogLoop(ctx)
}

// Stop releases the engine's bus subscriptions. Background loops exit on
// their own once ctx (passed to Start) is cancelled.
func (e *Engine) Stop() {
	for _, s := range e.subs {
		s.Unsubscribe()
	}
	e.subs = nil
}

func dedupKey(symbol string, side types.Side, strategy string) string {
	return symbol + "|" + side.String() + "|" + strategy
}

// --- intake ---

func (e *Engine) handleSignal(ctx context.Context, env busp.Envelope) {
	sig, ok := env.Payload.(types.TradingSignal)
	if !ok {
		return
	}
	o := e.buildOrder(sig)

	if reasons := validate(o); len(reasons) > 0 {
		e.publishFailed(ctx, o, reasons)
		return
	}

	waiveDedup := sig.StrategyName == StopLossSource
	if !waiveDedup && e.isDuplicateInFlight(o) {
		e.publishFailed(ctx, o, []string{"duplicate_in_flight"})
		return
	}

	req := e.buildRiskRequest(ctx, o)
	rctx, cancel := context.WithTimeout(ctx, e.cfg.RiskCheckTimeout)
	decision := e.risk.Check(rctx, req)
	cancel()

	switch decision.Outcome {
	case riskp.Reject:
		e.publishFailed(ctx, o, decision.Reasons)
		return
	case riskp.Adjust:
		o.Quantity = decision.AdjustedQuantity
	}

	o.State = types.OrderQueued
	o.PriorityKey = PriorityKey(o, e.cfg.StrategyPriorityOverride[o.StrategyName])

	e.mu.Lock()
	e.orders[o.ID] = &o
	e.inFlight[dedupKey(o.Symbol, o.Side, o.StrategyName)] = o.ID
	e.ordersToday++
	e.mu.Unlock()

	e.queue.Push(o)
	if err := e.cache.SetQueueState(ctx, o.ID, o); err != nil {
		e.logger.Error().Err(err).Str("order_id", o.ID).Msg("failed to mirror queue state")
	}
}

func (e *Engine) buildOrder(sig types.TradingSignal) types.Order {
	now := time.Now().UTC()
	orderType := types.OrderTypeLimit
	if sig.Action == types.ActionHoldExit || sig.StrategyName == StopLossSource {
		orderType = types.OrderTypeMarket
	}
	id := e.idNode.Generate().String()
	return types.Order{
		ID:            id,
		ClientOrderID: id,
		Symbol:        sig.Symbol,
		Side:          sig.Action.Side(),
		Type:          orderType,
		Quantity:      e.quantityFor(sig),
		Price:         sig.SuggestedPrice,
		TIF:           types.TIFDay,
		State:         types.OrderNew,
		CreatedTS:     now,
		UpdatedTS:     now,
		StrategyName:  sig.StrategyName,
		SignalID:      sig.ID,
	}
}

func (e *Engine) quantityFor(sig types.TradingSignal) int64 {
	if raw, ok := sig.Metadata["quantity"]; ok {
		if q, err := strconv.ParseInt(raw, 10, 64); err == nil && q > 0 {
			return q
		}
	}
	if e.QuantityFn != nil {
		if q := e.QuantityFn(sig); q > 0 {
			return q
		}
	}
	if e.cfg.DefaultQuantity > 0 {
		return e.cfg.DefaultQuantity
	}
	return 1
}

func validate(o types.Order) []string {
	var reasons []string
	if o.Symbol == "" {
		reasons = append(reasons, "unknown_symbol")
	}
	if o.Quantity < 1 {
		reasons = append(reasons, "invalid_quantity")
	}
	if o.Type == types.OrderTypeLimit && o.Price.LessThanOrEqual(decimal.Zero) {
		reasons = append(reasons, "invalid_limit_price")
	}
	return reasons
}

func (e *Engine) isDuplicateInFlight(o types.Order) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.inFlight[dedupKey(o.Symbol, o.Side, o.StrategyName)]
	return ok
}

func (e *Engine) buildRiskRequest(ctx context.Context, o types.Order) riskp.Request {
	var refPrice decimal.Decimal
	if tick, ok, err := e.cache.GetMarketTick(ctx, o.Symbol); err == nil && ok {
		refPrice = tick.Close
	}

	portfolioValue, totalNotional, sectorNotional := e.portfolioSnapshot()

	e.mu.Lock()
	rc := types.RiskContext{
		PortfolioValue:    portfolioValue,
		Cash:              e.cash,
		RealizedPnLToday:  e.realizedToday,
		RealizedPnLMonth:  e.realizedMonth,
		OpenOrderNotional: e.openOrderNotionalLocked(ctx),
		TotalNotional:     totalNotional,
		SectorNotional:    sectorNotional,
		OrdersToday:       e.ordersToday,
		ConsecutiveLosses: e.consecutiveLosses,
		Positions:         e.book.All(),
	}
	e.mu.Unlock()

	return riskp.Request{Order: o, ReferencePrice: refPrice, Sector: e.cfg.Sectors[o.Symbol], Context: rc}
}

// openOrderNotionalLocked must be called with e.mu held.
func (e *Engine) openOrderNotionalLocked(ctx context.Context) decimal.Decimal {
	total := decimal.Zero
	for _, o := range e.orders {
		if o.State.IsTerminal() {
			continue
		}
		price := o.Price
		if price.IsZero() {
			if tick, ok, err := e.cache.GetMarketTick(ctx, o.Symbol); err == nil && ok {
				price = tick.Close
			}
		}
		total = total.Add(price.Mul(decimal.NewFromInt(o.Remaining())))
	}
	return total
}

// portfolioSnapshot computes portfolio value, total notional, and
// per-sector notional from the position book plus current cash.
func (e *Engine) portfolioSnapshot() (portfolioValue, totalNotional decimal.Decimal, sectorNotional map[string]decimal.Decimal) {
	positions := e.book.All()
	totalNotional = decimal.Zero
	sectorNotional = make(map[string]decimal.Decimal)
	for sym, p := range positions {
		notional := p.LastMarkPrice.Mul(decimal.NewFromInt(p.Qty)).Abs()
		totalNotional = totalNotional.Add(notional)
		if sector := e.cfg.Sectors[sym]; sector != "" {
			sectorNotional[sector] = sectorNotional[sector].Add(notional)
		}
	}
	e.mu.Lock()
	cash := e.cash
	e.mu.Unlock()
	portfolioValue = cash.Add(totalNotional)
	return portfolioValue, totalNotional, sectorNotional
}

type orderFailedPayload struct {
	Order   types.Order `json:"order"`
	Reasons []string    `json:"reasons"`
}

func (e *Engine) publishFailed(ctx context.Context, o types.Order, reasons []string) {
	if o.State == types.OrderNew {
		o.State = types.OrderFailed
	}
	env := busp.NewEnvelope(busp.TopicOrderFailed, "order", orderFailedPayload{Order: o, Reasons: reasons})
	if err := e.bus.Publish(ctx, env); err != nil {
		e.logger.Error().Err(err).Str("order_id", o.ID).Msg("failed to publish order_failed")
	}
}

func (e *Engine) finalizeTerminal(ctx context.Context, o types.Order) {
	e.mu.Lock()
	e.orders[o.ID] = &o
	delete(e.inFlight, dedupKey(o.Symbol, o.Side, o.StrategyName))
	e.mu.Unlock()
	e.tracker.Forget(o.ID)
	if err := e.cache.DeleteQueueState(ctx, o.ID); err != nil {
		e.logger.Error().Err(err).Str("order_id", o.ID).Msg("failed to clear queue state")
	}
}

// --- submission ---

func (e *Engine) submissionLoop(ctx context.Context) {
	sem := make(chan struct{}, e.cfg.MaxConcurrentSubmissions)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		o, ok := e.queue.Pop(ctx)
		if !ok {
			return
		}
		if time.Since(o.CreatedTS) > e.cfg.PriorityTimeout {
			e.expire(ctx, o)
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		wg.Add(1)
		go func(o types.Order) {
			defer wg.Done()
			defer func() { <-sem }()
			e.submit(ctx, o)
		}(o)
	}
}

func (e *Engine) expire(ctx context.Context, o types.Order) {
	o.State = types.OrderFailed
	o.RejectReason = "expired"
	o.UpdatedTS = time.Now().UTC()
	e.finalizeTerminal(ctx, o)
	e.publishFailed(ctx, o, []string{"expired"})
}

func (e *Engine) submit(ctx context.Context, o types.Order) {
	res, err := brokerp.PlaceWithRetry(ctx, e.broker, o, e.cfg.Retry)
	if err != nil {
		o.State = types.OrderFailed
		o.RejectReason = err.Error()
		o.UpdatedTS = time.Now().UTC()
		e.finalizeTerminal(ctx, o)
		e.publishFailed(ctx, o, []string{"broker_submission_failed"})
		return
	}

	o.BrokerOrderID = res.BrokerOrderID
	o.State = types.OrderSubmitted
	o.UpdatedTS = time.Now().UTC()

	e.mu.Lock()
	e.orders[o.ID] = &o
	e.brokerIndex[o.BrokerOrderID] = o.ID
	e.mu.Unlock()

	if err := e.cache.SetQueueState(ctx, o.ID, o); err != nil {
		e.logger.Error().Err(err).Str("order_id", o.ID).Msg("failed to mirror queue state")
	}

	env := busp.NewEnvelope(busp.TopicOrderPlaced, "order", o)
	if err := e.bus.Publish(ctx, env); err != nil {
		e.logger.Error().Err(err).Str("order_id", o.ID).Msg("failed to publish order_placed")
	}
}

// --- fills and status ---

func (e *Engine) fillConsumerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn, ok := <-e.broker.Fills():
			if !ok {
				return
			}
			e.applyFill(ctx, fn)
		}
	}
}

func (e *Engine) findByBrokerID(brokerOrderID string) (types.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	orderID, ok := e.brokerIndex[brokerOrderID]
	if !ok {
		return types.Order{}, false
	}
	op, ok := e.orders[orderID]
	if !ok || op == nil {
		return types.Order{}, false
	}
	return *op, true
}

func (e *Engine) applyFill(ctx context.Context, fn brokerp.FillNotification) {
	o, ok := e.findByBrokerID(fn.BrokerOrderID)
	if !ok {
		e.logger.Warn().Str("broker_order_id", fn.BrokerOrderID).Msg("fill for unknown order")
		return
	}
	if o.State.IsTerminal() {
		return
	}
	if o.FillCount >= e.cfg.MaxFillsPerOrder {
		e.logger.Warn().Str("order_id", o.ID).Int("fill_count", o.FillCount).Msg("fill rejected: max_fills_per_order exceeded")
		return
	}

	fill := fn.Fill
	fill.OrderID = o.ID
	fill.Symbol = o.Symbol
	fill.Side = o.Side
	if fill.FillID == "" {
		fill.FillID = e.idNode.Generate().String()
	}
	if fill.Commission.IsZero() {
		fill.Commission = commissionpkg.Compute(e.cfg.Rates, o.Side, fill.Price, fill.Qty).Total
	}

	pos, realizedDelta := e.book.ApplyFill(o.Symbol, o.Side, fill.Qty, fill.Price, fill.Commission, fill.TS)

	newFilled := o.FilledQty + fill.Qty
	if newFilled > o.Quantity {
		e.logger.Warn().Str("order_id", o.ID).Msg("fill exceeds order quantity, clipping accounting")
		newFilled = o.Quantity
	}
	prevNotional := o.AvgFillPrice.Mul(decimal.NewFromInt(o.FilledQty))
	divisor := newFilled
	if divisor < 1 {
		divisor = 1
	}
	o.AvgFillPrice = prevNotional.Add(fill.Price.Mul(decimal.NewFromInt(fill.Qty))).Div(decimal.NewFromInt(divisor))
	o.FilledQty = newFilled
	o.CommissionPaid = o.CommissionPaid.Add(fill.Commission)
	o.FillCount++
	o.LastFillTS = fill.TS
	o.UpdatedTS = fill.TS
	if o.FilledQty >= o.Quantity {
		o.State = types.OrderFilled
	} else {
		o.State = types.OrderPartial
	}

	e.mu.Lock()
	e.orders[o.ID] = &o
	e.cash = applyCash(e.cash, o.Side, fill.Qty, fill.Price, fill.Commission)
	if o.Side == types.SideSell {
		e.realizedToday = e.realizedToday.Add(realizedDelta)
		e.realizedMonth = e.realizedMonth.Add(realizedDelta)
		switch {
		case realizedDelta.LessThan(decimal.Zero):
			e.consecutiveLosses++
		case realizedDelta.GreaterThan(decimal.Zero):
			e.consecutiveLosses = 0
		}
	}
	if o.State.IsTerminal() {
		delete(e.inFlight, dedupKey(o.Symbol, o.Side, o.StrategyName))
	}
	e.mu.Unlock()

	e.tracker.RecordFill(o.ID, fill.TS)

	if err := e.cache.PushTrade(ctx, o.Symbol, fill, cache.TradesCap); err != nil {
		e.logger.Error().Err(err).Msg("failed to push trade to cache")
	}
	if o.State.IsTerminal() {
		e.tracker.Forget(o.ID)
		if err := e.cache.DeleteQueueState(ctx, o.ID); err != nil {
			e.logger.Error().Err(err).Msg("failed to clear terminal order from queue state")
		}
	} else if err := e.cache.SetQueueState(ctx, o.ID, o); err != nil {
		e.logger.Error().Err(err).Msg("failed to mirror queue state")
	}
	if err := e.cache.SetPosition(ctx, o.Symbol, pos); err != nil {
		e.logger.Error().Err(err).Msg("failed to write position")
	}

	topic := busp.TopicOrderPartiallyExecuted
	if o.State == types.OrderFilled {
		topic = busp.TopicOrderFullyExecuted
	}
	if err := e.bus.Publish(ctx, busp.NewEnvelope(topic, "order", o)); err != nil {
		e.logger.Error().Err(err).Str("order_id", o.ID).Msg("failed to publish fill topic")
	}
	if err := e.bus.Publish(ctx, busp.NewEnvelope(busp.TopicPositionUpdated, "order", pos)); err != nil {
		e.logger.Error().Err(err).Str("symbol", o.Symbol).Msg("failed to publish position_updated")
	}

	if e.OnFill != nil {
		e.OnFill(o.StrategyName, fill)
	}
}

func applyCash(cash decimal.Decimal, side types.Side, qty int64, price, commission decimal.Decimal) decimal.Decimal {
	notional := price.Mul(decimal.NewFromInt(qty))
	if side == types.SideBuy {
		return cash.Sub(notional).Sub(commission)
	}
	return cash.Add(notional).Sub(commission)
}

func (e *Engine) statusConsumerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sc, ok := <-e.broker.StatusChanges():
			if !ok {
				return
			}
			e.applyStatusChange(ctx, sc)
		}
	}
}

func (e *Engine) applyStatusChange(ctx context.Context, sc brokerp.StatusChange) {
	o, ok := e.findByBrokerID(sc.BrokerOrderID)
	if !ok || o.State.IsTerminal() {
		return
	}

	o.State = sc.State
	o.RejectReason = sc.Reason
	o.UpdatedTS = sc.TS
	e.finalizeTerminal(ctx, o)

	topic := busp.TopicOrderCancelled
	if sc.State == types.OrderFailed || sc.State == types.OrderRejected {
		topic = busp.TopicOrderFailed
	}
	if err := e.bus.Publish(ctx, busp.NewEnvelope(topic, "order", o)); err != nil {
		e.logger.Error().Err(err).Str("order_id", o.ID).Msg("failed to publish status-change topic")
	}
}

// --- watchdogs ---

func (e *Engine) handleMarketData(ctx context.Context, env busp.Envelope) {
	tick, ok := env.Payload.(types.MarketTick)
	if !ok {
		return
	}
	pos, updated := e.book.Mark(tick.Symbol, tick.Close, tick.TS)
	if !updated {
		return
	}
	if err := e.cache.SetPosition(ctx, tick.Symbol, pos); err != nil {
		e.logger.Error().Err(err).Msg("failed to write marked position")
	}
	if err := e.bus.Publish(ctx, busp.NewEnvelope(busp.TopicPositionUpdated, "order", pos)); err != nil {
		e.logger.Error().Err(err).Str("symbol", tick.Symbol).Msg("failed to publish position_updated")
	}
}

func (e *Engine) watchdogLoop(ctx context.Context) {
	fillTicker := time.NewTicker(e.cfg.WatchdogInterval)
	defer fillTicker.Stop()
	expiryTicker := time.NewTicker(e.cfg.ExpirySweepInterval)
	defer expiryTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fillTicker.C:
			e.checkPartialFillStalls(ctx)
		case <-expiryTicker.C:
			e.sweepExpired(ctx)
		}
	}
}

func (e *Engine) sweepExpired(ctx context.Context) {
	for _, o := range e.queue.RemoveExpired(e.cfg.PriorityTimeout) {
		e.expire(ctx, o)
	}
}

func (e *Engine) checkPartialFillStalls(ctx context.Context) {
	e.mu.Lock()
	var partials []types.Order
	for _, op := range e.orders {
		if op.State == types.OrderPartial {
			partials = append(partials, *op)
		}
	}
	e.mu.Unlock()

	now := time.Now().UTC()
	for _, o := range partials {
		stage := e.tracker.Check(o.ID, o.LastFillTS, e.cfg.MaxPartialFillTime, 2*e.cfg.MaxPartialFillTime, now)
		switch stage {
		case StallCancel:
			e.cancelRemainder(ctx, o)
		case StallWarn:
			if err := e.bus.Publish(ctx, busp.NewEnvelope(TopicPartialFillStalled, "order", o)); err != nil {
				e.logger.Error().Err(err).Str("order_id", o.ID).Msg("failed to publish partial_fill_stalled")
			}
		}
	}
}

func (e *Engine) cancelRemainder(ctx context.Context, o types.Order) {
	if err := e.broker.Cancel(ctx, o.BrokerOrderID); err != nil {
		e.logger.Error().Err(err).Str("order_id", o.ID).Msg("failed to cancel stalled partial fill")
		return
	}
	o.State = types.OrderCancelled
	o.RejectReason = "partial_fill_stalled_timeout"
	o.UpdatedTS = time.Now().UTC()
	e.finalizeTerminal(ctx, o)
	if err := e.bus.Publish(ctx, busp.NewEnvelope(busp.TopicOrderCancelled, "order", o)); err != nil {
		e.logger.Error().Err(err).Str("order_id", o.ID).Msg("failed to publish order_cancelled")
	}
}

// --- queries (metrics, risk-context callback, crash-recovery) ---

// Order returns a copy of the tracked order by id.
func (e *Engine) Order(id string) (types.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[id]
	if !ok {
		return types.Order{}, false
	}
	return *o, true
}

// Position returns symbol's current position record.
func (e *Engine) Position(symbol string) types.Position { return e.book.Get(symbol) }

// Positions returns a snapshot of every tracked position.
func (e *Engine) Positions() map[string]types.Position { return e.book.All() }

// Cash returns the engine's current cash balance.
func (e *Engine) Cash() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cash
}

// PortfolioValue returns cash plus the mark-to-market value of every open
// position, the same figure fed to every risk_check request.
func (e *Engine) PortfolioValue() decimal.Decimal {
	pv, _, _ := e.portfolioSnapshot()
	return pv
}

// RiskContext builds a point-in-time types.RiskContext snapshot, exposed
// so the Risk Engine's portfolio monitor can pull it on its own tick
// cadence independent of an in-flight order.
func (e *Engine) RiskContext(ctx context.Context) types.RiskContext {
	portfolioValue, totalNotional, sectorNotional := e.portfolioSnapshot()
	e.mu.Lock()
	defer e.mu.Unlock()
	return types.RiskContext{
		PortfolioValue:    portfolioValue,
		Cash:              e.cash,
		RealizedPnLToday:  e.realizedToday,
		RealizedPnLMonth:  e.realizedMonth,
		OpenOrderNotional: e.openOrderNotionalLocked(ctx),
		TotalNotional:     totalNotional,
		SectorNotional:    sectorNotional,
		OrdersToday:       e.ordersToday,
		ConsecutiveLosses: e.consecutiveLosses,
		Positions:         e.book.All(),
	}
}

// Restore reloads non-terminal orders from the cache's queue-state mirror
// after a crash, re-priming the priority queue and dedup index without
// re-running intake (risk has already approved these once).
func (e *Engine) Restore(ctx context.Context) error {
	snapshot, err := e.cache.AllQueueState(ctx)
	if err != nil {
		return fmt.Errorf("order: restore queue state: %w", err)
	}
	for _, o := range snapshot {
		if o.State.IsTerminal() {
			continue
		}
		e.mu.Lock()
		e.orders[o.ID] = &o
		e.inFlight[dedupKey(o.Symbol, o.Side, o.StrategyName)] = o.ID
		e.mu.Unlock()
		if o.State == types.OrderQueued {
			e.queue.Push(o)
		}
	}
	return nil
}
