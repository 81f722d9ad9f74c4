// Package pipeline implements the market data pipeline: quality gating,
// dedup, and per-(symbol,interval) candle assembly into the KV cache's
// rolling ring.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	busp "github.com/yohan-kwon/kquant-core/internal/bus"
	"github.com/yohan-kwon/kquant-core/internal/cache"
	"github.com/yohan-kwon/kquant-core/internal/types"
)

// Config holds pipeline-wide quality-gate thresholds, per spec §4.D/§6.
type Config struct {
	MinPrice           decimal.Decimal
	MaxPrice           decimal.Decimal
	StalenessThreshold time.Duration
	OutlierZ           decimal.Decimal
	Intervals          []string
	RingSize           int
}

// DefaultConfig matches the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		MinPrice:           decimal.NewFromInt(1),
		MaxPrice:           decimal.NewFromInt(10_000_000),
		StalenessThreshold: 5 * time.Minute,
		OutlierZ:           decimal.NewFromInt(8),
		Intervals:          []string{"1m", "5m"},
		RingSize:           cache.DefaultRingCap,
	}
}

// GateOutcome describes what a quality gate decided for a tick.
type GateOutcome int

const (
	GatePass GateOutcome = iota
	GateDropSilent
	GateDropCritical
	GateDropHigh
	GateWarnKeep
)

// qualityIssue is the payload of a quality_issue event.
type qualityIssue struct {
	Symbol   string `json:"symbol"`
	Gate     string `json:"gate"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// symbolWorker serializes all writes for one (symbol,interval) pair so
// the ring needs no external locking — the single-writer property spec
// §4.D and §5 require.
type symbolWorker struct {
	ch     chan types.MarketTick
	cancel context.CancelFunc
}

// Pipeline ingests adapter ticks, applies quality gates in order, and
// assembles bucket-aligned candles per (symbol,interval).
type Pipeline struct {
	cfg    Config
	cache  cache.Cache
	bus    busp.Bus
	logger zerolog.Logger

	mu      sync.Mutex
	workers map[string]*symbolWorker // key: symbol|interval

	closesMu sync.Mutex
	closes   map[string][]decimal.Decimal // key: symbol, last 20 closes for z-score

	pending map[string]*types.Candle // key: symbol|interval, in-progress bucket
}

// New builds a pipeline writing candles/ticks into c and publishing
// lifecycle events on b.
func New(cfg Config, c cache.Cache, b busp.Bus, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		cache:    c,
		bus:      b,
		logger:   logger.With().Str("component", "pipeline").Logger(),
		workers:  make(map[string]*symbolWorker),
		closes:   make(map[string][]decimal.Decimal),
		pending:  make(map[string]*types.Candle),
	}
}

func workerKey(symbol, interval string) string { return symbol + "|" + interval }

// Ingest runs the ordered quality gates for tick, then — if it passes —
// routes it to every configured interval's single-writer worker for
// candle assembly. It returns the gate outcome so callers (and tests)
// can assert on drop reasons without depending on bus delivery timing.
func (p *Pipeline) Ingest(ctx context.Context, tick types.MarketTick) GateOutcome {
	outcome, gate, detail := p.qualityGates(ctx, tick)

	switch outcome {
	case GateDropCritical, GateDropHigh:
		p.publishQualityIssue(ctx, tick.Symbol, gate, severityFor(outcome), detail)
		return outcome
	case GateDropSilent:
		return outcome
	case GateWarnKeep:
		p.publishQualityIssue(ctx, tick.Symbol, gate, "warn", detail)
	}

	if err := p.cache.SetMarketTick(ctx, tick.Symbol, tick); err != nil {
		p.logger.Error().Err(err).Str("symbol", tick.Symbol).Msg("failed to write market tick to cache")
	}
	p.recordClose(tick.Symbol, tick.Close)

	p.bus.Publish(ctx, busp.NewEnvelope(busp.TopicMarketDataReceived, "pipeline", tick))

	for _, interval := range p.cfg.Intervals {
		p.routeToWorker(ctx, tick, interval)
	}

	return GatePass
}

func severityFor(o GateOutcome) string {
	switch o {
	case GateDropCritical:
		return "critical"
	case GateDropHigh:
		return "high"
	default:
		return "warn"
	}
}

func (p *Pipeline) publishQualityIssue(ctx context.Context, symbol, gate, severity, detail string) {
	p.bus.Publish(ctx, busp.NewEnvelope("quality_issue", "pipeline", qualityIssue{
		Symbol: symbol, Gate: gate, Severity: severity, Detail: detail,
	}))
}

// qualityGates evaluates the ordered gate list from spec §4.D.1; the
// first gate that produces a non-pass outcome determines the result.
func (p *Pipeline) qualityGates(ctx context.Context, tick types.MarketTick) (GateOutcome, string, string) {
	if tick.Symbol == "" || tick.TS.IsZero() || tick.Close.IsZero() {
		return GateDropCritical, "required_fields", "missing symbol, ts, or close"
	}

	if tick.Close.Sign() <= 0 {
		return GateDropCritical, "type_range", "close <= 0"
	}
	if tick.Volume < 0 {
		return GateDropCritical, "type_range", "volume < 0"
	}
	if tick.Close.LessThan(p.cfg.MinPrice) || tick.Close.GreaterThan(p.cfg.MaxPrice) {
		return GateDropCritical, "type_range", "close outside configured price range"
	}

	if !tick.Open.IsZero() && !tick.High.IsZero() && !tick.Low.IsZero() {
		lo, hi := tick.Open, tick.Open
		if tick.Close.LessThan(lo) {
			lo = tick.Close
		}
		if tick.Close.GreaterThan(hi) {
			hi = tick.Close
		}
		if tick.Low.GreaterThan(lo) || tick.High.LessThan(hi) {
			return GateDropHigh, "ohlc_consistency", "low/high inconsistent with open/close"
		}
	}

	if time.Since(tick.TS) > p.cfg.StalenessThreshold {
		return GateWarnKeep, "staleness", fmt.Sprintf("tick age %s exceeds threshold", time.Since(tick.TS))
	}

	if p.isDuplicate(ctx, tick) {
		return GateDropSilent, "duplicate", ""
	}

	if p.isOutlier(tick) {
		return GateWarnKeep, "outlier", "price z-score exceeds configured threshold"
	}

	return GatePass, "", ""
}

func (p *Pipeline) isDuplicate(ctx context.Context, tick types.MarketTick) bool {
	last, ok, err := p.cache.GetMarketTick(ctx, tick.Symbol)
	if err != nil || !ok {
		return false
	}
	return last.Symbol == tick.Symbol && last.TS.Equal(tick.TS) && last.Close.Equal(tick.Close)
}

func (p *Pipeline) isOutlier(tick types.MarketTick) bool {
	p.closesMu.Lock()
	defer p.closesMu.Unlock()

	history := p.closes[tick.Symbol]
	if len(history) < 20 {
		return false
	}

	mean := decimal.Zero
	for _, c := range history {
		mean = mean.Add(c)
	}
	mean = mean.Div(decimal.NewFromInt(int64(len(history))))

	var sumSq float64
	meanF, _ := mean.Float64()
	for _, c := range history {
		cf, _ := c.Float64()
		d := cf - meanF
		sumSq += d * d
	}
	stddev := math.Sqrt(sumSq / float64(len(history)))
	if stddev == 0 {
		return false
	}

	closeF, _ := tick.Close.Float64()
	z := math.Abs(closeF-meanF) / stddev

	zThresh, _ := p.cfg.OutlierZ.Float64()
	return z > zThresh
}

func (p *Pipeline) recordClose(symbol string, close decimal.Decimal) {
	p.closesMu.Lock()
	defer p.closesMu.Unlock()
	history := p.closes[symbol]
	history = append([]decimal.Decimal{close}, history...)
	if len(history) > 20 {
		history = history[:20]
	}
	p.closes[symbol] = history
}

// routeToWorker hands tick to the single-writer goroutine for
// (symbol,interval), starting it lazily on first use.
func (p *Pipeline) routeToWorker(ctx context.Context, tick types.MarketTick, interval string) {
	key := workerKey(tick.Symbol, interval)

	p.mu.Lock()
	w, ok := p.workers[key]
	if !ok {
		wctx, cancel := context.WithCancel(ctx)
		w = &symbolWorker{ch: make(chan types.MarketTick, 256), cancel: cancel}
		p.workers[key] = w
		go p.assembleLoop(wctx, tick.Symbol, interval, w.ch)
	}
	p.mu.Unlock()

	select {
	case w.ch <- tick:
	default:
		p.logger.Warn().Str("symbol", tick.Symbol).Str("interval", interval).Msg("candle assembly worker saturated, dropping tick")
	}
}

func (p *Pipeline) assembleLoop(ctx context.Context, symbol, interval string, ch <-chan types.MarketTick) {
	bucket := intervalDuration(interval)
	key := workerKey(symbol, interval)

	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ch:
			if !ok {
				return
			}
			p.assemble(ctx, symbol, interval, key, bucket, tick)
		}
	}
}

// assemble aggregates tick into the in-progress bucket for (symbol,
// interval), closing and publishing the bucket when a tick arrives for a
// later boundary.
func (p *Pipeline) assemble(ctx context.Context, symbol, interval, key string, bucket time.Duration, tick types.MarketTick) {
	boundary := tick.TS.Truncate(bucket)

	p.mu.Lock()
	current := p.pending[key]
	if current != nil && !current.TS.Equal(boundary) {
		closed := *current
		delete(p.pending, key)
		p.mu.Unlock()

		p.closeCandle(ctx, closed)

		p.mu.Lock()
		current = nil
	}

	if current == nil {
		current = &types.Candle{
			Symbol: symbol, Interval: interval, TS: boundary,
			Open: tick.Close, High: tick.Close, Low: tick.Close, Close: tick.Close,
			Volume: tick.Volume,
		}
		p.pending[key] = current
	} else {
		if tick.Close.GreaterThan(current.High) {
			current.High = tick.Close
		}
		if tick.Close.LessThan(current.Low) {
			current.Low = tick.Close
		}
		current.Close = tick.Close
		current.Volume += tick.Volume
	}
	p.mu.Unlock()
}

func (p *Pipeline) closeCandle(ctx context.Context, candle types.Candle) {
	if !candle.Valid() {
		p.publishQualityIssue(ctx, candle.Symbol, "ohlc_consistency", "high", "assembled candle failed OHLC invariant")
		return
	}

	if err := p.cache.PushCandle(ctx, candle.Symbol, candle.Interval, candle, p.cfg.RingSize); err != nil {
		p.logger.Error().Err(err).Str("symbol", candle.Symbol).Msg("failed to push candle to ring")
		return
	}

	p.bus.Publish(ctx, busp.NewEnvelope(busp.TopicCandleClosed, "pipeline", candle))
}

func intervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "1h":
		return time.Hour
	default:
		return time.Minute
	}
}

// Shutdown cancels every per-(symbol,interval) worker.
func (p *Pipeline) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		w.cancel()
	}
}
