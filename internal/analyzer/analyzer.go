// Package analyzer implements the Technical Analyzer (spec §4.E):
// subscribes to candle_closed, recomputes the configured indicator set
// from the ring's last N candles, writes the snapshot to the KV cache,
// and publishes indicators_updated.
package analyzer

import (
	"context"
	"fmt"
	"sync"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	busp "github.com/yohan-kwon/kquant-core/internal/bus"
	"github.com/yohan-kwon/kquant-core/internal/cache"
	"github.com/yohan-kwon/kquant-core/internal/types"
	"github.com/yohan-kwon/kquant-core/pkg/indicator"
)

// Indicator name constants — these are the keys strategies look up in an
// IndicatorSnapshot's Values map.
const (
	NameSMAPrefix  = "sma_" // e.g. sma_5, sma_20
	NameEMAFast    = "ema_12"
	NameEMASlow    = "ema_26"
	NameRSI14      = "rsi_14"
	NameMACD       = "macd"
	NameMACDSignal = "macd_signal"
	NameMACDHist   = "macd_hist"
	NameBBUpper    = "bb_upper"
	NameBBMid      = "bb_mid"
	NameBBLower    = "bb_lower"
	NameATR14      = "atr_14"
	NameStochK     = "stoch_k"
	NameStochD     = "stoch_d"
)

// Config holds the configured indicator parameter set, per spec §4.E/§6
// (`indicator_periods`).
type Config struct {
	SMAPeriods   []int
	EMAFast      int
	EMASlow      int
	RSIPeriod    int
	MACDFast     int
	MACDSlow     int
	MACDSignal   int
	BBPeriod     int
	BBNumStdDevs decimal.Decimal
	StochPeriod  int
	StochSmooth  int
	ATRPeriod    int
}

// DefaultConfig matches the minimum indicator set spec §4.E requires.
func DefaultConfig() Config {
	return Config{
		SMAPeriods:   []int{5, 20},
		EMAFast:      12,
		EMASlow:      26,
		RSIPeriod:    14,
		MACDFast:     12,
		MACDSlow:     26,
		MACDSignal:   9,
		BBPeriod:     20,
		BBNumStdDevs: decimal.NewFromInt(2),
		StochPeriod:  14,
		StochSmooth:  3,
		ATRPeriod:    14,
	}
}

// Analyzer recomputes the indicator set for a (symbol,interval) whenever
// the pipeline closes a candle on it.
type Analyzer struct {
	cfg    Config
	cache  cache.Cache
	bus    busp.Bus
	logger zerolog.Logger

	paramHash string

	fpMu         sync.Mutex
	fingerprints map[string]string
}

// New builds an Analyzer writing into c and publishing on b.
func New(cfg Config, c cache.Cache, b busp.Bus, logger zerolog.Logger) *Analyzer {
	return &Analyzer{
		cfg:          cfg,
		cache:        c,
		bus:          b,
		logger:       logger.With().Str("component", "analyzer").Logger(),
		paramHash:    paramHash(cfg),
		fingerprints: make(map[string]string),
	}
}

// Start subscribes to candle_closed and begins recomputation.
func (a *Analyzer) Start(ctx context.Context) busp.Subscription {
	return a.bus.Subscribe(busp.TopicCandleClosed, 0, func(ctx context.Context, env busp.Envelope) {
		candle, ok := env.Payload.(types.Candle)
		if !ok {
			return
		}
		if err := a.Recompute(ctx, candle.Symbol, candle.Interval); err != nil {
			a.logger.Error().Err(err).Str("symbol", candle.Symbol).Str("interval", candle.Interval).
				Msg("indicator recompute failed")
		}
	})
}

// Recompute loads the ring for (symbol,interval), short-circuits if the
// head fingerprint is unchanged, and otherwise recomputes every configured
// indicator and publishes the full snapshot.
func (a *Analyzer) Recompute(ctx context.Context, symbol, interval string) error {
	candles, err := a.cache.GetCandles(ctx, symbol, interval)
	if err != nil {
		return fmt.Errorf("load ring: %w", err)
	}
	if len(candles) == 0 {
		return nil
	}

	head := candles[0]
	key := symbol + "|" + interval
	fp := fmt.Sprintf("%s|%d|%s|%s", key, head.TS.UnixNano(), head.Close.String(), a.paramHash)

	a.fpMu.Lock()
	if a.fingerprints[key] == fp {
		a.fpMu.Unlock()
		return nil
	}
	a.fingerprints[key] = fp
	a.fpMu.Unlock()

	snap := a.compute(symbol, interval, candles)
	if err := a.cache.SetIndicators(ctx, symbol, interval, snap); err != nil {
		return fmt.Errorf("write indicators: %w", err)
	}

	a.bus.Publish(ctx, busp.NewEnvelope(busp.TopicIndicatorsUpdated, "analyzer", snap))
	a.crossCheckRSI(symbol, interval, candles, snap)
	return nil
}

// compute feeds the ring (oldest-first) through fresh incremental
// calculators and returns the resulting snapshot. A name absent from
// Values means "not enough samples yet" — never zero.
func (a *Analyzer) compute(symbol, interval string, newestFirst []types.Candle) types.IndicatorSnapshot {
	ordered := make([]types.Candle, len(newestFirst))
	for i, c := range newestFirst {
		ordered[len(newestFirst)-1-i] = c
	}

	values := make(map[string]decimal.Decimal)

	smas := make([]*indicator.SMA, len(a.cfg.SMAPeriods))
	for i, p := range a.cfg.SMAPeriods {
		smas[i] = indicator.NewSMA(p)
	}
	emaFast := indicator.NewEMA(a.cfg.EMAFast)
	emaSlow := indicator.NewEMA(a.cfg.EMASlow)
	rsi := indicator.NewRSI(a.cfg.RSIPeriod)
	macd := indicator.NewMACD(a.cfg.MACDFast, a.cfg.MACDSlow, a.cfg.MACDSignal)
	bb := indicator.NewBollinger(a.cfg.BBPeriod, a.cfg.BBNumStdDevs)
	stoch := indicator.NewStochastic(a.cfg.StochPeriod, a.cfg.StochSmooth)
	atr := indicator.NewATR(a.cfg.ATRPeriod)

	for _, c := range ordered {
		for i, sma := range smas {
			v := sma.Update(c.Close)
			if sma.Ready() {
				values[fmt.Sprintf("%s%d", NameSMAPrefix, a.cfg.SMAPeriods[i])] = v
			}
		}
		if v := emaFast.Update(c.Close); emaFast.Ready() {
			values[NameEMAFast] = v
		}
		if v := emaSlow.Update(c.Close); emaSlow.Ready() {
			values[NameEMASlow] = v
		}
		if v := rsi.Update(c.Close); rsi.Ready() {
			values[NameRSI14] = v
		}
		if mv, sv, hv := macd.Update(c.Close); macd.Ready() {
			values[NameMACD] = mv
			values[NameMACDSignal] = sv
			values[NameMACDHist] = hv
		}
		if up, mid, lo := bb.Update(c.Close); bb.Ready() {
			values[NameBBUpper] = up
			values[NameBBMid] = mid
			values[NameBBLower] = lo
		}
		if k, dd := stoch.Update(c.High, c.Low, c.Close); stoch.Ready() {
			values[NameStochK] = k
			values[NameStochD] = dd
		}
		if v := atr.Update(c.High, c.Low, c.Close); atr.Ready() {
			values[NameATR14] = v
		}
	}

	return types.IndicatorSnapshot{
		Symbol:   symbol,
		Interval: interval,
		TS:       ordered[len(ordered)-1].TS,
		Values:   values,
	}
}

// crossCheckRSI recomputes RSI via go-talib's float64 batch implementation
// as a cheap correctness cross-check against the canonical decimal path.
// Indicator values aren't money, so using float64 here doesn't violate the
// decimal-for-money rule; a material disagreement usually means a bug in
// the incremental decimal implementation, not in talib.
func (a *Analyzer) crossCheckRSI(symbol, interval string, newestFirst []types.Candle, snap types.IndicatorSnapshot) {
	want, ok := snap.Get(NameRSI14)
	if !ok || a.cfg.RSIPeriod < 1 {
		return
	}
	closes := make([]float64, len(newestFirst))
	for i, c := range newestFirst {
		closes[len(newestFirst)-1-i], _ = c.Close.Float64()
	}
	if len(closes) < a.cfg.RSIPeriod+1 {
		return
	}
	series := talib.Rsi(closes, a.cfg.RSIPeriod)
	got := series[len(series)-1]
	if got != got { // NaN
		return
	}
	wantF, _ := want.Float64()
	diff := wantF - got
	if diff < 0 {
		diff = -diff
	}
	if diff > 1.0 {
		a.logger.Warn().Str("symbol", symbol).Str("interval", interval).
			Float64("decimal_rsi", wantF).Float64("talib_rsi", got).
			Msg("rsi cross-check disagreement beyond tolerance")
	}
}

// paramHash folds the indicator configuration into the fingerprint key so
// a config reload invalidates every cached fingerprint.
func paramHash(cfg Config) string {
	return fmt.Sprintf("%v|%d|%d|%d|%d|%d|%d|%d|%s|%d|%d|%d",
		cfg.SMAPeriods, cfg.EMAFast, cfg.EMASlow, cfg.RSIPeriod,
		cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal,
		cfg.BBPeriod, cfg.BBNumStdDevs.String(), cfg.StochPeriod, cfg.StochSmooth, cfg.ATRPeriod)
}
