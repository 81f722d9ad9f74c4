package risk

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	busp "github.com/yohan-kwon/kquant-core/internal/bus"
	"github.com/yohan-kwon/kquant-core/internal/cache"
	"github.com/yohan-kwon/kquant-core/internal/types"
)

// Severity classifies a risk_alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// MonitorConfig holds the fixed-interval portfolio monitor's thresholds.
// Warning/critical pairs follow spec §4.G.2's "crosses a warning or
// critical threshold" wording; each metric has its own pair.
type MonitorConfig struct {
	Interval time.Duration

	GrossExposureWarn, GrossExposureCrit     decimal.Decimal // ratio of portfolio value
	CashRatioWarn, CashRatioCrit             decimal.Decimal // triggers below this ratio
	ConcentrationWarn, ConcentrationCrit     float64         // Herfindahl index, 0..1
	Top5ConcentrationWarn, Top5ConcentrationCrit decimal.Decimal
	VaRWarn, VaRCrit                         decimal.Decimal // ratio of portfolio value, 95% historical VaR
	CorrelationWarn, CorrelationCrit         float64
	ReturnLookback                           int // number of recent closed candles used for VaR/correlation
}

// DefaultMonitorConfig matches the spec's stated default interval (30s)
// with conservative thresholds.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:                      30 * time.Second,
		GrossExposureWarn:             decimal.RequireFromString("0.80"),
		GrossExposureCrit:             decimal.RequireFromString("0.95"),
		CashRatioWarn:                 decimal.RequireFromString("0.10"),
		CashRatioCrit:                 decimal.RequireFromString("0.05"),
		ConcentrationWarn:             0.25,
		ConcentrationCrit:             0.40,
		Top5ConcentrationWarn:         decimal.RequireFromString("0.70"),
		Top5ConcentrationCrit:         decimal.RequireFromString("0.85"),
		VaRWarn:                       decimal.RequireFromString("0.05"),
		VaRCrit:                       decimal.RequireFromString("0.10"),
		CorrelationWarn:               0.70,
		CorrelationCrit:               0.85,
		ReturnLookback:                60,
	}
}

// PortfolioMetrics is the snapshot computed each interval.
type PortfolioMetrics struct {
	ComputedAt          time.Time
	PortfolioValue      decimal.Decimal
	GrossExposureRatio  decimal.Decimal
	CashRatio           decimal.Decimal
	Concentration       float64 // Herfindahl index over symbol notional weights
	Top5Concentration   decimal.Decimal
	HistoricalVaR95     decimal.Decimal // positive ratio of portfolio value
	AvgPairwiseCorr     float64
	SectorDispersion    float64 // stddev of sector notional weights
}

// RiskMonitor computes portfolio-level metrics on a fixed interval and
// publishes risk_alert when any metric crosses its warning or critical
// threshold. It is read-only with respect to positions — positions come
// from riskCtxFn, and candle history from the cache.
type RiskMonitor struct {
	cfg    MonitorConfig
	cache  cache.Cache
	bus    busp.Bus
	logger zerolog.Logger

	riskCtxFn func() types.RiskContext
	cron      *cron.Cron
}

// NewRiskMonitor builds a monitor. riskCtxFn supplies the latest
// RiskContext (portfolio value, cash, sector notional) on each tick —
// typically backed by the same accounting the Order Engine maintains.
func NewRiskMonitor(cfg MonitorConfig, c cache.Cache, b busp.Bus, logger zerolog.Logger, riskCtxFn func() types.RiskContext) *RiskMonitor {
	return &RiskMonitor{
		cfg:       cfg,
		cache:     c,
		bus:       b,
		logger:    logger.With().Str("component", "risk.monitor").Logger(),
		riskCtxFn: riskCtxFn,
	}
}

// Start schedules the periodic sweep on a cron job (matching the "@every
// 30s"-style fixed-interval jobs the rest of the pack runs its background
// sweeps on) and stops it when ctx is cancelled.
func (m *RiskMonitor) Start(ctx context.Context) {
	m.cron = cron.New(cron.WithSeconds())
	schedule := fmt.Sprintf("@every %s", m.cfg.Interval)
	if _, err := m.cron.AddFunc(schedule, func() { m.sweep(ctx) }); err != nil {
		m.logger.Error().Err(err).Str("schedule", schedule).Msg("failed to schedule risk monitor sweep")
		return
	}
	m.cron.Start()

	go func() {
		<-ctx.Done()
		stopCtx := m.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
		}
	}()
}

func (m *RiskMonitor) sweep(ctx context.Context) {
	rc := m.riskCtxFn()
	metrics := m.compute(ctx, rc)

	alerts := m.evaluate(metrics)
	for _, a := range alerts {
		env := busp.NewEnvelope(busp.TopicRiskAlert, "risk.monitor", a)
		if err := m.bus.Publish(ctx, env); err != nil {
			m.logger.Error().Err(err).Msg("failed to publish risk_alert")
		}
	}
}

// RiskAlert is the payload published on risk_alert.
type RiskAlert struct {
	Severity Severity               `json:"severity"`
	Metric   string                 `json:"metric"`
	Value    string                 `json:"value"`
	Message  string                 `json:"message"`
	Snapshot PortfolioMetrics       `json:"-"`
}

// compute derives PortfolioMetrics from the current RiskContext and the
// candle history in cache. It never mutates state.
func (m *RiskMonitor) compute(ctx context.Context, rc types.RiskContext) PortfolioMetrics {
	pm := PortfolioMetrics{ComputedAt: time.Now().UTC(), PortfolioValue: rc.PortfolioValue}

	if rc.PortfolioValue.GreaterThan(decimal.Zero) {
		pm.GrossExposureRatio = rc.TotalNotional.Div(rc.PortfolioValue)
		pm.CashRatio = rc.Cash.Div(rc.PortfolioValue)
	}

	weights := make([]decimal.Decimal, 0, len(rc.Positions))
	type weighted struct {
		symbol string
		weight decimal.Decimal
	}
	ws := make([]weighted, 0, len(rc.Positions))
	for sym, pos := range rc.Positions {
		notional := pos.LastMarkPrice.Mul(decimal.NewFromInt(pos.Qty)).Abs()
		var w decimal.Decimal
		if rc.PortfolioValue.GreaterThan(decimal.Zero) {
			w = notional.Div(rc.PortfolioValue)
		}
		weights = append(weights, w)
		ws = append(ws, weighted{symbol: sym, weight: w})
	}

	var hhi float64
	for _, w := range weights {
		f, _ := w.Float64()
		hhi += f * f
	}
	pm.Concentration = hhi

	sort.Slice(ws, func(i, j int) bool { return ws[i].weight.GreaterThan(ws[j].weight) })
	top5 := decimal.Zero
	for i := 0; i < len(ws) && i < 5; i++ {
		top5 = top5.Add(ws[i].weight)
	}
	pm.Top5Concentration = top5

	pm.SectorDispersion = sectorDispersion(rc.SectorNotional, rc.PortfolioValue)

	varRatio, avgCorr := m.varAndCorrelation(ctx, rc)
	pm.HistoricalVaR95 = varRatio
	pm.AvgPairwiseCorr = avgCorr

	return pm
}

// sectorDispersion returns the population standard deviation of each
// sector's notional weight, using gonum/stat.
func sectorDispersion(sectorNotional map[string]decimal.Decimal, portfolioValue decimal.Decimal) float64 {
	if portfolioValue.LessThanOrEqual(decimal.Zero) || len(sectorNotional) == 0 {
		return 0
	}
	weights := make([]float64, 0, len(sectorNotional))
	for _, notional := range sectorNotional {
		w, _ := notional.Div(portfolioValue).Float64()
		weights = append(weights, w)
	}
	return stat.StdDev(weights, nil)
}

// varAndCorrelation computes historical 95% VaR (as a ratio of portfolio
// value, positive) and the average pairwise return correlation across
// held symbols, from each symbol's recent daily-interval candle history.
func (m *RiskMonitor) varAndCorrelation(ctx context.Context, rc types.RiskContext) (decimal.Decimal, float64) {
	returnSeries := make(map[string][]float64)
	for sym := range rc.Positions {
		candles, err := m.cache.GetCandles(ctx, sym, "1d")
		if err != nil || len(candles) < 2 {
			continue
		}
		prices := make([]float64, len(candles))
		// candles are newest-first; reverse into chronological order.
		for i, c := range candles {
			f, _ := c.Close.Float64()
			prices[len(candles)-1-i] = f
		}
		if len(prices) > m.cfg.ReturnLookback+1 {
			prices = prices[len(prices)-(m.cfg.ReturnLookback+1):]
		}
		returnSeries[sym] = calculateReturns(prices)
	}

	portfolioReturns := blendReturns(returnSeries, rc.Positions, rc.PortfolioValue)
	varRatio := historicalVaR95(portfolioReturns)

	avgCorr := averagePairwiseCorrelation(returnSeries)

	return decimal.NewFromFloat(varRatio).Abs(), avgCorr
}

// calculateReturns converts a chronological price series to simple
// percentage returns, mirroring the reference formula Returns[i] =
// (Price[i]-Price[i-1])/Price[i-1].
func calculateReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			returns[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}
	return returns
}

// blendReturns combines each symbol's return series into one
// notional-weighted portfolio return series, aligned on the shortest
// common length (most recent observations).
func blendReturns(returnSeries map[string][]float64, positions map[string]types.Position, portfolioValue decimal.Decimal) []float64 {
	if len(returnSeries) == 0 || portfolioValue.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	minLen := -1
	for _, rs := range returnSeries {
		if minLen == -1 || len(rs) < minLen {
			minLen = len(rs)
		}
	}
	if minLen <= 0 {
		return nil
	}

	blended := make([]float64, minLen)
	for sym, rs := range returnSeries {
		pos := positions[sym]
		notional := pos.LastMarkPrice.Mul(decimal.NewFromInt(pos.Qty)).Abs()
		weight, _ := notional.Div(portfolioValue).Float64()
		tail := rs[len(rs)-minLen:]
		for i, r := range tail {
			blended[i] += r * weight
		}
	}
	return blended
}

// historicalVaR95 returns the 5th percentile of the return distribution
// (the loss exceeded only 5% of the time), via direct sort since gonum's
// quantile helpers expect pre-sorted, pre-weighted input for this use.
func historicalVaR95(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)
	idx := int(math.Floor(0.05 * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	v := sorted[idx]
	if v > 0 {
		return 0
	}
	return v
}

// averagePairwiseCorrelation is the mean Pearson correlation across every
// distinct pair of symbols' return series with equal, overlapping length.
func averagePairwiseCorrelation(returnSeries map[string][]float64) float64 {
	symbols := make([]string, 0, len(returnSeries))
	for sym := range returnSeries {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var sum float64
	var count int
	for i := 0; i < len(symbols); i++ {
		for j := i + 1; j < len(symbols); j++ {
			x, y := returnSeries[symbols[i]], returnSeries[symbols[j]]
			n := len(x)
			if len(y) < n {
				n = len(y)
			}
			if n < 2 {
				continue
			}
			c := stat.Correlation(x[len(x)-n:], y[len(y)-n:], nil)
			if math.IsNaN(c) {
				continue
			}
			sum += c
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// evaluate compares the computed snapshot against configured thresholds
// and returns one RiskAlert per metric that crosses warning or critical.
func (m *RiskMonitor) evaluate(pm PortfolioMetrics) []RiskAlert {
	var alerts []RiskAlert

	addIfCrossed := func(metric string, value decimal.Decimal, warn, crit decimal.Decimal) {
		switch {
		case value.GreaterThanOrEqual(crit):
			alerts = append(alerts, RiskAlert{Severity: SeverityCritical, Metric: metric, Value: value.String(), Snapshot: pm,
				Message: metric + " at critical level"})
		case value.GreaterThanOrEqual(warn):
			alerts = append(alerts, RiskAlert{Severity: SeverityWarning, Metric: metric, Value: value.String(), Snapshot: pm,
				Message: metric + " at warning level"})
		}
	}

	addIfCrossed("gross_exposure_ratio", pm.GrossExposureRatio, m.cfg.GrossExposureWarn, m.cfg.GrossExposureCrit)
	addIfCrossed("top5_concentration", pm.Top5Concentration, m.cfg.Top5ConcentrationWarn, m.cfg.Top5ConcentrationCrit)
	addIfCrossed("historical_var_95", pm.HistoricalVaR95, m.cfg.VaRWarn, m.cfg.VaRCrit)

	// Cash ratio is inverted: low cash is the risk, so "crossed" means
	// falling below the threshold rather than rising above it.
	switch {
	case pm.CashRatio.LessThanOrEqual(m.cfg.CashRatioCrit):
		alerts = append(alerts, RiskAlert{Severity: SeverityCritical, Metric: "cash_ratio", Value: pm.CashRatio.String(), Snapshot: pm,
			Message: "cash_ratio at critical level"})
	case pm.CashRatio.LessThanOrEqual(m.cfg.CashRatioWarn):
		alerts = append(alerts, RiskAlert{Severity: SeverityWarning, Metric: "cash_ratio", Value: pm.CashRatio.String(), Snapshot: pm,
			Message: "cash_ratio at warning level"})
	}

	switch {
	case pm.Concentration >= m.cfg.ConcentrationCrit:
		alerts = append(alerts, RiskAlert{Severity: SeverityCritical, Metric: "concentration_hhi", Value: decimal.NewFromFloat(pm.Concentration).String(), Snapshot: pm,
			Message: "concentration_hhi at critical level"})
	case pm.Concentration >= m.cfg.ConcentrationWarn:
		alerts = append(alerts, RiskAlert{Severity: SeverityWarning, Metric: "concentration_hhi", Value: decimal.NewFromFloat(pm.Concentration).String(), Snapshot: pm,
			Message: "concentration_hhi at warning level"})
	}

	switch {
	case pm.AvgPairwiseCorr >= m.cfg.CorrelationCrit:
		alerts = append(alerts, RiskAlert{Severity: SeverityCritical, Metric: "avg_pairwise_correlation", Value: decimal.NewFromFloat(pm.AvgPairwiseCorr).String(), Snapshot: pm,
			Message: "avg_pairwise_correlation at critical level"})
	case pm.AvgPairwiseCorr >= m.cfg.CorrelationWarn:
		alerts = append(alerts, RiskAlert{Severity: SeverityWarning, Metric: "avg_pairwise_correlation", Value: decimal.NewFromFloat(pm.AvgPairwiseCorr).String(), Snapshot: pm,
			Message: "avg_pairwise_correlation at warning level"})
	}

	return alerts
}
