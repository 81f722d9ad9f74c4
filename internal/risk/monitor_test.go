package risk

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	busp "github.com/yohan-kwon/kquant-core/internal/bus"
	"github.com/yohan-kwon/kquant-core/internal/cache"
	"github.com/yohan-kwon/kquant-core/internal/types"
)

func TestCalculateReturns(t *testing.T) {
	prices := []float64{100, 110, 99}
	rs := calculateReturns(prices)
	if len(rs) != 2 {
		t.Fatalf("len = %d, want 2", len(rs))
	}
	if rs[0] < 0.0999 || rs[0] > 0.1001 {
		t.Errorf("rs[0] = %f, want ~0.1", rs[0])
	}
}

func TestHistoricalVaR95_AllPositiveReturnsIsZero(t *testing.T) {
	returns := []float64{0.01, 0.02, 0.03, 0.015}
	v := historicalVaR95(returns)
	if v != 0 {
		t.Errorf("var = %f, want 0 when no losses", v)
	}
}

func TestHistoricalVaR95_PicksLossTail(t *testing.T) {
	returns := []float64{-0.10, -0.02, -0.01, 0.01, 0.02, 0.03, 0.04, 0.05, 0.06, 0.07}
	v := historicalVaR95(returns)
	if v >= 0 {
		t.Errorf("var = %f, want negative (a loss)", v)
	}
}

func TestAveragePairwiseCorrelation_PerfectlyCorrelated(t *testing.T) {
	rs := map[string][]float64{
		"A": {0.01, 0.02, -0.01, 0.03},
		"B": {0.01, 0.02, -0.01, 0.03},
	}
	c := averagePairwiseCorrelation(rs)
	if c < 0.999 {
		t.Errorf("corr = %f, want ~1.0 for identical series", c)
	}
}

func TestAveragePairwiseCorrelation_NoPairsIsZero(t *testing.T) {
	rs := map[string][]float64{"A": {0.01, 0.02}}
	c := averagePairwiseCorrelation(rs)
	if c != 0 {
		t.Errorf("corr = %f, want 0 with a single symbol", c)
	}
}

func TestRiskMonitor_PublishesAlertOnLowCashRatio(t *testing.T) {
	b := newTestBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("bus start: %v", err)
	}
	defer b.Stop(time.Second)

	c := cache.NewMemoryCache(0)

	cfg := DefaultMonitorConfig()
	cfg.Interval = 20 * time.Millisecond

	rc := types.RiskContext{
		PortfolioValue: decVal("10000000"),
		Cash:           decVal("100000"), // 1% cash ratio, below crit 0.05
		TotalNotional:  decVal("9900000"),
	}
	mon := NewRiskMonitor(cfg, c, b, zerolog.Nop(), func() types.RiskContext { return rc })
	mon.Start(ctx)

	alertCh := make(chan RiskAlert, 16)
	b.Subscribe(busp.TopicRiskAlert, 8, func(ctx context.Context, env busp.Envelope) {
		if a, ok := env.Payload.(RiskAlert); ok {
			alertCh <- a
		}
	})

	deadline := time.After(time.Second)
	for {
		select {
		case a := <-alertCh:
			if a.Metric == "cash_ratio" && a.Severity == SeverityCritical {
				return
			}
		case <-deadline:
			t.Fatal("expected a critical cash_ratio alert")
		}
	}
}
