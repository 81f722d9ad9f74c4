package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kquant"

var (
	// OrdersTotal counts orders by symbol, side, and terminal status.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_total",
		Help:      "Total number of orders submitted, labeled by symbol, side, and status.",
	}, []string{"symbol", "side", "status"})

	// TradesTotal counts completed round-trip trades by symbol, side, and outcome.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "trades_total",
		Help:      "Total number of completed trades, labeled by symbol, side, and outcome (win/loss).",
	}, []string{"symbol", "side", "outcome"})

	// PositionsOpen is the number of currently open positions per symbol.
	PositionsOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "positions_open",
		Help:      "Number of currently open positions, labeled by symbol.",
	}, []string{"symbol"})

	// PositionContracts is the net open quantity held per symbol/side.
	PositionContracts = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "position_contracts",
		Help:      "Net open quantity held, labeled by symbol and side.",
	}, []string{"symbol", "side"})

	// EquityCurrent is the latest mark-to-market portfolio value.
	EquityCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "equity_current",
		Help:      "Current mark-to-market portfolio value in KRW.",
	})

	// EquityHighWaterMark is the peak portfolio value observed.
	EquityHighWaterMark = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "equity_high_water_mark",
		Help:      "Peak mark-to-market portfolio value observed, in KRW.",
	})

	// DrawdownCurrent is the current drawdown ratio off the high water mark.
	DrawdownCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "drawdown_current",
		Help:      "Current drawdown as a ratio of the high water mark.",
	})

	// DailyPL is realized plus unrealized P&L for the current trading day.
	DailyPL = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "daily_pl",
		Help:      "Realized plus unrealized profit and loss for the current trading day, in KRW.",
	})

	// TotalPL is realized plus unrealized P&L since the engine started tracking.
	TotalPL = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "total_pl",
		Help:      "Realized plus unrealized profit and loss since startup, in KRW.",
	})

	// SafeModeActive is 1 when the emergency-stop/safe-mode monitor has tripped.
	SafeModeActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "safe_mode_active",
		Help:      "1 if the emergency stop is currently active, 0 otherwise.",
	})

	// SignalsGenerated counts strategy signals by strategy name and side.
	SignalsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signals_generated_total",
		Help:      "Total number of strategy signals generated, labeled by strategy and side.",
	}, []string{"strategy", "side"})

	// SignalsRejected counts signals the risk engine rejected, by reason.
	SignalsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signals_rejected_total",
		Help:      "Total number of signals rejected by the risk engine, labeled by reason.",
	}, []string{"reason"})

	// OrderLatency measures end-to-end order placement latency.
	OrderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "order_latency_seconds",
		Help:      "Latency of order placement end-to-end, in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	// DataFeedLatency measures tick-to-ingest latency on the market data pipeline.
	DataFeedLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "data_feed_latency_seconds",
		Help:      "Latency from tick timestamp to pipeline ingest, in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	// StrategyLatency measures per-strategy evaluation latency.
	StrategyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "strategy_latency_seconds",
		Help:      "Latency of a single strategy evaluation, labeled by strategy name.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"strategy"})

	// HeartbeatTimestamp is the unix timestamp of the last recorded heartbeat.
	HeartbeatTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "heartbeat_timestamp",
		Help:      "Unix timestamp of the last recorded system heartbeat.",
	})

	// DataFeedConnected is 1 when the market data adapter is connected.
	DataFeedConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "data_feed_connected",
		Help:      "1 if the market data adapter is connected, 0 otherwise.",
	})

	// BrokerConnected is 1 when the broker connection is healthy.
	BrokerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "broker_connected",
		Help:      "1 if the broker connection is healthy, 0 otherwise.",
	})

	// UptimeSeconds is the process uptime in seconds, set at startup.
	UptimeSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Process uptime in seconds.",
	})

	// ErrorsTotal counts internal errors by type.
	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Total number of internal errors, labeled by error type.",
	}, []string{"type"})

	// BuildInfo exposes build metadata as a single always-1 gauge with labels.
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build metadata; the sample value is always 1, the metadata is in the labels.",
	}, []string{"version", "commit", "build_time"})
)

// SetBuildInfo publishes version metadata as a single labeled gauge sample,
// the conventional Prometheus exporter pattern for static build info.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.Reset()
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
