// Package main is the composition root for the trading bot: it loads
// configuration, wires the Event Bus, KV Cache, adapters, pipeline,
// analyzer, strategy engine, risk engine, and order engine together, and
// runs them until a termination signal arrives.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/yohan-kwon/kquant-core/internal/adapter"
	"github.com/yohan-kwon/kquant-core/internal/alerting"
	"github.com/yohan-kwon/kquant-core/internal/analyzer"
	"github.com/yohan-kwon/kquant-core/internal/backtest"
	"github.com/yohan-kwon/kquant-core/internal/broker"
	"github.com/yohan-kwon/kquant-core/internal/broker/kis"
	"github.com/yohan-kwon/kquant-core/internal/broker/paper"
	"github.com/yohan-kwon/kquant-core/internal/bus"
	"github.com/yohan-kwon/kquant-core/internal/cache"
	"github.com/yohan-kwon/kquant-core/internal/config"
	"github.com/yohan-kwon/kquant-core/internal/metrics"
	"github.com/yohan-kwon/kquant-core/internal/order"
	"github.com/yohan-kwon/kquant-core/internal/persistence"
	"github.com/yohan-kwon/kquant-core/internal/pipeline"
	"github.com/yohan-kwon/kquant-core/internal/risk"
	"github.com/yohan-kwon/kquant-core/internal/strategy"
	"github.com/yohan-kwon/kquant-core/internal/types"
	"github.com/yohan-kwon/kquant-core/internal/ui"
)

// Version information (set by build flags).
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "validate":
		cmdValidate(os.Args[2:])
	case "run":
		cmdRun(os.Args[2:])
	case "backtest":
		cmdBacktest(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`kquant-core - Korean equities automated trading platform

Usage:
  kquant-core <command> [flags]

Commands:
  run        Start the bot against a configuration file
  backtest   Replay a CSV candle file through the live trading stack
  validate   Validate a configuration file without starting anything
  version    Print version information
  help       Show this message`)
}

func cmdVersion() {
	fmt.Printf("kquant-core %s (build %s, commit %s)\n", Version, BuildTime, GitCommit)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	if _, err := config.Load(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("configuration OK")
}

// queryProvider satisfies metrics.QueryProvider by combining the Order
// Engine's position/order accounting with the Risk Engine's emergency
// latch — the two pieces of read-only state the query server exposes.
type queryProvider struct {
	orders *order.Engine
	risk   *risk.Engine
}

func (q queryProvider) Order(id string) (types.Order, bool)        { return q.orders.Order(id) }
func (q queryProvider) Positions() map[string]types.Position       { return q.orders.Positions() }
func (q queryProvider) RiskContext(ctx context.Context) types.RiskContext {
	return q.orders.RiskContext(ctx)
}
func (q queryProvider) EmergencyStopActive() bool { return q.risk.EmergencyStopActive() }

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	slogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(slogger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slogger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	zlog := zerolog.New(os.Stdout).With().Timestamp().Str("service", "kquant-core").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slogger.Info("kquant-core starting", "version", Version, "symbols", cfg.Market.Symbols, "broker", cfg.Broker.Type)

	// --- Persistence ---
	var repo *persistence.SQLiteRepository
	if cfg.Persistence.Enabled {
		repo, err = persistence.NewSQLiteRepository(cfg.Persistence.Path)
		if err != nil {
			slogger.Error("failed to initialize persistence", "err", err)
			os.Exit(1)
		}
		if err := repo.Migrate(ctx); err != nil {
			slogger.Error("failed to migrate persistence schema", "err", err)
			os.Exit(1)
		}
		defer repo.Close()
	}

	// --- Event Bus ---
	eventBus := bus.NewInProcessBus("kquant-core", zlog)
	if err := eventBus.Start(ctx); err != nil {
		slogger.Error("failed to start event bus", "err", err)
		os.Exit(1)
	}
	defer eventBus.Stop(5 * time.Second)

	if cfg.Bus.NATSURL != "" {
		nb, err := bus.NewNATSBridge(eventBus, cfg.Bus.NATSURL, cfg.Bus.NATSTopics, zlog)
		if err != nil {
			slogger.Warn("failed to connect NATS bridge, continuing without it", "err", err)
		} else {
			defer nb.Close()
		}
	}

	// --- KV Cache ---
	var kvCache cache.Cache
	if cfg.Cache.RedisAddr != "" {
		kvCache = cache.NewRedisCache(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
	} else {
		kvCache = cache.NewMemoryCache(cfg.Cache.MemoryBudgetMB << 20)
	}

	// --- Market data pipeline ---
	mdPipeline := pipeline.New(cfg.ToPipelineConfig(), kvCache, eventBus, zlog)

	// The market-data source is a distinct collaborator from the broker
	// connection (cfg.Broker.BaseURL configures order placement, not
	// quotes); the streaming variant is the default, matching the
	// teacher's own preference for a persistent feed over polling.
	dataAdapter := adapter.NewStreamingWS("wss://market-data.local/ws", zlog)
	dataAdapter.OnHealth(func(event adapter.HealthEvent, detail string) {
		zlog.Warn().Str("event", string(event)).Str("detail", detail).Msg("adapter health event")
	})
	if err := dataAdapter.Connect(ctx); err != nil {
		slogger.Warn("adapter connect failed, continuing; will rely on reconnect policy", "err", err)
	}
	for _, symbol := range cfg.CanonicalSymbols() {
		if err := dataAdapter.Subscribe(symbol); err != nil {
			slogger.Warn("failed to subscribe symbol", "symbol", symbol, "err", err)
		}
	}

	// --- Broker (built before the tick fan-out so the paper broker's
	// mark-price feed can be wired into the same loop; the order engine
	// is built after the Risk Engine, below) ---
	idNode, err := snowflake.NewNode(1)
	if err != nil {
		slogger.Error("failed to create snowflake node", "err", err)
		os.Exit(1)
	}

	var brokerImpl broker.Broker
	var paperBroker *paper.Broker
	switch cfg.Broker.Type {
	case "kis":
		token := func(ctx context.Context) (string, error) {
			if t := os.Getenv("KIS_ACCESS_TOKEN"); t != "" {
				return t, nil
			}
			return "", fmt.Errorf("KIS_ACCESS_TOKEN not set")
		}
		brokerImpl = kis.New(cfg.ToKISConfig(), token, zlog)
	default:
		paperCfg := paper.DefaultConfig()
		paperCfg.InitialCash = decimal.NewFromFloat(cfg.Order.StartingCash)
		paperCfg.Rates = cfg.ToCommissionRates()
		pb, err := paper.NewBroker(paperCfg, idNode)
		if err != nil {
			slogger.Error("failed to create paper broker", "err", err)
			os.Exit(1)
		}
		paperBroker = pb
		brokerImpl = pb
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case tick, ok := <-dataAdapter.Ticks():
				if !ok {
					return
				}
				mdPipeline.Ingest(ctx, tick)
				if paperBroker != nil {
					paperBroker.MarkPrice(tick.Symbol, tick.Close)
				}
			}
		}
	}()

	// --- Technical analyzer ---
	tech := analyzer.New(cfg.ToAnalyzerConfig(), kvCache, eventBus, zlog)
	tech.Start(ctx)

	// --- Strategy engine ---
	strategyEngine := strategy.NewEngine(eventBus, zlog)
	maStrategy := strategy.NewMovingAverageStrategy(cfg.ToMovingAverageConfig())
	strategyEngine.Load(ctx, maStrategy, cfg.CanonicalSymbols())
	strategyEngine.Start(ctx)

	// --- Risk engine and monitors ---
	riskEngine := risk.NewEngine(cfg.ToRiskConfig(), zlog)
	riskEngine.Start(ctx, eventBus)

	stopLossMon := risk.NewStopLossMonitor(cfg.ToStopLossConfig(), kvCache, eventBus, zlog)
	stopLossMon.Start(ctx)

	emergencyMon := risk.NewEmergencyStopMonitor(risk.DefaultEmergencyStopConfig(), riskEngine, eventBus, zlog)
	emergencyMon.Start(ctx)

	// --- Order engine (constructed after the Risk Engine so RiskContext
	// feeds the portfolio monitor below) ---
	orderEngine := order.NewEngine(cfg.ToOrderConfig(), eventBus, kvCache, brokerImpl, riskEngine, zlog)
	orderEngine.OnFill = strategyEngine.RecordFill
	if repo != nil {
		if err := orderEngine.Restore(ctx); err != nil {
			slogger.Warn("failed to restore order state", "err", err)
		}
	}
	orderEngine.Start(ctx)
	defer orderEngine.Stop()

	riskMonitor := risk.NewRiskMonitor(cfg.ToMonitorConfig(), kvCache, eventBus, zlog, func() types.RiskContext {
		return orderEngine.RiskContext(context.Background())
	})
	riskMonitor.Start(ctx)

	// --- Alerting ---
	var alerters []alerting.Alerter
	alerters = append(alerters, alerting.NewConsoleAlerter(slogger))
	if cfg.Alerting.Enabled {
		for _, ch := range cfg.Alerting.Channels {
			if ch.Type == "telegram" {
				alerters = append(alerters, alerting.NewTelegramAlerter(alerting.TelegramConfig{
					BotToken: ch.BotToken,
					ChatID:   ch.ChatID,
				}))
			}
		}
	}
	alerter := alerting.NewMultiAlerter(slogger, alerters...)
	alerter.Alert(ctx, alerting.SeverityInfo, "bot started", "version", Version, "broker", cfg.Broker.Type)

	// --- Metrics / query server ---
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		srvCfg := metrics.DefaultServerConfig()
		srvCfg.Port = cfg.Metrics.Port
		metricsServer = metrics.NewServer(srvCfg, slogger)
		metricsServer.SetQueryProvider(queryProvider{orders: orderEngine, risk: riskEngine})
		metricsServer.RegisterHealthCheck("event_bus", func() metrics.Check {
			return metrics.Check{Status: "healthy"}
		})
		metrics.SetBuildInfo(Version, GitCommit, BuildTime)
		if err := metricsServer.Start(); err != nil {
			slogger.Error("failed to start metrics server", "err", err)
			os.Exit(1)
		}
	}

	slogger.Info("kquant-core running, press Ctrl+C to stop")
	<-ctx.Done()
	slogger.Info("shutdown signal received, draining")

	dataAdapter.Disconnect()

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		metricsServer.Shutdown(shutdownCtx)
		cancel()
	}

	if repo != nil {
		for _, pos := range orderEngine.Positions() {
			if err := repo.SavePosition(context.Background(), pos); err != nil {
				slogger.Warn("failed to persist position on shutdown", "symbol", pos.Symbol, "err", err)
			}
		}
	}

	alerter.Alert(context.Background(), alerting.SeverityInfo, "bot stopped", "version", Version)
	slogger.Info("kquant-core stopped")
}

// cmdBacktest replays a CSV candle file through a scaled-down instance of
// the same production stack run uses (bus, cache, analyzer, strategy
// engine, risk engine, order engine, paper broker) via backtest.Runner,
// rendering the live terminal chart while it runs.
func cmdBacktest(args []string) {
	fs := flag.NewFlagSet("backtest", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	dataPath := fs.String("data", "", "Path to CSV candle file (symbol,ts_rfc3339,open,high,low,close,volume)")
	symbol := fs.String("symbol", "", "Symbol to replay (defaults to the CSV's own symbol column)")
	showUI := fs.Bool("ui", true, "Show the live terminal chart")
	fs.Parse(args)

	if *dataPath == "" {
		fmt.Fprintln(os.Stderr, "backtest: -data is required")
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if *showUI {
		logLevel = slog.LevelError
	}
	slogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(slogger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	candles, err := loadCandlesCSV(*dataPath, *symbol)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load candle data: %v\n", err)
		os.Exit(1)
	}
	if len(candles) == 0 {
		fmt.Fprintln(os.Stderr, "backtest: no candles loaded")
		os.Exit(1)
	}
	replaySymbol := candles[0].Symbol

	zlog := zerolog.Nop()
	ctx := context.Background()

	eventBus := bus.NewInProcessBus("backtest", zlog)
	eventBus.Start(ctx)
	defer eventBus.Stop(time.Second)

	kvCache := cache.NewMemoryCache(cfg.Cache.MemoryBudgetMB << 20)

	tech := analyzer.New(cfg.ToAnalyzerConfig(), kvCache, eventBus, zlog)
	tech.Start(ctx)

	strategyEngine := strategy.NewEngine(eventBus, zlog)
	strategyEngine.Load(ctx, strategy.NewMovingAverageStrategy(cfg.ToMovingAverageConfig()), []string{replaySymbol})
	strategyEngine.Start(ctx)

	riskEngine := risk.NewEngine(cfg.ToRiskConfig(), zlog)
	riskEngine.Start(ctx, eventBus)

	idNode, err := snowflake.NewNode(3)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create snowflake node: %v\n", err)
		os.Exit(1)
	}
	startingCash := decimal.NewFromFloat(cfg.Order.StartingCash)
	paperCfg := paper.DefaultConfig()
	paperCfg.InitialCash = startingCash
	paperCfg.Rates = cfg.ToCommissionRates()
	pb, err := paper.NewBroker(paperCfg, idNode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create paper broker: %v\n", err)
		os.Exit(1)
	}

	orderEngine := order.NewEngine(cfg.ToOrderConfig(), eventBus, kvCache, pb, riskEngine, zlog)
	orderEngine.OnFill = strategyEngine.RecordFill
	orderEngine.Start(ctx)
	defer orderEngine.Stop()

	var backtestUI *ui.BacktestUI
	if *showUI {
		backtestUI = ui.NewBacktestUI(len(candles), startingCash)
		backtestUI.Start()
		defer backtestUI.Stop()
	}

	runnerCfg := backtest.DefaultConfig()
	runnerCfg.InitialEquity = startingCash
	runnerCfg.Interval = cfg.Market.Intervals[0]
	runner := backtest.NewRunner(runnerCfg, kvCache, eventBus, orderEngine, pb.MarkPrice, zlog)

	if backtestUI != nil {
		go func() {
			ticker := time.NewTicker(200 * time.Millisecond)
			defer ticker.Stop()
			for range ticker.C {
				pos := orderEngine.Position(replaySymbol)
				backtestUI.UpdateStats(orderEngine.PortfolioValue(), 0, decimal.Zero, fmt.Sprintf("qty=%d", pos.Qty))
				backtestUI.Render()
			}
		}()
	}

	result, err := runner.Run(ctx, replaySymbol, candles)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backtest run failed: %v\n", err)
		os.Exit(1)
	}

	metricsCalc := backtest.NewMetrics(result, decimal.Zero)
	fmt.Printf("\nBacktest complete: %s (%d bars)\n", replaySymbol, len(candles))
	fmt.Printf("  start equity:  %s\n", result.StartEquity)
	fmt.Printf("  end equity:    %s\n", result.EndEquity)
	fmt.Printf("  total return:  %s\n", result.TotalReturn)
	fmt.Printf("  max drawdown:  %s\n", result.MaxDrawdown)
	fmt.Printf("  trades:        %d (win rate %s)\n", result.TotalTrades, result.WinRate)
	fmt.Printf("  sharpe ratio:  %s\n", metricsCalc.SharpeRatio())
}

// loadCandlesCSV reads a candle file shaped symbol,ts_rfc3339,open,high,low,close,volume.
// If filterSymbol is non-empty, only matching rows are kept.
func loadCandlesCSV(path, filterSymbol string) ([]types.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 7

	var candles []types.Candle
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		symbol := types.CanonicalizeSymbol(record[0])
		if filterSymbol != "" && symbol != types.CanonicalizeSymbol(filterSymbol) {
			continue
		}
		ts, err := time.Parse(time.RFC3339, record[1])
		if err != nil {
			return nil, fmt.Errorf("parse ts %q: %w", record[1], err)
		}
		open, err1 := decimal.NewFromString(record[2])
		high, err2 := decimal.NewFromString(record[3])
		low, err3 := decimal.NewFromString(record[4])
		closePx, err4 := decimal.NewFromString(record[5])
		volume, err5 := strconv.ParseInt(record[6], 10, 64)
		if err := firstErr(err1, err2, err3, err4, err5); err != nil {
			return nil, fmt.Errorf("parse row for %s: %w", symbol, err)
		}
		candles = append(candles, types.Candle{
			Symbol: symbol, Interval: "1m", TS: ts,
			Open: open, High: high, Low: low, Close: closePx, Volume: volume,
		})
	}

	sort.Slice(candles, func(i, j int) bool { return candles[i].TS.Before(candles[j].TS) })
	return candles, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
