// Package config handles configuration loading and validation for the
// composition root: one YAML document feeds every subsystem's own Config
// type rather than subsystems reading the environment directly.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/yohan-kwon/kquant-core/internal/alerting"
	"github.com/yohan-kwon/kquant-core/internal/analyzer"
	"github.com/yohan-kwon/kquant-core/internal/broker/kis"
	"github.com/yohan-kwon/kquant-core/internal/commission"
	"github.com/yohan-kwon/kquant-core/internal/order"
	"github.com/yohan-kwon/kquant-core/internal/pipeline"
	"github.com/yohan-kwon/kquant-core/internal/risk"
	"github.com/yohan-kwon/kquant-core/internal/strategy"
	"github.com/yohan-kwon/kquant-core/internal/types"
)

// Config represents the full application configuration.
type Config struct {
	Market      MarketConfig      `yaml:"market"`
	Risk        RiskConfig        `yaml:"risk"`
	Order       OrderConfig       `yaml:"order"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Broker      BrokerConfig      `yaml:"broker"`
	Bus         BusConfig         `yaml:"bus"`
	Cache       CacheConfig       `yaml:"cache"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Alerting    AlertingConfig    `yaml:"alerting"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Commission  CommissionConfig  `yaml:"commission_rates"`
}

// MarketConfig holds the symbols tracked and the pipeline/analyzer tuning
// that drives candle assembly and indicator computation (spec §6).
type MarketConfig struct {
	Symbols           []string         `yaml:"symbols"`
	Intervals         []string         `yaml:"intervals"`
	RingSize          int              `yaml:"ring_size"`
	IndicatorPeriods  IndicatorPeriods `yaml:"indicator_periods"`
	MinPrice          float64          `yaml:"min_price"`
	MaxPrice          float64          `yaml:"max_price"`
	StalenessSec      int              `yaml:"staleness_threshold_sec"`
	SessionCloseTime  string           `yaml:"session_close_time"` // "HH:MM" KST
}

// IndicatorPeriods mirrors analyzer.Config's tunables in YAML form.
type IndicatorPeriods struct {
	SMAPeriods   []int   `yaml:"sma_periods"`
	EMAFast      int     `yaml:"ema_fast"`
	EMASlow      int     `yaml:"ema_slow"`
	RSIPeriod    int     `yaml:"rsi_period"`
	MACDFast     int     `yaml:"macd_fast"`
	MACDSlow     int     `yaml:"macd_slow"`
	MACDSignal   int     `yaml:"macd_signal"`
	BBPeriod     int     `yaml:"bb_period"`
	BBNumStdDevs float64 `yaml:"bb_num_std_devs"`
	StochPeriod  int     `yaml:"stoch_period"`
	StochSmooth  int     `yaml:"stoch_smooth"`
	ATRPeriod    int     `yaml:"atr_period"`
}

// RiskConfig mirrors risk.Config plus the monitor/stop-loss/emergency-stop
// companions' tunables (spec §6, §4.F/G).
type RiskConfig struct {
	MaxDailyLoss        float64 `yaml:"max_daily_loss"`
	MaxMonthlyLoss      float64 `yaml:"max_monthly_loss"`
	MaxPositionRatio    float64 `yaml:"max_position_ratio"`
	MaxSectorRatio      float64 `yaml:"max_sector_ratio"`
	MaxTotalExposure    float64 `yaml:"max_total_exposure"`
	MinCashReserveRatio float64 `yaml:"min_cash_reserve_ratio"`
	MaxOrdersPerDay     int     `yaml:"max_orders_per_day"`
	MaxConsecLosses     int     `yaml:"max_consecutive_losses"`
	MinOrderValue       float64 `yaml:"min_order_value"`
	MaxOrderValue       float64 `yaml:"max_order_value"`
	RiskCheckTimeoutMs  int     `yaml:"risk_check_timeout_ms"`

	StopLossPct       float64 `yaml:"stop_loss_pct"`
	TakeProfitPct     float64 `yaml:"take_profit_pct"`
	TrailingOffsetPct float64 `yaml:"trailing_offset_pct"`

	MonitorIntervalSec int `yaml:"monitor_interval_sec"`
}

// OrderConfig mirrors order.Config's timeout/queue tunables.
type OrderConfig struct {
	MaxConcurrentSubmissions int     `yaml:"max_concurrent_submissions"`
	PriorityTimeoutSec       int     `yaml:"priority_timeout_s"`
	MaxPartialFillTimeSec    int     `yaml:"max_partial_fill_time_s"`
	MaxFillsPerOrder         int     `yaml:"max_fills_per_order"`
	DefaultQuantity          int64   `yaml:"default_quantity"`
	StartingCash             float64 `yaml:"starting_cash"`
	Sectors                  map[string]string `yaml:"sectors"`
}

// StrategyConfig parameterizes the built-in moving-average strategy.
type StrategyConfig struct {
	K                  float64 `yaml:"k"`
	SessionCloseHour   int     `yaml:"session_close_hour"`
	SessionCloseMinute int     `yaml:"session_close_minute"`
	MinTurnover5d      float64 `yaml:"min_turnover_5d"`
	TimeoutMs          int     `yaml:"strategy_timeout_ms"`
}

// BrokerConfig selects and configures the broker binding.
type BrokerConfig struct {
	Type           string  `yaml:"type"` // paper | kis
	RateLimitRPS   float64 `yaml:"broker_rate_limit"`
	RateLimitBurst int     `yaml:"broker_rate_limit_burst"`
	BaseURL        string  `yaml:"base_url"`
	AccountNo      string  `yaml:"account_no"`
	AppKey         string  `yaml:"app_key"`
	AppSecret      string  `yaml:"app_secret"`
}

// BusConfig tunes the Event Bus's subscriber buffering and optional NATS
// bridge.
type BusConfig struct {
	SubscriberBuffer int      `yaml:"bus_subscriber_buffer"`
	NATSURL          string   `yaml:"nats_url"`
	NATSTopics       []string `yaml:"nats_bridge_topics"`
}

// CacheConfig selects the KV Cache backing store.
type CacheConfig struct {
	RedisAddr       string `yaml:"redis_addr"`
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
	MemoryBudgetMB  int64  `yaml:"memory_budget_mb"`
}

// PersistenceConfig holds persistence settings.
type PersistenceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AlertingConfig holds alerting settings.
type AlertingConfig struct {
	Enabled  bool            `yaml:"enabled"`
	Channels []ChannelConfig `yaml:"channels"`
}

// ChannelConfig holds a single alert channel configuration.
type ChannelConfig struct {
	Type     string `yaml:"type"` // telegram | console
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// MetricsConfig holds metrics/query server settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// CommissionConfig mirrors commission.Rates in YAML form.
type CommissionConfig struct {
	BrokerageRate   float64 `yaml:"brokerage_rate"`
	MinBrokerageFee float64 `yaml:"min_brokerage_fee"`
	ExchangeRate    float64 `yaml:"exchange_rate"`
	ClearingRate    float64 `yaml:"clearing_rate"`
	TxTaxRate       float64 `yaml:"tx_tax_rate"`
	RuralTaxRate    float64 `yaml:"rural_tax_rate"`
}

// Load loads configuration from a YAML file, expanding ${ENV_VAR}
// references (e.g. broker credentials) before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Default returns a Config seeded from every subsystem's own defaults, so
// a YAML document only needs to override what differs from them.
func Default() Config {
	riskCfg := risk.DefaultConfig()
	ord := order.DefaultConfig()
	mon := risk.DefaultMonitorConfig().Interval
	rates := commission.DefaultRates()

	return Config{
		Market: MarketConfig{
			Symbols:   []string{},
			Intervals: []string{"1m", "5m"},
			RingSize:  200,
			IndicatorPeriods: IndicatorPeriods{
				SMAPeriods:   []int{5, 20},
				EMAFast:      12,
				EMASlow:      26,
				RSIPeriod:    14,
				MACDFast:     12,
				MACDSlow:     26,
				MACDSignal:   9,
				BBPeriod:     20,
				BBNumStdDevs: 2,
				StochPeriod:  14,
				StochSmooth:  3,
				ATRPeriod:    14,
			},
			MinPrice:         1,
			MaxPrice:         10_000_000,
			StalenessSec:     300,
			SessionCloseTime: "15:20",
		},
		Risk: RiskConfig{
			MaxDailyLoss:        f(riskCfg.MaxDailyLoss),
			MaxMonthlyLoss:      f(riskCfg.MaxMonthlyLoss),
			MaxPositionRatio:    f(riskCfg.MaxPositionRatio),
			MaxSectorRatio:      f(riskCfg.MaxSectorRatio),
			MaxTotalExposure:    f(riskCfg.MaxTotalExposure),
			MinCashReserveRatio: f(riskCfg.MinCashReserveRatio),
			MaxOrdersPerDay:     riskCfg.MaxOrdersPerDay,
			MaxConsecLosses:     riskCfg.MaxConsecLosses,
			MinOrderValue:       f(riskCfg.MinOrderValue),
			MaxOrderValue:       f(riskCfg.MaxOrderValue),
			RiskCheckTimeoutMs:  int(riskCfg.CheckTimeout / time.Millisecond),
			StopLossPct:         0.03,
			TakeProfitPct:       0.06,
			TrailingOffsetPct:   0.02,
			MonitorIntervalSec:  int(mon / time.Second),
		},
		Order: OrderConfig{
			MaxConcurrentSubmissions: ord.MaxConcurrentSubmissions,
			PriorityTimeoutSec:       int(ord.PriorityTimeout / time.Second),
			MaxPartialFillTimeSec:    int(ord.MaxPartialFillTime / time.Second),
			MaxFillsPerOrder:         ord.MaxFillsPerOrder,
			DefaultQuantity:          ord.DefaultQuantity,
			StartingCash:             10_000_000,
			Sectors:                  map[string]string{},
		},
		Strategy: StrategyConfig{
			K:                  2.0,
			SessionCloseHour:   15,
			SessionCloseMinute: 20,
			MinTurnover5d:      0,
			TimeoutMs:          200,
		},
		Broker: BrokerConfig{
			Type:           "paper",
			RateLimitRPS:   18,
			RateLimitBurst: 18,
		},
		Bus: BusConfig{
			SubscriberBuffer: 1024,
		},
		Cache: CacheConfig{
			MemoryBudgetMB: 150,
		},
		Persistence: PersistenceConfig{
			Enabled: true,
			Path:    "kquant.db",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Commission: CommissionConfig{
			BrokerageRate:   f(rates.BrokerageRate),
			MinBrokerageFee: f(rates.MinBrokerageFee),
			ExchangeRate:    f(rates.ExchangeRate),
			ClearingRate:    f(rates.ClearingRate),
			TxTaxRate:       f(rates.TxTaxRate),
			RuralTaxRate:    f(rates.RuralTaxRate),
		},
	}
}

func f(d decimal.Decimal) float64 { v, _ := d.Float64(); return v }

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if len(c.Market.Symbols) == 0 {
		errs = append(errs, "market.symbols must contain at least one symbol")
	}
	for _, sym := range c.Market.Symbols {
		if types.CanonicalizeSymbol(sym) == "" {
			errs = append(errs, fmt.Sprintf("market.symbols: %q is not a valid symbol", sym))
		}
	}
	if c.Market.RingSize <= 0 {
		errs = append(errs, "market.ring_size must be positive")
	}

	if c.Risk.MaxPositionRatio <= 0 || c.Risk.MaxPositionRatio > 1 {
		errs = append(errs, "risk.max_position_ratio must be between 0 and 1")
	}
	if c.Risk.MaxSectorRatio <= 0 || c.Risk.MaxSectorRatio > 1 {
		errs = append(errs, "risk.max_sector_ratio must be between 0 and 1")
	}
	if c.Risk.MaxTotalExposure <= 0 {
		errs = append(errs, "risk.max_total_exposure must be positive")
	}
	if c.Risk.MinOrderValue < 0 || c.Risk.MaxOrderValue <= c.Risk.MinOrderValue {
		errs = append(errs, "risk.max_order_value must exceed risk.min_order_value")
	}

	if c.Order.StartingCash <= 0 {
		errs = append(errs, "order.starting_cash must be positive")
	}

	switch c.Broker.Type {
	case "paper", "kis":
	default:
		errs = append(errs, "broker.type must be 'paper' or 'kis'")
	}
	if c.Broker.Type == "kis" {
		if c.Broker.BaseURL == "" {
			errs = append(errs, "broker.base_url is required when broker.type is 'kis'")
		}
		if c.Broker.AccountNo == "" {
			errs = append(errs, "broker.account_no is required when broker.type is 'kis'")
		}
	}
	if c.Broker.RateLimitRPS <= 0 || c.Broker.RateLimitRPS > 20 {
		errs = append(errs, "broker.broker_rate_limit must be in (0, 20] to keep headroom under the exchange cap")
	}

	if c.Persistence.Enabled && c.Persistence.Path == "" {
		errs = append(errs, "persistence.path is required when persistence.enabled")
	}

	if c.Alerting.Enabled {
		for i, ch := range c.Alerting.Channels {
			if ch.Type != "telegram" && ch.Type != "console" {
				errs = append(errs, fmt.Sprintf("alerting.channels[%d].type must be 'telegram' or 'console'", i))
			}
			if ch.Type == "telegram" && (ch.BotToken == "" || ch.ChatID == "") {
				errs = append(errs, fmt.Sprintf("alerting.channels[%d]: telegram requires bot_token and chat_id", i))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// ToRiskConfig converts to risk.Config.
func (c *Config) ToRiskConfig() risk.Config {
	return risk.Config{
		MaxPositionRatio:    decimal.NewFromFloat(c.Risk.MaxPositionRatio),
		MaxSectorRatio:      decimal.NewFromFloat(c.Risk.MaxSectorRatio),
		MaxDailyLoss:        decimal.NewFromFloat(c.Risk.MaxDailyLoss),
		MaxMonthlyLoss:      decimal.NewFromFloat(c.Risk.MaxMonthlyLoss),
		MinCashReserveRatio: decimal.NewFromFloat(c.Risk.MinCashReserveRatio),
		MaxOrdersPerDay:     c.Risk.MaxOrdersPerDay,
		MaxConsecLosses:     c.Risk.MaxConsecLosses,
		MaxTotalExposure:    decimal.NewFromFloat(c.Risk.MaxTotalExposure),
		MinOrderValue:       decimal.NewFromFloat(c.Risk.MinOrderValue),
		MaxOrderValue:       decimal.NewFromFloat(c.Risk.MaxOrderValue),
		CheckTimeout:        time.Duration(c.Risk.RiskCheckTimeoutMs) * time.Millisecond,
	}
}

// ToStopLossConfig converts to risk.StopLossConfig.
func (c *Config) ToStopLossConfig() risk.StopLossConfig {
	return risk.StopLossConfig{
		StopPct:            decimal.NewFromFloat(c.Risk.StopLossPct),
		TakePct:            decimal.NewFromFloat(c.Risk.TakeProfitPct),
		TrailingOffsetPct:  decimal.NewFromFloat(c.Risk.TrailingOffsetPct),
		BreakEvenThreshold: decimal.NewFromFloat(c.Risk.TakeProfitPct / 3),
		UseTrailing:        true,
		UseBreakEven:       true,
	}
}

// ToMonitorConfig converts to risk.MonitorConfig, keeping its fixed
// thresholds but applying the configured sweep interval.
func (c *Config) ToMonitorConfig() risk.MonitorConfig {
	mc := risk.DefaultMonitorConfig()
	if c.Risk.MonitorIntervalSec > 0 {
		mc.Interval = time.Duration(c.Risk.MonitorIntervalSec) * time.Second
	}
	return mc
}

// ToOrderConfig converts to order.Config.
func (c *Config) ToOrderConfig() order.Config {
	oc := order.DefaultConfig()
	oc.MaxConcurrentSubmissions = c.Order.MaxConcurrentSubmissions
	oc.PriorityTimeout = time.Duration(c.Order.PriorityTimeoutSec) * time.Second
	oc.MaxPartialFillTime = time.Duration(c.Order.MaxPartialFillTimeSec) * time.Second
	oc.MaxFillsPerOrder = c.Order.MaxFillsPerOrder
	oc.DefaultQuantity = c.Order.DefaultQuantity
	oc.StartingCash = decimal.NewFromFloat(c.Order.StartingCash)
	oc.Sectors = c.Order.Sectors
	oc.RiskCheckTimeout = time.Duration(c.Risk.RiskCheckTimeoutMs) * time.Millisecond
	oc.Rates = c.ToCommissionRates()
	return oc
}

// ToCommissionRates converts to commission.Rates.
func (c *Config) ToCommissionRates() commission.Rates {
	return commission.Rates{
		BrokerageRate:   decimal.NewFromFloat(c.Commission.BrokerageRate),
		MinBrokerageFee: decimal.NewFromFloat(c.Commission.MinBrokerageFee),
		ExchangeRate:    decimal.NewFromFloat(c.Commission.ExchangeRate),
		ClearingRate:    decimal.NewFromFloat(c.Commission.ClearingRate),
		TxTaxRate:       decimal.NewFromFloat(c.Commission.TxTaxRate),
		RuralTaxRate:    decimal.NewFromFloat(c.Commission.RuralTaxRate),
	}
}

// ToPipelineConfig converts to pipeline.Config.
func (c *Config) ToPipelineConfig() pipeline.Config {
	return pipeline.Config{
		MinPrice:           decimal.NewFromFloat(c.Market.MinPrice),
		MaxPrice:           decimal.NewFromFloat(c.Market.MaxPrice),
		StalenessThreshold: time.Duration(c.Market.StalenessSec) * time.Second,
		OutlierZ:           decimal.NewFromInt(8),
		Intervals:          c.Market.Intervals,
		RingSize:           c.Market.RingSize,
	}
}

// ToAnalyzerConfig converts to analyzer.Config.
func (c *Config) ToAnalyzerConfig() analyzer.Config {
	p := c.Market.IndicatorPeriods
	return analyzer.Config{
		SMAPeriods:   p.SMAPeriods,
		EMAFast:      p.EMAFast,
		EMASlow:      p.EMASlow,
		RSIPeriod:    p.RSIPeriod,
		MACDFast:     p.MACDFast,
		MACDSlow:     p.MACDSlow,
		MACDSignal:   p.MACDSignal,
		BBPeriod:     p.BBPeriod,
		BBNumStdDevs: decimal.NewFromFloat(p.BBNumStdDevs),
		StochPeriod:  p.StochPeriod,
		StochSmooth:  p.StochSmooth,
		ATRPeriod:    p.ATRPeriod,
	}
}

// ToMovingAverageConfig converts to strategy.MovingAverageConfig.
func (c *Config) ToMovingAverageConfig() strategy.MovingAverageConfig {
	return strategy.MovingAverageConfig{
		K:                  decimal.NewFromFloat(c.Strategy.K),
		SessionCloseHour:   c.Strategy.SessionCloseHour,
		SessionCloseMinute: c.Strategy.SessionCloseMinute,
		MinTurnover5d:      decimal.NewFromFloat(c.Strategy.MinTurnover5d),
	}
}

// ToKISConfig converts to kis.Config.
func (c *Config) ToKISConfig() kis.Config {
	kc := kis.DefaultConfig()
	kc.BaseURL = c.Broker.BaseURL
	kc.AccountNo = c.Broker.AccountNo
	kc.AppKey = c.Broker.AppKey
	kc.AppSecret = c.Broker.AppSecret
	kc.RateLimitRPS = c.Broker.RateLimitRPS
	if c.Broker.RateLimitBurst > 0 {
		kc.RateLimitBurst = c.Broker.RateLimitBurst
	}
	return kc
}

// CanonicalSymbols returns Market.Symbols canonicalized to 6-digit KRX
// codes, de-duplicated.
func (c *Config) CanonicalSymbols() []string {
	seen := make(map[string]bool, len(c.Market.Symbols))
	out := make([]string, 0, len(c.Market.Symbols))
	for _, raw := range c.Market.Symbols {
		sym := types.CanonicalizeSymbol(raw)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out
}

// AdapterPollInterval is the polled HTTP adapter's refresh interval when
// no streaming WS endpoint is configured.
func (c *Config) AdapterPollInterval() time.Duration {
	return time.Second
}

// IsAlertEventEnabled reports whether alerting is enabled at all; event
// filtering beyond this composition root is the concern of each alerter.
func (c *Config) IsAlertEventEnabled() bool {
	return c.Alerting.Enabled
}

// Alerters builds the configured alert channels.
func (c *Config) Alerters(logger *slog.Logger) []alerting.Alerter {
	var out []alerting.Alerter
	for _, ch := range c.Alerting.Channels {
		switch ch.Type {
		case "telegram":
			out = append(out, alerting.NewTelegramAlerter(alerting.TelegramConfig{
				BotToken: ch.BotToken,
				ChatID:   ch.ChatID,
			}))
		case "console":
			out = append(out, alerting.NewConsoleAlerter(logger))
		}
	}
	return out
}
