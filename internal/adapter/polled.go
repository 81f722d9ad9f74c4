package adapter

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/yohan-kwon/kquant-core/internal/types"
)

// polledTick is the JSON shape of the polled HTTP source's quote
// response for one symbol.
type polledTick struct {
	Symbol string `json:"symbol"`
	TsMs   int64  `json:"ts_ms"`
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume int64  `json:"volume"`
}

// PolledHTTP pulls quotes on a fixed interval per symbol, jittered ±10%
// to avoid synchronized bursts against the upstream source.
type PolledHTTP struct {
	client   *resty.Client
	baseURL  string
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	symbols map[string]context.CancelFunc
	ticks   chan types.MarketTick
	healthCb HealthCallback

	rng *rand.Rand
}

// NewPolledHTTP builds a polling adapter against baseURL, polling each
// subscribed symbol every interval (jittered). Connecting times out after
// 5s and a whole request after 10s.
func NewPolledHTTP(baseURL string, interval time.Duration, logger zerolog.Logger) *PolledHTTP {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: 5 * time.Second}).DialContext
	client := resty.New().
		SetTransport(transport).
		SetTimeout(10 * time.Second).
		SetRetryCount(0)
	client.GetClient().Timeout = 10 * time.Second

	return &PolledHTTP{
		client:   client,
		baseURL:  baseURL,
		interval: interval,
		logger:   logger.With().Str("component", "adapter.polled").Logger(),
		symbols:  make(map[string]context.CancelFunc),
		ticks:    make(chan types.MarketTick, 4096),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (a *PolledHTTP) OnHealth(cb HealthCallback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.healthCb = cb
}

// Connect is a no-op for the polled variant beyond a reachability probe —
// there is no persistent connection to hold open. The probe is retried on
// the shared backoff schedule up to ReconnectMaxAttempts times.
func (a *PolledHTTP) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= ReconnectMaxAttempts; attempt++ {
		resp, err := a.client.R().SetContext(ctx).Get(a.baseURL + "/health")
		if err == nil && !resp.IsError() {
			return nil
		}
		if err == nil {
			err = fmt.Errorf("adapter.polled: health probe status %d", resp.StatusCode())
		}
		lastErr = err
		if attempt < ReconnectMaxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffSchedule(attempt)):
			}
		}
	}
	if a.healthCb != nil {
		a.healthCb(HealthFailed, "health probe failed")
	}
	return lastErr
}

func (a *PolledHTTP) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for symbol, cancel := range a.symbols {
		cancel()
		delete(a.symbols, symbol)
	}
	return nil
}

func (a *PolledHTTP) jitteredInterval() time.Duration {
	jitter := 0.9 + a.rng.Float64()*0.2 // ±10%
	return time.Duration(float64(a.interval) * jitter)
}

func (a *PolledHTTP) Subscribe(symbol string) error {
	symbol = types.CanonicalizeSymbol(symbol)

	a.mu.Lock()
	if _, exists := a.symbols[symbol]; exists {
		a.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.symbols[symbol] = cancel
	a.mu.Unlock()

	go a.pollLoop(ctx, symbol)
	return nil
}

func (a *PolledHTTP) pollLoop(ctx context.Context, symbol string) {
	for {
		delay := a.jitteredInterval()
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		tick, err := a.fetch(ctx, symbol)
		if err != nil {
			a.logger.Warn().Str("symbol", symbol).Err(err).Msg("poll failed")
			continue
		}

		select {
		case a.ticks <- tick:
		default:
			a.logger.Warn().Str("symbol", symbol).Msg("tick channel full, dropping tick")
		}
	}
}

func (a *PolledHTTP) fetch(ctx context.Context, symbol string) (types.MarketTick, error) {
	var pt polledTick
	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&pt).
		Get(a.baseURL + "/quote")
	if err != nil {
		return types.MarketTick{}, err
	}
	if resp.IsError() {
		return types.MarketTick{}, fmt.Errorf("polled source returned status %d", resp.StatusCode())
	}

	close, err := decimal.NewFromString(pt.Close)
	if err != nil {
		return types.MarketTick{}, err
	}
	tick := types.MarketTick{
		Symbol: pt.Symbol,
		TS:     time.UnixMilli(pt.TsMs).UTC(),
		Close:  close,
		Volume: pt.Volume,
		Source: "polled-http",
	}
	if pt.Open != "" {
		tick.Open, _ = decimal.NewFromString(pt.Open)
	}
	if pt.High != "" {
		tick.High, _ = decimal.NewFromString(pt.High)
	}
	if pt.Low != "" {
		tick.Low, _ = decimal.NewFromString(pt.Low)
	}
	tick = normalize(tick)
	if !validateTick(tick) {
		return types.MarketTick{}, types.ErrMissingField
	}
	return tick, nil
}

func (a *PolledHTTP) Unsubscribe(symbol string) error {
	symbol = types.CanonicalizeSymbol(symbol)
	a.mu.Lock()
	defer a.mu.Unlock()
	if cancel, ok := a.symbols[symbol]; ok {
		cancel()
		delete(a.symbols, symbol)
	}
	return nil
}

func (a *PolledHTTP) Ticks() <-chan types.MarketTick {
	return a.ticks
}
