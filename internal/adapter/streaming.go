package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/yohan-kwon/kquant-core/internal/types"
)

// wireTick is the source's own wire shape before normalization. Field
// names follow a generic aggregator convention; a real broker feed would
// have its own struct here, renamed at this boundary only.
type wireTick struct {
	Symbol string `json:"symbol"`
	Ts     int64  `json:"ts_ms"`
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume int64  `json:"volume"`
}

// StreamingWS is the long-lived-connection adapter variant, grounded on
// gorilla/websocket. It reconnects with exponential backoff and
// re-subscribes every previously subscribed symbol after a reconnect.
type StreamingWS struct {
	url    string
	logger zerolog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	symbols   map[string]bool
	attempts  int
	windowStart time.Time

	ticks   chan types.MarketTick
	healthCb HealthCallback

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStreamingWS builds an adapter dialing url on Connect.
func NewStreamingWS(url string, logger zerolog.Logger) *StreamingWS {
	return &StreamingWS{
		url:     url,
		logger:  logger.With().Str("component", "adapter.streaming").Logger(),
		symbols: make(map[string]bool),
		ticks:   make(chan types.MarketTick, 4096),
	}
}

func (a *StreamingWS) OnHealth(cb HealthCallback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.healthCb = cb
}

func (a *StreamingWS) emitHealth(event HealthEvent, detail string) {
	a.mu.Lock()
	cb := a.healthCb
	a.mu.Unlock()
	if cb != nil {
		cb(event, detail)
	}
}

// Connect dials the websocket, retrying with exponential backoff (1s·2^n,
// cap 60s) up to 5 attempts within a 10-minute window before surfacing
// adapter_failed.
func (a *StreamingWS) Connect(ctx context.Context) error {
	a.mu.Lock()
	a.windowStart = time.Now()
	a.attempts = 0
	a.mu.Unlock()

	if err := a.dialWithRetry(ctx); err != nil {
		a.emitHealth(HealthFailed, err.Error())
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.wg.Add(1)
	go a.readLoop(runCtx)

	return nil
}

func (a *StreamingWS) dialWithRetry(ctx context.Context) error {
	for {
		a.mu.Lock()
		if time.Since(a.windowStart) > ReconnectWindow {
			a.windowStart = time.Now()
			a.attempts = 0
		}
		a.attempts++
		attempt := a.attempts
		a.mu.Unlock()

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.url, nil)
		if err == nil {
			a.mu.Lock()
			a.conn = conn
			a.mu.Unlock()
			return nil
		}

		if attempt >= ReconnectMaxAttempts {
			return fmt.Errorf("adapter_failed: %d attempts exhausted: %w", attempt, err)
		}

		delay := backoffSchedule(attempt)
		a.logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("websocket dial failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (a *StreamingWS) readLoop(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		a.mu.Lock()
		conn := a.conn
		a.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			a.logger.Warn().Err(err).Msg("websocket read failed, reconnecting")
			a.emitHealth(HealthDisconnected, err.Error())
			if rerr := a.reconnect(ctx); rerr != nil {
				a.emitHealth(HealthFailed, rerr.Error())
				return
			}
			a.emitHealth(HealthReconnected, "")
			continue
		}

		var wt wireTick
		if err := json.Unmarshal(data, &wt); err != nil {
			a.logger.Warn().Err(err).Msg("malformed tick, dropped")
			continue
		}

		tick, ok := fromWire(wt)
		if !ok {
			continue
		}
		select {
		case a.ticks <- tick:
		default:
			a.logger.Warn().Str("symbol", tick.Symbol).Msg("tick channel full, dropping tick")
		}
	}
}

// reconnect redials and re-subscribes every previously subscribed
// symbol, per spec §4.C's streaming-variant requirement.
func (a *StreamingWS) reconnect(ctx context.Context) error {
	if err := a.dialWithRetry(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	symbols := make([]string, 0, len(a.symbols))
	for s := range a.symbols {
		symbols = append(symbols, s)
	}
	a.mu.Unlock()

	for _, s := range symbols {
		if err := a.Subscribe(s); err != nil {
			a.logger.Warn().Str("symbol", s).Err(err).Msg("re-subscribe failed after reconnect")
		}
	}
	return nil
}

func fromWire(wt wireTick) (types.MarketTick, bool) {
	close, err := decimal.NewFromString(wt.Close)
	if err != nil {
		return types.MarketTick{}, false
	}
	tick := types.MarketTick{
		Symbol: wt.Symbol,
		TS:     time.UnixMilli(wt.Ts).UTC(),
		Close:  close,
		Volume: wt.Volume,
		Source: "streaming-ws",
	}
	if wt.Open != "" {
		tick.Open, _ = decimal.NewFromString(wt.Open)
	}
	if wt.High != "" {
		tick.High, _ = decimal.NewFromString(wt.High)
	}
	if wt.Low != "" {
		tick.Low, _ = decimal.NewFromString(wt.Low)
	}
	tick = normalize(tick)
	if !validateTick(tick) {
		return types.MarketTick{}, false
	}
	return tick, true
}

func (a *StreamingWS) Subscribe(symbol string) error {
	symbol = types.CanonicalizeSymbol(symbol)
	a.mu.Lock()
	a.symbols[symbol] = true
	conn := a.conn
	a.mu.Unlock()

	if conn == nil {
		return nil
	}
	msg, _ := json.Marshal(map[string]string{"action": "subscribe", "symbol": symbol})
	return conn.WriteMessage(websocket.TextMessage, msg)
}

func (a *StreamingWS) Unsubscribe(symbol string) error {
	symbol = types.CanonicalizeSymbol(symbol)
	a.mu.Lock()
	delete(a.symbols, symbol)
	conn := a.conn
	a.mu.Unlock()

	if conn == nil {
		return nil
	}
	msg, _ := json.Marshal(map[string]string{"action": "unsubscribe", "symbol": symbol})
	return conn.WriteMessage(websocket.TextMessage, msg)
}

func (a *StreamingWS) Ticks() <-chan types.MarketTick {
	return a.ticks
}

func (a *StreamingWS) Disconnect() error {
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	a.wg.Wait()
	return nil
}
