// Package kis is a live broker.Broker binding against a Korea Investment
// & Securities-style REST order API. Authentication (token fetch/refresh)
// is an external collaborator's concern per spec §1's Non-goals; this
// package only requires a TokenProvider that hands back a currently-valid
// bearer token, and focuses on the core's real contract with the broker:
// rate-limited, retried, idempotent order placement and cancellation.
package kis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/yohan-kwon/kquant-core/internal/broker"
	"github.com/yohan-kwon/kquant-core/internal/types"
)

// TokenProvider returns the bearer token to attach to every REST call.
// Fetching/refreshing it against the broker's auth endpoint is out of
// scope for the core (spec §1).
type TokenProvider func(ctx context.Context) (string, error)

// Config holds the live broker binding's tunables.
type Config struct {
	BaseURL        string
	AccountNo      string
	AppKey         string
	AppSecret      string
	RateLimitRPS   float64       // spec §6 broker_rate_limit, default 18 rps
	RateLimitBurst int
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// DefaultConfig matches spec §6's stated default headroom under a 20rps
// broker cap.
func DefaultConfig() Config {
	return Config{
		RateLimitRPS:   18,
		RateLimitBurst: 18,
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    10 * time.Second,
	}
}

// Broker is a resty-backed, rate-limited binding against a KIS-shaped REST
// order API. It makes one request per call and does not retry itself:
// 429/5xx and network errors are returned wrapped with broker.NewRetriable
// for the caller to retry. Every call blocks on the shared token bucket
// before hitting the wire, so the core never needs to reason about the
// broker's own rate limit (spec §6: "all calls go through a token-bucket
// limiter").
type Broker struct {
	cfg     Config
	client  *resty.Client
	limiter *rate.Limiter
	token   TokenProvider
	logger  zerolog.Logger

	fills    chan broker.FillNotification
	statuses chan broker.StatusChange
	stopPush chan struct{}
}

// New builds a live KIS Broker. token supplies a bearer token per call.
func New(cfg Config, token TokenProvider, logger zerolog.Logger) *Broker {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.ReadTimeout).
		SetHeader("appkey", cfg.AppKey).
		SetHeader("appsecret", cfg.AppSecret)
	client.GetClient().Timeout = cfg.ReadTimeout

	return &Broker{
		cfg:      cfg,
		client:   client,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		token:    token,
		logger:   logger.With().Str("component", "broker.kis").Logger(),
		fills:    make(chan broker.FillNotification, 1024),
		statuses: make(chan broker.StatusChange, 1024),
		stopPush: make(chan struct{}),
	}
}

// placeRequest is the wire shape of a KIS order-placement call.
type placeRequest struct {
	AccountNo     string `json:"account_no"`
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	OrderType     string `json:"order_type"`
	Quantity      int64  `json:"quantity"`
	Price         string `json:"price,omitempty"`
}

type placeResponse struct {
	BrokerOrderID string `json:"broker_order_id"`
	RtCd          string `json:"rt_cd"`
	Msg           string `json:"msg"`
}

// authorize blocks on the rate limiter and attaches the bearer token.
func (b *Broker) authorize(ctx context.Context, req *resty.Request) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("kis: rate limiter: %w", err)
	}
	tok, err := b.token(ctx)
	if err != nil {
		return fmt.Errorf("kis: token: %w", err)
	}
	req.SetAuthToken(tok)
	return nil
}

// Place submits order, reusing order.ID as the broker's client-order-id so
// a caller's retry (same Order, same ID) is idempotent on KIS's side too.
func (b *Broker) Place(ctx context.Context, order types.Order) (broker.PlacementResult, error) {
	req := b.client.R().SetContext(ctx)
	if err := b.authorize(ctx, req); err != nil {
		return broker.PlacementResult{}, err
	}

	body := placeRequest{
		AccountNo:     b.cfg.AccountNo,
		ClientOrderID: order.ID,
		Symbol:        order.Symbol,
		Side:          order.Side.String(),
		OrderType:     order.Type.String(),
		Quantity:      order.Quantity,
	}
	if order.Type == types.OrderTypeLimit {
		body.Price = order.Price.String()
	}

	var out placeResponse
	resp, err := req.SetBody(body).SetResult(&out).Post("/order/place")
	if err != nil {
		return broker.PlacementResult{}, broker.NewRetriable(err)
	}
	if isRetriableStatus(resp.StatusCode()) {
		return broker.PlacementResult{}, broker.NewRetriable(fmt.Errorf("kis: place status %d", resp.StatusCode()))
	}
	if resp.IsError() || out.RtCd != "0" {
		return broker.PlacementResult{}, fmt.Errorf("%w: %s", broker.ErrOrderRejected, out.Msg)
	}
	return broker.PlacementResult{BrokerOrderID: out.BrokerOrderID}, nil
}

// Cancel requests cancellation of a previously placed order.
func (b *Broker) Cancel(ctx context.Context, brokerOrderID string) error {
	req := b.client.R().SetContext(ctx)
	if err := b.authorize(ctx, req); err != nil {
		return err
	}
	resp, err := req.
		SetBody(map[string]string{"account_no": b.cfg.AccountNo, "broker_order_id": brokerOrderID}).
		Post("/order/cancel")
	if err != nil {
		return broker.NewRetriable(err)
	}
	if isRetriableStatus(resp.StatusCode()) {
		return broker.NewRetriable(fmt.Errorf("kis: cancel status %d", resp.StatusCode()))
	}
	if resp.IsError() {
		return fmt.Errorf("kis: cancel failed: status %d", resp.StatusCode())
	}
	return nil
}

// isRetriableStatus classifies HTTP 429/5xx as transient per spec §6.
func isRetriableStatus(code int) bool {
	return code == 429 || code >= 500
}

func (b *Broker) Fills() <-chan broker.FillNotification     { return b.fills }
func (b *Broker) StatusChanges() <-chan broker.StatusChange { return b.statuses }

type accountBalanceResponse struct {
	Cash string `json:"cash"`
}

// AccountCash queries the broker's view of available cash, subject to the
// same rate limiter as every other call.
func (b *Broker) AccountCash(ctx context.Context) (decimal.Decimal, error) {
	req := b.client.R().SetContext(ctx)
	if err := b.authorize(ctx, req); err != nil {
		return decimal.Zero, err
	}
	var out accountBalanceResponse
	resp, err := req.SetQueryParam("account_no", b.cfg.AccountNo).SetResult(&out).Get("/account/balance")
	if err != nil {
		return decimal.Zero, broker.NewRetriable(err)
	}
	if resp.IsError() {
		return decimal.Zero, fmt.Errorf("kis: balance query status %d", resp.StatusCode())
	}
	return decimal.NewFromString(out.Cash)
}

// Close closes the broker's stop channel. This binding starts no
// background goroutine of its own, so there is nothing else to stop.
func (b *Broker) Close() error {
	close(b.stopPush)
	return nil
}
