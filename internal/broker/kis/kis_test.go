package kis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yohan-kwon/kquant-core/internal/broker"
	"github.com/yohan-kwon/kquant-core/internal/types"
)

func staticToken(ctx context.Context) (string, error) { return "test-token", nil }

func TestBroker_Place(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		json.NewEncoder(w).Encode(placeResponse{BrokerOrderID: "B-1", RtCd: "0"})
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.AccountNo = "ACC-1"
	b := New(cfg, staticToken, zerolog.Nop())

	order := types.Order{ID: uuid.NewString(), Symbol: "005930", Side: types.SideBuy, Type: types.OrderTypeMarket, Quantity: 10}
	res, err := b.Place(context.Background(), order)
	if err != nil {
		t.Fatalf("Place() error = %v", err)
	}
	if res.BrokerOrderID != "B-1" {
		t.Errorf("BrokerOrderID = %s, want B-1", res.BrokerOrderID)
	}
}

func TestBroker_PlaceRetriableOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	b := New(cfg, staticToken, zerolog.Nop())

	order := types.Order{ID: uuid.NewString(), Symbol: "005930", Side: types.SideBuy, Type: types.OrderTypeMarket, Quantity: 10}
	_, err := b.Place(context.Background(), order)
	if !broker.IsRetriable(err) {
		t.Errorf("expected a retriable error for a 503 response, got %v", err)
	}
}

func TestBroker_RateLimiterBlocksBurst(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		json.NewEncoder(w).Encode(placeResponse{BrokerOrderID: "B", RtCd: "0"})
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.RateLimitRPS = 2
	cfg.RateLimitBurst = 1
	b := New(cfg, staticToken, zerolog.Nop())

	order := types.Order{ID: uuid.NewString(), Symbol: "005930", Side: types.SideBuy, Type: types.OrderTypeMarket, Quantity: 1}

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := b.Place(context.Background(), order); err != nil {
			t.Fatalf("Place() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 500*time.Millisecond {
		t.Errorf("expected the rate limiter to space out 3 calls at 2rps/burst 1, took %s", elapsed)
	}
	if hits != 3 {
		t.Errorf("hits = %d, want 3", hits)
	}
}

func TestBroker_Cancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	b := New(cfg, staticToken, zerolog.Nop())

	if err := b.Cancel(context.Background(), "B-1"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
}

func TestBroker_AccountCash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(accountBalanceResponse{Cash: "1000000"})
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	b := New(cfg, staticToken, zerolog.Nop())

	cash, err := b.AccountCash(context.Background())
	if err != nil {
		t.Fatalf("AccountCash() error = %v", err)
	}
	if cash.String() != "1000000" {
		t.Errorf("cash = %s, want 1000000", cash)
	}
}
