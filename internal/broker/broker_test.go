package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yohan-kwon/kquant-core/internal/types"
)

type stubBroker struct {
	attempts  int
	failUntil int
	retriable bool
}

func (s *stubBroker) Place(ctx context.Context, order types.Order) (PlacementResult, error) {
	s.attempts++
	if s.attempts <= s.failUntil {
		if s.retriable {
			return PlacementResult{}, NewRetriable(errors.New("503 service unavailable"))
		}
		return PlacementResult{}, ErrOrderRejected
	}
	return PlacementResult{BrokerOrderID: "B-1"}, nil
}
func (s *stubBroker) Cancel(ctx context.Context, brokerOrderID string) error { return nil }
func (s *stubBroker) Fills() <-chan FillNotification                        { return nil }
func (s *stubBroker) StatusChanges() <-chan StatusChange                    { return nil }
func (s *stubBroker) AccountCash(ctx context.Context) (decimal.Decimal, error) { return decimal.Zero, nil }
func (s *stubBroker) Close() error                                            { return nil }

func TestPlaceWithRetry_SucceedsAfterRetriableFailures(t *testing.T) {
	b := &stubBroker{failUntil: 2, retriable: true}
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 2}

	res, err := PlaceWithRetry(context.Background(), b, types.Order{}, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.BrokerOrderID != "B-1" {
		t.Errorf("broker order id = %s, want B-1", res.BrokerOrderID)
	}
	if b.attempts != 3 {
		t.Errorf("attempts = %d, want 3", b.attempts)
	}
}

func TestPlaceWithRetry_StopsImmediatelyOnNonRetriable(t *testing.T) {
	b := &stubBroker{failUntil: 5, retriable: false}
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 2}

	_, err := PlaceWithRetry(context.Background(), b, types.Order{}, cfg)
	if !errors.Is(err, ErrOrderRejected) {
		t.Fatalf("err = %v, want ErrOrderRejected", err)
	}
	if b.attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on non-retriable error)", b.attempts)
	}
}

func TestPlaceWithRetry_ExhaustsMaxAttempts(t *testing.T) {
	b := &stubBroker{failUntil: 10, retriable: true}
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 2}

	_, err := PlaceWithRetry(context.Background(), b, types.Order{}, cfg)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if b.attempts != 3 {
		t.Errorf("attempts = %d, want 3", b.attempts)
	}
}

func TestRetryConfig_DelayGrowsExponentially(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2}
	if cfg.Delay(0) != 100*time.Millisecond {
		t.Errorf("delay(0) = %v, want 100ms", cfg.Delay(0))
	}
	if cfg.Delay(1) != 200*time.Millisecond {
		t.Errorf("delay(1) = %v, want 200ms", cfg.Delay(1))
	}
	if cfg.Delay(2) != 400*time.Millisecond {
		t.Errorf("delay(2) = %v, want 400ms", cfg.Delay(2))
	}
}
