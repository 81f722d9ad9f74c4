package risk

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	busp "github.com/yohan-kwon/kquant-core/internal/bus"
	"github.com/yohan-kwon/kquant-core/internal/types"
)

func TestEmergencyStopMonitor_ArmsOnDailyLoss(t *testing.T) {
	b := newTestBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("bus start: %v", err)
	}
	defer b.Stop(time.Second)

	engine := NewEngine(DefaultConfig(), zerolog.Nop())
	cfg := DefaultEmergencyStopConfig()
	cfg.PollInterval = 20 * time.Millisecond
	mon := NewEmergencyStopMonitor(cfg, engine, b, zerolog.Nop())
	mon.Start(ctx)

	mon.UpdateContext(types.RiskContext{RealizedPnLToday: decVal("-600000")})

	deadline := time.After(time.Second)
	for !engine.EmergencyStopActive() {
		select {
		case <-deadline:
			t.Fatal("emergency stop never armed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestEmergencyStopMonitor_DisarmRequiresToken(t *testing.T) {
	b := newTestBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := NewEngine(DefaultConfig(), zerolog.Nop())
	engine.ArmEmergencyStop("manual_trigger")

	cfg := DefaultEmergencyStopConfig()
	cfg.ResetToken = "secret"
	mon := NewEmergencyStopMonitor(cfg, engine, b, zerolog.Nop())

	if err := mon.Disarm(ctx, "wrong"); err == nil {
		t.Fatal("expected error disarming with wrong token")
	}
	if !engine.EmergencyStopActive() {
		t.Fatal("should still be armed after failed disarm")
	}

	if err := b.Start(ctx); err != nil {
		t.Fatalf("bus start: %v", err)
	}
	defer b.Stop(time.Second)

	if err := mon.Disarm(ctx, "secret"); err != nil {
		t.Fatalf("disarm: %v", err)
	}
	if engine.EmergencyStopActive() {
		t.Fatal("should be disarmed after correct token")
	}
}

func TestEmergencyStopMonitor_ArmsOnConsecutiveLosses(t *testing.T) {
	b := newTestBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("bus start: %v", err)
	}
	defer b.Stop(time.Second)

	engine := NewEngine(DefaultConfig(), zerolog.Nop())
	cfg := DefaultEmergencyStopConfig()
	cfg.PollInterval = 20 * time.Millisecond
	cfg.MaxConsecutiveLoss = 3
	mon := NewEmergencyStopMonitor(cfg, engine, b, zerolog.Nop())
	mon.Start(ctx)

	mon.UpdateContext(types.RiskContext{ConsecutiveLosses: 3})

	deadline := time.After(time.Second)
	for !engine.EmergencyStopActive() {
		select {
		case <-deadline:
			t.Fatal("emergency stop never armed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
