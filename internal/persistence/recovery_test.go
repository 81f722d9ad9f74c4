package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yohan-kwon/kquant-core/internal/types"
)

// TestRecovery_OpenOrdersSurviveRestart verifies that orders left open at
// process exit are still visible to GetOpenOrders after reopening the
// database.
func TestRecovery_OpenOrdersSurviveRestart(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "recovery_test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	dbPath := filepath.Join(tmpDir, "test.db")
	ctx := context.Background()

	repo1, err := NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}

	order := sampleOrder("ord-restart")
	order.State = types.OrderQueued
	if err := repo1.SaveOrder(ctx, order); err != nil {
		t.Fatalf("save order: %v", err)
	}

	fill := types.Fill{
		FillID:     "fill-restart",
		OrderID:    "ord-restart",
		Symbol:     order.Symbol,
		Side:       order.Side,
		Qty:        5,
		Price:      decimal.NewFromInt(70000),
		Commission: decimal.NewFromInt(52),
		TS:         time.Now().Truncate(time.Second),
	}
	if err := repo1.SaveFill(ctx, fill); err != nil {
		t.Fatalf("save fill: %v", err)
	}

	repo1.Close()

	repo2, err := NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("failed to reopen repository: %v", err)
	}
	defer repo2.Close()

	open, err := repo2.GetOpenOrders(ctx)
	if err != nil {
		t.Fatalf("get open orders: %v", err)
	}
	if len(open) != 1 || open[0].ID != "ord-restart" {
		t.Fatalf("open orders = %+v, want [ord-restart]", open)
	}

	fills, err := repo2.GetFillsByOrder(ctx, "ord-restart")
	if err != nil {
		t.Fatalf("get fills: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("got %d fills, want 1", len(fills))
	}
}

// TestRecovery_EquitySnapshotSurvivesRestart verifies the last equity
// snapshot written before shutdown is readable after reopening the store.
func TestRecovery_EquitySnapshotSurvivesRestart(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "recovery_equity_test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	dbPath := filepath.Join(tmpDir, "test.db")
	ctx := context.Background()

	repo1, err := NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}

	snapshot := EquitySnapshot{
		Timestamp:        time.Now().Truncate(time.Second),
		PortfolioValue:   decimal.NewFromInt(12_500_000),
		Cash:             decimal.NewFromInt(4_000_000),
		RealizedPnLToday: decimal.NewFromInt(25000),
		RealizedPnLMonth: decimal.NewFromInt(250000),
		OpenPositions:    3,
	}
	if err := repo1.SaveEquitySnapshot(ctx, snapshot); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	repo1.Close()

	repo2, err := NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("failed to reopen repository: %v", err)
	}
	defer repo2.Close()

	latest, err := repo2.GetLatestEquitySnapshot(ctx)
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	if latest == nil {
		t.Fatal("expected snapshot, got nil")
	}
	if !latest.PortfolioValue.Equal(snapshot.PortfolioValue) {
		t.Errorf("portfolio value = %s, want %s", latest.PortfolioValue, snapshot.PortfolioValue)
	}
}

// TestRecovery_PositionsSurviveRestart verifies position rows persist
// across a repository reopen, matching the Order Engine's book state.
func TestRecovery_PositionsSurviveRestart(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "recovery_positions_test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	dbPath := filepath.Join(tmpDir, "test.db")
	ctx := context.Background()

	repo1, err := NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}

	pos := types.Position{
		Symbol:        "005930",
		Qty:           20,
		AvgCost:       decimal.NewFromInt(71000),
		RealizedPnL:   decimal.NewFromInt(3000),
		UnrealizedPnL: decimal.NewFromInt(-500),
		LastMarkPrice: decimal.NewFromInt(70975),
	}
	if err := repo1.SavePosition(ctx, pos); err != nil {
		t.Fatalf("save position: %v", err)
	}
	repo1.Close()

	repo2, err := NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("failed to reopen repository: %v", err)
	}
	defer repo2.Close()

	positions, err := repo2.GetPositions(ctx)
	if err != nil {
		t.Fatalf("get positions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(positions))
	}
	if !positions[0].AvgCost.Equal(pos.AvgCost) {
		t.Errorf("avg cost = %s, want %s", positions[0].AvgCost, pos.AvgCost)
	}
}
