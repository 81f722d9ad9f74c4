package order

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yohan-kwon/kquant-core/internal/types"
)

func TestBook_ApplyFillWeightedAverageCost(t *testing.T) {
	b := NewBook()
	ts := time.Now()

	pos, realized := b.ApplyFill("005930", types.SideBuy, 10, decimal.NewFromInt(70000), decimal.NewFromInt(100), ts)
	if !realized.IsZero() {
		t.Errorf("buy realized = %s, want zero", realized)
	}
	if pos.Qty != 10 {
		t.Errorf("qty = %d, want 10", pos.Qty)
	}
	// (70000*10 + 100) / 10 = 70010
	want := decimal.NewFromInt(70010)
	if !pos.AvgCost.Equal(want) {
		t.Errorf("avg cost = %s, want %s", pos.AvgCost, want)
	}

	pos, realized = b.ApplyFill("005930", types.SideBuy, 10, decimal.NewFromInt(71000), decimal.NewFromInt(100), ts)
	// new notional = 70010*10 + 71000*10 + 100 = 700100+710000+100=1410200 over 20
	wantAvg := decimal.NewFromInt(1410200).Div(decimal.NewFromInt(20))
	if !pos.AvgCost.Equal(wantAvg) {
		t.Errorf("avg cost after second buy = %s, want %s", pos.AvgCost, wantAvg)
	}
	if !realized.IsZero() {
		t.Errorf("buy realized = %s, want zero", realized)
	}
}

func TestBook_ApplyFillRealizesOnSell(t *testing.T) {
	b := NewBook()
	ts := time.Now()
	b.ApplyFill("005930", types.SideBuy, 10, decimal.NewFromInt(70000), decimal.Zero, ts)

	pos, realized := b.ApplyFill("005930", types.SideSell, 4, decimal.NewFromInt(72000), decimal.NewFromInt(50), ts)
	// (72000-70000)*4 - 50 = 7950
	want := decimal.NewFromInt(7950)
	if !realized.Equal(want) {
		t.Errorf("realized = %s, want %s", realized, want)
	}
	if pos.Qty != 6 {
		t.Errorf("remaining qty = %d, want 6", pos.Qty)
	}
	if !pos.RealizedPnL.Equal(want) {
		t.Errorf("cumulative realized = %s, want %s", pos.RealizedPnL, want)
	}
}

func TestBook_MarkComputesUnrealized(t *testing.T) {
	b := NewBook()
	ts := time.Now()
	b.ApplyFill("005930", types.SideBuy, 10, decimal.NewFromInt(70000), decimal.Zero, ts)

	pos, ok := b.Mark("005930", decimal.NewFromInt(75000), ts)
	if !ok {
		t.Fatal("expected Mark to report a tracked position")
	}
	want := decimal.NewFromInt(50000) // (75000-70000)*10
	if !pos.UnrealizedPnL.Equal(want) {
		t.Errorf("unrealized = %s, want %s", pos.UnrealizedPnL, want)
	}
}

func TestBook_MarkReportsFalseForFlatSymbol(t *testing.T) {
	b := NewBook()
	if _, ok := b.Mark("000660", decimal.NewFromInt(100), time.Now()); ok {
		t.Error("expected Mark to report false for an untracked symbol")
	}
}
