package strategy

import (
	"testing"
	"time"

	"github.com/yohan-kwon/kquant-core/internal/types"
)

func TestPerformanceTracker_WinRateAndTotalReturn(t *testing.T) {
	p := NewPerformanceTracker()

	base := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	p.RecordFill(types.Fill{Symbol: "005930", Side: types.SideBuy, Qty: 10, Price: decv("75000"), TS: base})
	p.RecordFill(types.Fill{Symbol: "005930", Side: types.SideSell, Qty: 10, Price: decv("76000"), TS: base.Add(time.Hour)})

	p.RecordFill(types.Fill{Symbol: "005930", Side: types.SideBuy, Qty: 10, Price: decv("76000"), TS: base.Add(2 * time.Hour)})
	p.RecordFill(types.Fill{Symbol: "005930", Side: types.SideSell, Qty: 10, Price: decv("75500"), TS: base.Add(3 * time.Hour)})

	snap := p.Snapshot()
	if snap.FillCount != 2 {
		t.Fatalf("fill count = %d, want 2", snap.FillCount)
	}
	if snap.WinCount != 1 || snap.LossCount != 1 {
		t.Errorf("win/loss = %d/%d, want 1/1", snap.WinCount, snap.LossCount)
	}
	if !snap.WinRate.Equal(decv("0.5")) {
		t.Errorf("win rate = %s, want 0.5", snap.WinRate)
	}
	if !snap.TotalReturn.Equal(decv("5000")) {
		t.Errorf("total return = %s, want 5000 (10000 win - 5000 loss)", snap.TotalReturn)
	}
}

func TestPerformanceTracker_NoTradesYieldsZeroSnapshot(t *testing.T) {
	p := NewPerformanceTracker()
	snap := p.Snapshot()
	if snap.FillCount != 0 || !snap.TotalReturn.IsZero() {
		t.Errorf("expected zero snapshot with no trades, got %+v", snap)
	}
}

func TestPerformanceTracker_PartialFillMatchesPartialLot(t *testing.T) {
	p := NewPerformanceTracker()
	base := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)

	p.RecordFill(types.Fill{Symbol: "005930", Side: types.SideBuy, Qty: 10, Price: decv("75000"), TS: base})
	p.RecordFill(types.Fill{Symbol: "005930", Side: types.SideSell, Qty: 4, Price: decv("76000"), TS: base.Add(time.Hour)})

	snap := p.Snapshot()
	if snap.FillCount != 1 {
		t.Fatalf("fill count = %d, want 1 closed round-trip for the partial exit", snap.FillCount)
	}
	if !snap.TotalReturn.Equal(decv("4000")) {
		t.Errorf("total return = %s, want 4000 (4 shares * 1000 gain)", snap.TotalReturn)
	}
}
