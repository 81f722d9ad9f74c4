package order

import (
	"testing"
	"time"
)

func TestTracker_StallStages(t *testing.T) {
	tr := NewTracker()
	base := time.Now()
	warnAfter := 10 * time.Second
	cancelAfter := 20 * time.Second

	if stage := tr.Check("o1", base, warnAfter, cancelAfter, base.Add(5*time.Second)); stage != StallNone {
		t.Errorf("stage = %v, want StallNone before the warn threshold", stage)
	}
	if stage := tr.Check("o1", base, warnAfter, cancelAfter, base.Add(15*time.Second)); stage != StallWarn {
		t.Errorf("stage = %v, want StallWarn", stage)
	}
	// Re-checking within the same stage window must not re-fire the warn.
	if stage := tr.Check("o1", base, warnAfter, cancelAfter, base.Add(16*time.Second)); stage != StallNone {
		t.Errorf("stage = %v, want StallNone (already fired)", stage)
	}
	if stage := tr.Check("o1", base, warnAfter, cancelAfter, base.Add(25*time.Second)); stage != StallCancel {
		t.Errorf("stage = %v, want StallCancel past the cancel threshold", stage)
	}
}

func TestTracker_RecordFillResetsClock(t *testing.T) {
	tr := NewTracker()
	base := time.Now()
	warnAfter := 10 * time.Second
	cancelAfter := 20 * time.Second

	tr.RecordFill("o1", base.Add(12*time.Second))
	if stage := tr.Check("o1", base, warnAfter, cancelAfter, base.Add(18*time.Second)); stage != StallNone {
		t.Errorf("stage = %v, want StallNone (clock reset by the fill)", stage)
	}
}

func TestTracker_ForgetClearsState(t *testing.T) {
	tr := NewTracker()
	base := time.Now()
	tr.RecordFill("o1", base)
	tr.Forget("o1")
	// After forgetting, Check falls back to the since argument alone.
	if stage := tr.Check("o1", base.Add(-30*time.Second), 10*time.Second, 20*time.Second, base); stage != StallCancel {
		t.Errorf("stage = %v, want StallCancel once forgotten state no longer shields the order", stage)
	}
}
