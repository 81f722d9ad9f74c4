package indicator

import "testing"

func TestEMA_NotReady(t *testing.T) {
	e := NewEMA(3)
	if e.Ready() {
		t.Error("EMA should not be ready with no data")
	}
	e.Update(d("10"))
	e.Update(d("11"))
	if e.Ready() {
		t.Error("EMA should not be ready before the seed window fills")
	}
}

func TestEMA_SeedIsSimpleAverage(t *testing.T) {
	e := NewEMA(3)
	e.Update(d("10"))
	e.Update(d("20"))
	result := e.Update(d("30"))

	expected := d("20") // simple average of 10,20,30
	if !result.Equal(expected) {
		t.Errorf("EMA seed = %s, want %s", result, expected)
	}
}

func TestEMA_Smooths(t *testing.T) {
	e := NewEMA(3) // alpha = 2/4 = 0.5
	e.Update(d("10"))
	e.Update(d("20"))
	e.Update(d("30")) // seed = 20
	result := e.Update(d("40"))

	// EMA = 0.5*40 + 0.5*20 = 30
	expected := d("30")
	if !result.Equal(expected) {
		t.Errorf("EMA = %s, want %s", result, expected)
	}
}

func TestEMA_Reset(t *testing.T) {
	e := NewEMA(2)
	e.Update(d("10"))
	e.Update(d("20"))
	e.Reset()
	if e.Ready() {
		t.Error("EMA should not be ready after reset")
	}
	if !e.Current().IsZero() {
		t.Errorf("Current = %s, want 0", e.Current())
	}
}
