package indicator

import "testing"

func TestStochastic_NotReady(t *testing.T) {
	s := NewStochastic(3, 2)
	s.Update(d("12"), d("8"), d("10"))
	if s.Ready() {
		t.Error("Stochastic should not be ready before the %K window fills")
	}
}

func TestStochastic_KAtRangeExtremes(t *testing.T) {
	s := NewStochastic(3, 1) // smoothPeriod=1 so %D == %K immediately
	s.Update(d("12"), d("8"), d("8"))  // close at the low
	s.Update(d("14"), d("9"), d("14")) // close at the high
	k, dd := s.Update(d("14"), d("9"), d("14"))

	if !k.Equal(d("100")) {
		t.Errorf("%%K at the high of the range = %s, want 100", k)
	}
	if !dd.Equal(k) {
		t.Errorf("%%D with smoothPeriod=1 should equal %%K: d=%s k=%s", dd, k)
	}
}

func TestStochastic_FlatRangeIsFifty(t *testing.T) {
	s := NewStochastic(2, 1)
	s.Update(d("10"), d("10"), d("10"))
	k, _ := s.Update(d("10"), d("10"), d("10"))

	if !k.Equal(d("50")) {
		t.Errorf("%%K on a zero-range window = %s, want 50", k)
	}
}

func TestStochastic_Reset(t *testing.T) {
	s := NewStochastic(2, 2)
	s.Update(d("12"), d("8"), d("10"))
	s.Update(d("14"), d("9"), d("13"))
	s.Reset()
	if s.Ready() {
		t.Error("Stochastic should not be ready after reset")
	}
}
