package indicator

import "testing"

func TestBollinger_NotReady(t *testing.T) {
	b := NewBollinger(3, d("2"))
	b.Update(d("10"))
	b.Update(d("11"))
	if b.Ready() {
		t.Error("Bollinger should not be ready before the window fills")
	}
}

func TestBollinger_ZeroVarianceBandsCollapseToMid(t *testing.T) {
	b := NewBollinger(3, d("2"))
	b.Update(d("10"))
	b.Update(d("10"))
	upper, mid, lower := b.Update(d("10"))

	if !upper.Equal(mid) || !lower.Equal(mid) || !mid.Equal(d("10")) {
		t.Errorf("flat series should collapse bands to the mean: upper=%s mid=%s lower=%s", upper, mid, lower)
	}
}

func TestBollinger_BandsStraddleMid(t *testing.T) {
	b := NewBollinger(3, d("2"))
	b.Update(d("10"))
	b.Update(d("20"))
	upper, mid, lower := b.Update(d("30"))

	if !upper.GreaterThan(mid) || !lower.LessThan(mid) {
		t.Errorf("bands should straddle mid: upper=%s mid=%s lower=%s", upper, mid, lower)
	}
}

func TestBollinger_Reset(t *testing.T) {
	b := NewBollinger(2, d("2"))
	b.Update(d("10"))
	b.Update(d("20"))
	b.Reset()
	if b.Ready() {
		t.Error("Bollinger should not be ready after reset")
	}
}
