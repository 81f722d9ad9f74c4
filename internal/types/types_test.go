package types

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestSide_String(t *testing.T) {
	tests := []struct {
		side Side
		want string
	}{
		{SideBuy, "BUY"},
		{SideSell, "SELL"},
		{Side(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.side.String(); got != tt.want {
			t.Errorf("Side(%d).String() = %s, want %s", tt.side, got, tt.want)
		}
	}
}

func TestSide_Opposite(t *testing.T) {
	if SideBuy.Opposite() != SideSell {
		t.Error("BUY.Opposite() should be SELL")
	}
	if SideSell.Opposite() != SideBuy {
		t.Error("SELL.Opposite() should be BUY")
	}
}

func TestSignalAction_Side(t *testing.T) {
	if ActionBuy.Side() != SideBuy {
		t.Error("ActionBuy.Side() should be SideBuy")
	}
	if ActionSell.Side() != SideSell {
		t.Error("ActionSell.Side() should be SideSell")
	}
	if ActionHoldExit.Side() != SideSell {
		t.Error("ActionHoldExit.Side() should default to SideSell")
	}
}

func TestOrderState_IsTerminal(t *testing.T) {
	tests := []struct {
		state OrderState
		want  bool
	}{
		{OrderNew, false},
		{OrderQueued, false},
		{OrderSubmitted, false},
		{OrderPartial, false},
		{OrderFilled, true},
		{OrderCancelled, true},
		{OrderRejected, true},
		{OrderFailed, true},
	}
	for _, tt := range tests {
		if got := tt.state.IsTerminal(); got != tt.want {
			t.Errorf("OrderState(%d).IsTerminal() = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestOrder_Remaining(t *testing.T) {
	o := Order{Quantity: 100, FilledQty: 40}
	if o.Remaining() != 60 {
		t.Errorf("Remaining() = %d, want 60", o.Remaining())
	}
}

func TestCandle_Valid(t *testing.T) {
	d := func(s string) decimal.Decimal { return decimal.RequireFromString(s) }
	tests := []struct {
		name string
		c    Candle
		want bool
	}{
		{"normal", Candle{Open: d("100"), High: d("110"), Low: d("95"), Close: d("105"), Volume: 10}, true},
		{"high below close", Candle{Open: d("100"), High: d("101"), Low: d("95"), Close: d("105"), Volume: 10}, false},
		{"low above open", Candle{Open: d("100"), High: d("110"), Low: d("99"), Close: d("105"), Volume: 10}, false},
		{"negative volume", Candle{Open: d("100"), High: d("110"), Low: d("95"), Close: d("105"), Volume: -1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIndicatorSnapshot_HasAll(t *testing.T) {
	snap := IndicatorSnapshot{
		Values: map[string]decimal.Decimal{
			"sma_20": decimal.NewFromInt(100),
			"rsi_14": decimal.NewFromInt(55),
		},
	}
	if !snap.HasAll([]string{"sma_20", "rsi_14"}) {
		t.Error("expected HasAll true for present indicators")
	}
	if snap.HasAll([]string{"sma_20", "macd"}) {
		t.Error("expected HasAll false when an indicator is absent")
	}
	if _, ok := snap.Get("macd"); ok {
		t.Error("absent indicator must not be present, not zero")
	}
}

func TestTickSize_Bands(t *testing.T) {
	tests := []struct {
		price string
		want  string
	}{
		{"1500", "1"},
		{"1999", "1"},
		{"2000", "5"},
		{"4999", "5"},
		{"5000", "10"},
		{"19999", "10"},
		{"20000", "50"},
		{"49999", "50"},
		{"50000", "100"},
		{"199999", "100"},
		{"200000", "500"},
		{"499999", "500"},
		{"500000", "1000"},
		{"1000000", "1000"},
	}
	for _, tt := range tests {
		got := TickSize(decimal.RequireFromString(tt.price))
		want := decimal.RequireFromString(tt.want)
		if !got.Equal(want) {
			t.Errorf("TickSize(%s) = %s, want %s", tt.price, got, want)
		}
	}
}

func TestCanonicalizeSymbol(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"005930.KS", "005930"},
		{"035720.KQ", "035720"},
		{"005930.KRX", "005930"},
		{"005930", "005930"},
	}
	for _, tt := range tests {
		if got := CanonicalizeSymbol(tt.raw); got != tt.want {
			t.Errorf("CanonicalizeSymbol(%s) = %s, want %s", tt.raw, got, tt.want)
		}
	}
}

func TestDecimal_FloatPrecision(t *testing.T) {
	a := decimal.RequireFromString("0.1")
	b := decimal.RequireFromString("0.2")
	expected := decimal.RequireFromString("0.3")
	if !a.Add(b).Equal(expected) {
		t.Errorf("0.1 + 0.2 = %s, want 0.3", a.Add(b).String())
	}
}

func TestRiskContext_ZeroValue(t *testing.T) {
	rc := RiskContext{}
	if rc.EmergencyStopActive {
		t.Error("zero-value RiskContext should not have emergency stop active")
	}
	if rc.Positions != nil {
		t.Error("zero-value RiskContext should have nil Positions map")
	}
}

func TestMarketTick_Fields(t *testing.T) {
	tick := MarketTick{
		Symbol: "005930",
		TS:     time.Now(),
		Close:  decimal.NewFromInt(70000),
		Volume: 100,
		Source: "kis-ws",
	}
	if tick.Symbol != "005930" {
		t.Errorf("unexpected symbol %s", tick.Symbol)
	}
}
