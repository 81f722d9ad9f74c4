package commission

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/yohan-kwon/kquant-core/internal/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCompute_BuyHasNoTaxes(t *testing.T) {
	rates := DefaultRates()
	b := Compute(rates, types.SideBuy, dec("75000"), 10)

	if !b.TransactionTax.IsZero() || !b.RuralTax.IsZero() {
		t.Errorf("buy fill must not incur sell-only taxes: tx=%s rural=%s", b.TransactionTax, b.RuralTax)
	}
	if b.Total.LessThanOrEqual(decimal.Zero) {
		t.Errorf("total commission must be positive, got %s", b.Total)
	}
}

func TestCompute_SellHasTaxes(t *testing.T) {
	rates := DefaultRates()
	b := Compute(rates, types.SideSell, dec("75000"), 10)

	if b.TransactionTax.IsZero() || b.RuralTax.IsZero() {
		t.Error("sell fill must incur the transaction tax and rural special tax")
	}
	expectedTotal := b.Brokerage.Add(b.Exchange).Add(b.Clearing).Add(b.TransactionTax).Add(b.RuralTax)
	if !b.Total.Equal(expectedTotal) {
		t.Errorf("total = %s, want sum of legs %s", b.Total, expectedTotal)
	}
}

func TestCompute_BrokerageFloor(t *testing.T) {
	rates := DefaultRates()
	// Tiny notional: brokerage_rate * notional is well under the floor.
	b := Compute(rates, types.SideBuy, dec("1000"), 1)

	if !b.Brokerage.Equal(rates.MinBrokerageFee) {
		t.Errorf("brokerage = %s, want the floor %s", b.Brokerage, rates.MinBrokerageFee)
	}
}

func TestCompute_RoundsToWholeWon(t *testing.T) {
	rates := DefaultRates()
	b := Compute(rates, types.SideSell, dec("75123"), 7)

	for name, v := range map[string]decimal.Decimal{
		"brokerage": b.Brokerage, "exchange": b.Exchange, "clearing": b.Clearing,
		"tx_tax": b.TransactionTax, "rural_tax": b.RuralTax,
	} {
		if !v.Equal(v.Round(0)) {
			t.Errorf("%s = %s is not a whole won amount", name, v)
		}
	}
}

func TestCompute_NotionalIsPriceTimesQty(t *testing.T) {
	rates := DefaultRates()
	b := Compute(rates, types.SideBuy, dec("50000"), 3)

	if !b.Notional.Equal(dec("150000")) {
		t.Errorf("notional = %s, want 150000", b.Notional)
	}
}
