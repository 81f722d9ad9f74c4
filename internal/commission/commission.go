// Package commission computes Korean-equities brokerage fees and taxes
// for a single fill, per spec §4.H.6. All arithmetic is fixed-point
// decimal with bankers-rounding to the won; floats are never used for
// money.
package commission

import (
	"github.com/shopspring/decimal"

	"github.com/yohan-kwon/kquant-core/internal/types"
)

// Rates holds the configurable fee/tax rates (fractions of notional)
// recognized under the `commission_rates` config key (spec §6).
type Rates struct {
	BrokerageRate   decimal.Decimal // e.g. 0.00015
	MinBrokerageFee decimal.Decimal // floor, in won
	ExchangeRate    decimal.Decimal
	ClearingRate    decimal.Decimal
	TxTaxRate       decimal.Decimal // sell-side securities transaction tax
	RuralTaxRate    decimal.Decimal // sell-side rural special tax
}

// DefaultRates approximates a discount KRX retail schedule; operators
// override every field from config.
func DefaultRates() Rates {
	return Rates{
		BrokerageRate:   decimal.RequireFromString("0.00015"),
		MinBrokerageFee: decimal.RequireFromString("100"),
		ExchangeRate:    decimal.RequireFromString("0.00002"),
		ClearingRate:    decimal.RequireFromString("0.000015"),
		TxTaxRate:       decimal.RequireFromString("0.0018"),
		RuralTaxRate:    decimal.RequireFromString("0.00015"),
	}
}

// Breakdown itemizes every component of a fill's commission, summing to
// Total. Exposed separately so callers can audit or display each leg.
type Breakdown struct {
	Notional      decimal.Decimal
	Brokerage     decimal.Decimal
	Exchange      decimal.Decimal
	Clearing      decimal.Decimal
	TransactionTax decimal.Decimal
	RuralTax      decimal.Decimal
	Total         decimal.Decimal
}

// roundWon rounds to the nearest whole won using banker's rounding
// (round-half-to-even), matching the spec's "bankers-rounding to the won".
func roundWon(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(0)
}

// Compute returns the full commission breakdown for one fill of qty
// shares at price, on the given side. Only SELL fills incur the
// transaction and rural special taxes.
func Compute(rates Rates, side types.Side, price decimal.Decimal, qty int64) Breakdown {
	notional := price.Mul(decimal.NewFromInt(qty))

	brokerage := notional.Mul(rates.BrokerageRate)
	if brokerage.LessThan(rates.MinBrokerageFee) {
		brokerage = rates.MinBrokerageFee
	}
	brokerage = roundWon(brokerage)

	exchange := roundWon(notional.Mul(rates.ExchangeRate))
	clearing := roundWon(notional.Mul(rates.ClearingRate))

	var txTax, ruralTax decimal.Decimal
	if side == types.SideSell {
		txTax = roundWon(notional.Mul(rates.TxTaxRate))
		ruralTax = roundWon(notional.Mul(rates.RuralTaxRate))
	}

	total := brokerage.Add(exchange).Add(clearing).Add(txTax).Add(ruralTax)

	return Breakdown{
		Notional:       notional,
		Brokerage:      brokerage,
		Exchange:       exchange,
		Clearing:       clearing,
		TransactionTax: txTax,
		RuralTax:       ruralTax,
		Total:          total,
	}
}
