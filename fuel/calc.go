/*
calc.go - Discount quote computation

PURPOSE:
  Computes the loyalty discount for a fuel purchase from the current pricing
  settings. Pure with respect to its inputs: same amount + same settings
  always produce the same quote, and nothing is persisted.

ARITHMETIC:
  liters   = amount / fuelPrice
  discount = liters * discountPerLiter
  final    = amount - discount
  savings  = discount

  All outputs are rendered to exactly two decimal places. Rendering uses
  decimal.StringFixed (round half away from zero) consistently everywhere
  money appears, so final + discount always reassembles original at two
  decimals.

SEE ALSO:
  - types.go: Settings
  - api/handlers.go: the /transactions/calculate endpoint
*/
package fuel

import "github.com/shopspring/decimal"

// Quote is the result of a discount calculation. Fields are exact decimals;
// callers render with two decimal places.
type Quote struct {
	OriginalAmount   decimal.Decimal
	FinalAmount      decimal.Decimal
	DiscountAmount   decimal.Decimal
	Savings          decimal.Decimal
	Liters           decimal.Decimal
	FuelPrice        decimal.Decimal
	DiscountPerLiter decimal.Decimal
}

// Calculate computes a discount quote for a purchase amount under the given
// settings. Returns ErrInvalidFuelPrice when the configured fuel price is
// not positive, and ErrInvalidAmount for non-positive amounts.
func Calculate(settings Settings, amount decimal.Decimal) (Quote, error) {
	if !settings.FuelPrice.IsPositive() {
		return Quote{}, ErrInvalidFuelPrice
	}
	if !amount.IsPositive() {
		return Quote{}, ErrInvalidAmount
	}

	liters := amount.Div(settings.FuelPrice)
	discount := liters.Mul(settings.DiscountPerLiter)
	final := amount.Sub(discount)

	return Quote{
		OriginalAmount:   amount,
		FinalAmount:      final,
		DiscountAmount:   discount,
		Savings:          discount,
		Liters:           liters,
		FuelPrice:        settings.FuelPrice,
		DiscountPerLiter: settings.DiscountPerLiter,
	}, nil
}
