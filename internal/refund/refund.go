// Package refund computes tax-inclusive refund amounts for selected return
// lines. Amounts are accumulated exactly and rounded once, on the total.
package refund

import "github.com/shopspring/decimal"

// MinorUnits is the number of fractional digits kept on a refund total.
const MinorUnits int32 = 2

type Line struct {
	UnitPrice      decimal.Decimal
	Qty            int
	TaxRatePercent decimal.Decimal
}

// Subtotal returns price × qty × (1 + tax/100) without rounding.
func Subtotal(line Line) decimal.Decimal {
	gross := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Qty)))
	return gross.Add(gross.Mul(line.TaxRatePercent).Shift(-2))
}

// Exact sums the unrounded subtotals.
func Exact(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(Subtotal(line))
	}
	return total
}

// Total is the refund owed for lines, rounded half away from zero to
// MinorUnits. An empty selection refunds zero.
func Total(lines []Line) decimal.Decimal {
	return Round(Exact(lines))
}

func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(MinorUnits)
}
