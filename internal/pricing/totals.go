package pricing

import "github.com/shopspring/decimal"

// MoneyPlaces is the number of decimal places amounts are rounded to.
const MoneyPlaces = 2

type Totals struct {
	Subtotal     decimal.Decimal `json:"subtotal"`
	Discount     decimal.Decimal `json:"discount"`
	ShippingCost decimal.Decimal `json:"shipping_cost"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	Tax          decimal.Decimal `json:"tax"`
	Total        decimal.Decimal `json:"total"`
}

// ComputeTotals derives tax from the discounted subtotal and the quoted rate:
// total = subtotal - discount + shipping + tax.
func ComputeTotals(subtotal, discount decimal.Decimal, q Quote) Totals {
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	discount = discount.Round(MoneyPlaces)
	net := subtotal.Sub(discount)
	tax := net.Mul(q.TaxRate).Round(MoneyPlaces)

	return Totals{
		Subtotal:     subtotal,
		Discount:     discount,
		ShippingCost: q.ShippingCost,
		TaxRate:      q.TaxRate,
		Tax:          tax,
		Total:        net.Add(q.ShippingCost).Add(tax).Round(MoneyPlaces),
	}
}

// Consistent reports whether t satisfies the totals formula.
func (t Totals) Consistent() bool {
	want := t.Subtotal.Sub(t.Discount).Add(t.ShippingCost).Add(t.Tax)
	return want.Round(MoneyPlaces).Equal(t.Total)
}
