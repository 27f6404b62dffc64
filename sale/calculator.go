/*
calculator.go - Discount spread and tax-inclusive decomposition

PURPOSE:
  Pure money math for a cart. No store access, no clock: the same input
  always yields the same Breakdown, so it is tested on its own.

FORMULAS:
  subtotal  = Σ price × quantity
  discount  = clamp(discount, 0, subtotal)
  total     = max(round2(subtotal - discount), 0)
  r         = discount / subtotal            (0 when subtotal is 0)
  after     = line_total × (1 - r)
  taxable   = after / (1 + rate/100)         product lines with rate > 0
  tax       = max(round4(after - taxable), 0)

  vat_rate   = the one distinct rate of the taxed lines, else fallback
  vat_amount = round2(Σ tax)

EXAMPLE:
  One product at 100 with 22% tax, no discount:
    taxable = 100 / 1.22 = 81.9672...
    tax     = 18.0328
*/
package sale

import "github.com/shopspring/decimal"

// PricedLine is a cart line with the tax rate the catalog assigns to it.
type PricedLine struct {
	Kind     ItemKind
	Price    decimal.Decimal
	Quantity int
	TaxRate  decimal.Decimal // percent; ignored for service lines
}

// LineTax is the computed share of one line.
type LineTax struct {
	LineTotal     decimal.Decimal
	AfterDiscount decimal.Decimal
	Taxable       decimal.Decimal
	TaxRate       decimal.Decimal
	TaxAmount     decimal.Decimal
}

// Breakdown is the money summary of a cart. Lines is index-aligned with the
// input.
type Breakdown struct {
	Subtotal  decimal.Decimal
	Discount  decimal.Decimal
	Total     decimal.Decimal
	Lines     []LineTax
	VatRate   decimal.Decimal
	VatAmount decimal.Decimal
}

// Calculate computes the breakdown of lines under a sale-level discount.
// fallbackRate is reported as VatRate when taxed lines use more than one
// rate or no line is taxed.
func Calculate(lines []PricedLine, discount, fallbackRate decimal.Decimal) Breakdown {
	subtotal := decimal.Zero
	totals := make([]decimal.Decimal, len(lines))
	for i, line := range lines {
		totals[i] = line.Price.Mul(decimal.NewFromInt(int64(normalizeQuantity(line.Quantity))))
		subtotal = subtotal.Add(totals[i])
	}

	discount = clamp(discount, decimal.Zero, floorZero(subtotal))
	b := Breakdown{
		Subtotal: subtotal,
		Discount: discount,
		Total:    floorZero(round2(subtotal.Sub(discount))),
		Lines:    make([]LineTax, len(lines)),
	}

	keep := decimal.NewFromInt(1)
	if subtotal.IsPositive() {
		keep = keep.Sub(discount.Div(subtotal))
	}

	var rates []decimal.Decimal
	taxSum := decimal.Zero
	for i, line := range lines {
		after := totals[i].Mul(keep)
		lt := LineTax{
			LineTotal:     totals[i],
			AfterDiscount: after,
			Taxable:       after,
			TaxRate:       decimal.Zero,
			TaxAmount:     decimal.Zero,
		}
		if line.Kind == KindProduct && line.TaxRate.IsPositive() {
			lt.TaxRate = line.TaxRate
			lt.Taxable = after.Div(decimal.NewFromInt(1).Add(line.TaxRate.Div(hundred)))
			lt.TaxAmount = floorZero(round4(after.Sub(lt.Taxable)))
			rates = appendDistinct(rates, line.TaxRate)
		}
		taxSum = taxSum.Add(lt.TaxAmount)
		b.Lines[i] = lt
	}

	b.VatRate = fallbackRate
	if len(rates) == 1 {
		b.VatRate = rates[0]
	}
	b.VatAmount = round2(taxSum)
	return b
}

func appendDistinct(rates []decimal.Decimal, rate decimal.Decimal) []decimal.Decimal {
	for _, r := range rates {
		if r.Equal(rate) {
			return rates
		}
	}
	return append(rates, rate)
}
