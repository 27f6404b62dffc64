package sale_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sale-engine/sale"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

// =============================================================================
// SINGLE LINE
// =============================================================================

func TestCalculate_SingleTaxedProduct(t *testing.T) {
	// GIVEN: one product at 100 with 22% tax-inclusive price
	// WHEN: no discount is applied
	// THEN: tax is 18.0328 and the sale rate is 22

	b := sale.Calculate([]sale.PricedLine{
		{Kind: sale.KindProduct, Price: dec("100"), Quantity: 1, TaxRate: dec("22")},
	}, decimal.Zero, dec("10"))

	assertDec(t, "100", b.Subtotal)
	assertDec(t, "100", b.Total)
	require.Len(t, b.Lines, 1)
	assertDec(t, "18.0328", b.Lines[0].TaxAmount)
	assertDec(t, "22", b.VatRate)
	assertDec(t, "18.03", b.VatAmount)
}

func TestCalculate_ServiceLinesCarryNoTax(t *testing.T) {
	b := sale.Calculate([]sale.PricedLine{
		{Kind: sale.KindService, Price: dec("30"), Quantity: 2, TaxRate: dec("22")},
	}, decimal.Zero, dec("22"))

	assertDec(t, "60", b.Total)
	assertDec(t, "0", b.Lines[0].TaxAmount)
	assertDec(t, "0", b.VatAmount)
	assertDec(t, "22", b.VatRate, "no taxed line: fallback rate")
}

func TestCalculate_QuantityCoercedToOne(t *testing.T) {
	b := sale.Calculate([]sale.PricedLine{
		{Kind: sale.KindService, Price: dec("15"), Quantity: 0},
		{Kind: sale.KindService, Price: dec("5"), Quantity: -3},
	}, decimal.Zero, decimal.Zero)

	assertDec(t, "20", b.Subtotal)
}

// =============================================================================
// DISCOUNT
// =============================================================================

func TestCalculate_DiscountSpreadProportionally(t *testing.T) {
	// GIVEN: a 200 cart split 150/50 with a 50 discount (25%)
	// THEN: each line keeps 75% of its value before tax decomposition

	b := sale.Calculate([]sale.PricedLine{
		{Kind: sale.KindProduct, Price: dec("75"), Quantity: 2, TaxRate: dec("22")},
		{Kind: sale.KindService, Price: dec("50"), Quantity: 1},
	}, dec("50"), dec("22"))

	assertDec(t, "200", b.Subtotal)
	assertDec(t, "50", b.Discount)
	assertDec(t, "150", b.Total)
	assertDec(t, "112.5", b.Lines[0].AfterDiscount)
	assertDec(t, "37.5", b.Lines[1].AfterDiscount)
	// 112.5 - 112.5/1.22 = 20.2869
	assertDec(t, "20.2869", b.Lines[0].TaxAmount)
	assertDec(t, "20.29", b.VatAmount)
}

func TestCalculate_DiscountClamped(t *testing.T) {
	lines := []sale.PricedLine{{Kind: sale.KindService, Price: dec("40"), Quantity: 1}}

	over := sale.Calculate(lines, dec("55"), decimal.Zero)
	assertDec(t, "40", over.Discount)
	assertDec(t, "0", over.Total)

	negative := sale.Calculate(lines, dec("-5"), decimal.Zero)
	assertDec(t, "0", negative.Discount)
	assertDec(t, "40", negative.Total)
}

func TestCalculate_ZeroSubtotal(t *testing.T) {
	b := sale.Calculate([]sale.PricedLine{
		{Kind: sale.KindProduct, Price: decimal.Zero, Quantity: 1, TaxRate: dec("22")},
	}, dec("10"), dec("22"))

	assertDec(t, "0", b.Subtotal)
	assertDec(t, "0", b.Discount)
	assertDec(t, "0", b.Total)
	assertDec(t, "0", b.Lines[0].TaxAmount)
}

func TestCalculate_TotalRoundedToCents(t *testing.T) {
	b := sale.Calculate([]sale.PricedLine{
		{Kind: sale.KindService, Price: dec("10.005"), Quantity: 1},
	}, decimal.Zero, decimal.Zero)

	assertDec(t, "10.01", b.Total)
}

// =============================================================================
// SALE-LEVEL RATE
// =============================================================================

func TestCalculate_MixedRatesFallBack(t *testing.T) {
	b := sale.Calculate([]sale.PricedLine{
		{Kind: sale.KindProduct, Price: dec("100"), Quantity: 1, TaxRate: dec("22")},
		{Kind: sale.KindProduct, Price: dec("100"), Quantity: 1, TaxRate: dec("10")},
	}, decimal.Zero, dec("22"))

	assertDec(t, "22", b.VatRate)
	assertDec(t, "18.0328", b.Lines[0].TaxAmount)
	assertDec(t, "9.0909", b.Lines[1].TaxAmount)
	assertDec(t, "27.12", b.VatAmount)
}

func TestCalculate_SameRateWrittenDifferently(t *testing.T) {
	b := sale.Calculate([]sale.PricedLine{
		{Kind: sale.KindProduct, Price: dec("10"), Quantity: 1, TaxRate: dec("22")},
		{Kind: sale.KindProduct, Price: dec("10"), Quantity: 1, TaxRate: dec("22.00")},
	}, decimal.Zero, dec("4"))

	assertDec(t, "22", b.VatRate)
}
