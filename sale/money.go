package sale

import "github.com/shopspring/decimal"

var (
	hundred = decimal.NewFromInt(100)

	// oneCent is the threshold under which a balance collapses to zero.
	oneCent = decimal.New(1, -2)
)

func round2(d decimal.Decimal) decimal.Decimal { return d.Round(2) }
func round4(d decimal.Decimal) decimal.Decimal { return d.Round(4) }

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// normalizeQuantity coerces missing or non-positive quantities to 1.
func normalizeQuantity(q int) int {
	if q < 1 {
		return 1
	}
	return q
}
