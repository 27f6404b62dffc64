package sale

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentTerms are the resolved payment fields of a sale.
type PaymentTerms struct {
	TotalPaid  decimal.Decimal
	BalanceDue decimal.Decimal
	Status     PaymentStatus
}

// ResolvePayment derives total paid, balance and status for a sale total.
//
// An explicit paid amount wins: the balance is recomputed from it. An explicit
// balance alone determines the paid amount. With neither, the sale is fully
// paid. Balances under one cent collapse to zero. An explicit valid status is
// kept as given; otherwise it is derived and becomes overdue when the due date
// is strictly before today and something is still owed.
func ResolvePayment(total decimal.Decimal, paid, balance *decimal.Decimal, status PaymentStatus, due *time.Time, now time.Time) PaymentTerms {
	var t PaymentTerms
	switch {
	case paid != nil:
		t.TotalPaid = round2(clamp(*paid, decimal.Zero, total))
		t.BalanceDue = clamp(total.Sub(t.TotalPaid), decimal.Zero, total)
	case balance != nil:
		t.BalanceDue = round2(clamp(*balance, decimal.Zero, total))
		t.TotalPaid = total.Sub(t.BalanceDue)
	default:
		t.TotalPaid = total
		t.BalanceDue = decimal.Zero
	}
	if t.BalanceDue.LessThan(oneCent) {
		t.BalanceDue = decimal.Zero
	}

	if status.Valid() {
		t.Status = status
		return t
	}

	switch {
	case t.BalanceDue.IsZero():
		t.Status = PaymentPaid
	case t.TotalPaid.IsPositive():
		t.Status = PaymentPartial
	default:
		t.Status = PaymentPending
	}
	if t.Status != PaymentPaid && due != nil && isBeforeDay(*due, now) {
		t.Status = PaymentOverdue
	}
	return t
}

// isBeforeDay reports whether day a is strictly before the calendar day of b
// (UTC).
func isBeforeDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC).Before(time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC))
}
