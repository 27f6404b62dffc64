/*
Package sale commits sales against inventory and reverses them.

KEY CONCEPTS IN THIS FILE (types.go):
  - Sale: the aggregate (totals, payment terms, tax, status)
  - SaleItem: one line; RefundedQuantity is its only mutable field
  - CartLine: closed union of ServiceLine and ProductLine submitted by callers
  - ItemRefund / AuditEntry: append-only history rows

LIFECYCLE:
  Created once by Ledger.CreateSale with StatusCompleted. Afterwards only
  Ledger.CancelSale and Ledger.RefundSale mutate it:

    completed --cancel--> cancelled
    completed --refund (partial)--> completed
    completed --refund (last units)--> refunded

  Sales are never deleted.

SEE ALSO:
  - calculator.go: discount and tax-inclusive decomposition
  - ledger.go: CreateSale
  - reversal.go: CancelSale, RefundSale
*/
package sale

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATUSES
// =============================================================================

type Status string

const (
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

type PaymentStatus string

const (
	PaymentPaid    PaymentStatus = "paid"
	PaymentPartial PaymentStatus = "partial"
	PaymentPending PaymentStatus = "pending"
	PaymentOverdue PaymentStatus = "overdue"
)

// Valid reports whether p is one of the four known payment statuses.
func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentPaid, PaymentPartial, PaymentPending, PaymentOverdue:
		return true
	}
	return false
}

type ItemKind string

const (
	KindService ItemKind = "service"
	KindProduct ItemKind = "product"
)

type RefundType string

const (
	RefundTypeRefund RefundType = "refund"
	RefundTypeCredit RefundType = "credit"
)

func (t RefundType) Valid() bool {
	return t == RefundTypeRefund || t == RefundTypeCredit
}

// =============================================================================
// AGGREGATE
// =============================================================================

// Sale is one committed transaction.
type Sale struct {
	ID             int64
	Reference      string // portal-facing uuid
	OperatorID     int64
	CustomerID     *int64
	CustomerName   string
	CustomerNote   string
	Subtotal       decimal.Decimal
	Discount       decimal.Decimal
	Total          decimal.Decimal
	TotalPaid      decimal.Decimal
	BalanceDue     decimal.Decimal
	PaymentStatus  PaymentStatus
	DueDate        *time.Time
	CampaignID     *int64
	VatRate        decimal.Decimal
	VatAmount      decimal.Decimal
	PaymentMethod  string
	Status         Status
	RefundedAmount decimal.Decimal
	CreditedAmount decimal.Decimal
	CancelNote     string
	RefundNote     string
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CancelledAt    *time.Time
	RefundedAt     *time.Time
}

// SaleItem is one line of a sale.
type SaleItem struct {
	ID               int64
	SaleID           int64
	Kind             ItemKind
	UnitID           *int64
	ProductID        *int64
	Description      string
	Quantity         int
	UnitPrice        decimal.Decimal
	TaxRate          decimal.Decimal
	TaxAmount        decimal.Decimal
	TaxCode          string
	RefundedQuantity int
}

// Remaining is the quantity that can still be refunded.
func (i SaleItem) Remaining() int {
	return i.Quantity - i.RefundedQuantity
}

// ItemRefund records one reversal action on a sale item.
type ItemRefund struct {
	ID         int64
	SaleItemID int64
	OperatorID int64
	Quantity   int
	Type       RefundType
	Note       string
	Amount     decimal.Decimal
	CreatedAt  time.Time
}

// AuditEntry is one line of the action log.
type AuditEntry struct {
	ID          int64
	OperatorID  int64
	Action      string
	EntityType  string
	EntityID    int64
	Description string
	CreatedAt   time.Time
}

// Customer is what the engine needs from the customer registry.
type Customer struct {
	ID   int64
	Name string
}

// =============================================================================
// CART LINES
// =============================================================================

// CartLine is either a ServiceLine or a ProductLine.
type CartLine interface {
	kind() ItemKind
	base() LineBase
}

// LineBase holds the fields common to every cart line.
type LineBase struct {
	Price       decimal.Decimal
	Quantity    int // values below 1 are treated as 1
	Description string
}

// UnitRef points a service line at a serialized unit. Code is optional; when
// set it must match the stored code.
type UnitRef struct {
	ID   int64
	Code string
}

// ServiceLine is a non-stocked line, optionally consuming one serialized unit.
type ServiceLine struct {
	LineBase
	Unit *UnitRef
}

// ProductLine consumes bulk stock of one product.
type ProductLine struct {
	LineBase
	ProductID int64
}

func (ServiceLine) kind() ItemKind   { return KindService }
func (l ServiceLine) base() LineBase { return l.LineBase }
func (ProductLine) kind() ItemKind   { return KindProduct }
func (l ProductLine) base() LineBase { return l.LineBase }

// =============================================================================
// OPERATION INPUTS & RESULTS
// =============================================================================

// SaleConfig is the configuration of the sale ledger.
type SaleConfig struct {
	// DefaultVatRate applies when the taxed lines of a sale do not share a
	// single rate and the caller gave no override.
	DefaultVatRate decimal.Decimal
}

type CreateSaleInput struct {
	OperatorID   int64
	CustomerID   *int64
	CustomerName string
	CustomerNote string
	Lines        []CartLine

	PaymentMethod string
	Discount      decimal.Decimal
	VatRate       *decimal.Decimal

	// Explicit payment terms. Nil / empty values are derived.
	TotalPaid     *decimal.Decimal
	BalanceDue    *decimal.Decimal
	PaymentStatus PaymentStatus
	DueDate       *time.Time

	CampaignID     *int64
	IdempotencyKey string
}

type CancelInput struct {
	SaleID     int64
	OperatorID int64
	Reason     string
}

// RefundLine requests the reversal of Quantity units of one sale item.
// An empty Type means RefundTypeRefund.
type RefundLine struct {
	SaleItemID int64
	Quantity   int
	Type       RefundType
	Note       string
}

// RefundInput without Lines refunds the full remainder of every line.
type RefundInput struct {
	SaleID     int64
	OperatorID int64
	Lines      []RefundLine
	Note       string
}

// RefundResult reports what one RefundSale call applied.
type RefundResult struct {
	SaleID         int64
	Status         Status
	Refunded       decimal.Decimal // this batch, type refund
	Credited       decimal.Decimal // this batch, type credit
	RefundedAmount decimal.Decimal // sale total after the batch
	CreditedAmount decimal.Decimal
}

type AdjustStockInput struct {
	ProductID  int64
	Delta      int
	OperatorID int64
	Note       string
}
