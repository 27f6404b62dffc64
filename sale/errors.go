/*
errors.go - Error taxonomy of the sale engine

PURPOSE:
  Every failure surfaced by Ledger falls in exactly one ErrorKind. Callers
  switch on the kind (the HTTP adapter maps kinds to status codes) and use
  errors.Is / errors.As for the specific cause.

ERROR KINDS:
  1. Validation  - the caller can fix the request (unknown customer, bad line)
  2. Consistency - a business rule refused it (no stock, unit already sold)
  3. NotFound    - the sale addressed by a mutation does not exist
  4. Persistence - the store failed; anything unclassified ends up here

USAGE:
    if errors.Is(err, sale.ErrInsufficientStock) { ... }

    var dup *sale.DuplicateSaleError
    if errors.As(err, &dup) { return dup.SaleID }

SEE ALSO:
  - inventory/errors.go: stock sentinels, re-exported and classified here
*/
package sale

import (
	"errors"
	"fmt"

	"github.com/warp/sale-engine/inventory"
)

// ErrorKind classifies a failure.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindConsistency ErrorKind = "consistency"
	KindNotFound    ErrorKind = "not_found"
	KindPersistence ErrorKind = "persistence"
)

// Error is a classified sentinel. Wrap it with fmt.Errorf("%w: ...") to add
// detail; errors.As still finds it.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrEmptyCart              = newError(KindValidation, "empty_cart", "sale has no lines")
	ErrOperatorRequired       = newError(KindValidation, "operator_required", "operator id is required")
	ErrCustomerNotFound       = newError(KindValidation, "customer_not_found", "customer not found")
	ErrInvalidQuantity        = newError(KindValidation, "invalid_quantity", "quantity out of range")
	ErrInvalidPrice           = newError(KindValidation, "invalid_price", "price out of range")
	ErrInvalidDueDate         = newError(KindValidation, "invalid_due_date", "due date cannot be parsed")
	ErrInvalidRefundType      = newError(KindValidation, "invalid_refund_type", "refund type must be refund or credit")
	ErrItemNotInSale          = newError(KindValidation, "item_not_in_sale", "sale item does not belong to this sale")
	ErrRefundExceedsRemaining = newError(KindValidation, "refund_exceeds_remaining", "refund quantity exceeds remaining quantity")

	ErrSaleNotCompleted = newError(KindConsistency, "sale_not_completed", "sale is not completed")
	ErrNothingToRefund  = newError(KindConsistency, "nothing_to_refund", "sale has no refundable lines")

	// ErrDuplicateIdempotencyKey is returned when a sale with the same
	// idempotency key already exists. Expected on client retries.
	ErrDuplicateIdempotencyKey = newError(KindConsistency, "duplicate_idempotency_key", "duplicate idempotency key")

	ErrSaleNotFound = newError(KindNotFound, "sale_not_found", "sale not found")

	ErrPersistence = newError(KindPersistence, "persistence", "store failure")
)

// Stock failures are raised by the inventory ledger.
var (
	ErrProductNotFound   = inventory.ErrProductNotFound
	ErrProductInactive   = inventory.ErrProductInactive
	ErrSerialMismatch    = inventory.ErrSerialMismatch
	ErrInsufficientStock = inventory.ErrInsufficientStock
	ErrUnitNotFound      = inventory.ErrUnitNotFound
	ErrUnitAlreadySold   = inventory.ErrUnitAlreadySold
)

type (
	InsufficientStockError = inventory.InsufficientStockError
	UnitUnavailableError   = inventory.UnitUnavailableError
)

var stockKinds = []struct {
	err  error
	kind ErrorKind
	code string
}{
	{ErrProductNotFound, KindValidation, "product_not_found"},
	{ErrProductInactive, KindValidation, "product_inactive"},
	{ErrSerialMismatch, KindValidation, "serial_mismatch"},
	{ErrInsufficientStock, KindConsistency, "insufficient_stock"},
	{ErrUnitNotFound, KindConsistency, "unit_not_found"},
	{ErrUnitAlreadySold, KindConsistency, "unit_already_sold"},
}

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RefundQuantityError reports a refund line asking for more than remains.
type RefundQuantityError struct {
	SaleItemID int64
	Requested  int
	Remaining  int
}

func (e *RefundQuantityError) Error() string {
	return fmt.Sprintf("refund quantity exceeds remaining for item %d: requested %d, remaining %d",
		e.SaleItemID, e.Requested, e.Remaining)
}

func (e *RefundQuantityError) Unwrap() error {
	return ErrRefundExceedsRemaining
}

// DuplicateSaleError carries the id of the sale already committed under the
// same idempotency key.
type DuplicateSaleError struct {
	Key    string
	SaleID int64
}

func (e *DuplicateSaleError) Error() string {
	return fmt.Sprintf("sale with idempotency key %q already exists (sale %d)", e.Key, e.SaleID)
}

func (e *DuplicateSaleError) Unwrap() error {
	return ErrDuplicateIdempotencyKey
}

// PersistenceError wraps a store failure during an operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: store failure: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// Classify returns the kind and stable code of err. Unknown errors are
// persistence failures.
func Classify(err error) (ErrorKind, string) {
	if err == nil {
		return "", ""
	}
	for _, sk := range stockKinds {
		if errors.Is(err, sk.err) {
			return sk.kind, sk.code
		}
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, e.Code
	}
	return KindPersistence, ErrPersistence.Code
}

func KindOf(err error) ErrorKind {
	kind, _ := Classify(err)
	return kind
}

// IsValidation returns true if the caller can fix the request and retry.
func IsValidation(err error) bool {
	return err != nil && KindOf(err) == KindValidation
}

// IsConsistency returns true if a business rule rejected the operation.
func IsConsistency(err error) bool {
	return err != nil && KindOf(err) == KindConsistency
}

func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}

func IsPersistence(err error) bool {
	return err != nil && KindOf(err) == KindPersistence
}
