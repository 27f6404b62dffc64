package inventory

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrProductInactive   = errors.New("product is not active")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrUnitNotFound      = errors.New("serialized unit not found")
	ErrSerialMismatch    = errors.New("serial code does not match unit")

	// ErrUnitAlreadySold is returned when the conditional transition to sold
	// matched no row: the unit was sold by someone else first.
	ErrUnitAlreadySold = errors.New("serialized unit already sold")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InsufficientStockError reports a product whose counter cannot cover a request.
type InsufficientStockError struct {
	ProductID int64
	Name      string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d (%s): available %d, requested %d",
		e.ProductID, e.Name, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// UnitUnavailableError reports a serialized unit that could not be sold.
type UnitUnavailableError struct {
	UnitID int64
	Code   string
	Status UnitStatus
}

func (e *UnitUnavailableError) Error() string {
	return fmt.Sprintf("serialized unit %d (%s) is not available: status %s",
		e.UnitID, e.Code, e.Status)
}

func (e *UnitUnavailableError) Unwrap() error {
	return ErrUnitAlreadySold
}
