/*
Package inventory owns serialized units and bulk stock counters.

KEY CONCEPTS IN THIS FILE (types.go):
  - SerializedUnit: one physically unique stock item (a SIM card, an ICCID)
    tracked by status, never by quantity
  - Product: fungible stock tracked by a counter
  - StockMovement: append-only record of every counter change

INVARIANTS:
  - A unit is sold at most once: the only way out of UnitSold is back to
    UnitInStock through a reversal.
  - Product.StockQuantity never drops below zero after a mutation.
  - Movements are never updated or deleted.

SEE ALSO:
  - ledger.go: primitives that mutate units and counters inside a transaction
  - store.go: the transactional surface those primitives need
*/
package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SERIALIZED UNITS
// =============================================================================

type UnitStatus string

const (
	UnitInStock  UnitStatus = "in_stock"
	UnitReserved UnitStatus = "reserved"
	UnitSold     UnitStatus = "sold"
)

// Sellable lists the statuses a unit may be sold from.
var Sellable = []UnitStatus{UnitInStock, UnitReserved}

// SerializedUnit is a uniquely coded, non-fungible stock unit.
type SerializedUnit struct {
	ID         int64
	Code       string
	ProviderID int64
	Status     UnitStatus
	UpdatedAt  time.Time
}

// =============================================================================
// BULK STOCK
// =============================================================================

// Product is a catalog row as seen by the engine: price, tax and stock.
type Product struct {
	ID            int64
	Name          string
	Price         decimal.Decimal
	TaxRate       decimal.Decimal // percent, e.g. 22 for 22%
	TaxCode       string
	StockQuantity int
	StockReserved int
	Active        bool
}

// =============================================================================
// STOCK MOVEMENTS
// =============================================================================

type MovementReason string

const (
	ReasonInitial    MovementReason = "initial"
	ReasonAdjustment MovementReason = "adjustment"
	ReasonSale       MovementReason = "sale"
	ReasonCancel     MovementReason = "cancel"
	ReasonRefund     MovementReason = "refund"
)

// StockMovement is one append-only change to a product counter.
type StockMovement struct {
	ID         int64
	ProductID  int64
	Delta      int
	Balance    int // stock_quantity after the change
	Reason     MovementReason
	RefType    string
	RefID      int64
	OperatorID int64
	Note       string
	CreatedAt  time.Time
}

// Ref identifies what caused a movement.
type Ref struct {
	Type       string
	ID         int64
	OperatorID int64
	Note       string
}

// Demand aggregates requested quantities per product.
type Demand map[int64]int

func (d Demand) Add(productID int64, qty int) {
	d[productID] += qty
}
