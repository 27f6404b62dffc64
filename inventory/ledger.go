/*
ledger.go - Stock primitives with the never-sold-twice / never-negative invariants

PURPOSE:
  Every stock mutation of the engine goes through these primitives. They do
  not open transactions: the caller passes the Tx of the operation it is
  running, so a sale, its unit transitions and its counter decrements commit
  or roll back together.

INVARIANTS:
  1. Serialized units leave UnitSold only through ReleaseUnit.
  2. SellUnit never reads-then-writes: the status check happens inside the
     conditional UPDATE, so two concurrent sales of one unit cannot both win.
  3. A counter is only written after its row was locked in the same Tx, and
     never below zero.
  4. Every counter write appends exactly one StockMovement.

LOCK ORDERING:
  Products are always locked in ascending id order. Two sales touching the
  same set of products therefore queue instead of deadlocking.

EXAMPLE:
  locked, err := l.LockDemand(ctx, tx, demand)   // fails before any write
  ...
  err = l.Consume(ctx, tx, locked, demand, inventory.Ref{Type: "sale", ID: saleID})
*/
package inventory

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// Ledger applies stock primitives inside a caller-provided transaction.
type Ledger struct {
	now func() time.Time
}

// NewLedger creates a ledger. A nil clock uses time.Now.
func NewLedger(now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{now: now}
}

// IDs returns the product ids of the demand in lock order.
func (d Demand) IDs() []int64 {
	ids := make([]int64, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// =============================================================================
// BULK STOCK
// =============================================================================

// LockDemand locks every product in the demand and checks that each one
// exists, is active and can cover the aggregated quantity. Nothing is written.
func (l *Ledger) LockDemand(ctx context.Context, tx Tx, demand Demand) (map[int64]Product, error) {
	if len(demand) == 0 {
		return map[int64]Product{}, nil
	}
	ids := demand.IDs()
	locked, err := tx.LockProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}
	for _, id := range ids {
		p, ok := locked[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrProductNotFound, id)
		}
		if !p.Active {
			return nil, fmt.Errorf("%w: %d (%s)", ErrProductInactive, id, p.Name)
		}
		if demand[id] > p.StockQuantity {
			return nil, &InsufficientStockError{
				ProductID: id,
				Name:      p.Name,
				Available: p.StockQuantity,
				Requested: demand[id],
			}
		}
	}
	return locked, nil
}

// Consume decrements products previously returned by LockDemand and appends a
// sale movement for each.
func (l *Ledger) Consume(ctx context.Context, tx Tx, locked map[int64]Product, demand Demand, ref Ref) error {
	for _, id := range demand.IDs() {
		p, ok := locked[id]
		if !ok {
			return fmt.Errorf("%w: %d not locked", ErrProductNotFound, id)
		}
		if _, err := l.apply(ctx, tx, p, -demand[id], ReasonSale, ref); err != nil {
			return err
		}
	}
	return nil
}

// Restock locks the given products and increments their counters, appending
// one movement per product with the given reason.
func (l *Ledger) Restock(ctx context.Context, tx Tx, demand Demand, reason MovementReason, ref Ref) error {
	if len(demand) == 0 {
		return nil
	}
	ids := demand.IDs()
	locked, err := tx.LockProducts(ctx, ids)
	if err != nil {
		return fmt.Errorf("lock products: %w", err)
	}
	for _, id := range ids {
		if demand[id] <= 0 {
			continue
		}
		p, ok := locked[id]
		if !ok {
			return fmt.Errorf("%w: %d", ErrProductNotFound, id)
		}
		if _, err := l.apply(ctx, tx, p, demand[id], reason, ref); err != nil {
			return err
		}
	}
	return nil
}

// Adjust applies a signed manual correction to one product.
func (l *Ledger) Adjust(ctx context.Context, tx Tx, productID int64, delta int, ref Ref) (StockMovement, error) {
	locked, err := tx.LockProducts(ctx, []int64{productID})
	if err != nil {
		return StockMovement{}, fmt.Errorf("lock products: %w", err)
	}
	p, ok := locked[productID]
	if !ok {
		return StockMovement{}, fmt.Errorf("%w: %d", ErrProductNotFound, productID)
	}
	return l.apply(ctx, tx, p, delta, ReasonAdjustment, ref)
}

func (l *Ledger) apply(ctx context.Context, tx Tx, p Product, delta int, reason MovementReason, ref Ref) (StockMovement, error) {
	next := p.StockQuantity + delta
	if next < 0 {
		return StockMovement{}, &InsufficientStockError{
			ProductID: p.ID,
			Name:      p.Name,
			Available: p.StockQuantity,
			Requested: -delta,
		}
	}
	if err := tx.SetStockQuantity(ctx, p.ID, next); err != nil {
		return StockMovement{}, fmt.Errorf("set stock of product %d: %w", p.ID, err)
	}
	m := StockMovement{
		ProductID:  p.ID,
		Delta:      delta,
		Balance:    next,
		Reason:     reason,
		RefType:    ref.Type,
		RefID:      ref.ID,
		OperatorID: ref.OperatorID,
		Note:       ref.Note,
		CreatedAt:  l.now().UTC(),
	}
	id, err := tx.AppendMovement(ctx, m)
	if err != nil {
		return StockMovement{}, fmt.Errorf("append movement for product %d: %w", p.ID, err)
	}
	m.ID = id
	return m, nil
}

// =============================================================================
// SERIALIZED UNITS
// =============================================================================

// SellUnit marks a unit as sold. A non-empty code must match the unit's code.
func (l *Ledger) SellUnit(ctx context.Context, tx Tx, unitID int64, code string) (*SerializedUnit, error) {
	u, err := tx.GetUnit(ctx, unitID)
	if err != nil {
		return nil, fmt.Errorf("get unit %d: %w", unitID, err)
	}
	if u == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnitNotFound, unitID)
	}
	if code != "" && code != u.Code {
		return nil, fmt.Errorf("%w: unit %d is %q, got %q", ErrSerialMismatch, unitID, u.Code, code)
	}
	ok, err := tx.TransitionUnit(ctx, unitID, Sellable, UnitSold)
	if err != nil {
		return nil, fmt.Errorf("transition unit %d: %w", unitID, err)
	}
	if !ok {
		return nil, &UnitUnavailableError{UnitID: unitID, Code: u.Code, Status: u.Status}
	}
	u.Status = UnitSold
	return u, nil
}

// ReleaseUnit returns a sold unit to stock. It reports false when the unit
// was not in the sold state.
func (l *Ledger) ReleaseUnit(ctx context.Context, tx Tx, unitID int64) (bool, error) {
	ok, err := tx.TransitionUnit(ctx, unitID, []UnitStatus{UnitSold}, UnitInStock)
	if err != nil {
		return false, fmt.Errorf("transition unit %d: %w", unitID, err)
	}
	return ok, nil
}
