package inventory

import "context"

// Tx is the slice of a store transaction the inventory primitives need.
// Implementations must run every call on the same underlying transaction.
type Tx interface {
	// LockProducts reads the given products and locks their rows until the
	// transaction ends. Missing ids are absent from the result.
	LockProducts(ctx context.Context, ids []int64) (map[int64]Product, error)

	// SetStockQuantity overwrites the counter of a locked product.
	SetStockQuantity(ctx context.Context, productID int64, quantity int) error

	// AppendMovement records a counter change and returns its id. Append-only.
	AppendMovement(ctx context.Context, m StockMovement) (int64, error)

	// GetUnit returns nil, nil when the unit does not exist.
	GetUnit(ctx context.Context, id int64) (*SerializedUnit, error)

	// TransitionUnit moves a unit to `to` only if its current status is one
	// of `from`. It reports false, without error, when no row matched.
	TransitionUnit(ctx context.Context, id int64, from []UnitStatus, to UnitStatus) (bool, error)
}
