/*
store.go - Persistence contract of the sale engine

PURPOSE:
  The ledger depends only on these interfaces. Implementations live in
  store/memory (tests) and store/sqldb (SQLite and PostgreSQL).

TRANSACTIONS:
  Every mutation runs inside Store.WithTx. The callback receives a Tx bound
  to one database transaction: returning nil commits, returning an error
  (or panicking) rolls everything back. Nothing is retried.

READ MISSES:
  Point reads return (nil, nil) when the row does not exist. Only the
  ledger decides whether a miss is an error.
*/
package sale

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/sale-engine/inventory"
)

// Store is the storage backend of the ledger.
type Store interface {
	// WithTx runs fn inside one transaction.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	GetSale(ctx context.Context, id int64) (*Sale, error)
	GetSaleByReference(ctx context.Context, reference string) (*Sale, error)
	FindSaleByIdempotencyKey(ctx context.Context, key string) (*Sale, error)
	ListSaleItems(ctx context.Context, saleID int64) ([]SaleItem, error)
	ListItemRefunds(ctx context.Context, saleID int64) ([]ItemRefund, error)

	// SearchSales returns one page of matching sales, newest first, and the
	// total number of matches.
	SearchSales(ctx context.Context, filter SearchFilter) ([]Sale, int, error)

	ListStockMovements(ctx context.Context, productID int64, limit int) ([]inventory.StockMovement, error)
	ListAuditEntries(ctx context.Context, filter AuditFilter) ([]AuditEntry, int, error)

	// MarkOverdueSales flips completed sales with a positive balance and a
	// due date before today from pending/partial to overdue.
	MarkOverdueSales(ctx context.Context, today time.Time) (int64, error)
}

// Tx is the transactional view handed to WithTx callbacks.
type Tx interface {
	inventory.Tx

	GetCustomer(ctx context.Context, id int64) (*Customer, error)
	FindSaleByIdempotencyKey(ctx context.Context, key string) (*Sale, error)

	// InsertSale stores s and returns its id. A duplicate idempotency key
	// fails with an error wrapping ErrDuplicateIdempotencyKey.
	InsertSale(ctx context.Context, s Sale) (int64, error)
	InsertSaleItem(ctx context.Context, item SaleItem) (int64, error)

	// GetSaleForUpdate reads a sale and locks it until the transaction ends.
	GetSaleForUpdate(ctx context.Context, id int64) (*Sale, error)
	ListSaleItems(ctx context.Context, saleID int64) ([]SaleItem, error)

	// RestockedQuantities sums refund-type ItemRefund quantities per sale
	// item: the units that already went back to bulk stock.
	RestockedQuantities(ctx context.Context, saleID int64) (map[int64]int, error)

	InsertItemRefund(ctx context.Context, r ItemRefund) (int64, error)

	// AddRefundedQuantity increments refunded_quantity only while the result
	// stays within quantity. It reports false when no row matched.
	AddRefundedQuantity(ctx context.Context, itemID int64, qty int) (bool, error)

	MarkSaleCancelled(ctx context.Context, id int64, note string, at time.Time) error
	UpdateSaleRefund(ctx context.Context, id int64, status Status, refunded, credited decimal.Decimal, note string, at time.Time) error

	AppendAudit(ctx context.Context, e AuditEntry) error
}
