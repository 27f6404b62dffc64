package sale

import (
	"context"
	"time"
)

// Audit actions.
const (
	ActionSaleCreate  = "sale.create"
	ActionSaleCancel  = "sale.cancel"
	ActionSaleRefund  = "sale.refund"
	ActionStockAdjust = "stock.adjust"
)

// Audited entity types.
const (
	EntitySale    = "sale"
	EntityProduct = "product"
)

// AuditFilter selects audit entries. Zero values match everything.
type AuditFilter struct {
	Action     string
	EntityType string
	EntityID   int64
	OperatorID int64
	From, To   *time.Time
	Page       int
	PerPage    int
}

func (f AuditFilter) Normalize() AuditFilter {
	f.Page, f.PerPage = normalizePage(f.Page, f.PerPage)
	return f
}

func (f AuditFilter) Offset() int {
	return (f.Page - 1) * f.PerPage
}

func (l *Ledger) audit(ctx context.Context, tx Tx, operatorID int64, action string, saleID int64, desc string) error {
	return l.appendAudit(ctx, tx, AuditEntry{
		OperatorID:  operatorID,
		Action:      action,
		EntityType:  EntitySale,
		EntityID:    saleID,
		Description: desc,
	})
}

// appendAudit stamps e with the ledger clock and appends it inside tx, so the
// entry commits or rolls back with the mutation it describes.
func (l *Ledger) appendAudit(ctx context.Context, tx Tx, e AuditEntry) error {
	e.CreatedAt = l.now().UTC()
	return tx.AppendAudit(ctx, e)
}

// AuditTrail lists audit entries, newest first.
func (l *Ledger) AuditTrail(ctx context.Context, filter AuditFilter) ([]AuditEntry, Pagination, error) {
	filter = filter.Normalize()
	entries, total, err := l.store.ListAuditEntries(ctx, filter)
	if err != nil {
		return nil, Pagination{}, l.fail("AuditTrail", err, nil)
	}
	return entries, NewPagination(filter.Page, filter.PerPage, total), nil
}
