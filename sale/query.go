/*
query.go - Read side: sale details and paginated listings

Point reads return (nil, nil) when nothing matches, including when a
customer-scoped read addresses another customer's sale, so the portal
cannot probe for foreign ids.
*/
package sale

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/sale-engine/inventory"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// SaleDetail is a sale with its items and reversal history.
type SaleDetail struct {
	Sale    Sale
	Items   []SaleItem
	Refunds []ItemRefund
}

// SearchFilter selects sales. Zero values match everything.
type SearchFilter struct {
	Status        Status
	PaymentStatus PaymentStatus
	CustomerID    *int64
	Query         string // matched against customer name and reference
	From, To      *time.Time
	Page          int
	PerPage       int
}

func (f SearchFilter) Normalize() SearchFilter {
	f.Page, f.PerPage = normalizePage(f.Page, f.PerPage)
	return f
}

func (f SearchFilter) Offset() int {
	return (f.Page - 1) * f.PerPage
}

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int
	PerPage    int
	Total      int
	TotalPages int
}

// NewPagination computes pagination metadata.
func NewPagination(page, perPage, total int) Pagination {
	page, perPage = normalizePage(page, perPage)
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

func normalizePage(page, perPage int) (int, int) {
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	if page <= 0 {
		page = 1
	}
	return page, perPage
}

// =============================================================================
// POINT READS
// =============================================================================

// GetSaleWithItems returns a sale with its items and item refunds. When
// customerID is set the sale must belong to that customer.
func (l *Ledger) GetSaleWithItems(ctx context.Context, saleID int64, customerID *int64) (*SaleDetail, error) {
	s, err := l.store.GetSale(ctx, saleID)
	if err != nil {
		return nil, l.fail("GetSaleWithItems", err, logrus.Fields{"sale_id": saleID})
	}
	return l.detail(ctx, s, customerID)
}

// GetSaleByReference is GetSaleWithItems addressed by the portal reference.
func (l *Ledger) GetSaleByReference(ctx context.Context, reference string, customerID *int64) (*SaleDetail, error) {
	s, err := l.store.GetSaleByReference(ctx, reference)
	if err != nil {
		return nil, l.fail("GetSaleByReference", err, logrus.Fields{"reference": reference})
	}
	return l.detail(ctx, s, customerID)
}

func (l *Ledger) detail(ctx context.Context, s *Sale, customerID *int64) (*SaleDetail, error) {
	if s == nil {
		return nil, nil
	}
	if customerID != nil && (s.CustomerID == nil || *s.CustomerID != *customerID) {
		return nil, nil
	}

	d := &SaleDetail{Sale: *s}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		items, err := l.store.ListSaleItems(gctx, s.ID)
		d.Items = items
		return err
	})
	g.Go(func() error {
		refunds, err := l.store.ListItemRefunds(gctx, s.ID)
		d.Refunds = refunds
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, l.fail("GetSaleWithItems", err, logrus.Fields{"sale_id": s.ID})
	}
	return d, nil
}

// =============================================================================
// LISTINGS
// =============================================================================

// SearchSales lists sales matching filter, newest first.
func (l *Ledger) SearchSales(ctx context.Context, filter SearchFilter) ([]Sale, Pagination, error) {
	filter = filter.Normalize()
	sales, total, err := l.store.SearchSales(ctx, filter)
	if err != nil {
		return nil, Pagination{}, l.fail("SearchSales", err, nil)
	}
	return sales, NewPagination(filter.Page, filter.PerPage, total), nil
}

// ListCustomerSales lists the sales of one customer, newest first.
func (l *Ledger) ListCustomerSales(ctx context.Context, customerID int64, page, perPage int) ([]Sale, Pagination, error) {
	return l.SearchSales(ctx, SearchFilter{CustomerID: &customerID, Page: page, PerPage: perPage})
}

// StockMovements lists the latest movements of a product, newest first.
func (l *Ledger) StockMovements(ctx context.Context, productID int64, limit int) ([]inventory.StockMovement, error) {
	if limit <= 0 || limit > maxPerPage {
		limit = maxPerPage
	}
	movements, err := l.store.ListStockMovements(ctx, productID, limit)
	if err != nil {
		return nil, l.fail("StockMovements", err, logrus.Fields{"product_id": productID})
	}
	return movements, nil
}

// MarkOverdue flips unpaid sales whose due date has passed to overdue.
func (l *Ledger) MarkOverdue(ctx context.Context) (int64, error) {
	n, err := l.store.MarkOverdueSales(ctx, l.now().UTC())
	if err != nil {
		return 0, l.fail("MarkOverdue", err, nil)
	}
	if n > 0 {
		l.log.WithField("count", n).Info("sales marked overdue")
	}
	return n, nil
}
