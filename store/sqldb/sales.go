package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/sale-engine/sale"
)

// =============================================================================
// SALES
// =============================================================================

const saleColumns = `id, reference, operator_id, customer_id, customer_name, customer_note,
	subtotal, discount, total, total_paid, balance_due, payment_status, due_date,
	campaign_id, vat_rate, vat_amount, payment_method, status, refunded_amount,
	credited_amount, cancel_note, refund_note, idempotency_key, created_at, updated_at,
	cancelled_at, refunded_at`

func scanSale(row scanner) (sale.Sale, error) {
	var (
		s                         sale.Sale
		customerID, campaignID    sql.NullInt64
		customerNote, idemKey     sql.NullString
		cancelNote, refundNote    sql.NullString
		dueDate, cancelled, refnd sql.NullTime
	)
	err := row.Scan(
		&s.ID, &s.Reference, &s.OperatorID, &customerID, &s.CustomerName, &customerNote,
		&s.Subtotal, &s.Discount, &s.Total, &s.TotalPaid, &s.BalanceDue, &s.PaymentStatus, &dueDate,
		&campaignID, &s.VatRate, &s.VatAmount, &s.PaymentMethod, &s.Status, &s.RefundedAmount,
		&s.CreditedAmount, &cancelNote, &refundNote, &idemKey, &s.CreatedAt, &s.UpdatedAt,
		&cancelled, &refnd,
	)
	if err != nil {
		return sale.Sale{}, err
	}
	s.CustomerID = int64Ptr(customerID)
	s.CampaignID = int64Ptr(campaignID)
	s.CustomerNote = customerNote.String
	s.CancelNote = cancelNote.String
	s.RefundNote = refundNote.String
	s.IdempotencyKey = idemKey.String
	s.DueDate = timePtr(dueDate)
	s.CancelledAt = timePtr(cancelled)
	s.RefundedAt = timePtr(refnd)
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, nil
}

func (c conn) getSale(ctx context.Context, where string, lockSuffix string, args ...any) (*sale.Sale, error) {
	row := c.queryRow(ctx, "SELECT "+saleColumns+" FROM sales WHERE "+where+lockSuffix, args...)
	s, err := scanSale(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sale: %w", err)
	}
	return &s, nil
}

func (c conn) listSaleItems(ctx context.Context, saleID int64) ([]sale.SaleItem, error) {
	rows, err := c.query(ctx, `
		SELECT id, sale_id, kind, unit_id, product_id, description, quantity,
		       unit_price, tax_rate, tax_amount, tax_code, refunded_quantity
		FROM sale_items
		WHERE sale_id = ?
		ORDER BY id ASC`, saleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sale items: %w", err)
	}
	defer rows.Close()

	var items []sale.SaleItem
	for rows.Next() {
		var (
			item            sale.SaleItem
			unitID, product sql.NullInt64
			taxCode         sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.SaleID, &item.Kind, &unitID, &product, &item.Description,
			&item.Quantity, &item.UnitPrice, &item.TaxRate, &item.TaxAmount, &taxCode, &item.RefundedQuantity); err != nil {
			return nil, fmt.Errorf("failed to scan sale item: %w", err)
		}
		item.UnitID = int64Ptr(unitID)
		item.ProductID = int64Ptr(product)
		item.TaxCode = taxCode.String
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) GetSale(ctx context.Context, id int64) (*sale.Sale, error) {
	defer s.rlock()()
	return s.conn().getSale(ctx, "id = ?", "", id)
}

func (s *Store) GetSaleByReference(ctx context.Context, reference string) (*sale.Sale, error) {
	defer s.rlock()()
	return s.conn().getSale(ctx, "reference = ?", "", reference)
}

func (s *Store) FindSaleByIdempotencyKey(ctx context.Context, key string) (*sale.Sale, error) {
	if key == "" {
		return nil, nil
	}
	defer s.rlock()()
	return s.conn().getSale(ctx, "idempotency_key = ?", "", key)
}

func (s *Store) ListSaleItems(ctx context.Context, saleID int64) ([]sale.SaleItem, error) {
	defer s.rlock()()
	return s.conn().listSaleItems(ctx, saleID)
}

func (s *Store) ListItemRefunds(ctx context.Context, saleID int64) ([]sale.ItemRefund, error) {
	defer s.rlock()()

	rows, err := s.conn().query(ctx, `
		SELECT r.id, r.sale_item_id, r.operator_id, r.quantity, r.refund_type, r.note, r.amount, r.created_at
		FROM item_refunds r
		JOIN sale_items i ON i.id = r.sale_item_id
		WHERE i.sale_id = ?
		ORDER BY r.id ASC`, saleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query item refunds: %w", err)
	}
	defer rows.Close()

	var refunds []sale.ItemRefund
	for rows.Next() {
		var (
			r    sale.ItemRefund
			note sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.SaleItemID, &r.OperatorID, &r.Quantity, &r.Type, &note, &r.Amount, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan item refund: %w", err)
		}
		r.Note = note.String
		r.CreatedAt = r.CreatedAt.UTC()
		refunds = append(refunds, r)
	}
	return refunds, rows.Err()
}

// SearchSales returns one page of sales, newest first, and the match count.
func (s *Store) SearchSales(ctx context.Context, f sale.SearchFilter) ([]sale.Sale, int, error) {
	defer s.rlock()()
	c := s.conn()

	var w filter
	if f.Status != "" {
		w.add("status = ?", f.Status)
	}
	if f.PaymentStatus != "" {
		w.add("payment_status = ?", f.PaymentStatus)
	}
	if f.CustomerID != nil {
		w.add("customer_id = ?", *f.CustomerID)
	}
	if f.Query != "" {
		pattern := "%" + f.Query + "%"
		w.add("(customer_name "+s.dialect.LikeOp+" ? OR reference "+s.dialect.LikeOp+" ?)", pattern, pattern)
	}
	if f.From != nil {
		w.add("created_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		w.add("created_at <= ?", f.To.UTC())
	}

	var total int
	if err := c.queryRow(ctx, "SELECT COUNT(*) FROM sales"+w.where(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count sales: %w", err)
	}

	args := append(w.args, f.PerPage, f.Offset())
	rows, err := c.query(ctx, "SELECT "+saleColumns+" FROM sales"+w.where()+
		" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?", args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search sales: %w", err)
	}
	defer rows.Close()

	var sales []sale.Sale
	for rows.Next() {
		sl, err := scanSale(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan sale: %w", err)
		}
		sales = append(sales, sl)
	}
	return sales, total, rows.Err()
}

// MarkOverdueSales flips unpaid completed sales past their due date.
func (s *Store) MarkOverdueSales(ctx context.Context, today time.Time) (int64, error) {
	defer s.lock()()

	res, err := s.conn().exec(ctx, `
		UPDATE sales
		SET payment_status = ?, updated_at = ?
		WHERE status = ?
		  AND payment_status IN (?, ?)
		  AND due_date IS NOT NULL AND due_date < ?
		  AND CAST(balance_due AS REAL) > 0`,
		sale.PaymentOverdue, today.UTC(),
		sale.StatusCompleted,
		sale.PaymentPending, sale.PaymentPartial,
		startOfDay(today),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark overdue sales: %w", err)
	}
	return res.RowsAffected()
}

// =============================================================================
// TRANSACTIONAL SALE WRITES
// =============================================================================

func (t *txStore) GetCustomer(ctx context.Context, id int64) (*sale.Customer, error) {
	var c sale.Customer
	err := t.c.queryRow(ctx, "SELECT id, name FROM customers WHERE id = ?", id).Scan(&c.ID, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return &c, nil
}

func (t *txStore) FindSaleByIdempotencyKey(ctx context.Context, key string) (*sale.Sale, error) {
	if key == "" {
		return nil, nil
	}
	return t.c.getSale(ctx, "idempotency_key = ?", "", key)
}

func (t *txStore) InsertSale(ctx context.Context, s sale.Sale) (int64, error) {
	id, err := t.c.insert(ctx, `
		INSERT INTO sales
		(reference, operator_id, customer_id, customer_name, customer_note,
		 subtotal, discount, total, total_paid, balance_due, payment_status, due_date,
		 campaign_id, vat_rate, vat_amount, payment_method, status, refunded_amount,
		 credited_amount, idempotency_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Reference, s.OperatorID, nullInt64(s.CustomerID), s.CustomerName, nullString(s.CustomerNote),
		s.Subtotal, s.Discount, s.Total, s.TotalPaid, s.BalanceDue, s.PaymentStatus, nullTime(s.DueDate),
		nullInt64(s.CampaignID), s.VatRate, s.VatAmount, s.PaymentMethod, s.Status, s.RefundedAmount,
		s.CreditedAmount, nullString(s.IdempotencyKey), s.CreatedAt.UTC(), s.UpdatedAt.UTC(),
	)
	if err != nil {
		if s.IdempotencyKey != "" && t.c.d.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", sale.ErrDuplicateIdempotencyKey, s.IdempotencyKey)
		}
		return 0, fmt.Errorf("failed to insert sale: %w", err)
	}
	return id, nil
}

func (t *txStore) InsertSaleItem(ctx context.Context, item sale.SaleItem) (int64, error) {
	id, err := t.c.insert(ctx, `
		INSERT INTO sale_items
		(sale_id, kind, unit_id, product_id, description, quantity,
		 unit_price, tax_rate, tax_amount, tax_code, refunded_quantity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.SaleID, item.Kind, nullInt64(item.UnitID), nullInt64(item.ProductID), item.Description, item.Quantity,
		item.UnitPrice, item.TaxRate, item.TaxAmount, nullString(item.TaxCode), item.RefundedQuantity,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert sale item: %w", err)
	}
	return id, nil
}

func (t *txStore) GetSaleForUpdate(ctx context.Context, id int64) (*sale.Sale, error) {
	return t.c.getSale(ctx, "id = ?", t.c.d.LockSuffix, id)
}

func (t *txStore) ListSaleItems(ctx context.Context, saleID int64) ([]sale.SaleItem, error) {
	return t.c.listSaleItems(ctx, saleID)
}

func (t *txStore) RestockedQuantities(ctx context.Context, saleID int64) (map[int64]int, error) {
	rows, err := t.c.query(ctx, `
		SELECT r.sale_item_id, SUM(r.quantity)
		FROM item_refunds r
		JOIN sale_items i ON i.id = r.sale_item_id
		WHERE i.sale_id = ? AND r.refund_type = ?
		GROUP BY r.sale_item_id`, saleID, sale.RefundTypeRefund)
	if err != nil {
		return nil, fmt.Errorf("failed to sum restocked quantities: %w", err)
	}
	defer rows.Close()

	out := map[int64]int{}
	for rows.Next() {
		var itemID int64
		var qty int
		if err := rows.Scan(&itemID, &qty); err != nil {
			return nil, fmt.Errorf("failed to scan restocked quantity: %w", err)
		}
		out[itemID] = qty
	}
	return out, rows.Err()
}

func (t *txStore) InsertItemRefund(ctx context.Context, r sale.ItemRefund) (int64, error) {
	id, err := t.c.insert(ctx, `
		INSERT INTO item_refunds (sale_item_id, operator_id, quantity, refund_type, note, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.SaleItemID, r.OperatorID, r.Quantity, r.Type, nullString(r.Note), r.Amount, r.CreatedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert item refund: %w", err)
	}
	return id, nil
}

// AddRefundedQuantity is a conditional increment: it never lets
// refunded_quantity exceed quantity, whatever the caller checked before.
func (t *txStore) AddRefundedQuantity(ctx context.Context, itemID int64, qty int) (bool, error) {
	res, err := t.c.exec(ctx, `
		UPDATE sale_items
		SET refunded_quantity = refunded_quantity + ?
		WHERE id = ? AND refunded_quantity + ? <= quantity`,
		qty, itemID, qty)
	if err != nil {
		return false, fmt.Errorf("failed to update refunded quantity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *txStore) MarkSaleCancelled(ctx context.Context, id int64, note string, at time.Time) error {
	_, err := t.c.exec(ctx, `
		UPDATE sales
		SET status = ?, cancel_note = ?, cancelled_at = ?, updated_at = ?
		WHERE id = ?`,
		sale.StatusCancelled, nullString(note), at.UTC(), at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to cancel sale: %w", err)
	}
	return nil
}

func (t *txStore) UpdateSaleRefund(ctx context.Context, id int64, status sale.Status, refunded, credited decimal.Decimal, note string, at time.Time) error {
	_, err := t.c.exec(ctx, `
		UPDATE sales
		SET status = ?, refunded_amount = ?, credited_amount = ?, refund_note = ?,
		    refunded_at = ?, updated_at = ?
		WHERE id = ?`,
		status, refunded, credited, nullString(note), at.UTC(), at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update sale refund: %w", err)
	}
	return nil
}
