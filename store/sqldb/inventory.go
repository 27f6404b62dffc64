package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/sale-engine/inventory"
	"github.com/warp/sale-engine/sale"
)

// =============================================================================
// PROVISIONING
// =============================================================================

func (s *Store) SaveCustomer(ctx context.Context, c sale.Customer) (int64, error) {
	defer s.lock()()

	if c.ID != 0 {
		_, err := s.conn().exec(ctx, "UPDATE customers SET name = ? WHERE id = ?", c.Name, c.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to update customer: %w", err)
		}
		return c.ID, nil
	}
	id, err := s.conn().insert(ctx, "INSERT INTO customers (name) VALUES (?)", c.Name)
	if err != nil {
		return 0, fmt.Errorf("failed to insert customer: %w", err)
	}
	return id, nil
}

// SaveProduct inserts a product and records its opening stock as an initial
// movement, in one transaction.
func (s *Store) SaveProduct(ctx context.Context, p inventory.Product) (int64, error) {
	var id int64
	err := s.WithTx(ctx, func(tx sale.Tx) error {
		c := tx.(*txStore).c
		var err error
		id, err = c.insert(ctx, `
			INSERT INTO products (name, price, tax_rate, tax_code, stock_quantity, stock_reserved, active)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.Name, p.Price, p.TaxRate, nullString(p.TaxCode), p.StockQuantity, p.StockReserved, p.Active)
		if err != nil {
			return fmt.Errorf("failed to insert product: %w", err)
		}
		_, err = tx.AppendMovement(ctx, inventory.StockMovement{
			ProductID: id,
			Delta:     p.StockQuantity,
			Balance:   p.StockQuantity,
			Reason:    inventory.ReasonInitial,
			RefType:   "product",
			RefID:     id,
			CreatedAt: time.Now().UTC(),
		})
		return err
	})
	return id, err
}

func (s *Store) SaveUnit(ctx context.Context, u inventory.SerializedUnit) (int64, error) {
	defer s.lock()()

	if u.Status == "" {
		u.Status = inventory.UnitInStock
	}
	var provider sql.NullInt64
	if u.ProviderID != 0 {
		provider = sql.NullInt64{Int64: u.ProviderID, Valid: true}
	}
	id, err := s.conn().insert(ctx, `
		INSERT INTO serialized_units (code, provider_id, status, updated_at)
		VALUES (?, ?, ?, ?)`,
		u.Code, provider, u.Status, time.Now().UTC())
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return 0, fmt.Errorf("unit code %q already exists: %w", u.Code, err)
		}
		return 0, fmt.Errorf("failed to insert unit: %w", err)
	}
	return id, nil
}

// Product returns a product by id, for reads outside a sale.
func (s *Store) Product(ctx context.Context, id int64) (*inventory.Product, error) {
	defer s.rlock()()
	products, err := s.conn().products(ctx, []int64{id}, "")
	if err != nil {
		return nil, err
	}
	p, ok := products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// Unit returns a serialized unit by id.
func (s *Store) Unit(ctx context.Context, id int64) (*inventory.SerializedUnit, error) {
	defer s.rlock()()
	return s.conn().unit(ctx, id)
}

// =============================================================================
// STOCK MOVEMENTS
// =============================================================================

// ListStockMovements returns the latest movements of a product, newest first.
func (s *Store) ListStockMovements(ctx context.Context, productID int64, limit int) ([]inventory.StockMovement, error) {
	defer s.rlock()()

	rows, err := s.conn().query(ctx, `
		SELECT id, product_id, delta, balance, reason, ref_type, ref_id, operator_id, note, created_at
		FROM stock_movements
		WHERE product_id = ?
		ORDER BY id DESC
		LIMIT ?`, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock movements: %w", err)
	}
	defer rows.Close()

	var out []inventory.StockMovement
	for rows.Next() {
		var (
			mv       inventory.StockMovement
			refType  sql.NullString
			refID    sql.NullInt64
			operator sql.NullInt64
			note     sql.NullString
		)
		if err := rows.Scan(&mv.ID, &mv.ProductID, &mv.Delta, &mv.Balance, &mv.Reason,
			&refType, &refID, &operator, &note, &mv.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stock movement: %w", err)
		}
		mv.RefType = refType.String
		mv.RefID = refID.Int64
		mv.OperatorID = operator.Int64
		mv.Note = note.String
		mv.CreatedAt = mv.CreatedAt.UTC()
		out = append(out, mv)
	}
	return out, rows.Err()
}

// =============================================================================
// TRANSACTIONAL INVENTORY WRITES
// =============================================================================

func (c conn) products(ctx context.Context, ids []int64, lockSuffix string) (map[int64]inventory.Product, error) {
	out := make(map[int64]inventory.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := c.query(ctx, `
		SELECT id, name, price, tax_rate, tax_code, stock_quantity, stock_reserved, active
		FROM products
		WHERE id IN (`+placeholders(len(ids))+`)
		ORDER BY id ASC`+lockSuffix, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p       inventory.Product
			taxCode sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.TaxRate, &taxCode,
			&p.StockQuantity, &p.StockReserved, &p.Active); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		p.TaxCode = taxCode.String
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (c conn) unit(ctx context.Context, id int64) (*inventory.SerializedUnit, error) {
	var (
		u        inventory.SerializedUnit
		provider sql.NullInt64
	)
	err := c.queryRow(ctx, `
		SELECT id, code, provider_id, status, updated_at
		FROM serialized_units
		WHERE id = ?`, id).Scan(&u.ID, &u.Code, &provider, &u.Status, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get unit: %w", err)
	}
	u.ProviderID = provider.Int64
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

// LockProducts reads the products row-locked (ids arrive sorted).
func (t *txStore) LockProducts(ctx context.Context, ids []int64) (map[int64]inventory.Product, error) {
	return t.c.products(ctx, ids, t.c.d.LockSuffix)
}

func (t *txStore) SetStockQuantity(ctx context.Context, productID int64, quantity int) error {
	res, err := t.c.exec(ctx, "UPDATE products SET stock_quantity = ? WHERE id = ?", quantity, productID)
	if err != nil {
		return fmt.Errorf("failed to update stock quantity: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("product %d vanished", productID)
	}
	return nil
}

func (t *txStore) AppendMovement(ctx context.Context, mv inventory.StockMovement) (int64, error) {
	var operator sql.NullInt64
	if mv.OperatorID != 0 {
		operator = sql.NullInt64{Int64: mv.OperatorID, Valid: true}
	}
	id, err := t.c.insert(ctx, `
		INSERT INTO stock_movements
		(product_id, delta, balance, reason, ref_type, ref_id, operator_id, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		mv.ProductID, mv.Delta, mv.Balance, mv.Reason, nullString(mv.RefType), mv.RefID,
		operator, nullString(mv.Note), mv.CreatedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert stock movement: %w", err)
	}
	return id, nil
}

func (t *txStore) GetUnit(ctx context.Context, id int64) (*inventory.SerializedUnit, error) {
	return t.c.unit(ctx, id)
}

// TransitionUnit moves a unit to `to` only if its current status is in `from`.
func (t *txStore) TransitionUnit(ctx context.Context, id int64, from []inventory.UnitStatus, to inventory.UnitStatus) (bool, error) {
	args := []any{to, time.Now().UTC(), id}
	for _, st := range from {
		args = append(args, st)
	}
	res, err := t.c.exec(ctx, `
		UPDATE serialized_units
		SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (`+placeholders(len(from))+`)`, args...)
	if err != nil {
		return false, fmt.Errorf("failed to transition unit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
