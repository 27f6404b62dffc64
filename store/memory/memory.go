// Package memory provides an in-memory sale.Store for tests and demos.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/sale-engine/inventory"
	"github.com/warp/sale-engine/sale"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Store keeps everything in maps guarded by one mutex. WithTx holds the
// mutex for the whole callback, so transactions are fully serialized.
type Store struct {
	mu sync.Mutex
	st state
}

type state struct {
	seq       int64
	customers map[int64]sale.Customer
	products  map[int64]inventory.Product
	units     map[int64]inventory.SerializedUnit
	sales     map[int64]sale.Sale
	items     map[int64]sale.SaleItem
	refunds   []sale.ItemRefund
	movements []inventory.StockMovement
	audit     []sale.AuditEntry
}

func New() *Store {
	return &Store{st: state{
		customers: map[int64]sale.Customer{},
		products:  map[int64]inventory.Product{},
		units:     map[int64]inventory.SerializedUnit{},
		sales:     map[int64]sale.Sale{},
		items:     map[int64]sale.SaleItem{},
	}}
}

func (s state) clone() state {
	return state{
		seq:       s.seq,
		customers: maps.Clone(s.customers),
		products:  maps.Clone(s.products),
		units:     maps.Clone(s.units),
		sales:     maps.Clone(s.sales),
		items:     maps.Clone(s.items),
		refunds:   slices.Clone(s.refunds),
		movements: slices.Clone(s.movements),
		audit:     slices.Clone(s.audit),
	}
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

// WithTx runs fn against a snapshot-protected view. On error or panic the
// snapshot is restored.
func (m *Store) WithTx(ctx context.Context, fn func(sale.Tx) error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := m.st.clone()
	defer func() {
		if p := recover(); p != nil {
			m.st = snapshot
			panic(p)
		}
		if err != nil {
			m.st = snapshot
		}
	}()
	return fn(&txView{st: &m.st})
}

// =============================================================================
// PROVISIONING
// =============================================================================

func (m *Store) SaveCustomer(_ context.Context, c sale.Customer) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == 0 {
		c.ID = m.st.nextID()
	}
	m.st.customers[c.ID] = c
	return c.ID, nil
}

// SaveProduct stores a product and records its stock as an initial movement.
func (m *Store) SaveProduct(_ context.Context, p inventory.Product) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == 0 {
		p.ID = m.st.nextID()
	}
	m.st.products[p.ID] = p
	m.st.movements = append(m.st.movements, inventory.StockMovement{
		ID:        m.st.nextID(),
		ProductID: p.ID,
		Delta:     p.StockQuantity,
		Balance:   p.StockQuantity,
		Reason:    inventory.ReasonInitial,
		RefType:   "product",
		RefID:     p.ID,
		CreatedAt: time.Now().UTC(),
	})
	return p.ID, nil
}

func (m *Store) SaveUnit(_ context.Context, u inventory.SerializedUnit) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.st.units {
		if existing.Code == u.Code && existing.ID != u.ID {
			return 0, fmt.Errorf("unit code %q already exists", u.Code)
		}
	}
	if u.ID == 0 {
		u.ID = m.st.nextID()
	}
	if u.Status == "" {
		u.Status = inventory.UnitInStock
	}
	m.st.units[u.ID] = u
	return u.ID, nil
}

// Product returns a copy of a product, for assertions.
func (m *Store) Product(id int64) (inventory.Product, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.st.products[id]
	return p, ok
}

// Unit returns a copy of a serialized unit, for assertions.
func (m *Store) Unit(id int64) (inventory.SerializedUnit, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.st.units[id]
	return u, ok
}

// =============================================================================
// READS
// =============================================================================

func (m *Store) GetSale(_ context.Context, id int64) (*sale.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.getSale(id), nil
}

func (m *Store) GetSaleByReference(_ context.Context, reference string) (*sale.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.st.sales {
		if s.Reference == reference {
			return &s, nil
		}
	}
	return nil, nil
}

func (m *Store) FindSaleByIdempotencyKey(_ context.Context, key string) (*sale.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.findByKey(key), nil
}

func (m *Store) ListSaleItems(_ context.Context, saleID int64) ([]sale.SaleItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.saleItems(saleID), nil
}

func (m *Store) ListItemRefunds(_ context.Context, saleID int64) ([]sale.ItemRefund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sale.ItemRefund
	for _, r := range m.st.refunds {
		if item, ok := m.st.items[r.SaleItemID]; ok && item.SaleID == saleID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Store) SearchSales(_ context.Context, f sale.SearchFilter) ([]sale.Sale, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := strings.ToLower(f.Query)
	var matched []sale.Sale
	for _, s := range m.st.sales {
		switch {
		case f.Status != "" && s.Status != f.Status:
		case f.PaymentStatus != "" && s.PaymentStatus != f.PaymentStatus:
		case f.CustomerID != nil && (s.CustomerID == nil || *s.CustomerID != *f.CustomerID):
		case q != "" && !strings.Contains(strings.ToLower(s.CustomerName), q) && !strings.Contains(s.Reference, q):
		case f.From != nil && s.CreatedAt.Before(*f.From):
		case f.To != nil && s.CreatedAt.After(*f.To):
		default:
			matched = append(matched, s)
		}
	}
	slices.SortFunc(matched, func(a, b sale.Sale) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return int(b.ID - a.ID)
	})
	return page(matched, f.Offset(), f.PerPage), len(matched), nil
}

func (m *Store) ListStockMovements(_ context.Context, productID int64, limit int) ([]inventory.StockMovement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []inventory.StockMovement
	for i := len(m.st.movements) - 1; i >= 0 && len(out) < limit; i-- {
		if m.st.movements[i].ProductID == productID {
			out = append(out, m.st.movements[i])
		}
	}
	return out, nil
}

func (m *Store) ListAuditEntries(_ context.Context, f sale.AuditFilter) ([]sale.AuditEntry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []sale.AuditEntry
	for i := len(m.st.audit) - 1; i >= 0; i-- {
		e := m.st.audit[i]
		switch {
		case f.Action != "" && e.Action != f.Action:
		case f.EntityType != "" && e.EntityType != f.EntityType:
		case f.EntityID != 0 && e.EntityID != f.EntityID:
		case f.OperatorID != 0 && e.OperatorID != f.OperatorID:
		case f.From != nil && e.CreatedAt.Before(*f.From):
		case f.To != nil && e.CreatedAt.After(*f.To):
		default:
			matched = append(matched, e)
		}
	}
	return page(matched, f.Offset(), f.PerPage), len(matched), nil
}

func (m *Store) MarkOverdueSales(_ context.Context, today time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	y, mo, d := today.UTC().Date()
	start := time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)

	var n int64
	for id, s := range m.st.sales {
		if s.Status != sale.StatusCompleted || s.DueDate == nil || !s.BalanceDue.IsPositive() {
			continue
		}
		if s.PaymentStatus != sale.PaymentPending && s.PaymentStatus != sale.PaymentPartial {
			continue
		}
		if !s.DueDate.Before(start) {
			continue
		}
		s.PaymentStatus = sale.PaymentOverdue
		s.UpdatedAt = today.UTC()
		m.st.sales[id] = s
		n++
	}
	return n, nil
}

// AuditEntries returns every audit entry in insertion order, for assertions.
func (m *Store) AuditEntries() []sale.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.st.audit)
}

func page[T any](rows []T, offset, limit int) []T {
	if offset >= len(rows) {
		return nil
	}
	end := min(offset+limit, len(rows))
	return rows[offset:end]
}

func (s *state) getSale(id int64) *sale.Sale {
	v, ok := s.sales[id]
	if !ok {
		return nil
	}
	return &v
}

func (s *state) findByKey(key string) *sale.Sale {
	if key == "" {
		return nil
	}
	for _, v := range s.sales {
		if v.IdempotencyKey == key {
			return &v
		}
	}
	return nil
}

func (s *state) saleItems(saleID int64) []sale.SaleItem {
	var out []sale.SaleItem
	for _, item := range s.items {
		if item.SaleID == saleID {
			out = append(out, item)
		}
	}
	slices.SortFunc(out, func(a, b sale.SaleItem) int { return int(a.ID - b.ID) })
	return out
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// txView operates on the locked state. It never takes the mutex.
type txView struct {
	st *state
}

func (t *txView) LockProducts(_ context.Context, ids []int64) (map[int64]inventory.Product, error) {
	out := make(map[int64]inventory.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.st.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (t *txView) SetStockQuantity(_ context.Context, productID int64, quantity int) error {
	p, ok := t.st.products[productID]
	if !ok {
		return fmt.Errorf("product %d vanished", productID)
	}
	if quantity < 0 {
		return fmt.Errorf("stock of product %d would be negative", productID)
	}
	p.StockQuantity = quantity
	t.st.products[productID] = p
	return nil
}

func (t *txView) AppendMovement(_ context.Context, mv inventory.StockMovement) (int64, error) {
	mv.ID = t.st.nextID()
	t.st.movements = append(t.st.movements, mv)
	return mv.ID, nil
}

func (t *txView) GetUnit(_ context.Context, id int64) (*inventory.SerializedUnit, error) {
	u, ok := t.st.units[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (t *txView) TransitionUnit(_ context.Context, id int64, from []inventory.UnitStatus, to inventory.UnitStatus) (bool, error) {
	u, ok := t.st.units[id]
	if !ok || !slices.Contains(from, u.Status) {
		return false, nil
	}
	u.Status = to
	u.UpdatedAt = time.Now().UTC()
	t.st.units[id] = u
	return true, nil
}

func (t *txView) GetCustomer(_ context.Context, id int64) (*sale.Customer, error) {
	c, ok := t.st.customers[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (t *txView) FindSaleByIdempotencyKey(_ context.Context, key string) (*sale.Sale, error) {
	return t.st.findByKey(key), nil
}

func (t *txView) InsertSale(_ context.Context, s sale.Sale) (int64, error) {
	if t.st.findByKey(s.IdempotencyKey) != nil {
		return 0, sale.ErrDuplicateIdempotencyKey
	}
	s.ID = t.st.nextID()
	t.st.sales[s.ID] = s
	return s.ID, nil
}

func (t *txView) InsertSaleItem(_ context.Context, item sale.SaleItem) (int64, error) {
	if _, ok := t.st.sales[item.SaleID]; !ok {
		return 0, fmt.Errorf("sale %d does not exist", item.SaleID)
	}
	item.ID = t.st.nextID()
	t.st.items[item.ID] = item
	return item.ID, nil
}

func (t *txView) GetSaleForUpdate(_ context.Context, id int64) (*sale.Sale, error) {
	return t.st.getSale(id), nil
}

func (t *txView) ListSaleItems(_ context.Context, saleID int64) ([]sale.SaleItem, error) {
	return t.st.saleItems(saleID), nil
}

func (t *txView) RestockedQuantities(_ context.Context, saleID int64) (map[int64]int, error) {
	out := map[int64]int{}
	for _, r := range t.st.refunds {
		item, ok := t.st.items[r.SaleItemID]
		if ok && item.SaleID == saleID && r.Type == sale.RefundTypeRefund {
			out[r.SaleItemID] += r.Quantity
		}
	}
	return out, nil
}

func (t *txView) InsertItemRefund(_ context.Context, r sale.ItemRefund) (int64, error) {
	r.ID = t.st.nextID()
	t.st.refunds = append(t.st.refunds, r)
	return r.ID, nil
}

func (t *txView) AddRefundedQuantity(_ context.Context, itemID int64, qty int) (bool, error) {
	item, ok := t.st.items[itemID]
	if !ok || item.RefundedQuantity+qty > item.Quantity {
		return false, nil
	}
	item.RefundedQuantity += qty
	t.st.items[itemID] = item
	return true, nil
}

func (t *txView) MarkSaleCancelled(_ context.Context, id int64, note string, at time.Time) error {
	s, ok := t.st.sales[id]
	if !ok {
		return fmt.Errorf("sale %d does not exist", id)
	}
	s.Status = sale.StatusCancelled
	s.CancelNote = note
	s.CancelledAt = &at
	s.UpdatedAt = at
	t.st.sales[id] = s
	return nil
}

func (t *txView) UpdateSaleRefund(_ context.Context, id int64, status sale.Status, refunded, credited decimal.Decimal, note string, at time.Time) error {
	s, ok := t.st.sales[id]
	if !ok {
		return fmt.Errorf("sale %d does not exist", id)
	}
	s.Status = status
	s.RefundedAmount = refunded
	s.CreditedAmount = credited
	s.RefundNote = note
	s.RefundedAt = &at
	s.UpdatedAt = at
	t.st.sales[id] = s
	return nil
}

func (t *txView) AppendAudit(_ context.Context, e sale.AuditEntry) error {
	e.ID = t.st.nextID()
	t.st.audit = append(t.st.audit, e)
	return nil
}
