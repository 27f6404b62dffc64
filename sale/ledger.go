/*
ledger.go - Sale ledger: the create path

PURPOSE:
  Ledger is the entry point of the engine. CreateSale composes the
  calculator and the inventory ledger inside one store transaction:

    1. resolve the customer
    2. lock every product of the cart and check aggregated stock
    3. compute discount spread, per-line tax and payment terms
    4. insert the sale and its items, selling serialized units on the way
    5. decrement bulk stock with one movement per product
    6. append an audit entry
    7. commit

  Any failure rolls the whole transaction back: a partial sale is never
  visible.

CONCURRENCY:
  The ledger holds no locks of its own. Product rows are locked by the store
  (FOR UPDATE / BEGIN IMMEDIATE), serialized units are guarded by the
  conditional transition in inventory.Ledger.SellUnit.

SEE ALSO:
  - reversal.go: CancelSale, RefundSale
  - query.go: read side
  - calculator.go, payment.go: money
*/
package sale

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/sale-engine/inventory"
)

// Ledger commits and reverses sales.
type Ledger struct {
	store Store
	stock *inventory.Ledger
	cfg   SaleConfig
	log   logrus.FieldLogger
	now   func() time.Time
}

type Option func(*Ledger)

// WithLogger sets the logger. Defaults to the logrus standard logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Ledger) { l.log = log }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a sale ledger over store.
func NewLedger(store Store, cfg SaleConfig, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		cfg:   cfg,
		log:   logrus.StandardLogger(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.WithField("module", "sale")
	l.stock = inventory.NewLedger(l.now)
	return l
}

// Config returns the configuration the ledger was built with.
func (l *Ledger) Config() SaleConfig {
	return l.cfg
}

// Now is the ledger clock in UTC.
func (l *Ledger) Now() time.Time {
	return l.now().UTC()
}

// =============================================================================
// CREATE
// =============================================================================

// CreateSale commits a sale and returns its id.
//
// A repeated IdempotencyKey returns *DuplicateSaleError carrying the id of
// the sale committed first; nothing new is written.
func (l *Ledger) CreateSale(ctx context.Context, in CreateSaleInput) (int64, error) {
	if err := validateCreate(in); err != nil {
		return 0, l.fail("CreateSale", err, logrus.Fields{"operator_id": in.OperatorID})
	}

	now := l.now().UTC()
	var created Sale
	err := l.store.WithTx(ctx, func(tx Tx) error {
		if in.IdempotencyKey != "" {
			existing, err := tx.FindSaleByIdempotencyKey(ctx, in.IdempotencyKey)
			if err != nil {
				return err
			}
			if existing != nil {
				return &DuplicateSaleError{Key: in.IdempotencyKey, SaleID: existing.ID}
			}
		}

		customerName := in.CustomerName
		if in.CustomerID != nil {
			c, err := tx.GetCustomer(ctx, *in.CustomerID)
			if err != nil {
				return err
			}
			if c == nil {
				return fmt.Errorf("%w: %d", ErrCustomerNotFound, *in.CustomerID)
			}
			customerName = c.Name
		}

		demand := inventory.Demand{}
		for _, line := range in.Lines {
			if pl, ok := line.(ProductLine); ok {
				demand.Add(pl.ProductID, normalizeQuantity(pl.Quantity))
			}
		}
		locked, err := l.stock.LockDemand(ctx, tx, demand)
		if err != nil {
			return err
		}

		b := Calculate(priceLines(in.Lines, locked), in.Discount, l.fallbackRate(in))
		terms := ResolvePayment(b.Total, in.TotalPaid, in.BalanceDue, in.PaymentStatus, in.DueDate, now)

		s := Sale{
			Reference:      uuid.NewString(),
			OperatorID:     in.OperatorID,
			CustomerID:     in.CustomerID,
			CustomerName:   customerName,
			CustomerNote:   in.CustomerNote,
			Subtotal:       b.Subtotal,
			Discount:       b.Discount,
			Total:          b.Total,
			TotalPaid:      terms.TotalPaid,
			BalanceDue:     terms.BalanceDue,
			PaymentStatus:  terms.Status,
			DueDate:        in.DueDate,
			CampaignID:     in.CampaignID,
			VatRate:        b.VatRate,
			VatAmount:      b.VatAmount,
			PaymentMethod:  in.PaymentMethod,
			Status:         StatusCompleted,
			RefundedAmount: decimal.Zero,
			CreditedAmount: decimal.Zero,
			IdempotencyKey: in.IdempotencyKey,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		s.ID, err = tx.InsertSale(ctx, s)
		if err != nil {
			return err
		}

		for i, line := range in.Lines {
			item, err := l.buildItem(ctx, tx, s.ID, line, b.Lines[i], locked)
			if err != nil {
				return err
			}
			if _, err := tx.InsertSaleItem(ctx, item); err != nil {
				return err
			}
		}

		ref := inventory.Ref{Type: "sale", ID: s.ID, OperatorID: in.OperatorID}
		if err := l.stock.Consume(ctx, tx, locked, demand, ref); err != nil {
			return err
		}

		desc := fmt.Sprintf("Sale #%d created for %s: total %s, %d line(s)",
			s.ID, displayName(customerName), s.Total.StringFixed(2), len(in.Lines))
		if err := l.audit(ctx, tx, in.OperatorID, ActionSaleCreate, s.ID, desc); err != nil {
			return err
		}

		created = s
		return nil
	})
	if err != nil {
		if dupErr := l.resolveDuplicate(ctx, in.IdempotencyKey, err); dupErr != nil {
			err = dupErr
		}
		return 0, l.fail("CreateSale", err, logrus.Fields{"operator_id": in.OperatorID})
	}

	l.log.WithFields(logrus.Fields{
		"sale_id":        created.ID,
		"operator_id":    created.OperatorID,
		"total":          created.Total.StringFixed(2),
		"payment_status": created.PaymentStatus,
	}).Info("sale created")
	return created.ID, nil
}

func validateCreate(in CreateSaleInput) error {
	if in.OperatorID <= 0 {
		return ErrOperatorRequired
	}
	if len(in.Lines) == 0 {
		return ErrEmptyCart
	}
	for i, line := range in.Lines {
		if line == nil {
			return fmt.Errorf("%w: line %d is empty", ErrEmptyCart, i)
		}
		base := line.base()
		if base.Price.IsNegative() {
			return fmt.Errorf("%w: line %d has negative price %s", ErrInvalidPrice, i, base.Price)
		}
		switch l := line.(type) {
		case ServiceLine:
			if l.Unit != nil && normalizeQuantity(l.Quantity) != 1 {
				return fmt.Errorf("%w: line %d sells a serialized unit with quantity %d", ErrInvalidQuantity, i, l.Quantity)
			}
		case ProductLine:
			if l.ProductID <= 0 {
				return fmt.Errorf("%w: line %d has no product", ErrProductNotFound, i)
			}
		}
	}
	return nil
}

func priceLines(lines []CartLine, locked map[int64]inventory.Product) []PricedLine {
	priced := make([]PricedLine, len(lines))
	for i, line := range lines {
		base := line.base()
		priced[i] = PricedLine{
			Kind:     line.kind(),
			Price:    base.Price,
			Quantity: base.Quantity,
			TaxRate:  decimal.Zero,
		}
		if pl, ok := line.(ProductLine); ok {
			priced[i].TaxRate = locked[pl.ProductID].TaxRate
		}
	}
	return priced
}

func (l *Ledger) fallbackRate(in CreateSaleInput) decimal.Decimal {
	if in.VatRate != nil {
		return *in.VatRate
	}
	return l.cfg.DefaultVatRate
}

// buildItem turns a cart line into a sale item. Serialized units are sold
// here, inside the caller's transaction.
func (l *Ledger) buildItem(ctx context.Context, tx Tx, saleID int64, line CartLine, tax LineTax, locked map[int64]inventory.Product) (SaleItem, error) {
	base := line.base()
	item := SaleItem{
		SaleID:      saleID,
		Kind:        line.kind(),
		Description: base.Description,
		Quantity:    normalizeQuantity(base.Quantity),
		UnitPrice:   base.Price,
		TaxRate:     tax.TaxRate,
		TaxAmount:   tax.TaxAmount,
	}

	switch v := line.(type) {
	case ServiceLine:
		if v.Unit == nil {
			break
		}
		unit, err := l.stock.SellUnit(ctx, tx, v.Unit.ID, v.Unit.Code)
		if err != nil {
			return SaleItem{}, err
		}
		item.UnitID = &unit.ID
		if item.Description == "" {
			item.Description = unit.Code
		}
	case ProductLine:
		p := locked[v.ProductID]
		item.ProductID = &p.ID
		item.TaxCode = p.TaxCode
		if item.Description == "" {
			item.Description = p.Name
		}
	}
	return item, nil
}

// resolveDuplicate turns a unique-index violation on the idempotency key
// (two concurrent submissions) into a DuplicateSaleError for the winner.
func (l *Ledger) resolveDuplicate(ctx context.Context, key string, err error) error {
	var dup *DuplicateSaleError
	if key == "" || errors.As(err, &dup) || !errors.Is(err, ErrDuplicateIdempotencyKey) {
		return nil
	}
	existing, lookupErr := l.store.FindSaleByIdempotencyKey(ctx, key)
	if lookupErr != nil || existing == nil {
		return nil
	}
	return &DuplicateSaleError{Key: key, SaleID: existing.ID}
}

// =============================================================================
// STOCK ADJUSTMENT
// =============================================================================

// AdjustStock applies a manual signed correction to a product counter.
func (l *Ledger) AdjustStock(ctx context.Context, in AdjustStockInput) (inventory.StockMovement, error) {
	fields := logrus.Fields{"product_id": in.ProductID, "operator_id": in.OperatorID}
	if in.OperatorID <= 0 {
		return inventory.StockMovement{}, l.fail("AdjustStock", ErrOperatorRequired, fields)
	}
	if in.Delta == 0 {
		return inventory.StockMovement{}, l.fail("AdjustStock", fmt.Errorf("%w: delta must not be zero", ErrInvalidQuantity), fields)
	}

	var m inventory.StockMovement
	err := l.store.WithTx(ctx, func(tx Tx) error {
		var err error
		ref := inventory.Ref{Type: "adjustment", ID: in.ProductID, OperatorID: in.OperatorID, Note: in.Note}
		m, err = l.stock.Adjust(ctx, tx, in.ProductID, in.Delta, ref)
		if err != nil {
			return err
		}
		desc := fmt.Sprintf("Stock of product #%d adjusted by %+d to %d", in.ProductID, in.Delta, m.Balance)
		if in.Note != "" {
			desc += ": " + in.Note
		}
		return l.appendAudit(ctx, tx, AuditEntry{
			OperatorID:  in.OperatorID,
			Action:      ActionStockAdjust,
			EntityType:  EntityProduct,
			EntityID:    in.ProductID,
			Description: desc,
		})
	})
	if err != nil {
		return inventory.StockMovement{}, l.fail("AdjustStock", err, fields)
	}

	l.log.WithFields(fields).WithField("balance", m.Balance).Info("stock adjusted")
	return m, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// fail classifies err, wrapping unclassified failures as persistence errors,
// and logs it.
func (l *Ledger) fail(op string, err error, fields logrus.Fields) error {
	kind := KindOf(err)
	if kind == KindPersistence && !errors.Is(err, ErrPersistence) {
		err = &PersistenceError{Op: op, Err: err}
	}
	entry := l.log.WithFields(fields).WithFields(logrus.Fields{
		"funcName": op,
		"kind":     kind,
	})
	if kind == KindPersistence {
		entry.Error(err.Error())
	} else {
		entry.Warn(err.Error())
	}
	return err
}

func displayName(name string) string {
	if name == "" {
		return "walk-in customer"
	}
	return name
}
