package sale_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sale-engine/inventory"
	"github.com/warp/sale-engine/sale"
	"github.com/warp/sale-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	store    *memory.Store
	ledger   *sale.Ledger
	logs     *logtest.Hook
	now      time.Time
	customer int64
	productA int64 // 100, 22% tax, stock 10
	productB int64 // 20, 22% tax, stock 1
	sim      int64 // serialized unit in stock
	simCode  string
}

func newTestLedger(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	f := &fixture{
		store:   store,
		logs:    hook,
		now:     time.Date(2025, time.June, 15, 10, 0, 0, 0, time.UTC),
		simCode: "8939100000000000017",
	}
	f.ledger = sale.NewLedger(store, sale.SaleConfig{DefaultVatRate: dec("22")},
		sale.WithLogger(logger),
		sale.WithClock(func() time.Time { return f.now }),
	)

	var err error
	f.customer, err = store.SaveCustomer(ctx, sale.Customer{Name: "Mario Rossi"})
	require.NoError(t, err)
	f.productA, err = store.SaveProduct(ctx, inventory.Product{
		Name: "Phone case", Price: dec("100"), TaxRate: dec("22"), TaxCode: "IVA22", StockQuantity: 10, Active: true,
	})
	require.NoError(t, err)
	f.productB, err = store.SaveProduct(ctx, inventory.Product{
		Name: "Charger", Price: dec("20"), TaxRate: dec("22"), TaxCode: "IVA22", StockQuantity: 1, Active: true,
	})
	require.NoError(t, err)
	f.sim, err = store.SaveUnit(ctx, inventory.SerializedUnit{Code: f.simCode, ProviderID: 1})
	require.NoError(t, err)
	return f
}

func (f *fixture) stock(t *testing.T, productID int64) int {
	t.Helper()
	p, ok := f.store.Product(productID)
	require.True(t, ok)
	return p.StockQuantity
}

func (f *fixture) unitStatus(t *testing.T, unitID int64) inventory.UnitStatus {
	t.Helper()
	u, ok := f.store.Unit(unitID)
	require.True(t, ok)
	return u.Status
}

func (f *fixture) detail(t *testing.T, saleID int64) *sale.SaleDetail {
	t.Helper()
	d, err := f.ledger.GetSaleWithItems(context.Background(), saleID, nil)
	require.NoError(t, err)
	require.NotNil(t, d)
	return d
}

func productLine(productID int64, price string, qty int) sale.ProductLine {
	return sale.ProductLine{LineBase: sale.LineBase{Price: dec(price), Quantity: qty}, ProductID: productID}
}

func simLine(unitID int64, code, price string) sale.ServiceLine {
	return sale.ServiceLine{
		LineBase: sale.LineBase{Price: dec(price), Quantity: 1, Description: "SIM activation"},
		Unit:     &sale.UnitRef{ID: unitID, Code: code},
	}
}

func createInput(lines ...sale.CartLine) sale.CreateSaleInput {
	return sale.CreateSaleInput{OperatorID: 7, Lines: lines, PaymentMethod: "cash"}
}

// =============================================================================
// CREATE SALE
// =============================================================================

func TestCreateSale_SingleTaxedProduct(t *testing.T) {
	// GIVEN: product A at 100 with 22% tax, 10 in stock
	// WHEN: one unit is sold without discount
	// THEN: total 100, tax 18.0328 on the line, stock 9

	f := newTestLedger(t)
	ctx := context.Background()

	id, err := f.ledger.CreateSale(ctx, createInput(productLine(f.productA, "100", 1)))
	require.NoError(t, err)

	d := f.detail(t, id)
	assertDec(t, "100", d.Sale.Total)
	assertDec(t, "100", d.Sale.TotalPaid)
	assertDec(t, "0", d.Sale.BalanceDue)
	assert.Equal(t, sale.PaymentPaid, d.Sale.PaymentStatus)
	assert.Equal(t, sale.StatusCompleted, d.Sale.Status)
	assertDec(t, "22", d.Sale.VatRate)
	assertDec(t, "18.03", d.Sale.VatAmount)
	assert.NotEmpty(t, d.Sale.Reference)
	assert.Equal(t, f.now, d.Sale.CreatedAt)

	require.Len(t, d.Items, 1)
	assertDec(t, "18.0328", d.Items[0].TaxAmount)
	assert.Equal(t, "Phone case", d.Items[0].Description)
	assert.Equal(t, "IVA22", d.Items[0].TaxCode)
	assert.Equal(t, 9, f.stock(t, f.productA))

	movements, err := f.ledger.StockMovements(ctx, f.productA, 10)
	require.NoError(t, err)
	require.Len(t, movements, 2)
	assert.Equal(t, inventory.ReasonSale, movements[0].Reason)
	assert.Equal(t, -1, movements[0].Delta)
	assert.Equal(t, 9, movements[0].Balance)
	assert.Equal(t, id, movements[0].RefID)
	assert.Equal(t, inventory.ReasonInitial, movements[1].Reason)
}

func TestCreateSale_InsufficientStockPersistsNothing(t *testing.T) {
	// GIVEN: product B with stock 1
	// WHEN: a sale asks for 2 units
	// THEN: insufficient stock, no sale, no movement, no audit entry

	f := newTestLedger(t)
	ctx := context.Background()

	_, err := f.ledger.CreateSale(ctx, createInput(
		simLine(f.sim, "", "10"),
		productLine(f.productB, "20", 2),
	))
	require.Error(t, err)
	assert.True(t, errors.Is(err, sale.ErrInsufficientStock))
	assert.True(t, sale.IsConsistency(err))

	var stockErr *sale.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 1, stockErr.Available)
	assert.Equal(t, 2, stockErr.Requested)

	sales, page, err := f.ledger.SearchSales(ctx, sale.SearchFilter{})
	require.NoError(t, err)
	assert.Empty(t, sales)
	assert.Equal(t, 0, page.Total)
	assert.Equal(t, 1, f.stock(t, f.productB))
	assert.Equal(t, inventory.UnitInStock, f.unitStatus(t, f.sim))
	assert.Empty(t, f.store.AuditEntries())
}

func TestCreateSale_AggregatesQuantityAcrossLines(t *testing.T) {
	f := newTestLedger(t)

	_, err := f.ledger.CreateSale(context.Background(), createInput(
		productLine(f.productB, "20", 1),
		productLine(f.productB, "20", 1),
	))
	assert.ErrorIs(t, err, sale.ErrInsufficientStock)
	assert.Equal(t, 1, f.stock(t, f.productB))
}

func TestCreateSale_DiscountAndPartialPayment(t *testing.T) {
	// GIVEN: a cart worth 200 and a discount of 50
	// WHEN: the customer pays 100
	// THEN: total 150, balance 50, partial

	f := newTestLedger(t)
	in := createInput(productLine(f.productA, "100", 2))
	in.Discount = dec("50")
	in.TotalPaid = decPtr("100")
	in.CustomerID = &f.customer

	id, err := f.ledger.CreateSale(context.Background(), in)
	require.NoError(t, err)

	d := f.detail(t, id)
	assertDec(t, "200", d.Sale.Subtotal)
	assertDec(t, "150", d.Sale.Total)
	assertDec(t, "100", d.Sale.TotalPaid)
	assertDec(t, "50", d.Sale.BalanceDue)
	assert.Equal(t, sale.PaymentPartial, d.Sale.PaymentStatus)
	assert.Equal(t, "Mario Rossi", d.Sale.CustomerName)
	assert.Equal(t, 8, f.stock(t, f.productA))
}

func TestCreateSale_OverdueDueDate(t *testing.T) {
	f := newTestLedger(t)
	due := f.now.AddDate(0, 0, -3)
	in := createInput(productLine(f.productA, "100", 1))
	in.TotalPaid = decPtr("0")
	in.DueDate = &due

	id, err := f.ledger.CreateSale(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, sale.PaymentOverdue, f.detail(t, id).Sale.PaymentStatus)
}

func TestCreateSale_VatOverrideUsedForMixedRates(t *testing.T) {
	f := newTestLedger(t)
	ctx := context.Background()
	books, err := f.store.SaveProduct(ctx, inventory.Product{
		Name: "Manual", Price: dec("10"), TaxRate: dec("4"), StockQuantity: 5, Active: true,
	})
	require.NoError(t, err)

	in := createInput(productLine(f.productA, "100", 1), productLine(books, "10", 1))
	in.VatRate = decPtr("10")
	id, err := f.ledger.CreateSale(ctx, in)
	require.NoError(t, err)
	assertDec(t, "10", f.detail(t, id).Sale.VatRate)

	in = createInput(productLine(f.productA, "100", 1), productLine(books, "10", 1))
	id, err = f.ledger.CreateSale(ctx, in)
	require.NoError(t, err)
	assertDec(t, "22", f.detail(t, id).Sale.VatRate, "config default")
}

func TestCreateSale_SellsSerializedUnit(t *testing.T) {
	f := newTestLedger(t)

	id, err := f.ledger.CreateSale(context.Background(), createInput(simLine(f.sim, f.simCode, "15")))
	require.NoError(t, err)

	d := f.detail(t, id)
	require.Len(t, d.Items, 1)
	require.NotNil(t, d.Items[0].UnitID)
	assert.Equal(t, f.sim, *d.Items[0].UnitID)
	assert.Equal(t, sale.KindService, d.Items[0].Kind)
	assertDec(t, "0", d.Items[0].TaxAmount)
	assert.Equal(t, inventory.UnitSold, f.unitStatus(t, f.sim))
}

func TestCreateSale_UnitNeverSoldTwice(t *testing.T) {
	f := newTestLedger(t)
	ctx := context.Background()

	_, err := f.ledger.CreateSale(ctx, createInput(simLine(f.sim, "", "15")))
	require.NoError(t, err)

	_, err = f.ledger.CreateSale(ctx, createInput(
		productLine(f.productA, "100", 1),
		simLine(f.sim, "", "15"),
	))
	require.Error(t, err)
	assert.ErrorIs(t, err, sale.ErrUnitAlreadySold)
	assert.True(t, sale.IsConsistency(err))
	assert.Equal(t, 10, f.stock(t, f.productA), "rolled back with the failed sale")
}

func TestCreateSale_SerialMismatch(t *testing.T) {
	f := newTestLedger(t)

	_, err := f.ledger.CreateSale(context.Background(), createInput(simLine(f.sim, "8939100000000000099", "15")))
	assert.ErrorIs(t, err, sale.ErrSerialMismatch)
	assert.True(t, sale.IsValidation(err))
	assert.Equal(t, inventory.UnitInStock, f.unitStatus(t, f.sim))
}

func TestCreateSale_ValidationErrors(t *testing.T) {
	f := newTestLedger(t)
	ctx := context.Background()
	unknown := int64(9999)

	tests := []struct {
		name string
		in   sale.CreateSaleInput
		want error
	}{
		{"empty cart", createInput(), sale.ErrEmptyCart},
		{"missing operator", sale.CreateSaleInput{Lines: []sale.CartLine{productLine(f.productA, "1", 1)}}, sale.ErrOperatorRequired},
		{"negative price", createInput(productLine(f.productA, "-1", 1)), sale.ErrInvalidPrice},
		{"unknown product", createInput(productLine(unknown, "1", 1)), sale.ErrProductNotFound},
		{"unknown unit", createInput(simLine(unknown, "", "1")), sale.ErrUnitNotFound},
		{"serialized quantity", createInput(sale.ServiceLine{
			LineBase: sale.LineBase{Price: dec("5"), Quantity: 2},
			Unit:     &sale.UnitRef{ID: f.sim},
		}), sale.ErrInvalidQuantity},
		{"unknown customer", func() sale.CreateSaleInput {
			in := createInput(productLine(f.productA, "1", 1))
			in.CustomerID = &unknown
			return in
		}(), sale.ErrCustomerNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.CreateSale(ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, 10, f.stock(t, f.productA))
}

func TestCreateSale_InactiveProduct(t *testing.T) {
	f := newTestLedger(t)
	ctx := context.Background()
	id, err := f.store.SaveProduct(ctx, inventory.Product{Name: "Old model", Price: dec("5"), StockQuantity: 3})
	require.NoError(t, err)

	_, err = f.ledger.CreateSale(ctx, createInput(productLine(id, "5", 1)))
	assert.ErrorIs(t, err, sale.ErrProductInactive)
	assert.True(t, sale.IsValidation(err))
}

func TestCreateSale_IdempotencyKey(t *testing.T) {
	// GIVEN: a sale submitted with key K
	// WHEN: the same key is submitted again
	// THEN: DuplicateSaleError carries the first id and stock moves once

	f := newTestLedger(t)
	ctx := context.Background()
	in := createInput(productLine(f.productA, "100", 1))
	in.IdempotencyKey = "till-3-0001"

	first, err := f.ledger.CreateSale(ctx, in)
	require.NoError(t, err)

	_, err = f.ledger.CreateSale(ctx, in)
	var dup *sale.DuplicateSaleError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first, dup.SaleID)
	assert.ErrorIs(t, err, sale.ErrDuplicateIdempotencyKey)
	assert.Equal(t, 9, f.stock(t, f.productA))
}

func TestCreateSale_WritesAuditEntry(t *testing.T) {
	f := newTestLedger(t)

	id, err := f.ledger.CreateSale(context.Background(), createInput(productLine(f.productA, "100", 1)))
	require.NoError(t, err)

	entries := f.store.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, sale.ActionSaleCreate, entries[0].Action)
	assert.Equal(t, id, entries[0].EntityID)
	assert.Equal(t, int64(7), entries[0].OperatorID)
	assert.Contains(t, entries[0].Description, "100.00")
}

// =============================================================================
// INVARIANTS
// =============================================================================

func TestCreateSale_MoneyInvariants(t *testing.T) {
	f := newTestLedger(t)
	ctx := context.Background()

	cases := []struct {
		discount string
		paid     *decimal.Decimal
	}{
		{"0", nil},
		{"33.333", nil},
		{"500", nil},
		{"10", decPtr("40.5")},
		{"0", decPtr("999")},
	}
	for _, c := range cases {
		in := createInput(productLine(f.productA, "59.99", 1), simLineNoUnit("12.50"))
		in.Discount = dec(c.discount)
		in.TotalPaid = c.paid

		id, err := f.ledger.CreateSale(ctx, in)
		require.NoError(t, err)
		s := f.detail(t, id).Sale

		subtotal := dec("72.49")
		discount := decimal.Min(decimal.Max(dec(c.discount), decimal.Zero), subtotal)
		assert.True(t, s.Total.Equal(decimal.Max(subtotal.Sub(discount).Round(2), decimal.Zero)))
		assert.False(t, s.Total.IsNegative())
		assert.False(t, s.TotalPaid.IsNegative())
		assert.True(t, s.TotalPaid.LessThanOrEqual(s.Total))
		want := decimal.Min(decimal.Max(s.Total.Sub(s.TotalPaid), decimal.Zero), s.Total)
		assert.True(t, s.BalanceDue.Equal(want), "balance %s, want %s", s.BalanceDue, want)
	}
}

func simLineNoUnit(price string) sale.ServiceLine {
	return sale.ServiceLine{LineBase: sale.LineBase{Price: dec(price), Quantity: 1, Description: "Top-up"}}
}

// =============================================================================
// STOCK ADJUSTMENT
// =============================================================================

func TestAdjustStock(t *testing.T) {
	f := newTestLedger(t)
	ctx := context.Background()

	m, err := f.ledger.AdjustStock(ctx, sale.AdjustStockInput{ProductID: f.productB, Delta: 4, OperatorID: 2, Note: "delivery"})
	require.NoError(t, err)
	assert.Equal(t, 5, m.Balance)
	assert.Equal(t, 5, f.stock(t, f.productB))

	// THEN: the returned movement carries the id the store assigned
	latest, err := f.ledger.StockMovements(ctx, f.productB, 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.NotZero(t, m.ID)
	assert.Equal(t, latest[0].ID, m.ID)

	_, err = f.ledger.AdjustStock(ctx, sale.AdjustStockInput{ProductID: f.productB, Delta: -6, OperatorID: 2})
	assert.ErrorIs(t, err, sale.ErrInsufficientStock)

	_, err = f.ledger.AdjustStock(ctx, sale.AdjustStockInput{ProductID: f.productB, Delta: 0, OperatorID: 2})
	assert.ErrorIs(t, err, sale.ErrInvalidQuantity)

	entries, page, err := f.ledger.AuditTrail(ctx, sale.AuditFilter{Action: sale.ActionStockAdjust})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	require.Len(t, entries, 1)
	assert.Equal(t, sale.EntityProduct, entries[0].EntityType)
	assert.Contains(t, entries[0].Description, "delivery")
}
