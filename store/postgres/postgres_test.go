package postgres_test

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sale-engine/inventory"
	"github.com/warp/sale-engine/sale"
	"github.com/warp/sale-engine/store/postgres"
	"golang.org/x/sync/errgroup"
)

// newTestStore connects to SALE_ENGINE_PG_DSN and wipes it. Tests skip when
// the variable is unset.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("SALE_ENGINE_PG_DSN")
	if dsn == "" {
		t.Skip("SALE_ENGINE_PG_DSN not set")
	}
	ctx := context.Background()

	store, err := postgres.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Reset(ctx))
	return store
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestPostgres_SaleAndRefund(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	logger, _ := logtest.NewNullLogger()
	ledger := sale.NewLedger(store, sale.SaleConfig{DefaultVatRate: dec("22")}, sale.WithLogger(logger))

	productID, err := store.SaveProduct(ctx, inventory.Product{
		Name: "Router", Price: dec("79.90"), TaxRate: dec("22"), StockQuantity: 5, Active: true,
	})
	require.NoError(t, err)

	id, err := ledger.CreateSale(ctx, sale.CreateSaleInput{
		OperatorID:    1,
		CustomerName:  "Walk-in",
		PaymentMethod: "card",
		Lines: []sale.CartLine{sale.ProductLine{
			LineBase:  sale.LineBase{Price: dec("79.90"), Quantity: 2},
			ProductID: productID,
		}},
	})
	require.NoError(t, err)

	d, err := ledger.GetSaleWithItems(ctx, id, nil)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.True(t, dec("159.8").Equal(d.Sale.Total))
	assert.True(t, dec("28.82").Equal(d.Sale.VatAmount))
	assert.Equal(t, time.UTC, d.Sale.CreatedAt.Location())

	res, err := ledger.RefundSale(ctx, sale.RefundInput{SaleID: id, OperatorID: 1})
	require.NoError(t, err)
	assert.Equal(t, sale.StatusRefunded, res.Status)
	assert.True(t, dec("159.8").Equal(res.RefundedAmount))

	p, err := store.Product(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 5, p.StockQuantity)

	sales, _, err := ledger.SearchSales(ctx, sale.SearchFilter{Query: "WALK"})
	require.NoError(t, err)
	assert.Len(t, sales, 1)
}

func TestPostgres_ConcurrentSalesNeverOversell(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	logger, _ := logtest.NewNullLogger()
	ledger := sale.NewLedger(store, sale.SaleConfig{}, sale.WithLogger(logger))

	productID, err := store.SaveProduct(ctx, inventory.Product{Name: "Cable", Price: dec("5"), StockQuantity: 10, Active: true})
	require.NoError(t, err)
	unitID, err := store.SaveUnit(ctx, inventory.SerializedUnit{Code: "ICCID-PG-1"})
	require.NoError(t, err)

	var sold, unitSold atomic.Int32
	var g errgroup.Group
	for i := 0; i < 12; i++ {
		g.Go(func() error {
			lines := []sale.CartLine{sale.ProductLine{LineBase: sale.LineBase{Price: dec("5"), Quantity: 3}, ProductID: productID}}
			_, err := ledger.CreateSale(ctx, sale.CreateSaleInput{OperatorID: 1, Lines: lines})
			if err == nil {
				sold.Add(1)
			} else if !sale.IsConsistency(err) {
				return err
			}

			unitLine := []sale.CartLine{sale.ServiceLine{LineBase: sale.LineBase{Price: dec("10")}, Unit: &sale.UnitRef{ID: unitID}}}
			_, err = ledger.CreateSale(ctx, sale.CreateSaleInput{OperatorID: 1, Lines: unitLine})
			if err == nil {
				unitSold.Add(1)
			} else if !sale.IsConsistency(err) {
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(3), sold.Load())
	assert.Equal(t, int32(1), unitSold.Load())
	p, err := store.Product(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 1, p.StockQuantity)
}
