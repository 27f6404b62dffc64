package inventory_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sale-engine/inventory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fakeTx struct {
	products  map[int64]inventory.Product
	units     map[int64]inventory.SerializedUnit
	movements []inventory.StockMovement
	locked    [][]int64
	failSet   error
}

func newFakeTx() *fakeTx {
	return &fakeTx{
		products: map[int64]inventory.Product{},
		units:    map[int64]inventory.SerializedUnit{},
	}
}

func (f *fakeTx) LockProducts(_ context.Context, ids []int64) (map[int64]inventory.Product, error) {
	f.locked = append(f.locked, slices.Clone(ids))
	out := map[int64]inventory.Product{}
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (f *fakeTx) SetStockQuantity(_ context.Context, id int64, qty int) error {
	if f.failSet != nil {
		return f.failSet
	}
	p := f.products[id]
	p.StockQuantity = qty
	f.products[id] = p
	return nil
}

func (f *fakeTx) AppendMovement(_ context.Context, m inventory.StockMovement) (int64, error) {
	m.ID = int64(len(f.movements) + 1)
	f.movements = append(f.movements, m)
	return m.ID, nil
}

func (f *fakeTx) GetUnit(_ context.Context, id int64) (*inventory.SerializedUnit, error) {
	u, ok := f.units[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (f *fakeTx) TransitionUnit(_ context.Context, id int64, from []inventory.UnitStatus, to inventory.UnitStatus) (bool, error) {
	u, ok := f.units[id]
	if !ok || !slices.Contains(from, u.Status) {
		return false, nil
	}
	u.Status = to
	f.units[id] = u
	return true, nil
}

func product(id int64, stock int) inventory.Product {
	return inventory.Product{
		ID:            id,
		Name:          "Charger",
		Price:         decimal.NewFromInt(20),
		TaxRate:       decimal.NewFromInt(22),
		StockQuantity: stock,
		Active:        true,
	}
}

var fixedNow = time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC)

func newTestLedger() *inventory.Ledger {
	return inventory.NewLedger(func() time.Time { return fixedNow })
}

// =============================================================================
// BULK STOCK
// =============================================================================

func TestLedger_LockDemand_ChecksAggregatedQuantity(t *testing.T) {
	// GIVEN: 5 chargers in stock
	// WHEN: two cart lines ask for 3 each
	// THEN: the aggregated demand of 6 is rejected before any write

	tx := newFakeTx()
	tx.products[1] = product(1, 5)
	l := newTestLedger()

	demand := inventory.Demand{}
	demand.Add(1, 3)
	demand.Add(1, 3)

	_, err := l.LockDemand(context.Background(), tx, demand)
	require.Error(t, err)

	var stockErr *inventory.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 5, stockErr.Available)
	assert.Equal(t, 6, stockErr.Requested)
	assert.True(t, errors.Is(err, inventory.ErrInsufficientStock))
	assert.Equal(t, 5, tx.products[1].StockQuantity)
	assert.Empty(t, tx.movements)
}

func TestLedger_LockDemand_MissingAndInactive(t *testing.T) {
	tx := newFakeTx()
	inactive := product(2, 10)
	inactive.Active = false
	tx.products[2] = inactive
	l := newTestLedger()

	_, err := l.LockDemand(context.Background(), tx, inventory.Demand{99: 1})
	assert.ErrorIs(t, err, inventory.ErrProductNotFound)

	_, err = l.LockDemand(context.Background(), tx, inventory.Demand{2: 1})
	assert.ErrorIs(t, err, inventory.ErrProductInactive)
}

func TestLedger_LockDemand_LocksInAscendingOrder(t *testing.T) {
	tx := newFakeTx()
	for _, id := range []int64{7, 3, 5} {
		tx.products[id] = product(id, 10)
	}
	l := newTestLedger()

	_, err := l.LockDemand(context.Background(), tx, inventory.Demand{7: 1, 3: 1, 5: 1})
	require.NoError(t, err)
	require.Len(t, tx.locked, 1)
	assert.Equal(t, []int64{3, 5, 7}, tx.locked[0])
}

func TestLedger_ConsumeAndRestock_AppendMovements(t *testing.T) {
	ctx := context.Background()
	tx := newFakeTx()
	tx.products[1] = product(1, 5)
	l := newTestLedger()
	ref := inventory.Ref{Type: "sale", ID: 42, OperatorID: 3}

	demand := inventory.Demand{1: 2}
	locked, err := l.LockDemand(ctx, tx, demand)
	require.NoError(t, err)
	require.NoError(t, l.Consume(ctx, tx, locked, demand, ref))
	assert.Equal(t, 3, tx.products[1].StockQuantity)

	require.NoError(t, l.Restock(ctx, tx, inventory.Demand{1: 2}, inventory.ReasonCancel, ref))
	assert.Equal(t, 5, tx.products[1].StockQuantity)

	require.Len(t, tx.movements, 2)
	assert.Equal(t, -2, tx.movements[0].Delta)
	assert.Equal(t, 3, tx.movements[0].Balance)
	assert.Equal(t, inventory.ReasonSale, tx.movements[0].Reason)
	assert.Equal(t, int64(42), tx.movements[0].RefID)
	assert.Equal(t, fixedNow, tx.movements[0].CreatedAt)
	assert.Equal(t, 2, tx.movements[1].Delta)
	assert.Equal(t, 5, tx.movements[1].Balance)
	assert.Equal(t, inventory.ReasonCancel, tx.movements[1].Reason)
}

func TestLedger_Adjust_NeverNegative(t *testing.T) {
	ctx := context.Background()
	tx := newFakeTx()
	tx.products[1] = product(1, 2)
	l := newTestLedger()

	m, err := l.Adjust(ctx, tx, 1, 8, inventory.Ref{Type: "adjustment", Note: "delivery"})
	require.NoError(t, err)
	assert.Equal(t, 10, m.Balance)
	assert.Equal(t, inventory.ReasonAdjustment, m.Reason)
	require.Len(t, tx.movements, 1)
	assert.Equal(t, tx.movements[0].ID, m.ID)

	_, err = l.Adjust(ctx, tx, 1, -11, inventory.Ref{Type: "adjustment"})
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
	assert.Equal(t, 10, tx.products[1].StockQuantity)
}

func TestLedger_Consume_PropagatesStoreFailure(t *testing.T) {
	ctx := context.Background()
	tx := newFakeTx()
	tx.products[1] = product(1, 5)
	tx.failSet = errors.New("disk full")
	l := newTestLedger()

	demand := inventory.Demand{1: 1}
	locked, err := l.LockDemand(ctx, tx, demand)
	require.NoError(t, err)

	err = l.Consume(ctx, tx, locked, demand, inventory.Ref{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, tx.movements)
}

// =============================================================================
// SERIALIZED UNITS
// =============================================================================

func TestLedger_SellUnit_OnlyOnce(t *testing.T) {
	// GIVEN: a SIM card in stock
	// WHEN: it is sold twice
	// THEN: the second sale fails with UnitUnavailableError

	ctx := context.Background()
	tx := newFakeTx()
	tx.units[10] = inventory.SerializedUnit{ID: 10, Code: "8939100000000000001", Status: inventory.UnitInStock}
	l := newTestLedger()

	u, err := l.SellUnit(ctx, tx, 10, "8939100000000000001")
	require.NoError(t, err)
	assert.Equal(t, inventory.UnitSold, u.Status)

	_, err = l.SellUnit(ctx, tx, 10, "")
	var unavailable *inventory.UnitUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, inventory.UnitSold, unavailable.Status)
	assert.ErrorIs(t, err, inventory.ErrUnitAlreadySold)
}

func TestLedger_SellUnit_FromReserved(t *testing.T) {
	tx := newFakeTx()
	tx.units[11] = inventory.SerializedUnit{ID: 11, Code: "X", Status: inventory.UnitReserved}

	_, err := newTestLedger().SellUnit(context.Background(), tx, 11, "")
	require.NoError(t, err)
	assert.Equal(t, inventory.UnitSold, tx.units[11].Status)
}

func TestLedger_SellUnit_MissingOrMismatched(t *testing.T) {
	ctx := context.Background()
	tx := newFakeTx()
	tx.units[10] = inventory.SerializedUnit{ID: 10, Code: "AAA", Status: inventory.UnitInStock}
	l := newTestLedger()

	_, err := l.SellUnit(ctx, tx, 99, "")
	assert.ErrorIs(t, err, inventory.ErrUnitNotFound)

	_, err = l.SellUnit(ctx, tx, 10, "BBB")
	assert.ErrorIs(t, err, inventory.ErrSerialMismatch)
	assert.Equal(t, inventory.UnitInStock, tx.units[10].Status)
}

func TestLedger_ReleaseUnit(t *testing.T) {
	ctx := context.Background()
	tx := newFakeTx()
	tx.units[10] = inventory.SerializedUnit{ID: 10, Code: "AAA", Status: inventory.UnitSold}
	l := newTestLedger()

	ok, err := l.ReleaseUnit(ctx, tx, 10)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, inventory.UnitInStock, tx.units[10].Status)

	ok, err = l.ReleaseUnit(ctx, tx, 10)
	require.NoError(t, err)
	assert.False(t, ok, "unit already in stock")
}
