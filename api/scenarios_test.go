/*
scenarios_test.go - Demo scenarios load through the real ledger

PURPOSE:
	Tests that each scenario leaves the expected sales, stock and audit
	entries behind, so they stay usable as integration fixtures.
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sale-engine/sale"
	"golang.org/x/sync/errgroup"
)

func loadScenario(t *testing.T, ts *testServer, id string) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decodeBody[ScenarioDTO](t, rec).ID)
}

func TestScenario_PhoneShop(t *testing.T) {
	// GIVEN: a server with leftover data
	// WHEN: the phone-shop scenario is loaded
	// THEN: the database is reset and only the catalog exists

	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/sales", ts.phoneSale(1))
	require.Equal(t, http.StatusCreated, rec.Code)

	loadScenario(t, ts, "phone-shop")

	sales, page, err := ts.handler.Ledger.SearchSales(context.Background(), sale.SearchFilter{})
	require.NoError(t, err)
	assert.Empty(t, sales)
	assert.Zero(t, page.Total)
}

func TestScenario_OpenInvoices(t *testing.T) {
	ts := newTestServer(t)
	loadScenario(t, ts, "open-invoices")
	ctx := context.Background()

	sales, _, err := ts.handler.Ledger.SearchSales(ctx, sale.SearchFilter{})
	require.NoError(t, err)
	require.Len(t, sales, 3)

	byStatus := map[sale.PaymentStatus]int{}
	for _, s := range sales {
		byStatus[s.PaymentStatus]++
	}
	assert.Equal(t, 1, byStatus[sale.PaymentPartial])
	assert.Equal(t, 1, byStatus[sale.PaymentOverdue])
	assert.Equal(t, 1, byStatus[sale.PaymentPaid])
}

func TestScenario_AfterSales(t *testing.T) {
	ts := newTestServer(t)
	loadScenario(t, ts, "after-sales")
	ctx := context.Background()

	sales, _, err := ts.handler.Ledger.SearchSales(ctx, sale.SearchFilter{})
	require.NoError(t, err)
	require.Len(t, sales, 3)

	byStatus := map[sale.Status]int{}
	for _, s := range sales {
		byStatus[s.Status]++
	}
	assert.Equal(t, 1, byStatus[sale.StatusRefunded])
	assert.Equal(t, 1, byStatus[sale.StatusCompleted], "the credited sale keeps two cases")
	assert.Equal(t, 1, byStatus[sale.StatusCancelled])

	entries, _, err := ts.handler.Ledger.AuditTrail(ctx, sale.AuditFilter{Action: sale.ActionSaleRefund})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestScenario_CurrentIsSafeUnderConcurrentAccess(t *testing.T) {
	ts := newTestServer(t)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		id := scenarios[i%len(scenarios)].ID
		g.Go(func() error {
			ts.handler.setScenario(id)
			rec := httptest.NewRecorder()
			ts.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/scenarios/current", nil))
			if rec.Code != http.StatusOK {
				return fmt.Errorf("status %d", rec.Code)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Contains(t, []string{"phone-shop", "open-invoices", "after-sales"}, ts.handler.scenario())
}

func TestScenario_Unknown(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "black-friday"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
