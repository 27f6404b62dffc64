/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with a realistic
	phone-shop catalog and, depending on the scenario, a sale history that
	shows a specific feature.

AVAILABLE SCENARIOS:

	phone-shop:     Catalog only: customers, products at three VAT rates, SIMs
	open-invoices:  Catalog plus partially paid and unpaid sales, one overdue
	after-sales:    Catalog plus a refunded, a credited and a cancelled sale

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Seed customers, products and serialized units
 3. Replay sales and reversals through the ledger, so stock movements and
    audit entries are the real ones

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "after-sales"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ResetDatabase
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/sale-engine/inventory"
	"github.com/warp/sale-engine/sale"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "phone-shop",
		Name:        "Phone Shop",
		Description: "Catalog with products at 22%, 10% and 4% VAT and five SIM cards",
	},
	{
		ID:          "open-invoices",
		Name:        "Open Invoices",
		Description: "Partially paid and unpaid sales, one already past its due date",
	},
	{
		ID:          "after-sales",
		Name:        "After Sales",
		Description: "A refund to cash, a store credit and a cancelled sale",
	},
}

// demoOperator is the operator id used by scenario sales.
const demoOperator = 1

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	for _, s := range scenarios {
		if s.ID == h.scenario() {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *Handler) scenario() string {
	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()
	return h.currentScenario
}

func (h *Handler) setScenario(id string) {
	h.scenarioMu.Lock()
	h.currentScenario = id
	h.scenarioMu.Unlock()
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	var load func(context.Context, *demoCatalog) error
	switch req.ScenarioID {
	case "phone-shop":
		load = func(context.Context, *demoCatalog) error { return nil }
	case "open-invoices":
		load = h.loadOpenInvoices
	case "after-sales":
		load = h.loadAfterSales
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.Catalog.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.setScenario("")

	catalog, err := h.seedCatalog(ctx)
	if err == nil {
		err = load(ctx, catalog)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.setScenario(req.ScenarioID)
	h.Log.WithField("scenario", req.ScenarioID).Info("scenario loaded")

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// CATALOG
// =============================================================================

// demoCatalog holds the ids created by seedCatalog.
type demoCatalog struct {
	customers map[string]int64
	products  map[string]int64
	sims      []int64
}

func (h *Handler) seedCatalog(ctx context.Context) (*demoCatalog, error) {
	c := &demoCatalog{customers: map[string]int64{}, products: map[string]int64{}}

	for _, name := range []string{"Mario Rossi", "Giulia Bianchi", "Officina Verdi Srl"} {
		id, err := h.Catalog.SaveCustomer(ctx, sale.Customer{Name: name})
		if err != nil {
			return nil, err
		}
		c.customers[name] = id
	}

	products := []inventory.Product{
		{Name: "Smartphone A15", Price: decimal.RequireFromString("229.00"), TaxRate: decimal.NewFromInt(22), TaxCode: "IVA22", StockQuantity: 12, Active: true},
		{Name: "Silicone case", Price: decimal.RequireFromString("14.90"), TaxRate: decimal.NewFromInt(22), TaxCode: "IVA22", StockQuantity: 40, Active: true},
		{Name: "USB-C charger 25W", Price: decimal.RequireFromString("19.90"), TaxRate: decimal.NewFromInt(22), TaxCode: "IVA22", StockQuantity: 25, Active: true},
		{Name: "Prepaid top-up voucher", Price: decimal.RequireFromString("10.00"), TaxRate: decimal.NewFromInt(10), TaxCode: "IVA10", StockQuantity: 100, Active: true},
		{Name: "Hearing-aid phone", Price: decimal.RequireFromString("89.00"), TaxRate: decimal.NewFromInt(4), TaxCode: "IVA4", StockQuantity: 3, Active: true},
		{Name: "Discontinued flip phone", Price: decimal.RequireFromString("39.00"), TaxRate: decimal.NewFromInt(22), TaxCode: "IVA22", StockQuantity: 2, Active: false},
	}
	for _, p := range products {
		id, err := h.Catalog.SaveProduct(ctx, p)
		if err != nil {
			return nil, err
		}
		c.products[p.Name] = id
	}

	for i := 1; i <= 5; i++ {
		id, err := h.Catalog.SaveUnit(ctx, inventory.SerializedUnit{
			Code:       fmt.Sprintf("89391000000000%05d", i),
			ProviderID: 1,
		})
		if err != nil {
			return nil, err
		}
		c.sims = append(c.sims, id)
	}
	return c, nil
}

func (c *demoCatalog) product(name string, qty int) sale.ProductLine {
	return sale.ProductLine{LineBase: sale.LineBase{Quantity: qty}, ProductID: c.products[name]}
}

// priced sets the price charged on a product line.
func priced(line sale.ProductLine, price string) sale.ProductLine {
	line.Price = decimal.RequireFromString(price)
	return line
}

func (c *demoCatalog) sim(i int, price string) sale.ServiceLine {
	return sale.ServiceLine{
		LineBase: sale.LineBase{Price: decimal.RequireFromString(price), Quantity: 1, Description: "SIM activation"},
		Unit:     &sale.UnitRef{ID: c.sims[i]},
	}
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadOpenInvoices(ctx context.Context, c *demoCatalog) error {
	today := h.Ledger.Now()
	lastWeek := today.AddDate(0, 0, -7)
	nextMonth := today.AddDate(0, 1, 0)
	officina := c.customers["Officina Verdi Srl"]
	mario := c.customers["Mario Rossi"]

	inputs := []sale.CreateSaleInput{
		{
			// five phones for a business customer, half paid, due next month
			OperatorID:    demoOperator,
			CustomerID:    &officina,
			Lines:         []sale.CartLine{priced(c.product("Smartphone A15", 5), "229.00")},
			PaymentMethod: "bank_transfer",
			Discount:      decimal.NewFromInt(45),
			TotalPaid:     decPtr("500"),
			DueDate:       &nextMonth,
		},
		{
			// nothing paid, due a week ago: overdue from the start
			OperatorID:    demoOperator,
			CustomerID:    &mario,
			Lines:         []sale.CartLine{priced(c.product("Silicone case", 2), "14.90"), c.sim(0, "5.00")},
			PaymentMethod: "invoice",
			TotalPaid:     decPtr("0"),
			DueDate:       &lastWeek,
		},
		{
			OperatorID:    demoOperator,
			CustomerName:  "Walk-in",
			Lines:         []sale.CartLine{priced(c.product("Prepaid top-up voucher", 3), "10.00")},
			PaymentMethod: "cash",
		},
	}
	for _, in := range inputs {
		if _, err := h.Ledger.CreateSale(ctx, in); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadAfterSales(ctx context.Context, c *demoCatalog) error {
	giulia := c.customers["Giulia Bianchi"]

	refunded, err := h.Ledger.CreateSale(ctx, sale.CreateSaleInput{
		OperatorID:    demoOperator,
		CustomerID:    &giulia,
		Lines:         []sale.CartLine{priced(c.product("USB-C charger 25W", 2), "19.90"), c.sim(1, "10.00")},
		PaymentMethod: "card",
	})
	if err != nil {
		return err
	}
	if _, err := h.Ledger.RefundSale(ctx, sale.RefundInput{
		SaleID:     refunded,
		OperatorID: demoOperator,
		Note:       "charger faulty",
	}); err != nil {
		return err
	}

	credited, err := h.Ledger.CreateSale(ctx, sale.CreateSaleInput{
		OperatorID:    demoOperator,
		CustomerID:    &giulia,
		Lines:         []sale.CartLine{priced(c.product("Silicone case", 3), "14.90")},
		PaymentMethod: "cash",
	})
	if err != nil {
		return err
	}
	detail, err := h.Ledger.GetSaleWithItems(ctx, credited, nil)
	if err != nil {
		return err
	}
	if _, err := h.Ledger.RefundSale(ctx, sale.RefundInput{
		SaleID:     credited,
		OperatorID: demoOperator,
		Lines: []sale.RefundLine{{
			SaleItemID: detail.Items[0].ID,
			Quantity:   1,
			Type:       sale.RefundTypeCredit,
			Note:       "wrong colour, store credit",
		}},
	}); err != nil {
		return err
	}

	cancelled, err := h.Ledger.CreateSale(ctx, sale.CreateSaleInput{
		OperatorID:    demoOperator,
		CustomerName:  "Walk-in",
		Lines:         []sale.CartLine{priced(c.product("Hearing-aid phone", 1), "89.00"), c.sim(2, "10.00")},
		PaymentMethod: "card",
	})
	if err != nil {
		return err
	}
	return h.Ledger.CancelSale(ctx, sale.CancelInput{
		SaleID:     cancelled,
		OperatorID: demoOperator,
		Reason:     "payment declined",
	})
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}
