/*
handlers.go - HTTP API handlers for the sale engine

PURPOSE:
  Exposes the sale ledger via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to the sale package.

ENDPOINTS:
  Sales:
    POST   /api/sales                        Commit a sale
    GET    /api/sales                        Search sales
    GET    /api/sales/{id}                   Sale with items and refunds
    GET    /api/sales/ref/{reference}        Same, by portal reference
    POST   /api/sales/{id}/cancel            Cancel a completed sale
    POST   /api/sales/{id}/refund            Refund or credit items

  Customers:
    GET    /api/customers/{id}/sales         Sales of one customer

  Products:
    GET    /api/products/{id}/movements      Stock movement history
    POST   /api/products/{id}/adjustments    Manual stock adjustment

  Audit:
    GET    /api/audit                        Operator action log

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate shape (validator tags)
  3. Call the ledger
  4. Serialize response
  5. Map errors by kind

ERROR HANDLING:
  sale.Classify decides the status:
  - 400: validation
  - 404: not found
  - 409: consistency (stock, unit sold, sale not completed)
  - 500: persistence
  A repeated idempotency key is not an error: 200 with the original id.

SECURITY NOTE:
  No authentication. operator_id is trusted as sent.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo catalog loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/warp/sale-engine/inventory"
	"github.com/warp/sale-engine/sale"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Catalog provisions the reference data sales read. Both SQL stores
// implement it.
type Catalog interface {
	SaveCustomer(ctx context.Context, c sale.Customer) (int64, error)
	SaveProduct(ctx context.Context, p inventory.Product) (int64, error)
	SaveUnit(ctx context.Context, u inventory.SerializedUnit) (int64, error)
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger  *sale.Ledger
	Catalog Catalog
	Log     logrus.FieldLogger

	validate *validator.Validate

	// Track currently loaded scenario
	scenarioMu      sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler.
func NewHandler(ledger *sale.Ledger, catalog Catalog, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		Ledger:   ledger,
		Catalog:  catalog,
		Log:      log.WithField("module", "api"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// =============================================================================
// SALE HANDLERS
// =============================================================================

// CreateSale commits a cart. The Idempotency-Key header, when present,
// overrides the body field.
func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	var req CreateSaleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}

	in, err := req.toInput()
	if err != nil {
		writeDomainError(w, err)
		return
	}

	id, err := h.Ledger.CreateSale(r.Context(), in)
	var dup *sale.DuplicateSaleError
	if errors.As(err, &dup) {
		writeJSON(w, http.StatusOK, CreatedResponse{ID: dup.SaleID, Duplicate: true})
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreatedResponse{ID: id})
}

// SearchSales lists sales matching the query string filters.
func (h *Handler) SearchSales(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := sale.SearchFilter{
		Status:        sale.Status(q.Get("status")),
		PaymentStatus: sale.PaymentStatus(q.Get("payment_status")),
		Query:         q.Get("q"),
		Page:          queryInt(r, "page"),
		PerPage:       queryInt(r, "per_page"),
	}
	var err error
	if filter.CustomerID, err = queryID(r, "customer_id"); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid customer_id", err)
		return
	}
	if filter.From, err = queryTime(r, "from"); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from date", err)
		return
	}
	if filter.To, err = queryTime(r, "to"); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to date", err)
		return
	}

	sales, page, err := h.Ledger.SearchSales(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[SaleDTO]{Data: toSaleDTOs(sales), Pagination: toPaginationDTO(page)})
}

// GetSale returns one sale. ?customer_id scopes the lookup to that customer.
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	customerID, err := queryID(r, "customer_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid customer_id", err)
		return
	}

	d, err := h.Ledger.GetSaleWithItems(r.Context(), id, customerID)
	h.writeDetail(w, d, err)
}

// GetSaleByReference returns one sale addressed by its portal reference.
func (h *Handler) GetSaleByReference(w http.ResponseWriter, r *http.Request) {
	customerID, err := queryID(r, "customer_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid customer_id", err)
		return
	}

	d, err := h.Ledger.GetSaleByReference(r.Context(), chi.URLParam(r, "reference"), customerID)
	h.writeDetail(w, d, err)
}

func (h *Handler) writeDetail(w http.ResponseWriter, d *sale.SaleDetail, err error) {
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "Sale not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDetailDTO(d))
}

// CancelSale reverses a whole sale.
func (h *Handler) CancelSale(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req CancelSaleRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.Ledger.CancelSale(r.Context(), sale.CancelInput{SaleID: id, OperatorID: req.OperatorID, Reason: req.Reason})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	d, err := h.Ledger.GetSaleWithItems(r.Context(), id, nil)
	h.writeDetail(w, d, err)
}

// RefundSale refunds or credits items of a sale.
func (h *Handler) RefundSale(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req RefundSaleRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Ledger.RefundSale(r.Context(), req.toInput(id))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRefundResultDTO(res))
}

// ListCustomerSales lists the sales of one customer.
func (h *Handler) ListCustomerSales(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	sales, page, err := h.Ledger.ListCustomerSales(r.Context(), id, queryInt(r, "page"), queryInt(r, "per_page"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[SaleDTO]{Data: toSaleDTOs(sales), Pagination: toPaginationDTO(page)})
}

// =============================================================================
// INVENTORY HANDLERS
// =============================================================================

// ListStockMovements returns the latest movements of a product.
func (h *Handler) ListStockMovements(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	movements, err := h.Ledger.StockMovements(r.Context(), id, queryInt(r, "limit"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]StockMovementDTO, len(movements))
	for i, mv := range movements {
		dtos[i] = toStockMovementDTO(mv)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AdjustStock applies a manual stock correction.
func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req AdjustStockRequest
	if !h.decode(w, r, &req) {
		return
	}

	mv, err := h.Ledger.AdjustStock(r.Context(), sale.AdjustStockInput{
		ProductID:  id,
		Delta:      req.Delta,
		OperatorID: req.OperatorID,
		Note:       req.Note,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStockMovementDTO(mv))
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// ListAuditEntries returns the audit trail, newest first.
func (h *Handler) ListAuditEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := sale.AuditFilter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		Page:       queryInt(r, "page"),
		PerPage:    queryInt(r, "per_page"),
	}
	if id, err := queryID(r, "entity_id"); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid entity_id", err)
		return
	} else if id != nil {
		filter.EntityID = *id
	}
	if id, err := queryID(r, "operator_id"); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid operator_id", err)
		return
	} else if id != nil {
		filter.OperatorID = *id
	}
	var err error
	if filter.From, err = queryTime(r, "from"); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from date", err)
		return
	}
	if filter.To, err = queryTime(r, "to"); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to date", err)
		return
	}

	entries, page, err := h.Ledger.AuditTrail(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, ListResponse[AuditEntryDTO]{Data: dtos, Pagination: toPaginationDTO(page)})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Catalog.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.setScenario("")

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads and validates a JSON body. It writes the 400 itself.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Code: "invalid_request", Details: err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps a ledger error to its HTTP status.
func writeDomainError(w http.ResponseWriter, err error) {
	kind, code := sale.Classify(err)
	status := http.StatusInternalServerError
	switch kind {
	case sale.KindValidation:
		status = http.StatusBadRequest
	case sale.KindConsistency:
		status = http.StatusConflict
	case sale.KindNotFound:
		status = http.StatusNotFound
	}

	resp := ErrorResponse{Error: err.Error(), Code: code}
	if status == http.StatusInternalServerError {
		// store details stay in the server log
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid "+name, err)
		return 0, false
	}
	return id, true
}

func queryID(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// queryInt returns 0 for a missing or malformed value; the ledger normalizes it.
func queryInt(r *http.Request, name string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(name))
	return n
}

func queryTime(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := parseDate(raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
