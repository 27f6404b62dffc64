/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the sale domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Sales:
    CreateSaleRequest, CartLineRequest, SaleDTO, SaleItemDTO, SaleDetailDTO

  Reversals:
    CancelSaleRequest, RefundSaleRequest, RefundLineRequest, RefundResultDTO

  Inventory:
    AdjustStockRequest, StockMovementDTO

  Audit:
    AuditEntryDTO

MONEY:
  decimal.Decimal marshals as a JSON string ("18.03") and unmarshals from
  either a string or a number.

VALIDATION:
  Struct tags are checked with go-playground/validator before the request
  reaches the ledger. They cover shape only (kinds, signs, nested lines);
  business rules stay in the sale package so their error codes surface.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/sale-engine/inventory"
	"github.com/warp/sale-engine/sale"
)

// =============================================================================
// SALE REQUESTS
// =============================================================================

// CartLineRequest is one line of a submitted cart.
type CartLineRequest struct {
	Kind        string          `json:"kind" validate:"required,oneof=service product"`
	ProductID   int64           `json:"product_id,omitempty" validate:"gte=0"`
	UnitID      int64           `json:"unit_id,omitempty" validate:"gte=0"`
	UnitCode    string          `json:"unit_code,omitempty" validate:"max=64"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity" validate:"gte=0"`
	Description string          `json:"description,omitempty" validate:"max=255"`
}

// CreateSaleRequest is the request to commit a sale.
type CreateSaleRequest struct {
	OperatorID     int64             `json:"operator_id" validate:"gte=0"`
	CustomerID     *int64            `json:"customer_id,omitempty" validate:"omitempty,gt=0"`
	CustomerName   string            `json:"customer_name,omitempty" validate:"max=255"`
	CustomerNote   string            `json:"customer_note,omitempty"`
	Lines          []CartLineRequest `json:"lines" validate:"dive"`
	PaymentMethod  string            `json:"payment_method,omitempty" validate:"max=32"`
	Discount       decimal.Decimal   `json:"discount"`
	VatRate        *decimal.Decimal  `json:"vat_rate,omitempty"`
	TotalPaid      *decimal.Decimal  `json:"total_paid,omitempty"`
	BalanceDue     *decimal.Decimal  `json:"balance_due,omitempty"`
	PaymentStatus  string            `json:"payment_status,omitempty"`
	DueDate        string            `json:"due_date,omitempty"`
	CampaignID     *int64            `json:"campaign_id,omitempty" validate:"omitempty,gt=0"`
	IdempotencyKey string            `json:"idempotency_key,omitempty" validate:"max=128"`
}

// toInput converts the request into ledger input. Only the due date can fail.
func (r CreateSaleRequest) toInput() (sale.CreateSaleInput, error) {
	in := sale.CreateSaleInput{
		OperatorID:     r.OperatorID,
		CustomerID:     r.CustomerID,
		CustomerName:   r.CustomerName,
		CustomerNote:   r.CustomerNote,
		PaymentMethod:  r.PaymentMethod,
		Discount:       r.Discount,
		VatRate:        r.VatRate,
		TotalPaid:      r.TotalPaid,
		BalanceDue:     r.BalanceDue,
		PaymentStatus:  sale.PaymentStatus(r.PaymentStatus),
		CampaignID:     r.CampaignID,
		IdempotencyKey: r.IdempotencyKey,
	}
	if r.DueDate != "" {
		due, err := parseDate(r.DueDate)
		if err != nil {
			return in, fmt.Errorf("%w: %q", sale.ErrInvalidDueDate, r.DueDate)
		}
		in.DueDate = &due
	}
	for _, l := range r.Lines {
		base := sale.LineBase{Price: l.Price, Quantity: l.Quantity, Description: l.Description}
		if l.Kind == string(sale.KindProduct) {
			in.Lines = append(in.Lines, sale.ProductLine{LineBase: base, ProductID: l.ProductID})
			continue
		}
		line := sale.ServiceLine{LineBase: base}
		if l.UnitID != 0 {
			line.Unit = &sale.UnitRef{ID: l.UnitID, Code: l.UnitCode}
		}
		in.Lines = append(in.Lines, line)
	}
	return in, nil
}

// parseDate accepts a calendar day (2006-01-02) or an RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// =============================================================================
// REVERSAL REQUESTS
// =============================================================================

type CancelSaleRequest struct {
	OperatorID int64  `json:"operator_id" validate:"gte=0"`
	Reason     string `json:"reason,omitempty" validate:"max=500"`
}

type RefundLineRequest struct {
	SaleItemID int64  `json:"sale_item_id"`
	Quantity   int    `json:"quantity"`
	Type       string `json:"type,omitempty"`
	Note       string `json:"note,omitempty" validate:"max=500"`
}

// RefundSaleRequest without lines refunds everything still refundable.
type RefundSaleRequest struct {
	OperatorID int64               `json:"operator_id" validate:"gte=0"`
	Lines      []RefundLineRequest `json:"lines,omitempty" validate:"dive"`
	Note       string              `json:"note,omitempty" validate:"max=500"`
}

func (r RefundSaleRequest) toInput(saleID int64) sale.RefundInput {
	in := sale.RefundInput{SaleID: saleID, OperatorID: r.OperatorID, Note: r.Note}
	for _, l := range r.Lines {
		in.Lines = append(in.Lines, sale.RefundLine{
			SaleItemID: l.SaleItemID,
			Quantity:   l.Quantity,
			Type:       sale.RefundType(l.Type),
			Note:       l.Note,
		})
	}
	return in
}

type AdjustStockRequest struct {
	OperatorID int64  `json:"operator_id" validate:"gte=0"`
	Delta      int    `json:"delta"`
	Note       string `json:"note,omitempty" validate:"max=500"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// SaleDTO represents a sale in API responses.
type SaleDTO struct {
	ID             int64           `json:"id"`
	Reference      string          `json:"reference"`
	OperatorID     int64           `json:"operator_id"`
	CustomerID     *int64          `json:"customer_id,omitempty"`
	CustomerName   string          `json:"customer_name"`
	CustomerNote   string          `json:"customer_note,omitempty"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Discount       decimal.Decimal `json:"discount"`
	Total          decimal.Decimal `json:"total"`
	TotalPaid      decimal.Decimal `json:"total_paid"`
	BalanceDue     decimal.Decimal `json:"balance_due"`
	PaymentStatus  string          `json:"payment_status"`
	DueDate        string          `json:"due_date,omitempty"`
	CampaignID     *int64          `json:"campaign_id,omitempty"`
	VatRate        decimal.Decimal `json:"vat_rate"`
	VatAmount      decimal.Decimal `json:"vat_amount"`
	PaymentMethod  string          `json:"payment_method"`
	Status         string          `json:"status"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	CreditedAmount decimal.Decimal `json:"credited_amount"`
	CancelNote     string          `json:"cancel_note,omitempty"`
	RefundNote     string          `json:"refund_note,omitempty"`
	CreatedAt      string          `json:"created_at"`
	CancelledAt    string          `json:"cancelled_at,omitempty"`
	RefundedAt     string          `json:"refunded_at,omitempty"`
}

type SaleItemDTO struct {
	ID               int64           `json:"id"`
	Kind             string          `json:"kind"`
	UnitID           *int64          `json:"unit_id,omitempty"`
	ProductID        *int64          `json:"product_id,omitempty"`
	Description      string          `json:"description"`
	Quantity         int             `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	TaxRate          decimal.Decimal `json:"tax_rate"`
	TaxAmount        decimal.Decimal `json:"tax_amount"`
	TaxCode          string          `json:"tax_code,omitempty"`
	RefundedQuantity int             `json:"refunded_quantity"`
}

type ItemRefundDTO struct {
	ID         int64           `json:"id"`
	SaleItemID int64           `json:"sale_item_id"`
	OperatorID int64           `json:"operator_id"`
	Quantity   int             `json:"quantity"`
	Type       string          `json:"type"`
	Note       string          `json:"note,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	CreatedAt  string          `json:"created_at"`
}

// SaleDetailDTO is a sale with its lines and reversal history.
type SaleDetailDTO struct {
	SaleDTO
	Items   []SaleItemDTO   `json:"items"`
	Refunds []ItemRefundDTO `json:"refunds"`
}

type RefundResultDTO struct {
	SaleID         int64           `json:"sale_id"`
	Status         string          `json:"status"`
	Refunded       decimal.Decimal `json:"refunded"`
	Credited       decimal.Decimal `json:"credited"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	CreditedAmount decimal.Decimal `json:"credited_amount"`
}

type StockMovementDTO struct {
	ID         int64  `json:"id"`
	ProductID  int64  `json:"product_id"`
	Delta      int    `json:"delta"`
	Balance    int    `json:"balance"`
	Reason     string `json:"reason"`
	RefType    string `json:"ref_type,omitempty"`
	RefID      int64  `json:"ref_id,omitempty"`
	OperatorID int64  `json:"operator_id,omitempty"`
	Note       string `json:"note,omitempty"`
	CreatedAt  string `json:"created_at"`
}

type AuditEntryDTO struct {
	ID          int64  `json:"id"`
	OperatorID  int64  `json:"operator_id"`
	Action      string `json:"action"`
	EntityType  string `json:"entity_type"`
	EntityID    int64  `json:"entity_id"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
}

type PaginationDTO struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// ListResponse wraps one page of a listing.
type ListResponse[T any] struct {
	Data       []T           `json:"data"`
	Pagination PaginationDTO `json:"pagination"`
}

// CreatedResponse answers a sale submission. Duplicate is set when the
// idempotency key matched an earlier sale.
type CreatedResponse struct {
	ID        int64 `json:"id"`
	Duplicate bool  `json:"duplicate,omitempty"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func toSaleDTO(s sale.Sale) SaleDTO {
	dto := SaleDTO{
		ID:             s.ID,
		Reference:      s.Reference,
		OperatorID:     s.OperatorID,
		CustomerID:     s.CustomerID,
		CustomerName:   s.CustomerName,
		CustomerNote:   s.CustomerNote,
		Subtotal:       s.Subtotal,
		Discount:       s.Discount,
		Total:          s.Total,
		TotalPaid:      s.TotalPaid,
		BalanceDue:     s.BalanceDue,
		PaymentStatus:  string(s.PaymentStatus),
		CampaignID:     s.CampaignID,
		VatRate:        s.VatRate,
		VatAmount:      s.VatAmount,
		PaymentMethod:  s.PaymentMethod,
		Status:         string(s.Status),
		RefundedAmount: s.RefundedAmount,
		CreditedAmount: s.CreditedAmount,
		CancelNote:     s.CancelNote,
		RefundNote:     s.RefundNote,
		CreatedAt:      formatTime(s.CreatedAt),
		CancelledAt:    formatTimePtr(s.CancelledAt),
		RefundedAt:     formatTimePtr(s.RefundedAt),
	}
	if s.DueDate != nil {
		dto.DueDate = s.DueDate.UTC().Format(time.DateOnly)
	}
	return dto
}

func toSaleDTOs(sales []sale.Sale) []SaleDTO {
	dtos := make([]SaleDTO, len(sales))
	for i, s := range sales {
		dtos[i] = toSaleDTO(s)
	}
	return dtos
}

func toSaleDetailDTO(d *sale.SaleDetail) SaleDetailDTO {
	dto := SaleDetailDTO{
		SaleDTO: toSaleDTO(d.Sale),
		Items:   make([]SaleItemDTO, len(d.Items)),
		Refunds: make([]ItemRefundDTO, len(d.Refunds)),
	}
	for i, item := range d.Items {
		dto.Items[i] = SaleItemDTO{
			ID:               item.ID,
			Kind:             string(item.Kind),
			UnitID:           item.UnitID,
			ProductID:        item.ProductID,
			Description:      item.Description,
			Quantity:         item.Quantity,
			UnitPrice:        item.UnitPrice,
			TaxRate:          item.TaxRate,
			TaxAmount:        item.TaxAmount,
			TaxCode:          item.TaxCode,
			RefundedQuantity: item.RefundedQuantity,
		}
	}
	for i, r := range d.Refunds {
		dto.Refunds[i] = ItemRefundDTO{
			ID:         r.ID,
			SaleItemID: r.SaleItemID,
			OperatorID: r.OperatorID,
			Quantity:   r.Quantity,
			Type:       string(r.Type),
			Note:       r.Note,
			Amount:     r.Amount,
			CreatedAt:  formatTime(r.CreatedAt),
		}
	}
	return dto
}

func toRefundResultDTO(r sale.RefundResult) RefundResultDTO {
	return RefundResultDTO{
		SaleID:         r.SaleID,
		Status:         string(r.Status),
		Refunded:       r.Refunded,
		Credited:       r.Credited,
		RefundedAmount: r.RefundedAmount,
		CreditedAmount: r.CreditedAmount,
	}
}

func toStockMovementDTO(mv inventory.StockMovement) StockMovementDTO {
	return StockMovementDTO{
		ID:         mv.ID,
		ProductID:  mv.ProductID,
		Delta:      mv.Delta,
		Balance:    mv.Balance,
		Reason:     string(mv.Reason),
		RefType:    mv.RefType,
		RefID:      mv.RefID,
		OperatorID: mv.OperatorID,
		Note:       mv.Note,
		CreatedAt:  formatTime(mv.CreatedAt),
	}
}

func toAuditEntryDTO(e sale.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:          e.ID,
		OperatorID:  e.OperatorID,
		Action:      e.Action,
		EntityType:  e.EntityType,
		EntityID:    e.EntityID,
		Description: e.Description,
		CreatedAt:   formatTime(e.CreatedAt),
	}
}

func toPaginationDTO(p sale.Pagination) PaginationDTO {
	return PaginationDTO{Page: p.Page, PerPage: p.PerPage, Total: p.Total, TotalPages: p.TotalPages}
}
