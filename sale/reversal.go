/*
reversal.go - Full cancellation and per-line refund/credit

CANCEL:
  Only a completed sale can be cancelled. Everything the sale still holds is
  returned: serialized units not yet released by a refund go back to stock,
  and each product gets back quantity minus what refund-type reversals already
  restocked. One cancel movement per product.

REFUND:
  A batch of lines {item, quantity, refund|credit}. The whole batch is
  validated before anything is written; one bad line aborts all of them.

    amount = round2(unit_price × quantity)

  Both types release serialized units. Only refund-type lines return bulk
  product stock; a credit leaves the goods with the customer. The sale
  becomes refunded once every item is fully refunded.

INVARIANTS:
  - refunded_quantity <= quantity (the store increment is conditional too)
  - Σ amount of refund-type rows == Sale.RefundedAmount, same for credits
*/
package sale

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/sale-engine/inventory"
)

// =============================================================================
// CANCEL
// =============================================================================

// CancelSale cancels a completed sale and returns its stock.
func (l *Ledger) CancelSale(ctx context.Context, in CancelInput) error {
	fields := logrus.Fields{"sale_id": in.SaleID, "operator_id": in.OperatorID}
	if in.OperatorID <= 0 {
		return l.fail("CancelSale", ErrOperatorRequired, fields)
	}

	now := l.now().UTC()
	err := l.store.WithTx(ctx, func(tx Tx) error {
		s, err := l.lockCompleted(ctx, tx, in.SaleID)
		if err != nil {
			return err
		}
		items, err := tx.ListSaleItems(ctx, s.ID)
		if err != nil {
			return err
		}
		restocked, err := tx.RestockedQuantities(ctx, s.ID)
		if err != nil {
			return err
		}

		demand := inventory.Demand{}
		for _, item := range items {
			if item.UnitID != nil && item.RefundedQuantity == 0 {
				released, err := l.stock.ReleaseUnit(ctx, tx, *item.UnitID)
				if err != nil {
					return err
				}
				if !released {
					l.log.WithFields(fields).WithField("unit_id", *item.UnitID).
						Warn("serialized unit was not sold when cancelling")
				}
			}
			if item.ProductID != nil {
				if q := item.Quantity - restocked[item.ID]; q > 0 {
					demand.Add(*item.ProductID, q)
				}
			}
		}

		ref := inventory.Ref{Type: "sale", ID: s.ID, OperatorID: in.OperatorID, Note: in.Reason}
		if err := l.stock.Restock(ctx, tx, demand, inventory.ReasonCancel, ref); err != nil {
			return err
		}
		if err := tx.MarkSaleCancelled(ctx, s.ID, in.Reason, now); err != nil {
			return err
		}

		desc := fmt.Sprintf("Sale #%d cancelled: total %s", s.ID, s.Total.StringFixed(2))
		if in.Reason != "" {
			desc += ": " + in.Reason
		}
		return l.audit(ctx, tx, in.OperatorID, ActionSaleCancel, s.ID, desc)
	})
	if err != nil {
		return l.fail("CancelSale", err, fields)
	}

	l.log.WithFields(fields).Info("sale cancelled")
	return nil
}

// =============================================================================
// REFUND
// =============================================================================

// RefundSale reverses lines of a completed sale as refund or credit.
func (l *Ledger) RefundSale(ctx context.Context, in RefundInput) (RefundResult, error) {
	fields := logrus.Fields{"sale_id": in.SaleID, "operator_id": in.OperatorID}
	if in.OperatorID <= 0 {
		return RefundResult{}, l.fail("RefundSale", ErrOperatorRequired, fields)
	}

	now := l.now().UTC()
	var result RefundResult
	err := l.store.WithTx(ctx, func(tx Tx) error {
		s, err := l.lockCompleted(ctx, tx, in.SaleID)
		if err != nil {
			return err
		}
		items, err := tx.ListSaleItems(ctx, s.ID)
		if err != nil {
			return err
		}

		lines, requested, err := planRefund(items, in.Lines)
		if err != nil {
			return err
		}

		byID := make(map[int64]SaleItem, len(items))
		for _, item := range items {
			byID[item.ID] = item
		}

		batchRefund, batchCredit := decimal.Zero, decimal.Zero
		restock := inventory.Demand{}
		for _, ln := range lines {
			item := byID[ln.SaleItemID]
			amount := round2(item.UnitPrice.Mul(decimal.NewFromInt(int64(ln.Quantity))))

			if _, err := tx.InsertItemRefund(ctx, ItemRefund{
				SaleItemID: item.ID,
				OperatorID: in.OperatorID,
				Quantity:   ln.Quantity,
				Type:       ln.Type,
				Note:       ln.Note,
				Amount:     amount,
				CreatedAt:  now,
			}); err != nil {
				return err
			}
			ok, err := tx.AddRefundedQuantity(ctx, item.ID, ln.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				return &RefundQuantityError{SaleItemID: item.ID, Requested: ln.Quantity, Remaining: item.Remaining()}
			}

			if item.UnitID != nil {
				released, err := l.stock.ReleaseUnit(ctx, tx, *item.UnitID)
				if err != nil {
					return err
				}
				if !released {
					l.log.WithFields(fields).WithField("unit_id", *item.UnitID).
						Warn("serialized unit was not sold when refunding")
				}
			}

			switch ln.Type {
			case RefundTypeRefund:
				batchRefund = batchRefund.Add(amount)
				if item.ProductID != nil {
					restock.Add(*item.ProductID, ln.Quantity)
				}
			case RefundTypeCredit:
				batchCredit = batchCredit.Add(amount)
			}
		}

		ref := inventory.Ref{Type: "sale", ID: s.ID, OperatorID: in.OperatorID, Note: in.Note}
		if err := l.stock.Restock(ctx, tx, restock, inventory.ReasonRefund, ref); err != nil {
			return err
		}

		totalQty, totalRefunded := 0, 0
		for _, item := range items {
			totalQty += item.Quantity
			totalRefunded += item.RefundedQuantity + requested[item.ID]
		}
		status := StatusCompleted
		if totalRefunded == totalQty {
			status = StatusRefunded
		}

		note := s.RefundNote
		if in.Note != "" {
			note = in.Note
		}
		refunded := s.RefundedAmount.Add(batchRefund)
		credited := s.CreditedAmount.Add(batchCredit)
		if err := tx.UpdateSaleRefund(ctx, s.ID, status, refunded, credited, note, now); err != nil {
			return err
		}

		desc := fmt.Sprintf("Sale #%d refund: refunded %s, credited %s", s.ID, batchRefund.StringFixed(2), batchCredit.StringFixed(2))
		if in.Note != "" {
			desc += ": " + in.Note
		}
		if err := l.audit(ctx, tx, in.OperatorID, ActionSaleRefund, s.ID, desc); err != nil {
			return err
		}

		result = RefundResult{
			SaleID:         s.ID,
			Status:         status,
			Refunded:       batchRefund,
			Credited:       batchCredit,
			RefundedAmount: refunded,
			CreditedAmount: credited,
		}
		return nil
	})
	if err != nil {
		return RefundResult{}, l.fail("RefundSale", err, fields)
	}

	l.log.WithFields(fields).WithFields(logrus.Fields{
		"refunded": result.Refunded.StringFixed(2),
		"credited": result.Credited.StringFixed(2),
		"status":   result.Status,
	}).Info("sale refunded")
	return result, nil
}

// planRefund validates a refund batch against the sale's items and returns
// the normalized lines with the aggregated quantity per item. Without
// explicit lines it refunds the remainder of every item.
func planRefund(items []SaleItem, lines []RefundLine) ([]RefundLine, map[int64]int, error) {
	byID := make(map[int64]SaleItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	if len(lines) == 0 {
		for _, item := range items {
			if item.Remaining() > 0 {
				lines = append(lines, RefundLine{SaleItemID: item.ID, Quantity: item.Remaining(), Type: RefundTypeRefund})
			}
		}
		if len(lines) == 0 {
			return nil, nil, ErrNothingToRefund
		}
	}

	planned := make([]RefundLine, 0, len(lines))
	requested := make(map[int64]int, len(lines))
	for _, ln := range lines {
		item, ok := byID[ln.SaleItemID]
		if !ok {
			return nil, nil, fmt.Errorf("%w: item %d", ErrItemNotInSale, ln.SaleItemID)
		}
		if ln.Quantity < 1 {
			return nil, nil, fmt.Errorf("%w: refund of item %d must be at least 1, got %d", ErrInvalidQuantity, ln.SaleItemID, ln.Quantity)
		}
		if ln.Type == "" {
			ln.Type = RefundTypeRefund
		}
		if !ln.Type.Valid() {
			return nil, nil, fmt.Errorf("%w: %q", ErrInvalidRefundType, ln.Type)
		}
		requested[item.ID] += ln.Quantity
		if requested[item.ID] > item.Remaining() {
			return nil, nil, &RefundQuantityError{SaleItemID: item.ID, Requested: requested[item.ID], Remaining: item.Remaining()}
		}
		planned = append(planned, ln)
	}
	return planned, requested, nil
}

// lockCompleted loads and locks a sale that must exist and be completed.
func (l *Ledger) lockCompleted(ctx context.Context, tx Tx, saleID int64) (*Sale, error) {
	s, err := tx.GetSaleForUpdate(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("%w: %d", ErrSaleNotFound, saleID)
	}
	if s.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: sale %d is %s", ErrSaleNotCompleted, saleID, s.Status)
	}
	return s, nil
}
