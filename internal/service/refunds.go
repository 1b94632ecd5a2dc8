package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/festival-ticketing/internal/logger"
	"github.com/iliyamo/festival-ticketing/internal/model"
	"github.com/iliyamo/festival-ticketing/internal/repository"
)

// RefundRequest is money returned by the provider for an order.
type RefundRequest struct {
	OrderID          string
	ProviderRefundID string
	AmountCents      int64
	// RefundedTotalCents is the provider's running total for the charge.
	// When AmountCents is zero the refund is whatever that total adds to
	// what the order already records.
	RefundedTotalCents int64
	Reason             string
}

// ApplyRefund records a refund once per provider refund id. A request
// carrying only a running total applies the difference, and nothing once
// the order has caught up. The amount is capped at what is left to refund.
// A full refund moves the order to REFUNDED and every ticket that was not
// used to REFUNDED, cancelling pending transfers on the way; anything less
// is PARTIALLY_REFUNDED.
func (f *Finalizer) ApplyRefund(ctx context.Context, req RefundRequest) (*model.Order, error) {
	if req.ProviderRefundID == "" || (req.AmountCents <= 0 && req.RefundedTotalCents <= 0) {
		return nil, fmt.Errorf("refund needs an id and a positive amount: %w", ErrInvalidState)
	}
	var out *model.Order
	refunded := 0
	err := f.Store.WithTx(ctx, func(tx repository.Tx) error {
		o, err := tx.LockOrder(ctx, req.OrderID)
		if err != nil {
			return err
		}
		out = o
		if _, err := tx.GetRefundByProviderID(ctx, req.ProviderRefundID); err == nil {
			return nil
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		amount := req.AmountCents
		if amount <= 0 {
			amount = req.RefundedTotalCents - o.RefundedCents
			if amount <= 0 {
				return nil
			}
		}
		if !o.Status.Refundable() {
			return fmt.Errorf("order %s is %s: %w", o.OrderNumber, o.Status, ErrInvalidState)
		}
		left := o.TotalCents - o.RefundedCents
		if left <= 0 {
			return fmt.Errorf("order %s fully refunded: %w", o.OrderNumber, ErrInvalidState)
		}
		amount = min(amount, left)
		now := f.Now()
		if err := tx.InsertRefund(ctx, &model.Refund{
			ID:               uuid.NewString(),
			OrderID:          o.ID,
			ProviderRefundID: req.ProviderRefundID,
			AmountCents:      amount,
			Reason:           req.Reason,
			CreatedAt:        now,
		}); err != nil {
			return err
		}
		o.RefundedCents += amount
		o.UpdatedAt = now
		if o.RefundedCents < o.TotalCents {
			o.Status = model.OrderPartiallyRefunded
			return tx.UpdateOrder(ctx, o)
		}
		o.Status = model.OrderRefunded
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		tickets, err := tx.ListTicketsByOrder(ctx, o.ID)
		if err != nil {
			return err
		}
		for _, t := range tickets {
			ok, err := f.refundTicket(ctx, tx, t.ID)
			if err != nil {
				return err
			}
			if ok {
				refunded++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.WithContext(ctx, f.Logger).Info("refund applied",
		zap.String("order_id", out.ID), zap.String("status", string(out.Status)), zap.Int("tickets_refunded", refunded))
	return out, nil
}

// refundTicket moves one ticket to REFUNDED, closing its pending transfer
// first. The transfer is locked before the ticket.
func (f *Finalizer) refundTicket(ctx context.Context, tx repository.Tx, ticketID string) (bool, error) {
	now := f.Now()
	if pending, err := tx.GetPendingTransferByTicket(ctx, ticketID); err == nil {
		tr, err := tx.LockTransfer(ctx, pending.ID)
		if err != nil {
			return false, err
		}
		t, err := tx.LockTicket(ctx, ticketID)
		if err != nil {
			return false, err
		}
		if tr.Status == model.TransferPending {
			if err := f.life.closeTransfer(ctx, tx, tr, t, model.TransferCancelled, now); err != nil {
				return false, err
			}
		}
	} else if !errors.Is(err, repository.ErrNotFound) {
		return false, err
	}
	t, err := tx.LockTicket(ctx, ticketID)
	if err != nil {
		return false, err
	}
	if t.Status != model.TicketIssued {
		return false, nil
	}
	if err := t.Transition(model.TicketRefunded, now); err != nil {
		return false, err
	}
	return true, tx.UpdateTicket(ctx, t)
}
