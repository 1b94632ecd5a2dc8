package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/festival-ticketing/internal/logger"
	"github.com/iliyamo/festival-ticketing/internal/model"
	"github.com/iliyamo/festival-ticketing/internal/repository"
)

// PaymentEventInput is one provider callback, already authenticated.
type PaymentEventInput struct {
	ProviderEventID  string
	Type             string
	OrderID          string
	PaymentReference string
	// Refund fields, set for charge.refunded.
	ProviderRefundID   string
	AmountCents        int64
	RefundedTotalCents int64
	Reason             string
}

// EventOutcome says what HandlePaymentEvent did.
type EventOutcome string

const (
	OutcomeProcessed      EventOutcome = "processed"
	OutcomeDuplicate      EventOutcome = "duplicate"
	OutcomeIgnored        EventOutcome = "ignored"
	OutcomeReconciliation EventOutcome = "reconciliation_required"
	// OutcomeInFlight means another delivery of the same event is still
	// being processed; the provider should redeliver later.
	OutcomeInFlight EventOutcome = "in_flight"
)

// paymentEventLease is how long an unfinished attempt keeps replays away.
// An attempt older than that is taken to have died and may be claimed again.
const paymentEventLease = 2 * time.Minute

// HandlePaymentEvent applies a provider event at most once per event id.
// The dedup row is committed before any processing, so a replay that
// arrives while the first delivery is still running gets OutcomeInFlight
// without touching the order. Replays of a processed event get
// OutcomeDuplicate. An event whose earlier attempt failed, or whose attempt
// outlived paymentEventLease, is claimed and processed again.
func (f *Finalizer) HandlePaymentEvent(ctx context.Context, in PaymentEventInput) (EventOutcome, error) {
	if in.ProviderEventID == "" {
		return "", fmt.Errorf("payment event without id: %w", ErrInvalidState)
	}
	l := logger.WithContext(ctx, f.Logger).With(
		zap.String("event_id", in.ProviderEventID), zap.String("type", in.Type), zap.String("order_id", in.OrderID))

	now := f.Now()
	err := f.Store.WithTx(ctx, func(tx repository.Tx) error {
		return tx.InsertPaymentEvent(ctx, &model.PaymentEvent{
			ProviderEventID: in.ProviderEventID,
			Type:            in.Type,
			OrderID:         in.OrderID,
			ReceivedAt:      now,
			AttemptedAt:     now,
		})
	})
	if errors.Is(err, repository.ErrDuplicate) {
		outcome, err := f.claimEvent(ctx, in.ProviderEventID, now)
		if err != nil {
			return "", err
		}
		switch outcome {
		case OutcomeDuplicate:
			l.Info("duplicate payment event skipped")
			return outcome, nil
		case OutcomeInFlight:
			l.Info("payment event already being processed")
			return outcome, nil
		}
		l.Info("retrying payment event")
	} else if err != nil {
		return "", err
	}

	outcome, perr := f.dispatch(ctx, in)
	if errors.Is(perr, ErrReconciliationRequired) {
		outcome = OutcomeReconciliation
	}
	processed := perr == nil || outcome == OutcomeReconciliation
	if err := f.markEvent(ctx, in.ProviderEventID, processed, perr); err != nil {
		return "", err
	}
	if !processed {
		l.Warn("payment event processing failed", zap.Error(perr))
		return "", perr
	}
	return outcome, nil
}

// claimEvent decides what a replayed event id gets. It returns an empty
// outcome when the caller now owns a fresh attempt.
func (f *Finalizer) claimEvent(ctx context.Context, eventID string, now time.Time) (EventOutcome, error) {
	var outcome EventOutcome
	err := f.Store.WithTx(ctx, func(tx repository.Tx) error {
		e, err := tx.LockPaymentEvent(ctx, eventID)
		if err != nil {
			return err
		}
		switch {
		case e.Processed:
			outcome = OutcomeDuplicate
			return nil
		case e.ProcessingError == "" && now.Sub(e.AttemptedAt) < paymentEventLease:
			outcome = OutcomeInFlight
			return nil
		}
		e.ProcessingError = ""
		e.AttemptedAt = now
		return tx.UpdatePaymentEvent(ctx, e)
	})
	return outcome, err
}

func (f *Finalizer) dispatch(ctx context.Context, in PaymentEventInput) (EventOutcome, error) {
	switch in.Type {
	case model.EventPaymentSucceeded:
		_, err := f.Finalize(ctx, in.OrderID, in.PaymentReference)
		return OutcomeProcessed, err
	case model.EventPaymentFailed:
		_, err := f.FailOrder(ctx, in.OrderID, "payment failed")
		return OutcomeProcessed, err
	case model.EventChargeRefunded:
		_, err := f.ApplyRefund(ctx, RefundRequest{
			OrderID:            in.OrderID,
			ProviderRefundID:   in.ProviderRefundID,
			AmountCents:        in.AmountCents,
			RefundedTotalCents: in.RefundedTotalCents,
			Reason:             in.Reason,
		})
		return OutcomeProcessed, err
	}
	return OutcomeIgnored, nil
}

func (f *Finalizer) markEvent(ctx context.Context, eventID string, processed bool, cause error) error {
	return f.Store.WithTx(ctx, func(tx repository.Tx) error {
		e, err := tx.LockPaymentEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if e.Processed {
			return nil
		}
		e.Processed = processed
		e.ProcessingError = ""
		if cause != nil {
			e.ProcessingError = truncate(cause.Error(), 500)
		}
		if processed {
			now := f.Now()
			e.ProcessedAt = &now
		}
		return tx.UpdatePaymentEvent(ctx, e)
	})
}
