package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/festival-ticketing/internal/model"
)

// InsertPaymentEvent records a provider event id; the primary key turns a
// replayed webhook into ErrDuplicate.
func (q *sqlTx) InsertPaymentEvent(ctx context.Context, e *model.PaymentEvent) error {
	_, err := q.exec(ctx, `INSERT INTO payment_events
		(provider_event_id, type, order_id, processed, processing_error, received_at, attempted_at, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ProviderEventID, e.Type, e.OrderID, e.Processed, e.ProcessingError, e.ReceivedAt.UTC(), e.AttemptedAt.UTC(),
		nullTime(e.ProcessedAt))
	return err
}

func (q *sqlTx) LockPaymentEvent(ctx context.Context, providerEventID string) (*model.PaymentEvent, error) {
	var (
		e         model.PaymentEvent
		processed sql.NullTime
	)
	err := q.tx.QueryRowContext(ctx, `SELECT provider_event_id, type, order_id, processed, processing_error,
		received_at, attempted_at, processed_at FROM payment_events WHERE provider_event_id = ? FOR UPDATE`, providerEventID).
		Scan(&e.ProviderEventID, &e.Type, &e.OrderID, &e.Processed, &e.ProcessingError, &e.ReceivedAt, &e.AttemptedAt, &processed)
	if err != nil {
		return nil, notFound(err)
	}
	e.ProcessedAt = timePtr(processed)
	return &e, nil
}

func (q *sqlTx) UpdatePaymentEvent(ctx context.Context, e *model.PaymentEvent) error {
	_, err := q.exec(ctx, `UPDATE payment_events SET processed = ?, processing_error = ?, attempted_at = ?, processed_at = ?
		WHERE provider_event_id = ?`, e.Processed, e.ProcessingError, e.AttemptedAt.UTC(), nullTime(e.ProcessedAt), e.ProviderEventID)
	return err
}

// InsertRefund fails with ErrDuplicate for a provider refund id seen before.
func (q *sqlTx) InsertRefund(ctx context.Context, r *model.Refund) error {
	_, err := q.exec(ctx, `INSERT INTO refunds (id, order_id, provider_refund_id, amount_cents, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`, r.ID, r.OrderID, r.ProviderRefundID, r.AmountCents, r.Reason, r.CreatedAt.UTC())
	return err
}

func (q *sqlTx) GetRefundByProviderID(ctx context.Context, providerRefundID string) (*model.Refund, error) {
	var r model.Refund
	err := q.tx.QueryRowContext(ctx, `SELECT id, order_id, provider_refund_id, amount_cents, reason, created_at
		FROM refunds WHERE provider_refund_id = ?`, providerRefundID).
		Scan(&r.ID, &r.OrderID, &r.ProviderRefundID, &r.AmountCents, &r.Reason, &r.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

// GetFeatureFlags reads the single event_config row.
func (q *sqlTx) GetFeatureFlags(ctx context.Context) (*model.FeatureFlags, error) {
	var f model.FeatureFlags
	err := q.tx.QueryRowContext(ctx, `SELECT ticket_sales_enabled, transfer_enabled, upgrade_enabled,
		refunds_enabled, scanning_enabled FROM event_config WHERE id = 1`).
		Scan(&f.TicketSalesEnabled, &f.TransferEnabled, &f.UpgradeEnabled, &f.RefundsEnabled, &f.ScanningEnabled)
	if err != nil {
		return nil, notFound(err)
	}
	return &f, nil
}
