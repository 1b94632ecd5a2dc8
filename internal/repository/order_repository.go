package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/festival-ticketing/internal/model"
)

const orderColumns = `id, order_number, buyer_id, status, payment_method, idempotency_key, payment_reference,
	subtotal_cents, fee_cents, total_cents, refunded_cents, paid_at, finalized_at,
	needs_reconciliation, reconciliation_note, created_at, updated_at`

func scanOrder(row rowScanner) (*model.Order, error) {
	var (
		o         model.Order
		status    string
		method    string
		ref       sql.NullString
		paid      sql.NullTime
		finalized sql.NullTime
	)
	if err := row.Scan(&o.ID, &o.OrderNumber, &o.BuyerID, &status, &method, &o.IdempotencyKey, &ref,
		&o.SubtotalCents, &o.FeeCents, &o.TotalCents, &o.RefundedCents, &paid, &finalized,
		&o.NeedsReconciliation, &o.ReconciliationNote, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	o.Status = model.OrderStatus(status)
	o.PaymentMethod = model.PaymentMethod(method)
	o.PaymentReference = strPtr(ref)
	o.PaidAt = timePtr(paid)
	o.FinalizedAt = timePtr(finalized)
	return &o, nil
}

// InsertOrder fails with ErrDuplicate when the idempotency key is taken.
func (q *sqlTx) InsertOrder(ctx context.Context, o *model.Order) error {
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	_, err := q.exec(ctx, `INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.OrderNumber, o.BuyerID, string(o.Status), string(o.PaymentMethod), o.IdempotencyKey,
		nullStr(o.PaymentReference), o.SubtotalCents, o.FeeCents, o.TotalCents, o.RefundedCents,
		nullTime(o.PaidAt), nullTime(o.FinalizedAt), o.NeedsReconciliation, o.ReconciliationNote,
		o.CreatedAt, o.UpdatedAt)
	return err
}

// InsertOrderItems writes all lines with one multi-row INSERT.
func (q *sqlTx) InsertOrderItems(ctx context.Context, items []model.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO order_items (id, order_id, ticket_type_id, hold_id, quantity, unit_price_cents) VALUES `)
	args := make([]any, 0, len(items)*6)
	for i, it := range items {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?)")
		args = append(args, it.ID, it.OrderID, it.TicketTypeID, nullStr(it.HoldID), it.Quantity, it.UnitPriceCents)
	}
	_, err := q.exec(ctx, sb.String(), args...)
	return err
}

func (q *sqlTx) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return scanOrder(q.tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
}

func (q *sqlTx) GetOrderByIdempotencyKey(ctx context.Context, key string) (*model.Order, error) {
	return scanOrder(q.tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE idempotency_key = ?`, key))
}

// LockOrder serializes finalize, refund and cancel calls for one order.
func (q *sqlTx) LockOrder(ctx context.Context, id string) (*model.Order, error) {
	return scanOrder(q.tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ? FOR UPDATE`, id))
}

// UpdateOrder fails with ErrDuplicate when the payment reference already
// belongs to another order.
func (q *sqlTx) UpdateOrder(ctx context.Context, o *model.Order) error {
	o.UpdatedAt = time.Now().UTC()
	_, err := q.exec(ctx, `UPDATE orders SET status = ?, payment_reference = ?, refunded_cents = ?,
		paid_at = ?, finalized_at = ?, needs_reconciliation = ?, reconciliation_note = ?, updated_at = ?
		WHERE id = ?`,
		string(o.Status), nullStr(o.PaymentReference), o.RefundedCents, nullTime(o.PaidAt),
		nullTime(o.FinalizedAt), o.NeedsReconciliation, o.ReconciliationNote, o.UpdatedAt, o.ID)
	return err
}

func (q *sqlTx) ListOrderItems(ctx context.Context, orderID string) ([]model.OrderItem, error) {
	rows, err := q.tx.QueryContext(ctx, `SELECT id, order_id, ticket_type_id, hold_id, quantity, unit_price_cents
		FROM order_items WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var out []model.OrderItem
	for rows.Next() {
		var (
			it   model.OrderItem
			hold sql.NullString
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.TicketTypeID, &hold, &it.Quantity, &it.UnitPriceCents); err != nil {
			return nil, mapError(err)
		}
		it.HoldID = strPtr(hold)
		out = append(out, it)
	}
	return out, mapError(rows.Err())
}
