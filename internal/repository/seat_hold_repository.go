package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/festival-ticketing/internal/model"
)

const seatHoldColumns = `id, block_id, section_id, event_date, user_id, session_key, quantity, allocated_seats,
	price_cents, expires_at, is_active, close_reason, order_id, created_at, closed_at`

func scanSeatHold(row rowScanner) (*model.SeatHold, error) {
	var (
		h       model.SeatHold
		seats   []byte
		reason  string
		orderID sql.NullString
		closed  sql.NullTime
	)
	if err := row.Scan(&h.ID, &h.BlockID, &h.SectionID, &h.EventDate, &h.UserID, &h.SessionKey, &h.Quantity,
		&seats, &h.PriceCents, &h.ExpiresAt, &h.IsActive, &reason, &orderID, &h.CreatedAt, &closed); err != nil {
		return nil, notFound(err)
	}
	h.CloseReason = model.HoldCloseReason(reason)
	h.OrderID = strPtr(orderID)
	h.ClosedAt = timePtr(closed)
	if err := jsonScan(seats, &h.AllocatedSeats); err != nil {
		return nil, err
	}
	return &h, nil
}

// InsertSeatHold stores a new hold. Timestamps are written in UTC.
func (q *sqlTx) InsertSeatHold(ctx context.Context, h *model.SeatHold) error {
	seats, err := jsonArg(h.AllocatedSeats)
	if err != nil {
		return err
	}
	_, err = q.exec(ctx, `INSERT INTO seat_holds (`+seatHoldColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.BlockID, h.SectionID, dateArg(h.EventDate), h.UserID, h.SessionKey, h.Quantity, seats,
		h.PriceCents, h.ExpiresAt.UTC(), h.IsActive, string(h.CloseReason), nullStr(h.OrderID),
		h.CreatedAt.UTC(), nullTime(h.ClosedAt))
	return err
}

func (q *sqlTx) GetSeatHold(ctx context.Context, id string) (*model.SeatHold, error) {
	return scanSeatHold(q.tx.QueryRowContext(ctx,
		`SELECT `+seatHoldColumns+` FROM seat_holds WHERE id = ?`, id))
}

func (q *sqlTx) LockSeatHold(ctx context.Context, id string) (*model.SeatHold, error) {
	return scanSeatHold(q.tx.QueryRowContext(ctx,
		`SELECT `+seatHoldColumns+` FROM seat_holds WHERE id = ? FOR UPDATE`, id))
}

func (q *sqlTx) UpdateSeatHold(ctx context.Context, h *model.SeatHold) error {
	_, err := q.exec(ctx, `UPDATE seat_holds
		SET is_active = ?, close_reason = ?, order_id = ?, closed_at = ?
		WHERE id = ?`, h.IsActive, string(h.CloseReason), nullStr(h.OrderID), nullTime(h.ClosedAt), h.ID)
	return err
}

// ListExpiredHolds feeds the reaper. It reads without locks; the reaper
// re-checks each hold under the block lock.
func (q *sqlTx) ListExpiredHolds(ctx context.Context, now time.Time, f HoldFilter, limit int) ([]model.SeatHold, error) {
	query := `SELECT ` + seatHoldColumns + ` FROM seat_holds WHERE is_active = 1 AND expires_at <= ?`
	args := []any{now.UTC()}
	if f.SectionID != "" {
		query += ` AND section_id = ?`
		args = append(args, f.SectionID)
	}
	if !f.EventDate.IsZero() {
		query += ` AND event_date = ?`
		args = append(args, dateArg(f.EventDate))
	}
	if len(f.ExcludeIDs) > 0 {
		query += ` AND id NOT IN (?` + strings.Repeat(`, ?`, len(f.ExcludeIDs)-1) + `)`
		for _, id := range f.ExcludeIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY expires_at LIMIT ?`
	args = append(args, limit)

	rows, err := q.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var out []model.SeatHold
	for rows.Next() {
		h, err := scanSeatHold(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, mapError(rows.Err())
}
