package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/festival-ticketing/internal/model"
)

const ticketColumns = `id, ticket_code, ticket_type_id, owner_id, order_id, status, qr_version, is_comp,
	seat_block_id, seat_row, seat_number, event_date, companion_of, used_at, issued_at, updated_at`

func scanTicket(row rowScanner) (*model.Ticket, error) {
	var (
		t         model.Ticket
		status    string
		orderID   sql.NullString
		blockID   sql.NullString
		seatRow   sql.NullString
		seatNo    sql.NullInt64
		eventDate sql.NullTime
		companion sql.NullString
		usedAt    sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.Code, &t.TicketTypeID, &t.OwnerID, &orderID, &status, &t.QRVersion, &t.IsComp,
		&blockID, &seatRow, &seatNo, &eventDate, &companion, &usedAt, &t.IssuedAt, &t.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	t.Status = model.TicketStatus(status)
	t.OrderID = strPtr(orderID)
	t.CompanionOf = strPtr(companion)
	t.UsedAt = timePtr(usedAt)
	if blockID.Valid {
		t.Seat = &model.SeatAssignment{
			BlockID:   blockID.String,
			Row:       seatRow.String,
			Seat:      int(seatNo.Int64),
			EventDate: eventDate.Time,
		}
	}
	return &t, nil
}

// InsertTicket fails with ErrDuplicate on a ticket_code collision.
func (q *sqlTx) InsertTicket(ctx context.Context, t *model.Ticket) error {
	var (
		blockID, seatRow sql.NullString
		seatNo           sql.NullInt64
		eventDate        sql.NullString
	)
	if t.Seat != nil {
		blockID = sql.NullString{String: t.Seat.BlockID, Valid: true}
		seatRow = sql.NullString{String: t.Seat.Row, Valid: true}
		seatNo = sql.NullInt64{Int64: int64(t.Seat.Seat), Valid: true}
		eventDate = sql.NullString{String: dateArg(t.Seat.EventDate), Valid: true}
	}
	if t.IssuedAt.IsZero() {
		t.IssuedAt = time.Now().UTC()
	}
	t.UpdatedAt = t.IssuedAt
	_, err := q.exec(ctx, `INSERT INTO tickets (`+ticketColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Code, t.TicketTypeID, t.OwnerID, nullStr(t.OrderID), string(t.Status), t.QRVersion, t.IsComp,
		blockID, seatRow, seatNo, eventDate, nullStr(t.CompanionOf), nullTime(t.UsedAt), t.IssuedAt.UTC(), t.UpdatedAt.UTC())
	return err
}

func (q *sqlTx) GetTicket(ctx context.Context, id string) (*model.Ticket, error) {
	return scanTicket(q.tx.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id))
}

func (q *sqlTx) GetTicketByCode(ctx context.Context, code string) (*model.Ticket, error) {
	return scanTicket(q.tx.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_code = ?`, code))
}

func (q *sqlTx) LockTicket(ctx context.Context, id string) (*model.Ticket, error) {
	return scanTicket(q.tx.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = ? FOR UPDATE`, id))
}

// LockTicketByCodeNoWait is the gate's lock: MySQL answers 3572 at once
// instead of queueing behind a concurrent scan of the same ticket.
func (q *sqlTx) LockTicketByCodeNoWait(ctx context.Context, code string) (*model.Ticket, error) {
	return scanTicket(q.tx.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE ticket_code = ? FOR UPDATE NOWAIT`, code))
}

func (q *sqlTx) UpdateTicket(ctx context.Context, t *model.Ticket) error {
	t.UpdatedAt = time.Now().UTC()
	_, err := q.exec(ctx, `UPDATE tickets SET ticket_type_id = ?, owner_id = ?, status = ?, qr_version = ?,
		used_at = ?, updated_at = ? WHERE id = ?`,
		t.TicketTypeID, t.OwnerID, string(t.Status), t.QRVersion, nullTime(t.UsedAt), t.UpdatedAt, t.ID)
	return err
}

func (q *sqlTx) ListTicketsByOrder(ctx context.Context, orderID string) ([]model.Ticket, error) {
	rows, err := q.tx.QueryContext(ctx, `SELECT `+ticketColumns+` FROM tickets
		WHERE order_id = ? ORDER BY issued_at, ticket_code`, orderID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var out []model.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, mapError(rows.Err())
}
