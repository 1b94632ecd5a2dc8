package repository

import (
	"context"
	"time"

	"github.com/iliyamo/festival-ticketing/internal/model"
)

const seatBlockColumns = `id, section_id, section_name, event_date, row_start, row_end, seat_start, seat_end,
	total_seats, available_seats, held_seats, sold_seats, price_cents, is_active, updated_at`

func scanSeatBlock(row rowScanner) (*model.SeatBlock, error) {
	var b model.SeatBlock
	if err := row.Scan(&b.ID, &b.SectionID, &b.SectionName, &b.EventDate, &b.RowStart, &b.RowEnd,
		&b.SeatStart, &b.SeatEnd, &b.TotalSeats, &b.AvailableSeats, &b.HeldSeats, &b.SoldSeats,
		&b.PriceCents, &b.IsActive, &b.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func (q *sqlTx) InsertSeatBlock(ctx context.Context, b *model.SeatBlock) error {
	b.UpdatedAt = time.Now().UTC()
	_, err := q.exec(ctx, `INSERT INTO seat_blocks (`+seatBlockColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.SectionID, b.SectionName, dateArg(b.EventDate), b.RowStart, b.RowEnd, b.SeatStart, b.SeatEnd,
		b.TotalSeats, b.AvailableSeats, b.HeldSeats, b.SoldSeats, b.PriceCents, b.IsActive, b.UpdatedAt)
	return err
}

func (q *sqlTx) ListSeatBlocks(ctx context.Context, sectionID string, eventDate time.Time) ([]model.SeatBlock, error) {
	rows, err := q.tx.QueryContext(ctx, `SELECT `+seatBlockColumns+` FROM seat_blocks
		WHERE section_id = ? AND event_date = ? AND is_active = 1
		ORDER BY row_start, seat_start`, sectionID, dateArg(eventDate))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var out []model.SeatBlock
	for rows.Next() {
		b, err := scanSeatBlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, mapError(rows.Err())
}

// LockFirstAvailableBlock relies on InnoDB locking reads seeing the latest
// committed counters: a waiter re-evaluates available_seats >= qty once the
// previous holder commits, so it skips a block that no longer fits.
func (q *sqlTx) LockFirstAvailableBlock(ctx context.Context, sectionID string, eventDate time.Time, qty int) (*model.SeatBlock, error) {
	return scanSeatBlock(q.tx.QueryRowContext(ctx, `SELECT `+seatBlockColumns+` FROM seat_blocks
		WHERE section_id = ? AND event_date = ? AND is_active = 1 AND available_seats >= ?
		ORDER BY row_start, seat_start
		LIMIT 1
		FOR UPDATE`, sectionID, dateArg(eventDate), qty))
}

func (q *sqlTx) LockSeatBlock(ctx context.Context, id string) (*model.SeatBlock, error) {
	return scanSeatBlock(q.tx.QueryRowContext(ctx,
		`SELECT `+seatBlockColumns+` FROM seat_blocks WHERE id = ? FOR UPDATE`, id))
}

func (q *sqlTx) UpdateSeatBlockCounts(ctx context.Context, b *model.SeatBlock) error {
	b.UpdatedAt = time.Now().UTC()
	_, err := q.exec(ctx, `UPDATE seat_blocks
		SET available_seats = ?, held_seats = ?, sold_seats = ?, updated_at = ?
		WHERE id = ?`, b.AvailableSeats, b.HeldSeats, b.SoldSeats, b.UpdatedAt, b.ID)
	return err
}

func (q *sqlTx) TakenSeats(ctx context.Context, blockID string, now time.Time) ([]model.SeatRef, error) {
	var taken []model.SeatRef

	rows, err := q.tx.QueryContext(ctx, `SELECT seat_row, seat_number FROM tickets
		WHERE seat_block_id = ? AND status IN ('ISSUED', 'TRANSFER_PENDING', 'USED')`, blockID)
	if err != nil {
		return nil, mapError(err)
	}
	for rows.Next() {
		var s model.SeatRef
		if err := rows.Scan(&s.Row, &s.Seat); err != nil {
			rows.Close()
			return nil, mapError(err)
		}
		taken = append(taken, s)
	}
	if err := rows.Close(); err != nil {
		return nil, mapError(err)
	}

	holds, err := q.tx.QueryContext(ctx, `SELECT allocated_seats FROM seat_holds
		WHERE block_id = ? AND is_active = 1 AND expires_at > ?`, blockID, now.UTC())
	if err != nil {
		return nil, mapError(err)
	}
	defer holds.Close()
	for holds.Next() {
		var raw []byte
		if err := holds.Scan(&raw); err != nil {
			return nil, mapError(err)
		}
		var seats []model.SeatRef
		if err := jsonScan(raw, &seats); err != nil {
			return nil, err
		}
		taken = append(taken, seats...)
	}
	return taken, mapError(holds.Err())
}
