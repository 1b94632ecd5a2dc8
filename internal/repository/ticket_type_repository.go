package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/festival-ticketing/internal/model"
)

const ticketTypeColumns = `id, slug, name, kind, price_cents, capacity, sold_count, valid_days,
	is_active, sale_starts_at, sale_ends_at, created_at`

func scanTicketType(row rowScanner) (*model.TicketType, error) {
	var (
		tt        model.TicketType
		kind      string
		capacity  sql.NullInt64
		validDays []byte
		starts    sql.NullTime
		ends      sql.NullTime
	)
	if err := row.Scan(&tt.ID, &tt.Slug, &tt.Name, &kind, &tt.PriceCents, &capacity, &tt.SoldCount,
		&validDays, &tt.IsActive, &starts, &ends, &tt.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	tt.Kind = model.TicketKind(kind)
	tt.Capacity = intPtr(capacity)
	tt.SaleStartsAt = timePtr(starts)
	tt.SaleEndsAt = timePtr(ends)
	if err := jsonScan(validDays, &tt.ValidDays); err != nil {
		return nil, err
	}
	return &tt, nil
}

func (q *sqlTx) GetTicketType(ctx context.Context, id string) (*model.TicketType, error) {
	return scanTicketType(q.tx.QueryRowContext(ctx,
		`SELECT `+ticketTypeColumns+` FROM ticket_types WHERE id = ?`, id))
}

func (q *sqlTx) GetTicketTypeBySlug(ctx context.Context, slug string) (*model.TicketType, error) {
	return scanTicketType(q.tx.QueryRowContext(ctx,
		`SELECT `+ticketTypeColumns+` FROM ticket_types WHERE slug = ?`, slug))
}

// LockTicketType locks the row guarding sold_count.
func (q *sqlTx) LockTicketType(ctx context.Context, id string) (*model.TicketType, error) {
	return scanTicketType(q.tx.QueryRowContext(ctx,
		`SELECT `+ticketTypeColumns+` FROM ticket_types WHERE id = ? FOR UPDATE`, id))
}

func (q *sqlTx) InsertTicketType(ctx context.Context, tt *model.TicketType) error {
	days, err := jsonArg(tt.ValidDays)
	if err != nil {
		return err
	}
	if tt.CreatedAt.IsZero() {
		tt.CreatedAt = time.Now().UTC()
	}
	_, err = q.exec(ctx, `INSERT INTO ticket_types (`+ticketTypeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tt.ID, tt.Slug, tt.Name, string(tt.Kind), tt.PriceCents, nullInt(tt.Capacity), tt.SoldCount,
		days, tt.IsActive, nullTime(tt.SaleStartsAt), nullTime(tt.SaleEndsAt), tt.CreatedAt)
	return err
}

func (q *sqlTx) UpdateTicketTypeSold(ctx context.Context, id string, soldCount int) error {
	_, err := q.exec(ctx, `UPDATE ticket_types SET sold_count = ? WHERE id = ?`, soldCount, id)
	return err
}
