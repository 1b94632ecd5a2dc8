package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/festival-ticketing/internal/model"
)

const upgradeColumns = `id, ticket_id, from_type_id, to_type_id, price_diff_cents, status, payment_reference,
	created_at, completed_at`

func scanUpgrade(row rowScanner) (*model.TicketUpgrade, error) {
	var (
		u         model.TicketUpgrade
		status    string
		ref       sql.NullString
		completed sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.TicketID, &u.FromTypeID, &u.ToTypeID, &u.PriceDiffCents, &status, &ref,
		&u.CreatedAt, &completed); err != nil {
		return nil, notFound(err)
	}
	u.Status = model.UpgradeStatus(status)
	u.PaymentReference = strPtr(ref)
	u.CompletedAt = timePtr(completed)
	return &u, nil
}

// InsertUpgrade relies on the unique generated column open_ticket_id to
// reject a second open upgrade for the same ticket.
func (q *sqlTx) InsertUpgrade(ctx context.Context, u *model.TicketUpgrade) error {
	_, err := q.exec(ctx, `INSERT INTO ticket_upgrades (`+upgradeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.TicketID, u.FromTypeID, u.ToTypeID, u.PriceDiffCents, string(u.Status),
		nullStr(u.PaymentReference), u.CreatedAt.UTC(), nullTime(u.CompletedAt))
	return err
}

func (q *sqlTx) LockUpgrade(ctx context.Context, id string) (*model.TicketUpgrade, error) {
	return scanUpgrade(q.tx.QueryRowContext(ctx,
		`SELECT `+upgradeColumns+` FROM ticket_upgrades WHERE id = ? FOR UPDATE`, id))
}

func (q *sqlTx) UpdateUpgrade(ctx context.Context, u *model.TicketUpgrade) error {
	_, err := q.exec(ctx, `UPDATE ticket_upgrades SET status = ?, payment_reference = ?, completed_at = ? WHERE id = ?`,
		string(u.Status), nullStr(u.PaymentReference), nullTime(u.CompletedAt), u.ID)
	return err
}
