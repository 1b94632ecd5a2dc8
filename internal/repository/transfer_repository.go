package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/festival-ticketing/internal/model"
)

const transferColumns = `id, ticket_id, from_user_id, to_email, to_user_id, token_hash, status,
	expires_at, created_at, resolved_at`

func scanTransfer(row rowScanner) (*model.TicketTransfer, error) {
	var (
		t        model.TicketTransfer
		toUser   sql.NullString
		status   string
		resolved sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.TicketID, &t.FromUserID, &t.ToEmail, &toUser, &t.TokenHash, &status,
		&t.ExpiresAt, &t.CreatedAt, &resolved); err != nil {
		return nil, notFound(err)
	}
	t.ToUserID = strPtr(toUser)
	t.Status = model.TransferStatus(status)
	t.ResolvedAt = timePtr(resolved)
	return &t, nil
}

// InsertTransfer relies on the unique generated column pending_ticket_id to
// reject a second PENDING transfer for the same ticket.
func (q *sqlTx) InsertTransfer(ctx context.Context, t *model.TicketTransfer) error {
	_, err := q.exec(ctx, `INSERT INTO ticket_transfers (`+transferColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TicketID, t.FromUserID, t.ToEmail, nullStr(t.ToUserID), t.TokenHash, string(t.Status),
		t.ExpiresAt.UTC(), t.CreatedAt.UTC(), nullTime(t.ResolvedAt))
	return err
}

func (q *sqlTx) LockTransfer(ctx context.Context, id string) (*model.TicketTransfer, error) {
	return scanTransfer(q.tx.QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM ticket_transfers WHERE id = ? FOR UPDATE`, id))
}

// LockTransferByTokenHash looks a transfer up by the hash of the presented
// token; the raw token is never stored.
func (q *sqlTx) LockTransferByTokenHash(ctx context.Context, hash string) (*model.TicketTransfer, error) {
	return scanTransfer(q.tx.QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM ticket_transfers WHERE token_hash = ? FOR UPDATE`, hash))
}

func (q *sqlTx) GetPendingTransferByTicket(ctx context.Context, ticketID string) (*model.TicketTransfer, error) {
	return scanTransfer(q.tx.QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM ticket_transfers WHERE ticket_id = ? AND status = 'PENDING'`, ticketID))
}

func (q *sqlTx) UpdateTransfer(ctx context.Context, t *model.TicketTransfer) error {
	_, err := q.exec(ctx, `UPDATE ticket_transfers SET status = ?, to_user_id = ?, resolved_at = ? WHERE id = ?`,
		string(t.Status), nullStr(t.ToUserID), nullTime(t.ResolvedAt), t.ID)
	return err
}

func (q *sqlTx) ListExpiredTransfers(ctx context.Context, now time.Time, limit int) ([]model.TicketTransfer, error) {
	rows, err := q.tx.QueryContext(ctx, `SELECT `+transferColumns+` FROM ticket_transfers
		WHERE status = 'PENDING' AND expires_at <= ? ORDER BY expires_at LIMIT ?`, now.UTC(), limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var out []model.TicketTransfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, mapError(rows.Err())
}
