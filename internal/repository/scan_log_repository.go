package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/festival-ticketing/internal/model"
)

// InsertScanLog appends an audit row. Rows are never updated.
func (q *sqlTx) InsertScanLog(ctx context.Context, l *model.ScanLog) error {
	_, err := q.exec(ctx, `INSERT INTO scan_logs
		(id, ticket_id, code, result, message, scanner_id, gate, device_id, scanned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, nullStr(l.TicketID), l.Code, string(l.Result), l.Message, l.ScannerID, l.Gate, l.DeviceID,
		l.ScannedAt.UTC())
	return err
}

func (q *sqlTx) ListScanLogs(ctx context.Context, ticketID string) ([]model.ScanLog, error) {
	rows, err := q.tx.QueryContext(ctx, `SELECT id, ticket_id, code, result, message, scanner_id, gate, device_id, scanned_at
		FROM scan_logs WHERE ticket_id = ? ORDER BY scanned_at, id`, ticketID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var out []model.ScanLog
	for rows.Next() {
		var (
			l      model.ScanLog
			tid    sql.NullString
			result string
		)
		if err := rows.Scan(&l.ID, &tid, &l.Code, &result, &l.Message, &l.ScannerID, &l.Gate, &l.DeviceID, &l.ScannedAt); err != nil {
			return nil, mapError(err)
		}
		l.TicketID = strPtr(tid)
		l.Result = model.ScanResult(result)
		out = append(out, l)
	}
	return out, mapError(rows.Err())
}
