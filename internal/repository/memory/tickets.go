package memory

import (
	"context"
	"sort"
	"time"

	"github.com/iliyamo/festival-ticketing/internal/model"
	"github.com/iliyamo/festival-ticketing/internal/repository"
)

func (t *txn) InsertTicket(_ context.Context, tk *model.Ticket) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.tickets[tk.ID]; ok {
		return repository.ErrDuplicate
	}
	for _, other := range t.s.tickets {
		if other.Code == tk.Code {
			return repository.ErrDuplicate
		}
	}
	if _, ok := t.s.ticketTypes[tk.TicketTypeID]; !ok {
		return repository.ErrConstraint
	}
	if tk.IssuedAt.IsZero() {
		tk.IssuedAt = time.Now().UTC()
	}
	tk.UpdatedAt = tk.IssuedAt
	row := *tk
	put(t, t.s.tickets, tk.ID, row)
	return nil
}

func (t *txn) ticket(id string) (*model.Ticket, error) {
	tk, ok := t.s.tickets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if tk.Seat != nil {
		seat := *tk.Seat
		tk.Seat = &seat
	}
	return &tk, nil
}

func (t *txn) idByCode(code string) (string, bool) {
	for id, tk := range t.s.tickets {
		if tk.Code == code {
			return id, true
		}
	}
	return "", false
}

func (t *txn) GetTicket(_ context.Context, id string) (*model.Ticket, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.ticket(id)
}

func (t *txn) GetTicketByCode(_ context.Context, code string) (*model.Ticket, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	id, ok := t.idByCode(code)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return t.ticket(id)
}

func (t *txn) LockTicket(ctx context.Context, id string) (*model.Ticket, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.tickets[id]; !ok {
		return nil, repository.ErrNotFound
	}
	if err := t.lock(ctx, "ticket:"+id, false); err != nil {
		return nil, err
	}
	return t.ticket(id)
}

func (t *txn) LockTicketByCodeNoWait(ctx context.Context, code string) (*model.Ticket, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	id, ok := t.idByCode(code)
	if !ok {
		return nil, repository.ErrNotFound
	}
	if err := t.lock(ctx, "ticket:"+id, true); err != nil {
		return nil, err
	}
	return t.ticket(id)
}

func (t *txn) UpdateTicket(_ context.Context, tk *model.Ticket) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	cur, ok := t.s.tickets[tk.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if (tk.Status == model.TicketUsed) != (tk.UsedAt != nil) {
		return repository.ErrConstraint
	}
	cur.TicketTypeID = tk.TicketTypeID
	cur.OwnerID = tk.OwnerID
	cur.Status = tk.Status
	cur.QRVersion = tk.QRVersion
	cur.UsedAt = tk.UsedAt
	cur.UpdatedAt = time.Now().UTC()
	put(t, t.s.tickets, tk.ID, cur)
	return nil
}

func (t *txn) ListTicketsByOrder(_ context.Context, orderID string) ([]model.Ticket, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var out []model.Ticket
	for id, tk := range t.s.tickets {
		if tk.OrderID != nil && *tk.OrderID == orderID {
			cp, _ := t.ticket(id)
			out = append(out, *cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].IssuedAt.Before(out[j].IssuedAt)
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

func (t *txn) InsertTransfer(_ context.Context, tr *model.TicketTransfer) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.transfers[tr.ID]; ok {
		return repository.ErrDuplicate
	}
	for _, other := range t.s.transfers {
		if other.TokenHash == tr.TokenHash {
			return repository.ErrDuplicate
		}
		if tr.Status == model.TransferPending && other.Status == model.TransferPending && other.TicketID == tr.TicketID {
			return repository.ErrDuplicate
		}
	}
	put(t, t.s.transfers, tr.ID, *tr)
	return nil
}

func (t *txn) lockTransfer(ctx context.Context, id string) (*model.TicketTransfer, error) {
	if err := t.lock(ctx, "transfer:"+id, false); err != nil {
		return nil, err
	}
	tr := t.s.transfers[id]
	return &tr, nil
}

func (t *txn) LockTransfer(ctx context.Context, id string) (*model.TicketTransfer, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.transfers[id]; !ok {
		return nil, repository.ErrNotFound
	}
	return t.lockTransfer(ctx, id)
}

func (t *txn) LockTransferByTokenHash(ctx context.Context, hash string) (*model.TicketTransfer, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for id, tr := range t.s.transfers {
		if tr.TokenHash == hash {
			return t.lockTransfer(ctx, id)
		}
	}
	return nil, repository.ErrNotFound
}

func (t *txn) GetPendingTransferByTicket(_ context.Context, ticketID string) (*model.TicketTransfer, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, tr := range t.s.transfers {
		if tr.TicketID == ticketID && tr.Status == model.TransferPending {
			return &tr, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (t *txn) UpdateTransfer(_ context.Context, tr *model.TicketTransfer) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	cur, ok := t.s.transfers[tr.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if tr.Status == model.TransferPending && cur.Status != model.TransferPending {
		for id, other := range t.s.transfers {
			if id != tr.ID && other.TicketID == cur.TicketID && other.Status == model.TransferPending {
				return repository.ErrDuplicate
			}
		}
	}
	cur.Status, cur.ToUserID, cur.ResolvedAt = tr.Status, tr.ToUserID, tr.ResolvedAt
	put(t, t.s.transfers, tr.ID, cur)
	return nil
}

func (t *txn) ListExpiredTransfers(_ context.Context, now time.Time, limit int) ([]model.TicketTransfer, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var out []model.TicketTransfer
	for _, tr := range t.s.transfers {
		if tr.Status == model.TransferPending && tr.Expired(now) {
			out = append(out, tr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *txn) InsertUpgrade(_ context.Context, u *model.TicketUpgrade) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.upgrades[u.ID]; ok {
		return repository.ErrDuplicate
	}
	if u.Status.Open() {
		for _, other := range t.s.upgrades {
			if other.TicketID == u.TicketID && other.Status.Open() {
				return repository.ErrDuplicate
			}
		}
	}
	put(t, t.s.upgrades, u.ID, *u)
	return nil
}

func (t *txn) LockUpgrade(ctx context.Context, id string) (*model.TicketUpgrade, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.upgrades[id]; !ok {
		return nil, repository.ErrNotFound
	}
	if err := t.lock(ctx, "upgrade:"+id, false); err != nil {
		return nil, err
	}
	u := t.s.upgrades[id]
	return &u, nil
}

func (t *txn) UpdateUpgrade(_ context.Context, u *model.TicketUpgrade) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	cur, ok := t.s.upgrades[u.ID]
	if !ok {
		return repository.ErrNotFound
	}
	cur.Status, cur.PaymentReference, cur.CompletedAt = u.Status, u.PaymentReference, u.CompletedAt
	put(t, t.s.upgrades, u.ID, cur)
	return nil
}

func (t *txn) InsertScanLog(_ context.Context, l *model.ScanLog) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.scanLogs[l.ID]; ok {
		return repository.ErrDuplicate
	}
	t.s.seq++
	put(t, t.s.scanLogs, l.ID, scanEntry{seq: t.s.seq, log: *l})
	return nil
}

func (t *txn) ListScanLogs(_ context.Context, ticketID string) ([]model.ScanLog, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var entries []scanEntry
	for _, e := range t.s.scanLogs {
		if e.log.TicketID != nil && *e.log.TicketID == ticketID {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]model.ScanLog, len(entries))
	for i, e := range entries {
		out[i] = e.log
	}
	return out, nil
}
