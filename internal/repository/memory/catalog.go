package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/iliyamo/festival-ticketing/internal/model"
	"github.com/iliyamo/festival-ticketing/internal/repository"
)

func (t *txn) GetTicketType(_ context.Context, id string) (*model.TicketType, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.ticketType(id)
}

func (t *txn) ticketType(id string) (*model.TicketType, error) {
	tt, ok := t.s.ticketTypes[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	tt.ValidDays = slices.Clone(tt.ValidDays)
	return &tt, nil
}

func (t *txn) GetTicketTypeBySlug(_ context.Context, slug string) (*model.TicketType, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for id, tt := range t.s.ticketTypes {
		if tt.Slug == slug {
			return t.ticketType(id)
		}
	}
	return nil, repository.ErrNotFound
}

func (t *txn) LockTicketType(ctx context.Context, id string) (*model.TicketType, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.ticketTypes[id]; !ok {
		return nil, repository.ErrNotFound
	}
	if err := t.lock(ctx, "ticket_type:"+id, false); err != nil {
		return nil, err
	}
	return t.ticketType(id)
}

func (t *txn) InsertTicketType(_ context.Context, tt *model.TicketType) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.ticketTypes[tt.ID]; ok {
		return repository.ErrDuplicate
	}
	for _, other := range t.s.ticketTypes {
		if other.Slug == tt.Slug {
			return repository.ErrDuplicate
		}
	}
	row := *tt
	row.ValidDays = slices.Clone(tt.ValidDays)
	put(t, t.s.ticketTypes, tt.ID, row)
	return nil
}

func (t *txn) UpdateTicketTypeSold(_ context.Context, id string, soldCount int) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	tt, ok := t.s.ticketTypes[id]
	if !ok {
		return repository.ErrNotFound
	}
	if tt.Capacity != nil && soldCount > *tt.Capacity {
		return repository.ErrConstraint
	}
	tt.SoldCount = soldCount
	put(t, t.s.ticketTypes, id, tt)
	return nil
}

func (t *txn) InsertSeatBlock(_ context.Context, b *model.SeatBlock) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.blocks[b.ID]; ok {
		return repository.ErrDuplicate
	}
	if !b.Balanced() {
		return repository.ErrConstraint
	}
	put(t, t.s.blocks, b.ID, *b)
	return nil
}

func sameDay(a, b time.Time) bool {
	return a.Format(model.DateLayout) == b.Format(model.DateLayout)
}

// sectionBlocks returns active block ids of a section/date in row_start,
// seat_start order.
func (t *txn) sectionBlocks(sectionID string, eventDate time.Time) []model.SeatBlock {
	var out []model.SeatBlock
	for _, b := range t.s.blocks {
		if b.SectionID == sectionID && b.IsActive && sameDay(b.EventDate, eventDate) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RowStart != out[j].RowStart {
			return out[i].RowStart < out[j].RowStart
		}
		return out[i].SeatStart < out[j].SeatStart
	})
	return out
}

func (t *txn) ListSeatBlocks(_ context.Context, sectionID string, eventDate time.Time) ([]model.SeatBlock, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.sectionBlocks(sectionID, eventDate), nil
}

// LockFirstAvailableBlock waits for a candidate's lock and then re-reads it,
// the way an InnoDB locking read sees the latest committed row.
func (t *txn) LockFirstAvailableBlock(ctx context.Context, sectionID string, eventDate time.Time, qty int) (*model.SeatBlock, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, cand := range t.sectionBlocks(sectionID, eventDate) {
		if cand.AvailableSeats < qty {
			continue
		}
		if err := t.lock(ctx, "block:"+cand.ID, false); err != nil {
			return nil, err
		}
		cur := t.s.blocks[cand.ID]
		if cur.IsActive && cur.AvailableSeats >= qty {
			return &cur, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (t *txn) LockSeatBlock(ctx context.Context, id string) (*model.SeatBlock, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.blocks[id]; !ok {
		return nil, repository.ErrNotFound
	}
	if err := t.lock(ctx, "block:"+id, false); err != nil {
		return nil, err
	}
	b := t.s.blocks[id]
	return &b, nil
}

func (t *txn) UpdateSeatBlockCounts(_ context.Context, b *model.SeatBlock) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	cur, ok := t.s.blocks[b.ID]
	if !ok {
		return repository.ErrNotFound
	}
	cur.AvailableSeats, cur.HeldSeats, cur.SoldSeats = b.AvailableSeats, b.HeldSeats, b.SoldSeats
	if !cur.Balanced() {
		return repository.ErrConstraint
	}
	put(t, t.s.blocks, b.ID, cur)
	return nil
}

func (t *txn) TakenSeats(_ context.Context, blockID string, now time.Time) ([]model.SeatRef, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var taken []model.SeatRef
	for _, tk := range t.s.tickets {
		if tk.Seat == nil || tk.Seat.BlockID != blockID {
			continue
		}
		switch tk.Status {
		case model.TicketIssued, model.TicketTransferPending, model.TicketUsed:
			taken = append(taken, model.SeatRef{Row: tk.Seat.Row, Seat: tk.Seat.Seat})
		}
	}
	for _, h := range t.s.holds {
		if h.BlockID == blockID && h.Live(now) {
			taken = append(taken, h.AllocatedSeats...)
		}
	}
	return taken, nil
}

func (t *txn) InsertSeatHold(_ context.Context, h *model.SeatHold) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.holds[h.ID]; ok {
		return repository.ErrDuplicate
	}
	row := *h
	row.AllocatedSeats = slices.Clone(h.AllocatedSeats)
	put(t, t.s.holds, h.ID, row)
	return nil
}

func (t *txn) hold(id string) (*model.SeatHold, error) {
	h, ok := t.s.holds[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	h.AllocatedSeats = slices.Clone(h.AllocatedSeats)
	return &h, nil
}

func (t *txn) GetSeatHold(_ context.Context, id string) (*model.SeatHold, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.hold(id)
}

func (t *txn) LockSeatHold(ctx context.Context, id string) (*model.SeatHold, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.holds[id]; !ok {
		return nil, repository.ErrNotFound
	}
	if err := t.lock(ctx, "hold:"+id, false); err != nil {
		return nil, err
	}
	return t.hold(id)
}

func (t *txn) UpdateSeatHold(_ context.Context, h *model.SeatHold) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	cur, ok := t.s.holds[h.ID]
	if !ok {
		return repository.ErrNotFound
	}
	cur.IsActive, cur.CloseReason, cur.OrderID, cur.ClosedAt = h.IsActive, h.CloseReason, h.OrderID, h.ClosedAt
	put(t, t.s.holds, h.ID, cur)
	return nil
}

func (t *txn) ListExpiredHolds(_ context.Context, now time.Time, f repository.HoldFilter, limit int) ([]model.SeatHold, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var out []model.SeatHold
	for _, h := range t.s.holds {
		if !h.IsActive || !h.Expired(now) {
			continue
		}
		if f.SectionID != "" && h.SectionID != f.SectionID {
			continue
		}
		if !f.EventDate.IsZero() && !sameDay(h.EventDate, f.EventDate) {
			continue
		}
		if slices.Contains(f.ExcludeIDs, h.ID) {
			continue
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
