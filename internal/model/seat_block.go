package model

import (
	"fmt"
	"strings"
	"time"
)

// SeatRef identifies one seat inside a block.
type SeatRef struct {
	Row  string `json:"row"`
	Seat int    `json:"seat"`
}

// Label renders the seat the way gate staff read it, e.g. "C12".
func (s SeatRef) Label() string { return fmt.Sprintf("%s%d", s.Row, s.Seat) }

// SeatBlock is a contiguous range of seats in one section on one event date.
// Seats span rows RowStart..RowEnd and seat numbers SeatStart..SeatEnd.
//
// The counters always satisfy AvailableSeats + HeldSeats + SoldSeats ==
// TotalSeats; every change happens while the block row is locked.
type SeatBlock struct {
	ID             string    // seat_blocks.id
	SectionID      string    // seat_blocks.section_id
	SectionName    string    // seat_blocks.section_name
	EventDate      time.Time // seat_blocks.event_date (DATE)
	RowStart       string    // seat_blocks.row_start
	RowEnd         string    // seat_blocks.row_end
	SeatStart      int       // seat_blocks.seat_start
	SeatEnd        int       // seat_blocks.seat_end
	TotalSeats     int       // seat_blocks.total_seats
	AvailableSeats int       // seat_blocks.available_seats
	HeldSeats      int       // seat_blocks.held_seats
	SoldSeats      int       // seat_blocks.sold_seats
	PriceCents     int64     // seat_blocks.price_cents
	IsActive       bool      // seat_blocks.is_active
	UpdatedAt      time.Time // seat_blocks.updated_at
}

// Balanced reports whether the counter invariant holds.
func (b SeatBlock) Balanced() bool {
	return b.AvailableSeats >= 0 && b.HeldSeats >= 0 && b.SoldSeats >= 0 &&
		b.AvailableSeats+b.HeldSeats+b.SoldSeats == b.TotalSeats
}

// Hold moves qty seats from available to held.
func (b *SeatBlock) Hold(qty int) error {
	if qty <= 0 || b.AvailableSeats < qty {
		return fmt.Errorf("block %s: cannot hold %d of %d available", b.ID, qty, b.AvailableSeats)
	}
	b.AvailableSeats -= qty
	b.HeldSeats += qty
	return nil
}

// Release moves qty seats from held back to available.
func (b *SeatBlock) Release(qty int) error {
	if qty <= 0 || b.HeldSeats < qty {
		return fmt.Errorf("block %s: cannot release %d of %d held", b.ID, qty, b.HeldSeats)
	}
	b.HeldSeats -= qty
	b.AvailableSeats += qty
	return nil
}

// Sell moves qty seats from held to sold.
func (b *SeatBlock) Sell(qty int) error {
	if qty <= 0 || b.HeldSeats < qty {
		return fmt.Errorf("block %s: cannot sell %d of %d held", b.ID, qty, b.HeldSeats)
	}
	b.HeldSeats -= qty
	b.SoldSeats += qty
	return nil
}

// Seats lists every seat in the block in allocation order: row by row,
// lowest seat number first.
func (b SeatBlock) Seats() ([]SeatRef, error) {
	first, ok := RowLabelToIndex(b.RowStart)
	if !ok {
		return nil, fmt.Errorf("block %s: invalid row_start %q", b.ID, b.RowStart)
	}
	last, ok := RowLabelToIndex(b.RowEnd)
	if !ok || last < first {
		return nil, fmt.Errorf("block %s: invalid row_end %q", b.ID, b.RowEnd)
	}
	if b.SeatEnd < b.SeatStart {
		return nil, fmt.Errorf("block %s: invalid seat range %d-%d", b.ID, b.SeatStart, b.SeatEnd)
	}
	out := make([]SeatRef, 0, (last-first+1)*(b.SeatEnd-b.SeatStart+1))
	for r := first; r <= last; r++ {
		row := IndexToRowLabel(r)
		for s := b.SeatStart; s <= b.SeatEnd; s++ {
			out = append(out, SeatRef{Row: row, Seat: s})
		}
	}
	return out, nil
}

// IndexToRowLabel converts a zero-based index to a row label: 0 => A,
// 25 => Z, 26 => AA.
func IndexToRowLabel(i int) string {
	if i < 0 {
		return ""
	}
	res := []rune{}
	for {
		res = append(res, rune('A'+i%26))
		i = i/26 - 1
		if i < 0 {
			break
		}
	}
	for j, k := 0, len(res)-1; j < k; j, k = j+1, k-1 {
		res[j], res[k] = res[k], res[j]
	}
	return string(res)
}

// RowLabelToIndex is the inverse of IndexToRowLabel.
func RowLabelToIndex(label string) (int, bool) {
	s := strings.ToUpper(strings.TrimSpace(label))
	if s == "" {
		return -1, false
	}
	n := 0
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return -1, false
		}
		n = n*26 + int(r-'A'+1)
	}
	return n - 1, true
}
