package model

import (
	"fmt"
	"time"
)

// TicketStatus is the state of an issued credential.
type TicketStatus string

const (
	TicketIssued          TicketStatus = "ISSUED"
	TicketTransferPending TicketStatus = "TRANSFER_PENDING"
	TicketUsed            TicketStatus = "USED"
	TicketCancelled       TicketStatus = "CANCELLED"
	TicketRefunded        TicketStatus = "REFUNDED"
)

var ticketTransitions = map[TicketStatus][]TicketStatus{
	TicketIssued:          {TicketTransferPending, TicketUsed, TicketCancelled, TicketRefunded},
	TicketTransferPending: {TicketIssued},
}

// CanTransitionTo reports whether the state machine allows s => to.
func (s TicketStatus) CanTransitionTo(to TicketStatus) bool {
	for _, next := range ticketTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s TicketStatus) Terminal() bool { return len(ticketTransitions[s]) == 0 }

// SeatAssignment ties a ticket to one amphitheater seat.
type SeatAssignment struct {
	BlockID   string    // tickets.seat_block_id
	Row       string    // tickets.seat_row
	Seat      int       // tickets.seat_number
	EventDate time.Time // tickets.event_date
}

// Label renders the seat, e.g. "C12".
func (a SeatAssignment) Label() string { return SeatRef{Row: a.Row, Seat: a.Seat}.Label() }

// Ticket is an issued credential. UsedAt is set exactly when Status is USED.
// QRVersion is embedded in signed QR payloads; bumping it invalidates every
// QR previously handed out for the ticket.
type Ticket struct {
	ID           string          // tickets.id
	Code         string          // tickets.ticket_code (unique)
	TicketTypeID string          // tickets.ticket_type_id
	OwnerID      string          // tickets.owner_id
	OrderID      *string         // tickets.order_id
	Status       TicketStatus    // tickets.status
	QRVersion    int             // tickets.qr_version
	IsComp       bool            // tickets.is_comp
	Seat         *SeatAssignment // seat columns, nil for general admission
	CompanionOf  *string         // tickets.companion_of (festival pass granted with a seat)
	UsedAt       *time.Time      // tickets.used_at
	IssuedAt     time.Time       // tickets.issued_at
	UpdatedAt    time.Time       // tickets.updated_at
}

// Transition moves the ticket to status to, or fails when the state machine
// forbids it.
func (t *Ticket) Transition(to TicketStatus, now time.Time) error {
	if !t.Status.CanTransitionTo(to) {
		return fmt.Errorf("ticket %s: %s -> %s not allowed", t.Code, t.Status, to)
	}
	t.Status = to
	if to == TicketUsed {
		t.UsedAt = &now
	}
	t.UpdatedAt = now
	return nil
}

// ValidOn reports whether the ticket admits on day. Seated tickets admit
// only on their event date; others follow their ticket type.
func (t Ticket) ValidOn(day string, tt TicketType) bool {
	if t.Seat != nil {
		return t.Seat.EventDate.Format(DateLayout) == day
	}
	return tt.ValidOn(day)
}
