package model

import "time"

// HoldCloseReason records why a hold stopped being active.
type HoldCloseReason string

const (
	HoldReleased  HoldCloseReason = "RELEASED"
	HoldExpired   HoldCloseReason = "EXPIRED"
	HoldConverted HoldCloseReason = "CONVERTED"
)

// SeatHold represents a temporary reservation of concrete seats in one
// block during checkout. Holds expire at ExpiresAt; an expired hold still
// marked active counts as expired for every reader and is closed by the
// reaper.
//
// Fields:
//
//	UserID/SessionKey – requester; at least one is set.
//	AllocatedSeats    – the seats this hold owns, Quantity entries.
//	CloseReason       – set together with IsActive=false.
type SeatHold struct {
	ID             string          // seat_holds.id
	BlockID        string          // seat_holds.block_id
	SectionID      string          // seat_holds.section_id
	EventDate      time.Time       // seat_holds.event_date
	UserID         string          // seat_holds.user_id
	SessionKey     string          // seat_holds.session_key
	Quantity       int             // seat_holds.quantity
	AllocatedSeats []SeatRef       // seat_holds.allocated_seats (JSON)
	PriceCents     int64           // seat_holds.price_cents (per seat, copied from the block)
	ExpiresAt      time.Time       // seat_holds.expires_at
	IsActive       bool            // seat_holds.is_active
	CloseReason    HoldCloseReason // seat_holds.close_reason
	OrderID        *string         // seat_holds.order_id (set on conversion)
	CreatedAt      time.Time       // seat_holds.created_at
	ClosedAt       *time.Time      // seat_holds.closed_at
}

// Expired reports whether the hold has lapsed at now.
func (h SeatHold) Expired(now time.Time) bool { return !now.Before(h.ExpiresAt) }

// Live reports whether the hold is active and not yet expired.
func (h SeatHold) Live(now time.Time) bool { return h.IsActive && !h.Expired(now) }

// Close deactivates the hold.
func (h *SeatHold) Close(reason HoldCloseReason, now time.Time) {
	h.IsActive = false
	h.CloseReason = reason
	h.ClosedAt = &now
}
