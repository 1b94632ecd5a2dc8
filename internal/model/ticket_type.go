package model

import "time"

// DateLayout is the wire and storage format for event dates ("2026-06-19").
const DateLayout = "2006-01-02"

// TicketKind groups ticket types for display and reporting.
type TicketKind string

const (
	KindDayPass      TicketKind = "DAY_PASS"
	KindFestivalPass TicketKind = "FESTIVAL_PASS"
	KindVIP          TicketKind = "VIP"
	KindAmphitheater TicketKind = "AMPHITHEATER"
	KindComp         TicketKind = "COMP"
)

// TicketType is a purchasable category of festival credential.
//
// Fields:
//
//	Capacity   – nil means unlimited.
//	SoldCount  – incremented only by order finalization under a row lock.
//	ValidDays  – event dates (YYYY-MM-DD) the credential admits on; empty admits every day.
//	SaleStartsAt/SaleEndsAt – optional sale window.
type TicketType struct {
	ID           string     // ticket_types.id
	Slug         string     // ticket_types.slug (unique)
	Name         string     // ticket_types.name
	Kind         TicketKind // ticket_types.kind
	PriceCents   int64      // ticket_types.price_cents
	Capacity     *int       // ticket_types.capacity (nullable)
	SoldCount    int        // ticket_types.sold_count
	ValidDays    []string   // ticket_types.valid_days (JSON)
	IsActive     bool       // ticket_types.is_active
	SaleStartsAt *time.Time // ticket_types.sale_starts_at
	SaleEndsAt   *time.Time // ticket_types.sale_ends_at
	CreatedAt    time.Time  // ticket_types.created_at
}

// Remaining returns how many more tickets may be sold. ok is false when the
// type has no capacity limit.
func (t TicketType) Remaining() (n int, ok bool) {
	if t.Capacity == nil {
		return 0, false
	}
	n = *t.Capacity - t.SoldCount
	if n < 0 {
		n = 0
	}
	return n, true
}

// CanSell reports whether qty more tickets fit within capacity.
func (t TicketType) CanSell(qty int) bool {
	rem, limited := t.Remaining()
	return !limited || rem >= qty
}

// OnSale reports whether the type is active and inside its sale window at now.
func (t TicketType) OnSale(now time.Time) bool {
	if !t.IsActive {
		return false
	}
	if t.SaleStartsAt != nil && now.Before(*t.SaleStartsAt) {
		return false
	}
	if t.SaleEndsAt != nil && now.After(*t.SaleEndsAt) {
		return false
	}
	return true
}

// ValidOn reports whether the credential admits on day (formatted with
// DateLayout). An empty ValidDays list admits on every day.
func (t TicketType) ValidOn(day string) bool {
	if len(t.ValidDays) == 0 {
		return true
	}
	for _, d := range t.ValidDays {
		if d == day {
			return true
		}
	}
	return false
}
