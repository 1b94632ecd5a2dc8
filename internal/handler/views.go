package handler

import (
	"time"

	"github.com/iliyamo/festival-ticketing/internal/model"
	"github.com/iliyamo/festival-ticketing/internal/service"
)

// Response shapes. Rows are mapped explicitly so storage columns never leak
// by accident.

type holdView struct {
	ID         string          `json:"id"`
	SectionID  string          `json:"section_id"`
	EventDate  string          `json:"event_date"`
	Quantity   int             `json:"quantity"`
	Seats      []model.SeatRef `json:"seats"`
	PriceCents int64           `json:"price_cents"`
	ExpiresAt  time.Time       `json:"expires_at"`
}

func toHoldView(h *model.SeatHold) holdView {
	return holdView{
		ID:         h.ID,
		SectionID:  h.SectionID,
		EventDate:  h.EventDate.Format(model.DateLayout),
		Quantity:   h.Quantity,
		Seats:      h.AllocatedSeats,
		PriceCents: h.PriceCents,
		ExpiresAt:  h.ExpiresAt,
	}
}

type ticketView struct {
	ID           string     `json:"id"`
	Code         string     `json:"code"`
	TicketTypeID string     `json:"ticket_type_id"`
	Status       string     `json:"status"`
	IsComp       bool       `json:"is_comp"`
	Seat         string     `json:"seat,omitempty"`
	EventDate    string     `json:"event_date,omitempty"`
	CompanionOf  *string    `json:"companion_of,omitempty"`
	UsedAt       *time.Time `json:"used_at,omitempty"`
	IssuedAt     time.Time  `json:"issued_at"`
}

func toTicketView(t model.Ticket) ticketView {
	v := ticketView{
		ID:           t.ID,
		Code:         t.Code,
		TicketTypeID: t.TicketTypeID,
		Status:       string(t.Status),
		IsComp:       t.IsComp,
		CompanionOf:  t.CompanionOf,
		UsedAt:       t.UsedAt,
		IssuedAt:     t.IssuedAt,
	}
	if t.Seat != nil {
		v.Seat = t.Seat.Label()
		v.EventDate = t.Seat.EventDate.Format(model.DateLayout)
	}
	return v
}

func toTicketViews(ts []model.Ticket) []ticketView {
	out := make([]ticketView, 0, len(ts))
	for _, t := range ts {
		out = append(out, toTicketView(t))
	}
	return out
}

type itemView struct {
	TicketTypeID   string  `json:"ticket_type_id"`
	HoldID         *string `json:"hold_id,omitempty"`
	Quantity       int     `json:"quantity"`
	UnitPriceCents int64   `json:"unit_price_cents"`
}

type orderView struct {
	ID                  string       `json:"id"`
	OrderNumber         string       `json:"order_number"`
	Status              string       `json:"status"`
	PaymentMethod       string       `json:"payment_method"`
	SubtotalCents       int64        `json:"subtotal_cents"`
	FeeCents            int64        `json:"fee_cents"`
	TotalCents          int64        `json:"total_cents"`
	RefundedCents       int64        `json:"refunded_cents"`
	NeedsReconciliation bool         `json:"needs_reconciliation"`
	PaidAt              *time.Time   `json:"paid_at,omitempty"`
	FinalizedAt         *time.Time   `json:"finalized_at,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	Items               []itemView   `json:"items,omitempty"`
	Tickets             []ticketView `json:"tickets,omitempty"`
}

func toOrderView(o *model.Order) orderView {
	return orderView{
		ID:                  o.ID,
		OrderNumber:         o.OrderNumber,
		Status:              string(o.Status),
		PaymentMethod:       string(o.PaymentMethod),
		SubtotalCents:       o.SubtotalCents,
		FeeCents:            o.FeeCents,
		TotalCents:          o.TotalCents,
		RefundedCents:       o.RefundedCents,
		NeedsReconciliation: o.NeedsReconciliation,
		PaidAt:              o.PaidAt,
		FinalizedAt:         o.FinalizedAt,
		CreatedAt:           o.CreatedAt,
	}
}

func toSummaryView(s *service.OrderSummary) orderView {
	v := toOrderView(&s.Order)
	for _, it := range s.Items {
		v.Items = append(v.Items, itemView{
			TicketTypeID:   it.TicketTypeID,
			HoldID:         it.HoldID,
			Quantity:       it.Quantity,
			UnitPriceCents: it.UnitPriceCents,
		})
	}
	v.Tickets = toTicketViews(s.Tickets)
	return v
}

type upgradeView struct {
	ID             string     `json:"id"`
	TicketID       string     `json:"ticket_id"`
	FromTypeID     string     `json:"from_type_id"`
	ToTypeID       string     `json:"to_type_id"`
	PriceDiffCents int64      `json:"price_diff_cents"`
	Status         string     `json:"status"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func toUpgradeView(u *model.TicketUpgrade) upgradeView {
	return upgradeView{
		ID:             u.ID,
		TicketID:       u.TicketID,
		FromTypeID:     u.FromTypeID,
		ToTypeID:       u.ToTypeID,
		PriceDiffCents: u.PriceDiffCents,
		Status:         string(u.Status),
		CompletedAt:    u.CompletedAt,
	}
}
