package model

import "time"

type UpgradeStatus string

const (
	UpgradeCreated        UpgradeStatus = "CREATED"
	UpgradePaymentPending UpgradeStatus = "PAYMENT_PENDING"
	UpgradeCompleted      UpgradeStatus = "COMPLETED"
	UpgradeCancelled      UpgradeStatus = "CANCELLED"
	UpgradeComped         UpgradeStatus = "COMPED"
)

// Open reports whether the upgrade still awaits completion. Storage allows
// at most one open upgrade per ticket.
func (s UpgradeStatus) Open() bool {
	return s == UpgradeCreated || s == UpgradePaymentPending
}

// TicketUpgrade moves a ticket to a more expensive ticket type.
type TicketUpgrade struct {
	ID               string        // ticket_upgrades.id
	TicketID         string        // ticket_upgrades.ticket_id
	FromTypeID       string        // ticket_upgrades.from_type_id
	ToTypeID         string        // ticket_upgrades.to_type_id
	PriceDiffCents   int64         // ticket_upgrades.price_diff_cents
	Status           UpgradeStatus // ticket_upgrades.status
	PaymentReference *string       // ticket_upgrades.payment_reference
	CreatedAt        time.Time     // ticket_upgrades.created_at
	CompletedAt      *time.Time    // ticket_upgrades.completed_at
}
