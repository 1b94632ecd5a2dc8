package model

import "time"

type TransferStatus string

const (
	TransferPending   TransferStatus = "PENDING"
	TransferAccepted  TransferStatus = "ACCEPTED"
	TransferCancelled TransferStatus = "CANCELLED"
	TransferExpired   TransferStatus = "EXPIRED"
)

// TicketTransfer is a pending hand-off of a ticket to another person. Only
// the SHA-256 hash of the acceptance token is stored. Storage allows at most
// one PENDING transfer per ticket.
type TicketTransfer struct {
	ID         string         // ticket_transfers.id
	TicketID   string         // ticket_transfers.ticket_id
	FromUserID string         // ticket_transfers.from_user_id
	ToEmail    string         // ticket_transfers.to_email
	ToUserID   *string        // ticket_transfers.to_user_id
	TokenHash  string         // ticket_transfers.token_hash
	Status     TransferStatus // ticket_transfers.status
	ExpiresAt  time.Time      // ticket_transfers.expires_at
	CreatedAt  time.Time      // ticket_transfers.created_at
	ResolvedAt *time.Time     // ticket_transfers.resolved_at
}

func (t TicketTransfer) Expired(now time.Time) bool { return !now.Before(t.ExpiresAt) }

// Resolve closes the transfer with status s.
func (t *TicketTransfer) Resolve(s TransferStatus, now time.Time) {
	t.Status = s
	t.ResolvedAt = &now
}
