// Package queue defines message payloads exchanged over the message broker,
// the publisher used by the services and the notification consumer.
package queue

// Routing keys. Each doubles as the name of a durable queue.
const (
	RoutingOrderFinalized         = "order.finalized"
	RoutingReconciliationRequired = "order.reconciliation_required"
	RoutingTransferOffered        = "ticket.transfer_offered"
)

// OrderFinalizedEvent is published after an order's tickets are committed.
// It carries enough for the mailer to render confirmations without querying
// the primary database.
type OrderFinalizedEvent struct {
	OrderID     string   `json:"order_id"`
	OrderNumber string   `json:"order_number"`
	BuyerID     string   `json:"buyer_id"`
	Status      string   `json:"status"`
	TicketCodes []string `json:"ticket_codes"`
	Seats       []string `json:"seats"`
	TotalCents  int64    `json:"total_cents"`
	FinalizedAt string   `json:"finalized_at"`
}

// ReconciliationRequiredEvent is published when a paid order could not be
// honoured and needs a human.
type ReconciliationRequiredEvent struct {
	OrderID          string `json:"order_id"`
	OrderNumber      string `json:"order_number"`
	PaymentReference string `json:"payment_reference"`
	Cause            string `json:"cause"`
	FlaggedAt        string `json:"flagged_at"`
}

// TransferOfferedEvent tells the recipient a ticket is waiting. The raw
// token is never published; the sender shares it.
type TransferOfferedEvent struct {
	TransferID string `json:"transfer_id"`
	TicketCode string `json:"ticket_code"`
	FromUserID string `json:"from_user_id"`
	ToEmail    string `json:"to_email"`
	ExpiresAt  string `json:"expires_at"`
}
