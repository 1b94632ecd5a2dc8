package model

import "time"

// Payment event types understood by the finalizer. They follow the
// provider's naming.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
	EventChargeRefunded   = "charge.refunded"
)

// PaymentEvent is the dedup record for one provider callback, keyed by the
// provider's event id. It is inserted and committed before processing.
type PaymentEvent struct {
	ProviderEventID string     // payment_events.provider_event_id
	Type            string     // payment_events.type
	OrderID         string     // payment_events.order_id
	Processed       bool       // payment_events.processed
	ProcessingError string     // payment_events.processing_error
	ReceivedAt      time.Time  // payment_events.received_at
	AttemptedAt     time.Time  // payment_events.attempted_at, start of the current processing attempt
	ProcessedAt     *time.Time // payment_events.processed_at
}

// Refund records money returned for an order, unique per provider refund id.
type Refund struct {
	ID               string    // refunds.id
	OrderID          string    // refunds.order_id
	ProviderRefundID string    // refunds.provider_refund_id
	AmountCents      int64     // refunds.amount_cents
	Reason           string    // refunds.reason
	CreatedAt        time.Time // refunds.created_at
}

// FeatureFlags is a read-once snapshot of the event's switches, passed
// explicitly to whatever needs it.
type FeatureFlags struct {
	TicketSalesEnabled bool `json:"ticket_sales_enabled"`
	TransferEnabled    bool `json:"transfer_enabled"`
	UpgradeEnabled     bool `json:"upgrade_enabled"`
	RefundsEnabled     bool `json:"refunds_enabled"`
	ScanningEnabled    bool `json:"scanning_enabled"`
}

// AllFeatures has every switch on.
func AllFeatures() FeatureFlags {
	return FeatureFlags{true, true, true, true, true}
}
