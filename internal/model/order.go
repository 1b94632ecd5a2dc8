package model

import "time"

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderCreated           OrderStatus = "CREATED"
	OrderPaymentPending    OrderStatus = "PAYMENT_PENDING"
	OrderPaid              OrderStatus = "PAID"
	OrderFailed            OrderStatus = "FAILED"
	OrderCancelled         OrderStatus = "CANCELLED"
	OrderRefunded          OrderStatus = "REFUNDED"
	OrderPartiallyRefunded OrderStatus = "PARTIALLY_REFUNDED"
)

// Finalizable reports whether finalize may move an order out of s.
func (s OrderStatus) Finalizable() bool {
	return s == OrderCreated || s == OrderPaymentPending
}

// Refundable reports whether a refund may be applied in s.
func (s OrderStatus) Refundable() bool {
	return s == OrderPaid || s == OrderPartiallyRefunded
}

// PaymentMethod decides which status a finalized order lands in.
type PaymentMethod string

const (
	PaymentCard PaymentMethod = "CARD"
	// PaymentCash orders are issued at the box office and settled later, so
	// finalize leaves them in PAYMENT_PENDING until SettleCash.
	PaymentCash PaymentMethod = "CASH"
)

// Order is one purchase. IdempotencyKey is unique; PaymentReference is
// unique when set.
type Order struct {
	ID                  string        // orders.id
	OrderNumber         string        // orders.order_number
	BuyerID             string        // orders.buyer_id
	Status              OrderStatus   // orders.status
	PaymentMethod       PaymentMethod // orders.payment_method
	IdempotencyKey      string        // orders.idempotency_key
	PaymentReference    *string       // orders.payment_reference
	SubtotalCents       int64         // orders.subtotal_cents
	FeeCents            int64         // orders.fee_cents
	TotalCents          int64         // orders.total_cents
	RefundedCents       int64         // orders.refunded_cents
	PaidAt              *time.Time    // orders.paid_at
	FinalizedAt         *time.Time    // orders.finalized_at
	NeedsReconciliation bool          // orders.needs_reconciliation
	ReconciliationNote  string        // orders.reconciliation_note
	CreatedAt           time.Time     // orders.created_at
	UpdatedAt           time.Time     // orders.updated_at
}

// Finalized reports whether tickets have already been issued for the order.
func (o Order) Finalized() bool {
	return o.Status == OrderPaid || o.FinalizedAt != nil
}

// OrderItem is one line of an order: either Quantity tickets of a plain
// ticket type or the seats of a hold.
type OrderItem struct {
	ID             string  // order_items.id
	OrderID        string  // order_items.order_id
	TicketTypeID   string  // order_items.ticket_type_id
	HoldID         *string // order_items.hold_id
	Quantity       int     // order_items.quantity
	UnitPriceCents int64   // order_items.unit_price_cents
}

// LineTotal is Quantity * UnitPriceCents.
func (i OrderItem) LineTotal() int64 { return int64(i.Quantity) * i.UnitPriceCents }
