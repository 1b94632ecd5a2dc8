package repository

import (
	"context"
	"time"

	"github.com/iliyamo/festival-ticketing/internal/model"
)

// Store runs units of work against the relational store. fn's returned
// error rolls the transaction back; a nil return commits it.
type Store interface {
	// WithTx runs fn in a read-write transaction.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	// View runs fn in a read-only transaction. Lock methods must not be used.
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of queries available inside one transaction. Methods named
// Lock* take an exclusive row lock held until the transaction ends; Get*
// and List* are plain reads.
type Tx interface {
	TicketTypeQueries
	SeatBlockQueries
	SeatHoldQueries
	OrderQueries
	TicketQueries
	TransferQueries
	UpgradeQueries
	ScanLogQueries
	PaymentEventQueries
	RefundQueries
	EventConfigQueries
}

type TicketTypeQueries interface {
	GetTicketType(ctx context.Context, id string) (*model.TicketType, error)
	GetTicketTypeBySlug(ctx context.Context, slug string) (*model.TicketType, error)
	LockTicketType(ctx context.Context, id string) (*model.TicketType, error)
	InsertTicketType(ctx context.Context, tt *model.TicketType) error
	UpdateTicketTypeSold(ctx context.Context, id string, soldCount int) error
}

type SeatBlockQueries interface {
	InsertSeatBlock(ctx context.Context, b *model.SeatBlock) error
	// ListSeatBlocks returns active blocks of a section on a date ordered by
	// row_start, seat_start.
	ListSeatBlocks(ctx context.Context, sectionID string, eventDate time.Time) ([]model.SeatBlock, error)
	// LockFirstAvailableBlock locks the first active block (row_start,
	// seat_start order) with at least qty available seats, blocking while
	// another transaction holds it.
	LockFirstAvailableBlock(ctx context.Context, sectionID string, eventDate time.Time, qty int) (*model.SeatBlock, error)
	LockSeatBlock(ctx context.Context, id string) (*model.SeatBlock, error)
	UpdateSeatBlockCounts(ctx context.Context, b *model.SeatBlock) error
	// TakenSeats lists seats of the block referenced by tickets that are not
	// cancelled or refunded, or by active holds that have not expired at now.
	TakenSeats(ctx context.Context, blockID string, now time.Time) ([]model.SeatRef, error)
}

// HoldFilter narrows ListExpiredHolds. Zero fields match everything.
type HoldFilter struct {
	SectionID string
	EventDate time.Time
	// ExcludeIDs drops holds a sweep has already given up on.
	ExcludeIDs []string
}

type SeatHoldQueries interface {
	InsertSeatHold(ctx context.Context, h *model.SeatHold) error
	GetSeatHold(ctx context.Context, id string) (*model.SeatHold, error)
	LockSeatHold(ctx context.Context, id string) (*model.SeatHold, error)
	UpdateSeatHold(ctx context.Context, h *model.SeatHold) error
	// ListExpiredHolds returns up to limit holds that are still active but
	// expired at now, oldest first.
	ListExpiredHolds(ctx context.Context, now time.Time, f HoldFilter, limit int) ([]model.SeatHold, error)
}

type OrderQueries interface {
	InsertOrder(ctx context.Context, o *model.Order) error
	// InsertOrderItems fails with ErrDuplicate when a hold is already part of
	// another order.
	InsertOrderItems(ctx context.Context, items []model.OrderItem) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*model.Order, error)
	LockOrder(ctx context.Context, id string) (*model.Order, error)
	UpdateOrder(ctx context.Context, o *model.Order) error
	ListOrderItems(ctx context.Context, orderID string) ([]model.OrderItem, error)
}

type TicketQueries interface {
	InsertTicket(ctx context.Context, t *model.Ticket) error
	GetTicket(ctx context.Context, id string) (*model.Ticket, error)
	GetTicketByCode(ctx context.Context, code string) (*model.Ticket, error)
	LockTicket(ctx context.Context, id string) (*model.Ticket, error)
	// LockTicketByCodeNoWait fails with ErrLockNotAvailable instead of
	// waiting when another transaction holds the row.
	LockTicketByCodeNoWait(ctx context.Context, code string) (*model.Ticket, error)
	UpdateTicket(ctx context.Context, t *model.Ticket) error
	ListTicketsByOrder(ctx context.Context, orderID string) ([]model.Ticket, error)
}

type TransferQueries interface {
	// InsertTransfer fails with ErrDuplicate when the ticket already has a
	// PENDING transfer.
	InsertTransfer(ctx context.Context, t *model.TicketTransfer) error
	LockTransfer(ctx context.Context, id string) (*model.TicketTransfer, error)
	LockTransferByTokenHash(ctx context.Context, hash string) (*model.TicketTransfer, error)
	GetPendingTransferByTicket(ctx context.Context, ticketID string) (*model.TicketTransfer, error)
	UpdateTransfer(ctx context.Context, t *model.TicketTransfer) error
	ListExpiredTransfers(ctx context.Context, now time.Time, limit int) ([]model.TicketTransfer, error)
}

type UpgradeQueries interface {
	// InsertUpgrade fails with ErrDuplicate when the ticket already has an
	// open upgrade.
	InsertUpgrade(ctx context.Context, u *model.TicketUpgrade) error
	LockUpgrade(ctx context.Context, id string) (*model.TicketUpgrade, error)
	UpdateUpgrade(ctx context.Context, u *model.TicketUpgrade) error
}

type ScanLogQueries interface {
	InsertScanLog(ctx context.Context, l *model.ScanLog) error
	ListScanLogs(ctx context.Context, ticketID string) ([]model.ScanLog, error)
}

type PaymentEventQueries interface {
	// InsertPaymentEvent fails with ErrDuplicate for a known provider event id.
	InsertPaymentEvent(ctx context.Context, e *model.PaymentEvent) error
	LockPaymentEvent(ctx context.Context, providerEventID string) (*model.PaymentEvent, error)
	UpdatePaymentEvent(ctx context.Context, e *model.PaymentEvent) error
}

type RefundQueries interface {
	InsertRefund(ctx context.Context, r *model.Refund) error
	GetRefundByProviderID(ctx context.Context, providerRefundID string) (*model.Refund, error)
}

type EventConfigQueries interface {
	// GetFeatureFlags returns ErrNotFound when no event_config row exists.
	GetFeatureFlags(ctx context.Context) (*model.FeatureFlags, error)
}
