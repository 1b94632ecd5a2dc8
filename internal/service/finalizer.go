package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/iliyamo/festival-ticketing/internal/logger"
	"github.com/iliyamo/festival-ticketing/internal/model"
	"github.com/iliyamo/festival-ticketing/internal/queue"
	"github.com/iliyamo/festival-ticketing/internal/repository"
	"github.com/iliyamo/festival-ticketing/internal/signer"
)

// DefaultServiceFeeBPS is the service fee in basis points (3%).
const DefaultServiceFeeBPS = 300

// FinalizerConfig tunes order handling.
type FinalizerConfig struct {
	ServiceFeeBPS int
	// GrantFestivalAccess issues a free festival day pass alongside every
	// amphitheater seat.
	GrantFestivalAccess bool
}

// Finalizer creates orders and turns confirmed payments into tickets
// exactly once.
//
// Lock order: order, then seat blocks and holds, then ticket types in id
// order.
type Finalizer struct {
	Deps
	alloc *Allocator
	life  *Lifecycle
	cfg   FinalizerConfig
}

func NewFinalizer(d Deps, alloc *Allocator, life *Lifecycle, cfg FinalizerConfig) *Finalizer {
	if cfg.ServiceFeeBPS < 0 {
		cfg.ServiceFeeBPS = 0
	}
	return &Finalizer{Deps: d.withDefaults(), alloc: alloc, life: life, cfg: cfg}
}

// LineRequest is one order line: Quantity tickets of TicketTypeID, or the
// seats of HoldID.
type LineRequest struct {
	TicketTypeID string `json:"ticket_type_id,omitempty"`
	HoldID       string `json:"hold_id,omitempty"`
	Quantity     int    `json:"quantity,omitempty" validate:"omitempty,min=1,max=20"`
}

// CreateOrderRequest opens an order. IdempotencyKey makes retries return
// the first order.
type CreateOrderRequest struct {
	BuyerID        string              `json:"-"`
	IdempotencyKey string              `json:"idempotency_key" validate:"required,max=128"`
	PaymentMethod  model.PaymentMethod `json:"payment_method" validate:"omitempty,oneof=CARD CASH"`
	Lines          []LineRequest       `json:"lines" validate:"required,min=1,max=10,dive"`
}

// OrderSummary is an order with its lines and issued tickets.
type OrderSummary struct {
	Order   model.Order       `json:"order"`
	Items   []model.OrderItem `json:"items"`
	Tickets []model.Ticket    `json:"tickets"`
}

// FinalizeResult is what Finalize returns. AlreadyFinalized is true when the
// call changed nothing.
type FinalizeResult struct {
	OrderSummary
	AlreadyFinalized bool `json:"already_finalized"`
}

func (f *Finalizer) summary(ctx context.Context, tx repository.Tx, o *model.Order) (*OrderSummary, error) {
	items, err := tx.ListOrderItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	tickets, err := tx.ListTicketsByOrder(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	return &OrderSummary{Order: *o, Items: items, Tickets: tickets}, nil
}

// GetOrder returns the buyer's order. An empty buyerID skips the ownership
// check.
func (f *Finalizer) GetOrder(ctx context.Context, orderID, buyerID string) (*OrderSummary, error) {
	var out *OrderSummary
	err := f.Store.View(ctx, func(tx repository.Tx) error {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if buyerID != "" && o.BuyerID != buyerID {
			return ErrForbidden
		}
		out, err = f.summary(ctx, tx, o)
		return err
	})
	return out, err
}

func (f *Finalizer) byKey(ctx context.Context, key, buyerID string) (*OrderSummary, error) {
	var out *OrderSummary
	err := f.Store.View(ctx, func(tx repository.Tx) error {
		o, err := tx.GetOrderByIdempotencyKey(ctx, key)
		if err != nil {
			return err
		}
		if o.BuyerID != buyerID {
			return fmt.Errorf("idempotency key reused by another buyer: %w", ErrInvalidState)
		}
		out, err = f.summary(ctx, tx, o)
		return err
	})
	return out, err
}

// CreateOrder validates the lines and prices the order. Plain lines must fit
// the type's remaining capacity and sale window; hold lines must reference
// a live hold of the buyer. Capacity is only taken at finalization.
func (f *Finalizer) CreateOrder(ctx context.Context, req CreateOrderRequest) (*OrderSummary, error) {
	if req.IdempotencyKey == "" || req.BuyerID == "" || len(req.Lines) == 0 {
		return nil, fmt.Errorf("incomplete order request: %w", ErrInvalidState)
	}
	if existing, err := f.byKey(ctx, req.IdempotencyKey, req.BuyerID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = model.PaymentCard
	}

	now := f.Now()
	order := &model.Order{
		ID:             uuid.NewString(),
		BuyerID:        req.BuyerID,
		Status:         model.OrderCreated,
		PaymentMethod:  req.PaymentMethod,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	var items []model.OrderItem
	err := f.Store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		if items, err = f.priceLines(ctx, tx, order, req.Lines, now); err != nil {
			return err
		}
		for _, it := range items {
			order.SubtotalCents += it.LineTotal()
		}
		order.FeeCents = (order.SubtotalCents*int64(f.cfg.ServiceFeeBPS) + 5000) / 10000
		order.TotalCents = order.SubtotalCents + order.FeeCents
		if order.OrderNumber, err = orderNumber(now); err != nil {
			return err
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		if err := tx.InsertOrderItems(ctx, items); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return fmt.Errorf("hold already belongs to an order: %w", ErrInvalidState)
			}
			return err
		}
		return nil
	})
	if errors.Is(err, repository.ErrDuplicate) {
		// A concurrent request with the same key won the insert.
		return f.byKey(ctx, req.IdempotencyKey, req.BuyerID)
	}
	if err != nil {
		return nil, err
	}
	return &OrderSummary{Order: *order, Items: items}, nil
}

func (f *Finalizer) priceLines(ctx context.Context, tx repository.Tx, order *model.Order, lines []LineRequest, now time.Time) ([]model.OrderItem, error) {
	items := make([]model.OrderItem, 0, len(lines))
	plain := make(map[string]int)
	for _, ln := range lines {
		switch {
		case ln.HoldID != "":
			h, err := tx.GetSeatHold(ctx, ln.HoldID)
			if err != nil {
				return nil, err
			}
			if h.UserID != order.BuyerID {
				return nil, ErrForbidden
			}
			if !h.Live(now) {
				return nil, fmt.Errorf("hold %s: %w", h.ID, ErrHoldExpired)
			}
			tt, err := f.dayType(ctx, tx, amphitheaterSlug(h.EventDate), model.KindAmphitheater, h.EventDate, h.PriceCents)
			if err != nil {
				return nil, err
			}
			holdID := h.ID
			items = append(items, model.OrderItem{
				ID: uuid.NewString(), OrderID: order.ID, TicketTypeID: tt.ID,
				HoldID: &holdID, Quantity: h.Quantity, UnitPriceCents: h.PriceCents,
			})
		case ln.TicketTypeID != "" && ln.Quantity > 0:
			plain[ln.TicketTypeID] += ln.Quantity
		default:
			return nil, fmt.Errorf("order line needs a hold or a ticket type and quantity: %w", ErrInvalidState)
		}
	}
	for _, id := range sortedKeys(plain) {
		tt, err := tx.LockTicketType(ctx, id)
		if err != nil {
			return nil, err
		}
		if !tt.OnSale(now) {
			return nil, fmt.Errorf("ticket type %s not on sale: %w", tt.Slug, ErrInvalidState)
		}
		if !tt.CanSell(plain[id]) {
			return nil, ErrInsufficientInventory
		}
		items = append(items, model.OrderItem{
			ID: uuid.NewString(), OrderID: order.ID, TicketTypeID: tt.ID,
			Quantity: plain[id], UnitPriceCents: tt.PriceCents,
		})
	}
	return items, nil
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func amphitheaterSlug(day time.Time) string {
	return "amphitheater-" + day.Format(model.DateLayout)
}

func festivalCompSlug(day time.Time) string {
	return "festival-day-" + day.Format(model.DateLayout) + "-comp"
}

// dayType returns the single-day ticket type with slug, creating it on
// first use.
func (f *Finalizer) dayType(ctx context.Context, tx repository.Tx, slug string, kind model.TicketKind, day time.Time, price int64) (*model.TicketType, error) {
	tt, err := tx.GetTicketTypeBySlug(ctx, slug)
	if err == nil || !errors.Is(err, repository.ErrNotFound) {
		return tt, err
	}
	name := "Amphitheater " + day.Format("Mon 2 Jan")
	if kind == model.KindComp {
		name = "Festival access " + day.Format("Mon 2 Jan")
	}
	tt = &model.TicketType{
		ID:         uuid.NewString(),
		Slug:       slug,
		Name:       name,
		Kind:       kind,
		PriceCents: price,
		ValidDays:  []string{day.Format(model.DateLayout)},
		IsActive:   true,
		CreatedAt:  f.Now(),
	}
	err = tx.InsertTicketType(ctx, tt)
	if errors.Is(err, repository.ErrDuplicate) {
		return tx.GetTicketTypeBySlug(ctx, slug)
	}
	if err != nil {
		return nil, err
	}
	return tt, nil
}

func orderNumber(now time.Time) (string, error) {
	code, err := signer.NewTicketCode()
	if err != nil {
		return "", err
	}
	return "FTK-" + now.Format("060102") + "-" + code[:6], nil
}

// AttachPayment records the provider reference of a started payment and
// moves the order to PAYMENT_PENDING.
func (f *Finalizer) AttachPayment(ctx context.Context, orderID, paymentRef string) (*model.Order, error) {
	if paymentRef == "" {
		return nil, fmt.Errorf("empty payment reference: %w", ErrInvalidState)
	}
	var out *model.Order
	err := f.Store.WithTx(ctx, func(tx repository.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		out = o
		if o.PaymentReference != nil {
			if *o.PaymentReference == paymentRef {
				return nil
			}
			return fmt.Errorf("order %s already has a payment: %w", o.OrderNumber, ErrInvalidState)
		}
		if o.Status != model.OrderCreated {
			return fmt.Errorf("order %s is %s: %w", o.OrderNumber, o.Status, ErrInvalidState)
		}
		o.Status = model.OrderPaymentPending
		o.PaymentReference = &paymentRef
		o.UpdatedAt = f.Now()
		if err := tx.UpdateOrder(ctx, o); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return fmt.Errorf("payment reference used by another order: %w", ErrInvalidState)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// reconcileError marks a failure that happens after money moved.
type reconcileError struct{ cause error }

func (e *reconcileError) Error() string { return e.cause.Error() }
func (e *reconcileError) Unwrap() error { return e.cause }

// Finalize issues the order's tickets. Calling it again for a finalized
// order returns the same tickets and changes nothing. Card orders end PAID;
// cash orders stay PAYMENT_PENDING with finalized_at set.
//
// If a hold cannot be converted or a ticket type is out of capacity, the
// whole issuance rolls back, the order is flagged for reconciliation in a
// separate transaction and ErrReconciliationRequired is returned.
func (f *Finalizer) Finalize(ctx context.Context, orderID, paymentRef string) (res *FinalizeResult, err error) {
	ctx, span := startSpan(ctx, "Finalizer.Finalize", attribute.String("order_id", orderID))
	defer func() { endSpan(span, err) }()

	var seatLabels []string
	converted := 0
	err = f.Store.WithTx(ctx, func(tx repository.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Finalized() {
			if paymentRef != "" && o.PaymentReference != nil && *o.PaymentReference != paymentRef {
				return fmt.Errorf("order %s paid with another reference: %w", o.OrderNumber, ErrInvalidState)
			}
			sum, err := f.summary(ctx, tx, o)
			if err != nil {
				return err
			}
			res = &FinalizeResult{OrderSummary: *sum, AlreadyFinalized: true}
			return nil
		}
		if !o.Status.Finalizable() {
			return fmt.Errorf("order %s is %s: %w", o.OrderNumber, o.Status, ErrInvalidState)
		}
		if o.NeedsReconciliation {
			return fmt.Errorf("order %s: %s: %w", o.OrderNumber, o.ReconciliationNote, ErrReconciliationRequired)
		}

		now := f.Now()
		if paymentRef != "" {
			o.PaymentReference = &paymentRef
		}
		if o.PaymentMethod == model.PaymentCash {
			o.Status = model.OrderPaymentPending
		} else {
			o.Status = model.OrderPaid
			o.PaidAt = &now
		}
		o.FinalizedAt = &now
		o.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, o); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return fmt.Errorf("payment reference used by another order: %w", ErrInvalidState)
			}
			return err
		}

		items, err := tx.ListOrderItems(ctx, o.ID)
		if err != nil {
			return err
		}
		issued := make(map[string]int)
		var tickets []model.Ticket
		for _, it := range items {
			if it.HoldID == nil {
				continue
			}
			h, err := f.alloc.ConvertHoldTx(ctx, tx, *it.HoldID, o.ID, now)
			if err != nil {
				if errors.Is(err, ErrInvalidState) || errors.Is(err, ErrHoldExpired) || errors.Is(err, repository.ErrNotFound) {
					return &reconcileError{err}
				}
				return err
			}
			converted++
			for _, seat := range h.AllocatedSeats {
				t, err := f.life.IssueTx(ctx, tx, IssueParams{
					TicketTypeID: it.TicketTypeID,
					OwnerID:      o.BuyerID,
					OrderID:      &o.ID,
					Seat:         &model.SeatAssignment{BlockID: h.BlockID, Row: seat.Row, Seat: seat.Seat, EventDate: h.EventDate},
				})
				if err != nil {
					return err
				}
				tickets = append(tickets, *t)
				issued[it.TicketTypeID]++
				seatLabels = append(seatLabels, seat.Label())
				if f.cfg.GrantFestivalAccess {
					comp, err := f.dayType(ctx, tx, festivalCompSlug(h.EventDate), model.KindComp, h.EventDate, 0)
					if err != nil {
						return err
					}
					c, err := f.life.IssueTx(ctx, tx, IssueParams{
						TicketTypeID: comp.ID,
						OwnerID:      o.BuyerID,
						OrderID:      &o.ID,
						IsComp:       true,
						CompanionOf:  &t.ID,
					})
					if err != nil {
						return err
					}
					tickets = append(tickets, *c)
					issued[comp.ID]++
				}
			}
		}
		for _, it := range items {
			if it.HoldID != nil {
				continue
			}
			for i := 0; i < it.Quantity; i++ {
				t, err := f.life.IssueTx(ctx, tx, IssueParams{TicketTypeID: it.TicketTypeID, OwnerID: o.BuyerID, OrderID: &o.ID})
				if err != nil {
					return err
				}
				tickets = append(tickets, *t)
			}
			issued[it.TicketTypeID] += it.Quantity
		}
		for _, id := range sortedKeys(issued) {
			tt, err := tx.LockTicketType(ctx, id)
			if err != nil {
				return err
			}
			if !tt.CanSell(issued[id]) {
				rem, _ := tt.Remaining()
				return &reconcileError{fmt.Errorf("ticket type %s has %d left, order needs %d: %w", tt.Slug, rem, issued[id], ErrInsufficientInventory)}
			}
			if err := tx.UpdateTicketTypeSold(ctx, id, tt.SoldCount+issued[id]); err != nil {
				return err
			}
		}
		res = &FinalizeResult{OrderSummary: OrderSummary{Order: *o, Items: items, Tickets: tickets}}
		return nil
	})

	var rerr *reconcileError
	if errors.As(err, &rerr) {
		return nil, f.flagReconciliation(ctx, orderID, paymentRef, rerr.cause)
	}
	if err != nil {
		return nil, err
	}
	l := logger.WithContext(ctx, f.Logger).With(zap.String("order_id", orderID))
	if res.AlreadyFinalized {
		f.Metrics.Finalize("already_finalized")
		l.Info("finalize short-circuit, order already finalized")
		return res, nil
	}
	f.Metrics.Finalize("finalized")
	f.Metrics.HoldEvent("converted", converted)
	l.Info("order finalized", zap.Int("tickets", len(res.Tickets)))

	codes := make([]string, len(res.Tickets))
	for i, t := range res.Tickets {
		codes[i] = t.Code
	}
	f.publish(ctx, queue.RoutingOrderFinalized, queue.OrderFinalizedEvent{
		OrderID:     res.Order.ID,
		OrderNumber: res.Order.OrderNumber,
		BuyerID:     res.Order.BuyerID,
		Status:      string(res.Order.Status),
		TicketCodes: codes,
		Seats:       seatLabels,
		TotalCents:  res.Order.TotalCents,
		FinalizedAt: res.Order.FinalizedAt.Format(time.RFC3339),
	})
	return res, nil
}

// flagReconciliation records why a paid order could not be honoured and
// returns the error to report.
func (f *Finalizer) flagReconciliation(ctx context.Context, orderID, paymentRef string, cause error) error {
	var flagged *model.Order
	err := f.Store.WithTx(ctx, func(tx repository.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		o.NeedsReconciliation = true
		o.ReconciliationNote = truncate(cause.Error(), 500)
		if paymentRef != "" && o.PaymentReference == nil {
			o.PaymentReference = &paymentRef
		}
		o.UpdatedAt = f.Now()
		flagged = o
		return tx.UpdateOrder(ctx, o)
	})
	if err != nil {
		return errors.Join(fmt.Errorf("flag order %s for reconciliation: %w", orderID, err), ErrReconciliationRequired, cause)
	}
	f.Metrics.Finalize("reconciliation_required")
	f.Metrics.ReconciliationRequired()
	logger.WithContext(ctx, f.Logger).Error("order needs reconciliation",
		zap.String("order_id", orderID), zap.String("payment_reference", paymentRef), zap.Error(cause))
	ref := ""
	if flagged.PaymentReference != nil {
		ref = *flagged.PaymentReference
	}
	f.publish(ctx, queue.RoutingReconciliationRequired, queue.ReconciliationRequiredEvent{
		OrderID:          flagged.ID,
		OrderNumber:      flagged.OrderNumber,
		PaymentReference: ref,
		Cause:            flagged.ReconciliationNote,
		FlaggedAt:        flagged.UpdatedAt.Format(time.RFC3339),
	})
	return fmt.Errorf("order %s: %w: %w", flagged.OrderNumber, ErrReconciliationRequired, cause)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}

// FailOrder marks an unpaid order FAILED and releases its holds. Failing a
// FAILED order again is a no-op.
func (f *Finalizer) FailOrder(ctx context.Context, orderID, reason string) (*model.Order, error) {
	o, err := f.close(ctx, orderID, "", model.OrderFailed)
	if err == nil {
		logger.WithContext(ctx, f.Logger).Info("order failed", zap.String("order_id", orderID), zap.String("reason", reason))
	}
	return o, err
}

// CancelOrder cancels the buyer's unpaid order and releases its holds.
func (f *Finalizer) CancelOrder(ctx context.Context, orderID, buyerID string) (*model.Order, error) {
	return f.close(ctx, orderID, buyerID, model.OrderCancelled)
}

// SettleCash marks a finalized cash order PAID once the box office has
// banked the money, which also makes it refundable. Settling a PAID cash
// order again is a no-op.
func (f *Finalizer) SettleCash(ctx context.Context, orderID, reference string) (*model.Order, error) {
	var out *model.Order
	err := f.Store.WithTx(ctx, func(tx repository.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		out = o
		if o.PaymentMethod != model.PaymentCash {
			return fmt.Errorf("order %s is not a cash order: %w", o.OrderNumber, ErrInvalidState)
		}
		if o.Status == model.OrderPaid {
			return nil
		}
		if o.Status != model.OrderPaymentPending || o.FinalizedAt == nil {
			return fmt.Errorf("order %s is %s and not finalized: %w", o.OrderNumber, o.Status, ErrInvalidState)
		}
		now := f.Now()
		if reference != "" {
			o.PaymentReference = &reference
		}
		o.Status = model.OrderPaid
		o.PaidAt = &now
		o.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, o); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return fmt.Errorf("payment reference used by another order: %w", ErrInvalidState)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.WithContext(ctx, f.Logger).Info("cash order settled", zap.String("order_id", out.ID))
	return out, nil
}

func (f *Finalizer) close(ctx context.Context, orderID, buyerID string, status model.OrderStatus) (*model.Order, error) {
	var out *model.Order
	released := 0
	err := f.Store.WithTx(ctx, func(tx repository.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if buyerID != "" && o.BuyerID != buyerID {
			return ErrForbidden
		}
		out = o
		if o.Status == status {
			return nil
		}
		if o.Finalized() || !o.Status.Finalizable() {
			return fmt.Errorf("order %s is %s: %w", o.OrderNumber, o.Status, ErrInvalidState)
		}
		items, err := tx.ListOrderItems(ctx, o.ID)
		if err != nil {
			return err
		}
		for _, it := range items {
			if it.HoldID == nil {
				continue
			}
			h, err := tx.GetSeatHold(ctx, *it.HoldID)
			if err != nil {
				return err
			}
			ok, err := f.alloc.releaseTx(ctx, tx, h.ID, h.BlockID, model.HoldReleased)
			if err != nil {
				return err
			}
			if ok {
				released++
			}
		}
		o.Status = status
		o.UpdatedAt = f.Now()
		return tx.UpdateOrder(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	f.Metrics.HoldEvent("released", released)
	return out, nil
}
