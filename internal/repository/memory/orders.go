package memory

import (
	"context"
	"slices"

	"github.com/iliyamo/festival-ticketing/internal/model"
	"github.com/iliyamo/festival-ticketing/internal/repository"
)

func (t *txn) InsertOrder(_ context.Context, o *model.Order) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.orders[o.ID]; ok {
		return repository.ErrDuplicate
	}
	for _, other := range t.s.orders {
		if other.IdempotencyKey == o.IdempotencyKey || other.OrderNumber == o.OrderNumber ||
			sameRef(other.PaymentReference, o.PaymentReference) {
			return repository.ErrDuplicate
		}
	}
	put(t, t.s.orders, o.ID, *o)
	return nil
}

func sameRef(a, b *string) bool { return a != nil && b != nil && *a == *b }

func (t *txn) InsertOrderItems(_ context.Context, items []model.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	byOrder := make(map[string][]model.OrderItem)
	for _, it := range items {
		if _, ok := t.s.orders[it.OrderID]; !ok {
			return repository.ErrConstraint
		}
		if it.HoldID != nil && t.holdInOrder(*it.HoldID, byOrder) {
			return repository.ErrDuplicate
		}
		byOrder[it.OrderID] = append(byOrder[it.OrderID], it)
	}
	for orderID, add := range byOrder {
		merged := append(slices.Clone(t.s.orderItems[orderID]), add...)
		put(t, t.s.orderItems, orderID, merged)
	}
	return nil
}

func (t *txn) holdInOrder(holdID string, pending map[string][]model.OrderItem) bool {
	for _, m := range []map[string][]model.OrderItem{t.s.orderItems, pending} {
		for _, items := range m {
			for _, it := range items {
				if it.HoldID != nil && *it.HoldID == holdID {
					return true
				}
			}
		}
	}
	return false
}

func (t *txn) GetOrder(_ context.Context, id string) (*model.Order, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	o, ok := t.s.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &o, nil
}

func (t *txn) GetOrderByIdempotencyKey(_ context.Context, key string) (*model.Order, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, o := range t.s.orders {
		if o.IdempotencyKey == key {
			return &o, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (t *txn) LockOrder(ctx context.Context, id string) (*model.Order, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.orders[id]; !ok {
		return nil, repository.ErrNotFound
	}
	if err := t.lock(ctx, "order:"+id, false); err != nil {
		return nil, err
	}
	o := t.s.orders[id]
	return &o, nil
}

func (t *txn) UpdateOrder(_ context.Context, o *model.Order) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	cur, ok := t.s.orders[o.ID]
	if !ok {
		return repository.ErrNotFound
	}
	for id, other := range t.s.orders {
		if id != o.ID && sameRef(other.PaymentReference, o.PaymentReference) {
			return repository.ErrDuplicate
		}
	}
	cur.Status = o.Status
	cur.PaymentReference = o.PaymentReference
	cur.RefundedCents = o.RefundedCents
	cur.PaidAt = o.PaidAt
	cur.FinalizedAt = o.FinalizedAt
	cur.NeedsReconciliation = o.NeedsReconciliation
	cur.ReconciliationNote = o.ReconciliationNote
	cur.UpdatedAt = o.UpdatedAt
	put(t, t.s.orders, o.ID, cur)
	return nil
}

func (t *txn) ListOrderItems(_ context.Context, orderID string) ([]model.OrderItem, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return slices.Clone(t.s.orderItems[orderID]), nil
}

func (t *txn) InsertPaymentEvent(_ context.Context, e *model.PaymentEvent) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.events[e.ProviderEventID]; ok {
		return repository.ErrDuplicate
	}
	put(t, t.s.events, e.ProviderEventID, *e)
	return nil
}

func (t *txn) LockPaymentEvent(ctx context.Context, providerEventID string) (*model.PaymentEvent, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.events[providerEventID]; !ok {
		return nil, repository.ErrNotFound
	}
	if err := t.lock(ctx, "payment_event:"+providerEventID, false); err != nil {
		return nil, err
	}
	e := t.s.events[providerEventID]
	return &e, nil
}

func (t *txn) UpdatePaymentEvent(_ context.Context, e *model.PaymentEvent) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	cur, ok := t.s.events[e.ProviderEventID]
	if !ok {
		return repository.ErrNotFound
	}
	cur.Processed, cur.ProcessingError, cur.ProcessedAt = e.Processed, e.ProcessingError, e.ProcessedAt
	cur.AttemptedAt = e.AttemptedAt
	put(t, t.s.events, e.ProviderEventID, cur)
	return nil
}

func (t *txn) InsertRefund(_ context.Context, r *model.Refund) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.refunds[r.ID]; ok {
		return repository.ErrDuplicate
	}
	for _, other := range t.s.refunds {
		if other.ProviderRefundID == r.ProviderRefundID {
			return repository.ErrDuplicate
		}
	}
	put(t, t.s.refunds, r.ID, *r)
	return nil
}

func (t *txn) GetRefundByProviderID(_ context.Context, providerRefundID string) (*model.Refund, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, r := range t.s.refunds {
		if r.ProviderRefundID == providerRefundID {
			return &r, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (t *txn) GetFeatureFlags(_ context.Context) (*model.FeatureFlags, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.flags == nil {
		return nil, repository.ErrNotFound
	}
	f := *t.s.flags
	return &f, nil
}
