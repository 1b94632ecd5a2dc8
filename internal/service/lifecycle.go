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

// DefaultTransferTTL is how long a transfer offer stays open.
const DefaultTransferTTL = 72 * time.Hour

const codeAttempts = 3

// Lifecycle issues tickets and drives their state machine: transfers,
// upgrades, cancellation and comps.
//
// Lock order: transfer before ticket, upgrade before ticket, ticket before
// ticket types (several types are locked in id order).
type Lifecycle struct {
	Deps
	signer      *signer.Signer
	transferTTL time.Duration
}

func NewLifecycle(d Deps, s *signer.Signer, transferTTL time.Duration) *Lifecycle {
	if transferTTL <= 0 {
		transferTTL = DefaultTransferTTL
	}
	return &Lifecycle{Deps: d.withDefaults(), signer: s, transferTTL: transferTTL}
}

// IssueParams describes one ticket to issue.
type IssueParams struct {
	TicketTypeID string
	OwnerID      string
	OrderID      *string
	IsComp       bool
	Seat         *model.SeatAssignment
	CompanionOf  *string
}

// IssueTx inserts an ISSUED ticket with a fresh code inside tx. It does not
// touch sold counts; callers account capacity under the type's lock.
func (l *Lifecycle) IssueTx(ctx context.Context, tx repository.Tx, p IssueParams) (*model.Ticket, error) {
	now := l.Now()
	for attempt := 0; ; attempt++ {
		code, err := signer.NewTicketCode()
		if err != nil {
			return nil, err
		}
		t := &model.Ticket{
			ID:           uuid.NewString(),
			Code:         code,
			TicketTypeID: p.TicketTypeID,
			OwnerID:      p.OwnerID,
			OrderID:      p.OrderID,
			Status:       model.TicketIssued,
			QRVersion:    1,
			IsComp:       p.IsComp,
			Seat:         p.Seat,
			CompanionOf:  p.CompanionOf,
			IssuedAt:     now,
			UpdatedAt:    now,
		}
		err = tx.InsertTicket(ctx, t)
		if errors.Is(err, repository.ErrDuplicate) && attempt+1 < codeAttempts {
			continue
		}
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

// ValidDays lists the dates a ticket admits on: the seat's date for seated
// tickets, otherwise the type's days.
func ValidDays(t model.Ticket, tt model.TicketType) []string {
	if t.Seat != nil {
		return []string{t.Seat.EventDate.Format(model.DateLayout)}
	}
	return tt.ValidDays
}

// QRCode returns a signed QR payload for the owner's ticket. Only ISSUED
// tickets get one.
func (l *Lifecycle) QRCode(ctx context.Context, ticketID, ownerID string) (string, error) {
	var (
		t  *model.Ticket
		tt *model.TicketType
	)
	err := l.Store.View(ctx, func(tx repository.Tx) error {
		var err error
		if t, err = tx.GetTicket(ctx, ticketID); err != nil {
			return err
		}
		if t.OwnerID != ownerID {
			return ErrForbidden
		}
		tt, err = tx.GetTicketType(ctx, t.TicketTypeID)
		return err
	})
	if err != nil {
		return "", err
	}
	if t.Status != model.TicketIssued {
		return "", fmt.Errorf("ticket %s is %s: %w", t.Code, t.Status, ErrInvalidState)
	}
	return l.signer.Sign(signer.Payload{
		IssuedAt:   l.Now().Unix(),
		Kind:       string(tt.Kind),
		TicketCode: t.Code,
		ValidDays:  ValidDays(*t, *tt),
		Version:    t.QRVersion,
	})
}

// TransferOffer is returned once to the sender. Token is never stored.
type TransferOffer struct {
	TransferID string    `json:"transfer_id"`
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// CreateTransfer moves an ISSUED ticket to TRANSFER_PENDING and opens a
// transfer to toEmail. A second pending transfer for the same ticket is
// rejected by storage.
func (l *Lifecycle) CreateTransfer(ctx context.Context, ticketID, fromUserID, toEmail string) (offer TransferOffer, err error) {
	ctx, span := startSpan(ctx, "Lifecycle.CreateTransfer", attribute.String("ticket_id", ticketID))
	defer func() { endSpan(span, err) }()

	toEmail = strings.TrimSpace(strings.ToLower(toEmail))
	if toEmail == "" {
		return TransferOffer{}, fmt.Errorf("transfer without recipient: %w", ErrInvalidState)
	}
	raw, hash, err := signer.NewTransferToken()
	if err != nil {
		return TransferOffer{}, err
	}
	now := l.Now()
	tr := &model.TicketTransfer{
		ID:         uuid.NewString(),
		TicketID:   ticketID,
		FromUserID: fromUserID,
		ToEmail:    toEmail,
		TokenHash:  hash,
		Status:     model.TransferPending,
		ExpiresAt:  now.Add(l.transferTTL),
		CreatedAt:  now,
	}
	var code string
	err = l.Store.WithTx(ctx, func(tx repository.Tx) error {
		t, err := tx.LockTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if t.OwnerID != fromUserID {
			return ErrForbidden
		}
		if t.Status != model.TicketIssued {
			return fmt.Errorf("ticket %s is %s: %w", t.Code, t.Status, ErrInvalidState)
		}
		if err := tx.InsertTransfer(ctx, tr); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return fmt.Errorf("ticket %s already has a pending transfer: %w", t.Code, ErrInvalidState)
			}
			return err
		}
		if err := t.Transition(model.TicketTransferPending, now); err != nil {
			return fmt.Errorf("%v: %w", err, ErrInvalidState)
		}
		code = t.Code
		return tx.UpdateTicket(ctx, t)
	})
	if err != nil {
		return TransferOffer{}, err
	}
	l.publish(ctx, queue.RoutingTransferOffered, queue.TransferOfferedEvent{
		TransferID: tr.ID,
		TicketCode: code,
		FromUserID: fromUserID,
		ToEmail:    toEmail,
		ExpiresAt:  tr.ExpiresAt.Format(time.RFC3339),
	})
	return TransferOffer{TransferID: tr.ID, Token: raw, ExpiresAt: tr.ExpiresAt}, nil
}

// AcceptTransfer hands the ticket to userID. An expired offer is closed as
// EXPIRED and the ticket returned to its sender before ErrExpiredToken is
// reported. Accepting bumps the QR version so the sender's QR stops working.
func (l *Lifecycle) AcceptTransfer(ctx context.Context, rawToken, userID string) (ticket *model.Ticket, err error) {
	ctx, span := startSpan(ctx, "Lifecycle.AcceptTransfer")
	defer func() { endSpan(span, err) }()

	hash := signer.HashToken(rawToken)
	expired := false
	err = l.Store.WithTx(ctx, func(tx repository.Tx) error {
		tr, err := tx.LockTransferByTokenHash(ctx, hash)
		if err != nil {
			return err
		}
		t, err := tx.LockTicket(ctx, tr.TicketID)
		if err != nil {
			return err
		}
		if tr.Status != model.TransferPending {
			return fmt.Errorf("transfer %s is %s: %w", tr.ID, tr.Status, ErrInvalidState)
		}
		now := l.Now()
		if tr.Expired(now) {
			expired = true
			return l.closeTransfer(ctx, tx, tr, t, model.TransferExpired, now)
		}
		if t.Status != model.TicketTransferPending {
			return fmt.Errorf("ticket %s is %s: %w", t.Code, t.Status, ErrInvalidState)
		}
		if userID == tr.FromUserID {
			return fmt.Errorf("sender cannot accept own transfer: %w", ErrInvalidState)
		}
		if err := t.Transition(model.TicketIssued, now); err != nil {
			return err
		}
		t.OwnerID = userID
		t.QRVersion++
		if err := tx.UpdateTicket(ctx, t); err != nil {
			return err
		}
		tr.ToUserID = &userID
		tr.Resolve(model.TransferAccepted, now)
		if err := tx.UpdateTransfer(ctx, tr); err != nil {
			return err
		}
		ticket = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, ErrExpiredToken
	}
	logger.WithContext(ctx, l.Logger).Info("transfer accepted", zap.String("ticket_id", ticket.ID))
	return ticket, nil
}

// closeTransfer resolves a pending transfer and puts its ticket back to
// ISSUED. Both rows must be locked.
func (l *Lifecycle) closeTransfer(ctx context.Context, tx repository.Tx, tr *model.TicketTransfer, t *model.Ticket, status model.TransferStatus, now time.Time) error {
	tr.Resolve(status, now)
	if err := tx.UpdateTransfer(ctx, tr); err != nil {
		return err
	}
	if t.Status != model.TicketTransferPending {
		return nil
	}
	if err := t.Transition(model.TicketIssued, now); err != nil {
		return err
	}
	return tx.UpdateTicket(ctx, t)
}

// CancelTransfer withdraws the sender's pending offer.
func (l *Lifecycle) CancelTransfer(ctx context.Context, transferID, userID string) error {
	return l.Store.WithTx(ctx, func(tx repository.Tx) error {
		tr, err := tx.LockTransfer(ctx, transferID)
		if err != nil {
			return err
		}
		if tr.FromUserID != userID {
			return ErrForbidden
		}
		t, err := tx.LockTicket(ctx, tr.TicketID)
		if err != nil {
			return err
		}
		if tr.Status != model.TransferPending {
			return fmt.Errorf("transfer %s is %s: %w", tr.ID, tr.Status, ErrInvalidState)
		}
		return l.closeTransfer(ctx, tx, tr, t, model.TransferCancelled, l.Now())
	})
}

// ExpireTransfers closes every pending transfer past its expiry.
func (l *Lifecycle) ExpireTransfers(ctx context.Context) (int, error) {
	var due []model.TicketTransfer
	err := l.Store.View(ctx, func(tx repository.Tx) error {
		var err error
		due, err = tx.ListExpiredTransfers(ctx, l.Now(), 0)
		return err
	})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range due {
		closed := false
		err := l.Store.WithTx(ctx, func(tx repository.Tx) error {
			tr, err := tx.LockTransfer(ctx, d.ID)
			if err != nil {
				return err
			}
			t, err := tx.LockTicket(ctx, tr.TicketID)
			if err != nil {
				return err
			}
			now := l.Now()
			if tr.Status != model.TransferPending || !tr.Expired(now) {
				return nil
			}
			closed = true
			return l.closeTransfer(ctx, tx, tr, t, model.TransferExpired, now)
		})
		if err != nil {
			return n, fmt.Errorf("expire transfer %s: %w", d.ID, err)
		}
		if closed {
			n++
		}
	}
	if n > 0 {
		logger.WithContext(ctx, l.Logger).Info("transfers expired", zap.Int("count", n))
	}
	return n, nil
}

// CreateUpgrade opens an upgrade of the owner's ticket to a more expensive
// type. Storage allows one open upgrade per ticket.
func (l *Lifecycle) CreateUpgrade(ctx context.Context, ticketID, toTypeID, userID string) (*model.TicketUpgrade, error) {
	var up *model.TicketUpgrade
	err := l.Store.WithTx(ctx, func(tx repository.Tx) error {
		t, err := tx.LockTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if t.OwnerID != userID {
			return ErrForbidden
		}
		from, to, err := l.upgradeTypes(ctx, tx, t, toTypeID)
		if err != nil {
			return err
		}
		if to.PriceCents <= from.PriceCents {
			return fmt.Errorf("%s is not above %s: %w", to.Slug, from.Slug, ErrInvalidState)
		}
		if !to.CanSell(1) {
			return ErrInsufficientInventory
		}
		now := l.Now()
		up = &model.TicketUpgrade{
			ID:             uuid.NewString(),
			TicketID:       t.ID,
			FromTypeID:     from.ID,
			ToTypeID:       to.ID,
			PriceDiffCents: to.PriceCents - from.PriceCents,
			Status:         model.UpgradeCreated,
			CreatedAt:      now,
		}
		if err := tx.InsertUpgrade(ctx, up); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return fmt.Errorf("ticket %s already has an open upgrade: %w", t.Code, ErrInvalidState)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return up, nil
}

// upgradeTypes checks the ticket can move to toTypeID and loads both types.
func (l *Lifecycle) upgradeTypes(ctx context.Context, tx repository.Tx, t *model.Ticket, toTypeID string) (*model.TicketType, *model.TicketType, error) {
	if t.Status != model.TicketIssued {
		return nil, nil, fmt.Errorf("ticket %s is %s: %w", t.Code, t.Status, ErrInvalidState)
	}
	if t.Seat != nil {
		return nil, nil, fmt.Errorf("seated ticket %s cannot change type: %w", t.Code, ErrInvalidState)
	}
	if t.TicketTypeID == toTypeID {
		return nil, nil, fmt.Errorf("ticket %s already has that type: %w", t.Code, ErrInvalidState)
	}
	from, err := tx.GetTicketType(ctx, t.TicketTypeID)
	if err != nil {
		return nil, nil, err
	}
	to, err := tx.GetTicketType(ctx, toTypeID)
	if err != nil {
		return nil, nil, err
	}
	if !to.OnSale(l.Now()) {
		return nil, nil, fmt.Errorf("ticket type %s not on sale: %w", to.Slug, ErrInvalidState)
	}
	return from, to, nil
}

// swapType moves a locked ticket to toTypeID, moving one unit of sold count
// from the old type to the new one under both type locks.
func (l *Lifecycle) swapType(ctx context.Context, tx repository.Tx, t *model.Ticket, toTypeID string) error {
	ids := []string{t.TicketTypeID, toTypeID}
	sort.Strings(ids)
	locked := make(map[string]*model.TicketType, 2)
	for _, id := range ids {
		tt, err := tx.LockTicketType(ctx, id)
		if err != nil {
			return err
		}
		locked[id] = tt
	}
	from, to := locked[t.TicketTypeID], locked[toTypeID]
	if !to.CanSell(1) {
		return ErrInsufficientInventory
	}
	if err := tx.UpdateTicketTypeSold(ctx, to.ID, to.SoldCount+1); err != nil {
		return err
	}
	if from.SoldCount > 0 {
		if err := tx.UpdateTicketTypeSold(ctx, from.ID, from.SoldCount-1); err != nil {
			return err
		}
	}
	t.TicketTypeID = to.ID
	t.QRVersion++
	t.UpdatedAt = l.Now()
	return tx.UpdateTicket(ctx, t)
}

// CompleteUpgrade applies a paid upgrade. Completing a COMPLETED upgrade
// again returns the ticket unchanged.
func (l *Lifecycle) CompleteUpgrade(ctx context.Context, upgradeID, paymentRef string) (*model.Ticket, error) {
	var ticket *model.Ticket
	err := l.Store.WithTx(ctx, func(tx repository.Tx) error {
		up, err := tx.LockUpgrade(ctx, upgradeID)
		if err != nil {
			return err
		}
		t, err := tx.LockTicket(ctx, up.TicketID)
		if err != nil {
			return err
		}
		ticket = t
		if up.Status == model.UpgradeCompleted {
			return nil
		}
		if !up.Status.Open() {
			return fmt.Errorf("upgrade %s is %s: %w", up.ID, up.Status, ErrInvalidState)
		}
		if t.TicketTypeID != up.FromTypeID {
			return fmt.Errorf("ticket %s changed type since the upgrade was opened: %w", t.Code, ErrInvalidState)
		}
		if _, _, err := l.upgradeTypes(ctx, tx, t, up.ToTypeID); err != nil {
			return err
		}
		if err := l.swapType(ctx, tx, t, up.ToTypeID); err != nil {
			return err
		}
		now := l.Now()
		up.Status = model.UpgradeCompleted
		if paymentRef != "" {
			up.PaymentReference = &paymentRef
		}
		up.CompletedAt = &now
		return tx.UpdateUpgrade(ctx, up)
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// CompUpgrade lets staff move a ticket to another type free of charge.
func (l *Lifecycle) CompUpgrade(ctx context.Context, ticketID, toTypeID string) (*model.Ticket, error) {
	var ticket *model.Ticket
	err := l.Store.WithTx(ctx, func(tx repository.Tx) error {
		t, err := tx.LockTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		from, _, err := l.upgradeTypes(ctx, tx, t, toTypeID)
		if err != nil {
			return err
		}
		if err := l.swapType(ctx, tx, t, toTypeID); err != nil {
			return err
		}
		now := l.Now()
		if err := tx.InsertUpgrade(ctx, &model.TicketUpgrade{
			ID:          uuid.NewString(),
			TicketID:    t.ID,
			FromTypeID:  from.ID,
			ToTypeID:    toTypeID,
			Status:      model.UpgradeComped,
			CreatedAt:   now,
			CompletedAt: &now,
		}); err != nil {
			return err
		}
		ticket = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// Cancel voids an ISSUED ticket.
func (l *Lifecycle) Cancel(ctx context.Context, ticketID string) (*model.Ticket, error) {
	var ticket *model.Ticket
	err := l.Store.WithTx(ctx, func(tx repository.Tx) error {
		t, err := tx.LockTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if t.Status != model.TicketIssued {
			return fmt.Errorf("ticket %s is %s: %w", t.Code, t.Status, ErrInvalidState)
		}
		if err := t.Transition(model.TicketCancelled, l.Now()); err != nil {
			return err
		}
		ticket = t
		return tx.UpdateTicket(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	logger.WithContext(ctx, l.Logger).Info("ticket cancelled", zap.String("ticket_id", ticketID))
	return ticket, nil
}

// CompRequest asks for free tickets of one type.
type CompRequest struct {
	TicketTypeID string `json:"ticket_type_id" validate:"required"`
	OwnerID      string `json:"owner_id" validate:"required"`
	Quantity     int    `json:"quantity" validate:"required,min=1,max=50"`
}

// IssueComp issues free tickets. They count against the type's capacity.
func (l *Lifecycle) IssueComp(ctx context.Context, req CompRequest) ([]model.Ticket, error) {
	if req.Quantity < 1 {
		return nil, fmt.Errorf("quantity %d: %w", req.Quantity, ErrInvalidState)
	}
	var out []model.Ticket
	err := l.Store.WithTx(ctx, func(tx repository.Tx) error {
		tt, err := tx.LockTicketType(ctx, req.TicketTypeID)
		if err != nil {
			return err
		}
		if !tt.CanSell(req.Quantity) {
			return ErrInsufficientInventory
		}
		for i := 0; i < req.Quantity; i++ {
			t, err := l.IssueTx(ctx, tx, IssueParams{TicketTypeID: tt.ID, OwnerID: req.OwnerID, IsComp: true})
			if err != nil {
				return err
			}
			out = append(out, *t)
		}
		return tx.UpdateTicketTypeSold(ctx, tt.ID, tt.SoldCount+req.Quantity)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
