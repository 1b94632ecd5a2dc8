package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/iliyamo/festival-ticketing/internal/logger"
	"github.com/iliyamo/festival-ticketing/internal/model"
	"github.com/iliyamo/festival-ticketing/internal/repository"
)

// DefaultHoldTTL is how long a checkout hold keeps its seats.
const DefaultHoldTTL = 10 * time.Minute

// AllocatorConfig tunes the allocator. Zero values pick the defaults.
type AllocatorConfig struct {
	HoldTTL   time.Duration
	ReapBatch int
}

// Allocator grants seat holds against seat blocks and returns seats to
// availability when holds are released or expire.
//
// Every counter change happens in a transaction that first locks the block
// row; when a hold row is needed too it is locked after its block.
type Allocator struct {
	Deps
	holdTTL   time.Duration
	reapBatch int
}

func NewAllocator(d Deps, cfg AllocatorConfig) *Allocator {
	if cfg.HoldTTL <= 0 {
		cfg.HoldTTL = DefaultHoldTTL
	}
	if cfg.ReapBatch <= 0 {
		cfg.ReapBatch = 100
	}
	return &Allocator{Deps: d.withDefaults(), holdTTL: cfg.HoldTTL, reapBatch: cfg.ReapBatch}
}

// Availability answers whether a section can seat qty people on a date.
type Availability struct {
	Available      bool   `json:"available"`
	PriceCents     int64  `json:"price_cents"`
	BlockID        string `json:"block_id,omitempty"`
	AvailableSeats int    `json:"available_seats"`
}

// CheckAvailability reports the first block that could satisfy qty. Expired
// holds in the section are reclaimed first so the answer reflects them.
func (a *Allocator) CheckAvailability(ctx context.Context, sectionID string, date time.Time, qty int) (Availability, error) {
	if qty < 1 {
		return Availability{}, fmt.Errorf("quantity %d: %w", qty, ErrInvalidState)
	}
	if _, err := a.reap(ctx, repository.HoldFilter{SectionID: sectionID, EventDate: date}); err != nil {
		return Availability{}, err
	}
	var blocks []model.SeatBlock
	err := a.Store.View(ctx, func(tx repository.Tx) error {
		var err error
		blocks, err = tx.ListSeatBlocks(ctx, sectionID, date)
		return err
	})
	if err != nil {
		return Availability{}, err
	}
	if len(blocks) == 0 {
		return Availability{}, fmt.Errorf("section %s on %s: %w", sectionID, date.Format(model.DateLayout), ErrNotFound)
	}
	for _, b := range blocks {
		if b.AvailableSeats >= qty {
			return Availability{Available: true, PriceCents: b.PriceCents, BlockID: b.ID, AvailableSeats: b.AvailableSeats}, nil
		}
	}
	return Availability{PriceCents: blocks[0].PriceCents}, nil
}

// HoldRequest asks for Quantity seats in one section on one date. UserID or
// SessionKey identifies the requester.
type HoldRequest struct {
	SectionID  string
	EventDate  time.Time
	Quantity   int
	UserID     string
	SessionKey string
}

// CreateHold reserves the lowest free seats of the first block with enough
// availability. Requests no single block can satisfy fail with
// ErrInsufficientInventory; groups are never split across blocks.
func (a *Allocator) CreateHold(ctx context.Context, req HoldRequest) (hold *model.SeatHold, err error) {
	ctx, span := startSpan(ctx, "Allocator.CreateHold",
		attribute.String("section", req.SectionID), attribute.Int("quantity", req.Quantity))
	defer func() { endSpan(span, err) }()

	if req.Quantity < 1 {
		return nil, fmt.Errorf("quantity %d: %w", req.Quantity, ErrInvalidState)
	}
	if req.UserID == "" && req.SessionKey == "" {
		return nil, fmt.Errorf("hold without requester: %w", ErrInvalidState)
	}
	if _, err := a.reap(ctx, repository.HoldFilter{SectionID: req.SectionID, EventDate: req.EventDate}); err != nil {
		return nil, err
	}

	now := a.Now()
	err = a.Store.WithTx(ctx, func(tx repository.Tx) error {
		block, err := tx.LockFirstAvailableBlock(ctx, req.SectionID, req.EventDate, req.Quantity)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInsufficientInventory
		}
		if err != nil {
			return err
		}
		seats, err := a.pickSeats(ctx, tx, block, req.Quantity, now)
		if err != nil {
			return err
		}
		if err := block.Hold(req.Quantity); err != nil {
			return fmt.Errorf("%v: %w", err, ErrInsufficientInventory)
		}
		if err := tx.UpdateSeatBlockCounts(ctx, block); err != nil {
			return err
		}
		hold = &model.SeatHold{
			ID:             uuid.NewString(),
			BlockID:        block.ID,
			SectionID:      block.SectionID,
			EventDate:      block.EventDate,
			UserID:         req.UserID,
			SessionKey:     req.SessionKey,
			Quantity:       req.Quantity,
			AllocatedSeats: seats,
			PriceCents:     block.PriceCents,
			ExpiresAt:      now.Add(a.holdTTL),
			IsActive:       true,
			CreatedAt:      now,
		}
		return tx.InsertSeatHold(ctx, hold)
	})
	if err != nil {
		return nil, err
	}
	a.Metrics.HoldEvent("created", 1)
	logger.WithContext(ctx, a.Logger).Info("hold created",
		zap.String("hold_id", hold.ID), zap.String("block_id", hold.BlockID),
		zap.Int("quantity", hold.Quantity), zap.Time("expires_at", hold.ExpiresAt))
	return hold, nil
}

// pickSeats returns the first qty seats of the block, in row-major order,
// that no live ticket or hold references. The block must be locked.
func (a *Allocator) pickSeats(ctx context.Context, tx repository.Tx, block *model.SeatBlock, qty int, now time.Time) ([]model.SeatRef, error) {
	all, err := block.Seats()
	if err != nil {
		return nil, err
	}
	taken, err := tx.TakenSeats(ctx, block.ID, now)
	if err != nil {
		return nil, err
	}
	used := make(map[model.SeatRef]bool, len(taken))
	for _, s := range taken {
		used[s] = true
	}
	out := make([]model.SeatRef, 0, qty)
	for _, s := range all {
		if used[s] {
			continue
		}
		out = append(out, s)
		if len(out) == qty {
			return out, nil
		}
	}
	a.Logger.Warn("block counters ahead of free seats",
		zap.String("block_id", block.ID), zap.Int("available", block.AvailableSeats), zap.Int("free", len(out)))
	return nil, ErrInsufficientInventory
}

// ReleaseHold gives the hold's seats back. userID, when set, must own the
// hold. Releasing an already released or expired hold is a no-op.
func (a *Allocator) ReleaseHold(ctx context.Context, holdID, userID string) error {
	var released bool
	err := a.Store.WithTx(ctx, func(tx repository.Tx) error {
		h, err := tx.GetSeatHold(ctx, holdID)
		if err != nil {
			return err
		}
		if userID != "" && h.UserID != userID {
			return ErrForbidden
		}
		released, err = a.releaseTx(ctx, tx, h.ID, h.BlockID, model.HoldReleased)
		return err
	})
	if err != nil {
		return err
	}
	if released {
		a.Metrics.HoldEvent("released", 1)
		logger.WithContext(ctx, a.Logger).Info("hold released", zap.String("hold_id", holdID))
	}
	return nil
}

// releaseTx locks block then hold and returns the seats of an active hold.
// A converted hold is ErrInvalidState; an inactive one is left alone.
func (a *Allocator) releaseTx(ctx context.Context, tx repository.Tx, holdID, blockID string, reason model.HoldCloseReason) (bool, error) {
	block, err := tx.LockSeatBlock(ctx, blockID)
	if err != nil {
		return false, err
	}
	h, err := tx.LockSeatHold(ctx, holdID)
	if err != nil {
		return false, err
	}
	if !h.IsActive {
		if h.CloseReason == model.HoldConverted {
			return false, fmt.Errorf("hold %s already converted: %w", h.ID, ErrInvalidState)
		}
		return false, nil
	}
	now := a.Now()
	if reason == model.HoldReleased && h.Expired(now) {
		reason = model.HoldExpired
	}
	if err := block.Release(h.Quantity); err != nil {
		return false, err
	}
	if err := tx.UpdateSeatBlockCounts(ctx, block); err != nil {
		return false, err
	}
	h.Close(reason, now)
	return true, tx.UpdateSeatHold(ctx, h)
}

// ReapExpired releases every active hold past its expiry and returns how
// many it released. Running it again releases nothing new.
func (a *Allocator) ReapExpired(ctx context.Context) (int, error) {
	return a.reap(ctx, repository.HoldFilter{})
}

// reap sweeps in batches. A hold that fails to release is logged and left
// for the next sweep; the rest of the sweep carries on past it.
func (a *Allocator) reap(ctx context.Context, f repository.HoldFilter) (int, error) {
	log := logger.WithContext(ctx, a.Logger)
	total := 0
	for {
		var batch []model.SeatHold
		err := a.Store.View(ctx, func(tx repository.Tx) error {
			var err error
			batch, err = tx.ListExpiredHolds(ctx, a.Now(), f, a.reapBatch)
			return err
		})
		if err != nil {
			return total, err
		}
		n := 0
		for _, h := range batch {
			var released bool
			err := a.Store.WithTx(ctx, func(tx repository.Tx) error {
				var err error
				released, err = a.releaseTx(ctx, tx, h.ID, h.BlockID, model.HoldExpired)
				return err
			})
			if err != nil {
				if ctx.Err() != nil {
					return total, ctx.Err()
				}
				log.Error("expired hold not reaped", zap.String("hold_id", h.ID), zap.String("block_id", h.BlockID), zap.Error(err))
				a.Metrics.HoldEvent("reap_failed", 1)
				f.ExcludeIDs = append(f.ExcludeIDs, h.ID)
				continue
			}
			if released {
				n++
			}
		}
		total += n
		a.Metrics.HoldEvent("expired", n)
		if len(batch) < a.reapBatch {
			break
		}
	}
	if total > 0 {
		log.Info("expired holds reaped", zap.Int("count", total))
	}
	return total, nil
}

// ConvertHoldTx sells the hold's seats inside the caller's transaction. The
// caller must already hold any lock that orders before block rows (the
// order row). An inactive hold is ErrInvalidState, a lapsed one
// ErrHoldExpired.
func (a *Allocator) ConvertHoldTx(ctx context.Context, tx repository.Tx, holdID, orderID string, now time.Time) (*model.SeatHold, error) {
	h, err := tx.GetSeatHold(ctx, holdID)
	if err != nil {
		return nil, err
	}
	block, err := tx.LockSeatBlock(ctx, h.BlockID)
	if err != nil {
		return nil, err
	}
	if h, err = tx.LockSeatHold(ctx, holdID); err != nil {
		return nil, err
	}
	if !h.IsActive {
		return nil, fmt.Errorf("hold %s is %s: %w", h.ID, h.CloseReason, ErrInvalidState)
	}
	if h.Expired(now) {
		return nil, fmt.Errorf("hold %s expired at %s: %w", h.ID, h.ExpiresAt.Format(time.RFC3339), ErrHoldExpired)
	}
	if err := block.Sell(h.Quantity); err != nil {
		return nil, err
	}
	if err := tx.UpdateSeatBlockCounts(ctx, block); err != nil {
		return nil, err
	}
	h.Close(model.HoldConverted, now)
	h.OrderID = &orderID
	if err := tx.UpdateSeatHold(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}
