package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/festival-ticketing/internal/model"
	"github.com/iliyamo/festival-ticketing/internal/repository"
	"github.com/iliyamo/festival-ticketing/internal/repository/memory"
	"github.com/iliyamo/festival-ticketing/internal/signer"
)

var lawnDay = time.Date(2026, 6, 19, 0, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type published struct {
	key   string
	event any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(_ context.Context, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{key, event})
	return nil
}

func (p *recordingPublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.key
	}
	return out
}

type fixture struct {
	ctx    context.Context
	store  *memory.Store
	clock  *testClock
	pub    *recordingPublisher
	signer *signer.Signer
	alloc  *Allocator
	life   *Lifecycle
	scan   *Scanner
	fin    *Finalizer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := signer.New("test-signing-secret-0123456789")
	require.NoError(t, err)
	f := &fixture{
		ctx:    context.Background(),
		store:  memory.New(),
		clock:  &testClock{now: time.Date(2026, 6, 19, 18, 0, 0, 0, time.UTC)},
		pub:    &recordingPublisher{},
		signer: s,
	}
	d := Deps{Store: f.store, Publisher: f.pub, Now: f.clock.Now}
	f.alloc = NewAllocator(d, AllocatorConfig{})
	f.life = NewLifecycle(d, s, 0)
	f.scan = NewScanner(d, s, time.UTC)
	f.fin = NewFinalizer(d, f.alloc, f.life, FinalizerConfig{ServiceFeeBPS: DefaultServiceFeeBPS, GrantFestivalAccess: true})
	return f
}

func (f *fixture) tx(t *testing.T, fn func(tx repository.Tx) error) {
	t.Helper()
	require.NoError(t, f.store.WithTx(f.ctx, fn))
}

// seedBlock adds an active block covering rows rowStart..rowEnd and seats
// seatStart..seatEnd, all available.
func (f *fixture) seedBlock(t *testing.T, section string, day time.Time, rowStart, rowEnd string, seatStart, seatEnd int, price int64) *model.SeatBlock {
	t.Helper()
	b := &model.SeatBlock{
		ID: uuid.NewString(), SectionID: section, SectionName: section, EventDate: day,
		RowStart: rowStart, RowEnd: rowEnd, SeatStart: seatStart, SeatEnd: seatEnd,
		PriceCents: price, IsActive: true,
	}
	seats, err := b.Seats()
	require.NoError(t, err)
	b.TotalSeats, b.AvailableSeats = len(seats), len(seats)
	f.tx(t, func(tx repository.Tx) error { return tx.InsertSeatBlock(f.ctx, b) })
	return b
}

func (f *fixture) block(t *testing.T, id string) model.SeatBlock {
	t.Helper()
	var b *model.SeatBlock
	f.tx(t, func(tx repository.Tx) error {
		var err error
		b, err = tx.LockSeatBlock(f.ctx, id)
		return err
	})
	return *b
}

func intp(n int) *int { return &n }

func (f *fixture) seedType(t *testing.T, slug string, price int64, capacity *int, days ...string) *model.TicketType {
	t.Helper()
	tt := &model.TicketType{
		ID: uuid.NewString(), Slug: slug, Name: slug, Kind: model.KindDayPass,
		PriceCents: price, Capacity: capacity, ValidDays: days, IsActive: true,
	}
	f.tx(t, func(tx repository.Tx) error { return tx.InsertTicketType(f.ctx, tt) })
	return tt
}

func (f *fixture) ticketType(t *testing.T, id string) model.TicketType {
	t.Helper()
	var tt *model.TicketType
	f.tx(t, func(tx repository.Tx) error {
		var err error
		tt, err = tx.GetTicketType(f.ctx, id)
		return err
	})
	return *tt
}

func (f *fixture) issue(t *testing.T, typeID, owner string) *model.Ticket {
	t.Helper()
	var tk *model.Ticket
	f.tx(t, func(tx repository.Tx) error {
		var err error
		tk, err = f.life.IssueTx(f.ctx, tx, IssueParams{TicketTypeID: typeID, OwnerID: owner})
		return err
	})
	return tk
}

func (f *fixture) ticket(t *testing.T, id string) model.Ticket {
	t.Helper()
	var tk *model.Ticket
	f.tx(t, func(tx repository.Tx) error {
		var err error
		tk, err = tx.GetTicket(f.ctx, id)
		return err
	})
	return *tk
}

func (f *fixture) order(t *testing.T, id string) model.Order {
	t.Helper()
	var o *model.Order
	f.tx(t, func(tx repository.Tx) error {
		var err error
		o, err = tx.GetOrder(f.ctx, id)
		return err
	})
	return *o
}

func (f *fixture) hold(t *testing.T, id string) model.SeatHold {
	t.Helper()
	var h *model.SeatHold
	f.tx(t, func(tx repository.Tx) error {
		var err error
		h, err = tx.GetSeatHold(f.ctx, id)
		return err
	})
	return *h
}
