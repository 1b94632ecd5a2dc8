// Package memory is an in-process repository.Store. It keeps rows in maps,
// takes exclusive row locks that block (or fail fast for NOWAIT) like InnoDB,
// enforces the same unique keys as the MySQL schema and undoes writes when a
// transaction rolls back. Tests use it to exercise the services under real
// concurrency without a database.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/iliyamo/festival-ticketing/internal/model"
	"github.com/iliyamo/festival-ticketing/internal/repository"
)

// Store is safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	cond  *sync.Cond
	locks map[string]*txn

	ticketTypes map[string]model.TicketType
	blocks      map[string]model.SeatBlock
	holds       map[string]model.SeatHold
	orders      map[string]model.Order
	orderItems  map[string][]model.OrderItem
	tickets     map[string]model.Ticket
	transfers   map[string]model.TicketTransfer
	upgrades    map[string]model.TicketUpgrade
	scanLogs    map[string]scanEntry
	events      map[string]model.PaymentEvent
	refunds     map[string]model.Refund
	flags       *model.FeatureFlags
	seq         int
}

type scanEntry struct {
	seq int
	log model.ScanLog
}

var (
	_ repository.Store = (*Store)(nil)
	_ repository.Tx    = (*txn)(nil)
)

func New() *Store {
	s := &Store{
		locks:       make(map[string]*txn),
		ticketTypes: make(map[string]model.TicketType),
		blocks:      make(map[string]model.SeatBlock),
		holds:       make(map[string]model.SeatHold),
		orders:      make(map[string]model.Order),
		orderItems:  make(map[string][]model.OrderItem),
		tickets:     make(map[string]model.Ticket),
		transfers:   make(map[string]model.TicketTransfer),
		upgrades:    make(map[string]model.TicketUpgrade),
		scanLogs:    make(map[string]scanEntry),
		events:      make(map[string]model.PaymentEvent),
		refunds:     make(map[string]model.Refund),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	return s.run(ctx, fn)
}

func (s *Store) View(ctx context.Context, fn func(tx repository.Tx) error) error {
	return s.run(ctx, fn)
}

func (s *Store) run(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := &txn{s: s}
	committed := false
	defer func() {
		if !committed {
			t.finish(true)
		}
	}()
	if err := fn(t); err != nil {
		return err
	}
	t.finish(false)
	committed = true
	return nil
}

// SetFeatureFlags stores the event_config row.
func (s *Store) SetFeatureFlags(f model.FeatureFlags) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags = &f
}

// ScanLogs returns every committed or in-flight scan log in insertion order.
func (s *Store) ScanLogs() []model.ScanLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]scanEntry, 0, len(s.scanLogs))
	for _, e := range s.scanLogs {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]model.ScanLog, len(entries))
	for i, e := range entries {
		out[i] = e.log
	}
	return out
}

// txn is one transaction. Every method takes s.mu for its own duration;
// row locks outlive the call and are released by finish.
type txn struct {
	s    *Store
	undo []func()
	held []string
}

func (t *txn) finish(rollback bool) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if rollback {
		for i := len(t.undo) - 1; i >= 0; i-- {
			t.undo[i]()
		}
	}
	t.undo = nil
	for _, key := range t.held {
		if t.s.locks[key] == t {
			delete(t.s.locks, key)
		}
	}
	t.held = nil
	t.s.cond.Broadcast()
}

// lock takes the exclusive row lock for key. Must be called with s.mu held;
// waiting releases s.mu.
func (t *txn) lock(ctx context.Context, key string, nowait bool) error {
	for {
		owner, taken := t.s.locks[key]
		if !taken {
			t.s.locks[key] = t
			t.held = append(t.held, key)
			return nil
		}
		if owner == t {
			return nil
		}
		if nowait {
			return repository.ErrLockNotAvailable
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		t.s.cond.Wait()
	}
}

// put writes m[k] = v and records how to undo it.
func put[K comparable, V any](t *txn, m map[K]V, k K, v V) {
	old, existed := m[k]
	m[k] = v
	t.undo = append(t.undo, func() {
		if existed {
			m[k] = old
		} else {
			delete(m, k)
		}
	})
}
