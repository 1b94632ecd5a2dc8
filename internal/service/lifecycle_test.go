package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/festival-ticketing/internal/model"
	"github.com/iliyamo/festival-ticketing/internal/queue"
	"github.com/iliyamo/festival-ticketing/internal/repository"
	"github.com/iliyamo/festival-ticketing/internal/signer"
)

func TestTransferAccept(t *testing.T) {
	f := newFixture(t)
	tt := f.seedType(t, "day-fri", 6000, nil, "2026-06-19")
	tk := f.issue(t, tt.ID, "alice")

	offer, err := f.life.CreateTransfer(f.ctx, tk.ID, "alice", " Bob@Example.com ")
	require.NoError(t, err)
	assert.NotEmpty(t, offer.Token)
	assert.Equal(t, f.clock.Now().Add(DefaultTransferTTL), offer.ExpiresAt)
	assert.Equal(t, model.TicketTransferPending, f.ticket(t, tk.ID).Status)

	require.Equal(t, []string{queue.RoutingTransferOffered}, f.pub.keys())
	ev := f.pub.events[0].event.(queue.TransferOfferedEvent)
	assert.Equal(t, "bob@example.com", ev.ToEmail)
	assert.Equal(t, tk.Code, ev.TicketCode)

	var stored *model.TicketTransfer
	f.tx(t, func(tx repository.Tx) error {
		var err error
		stored, err = tx.LockTransfer(f.ctx, offer.TransferID)
		return err
	})
	assert.Equal(t, signer.HashToken(offer.Token), stored.TokenHash)
	assert.NotEqual(t, offer.Token, stored.TokenHash)

	_, err = f.life.AcceptTransfer(f.ctx, offer.Token, "alice")
	assert.ErrorIs(t, err, ErrInvalidState)

	got, err := f.life.AcceptTransfer(f.ctx, offer.Token, "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", got.OwnerID)
	assert.Equal(t, model.TicketIssued, got.Status)
	assert.Equal(t, 2, got.QRVersion)

	_, err = f.life.AcceptTransfer(f.ctx, offer.Token, "carol")
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = f.life.AcceptTransfer(f.ctx, "not-a-token", "carol")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransferAcceptAfterExpiry(t *testing.T) {
	f := newFixture(t)
	tt := f.seedType(t, "day-fri", 6000, nil)
	tk := f.issue(t, tt.ID, "alice")
	offer, err := f.life.CreateTransfer(f.ctx, tk.ID, "alice", "bob@example.com")
	require.NoError(t, err)

	f.clock.Advance(72 * time.Hour)
	_, err = f.life.AcceptTransfer(f.ctx, offer.Token, "bob")
	assert.ErrorIs(t, err, ErrExpiredToken)

	got := f.ticket(t, tk.ID)
	assert.Equal(t, model.TicketIssued, got.Status)
	assert.Equal(t, "alice", got.OwnerID)
	assert.Equal(t, 1, got.QRVersion)

	_, err = f.life.AcceptTransfer(f.ctx, offer.Token, "bob")
	assert.ErrorIs(t, err, ErrInvalidState, "expired offer is closed")
}

func TestTransferRules(t *testing.T) {
	f := newFixture(t)
	tt := f.seedType(t, "day-fri", 6000, nil)
	tk := f.issue(t, tt.ID, "alice")

	_, err := f.life.CreateTransfer(f.ctx, tk.ID, "mallory", "bob@example.com")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.life.CreateTransfer(f.ctx, tk.ID, "alice", "  ")
	assert.ErrorIs(t, err, ErrInvalidState)

	offer, err := f.life.CreateTransfer(f.ctx, tk.ID, "alice", "bob@example.com")
	require.NoError(t, err)
	_, err = f.life.CreateTransfer(f.ctx, tk.ID, "alice", "carol@example.com")
	assert.ErrorIs(t, err, ErrInvalidState)

	assert.ErrorIs(t, f.life.CancelTransfer(f.ctx, offer.TransferID, "bob"), ErrForbidden)
	require.NoError(t, f.life.CancelTransfer(f.ctx, offer.TransferID, "alice"))
	assert.Equal(t, model.TicketIssued, f.ticket(t, tk.ID).Status)
	assert.ErrorIs(t, f.life.CancelTransfer(f.ctx, offer.TransferID, "alice"), ErrInvalidState)

	_, err = f.life.CreateTransfer(f.ctx, tk.ID, "alice", "carol@example.com")
	assert.NoError(t, err, "a cancelled offer frees the ticket")
}

func TestConcurrentTransfersOneWins(t *testing.T) {
	f := newFixture(t)
	tt := f.seedType(t, "day-fri", 6000, nil)
	tk := f.issue(t, tt.ID, "alice")

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.life.CreateTransfer(f.ctx, tk.ID, "alice", "bob@example.com")
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrInvalidState)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
}

func TestExpireTransfers(t *testing.T) {
	f := newFixture(t)
	tt := f.seedType(t, "day-fri", 6000, nil)
	a := f.issue(t, tt.ID, "alice")
	b := f.issue(t, tt.ID, "alice")

	_, err := f.life.CreateTransfer(f.ctx, a.ID, "alice", "bob@example.com")
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)
	_, err = f.life.CreateTransfer(f.ctx, b.ID, "alice", "bob@example.com")
	require.NoError(t, err)

	f.clock.Advance(49 * time.Hour)
	n, err := f.life.ExpireTransfers(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.TicketIssued, f.ticket(t, a.ID).Status)
	assert.Equal(t, model.TicketTransferPending, f.ticket(t, b.ID).Status)

	n, err = f.life.ExpireTransfers(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpgradeFlow(t *testing.T) {
	f := newFixture(t)
	day := f.seedType(t, "day-fri", 6000, nil, "2026-06-19")
	vip := f.seedType(t, "vip-fri", 15000, intp(1), "2026-06-19")
	f.tx(t, func(tx repository.Tx) error { return tx.UpdateTicketTypeSold(f.ctx, day.ID, 1) })
	tk := f.issue(t, day.ID, "alice")

	_, err := f.life.CreateUpgrade(f.ctx, tk.ID, vip.ID, "bob")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.life.CreateUpgrade(f.ctx, tk.ID, day.ID, "alice")
	assert.ErrorIs(t, err, ErrInvalidState)

	up, err := f.life.CreateUpgrade(f.ctx, tk.ID, vip.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(9000), up.PriceDiffCents)
	assert.Equal(t, model.UpgradeCreated, up.Status)

	_, err = f.life.CreateUpgrade(f.ctx, tk.ID, vip.ID, "alice")
	assert.ErrorIs(t, err, ErrInvalidState, "one open upgrade per ticket")

	got, err := f.life.CompleteUpgrade(f.ctx, up.ID, "pi_upgrade")
	require.NoError(t, err)
	assert.Equal(t, vip.ID, got.TicketTypeID)
	assert.Equal(t, 2, got.QRVersion)
	assert.Equal(t, 1, f.ticketType(t, vip.ID).SoldCount)
	assert.Equal(t, 0, f.ticketType(t, day.ID).SoldCount)

	again, err := f.life.CompleteUpgrade(f.ctx, up.ID, "pi_upgrade")
	require.NoError(t, err)
	assert.Equal(t, 2, again.QRVersion)
	assert.Equal(t, 1, f.ticketType(t, vip.ID).SoldCount)
}

func TestUpgradeRespectsCapacity(t *testing.T) {
	f := newFixture(t)
	day := f.seedType(t, "day-fri", 6000, nil)
	vip := f.seedType(t, "vip-fri", 15000, intp(1))
	a := f.issue(t, day.ID, "alice")
	b := f.issue(t, day.ID, "bob")

	upA, err := f.life.CreateUpgrade(f.ctx, a.ID, vip.ID, "alice")
	require.NoError(t, err)
	upB, err := f.life.CreateUpgrade(f.ctx, b.ID, vip.ID, "bob")
	require.NoError(t, err)

	_, err = f.life.CompleteUpgrade(f.ctx, upA.ID, "")
	require.NoError(t, err)
	_, err = f.life.CompleteUpgrade(f.ctx, upB.ID, "")
	assert.ErrorIs(t, err, ErrInsufficientInventory)
	assert.Equal(t, day.ID, f.ticket(t, b.ID).TicketTypeID)
}

func TestCompUpgradeAndSeatedTickets(t *testing.T) {
	f := newFixture(t)
	day := f.seedType(t, "day-fri", 6000, nil)
	vip := f.seedType(t, "vip-fri", 15000, nil)
	tk := f.issue(t, day.ID, "alice")

	got, err := f.life.CompUpgrade(f.ctx, tk.ID, vip.ID)
	require.NoError(t, err)
	assert.Equal(t, vip.ID, got.TicketTypeID)
	assert.Equal(t, 2, got.QRVersion)

	var seated *model.Ticket
	f.tx(t, func(tx repository.Tx) error {
		var err error
		seated, err = f.life.IssueTx(f.ctx, tx, IssueParams{
			TicketTypeID: day.ID, OwnerID: "alice",
			Seat: &model.SeatAssignment{BlockID: "b1", Row: "A", Seat: 1, EventDate: lawnDay},
		})
		return err
	})
	_, err = f.life.CompUpgrade(f.ctx, seated.ID, vip.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCancelTicket(t *testing.T) {
	f := newFixture(t)
	tt := f.seedType(t, "day-fri", 6000, intp(5))
	tk := f.issue(t, tt.ID, "alice")

	got, err := f.life.Cancel(f.ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TicketCancelled, got.Status)
	_, err = f.life.Cancel(f.ctx, tk.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = f.life.Cancel(f.ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIssueCompCountsAgainstCapacity(t *testing.T) {
	f := newFixture(t)
	tt := f.seedType(t, "day-fri", 6000, intp(3))

	tickets, err := f.life.IssueComp(f.ctx, CompRequest{TicketTypeID: tt.ID, OwnerID: "guest", Quantity: 2})
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	assert.True(t, tickets[0].IsComp)
	assert.NotEqual(t, tickets[0].Code, tickets[1].Code)
	assert.Equal(t, 2, f.ticketType(t, tt.ID).SoldCount)

	_, err = f.life.IssueComp(f.ctx, CompRequest{TicketTypeID: tt.ID, OwnerID: "guest", Quantity: 2})
	assert.ErrorIs(t, err, ErrInsufficientInventory)
	assert.Equal(t, 2, f.ticketType(t, tt.ID).SoldCount)
}

func TestQRCode(t *testing.T) {
	f := newFixture(t)
	tt := f.seedType(t, "day-fri", 6000, nil, "2026-06-20", "2026-06-19")
	tk := f.issue(t, tt.ID, "alice")

	_, err := f.life.QRCode(f.ctx, tk.ID, "bob")
	assert.ErrorIs(t, err, ErrForbidden)

	qr, err := f.life.QRCode(f.ctx, tk.ID, "alice")
	require.NoError(t, err)
	p, err := f.signer.Verify(qr)
	require.NoError(t, err)
	assert.Equal(t, tk.Code, p.TicketCode)
	assert.Equal(t, 1, p.Version)
	assert.ElementsMatch(t, []string{"2026-06-19", "2026-06-20"}, p.ValidDays)

	_, err = f.life.Cancel(f.ctx, tk.ID)
	require.NoError(t, err)
	_, err = f.life.QRCode(f.ctx, tk.ID, "alice")
	assert.ErrorIs(t, err, ErrInvalidState)
}
