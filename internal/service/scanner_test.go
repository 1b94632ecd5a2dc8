package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/festival-ticketing/internal/model"
	"github.com/iliyamo/festival-ticketing/internal/repository"
)

func gateReq(input string) CommitRequest {
	return CommitRequest{Input: input, ScannerID: "staff-1", Gate: "north", DeviceID: "dev-1"}
}

func countResults(logs []model.ScanLog) map[model.ScanResult]int {
	out := map[model.ScanResult]int{}
	for _, l := range logs {
		out[l.Result]++
	}
	return out
}

func TestCommitExactlyOnceUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	tt := f.seedType(t, "day-fri", 6000, nil, "2026-06-19")
	tk := f.issue(t, tt.ID, "alice")

	const devices = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = map[model.ScanResult]int{}
	)
	for i := 0; i < devices; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := f.scan.Commit(f.ctx, gateReq(tk.Code))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			results[d.Status]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, results[model.ScanSuccess])
	assert.Equal(t, devices-1, results[model.ScanAlreadyUsed]+results[model.ScanContention])

	logs := f.store.ScanLogs()
	assert.Len(t, logs, devices)
	assert.Equal(t, 1, countResults(logs)[model.ScanSuccess])

	got := f.ticket(t, tk.ID)
	assert.Equal(t, model.TicketUsed, got.Status)
	require.NotNil(t, got.UsedAt)
}

func TestCommitChecksInOrder(t *testing.T) {
	f := newFixture(t)
	fri := f.seedType(t, "day-fri", 6000, nil, "2026-06-19")
	sat := f.seedType(t, "day-sat", 6000, nil, "2026-06-20")

	withStatus := func(s model.TicketStatus) *model.Ticket {
		tk := f.issue(t, fri.ID, "alice")
		tk.Status = s
		if s == model.TicketUsed {
			at := time.Date(2026, 6, 19, 17, 42, 0, 0, time.UTC)
			tk.UsedAt = &at
		}
		f.tx(t, func(tx repository.Tx) error { return tx.UpdateTicket(f.ctx, tk) })
		return tk
	}

	cases := []struct {
		name    string
		ticket  *model.Ticket
		want    model.ScanResult
		message string
	}{
		{"used", withStatus(model.TicketUsed), model.ScanAlreadyUsed, "Ticket already used at 17:42"},
		{"refunded", withStatus(model.TicketRefunded), model.ScanRefunded, "Ticket was refunded"},
		{"cancelled", withStatus(model.TicketCancelled), model.ScanCancelled, "Ticket was cancelled"},
		{"transfer pending", withStatus(model.TicketTransferPending), model.ScanTransferPending, "Ticket is being transferred"},
		{"wrong day", f.issue(t, sat.ID, "alice"), model.ScanWrongDay, "Not valid on 2026-06-19 (valid: 2026-06-20)"},
		{"success", f.issue(t, fri.ID, "alice"), model.ScanSuccess, "Welcome"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := f.scan.Commit(f.ctx, gateReq(tc.ticket.Code))
			require.NoError(t, err)
			assert.Equal(t, tc.want, d.Status)
			assert.Equal(t, tc.message, d.Message)
			assert.Equal(t, tc.want == model.ScanSuccess, d.CanEnter)
		})
	}
	assert.Len(t, f.store.ScanLogs(), len(cases))
}

func TestCommitUnknownAndForgedInput(t *testing.T) {
	f := newFixture(t)

	d, err := f.scan.Commit(f.ctx, gateReq("NOPE1234"))
	require.NoError(t, err)
	assert.Equal(t, model.ScanNotFound, d.Status)

	d, err = f.scan.Commit(f.ctx, gateReq(`{"payload":{"ticket_code":"X"},"signature":"00"}`))
	require.NoError(t, err)
	assert.Equal(t, model.ScanSignatureInvalid, d.Status)

	logs := f.store.ScanLogs()
	require.Len(t, logs, 2)
	for _, l := range logs {
		assert.Nil(t, l.TicketID)
		assert.Equal(t, "north", l.Gate)
		assert.Equal(t, "staff-1", l.ScannerID)
	}
	assert.Equal(t, "NOPE1234", logs[0].Code)
	assert.Empty(t, logs[1].Code)
}

func TestCommitSignedQR(t *testing.T) {
	f := newFixture(t)
	tt := f.seedType(t, "day-fri", 6000, nil, "2026-06-19")
	tk := f.issue(t, tt.ID, "alice")

	qr, err := f.life.QRCode(f.ctx, tk.ID, "alice")
	require.NoError(t, err)

	offer, err := f.life.CreateTransfer(f.ctx, tk.ID, "alice", "bob@example.com")
	require.NoError(t, err)
	_, err = f.life.AcceptTransfer(f.ctx, offer.Token, "bob")
	require.NoError(t, err)

	d, err := f.scan.Commit(f.ctx, gateReq(qr))
	require.NoError(t, err)
	assert.Equal(t, model.ScanSignatureInvalid, d.Status, "sender's QR is superseded")

	fresh, err := f.life.QRCode(f.ctx, tk.ID, "bob")
	require.NoError(t, err)
	d, err = f.scan.Commit(f.ctx, gateReq(fresh))
	require.NoError(t, err)
	assert.Equal(t, model.ScanSuccess, d.Status)
}

func TestValidateHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	tt := f.seedType(t, "day-fri", 6000, nil)
	tk := f.issue(t, tt.ID, "alice")

	for i := 0; i < 3; i++ {
		d, err := f.scan.Validate(f.ctx, "https://gate.example/scan?code="+tk.Code+"&src=app")
		require.NoError(t, err)
		assert.Equal(t, model.ScanValid, d.Status)
		assert.True(t, d.CanEnter)
	}
	assert.Empty(t, f.store.ScanLogs())
	assert.Equal(t, model.TicketIssued, f.ticket(t, tk.ID).Status)

	d, err := f.scan.Validate(f.ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, model.ScanNotFound, d.Status)
	assert.Equal(t, "MISSING", d.TicketCode)
}

func TestCommitSeatedCompanion(t *testing.T) {
	f := newFixture(t)
	seatType := f.seedType(t, "amphitheater-2026-06-19", 0, nil, "2026-06-19")
	comp := f.seedType(t, "festival-day-2026-06-19-comp", 0, nil, "2026-06-19")
	var seat, pass *model.Ticket
	f.tx(t, func(tx repository.Tx) error {
		var err error
		seat, err = f.life.IssueTx(f.ctx, tx, IssueParams{
			TicketTypeID: seatType.ID, OwnerID: "alice",
			Seat: &model.SeatAssignment{BlockID: "b", Row: "C", Seat: 12, EventDate: lawnDay},
		})
		if err != nil {
			return err
		}
		pass, err = f.life.IssueTx(f.ctx, tx, IssueParams{TicketTypeID: comp.ID, OwnerID: "alice", IsComp: true, CompanionOf: &seat.ID})
		return err
	})

	d, err := f.scan.Commit(f.ctx, gateReq(seat.Code))
	require.NoError(t, err)
	assert.Equal(t, "Welcome, seat C12", d.Message)
	assert.Equal(t, "C12", d.Seat)

	d, err = f.scan.Commit(f.ctx, gateReq(pass.Code))
	require.NoError(t, err)
	assert.Equal(t, "Welcome (festival access granted with amphitheater seat)", d.Message)
}

func TestCommitContention(t *testing.T) {
	f := newFixture(t)
	tt := f.seedType(t, "day-fri", 6000, nil)
	tk := f.issue(t, tt.ID, "alice")

	locked, release := make(chan struct{}), make(chan struct{})
	done := make(chan error)
	go func() {
		done <- f.store.WithTx(context.Background(), func(tx repository.Tx) error {
			if _, err := tx.LockTicket(f.ctx, tk.ID); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	d, err := f.scan.Commit(f.ctx, gateReq(tk.Code))
	require.NoError(t, err)
	assert.Equal(t, model.ScanContention, d.Status)
	assert.True(t, d.Retryable)
	close(release)
	require.NoError(t, <-done)

	logs := f.store.ScanLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, model.ScanContention, logs[0].Result)
	assert.Equal(t, model.TicketIssued, f.ticket(t, tk.ID).Status)

	d, err = f.scan.Commit(f.ctx, gateReq(tk.Code))
	require.NoError(t, err)
	assert.Equal(t, model.ScanSuccess, d.Status)
}

type scriptedCommitter struct {
	results []Decision
	err     error
	calls   int
}

func (c *scriptedCommitter) Commit(context.Context, CommitRequest) (Decision, error) {
	c.calls++
	if c.err != nil {
		return Decision{}, c.err
	}
	d := c.results[len(c.results)-1]
	if c.calls <= len(c.results) {
		d = c.results[c.calls-1]
	}
	return d, nil
}

func TestRetryCommit(t *testing.T) {
	contention := Decision{Status: model.ScanContention, Retryable: true}
	success := Decision{Status: model.ScanSuccess, CanEnter: true}
	policy := func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3) }

	c := &scriptedCommitter{results: []Decision{contention, contention, success}}
	d, err := RetryCommit(context.Background(), c, gateReq("X"), policy())
	require.NoError(t, err)
	assert.Equal(t, model.ScanSuccess, d.Status)
	assert.Equal(t, 3, c.calls)

	c = &scriptedCommitter{results: []Decision{contention}}
	d, err = RetryCommit(context.Background(), c, gateReq("X"), policy())
	require.NoError(t, err)
	assert.Equal(t, model.ScanContention, d.Status)
	assert.Equal(t, 4, c.calls)

	boom := errors.New("boom")
	c = &scriptedCommitter{err: boom}
	_, err = RetryCommit(context.Background(), c, gateReq("X"), policy())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, c.calls)
}
