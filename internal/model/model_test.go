package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowLabels(t *testing.T) {
	tests := []struct {
		index int
		label string
	}{
		{0, "A"},
		{25, "Z"},
		{26, "AA"},
		{27, "AB"},
		{701, "ZZ"},
		{702, "AAA"},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.label, IndexToRowLabel(tt.index))
			got, ok := RowLabelToIndex(tt.label)
			require.True(t, ok)
			assert.Equal(t, tt.index, got)
		})
	}

	_, ok := RowLabelToIndex("")
	assert.False(t, ok)
	_, ok = RowLabelToIndex("A1")
	assert.False(t, ok)
	assert.Equal(t, "", IndexToRowLabel(-1))
}

func TestSeatBlockSeatsRowMajor(t *testing.T) {
	b := SeatBlock{ID: "b1", RowStart: "C", RowEnd: "D", SeatStart: 10, SeatEnd: 12}
	seats, err := b.Seats()
	require.NoError(t, err)
	want := []SeatRef{
		{"C", 10}, {"C", 11}, {"C", 12},
		{"D", 10}, {"D", 11}, {"D", 12},
	}
	assert.Equal(t, want, seats)

	_, err = SeatBlock{ID: "bad", RowStart: "D", RowEnd: "C", SeatStart: 1, SeatEnd: 2}.Seats()
	assert.Error(t, err)
}

func TestSeatBlockCounters(t *testing.T) {
	b := SeatBlock{ID: "b1", TotalSeats: 3, AvailableSeats: 3}
	require.NoError(t, b.Hold(2))
	assert.True(t, b.Balanced())
	assert.Equal(t, 1, b.AvailableSeats)
	assert.Equal(t, 2, b.HeldSeats)

	assert.Error(t, b.Hold(2))
	assert.Error(t, b.Release(3))

	require.NoError(t, b.Sell(1))
	require.NoError(t, b.Release(1))
	assert.True(t, b.Balanced())
	assert.Equal(t, SeatBlock{ID: "b1", TotalSeats: 3, AvailableSeats: 2, SoldSeats: 1}, b)
}

func TestTicketTransitions(t *testing.T) {
	tests := []struct {
		from, to TicketStatus
		ok       bool
	}{
		{TicketIssued, TicketTransferPending, true},
		{TicketTransferPending, TicketIssued, true},
		{TicketIssued, TicketUsed, true},
		{TicketIssued, TicketCancelled, true},
		{TicketIssued, TicketRefunded, true},
		{TicketTransferPending, TicketUsed, false},
		{TicketUsed, TicketIssued, false},
		{TicketCancelled, TicketIssued, false},
		{TicketRefunded, TicketUsed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to))
		})
	}
	assert.True(t, TicketUsed.Terminal())
	assert.False(t, TicketTransferPending.Terminal())
}

func TestTicketTransitionSetsUsedAt(t *testing.T) {
	now := time.Date(2026, 6, 19, 18, 30, 0, 0, time.UTC)
	tk := Ticket{Code: "X", Status: TicketIssued}
	require.NoError(t, tk.Transition(TicketUsed, now))
	require.NotNil(t, tk.UsedAt)
	assert.Equal(t, now, *tk.UsedAt)
	assert.Error(t, tk.Transition(TicketIssued, now))
}

func TestTicketValidOn(t *testing.T) {
	day := time.Date(2026, 6, 19, 0, 0, 0, 0, time.UTC)
	tt := TicketType{ValidDays: []string{"2026-06-20"}}

	seated := Ticket{Seat: &SeatAssignment{EventDate: day}}
	assert.True(t, seated.ValidOn("2026-06-19", tt))
	assert.False(t, seated.ValidOn("2026-06-20", tt))

	general := Ticket{}
	assert.True(t, general.ValidOn("2026-06-20", tt))
	assert.False(t, general.ValidOn("2026-06-19", tt))
	assert.True(t, general.ValidOn("2026-06-19", TicketType{}))
}

func TestTicketTypeSale(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	start := now.Add(time.Hour)
	capacity := 5

	tt := TicketType{IsActive: true, Capacity: &capacity, SoldCount: 4}
	assert.True(t, tt.OnSale(now))
	assert.True(t, tt.CanSell(1))
	assert.False(t, tt.CanSell(2))

	tt.SaleStartsAt = &start
	assert.False(t, tt.OnSale(now))

	unlimited := TicketType{IsActive: true}
	_, limited := unlimited.Remaining()
	assert.False(t, limited)
	assert.True(t, unlimited.CanSell(1_000_000))
}

func TestHoldExpiry(t *testing.T) {
	now := time.Now()
	h := SeatHold{IsActive: true, ExpiresAt: now}
	assert.True(t, h.Expired(now))
	assert.False(t, h.Live(now))
	assert.True(t, h.Live(now.Add(-time.Second)))

	h.Close(HoldReleased, now)
	assert.False(t, h.IsActive)
	assert.Equal(t, HoldReleased, h.CloseReason)
}
