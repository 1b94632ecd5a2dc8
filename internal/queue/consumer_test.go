package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestFormatNotification(t *testing.T) {
	cases := []struct {
		key  string
		body any
		want string
	}{
		{
			RoutingOrderFinalized,
			OrderFinalizedEvent{OrderNumber: "FTK-260619-ABCDEF", BuyerID: "u1", Status: "PAID", TicketCodes: []string{"T1", "T2"}, Seats: []string{"A1"}, TotalCents: 10300, FinalizedAt: "2026-06-19T18:00:00Z"},
			"[2026-06-19T18:00:00Z] Order confirmed | order=FTK-260619-ABCDEF | buyer=u1 | status=PAID | total=10300 cents | tickets=[T1,T2] | seats=[A1]",
		},
		{
			RoutingReconciliationRequired,
			ReconciliationRequiredEvent{OrderNumber: "FTK-1", PaymentReference: "pi_1", Cause: "hold expired", FlaggedAt: "2026-06-19T18:11:00Z"},
			`[2026-06-19T18:11:00Z] RECONCILIATION REQUIRED | order=FTK-1 | payment=pi_1 | cause="hold expired"`,
		},
		{
			RoutingTransferOffered,
			TransferOfferedEvent{TicketCode: "T1", FromUserID: "u1", ToEmail: "bob@example.com", ExpiresAt: "2026-06-22T18:00:00Z"},
			"Transfer offered | ticket=T1 | from=u1 | to=bob@example.com | expires=2026-06-22T18:00:00Z",
		},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			got, err := FormatNotification(tc.key, mustJSON(t, tc.body))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := FormatNotification("booking.confirmed", []byte(`{}`))
	assert.Error(t, err)
	_, err = FormatNotification(RoutingOrderFinalized, []byte(`not json`))
	assert.Error(t, err)
}

func TestHandleAppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "notifications.log")
	c := NewConsumer("amqp://unused", path, nil)

	body := mustJSON(t, TransferOfferedEvent{TicketCode: "T1"})
	require.NoError(t, c.Handle(RoutingTransferOffered, body))
	require.NoError(t, c.Handle(RoutingTransferOffered, body))
	assert.Error(t, c.Handle("unknown", body))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "ticket=T1")
}
