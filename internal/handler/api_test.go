package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/iliyamo/festival-ticketing/internal/config"
	"github.com/iliyamo/festival-ticketing/internal/handler"
	"github.com/iliyamo/festival-ticketing/internal/metrics"
	"github.com/iliyamo/festival-ticketing/internal/model"
	"github.com/iliyamo/festival-ticketing/internal/repository"
	"github.com/iliyamo/festival-ticketing/internal/repository/memory"
	"github.com/iliyamo/festival-ticketing/internal/router"
	"github.com/iliyamo/festival-ticketing/internal/service"
	"github.com/iliyamo/festival-ticketing/internal/signer"
	"github.com/iliyamo/festival-ticketing/internal/utils"
)

const (
	jwtSecret     = "api-test-jwt-secret"
	webhookSecret = "whsec_api_test"
)

var showDay = time.Date(2026, 6, 19, 0, 0, 0, 0, time.UTC)

type api struct {
	e     *echo.Echo
	store *memory.Store
}

func newAPI(t *testing.T) *api {
	t.Helper()
	store := memory.New()
	sig, err := signer.New("api-test-signing-secret-0123")
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	now := func() time.Time { return time.Date(2026, 6, 19, 17, 30, 0, 0, time.UTC) }
	deps := service.Deps{Store: store, Metrics: m, Now: now}
	alloc := service.NewAllocator(deps, service.AllocatorConfig{})
	life := service.NewLifecycle(deps, sig, 0)
	scan := service.NewScanner(deps, sig, time.UTC)
	fin := service.NewFinalizer(deps, alloc, life, service.FinalizerConfig{
		ServiceFeeBPS:       service.DefaultServiceFeeBPS,
		GrantFestivalAccess: true,
	})

	e := echo.New()
	e.Validator = handler.NewRequestValidator()
	router.Register(e, router.Handlers{
		Checkout: handler.NewCheckoutHandler(alloc, fin, nil),
		Tickets:  handler.NewTicketHandler(life, nil),
		Gate:     handler.NewGateHandler(scan, nil),
		Staff:    handler.NewStaffHandler(life, fin, nil),
		Webhook:  handler.NewWebhookHandler(fin, webhookSecret, nil),
	}, router.Deps{
		JWTSecret: jwtSecret,
		Store:     store,
		Features:  model.AllFeatures(),
		RateLimit: config.RateLimitConfig{},
		Cache:     config.CacheConfig{},
		Gatherer:  reg,
	})
	return &api{e: e, store: store}
}

func token(t *testing.T, sub, role, device string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(jwtSecret, utils.TokenClaims{Subject: sub, Role: role, Device: device})
	require.NoError(t, err)
	return tok.Token
}

func (a *api) do(t *testing.T, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *strings.Reader
	switch b := body.(type) {
	case nil:
		rdr = strings.NewReader("")
	case string:
		rdr = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if tok != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (a *api) seedBlock(t *testing.T) {
	t.Helper()
	b := &model.SeatBlock{
		ID: uuid.NewString(), SectionID: "amph", SectionName: "Amphitheater", EventDate: showDay,
		RowStart: "A", RowEnd: "B", SeatStart: 1, SeatEnd: 5, PriceCents: 4500, IsActive: true,
	}
	seats, err := b.Seats()
	require.NoError(t, err)
	b.TotalSeats, b.AvailableSeats = len(seats), len(seats)
	require.NoError(t, a.store.WithTx(context.Background(), func(tx repository.Tx) error {
		return tx.InsertSeatBlock(context.Background(), b)
	}))
}

func (a *api) seedType(t *testing.T, slug string, price int64) string {
	t.Helper()
	tt := &model.TicketType{
		ID: uuid.NewString(), Slug: slug, Name: slug, Kind: model.KindDayPass,
		PriceCents: price, IsActive: true,
	}
	require.NoError(t, a.store.WithTx(context.Background(), func(tx repository.Tx) error {
		return tx.InsertTicketType(context.Background(), tt)
	}))
	return tt.ID
}

func (a *api) webhook(t *testing.T, eventID, typ, object string) *httptest.ResponseRecorder {
	t.Helper()
	payload := fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"data":{"object":%s}}`, eventID, typ, object)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: []byte(payload), Secret: webhookSecret})
	req := httptest.NewRequest(http.MethodPost, "/v1/payments/webhook", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

type orderBody struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Total    int64  `json:"total_cents"`
	Refunded int64  `json:"refunded_cents"`
	Tickets  []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Seat   string `json:"seat"`
		IsComp bool   `json:"is_comp"`
	} `json:"tickets"`
}

func TestProbes(t *testing.T) {
	a := newAPI(t)
	rec := a.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = a.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthAndRoles(t *testing.T) {
	a := newAPI(t)
	rec := a.do(t, http.MethodPost, "/v1/holds", "", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/staff/comps", token(t, "alice", "CUSTOMER", ""), map[string]any{})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/gate/commit", token(t, "alice", "CUSTOMER", ""), map[string]any{})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHoldValidation(t *testing.T) {
	a := newAPI(t)
	alice := token(t, "alice", "CUSTOMER", "")

	rec := a.do(t, http.MethodPost, "/v1/holds", alice, map[string]any{"section_id": "amph", "event_date": "2026-06-19", "quantity": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/holds", alice, map[string]any{"section_id": "amph", "event_date": "19/06/2026", "quantity": 2})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/v1/availability?section=amph&date=2026-06-19&qty=99", alice, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/holds", alice, map[string]any{"section_id": "amph", "event_date": "2026-06-19", "quantity": 2})
	assert.Equal(t, http.StatusConflict, rec.Code, "no blocks seeded")
	assert.Contains(t, rec.Body.String(), "insufficient_inventory")
}

func TestCheckoutPaymentAndGate(t *testing.T) {
	a := newAPI(t)
	a.seedBlock(t)
	alice := token(t, "alice", "CUSTOMER", "")
	gate := token(t, "gate-north", "SCANNER", "kiosk-1")

	rec := a.do(t, http.MethodGet, "/v1/availability?section=amph&date=2026-06-19&qty=2", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	av := decode[service.Availability](t, rec)
	assert.True(t, av.Available)
	assert.Equal(t, 10, av.AvailableSeats)

	rec = a.do(t, http.MethodPost, "/v1/holds", alice, map[string]any{"section_id": "amph", "event_date": "2026-06-19", "quantity": 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	hold := decode[struct {
		ID    string          `json:"id"`
		Seats []model.SeatRef `json:"seats"`
	}](t, rec)
	assert.Equal(t, []model.SeatRef{{Row: "A", Seat: 1}, {Row: "A", Seat: 2}}, hold.Seats)

	orderReq := map[string]any{"idempotency_key": "cart-1", "lines": []map[string]any{{"hold_id": hold.ID}}}
	rec = a.do(t, http.MethodPost, "/v1/orders", alice, orderReq)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decode[orderBody](t, rec)
	assert.Equal(t, "CREATED", order.Status)
	assert.Equal(t, int64(9270), order.Total)

	rec = a.do(t, http.MethodPost, "/v1/orders", alice, orderReq)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, order.ID, decode[orderBody](t, rec).ID, "same idempotency key, same order")

	bob := token(t, "bob", "CUSTOMER", "")
	rec = a.do(t, http.MethodGet, "/v1/orders/"+order.ID, bob, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/orders/"+order.ID+"/payment", alice, map[string]any{"payment_reference": "pi_123"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "PAYMENT_PENDING", decode[orderBody](t, rec).Status)

	intent := fmt.Sprintf(`{"id":"pi_123","object":"payment_intent","metadata":{"order_id":%q}}`, order.ID)
	rec = a.webhook(t, "evt_1", "payment_intent.succeeded", intent)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"outcome":"processed"}`, rec.Body.String())

	rec = a.webhook(t, "evt_1", "payment_intent.succeeded", intent)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"outcome":"duplicate"}`, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/v1/orders/"+order.ID, alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	paid := decode[orderBody](t, rec)
	assert.Equal(t, "PAID", paid.Status)
	require.Len(t, paid.Tickets, 4, "two seats plus two festival passes")

	var seatTicket string
	for _, tk := range paid.Tickets {
		if tk.Seat == "A1" {
			seatTicket = tk.ID
		}
	}
	require.NotEmpty(t, seatTicket)

	rec = a.do(t, http.MethodGet, "/v1/tickets/"+seatTicket+"/qr", bob, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = a.do(t, http.MethodGet, "/v1/tickets/"+seatTicket+"/qr", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	qr := decode[map[string]string](t, rec)["qr"]
	require.NotEmpty(t, qr)

	rec = a.do(t, http.MethodPost, "/v1/gate/validate", gate, map[string]any{"input": qr})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.ScanValid, decode[service.Decision](t, rec).Status)

	rec = a.do(t, http.MethodPost, "/v1/gate/commit", gate, map[string]any{"input": qr, "gate": "north"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	d := decode[service.Decision](t, rec)
	assert.Equal(t, model.ScanSuccess, d.Status)
	assert.True(t, d.CanEnter)
	assert.Equal(t, "A1", d.Seat)

	rec = a.do(t, http.MethodPost, "/v1/gate/commit", gate, map[string]any{"input": qr, "gate": "north", "device_id": "spoofed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.ScanAlreadyUsed, decode[service.Decision](t, rec).Status)

	logs := a.store.ScanLogs()
	require.Len(t, logs, 2)
	assert.Equal(t, "kiosk-1", logs[0].DeviceID, "device id comes from the token")
	assert.Equal(t, "kiosk-1", logs[1].DeviceID, "a body device_id cannot override the token")
	assert.Equal(t, "gate-north", logs[0].ScannerID)

	rec = a.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Contains(t, rec.Body.String(), "scans_total")
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	a := newAPI(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/payments/webhook",
		strings.NewReader(`{"id":"evt_x","object":"event","type":"payment_intent.succeeded","data":{"object":{}}}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.webhook(t, "evt_y", "customer.created", `{"id":"cus_1","object":"customer"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"outcome":"ignored"}`, rec.Body.String())
}

func TestWebhookRefundAndReplay(t *testing.T) {
	a := newAPI(t)
	typeID := a.seedType(t, "festival-sat", 5000)
	alice := token(t, "alice", "CUSTOMER", "")

	rec := a.do(t, http.MethodPost, "/v1/orders", alice, map[string]any{
		"idempotency_key": "cart-r", "lines": []map[string]any{{"ticket_type_id": typeID, "quantity": 2}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decode[orderBody](t, rec)

	intent := fmt.Sprintf(`{"id":"pi_r","object":"payment_intent","metadata":{"order_id":%q}}`, order.ID)
	rec = a.webhook(t, "evt_paid", "payment_intent.succeeded", intent)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Current API versions send the charge without its refund list.
	charge := fmt.Sprintf(`{"id":"ch_r","object":"charge","amount_refunded":2000,"payment_intent":"pi_r","metadata":{"order_id":%q}}`, order.ID)
	rec = a.webhook(t, "evt_refund_1", "charge.refunded", charge)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"outcome":"processed"}`, rec.Body.String())

	rec = a.webhook(t, "evt_refund_2", "charge.refunded", charge)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/v1/orders/"+order.ID, alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[orderBody](t, rec)
	assert.Equal(t, "PARTIALLY_REFUNDED", got.Status)
	assert.Equal(t, int64(2000), got.Refunded, "the same running total is applied once")

	empty := fmt.Sprintf(`{"id":"ch_r","object":"charge","amount_refunded":0,"metadata":{"order_id":%q}}`, order.ID)
	rec = a.webhook(t, "evt_refund_3", "charge.refunded", empty)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Another delivery of this event id is still being processed.
	now := time.Date(2026, 6, 19, 17, 30, 0, 0, time.UTC)
	require.NoError(t, a.store.WithTx(context.Background(), func(tx repository.Tx) error {
		return tx.InsertPaymentEvent(context.Background(), &model.PaymentEvent{
			ProviderEventID: "evt_busy", Type: model.EventPaymentSucceeded, OrderID: order.ID, ReceivedAt: now, AttemptedAt: now,
		})
	}))
	rec = a.webhook(t, "evt_busy", "payment_intent.succeeded", intent)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"outcome":"in_flight","retryable":true}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestCashOrderSettlement(t *testing.T) {
	a := newAPI(t)
	typeID := a.seedType(t, "festival-sun", 5000)
	buyer := token(t, "box-office", "CUSTOMER", "")
	staff := token(t, "staff-1", "STAFF", "")

	rec := a.do(t, http.MethodPost, "/v1/orders", buyer, map[string]any{
		"idempotency_key": "cash-1", "payment_method": "CASH",
		"lines": []map[string]any{{"ticket_type_id": typeID, "quantity": 1}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decode[orderBody](t, rec)

	rec = a.do(t, http.MethodPost, "/v1/staff/orders/"+order.ID+"/settle", staff, map[string]any{})
	assert.Equal(t, http.StatusConflict, rec.Code, "not finalized yet")

	rec = a.do(t, http.MethodPost, "/v1/staff/orders/"+order.ID+"/finalize", staff, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "PAYMENT_PENDING", decode[orderBody](t, rec).Status)

	rec = a.do(t, http.MethodPost, "/v1/staff/orders/"+order.ID+"/settle", staff, map[string]any{"reference": "till-3"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "PAID", decode[orderBody](t, rec).Status)

	rec = a.do(t, http.MethodPost, "/v1/staff/orders/"+order.ID+"/refund", staff,
		map[string]any{"refund_reference": "cash-back-1", "amount_cents": 1000, "reason": "weather"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "PARTIALLY_REFUNDED", decode[orderBody](t, rec).Status)
}

func TestTransferAndStaffFlows(t *testing.T) {
	a := newAPI(t)
	typeID := a.seedType(t, "festival-fri", 6000)
	staff := token(t, "staff-1", "STAFF", "")
	alice := token(t, "alice", "CUSTOMER", "")
	bob := token(t, "bob", "CUSTOMER", "")

	rec := a.do(t, http.MethodPost, "/v1/staff/comps", staff, map[string]any{"ticket_type_id": typeID, "owner_id": "alice", "quantity": 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	comps := decode[struct {
		Tickets []struct {
			ID     string `json:"id"`
			IsComp bool   `json:"is_comp"`
		} `json:"tickets"`
	}](t, rec).Tickets
	require.Len(t, comps, 2)
	assert.True(t, comps[0].IsComp)

	rec = a.do(t, http.MethodPost, "/v1/tickets/"+comps[0].ID+"/transfer", alice, map[string]any{"to_email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/tickets/"+comps[0].ID+"/transfer", alice, map[string]any{"to_email": "Bob@Example.com"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	offer := decode[service.TransferOffer](t, rec)
	require.NotEmpty(t, offer.Token)

	rec = a.do(t, http.MethodPost, "/v1/transfers/accept", bob, map[string]any{"token": offer.Token})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/v1/tickets/"+comps[0].ID+"/qr", alice, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = a.do(t, http.MethodGet, "/v1/tickets/"+comps[0].ID+"/qr", bob, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/staff/tickets/"+comps[1].ID+"/cancel", staff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"CANCELLED"`)
	rec = a.do(t, http.MethodPost, "/v1/staff/tickets/"+comps[1].ID+"/cancel", staff, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/staff/tickets/"+uuid.NewString()+"/cancel", staff, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFeatureFlagsGateRoutes(t *testing.T) {
	a := newAPI(t)
	a.seedBlock(t)
	flags := model.AllFeatures()
	flags.ScanningEnabled = false
	flags.TransferEnabled = false
	a.store.SetFeatureFlags(flags)

	gate := token(t, "gate-north", "SCANNER", "kiosk-1")
	rec := a.do(t, http.MethodPost, "/v1/gate/commit", gate, map[string]any{"input": "ABC", "gate": "north"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "feature_disabled")
	assert.Empty(t, a.store.ScanLogs())

	alice := token(t, "alice", "CUSTOMER", "")
	rec = a.do(t, http.MethodPost, "/v1/transfers/accept", alice, map[string]any{"token": "x"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = a.do(t, http.MethodGet, "/v1/availability?section=amph&date=2026-06-19", alice, nil)
	assert.Equal(t, http.StatusOK, rec.Code, "sales stay on")
}
