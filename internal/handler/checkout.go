package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/festival-ticketing/internal/service"
)

// AvailabilityInvalidator forgets cached availability answers.
type AvailabilityInvalidator interface {
	Invalidate(ctx context.Context, section string, date time.Time)
}

// CheckoutHandler serves the customer purchase flow: availability, seat
// holds and orders. Cache is optional.
type CheckoutHandler struct {
	Allocator *service.Allocator
	Finalizer *service.Finalizer
	Cache     AvailabilityInvalidator
	Log       *zap.Logger
}

func NewCheckoutHandler(alloc *service.Allocator, fin *service.Finalizer, log *zap.Logger) *CheckoutHandler {
	if alloc == nil || fin == nil {
		panic("nil service passed to NewCheckoutHandler")
	}
	return &CheckoutHandler{Allocator: alloc, Finalizer: fin, Log: log}
}

// Availability handles GET /v1/availability?section=&date=&qty=.
func (h *CheckoutHandler) Availability(c echo.Context) error {
	section := strings.TrimSpace(c.QueryParam("section"))
	if section == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "section is required"})
	}
	date, err := parseDate(c.QueryParam("date"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "date must be YYYY-MM-DD"})
	}
	qty := 1
	if q := c.QueryParam("qty"); q != "" {
		qty, err = strconv.Atoi(q)
		if err != nil || qty < 1 || qty > 20 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "qty must be between 1 and 20"})
		}
	}
	av, err := h.Allocator.CheckAvailability(c.Request().Context(), section, date, qty)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, av)
}

type holdRequest struct {
	SectionID  string `json:"section_id" validate:"required,max=64"`
	EventDate  string `json:"event_date" validate:"required"`
	Quantity   int    `json:"quantity" validate:"required,min=1,max=20"`
	SessionKey string `json:"session_key" validate:"max=128"`
}

// CreateHold handles POST /v1/holds.
func (h *CheckoutHandler) CreateHold(c echo.Context) error {
	uid, ok := getUserID(c)
	if !ok {
		return nil
	}
	var req holdRequest
	if ok, err := bind(c, &req); !ok {
		return err
	}
	date, err := parseDate(req.EventDate)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "event_date must be YYYY-MM-DD"})
	}
	hold, err := h.Allocator.CreateHold(c.Request().Context(), service.HoldRequest{
		SectionID:  req.SectionID,
		EventDate:  date,
		Quantity:   req.Quantity,
		UserID:     uid,
		SessionKey: req.SessionKey,
	})
	if err != nil {
		return writeError(c, h.Log, err)
	}
	if h.Cache != nil {
		h.Cache.Invalidate(c.Request().Context(), hold.SectionID, hold.EventDate)
	}
	return c.JSON(http.StatusCreated, toHoldView(hold))
}

// ReleaseHold handles DELETE /v1/holds/:id.
func (h *CheckoutHandler) ReleaseHold(c echo.Context) error {
	uid, ok := getUserID(c)
	if !ok {
		return nil
	}
	if err := h.Allocator.ReleaseHold(c.Request().Context(), c.Param("id"), uid); err != nil {
		return writeError(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// CreateOrder handles POST /v1/orders. Replaying the same idempotency key
// returns the first order.
func (h *CheckoutHandler) CreateOrder(c echo.Context) error {
	uid, ok := getUserID(c)
	if !ok {
		return nil
	}
	var req service.CreateOrderRequest
	if key := c.Request().Header.Get("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}
	if ok, err := bind(c, &req); !ok {
		return err
	}
	req.BuyerID = uid
	sum, err := h.Finalizer.CreateOrder(c.Request().Context(), req)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, toSummaryView(sum))
}

// GetOrder handles GET /v1/orders/:id.
func (h *CheckoutHandler) GetOrder(c echo.Context) error {
	uid, ok := getUserID(c)
	if !ok {
		return nil
	}
	sum, err := h.Finalizer.GetOrder(c.Request().Context(), c.Param("id"), uid)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, toSummaryView(sum))
}

type paymentRequest struct {
	PaymentReference string `json:"payment_reference" validate:"required,max=128"`
}

// AttachPayment handles POST /v1/orders/:id/payment, recording the
// provider's payment intent once the client has started paying.
func (h *CheckoutHandler) AttachPayment(c echo.Context) error {
	uid, ok := getUserID(c)
	if !ok {
		return nil
	}
	var req paymentRequest
	if ok, err := bind(c, &req); !ok {
		return err
	}
	ctx := c.Request().Context()
	if _, err := h.Finalizer.GetOrder(ctx, c.Param("id"), uid); err != nil {
		return writeError(c, h.Log, err)
	}
	o, err := h.Finalizer.AttachPayment(ctx, c.Param("id"), req.PaymentReference)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, toOrderView(o))
}

// CancelOrder handles POST /v1/orders/:id/cancel.
func (h *CheckoutHandler) CancelOrder(c echo.Context) error {
	uid, ok := getUserID(c)
	if !ok {
		return nil
	}
	o, err := h.Finalizer.CancelOrder(c.Request().Context(), c.Param("id"), uid)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, toOrderView(o))
}
