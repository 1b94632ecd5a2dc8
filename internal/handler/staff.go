package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/festival-ticketing/internal/model"
	"github.com/iliyamo/festival-ticketing/internal/service"
)

// StaffHandler serves box office and festival staff.
type StaffHandler struct {
	Lifecycle *service.Lifecycle
	Finalizer *service.Finalizer
	Log       *zap.Logger
}

func NewStaffHandler(life *service.Lifecycle, fin *service.Finalizer, log *zap.Logger) *StaffHandler {
	if life == nil || fin == nil {
		panic("nil service passed to NewStaffHandler")
	}
	return &StaffHandler{Lifecycle: life, Finalizer: fin, Log: log}
}

// IssueComp handles POST /v1/staff/comps.
func (h *StaffHandler) IssueComp(c echo.Context) error {
	var req service.CompRequest
	if ok, err := bind(c, &req); !ok {
		return err
	}
	tickets, err := h.Lifecycle.IssueComp(c.Request().Context(), req)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"tickets": toTicketViews(tickets)})
}

// CancelTicket handles POST /v1/staff/tickets/:id/cancel.
func (h *StaffHandler) CancelTicket(c echo.Context) error {
	t, err := h.Lifecycle.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, toTicketView(*t))
}

type completeUpgradeRequest struct {
	PaymentReference string `json:"payment_reference" validate:"max=128"`
}

// CompleteUpgrade handles POST /v1/staff/upgrades/:id/complete once the
// price difference has been collected.
func (h *StaffHandler) CompleteUpgrade(c echo.Context) error {
	var req completeUpgradeRequest
	if ok, err := bind(c, &req); !ok {
		return err
	}
	t, err := h.Lifecycle.CompleteUpgrade(c.Request().Context(), c.Param("id"), req.PaymentReference)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, toTicketView(*t))
}

// FinalizeCash handles POST /v1/staff/orders/:id/finalize for box office
// orders paid in cash. Card orders are finalized by the payment webhook.
func (h *StaffHandler) FinalizeCash(c echo.Context) error {
	ctx := c.Request().Context()
	sum, err := h.Finalizer.GetOrder(ctx, c.Param("id"), "")
	if err != nil {
		return writeError(c, h.Log, err)
	}
	if sum.Order.PaymentMethod != model.PaymentCash {
		return c.JSON(http.StatusConflict, echo.Map{"error": "invalid_state", "detail": "only cash orders are finalized by staff"})
	}
	res, err := h.Finalizer.Finalize(ctx, sum.Order.ID, "")
	if err != nil {
		return writeError(c, h.Log, err)
	}
	status := http.StatusCreated
	if res.AlreadyFinalized {
		status = http.StatusOK
	}
	return c.JSON(status, toSummaryView(&res.OrderSummary))
}

type settleRequest struct {
	Reference string `json:"reference" validate:"max=128"`
}

// SettleCash handles POST /v1/staff/orders/:id/settle when the cash for a
// finalized box office order has been banked.
func (h *StaffHandler) SettleCash(c echo.Context) error {
	var req settleRequest
	if ok, err := bind(c, &req); !ok {
		return err
	}
	o, err := h.Finalizer.SettleCash(c.Request().Context(), c.Param("id"), req.Reference)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, toOrderView(o))
}

type compUpgradeRequest struct {
	ToTicketTypeID string `json:"to_ticket_type_id" validate:"required,max=64"`
}

// CompUpgrade handles POST /v1/staff/tickets/:id/comp-upgrade.
func (h *StaffHandler) CompUpgrade(c echo.Context) error {
	var req compUpgradeRequest
	if ok, err := bind(c, &req); !ok {
		return err
	}
	t, err := h.Lifecycle.CompUpgrade(c.Request().Context(), c.Param("id"), req.ToTicketTypeID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, toTicketView(*t))
}

type refundRequest struct {
	RefundReference string `json:"refund_reference" validate:"required,max=128"`
	AmountCents     int64  `json:"amount_cents" validate:"required,min=1"`
	Reason          string `json:"reason" validate:"max=255"`
}

// RecordRefund handles POST /v1/staff/orders/:id/refund for refunds issued
// from the provider dashboard. The reference makes repeats harmless.
func (h *StaffHandler) RecordRefund(c echo.Context) error {
	var req refundRequest
	if ok, err := bind(c, &req); !ok {
		return err
	}
	o, err := h.Finalizer.ApplyRefund(c.Request().Context(), service.RefundRequest{
		OrderID:          c.Param("id"),
		ProviderRefundID: req.RefundReference,
		AmountCents:      req.AmountCents,
		Reason:           req.Reason,
	})
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, toOrderView(o))
}
