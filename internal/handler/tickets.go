package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/festival-ticketing/internal/service"
)

// TicketHandler serves ticket holders: QR codes, transfers and upgrades.
type TicketHandler struct {
	Lifecycle *service.Lifecycle
	Log       *zap.Logger
}

func NewTicketHandler(life *service.Lifecycle, log *zap.Logger) *TicketHandler {
	if life == nil {
		panic("nil lifecycle passed to NewTicketHandler")
	}
	return &TicketHandler{Lifecycle: life, Log: log}
}

// QRCode handles GET /v1/tickets/:id/qr and returns the signed payload the
// app renders as a QR image.
func (h *TicketHandler) QRCode(c echo.Context) error {
	uid, ok := getUserID(c)
	if !ok {
		return nil
	}
	qr, err := h.Lifecycle.QRCode(c.Request().Context(), c.Param("id"), uid)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return c.JSON(http.StatusOK, echo.Map{"qr": qr})
}

type transferRequest struct {
	ToEmail string `json:"to_email" validate:"required,email,max=254"`
}

// CreateTransfer handles POST /v1/tickets/:id/transfer. The token in the
// response is shown once; only its hash is stored.
func (h *TicketHandler) CreateTransfer(c echo.Context) error {
	uid, ok := getUserID(c)
	if !ok {
		return nil
	}
	var req transferRequest
	if ok, err := bind(c, &req); !ok {
		return err
	}
	offer, err := h.Lifecycle.CreateTransfer(c.Request().Context(), c.Param("id"), uid, req.ToEmail)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return c.JSON(http.StatusCreated, offer)
}

type acceptRequest struct {
	Token string `json:"token" validate:"required,max=128"`
}

// AcceptTransfer handles POST /v1/transfers/accept.
func (h *TicketHandler) AcceptTransfer(c echo.Context) error {
	uid, ok := getUserID(c)
	if !ok {
		return nil
	}
	var req acceptRequest
	if ok, err := bind(c, &req); !ok {
		return err
	}
	t, err := h.Lifecycle.AcceptTransfer(c.Request().Context(), req.Token, uid)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, toTicketView(*t))
}

// CancelTransfer handles DELETE /v1/transfers/:id.
func (h *TicketHandler) CancelTransfer(c echo.Context) error {
	uid, ok := getUserID(c)
	if !ok {
		return nil
	}
	if err := h.Lifecycle.CancelTransfer(c.Request().Context(), c.Param("id"), uid); err != nil {
		return writeError(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type upgradeRequest struct {
	ToTicketTypeID string `json:"to_ticket_type_id" validate:"required,max=64"`
}

// CreateUpgrade handles POST /v1/tickets/:id/upgrade. The upgrade completes
// when the price difference is paid.
func (h *TicketHandler) CreateUpgrade(c echo.Context) error {
	uid, ok := getUserID(c)
	if !ok {
		return nil
	}
	var req upgradeRequest
	if ok, err := bind(c, &req); !ok {
		return err
	}
	u, err := h.Lifecycle.CreateUpgrade(c.Request().Context(), c.Param("id"), req.ToTicketTypeID, uid)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, toUpgradeView(u))
}
