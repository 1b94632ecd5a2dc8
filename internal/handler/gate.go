package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/festival-ticketing/internal/middleware"
	"github.com/iliyamo/festival-ticketing/internal/model"
	"github.com/iliyamo/festival-ticketing/internal/service"
)

// GateHandler serves scanner devices at the venue gates.
type GateHandler struct {
	Scanner *service.Scanner
	Log     *zap.Logger
}

func NewGateHandler(s *service.Scanner, log *zap.Logger) *GateHandler {
	if s == nil {
		panic("nil scanner passed to NewGateHandler")
	}
	return &GateHandler{Scanner: s, Log: log}
}

type validateRequest struct {
	Input string `json:"input" validate:"required,max=4096"`
}

// Validate handles POST /v1/gate/validate. It shows what a commit would
// decide without consuming the ticket.
func (h *GateHandler) Validate(c echo.Context) error {
	var req validateRequest
	if ok, err := bind(c, &req); !ok {
		return err
	}
	d, err := h.Scanner.Validate(c.Request().Context(), req.Input)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, d)
}

// Commit handles POST /v1/gate/commit. Every admission decision is a 200
// except CONTENTION, which is a retryable 409. The device named by the
// token outranks any device_id in the body.
func (h *GateHandler) Commit(c echo.Context) error {
	device := middleware.DeviceID(c)
	req := service.CommitRequest{DeviceID: device}
	if ok, err := bind(c, &req); !ok {
		return err
	}
	if device != "" {
		req.DeviceID = device
	}
	req.ScannerID = middleware.UserID(c)
	d, err := h.Scanner.Commit(c.Request().Context(), req)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	if d.Status == model.ScanContention {
		c.Response().Header().Set("Retry-After", "1")
		return c.JSON(http.StatusConflict, d)
	}
	return c.JSON(http.StatusOK, d)
}
