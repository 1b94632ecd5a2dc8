package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/festival-ticketing/internal/logger"
	"github.com/iliyamo/festival-ticketing/internal/middleware"
	"github.com/iliyamo/festival-ticketing/internal/model"
	"github.com/iliyamo/festival-ticketing/internal/repository"
	"github.com/iliyamo/festival-ticketing/internal/service"
)

// RequestValidator plugs go-playground/validator into echo so handlers can
// call c.Validate on bound request bodies.
type RequestValidator struct {
	v *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	return &RequestValidator{v: validator.New(validator.WithRequiredStructEnabled())}
}

func (rv *RequestValidator) Validate(i interface{}) error {
	return rv.v.Struct(i)
}

// bind decodes the request body into dst and validates it. When it returns
// false a 400 response has already been written.
func bind(c echo.Context, dst interface{}) (bool, error) {
	if err := c.Bind(dst); err != nil {
		return false, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+":"+fe.Tag())
			}
			return false, c.JSON(http.StatusBadRequest, echo.Map{"error": "validation failed", "fields": fields})
		}
		return false, c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	return true, nil
}

// getUserID returns the authenticated user or writes 401.
func getUserID(c echo.Context) (string, bool) {
	uid := middleware.UserID(c)
	if uid == "" {
		_ = c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
		return "", false
	}
	return uid, true
}

// parseDate reads a YYYY-MM-DD calendar date.
func parseDate(s string) (time.Time, error) {
	return time.Parse(model.DateLayout, s)
}

// writeError translates a service error into a status code. Unknown errors
// are logged and reported as 500 without detail.
func writeError(c echo.Context, log *zap.Logger, err error) error {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, service.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, service.ErrInsufficientInventory):
		status, code = http.StatusConflict, "insufficient_inventory"
	case errors.Is(err, service.ErrReconciliationRequired):
		status, code = http.StatusConflict, "reconciliation_required"
	case errors.Is(err, service.ErrContention), errors.Is(err, repository.ErrLockNotAvailable),
		errors.Is(err, repository.ErrLockTimeout), errors.Is(err, repository.ErrDeadlock):
		c.Response().Header().Set("Retry-After", "1")
		return c.JSON(http.StatusConflict, echo.Map{"error": "contention", "retryable": true})
	case errors.Is(err, service.ErrInvalidState), errors.Is(err, repository.ErrDuplicate):
		status, code = http.StatusConflict, "invalid_state"
	case errors.Is(err, service.ErrExpiredToken):
		status, code = http.StatusGone, "token_expired"
	case errors.Is(err, service.ErrHoldExpired):
		status, code = http.StatusGone, "hold_expired"
	case errors.Is(err, service.ErrSignatureInvalid):
		status, code = http.StatusBadRequest, "signature_invalid"
	case errors.Is(err, service.ErrFeatureDisabled):
		status, code = http.StatusServiceUnavailable, "feature_disabled"
	}
	if status == http.StatusInternalServerError {
		logger.WithContext(c.Request().Context(), logger.OrNop(log)).Error("request failed",
			zap.String("path", c.Path()), zap.Error(err))
		return c.JSON(status, echo.Map{"error": code})
	}
	return c.JSON(status, echo.Map{"error": code, "detail": err.Error()})
}
