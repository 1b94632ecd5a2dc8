package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/festival-ticketing/internal/handler"
	"github.com/iliyamo/festival-ticketing/internal/middleware"
)

// RegisterGate registers the scanner device endpoints under /v1/gate. The
// token bucket runs after JWTAuth so buckets are keyed by the device claim.
func RegisterGate(e *echo.Echo, h *handler.GateHandler, d Deps) {
	mw := []echo.MiddlewareFunc{
		middleware.JWTAuth(d.JWTSecret),
		middleware.RequireRole(middleware.RoleScanner, middleware.RoleStaff),
		middleware.NewTokenBucket(d.RateLimit, d.Redis, d.Log),
	}
	g := e.Group("/v1/gate", append(mw, d.flags("scanning", scanningOn)...)...)
	g.POST("/validate", h.Validate)
	g.POST("/commit", h.Commit)
}
