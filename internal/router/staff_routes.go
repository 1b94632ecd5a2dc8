package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/festival-ticketing/internal/handler"
	"github.com/iliyamo/festival-ticketing/internal/middleware"
)

// RegisterStaff registers STAFF-scoped endpoints under /v1/staff.
func RegisterStaff(e *echo.Echo, s *handler.StaffHandler, d Deps) {
	g := e.Group(
		"/v1/staff",
		middleware.JWTAuth(d.JWTSecret),
		middleware.RequireRole(middleware.RoleStaff),
	)

	// ---- Tickets ----
	g.POST("/comps", s.IssueComp)
	g.POST("/tickets/:id/cancel", s.CancelTicket)

	// ---- Orders ----
	g.POST("/orders/:id/finalize", s.FinalizeCash)
	g.POST("/orders/:id/settle", s.SettleCash)
	g.POST("/orders/:id/refund", s.RecordRefund, d.flags("refunds", refundsOn)...)

	// ---- Upgrades ----
	upgrades := g.Group("", d.flags("upgrades", upgradesOn)...)
	upgrades.POST("/upgrades/:id/complete", s.CompleteUpgrade)
	upgrades.POST("/tickets/:id/comp-upgrade", s.CompUpgrade)
}
