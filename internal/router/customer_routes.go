package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/festival-ticketing/internal/handler"
	"github.com/iliyamo/festival-ticketing/internal/middleware"
)

// RegisterCustomer registers customer-scoped endpoints under /v1. All routes
// require a valid JWT and the CUSTOMER role; each sub-group is switched off
// by its feature flag.
func RegisterCustomer(e *echo.Echo, co *handler.CheckoutHandler, t *handler.TicketHandler, d Deps) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(d.JWTSecret),
		middleware.RequireRole(middleware.RoleCustomer),
	)

	sales := g.Group("", d.flags("ticket sales", salesOn)...)
	sales.GET("/availability", co.Availability, middleware.NewAvailabilityCache(d.Cache, d.Redis).Middleware())
	sales.POST("/holds", co.CreateHold)
	sales.DELETE("/holds/:id", co.ReleaseHold)
	sales.POST("/orders", co.CreateOrder)
	sales.POST("/orders/:id/payment", co.AttachPayment)

	// Reading and cancelling an order stays possible while sales are closed.
	g.GET("/orders/:id", co.GetOrder)
	g.POST("/orders/:id/cancel", co.CancelOrder)
	g.GET("/tickets/:id/qr", t.QRCode)

	transfers := g.Group("", d.flags("transfers", transfersOn)...)
	transfers.POST("/tickets/:id/transfer", t.CreateTransfer)
	transfers.POST("/transfers/accept", t.AcceptTransfer)
	transfers.DELETE("/transfers/:id", t.CancelTransfer)

	upgrades := g.Group("", d.flags("upgrades", upgradesOn)...)
	upgrades.POST("/tickets/:id/upgrade", t.CreateUpgrade)
}
