// Package router registers the HTTP routes of the API.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/festival-ticketing/internal/config"
	"github.com/iliyamo/festival-ticketing/internal/handler"
	"github.com/iliyamo/festival-ticketing/internal/middleware"
	"github.com/iliyamo/festival-ticketing/internal/model"
	"github.com/iliyamo/festival-ticketing/internal/repository"
)

// Deps is what route registration needs besides the handlers. Redis may be
// nil, in which case caching and rate limiting pass through.
type Deps struct {
	JWTSecret string
	Store     repository.Store
	Features  model.FeatureFlags
	Log       *zap.Logger
	Redis     *redis.Client
	RateLimit config.RateLimitConfig
	Cache     config.CacheConfig
	Gatherer  prometheus.Gatherer
	DB        handler.Pinger
}

// flags loads the event configuration and rejects the request when the
// named feature is switched off.
func (d Deps) flags(name string, enabled func(model.FeatureFlags) bool) []echo.MiddlewareFunc {
	return []echo.MiddlewareFunc{
		middleware.Flags(d.Store, d.Features, d.Log),
		middleware.RequireFeature(name, enabled),
	}
}

func salesOn(f model.FeatureFlags) bool     { return f.TicketSalesEnabled }
func transfersOn(f model.FeatureFlags) bool { return f.TransferEnabled }
func upgradesOn(f model.FeatureFlags) bool  { return f.UpgradeEnabled }
func refundsOn(f model.FeatureFlags) bool   { return f.RefundsEnabled }
func scanningOn(f model.FeatureFlags) bool  { return f.ScanningEnabled }

// RegisterRoutes registers routes that do not need a JWT: probes, metrics
// and the payment provider webhook, which authenticates by signature.
func RegisterRoutes(e *echo.Echo, w *handler.WebhookHandler, d Deps) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(d.DB))
	if d.Gatherer != nil {
		e.GET("/metrics", handler.Metrics(d.Gatherer))
	}
	e.POST("/v1/payments/webhook", w.Stripe)
}

// Register wires every route group onto e.
func Register(e *echo.Echo, h Handlers, d Deps) {
	RegisterRoutes(e, h.Webhook, d)
	RegisterCustomer(e, h.Checkout, h.Tickets, d)
	RegisterGate(e, h.Gate, d)
	RegisterStaff(e, h.Staff, d)
}

// Handlers groups the handler sets served by the API.
type Handlers struct {
	Checkout *handler.CheckoutHandler
	Tickets  *handler.TicketHandler
	Gate     *handler.GateHandler
	Staff    *handler.StaffHandler
	Webhook  *handler.WebhookHandler
}
