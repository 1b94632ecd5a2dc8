package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"

	"github.com/iliyamo/festival-ticketing/internal/logger"
	"github.com/iliyamo/festival-ticketing/internal/model"
	"github.com/iliyamo/festival-ticketing/internal/service"
)

const maxWebhookBody = 64 << 10

// WebhookHandler receives payment provider callbacks.
type WebhookHandler struct {
	Finalizer *service.Finalizer
	Secret    string
	Log       *zap.Logger
}

func NewWebhookHandler(fin *service.Finalizer, secret string, log *zap.Logger) *WebhookHandler {
	if fin == nil {
		panic("nil finalizer passed to NewWebhookHandler")
	}
	return &WebhookHandler{Finalizer: fin, Secret: secret, Log: log}
}

// Stripe handles POST /v1/payments/webhook. The Stripe-Signature header is
// verified before anything is decoded. A 2xx tells the provider to stop
// redelivering; a failed processing answers 500 so it retries.
func (h *WebhookHandler) Stripe(c echo.Context) error {
	log := logger.WithContext(c.Request().Context(), logger.OrNop(h.Log))
	if h.Secret == "" {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "webhook not configured"})
	}
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody+1))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body"})
	}
	if len(payload) > maxWebhookBody {
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{"error": "body too large"})
	}
	event, err := webhook.ConstructEventWithOptions(payload, c.Request().Header.Get("Stripe-Signature"), h.Secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		log.Warn("webhook signature rejected", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "signature_invalid"})
	}

	in, err := paymentEvent(event)
	if err != nil {
		log.Warn("webhook payload rejected", zap.String("event_id", event.ID), zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid payload"})
	}
	if in.OrderID == "" {
		log.Info("webhook event ignored", zap.String("event_id", event.ID), zap.String("type", in.Type))
		return c.JSON(http.StatusOK, echo.Map{"outcome": service.OutcomeIgnored})
	}

	outcome, err := h.Finalizer.HandlePaymentEvent(c.Request().Context(), in)
	if err != nil {
		log.Error("webhook processing failed", zap.String("event_id", event.ID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "processing_failed"})
	}
	if outcome == service.OutcomeInFlight {
		c.Response().Header().Set("Retry-After", "30")
		return c.JSON(http.StatusConflict, echo.Map{"outcome": outcome, "retryable": true})
	}
	return c.JSON(http.StatusOK, echo.Map{"outcome": outcome})
}

var errNoRefund = errors.New("charge.refunded without a refunded amount")

// paymentEvent extracts what the finalizer needs from a verified event. An
// event that carries no order id comes back with OrderID empty.
func paymentEvent(e stripe.Event) (service.PaymentEventInput, error) {
	in := service.PaymentEventInput{ProviderEventID: e.ID, Type: string(e.Type)}
	if e.Data == nil {
		return in, nil
	}
	switch in.Type {
	case model.EventPaymentSucceeded, model.EventPaymentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(e.Data.Raw, &pi); err != nil {
			return in, err
		}
		in.OrderID = pi.Metadata["order_id"]
		in.PaymentReference = pi.ID
	case model.EventChargeRefunded:
		var ch stripe.Charge
		if err := json.Unmarshal(e.Data.Raw, &ch); err != nil {
			return in, err
		}
		in.OrderID = ch.Metadata["order_id"]
		if ch.PaymentIntent != nil {
			in.PaymentReference = ch.PaymentIntent.ID
		}
		switch {
		case ch.Refunds != nil && len(ch.Refunds.Data) > 0:
			// Stripe lists the most recent refund first.
			r := ch.Refunds.Data[0]
			in.ProviderRefundID = r.ID
			in.AmountCents = r.Amount
			in.Reason = string(r.Reason)
		case ch.AmountRefunded > 0:
			// Newer API versions leave the refund list out of the charge.
			// The running total is applied against what the order records.
			in.ProviderRefundID = "evt:" + e.ID
			in.RefundedTotalCents = ch.AmountRefunded
		default:
			return in, errNoRefund
		}
	}
	return in, nil
}
