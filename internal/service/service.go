// Package service implements festival ticketing: seat allocation with
// time-bounded holds, the ticket state machine, exactly-once gate scans and
// idempotent order finalization. All coordination goes through row locks of
// the repository.Store; services hold no shared mutable state.
package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/iliyamo/festival-ticketing/internal/logger"
	"github.com/iliyamo/festival-ticketing/internal/metrics"
	"github.com/iliyamo/festival-ticketing/internal/repository"
)

// Publisher sends an event to the broker after a transaction commits.
// Failures are logged and never undo the committed work.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, any) error { return nil }

// Deps are the collaborators shared by every service. Only Store is
// required.
type Deps struct {
	Store     repository.Store
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Publisher Publisher
	Now       func() time.Time
}

func (d Deps) withDefaults() Deps {
	d.Logger = logger.OrNop(d.Logger)
	if d.Publisher == nil {
		d.Publisher = nopPublisher{}
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	return d
}

var tracer = otel.Tracer("github.com/iliyamo/festival-ticketing/internal/service")

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// endSpan records err on span and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (d Deps) publish(ctx context.Context, routingKey string, event any) {
	err := d.Publisher.Publish(ctx, routingKey, event)
	if err != nil {
		logger.WithContext(ctx, d.Logger).Warn("publish failed",
			zap.String("routing_key", routingKey), zap.Error(err))
	}
}
