package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/festival-ticketing/internal/logger"
	"github.com/iliyamo/festival-ticketing/internal/metrics"
)

// Channel is the part of *amqp.Channel the publisher uses.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends JSON events to durable queues named after their routing
// key. It keeps one broker connection and opens a channel per message; a
// failed publish drops the connection and is retried with backoff.
type Publisher struct {
	url     string
	log     *zap.Logger
	metrics *metrics.Metrics
	retries uint64
	policy  func() backoff.BackOff

	mu   sync.Mutex
	conn *amqp.Connection
	open func() (Channel, error)
}

// NewPublisher returns a publisher for the broker at url. Nothing is dialled
// until the first Publish.
func NewPublisher(url string, log *zap.Logger, m *metrics.Metrics) *Publisher {
	p := &Publisher{url: url, log: logger.OrNop(log), metrics: m, retries: 3}
	p.open = p.openChannel
	p.policy = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	return p
}

func (p *Publisher) openChannel() (Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq: dial: %w", err)
		}
		p.conn = conn
	}
	ch, err := p.conn.Channel()
	if err != nil {
		_ = p.conn.Close()
		p.conn = nil
		return nil, fmt.Errorf("rabbitmq: channel open: %w", err)
	}
	return ch, nil
}

// Publish marshals event and delivers it persistently to routingKey.
func (p *Publisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("rabbitmq: marshal %s: %w", routingKey, err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	op := func() error { return p.publishOnce(ctx, routingKey, msg) }
	policy := backoff.WithContext(backoff.WithMaxRetries(p.policy(), p.retries), ctx)
	err = backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		logger.WithContext(ctx, p.log).Warn("publish retry",
			zap.String("routing_key", routingKey), zap.Duration("wait", wait), zap.Error(err))
	})
	p.metrics.Published(routingKey, err)
	return err
}

func (p *Publisher) publishOnce(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	ch, err := p.open()
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(routingKey, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq: queue declare %s: %w", routingKey, err)
	}
	if err := ch.PublishWithContext(ctx, "", routingKey, false, false, msg); err != nil {
		return fmt.Errorf("rabbitmq: publish %s: %w", routingKey, err)
	}
	return nil
}

// Close shuts the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}
