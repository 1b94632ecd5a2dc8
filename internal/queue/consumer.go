package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/festival-ticketing/internal/logger"
)

// NotificationQueues are the queues the notification consumer drains.
var NotificationQueues = []string{RoutingOrderFinalized, RoutingReconciliationRequired, RoutingTransferOffered}

// Consumer appends one line per event to a notification log. It stands in
// for the mailer: each line is what would be sent.
type Consumer struct {
	url     string
	logPath string
	log     *zap.Logger
	mu      sync.Mutex
}

func NewConsumer(url, logPath string, log *zap.Logger) *Consumer {
	if logPath == "" {
		logPath = filepath.Join("logs", "notifications.log")
	}
	return &Consumer{url: url, logPath: logPath, log: logger.OrNop(log)}
}

// Run consumes until ctx is cancelled, redialling the broker with backoff
// whenever the connection drops.
func (c *Consumer) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	for {
		conn, err := amqp.Dial(c.url)
		if err == nil {
			b.Reset()
			err = c.consumeLoop(ctx, conn)
			_ = conn.Close()
		}
		if ctx.Err() != nil {
			return nil
		}
		wait := b.NextBackOff()
		c.log.Warn("notification consumer disconnected", zap.Error(err), zap.Duration("retry_in", wait))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.log.Warn("set QoS failed", zap.Error(err))
	}

	deliveries := make(chan amqp.Delivery)
	var wg sync.WaitGroup
	for _, q := range NotificationQueues {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", q, err)
		}
		msgs, err := ch.Consume(q, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("queue consume %s: %w", q, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range msgs {
				select {
				case deliveries <- d:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(deliveries)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.Handle(d.RoutingKey, d.Body); err != nil {
				c.log.Error("notification failed", zap.String("queue", d.RoutingKey), zap.Error(err))
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Handle formats one message and appends it to the notification log.
func (c *Consumer) Handle(routingKey string, body []byte) error {
	line, err := FormatNotification(routingKey, body)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(c.logPath), 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(c.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// FormatNotification renders an event as a single log line.
func FormatNotification(routingKey string, body []byte) (string, error) {
	switch routingKey {
	case RoutingOrderFinalized:
		var ev OrderFinalizedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal %s: %w", routingKey, err)
		}
		return fmt.Sprintf("[%s] Order confirmed | order=%s | buyer=%s | status=%s | total=%d cents | tickets=[%s] | seats=[%s]",
			ev.FinalizedAt, ev.OrderNumber, ev.BuyerID, ev.Status, ev.TotalCents,
			strings.Join(ev.TicketCodes, ","), strings.Join(ev.Seats, ",")), nil
	case RoutingReconciliationRequired:
		var ev ReconciliationRequiredEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal %s: %w", routingKey, err)
		}
		return fmt.Sprintf("[%s] RECONCILIATION REQUIRED | order=%s | payment=%s | cause=%q",
			ev.FlaggedAt, ev.OrderNumber, ev.PaymentReference, ev.Cause), nil
	case RoutingTransferOffered:
		var ev TransferOfferedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal %s: %w", routingKey, err)
		}
		return fmt.Sprintf("Transfer offered | ticket=%s | from=%s | to=%s | expires=%s",
			ev.TicketCode, ev.FromUserID, ev.ToEmail, ev.ExpiresAt), nil
	}
	return "", fmt.Errorf("unknown routing key %q", routingKey)
}
