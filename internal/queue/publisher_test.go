package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	declared  []string
	published []amqp.Publishing
	keys      []string
	failures  int
	closed    int
}

func (c *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	if !durable {
		return amqp.Queue{}, errors.New("queue must be durable")
	}
	c.declared = append(c.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if c.failures > 0 {
		c.failures--
		return amqp.ErrClosed
	}
	c.keys = append(c.keys, key)
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed++
	return nil
}

func testPublisher(ch *fakeChannel) *Publisher {
	p := NewPublisher("amqp://unused", nil, nil)
	p.open = func() (Channel, error) { return ch, nil }
	p.policy = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return p
}

func TestPublishDeliversPersistentJSON(t *testing.T) {
	ch := &fakeChannel{}
	p := testPublisher(ch)

	ev := TransferOfferedEvent{TransferID: "tr-1", TicketCode: "ABC", ToEmail: "bob@example.com"}
	require.NoError(t, p.Publish(context.Background(), RoutingTransferOffered, ev))

	require.Len(t, ch.published, 1)
	msg := ch.published[0]
	assert.Equal(t, []string{RoutingTransferOffered}, ch.declared)
	assert.Equal(t, []string{RoutingTransferOffered}, ch.keys)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)

	var got TransferOfferedEvent
	require.NoError(t, json.Unmarshal(msg.Body, &got))
	assert.Equal(t, ev, got)
	assert.NotContains(t, string(msg.Body), "token")
	assert.Equal(t, 1, ch.closed)
}

func TestPublishRetriesTransientFailures(t *testing.T) {
	ch := &fakeChannel{failures: 2}
	p := testPublisher(ch)

	require.NoError(t, p.Publish(context.Background(), RoutingOrderFinalized, OrderFinalizedEvent{OrderID: "o-1"}))
	assert.Len(t, ch.published, 1)
	assert.Equal(t, 3, ch.closed)
}

func TestPublishGivesUp(t *testing.T) {
	ch := &fakeChannel{failures: 10}
	p := testPublisher(ch)

	err := p.Publish(context.Background(), RoutingOrderFinalized, OrderFinalizedEvent{})
	assert.ErrorIs(t, err, amqp.ErrClosed)
	assert.Empty(t, ch.published)
	assert.Equal(t, 4, ch.closed)
}

func TestPublishRejectsUnmarshalableEvent(t *testing.T) {
	p := testPublisher(&fakeChannel{})
	err := p.Publish(context.Background(), RoutingOrderFinalized, func() {})
	assert.Error(t, err)
}
