// Package mq wraps the AMQP broker every node process shares. Exchanges are
// topic exchanges and queues are durable, so restarts lose neither the
// topology nor unacknowledged work.
package mq

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

var log = logrus.WithField("prefix", "mq")

// Broker is the publish surface services depend on. Tests swap in fakes.
type Broker interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

// Consumer is the delivery surface services depend on.
type Consumer interface {
	Consume(queue string, prefetch int) (<-chan amqp.Delivery, error)
}

// Client owns one AMQP connection. Publishes share a single channel behind
// a mutex; each consumer gets a dedicated channel with its own prefetch.
type Client struct {
	conn *amqp.Connection

	mu      sync.Mutex
	pubCh   *amqp.Channel
	closing bool
}

var _ Broker = (*Client)(nil)
var _ Consumer = (*Client)(nil)

// Dial connects to the broker, retrying with exponential backoff until the
// context is cancelled.
func Dial(ctx context.Context, url string) (*Client, error) {
	var conn *amqp.Connection
	dial := func() error {
		var err error
		conn, err = amqp.Dial(url)
		return err
	}
	notify := func(err error, next time.Duration) {
		log.WithError(err).WithField("retryIn", next).Warn("Broker unreachable")
	}
	bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.RetryNotify(dial, bo, notify); err != nil {
		return nil, errors.Wrap(err, "could not connect to broker")
	}
	pubCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "could not open publish channel")
	}
	c := &Client{conn: conn, pubCh: pubCh}
	go c.watchClose()
	return c, nil
}

func (c *Client) watchClose() {
	err := <-c.conn.NotifyClose(make(chan *amqp.Error, 1))
	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()
	if err != nil && !closing {
		log.WithError(err).Error("Broker connection lost")
	}
}

// DeclareExchange declares a durable topic exchange. Safe to call from every
// process that publishes or consumes on it.
func (c *Client) DeclareExchange(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.pubCh.ExchangeDeclare(name, "topic", true, false, false, false, nil)
	return errors.Wrapf(err, "could not declare exchange %s", name)
}

// DeclareQueue declares a durable queue on a topic exchange and binds it to
// every routing key.
func (c *Client) DeclareQueue(exchange, queue string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.pubCh.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return errors.Wrapf(err, "could not declare queue %s", queue)
	}
	if err := c.pubCh.QueueBind(queue, "#", exchange, false, nil); err != nil {
		return errors.Wrapf(err, "could not bind queue %s to %s", queue, exchange)
	}
	return nil
}

// Publish sends a persistent JSON body to an exchange.
func (c *Client) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.pubCh.Publish(exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	return errors.Wrapf(err, "could not publish to %s", exchange)
}

// Consume opens a dedicated channel on a queue and returns its deliveries.
// Messages must be acknowledged by the consumer; the channel closes when the
// connection does.
func (c *Client) Consume(queue string, prefetch int) (<-chan amqp.Delivery, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "could not open consumer channel")
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, errors.Wrap(err, "could not set prefetch")
	}
	tag := "ccn-" + uuid.NewString()
	deliveries, err := ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, errors.Wrapf(err, "could not consume from %s", queue)
	}
	log.WithFields(logrus.Fields{"queue": queue, "tag": tag}).Debug("Consumer registered")
	return deliveries, nil
}

// Close shuts the connection down, closing every consumer channel with it.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()
	return c.conn.Close()
}
