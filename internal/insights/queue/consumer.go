// Package queue moves cranking reports in and verdicts out over AMQP.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"k8s.io/utils/clock"

	"github.com/barnapet/smartdrive/pkg/log"
	"github.com/barnapet/smartdrive/pkg/options"
)

// Handler processes one message body. Returning an error wrapped with
// Permanent dead-letters the message; any other error requeues it.
type Handler func(ctx context.Context, body []byte) error

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Consumer reads reports from a durable queue bound to a topic exchange.
// Start blocks and redials the broker until its context ends.
type Consumer struct {
	opts    *options.AmqpOptions
	handler Handler
	clock   clock.Clock

	connected atomic.Bool
}

func NewConsumer(opts *options.AmqpOptions, handler Handler) *Consumer {
	return &Consumer{opts: opts, handler: handler, clock: clock.RealClock{}}
}

// Connected reports whether the consumer currently holds a broker connection.
func (c *Consumer) Connected() bool {
	return c.connected.Load()
}

func (c *Consumer) Start(ctx context.Context) error {
	for {
		err := c.consume(ctx)
		c.connected.Store(false)
		if ctx.Err() != nil {
			log.Info("AMQP consumer stopped", "queue", c.opts.Queue)
			return nil
		}
		log.Error(err, "AMQP consumer interrupted, reconnecting", "queue", c.opts.Queue, "in", c.opts.ReconnectInterval)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.opts.ReconnectInterval):
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.opts.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to create channel: %w", err)
	}
	defer ch.Close()

	if err := declareTopology(ch, c.opts); err != nil {
		return err
	}

	msgs, err := ch.Consume(
		c.opts.Queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	c.connected.Store(true)
	log.Info("AMQP consumer started", "queue", c.opts.Queue, "routingKey", c.opts.RoutingKey, "prefetch", c.opts.PrefetchCount)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			return fmt.Errorf("connection closed: %v", amqpErr)
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.dispatch(ctx, msg)
		}
	}
}

// dispatch runs the handler and settles the delivery. Transient failures are
// requeued after RetryDelay so an outage does not spin the redelivery loop;
// permanent ones go to the dead-letter queue.
func (c *Consumer) dispatch(ctx context.Context, msg amqp.Delivery) {
	err := c.handler(ctx, msg.Body)
	switch {
	case err == nil:
		if ackErr := msg.Ack(false); ackErr != nil {
			log.Error(ackErr, "Failed to ack message", "routingKey", msg.RoutingKey)
		}
	case IsPermanent(err):
		log.Warn("Rejecting message", "routingKey", msg.RoutingKey, "error", err.Error())
		if nackErr := msg.Nack(false, false); nackErr != nil {
			log.Error(nackErr, "Failed to nack message", "routingKey", msg.RoutingKey)
		}
	default:
		log.Error(err, "Failed to process message, requeueing", "routingKey", msg.RoutingKey, "redelivered", msg.Redelivered, "delay", c.opts.RetryDelay)
		c.wait(ctx, c.opts.RetryDelay)
		if nackErr := msg.Nack(false, true); nackErr != nil {
			log.Error(nackErr, "Failed to nack message", "routingKey", msg.RoutingKey)
		}
	}
}

// wait blocks for d or until ctx ends, whichever comes first.
func (c *Consumer) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := c.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C():
	}
}

// predeclared exchanges (amq.*) exist on every broker and may not be redeclared.
func predeclared(exchange string) bool {
	return strings.HasPrefix(exchange, "amq.")
}

func declareTopology(ch *amqp.Channel, opts *options.AmqpOptions) error {
	if err := ch.Qos(opts.PrefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	if !predeclared(opts.Exchange) {
		if err := ch.ExchangeDeclare(
			opts.Exchange,
			"topic",
			true,  // durable
			false, // auto-deleted
			false, // internal
			false, // no-wait
			nil,
		); err != nil {
			return fmt.Errorf("failed to declare exchange: %w", err)
		}
	}

	var args amqp.Table
	if opts.DeadLetterQueue != "" {
		if _, err := ch.QueueDeclare(opts.DeadLetterQueue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare dead-letter queue: %w", err)
		}
		args = amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": opts.DeadLetterQueue,
		}
	}

	if _, err := ch.QueueDeclare(
		opts.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		args,
	); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(opts.Queue, opts.RoutingKey, opts.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}
