package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/barnapet/smartdrive/internal/pkg/model"
	"github.com/barnapet/smartdrive/pkg/log"
)

// VerdictRoutingKey is insights.{vin}.{status}, status lowercased.
func VerdictRoutingKey(v *model.BatteryVerdict) string {
	return fmt.Sprintf("insights.%s.%s", v.VIN, strings.ToLower(string(v.Status)))
}

// Publisher sends verdicts to a topic exchange. It dials lazily and redials
// after a failed publish.
type Publisher struct {
	url      string
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewPublisher(url, exchange string) *Publisher {
	return &Publisher{url: url, exchange: exchange}
}

func (p *Publisher) PublishVerdict(ctx context.Context, v *model.BatteryVerdict) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channelLocked()
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(
		ctx,
		p.exchange,
		VerdictRoutingKey(v),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    v.ID,
			Timestamp:    v.CreatedAt,
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		p.closeLocked()
		return fmt.Errorf("failed to publish verdict: %w", err)
	}

	log.Debug("Published verdict", "routingKey", VerdictRoutingKey(v), "id", v.ID)
	return nil
}

func (p *Publisher) channelLocked() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.closeLocked()

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}
	if !predeclared(p.exchange) {
		if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to declare exchange: %w", err)
		}
	}

	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *Publisher) closeLocked() {
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}
