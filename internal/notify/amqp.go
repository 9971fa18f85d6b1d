package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"whatsapp-inbox/pkg/logging"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// Envelope wraps every event published to the exchange.
type Envelope struct {
	Meta EnvelopeMeta `json:"meta"`
	Data any          `json:"data"`
}

type EnvelopeMeta struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Topic      string    `json:"topic"`
	OccurredAt time.Time `json:"occurred_at"`
}

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// AMQPPublisher publishes events to a topic exchange. Routing keys are the
// event topic with ':' replaced by '.', e.g. "conversation.42".
type AMQPPublisher struct {
	conn     *amqp091.Connection
	channel  func() (amqpChannel, error)
	exchange string
	log      *logging.Logger
}

func NewAMQPPublisher(url, exchange string, log *logging.Logger) (*AMQPPublisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("notify: amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("notify: amqp channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("notify: declare exchange %s: %w", exchange, err)
	}

	return &AMQPPublisher{
		conn:     conn,
		channel:  func() (amqpChannel, error) { return conn.Channel() },
		exchange: exchange,
		log:      log,
	}, nil
}

func RoutingKey(topic string) string {
	return strings.ReplaceAll(topic, ":", ".")
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	ch, err := p.channel()
	if err != nil {
		return fmt.Errorf("notify: amqp channel: %w", err)
	}
	defer ch.Close()

	env := Envelope{
		Meta: EnvelopeMeta{
			ID:         uuid.NewString(),
			Type:       ev.Type,
			Topic:      ev.Topic,
			OccurredAt: time.Now().UTC(),
		},
		Data: ev.Data,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("notify: encode envelope: %w", err)
	}

	key := RoutingKey(ev.Topic)
	err = ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp091.Publishing{
		ContentType: "application/json",
		MessageId:   env.Meta.ID,
		Type:        ev.Type,
		Timestamp:   env.Meta.OccurredAt,
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("notify: amqp publish %s: %w", key, err)
	}
	p.log.Debug("published", "key", key, "exchange", p.exchange)
	return nil
}

func (p *AMQPPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
