package publisher

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/baechuer/turn-bridge/internal/metrics"
	"github.com/baechuer/turn-bridge/internal/models"
)

// Exchange is the durable direct exchange carrying canonical messages and
// events.
const Exchange = "vumi"

// Publisher publishes canonical messages and events to the bus.
type Publisher interface {
	PublishMessage(ctx context.Context, m *models.Message) error
	PublishEvent(ctx context.Context, e *models.Event) error
}

// AMQPPublisher owns one confirm-mode channel on the vumi exchange.
type AMQPPublisher struct {
	ch             *amqp.Channel
	transportName  string
	publishTimeout time.Duration
}

// New opens a channel on conn, declares the exchange and enables publisher
// confirms.
func New(conn *amqp.Connection, transportName string, publishTimeout time.Duration) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(Exchange, "direct", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	return &AMQPPublisher{
		ch:             ch,
		transportName:  transportName,
		publishTimeout: publishTimeout,
	}, nil
}

// PublishMessage publishes m to <transport_name>.inbound.
func (p *AMQPPublisher) PublishMessage(ctx context.Context, m *models.Message) error {
	body, err := m.ToJSON()
	if err != nil {
		return err
	}
	return p.publish(ctx, p.transportName+".inbound", body)
}

// PublishEvent publishes e to <transport_name>.event.
func (p *AMQPPublisher) PublishEvent(ctx context.Context, e *models.Event) error {
	body, err := e.ToJSON()
	if err != nil {
		return err
	}
	return p.publish(ctx, p.transportName+".event", body)
}

func (p *AMQPPublisher) publish(ctx context.Context, routingKey string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, p.publishTimeout)
	defer cancel()

	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(
		ctx, Exchange, routingKey, false, false,
		amqp.Publishing{
			ContentType:     "application/json",
			ContentEncoding: "UTF-8",
			DeliveryMode:    amqp.Persistent,
			Body:            body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("publish %s: confirm: %w", routingKey, err)
	}
	if !acked {
		return fmt.Errorf("publish %s: broker nacked", routingKey)
	}
	metrics.RecordPublish(routingKey)
	return nil
}

// Close closes the owned channel.
func (p *AMQPPublisher) Close() error {
	return p.ch.Close()
}
