// Package consumer dispatches outbound bus messages to the Turn API.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/baechuer/turn-bridge/internal/claims"
	"github.com/baechuer/turn-bridge/internal/logger"
	"github.com/baechuer/turn-bridge/internal/models"
	"github.com/baechuer/turn-bridge/internal/publisher"
	"github.com/baechuer/turn-bridge/internal/turn"
)

// redeliverBackoff is slept before requeueing a delivery that already
// bounced once, so a flapping provider is not hammered in a tight loop.
const redeliverBackoff = 500 * time.Millisecond

// API is the provider surface the consumer drives.
type API interface {
	SendMessage(ctx context.Context, body map[string]any, headers map[string]string) error
	SendAutomation(ctx context.Context, messageID string, body map[string]any, headers map[string]string) error
	UploadMedia(ctx context.Context, contentType string, data []byte) (string, error)
	CheckContact(ctx context.Context, msisdn string) (string, error)
	FetchMedia(ctx context.Context, url string) ([]byte, string, error)
}

type outcome int

const (
	outcomeAck     outcome = iota // done, remove from queue
	outcomeDrop                   // unrecoverable, remove without retry
	outcomeRequeue                // transient, give it back to the broker
)

// Consumer consumes <transport_name>.outbound and submits each message to
// the provider with bounded concurrency.
type Consumer struct {
	conn          *amqp.Connection
	api           API
	registry      *claims.Registry
	media         *mediaCache
	transportName string
	concurrency   int

	ch *amqp.Channel
}

func New(conn *amqp.Connection, api API, registry *claims.Registry, transportName string, concurrency int) *Consumer {
	return &Consumer{
		conn:          conn,
		api:           api,
		registry:      registry,
		media:         newMediaCache(api),
		transportName: transportName,
		concurrency:   concurrency,
	}
}

// Start declares the outbound queue and begins consuming. It returns after
// the consume loop is running; the loop stops when ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	log := logger.Logger.With().Str("component", "outbound_consumer").Logger()

	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	c.ch = ch

	if err := ch.Qos(c.concurrency, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("set qos: %w", err)
	}
	if err := ch.ExchangeDeclare(publisher.Exchange, "direct", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}

	queueName := c.transportName + ".outbound"
	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, queueName, publisher.Exchange, false, nil); err != nil {
		_ = ch.Close()
		return fmt.Errorf("bind queue: %w", err)
	}

	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consume: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				go c.handleDelivery(ctx, d)
			}
		}
	}()

	log.Info().Str("queue", q.Name).Int("prefetch", c.concurrency).Msg("consumer started")
	return nil
}

// Close shuts the consume channel, stopping further deliveries.
func (c *Consumer) Close() error {
	if c.ch == nil {
		return nil
	}
	return c.ch.Close()
}

func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	log := logger.Logger.With().Str("component", "outbound_consumer").Logger()

	msg, err := models.ParseMessage(d.Body)
	if err != nil {
		// Retrying will not make the body parse.
		log.Error().Err(err).Bytes("body", d.Body).Msg("invalid message body")
		_ = d.Reject(false)
		return
	}

	switch c.classify(c.Submit(ctx, msg), log, msg) {
	case outcomeAck:
		_ = d.Ack(false)
	case outcomeDrop:
		_ = d.Reject(false)
	case outcomeRequeue:
		if d.Redelivered {
			time.Sleep(redeliverBackoff)
		}
		_ = d.Nack(false, true)
	}
}

func (c *Consumer) classify(err error, log zerolog.Logger, msg *models.Message) outcome {
	if err == nil {
		return outcomeAck
	}
	var apiErr *turn.APIError
	if errors.As(err, &apiErr) && !apiErr.Transient() {
		log.Error().Err(err).Str("message_id", msg.MessageID).Msg("provider rejected message")
		return outcomeDrop
	}
	log.Warn().Err(err).Str("message_id", msg.MessageID).Msg("transient submit failure, requeueing")
	return outcomeRequeue
}

// Submit renders msg, applies the claim headers and side effects, and posts
// it to the provider. A 404 triggers the missing-contact probe; a valid
// contact earns exactly one retry.
func (c *Consumer) Submit(ctx context.Context, msg *models.Message) error {
	headers := map[string]string{}
	automation := false

	if claim := msg.TransportMetadata.String("claim"); claim != "" {
		switch msg.SessionEvent {
		case models.SessionNone, models.SessionResume:
			headers["X-Turn-Claim-Extend"] = claim
			if err := c.registry.Store(ctx, claim, msg.ToAddr); err != nil {
				return fmt.Errorf("store claim: %w", err)
			}
		case models.SessionClose:
			headers["X-Turn-Claim-Release"] = claim
			if msg.HelperMetadata.Truthy("automation_handle") && msg.InReplyTo != nil {
				automation = true
			}
			if err := c.registry.Delete(ctx, claim, msg.ToAddr); err != nil {
				return fmt.Errorf("delete claim: %w", err)
			}
		}
	}

	body, err := c.renderBody(ctx, msg)
	if err != nil {
		return err
	}

	if automation {
		return c.api.SendAutomation(ctx, *msg.InReplyTo, body, headers)
	}

	err = c.api.SendMessage(ctx, body, headers)
	var apiErr *turn.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
		return c.recoverMissingContact(ctx, msg, body, headers)
	}
	return err
}

// recoverMissingContact probes /v1/contacts for an unknown recipient and
// retries the send once when the contact turns out to be valid.
func (c *Consumer) recoverMissingContact(ctx context.Context, msg *models.Message, body map[string]any, headers map[string]string) error {
	msisdn := "+" + strings.TrimLeft(msg.ToAddr, "+")
	status, err := c.api.CheckContact(ctx, msisdn)
	if err != nil {
		return fmt.Errorf("contact check: %w", err)
	}
	if status != "valid" {
		logger.Logger.Warn().
			Str("component", "outbound_consumer").
			Str("to_addr", msg.ToAddr).
			Str("contact_status", status).
			Msg("recipient not on whatsapp, dropping message")
		return nil
	}
	return c.api.SendMessage(ctx, body, headers)
}
