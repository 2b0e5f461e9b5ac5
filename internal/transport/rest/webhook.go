package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/baechuer/turn-bridge/internal/ingest"
	"github.com/baechuer/turn-bridge/internal/logger"
	"github.com/baechuer/turn-bridge/internal/models"
	"github.com/baechuer/turn-bridge/internal/publisher"
	"github.com/baechuer/turn-bridge/internal/schema"
)

const claimHeader = "X-Turn-Claim"

// WebhookHandler ingests provider webhook calls: normalize each message and
// status, publish to the bus, register conversation claims.
type WebhookHandler struct {
	ingestor       *ingest.Ingestor
	publisher      publisher.Publisher
	transportName  string
	whatsappNumber string
}

func NewWebhookHandler(ing *ingest.Ingestor, pub publisher.Publisher, transportName, whatsappNumber string) *WebhookHandler {
	return &WebhookHandler{
		ingestor:       ing,
		publisher:      pub,
		transportName:  transportName,
		whatsappNumber: whatsappNumber,
	}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "could not read request body", http.StatusBadRequest)
		return
	}

	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"_root": []string{"request body is not valid JSON"},
		})
		return
	}

	if errs := schema.Validate(body); errs != nil {
		writeJSON(w, http.StatusBadRequest, errs)
		return
	}

	payload, _ := body.(map[string]any)
	claim := r.Header.Get(claimHeader)
	log := logger.WithRequestID(RequestIDFrom(r.Context()))

	var msgs []*models.Message
	var events []*models.Event

	if messages, ok := payload["messages"].([]any); ok {
		contacts := payload["contacts"]
		for _, item := range messages {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if msgType, _ := m["type"].(string); msgType == "system" {
				// System notifications carry no user content.
				continue
			}
			msg, err := h.normalizeMessage(m, contacts, claim)
			if err != nil {
				log.Error().Err(err).Msg("webhook message normalization failed")
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}
			msgs = append(msgs, msg)
		}
	}

	if statuses, ok := payload["statuses"].([]any); ok {
		for _, item := range statuses {
			s, ok := item.(map[string]any)
			if !ok {
				continue
			}
			ev, err := normalizeStatus(s)
			if err != nil {
				log.Error().Err(err).Msg("webhook status normalization failed")
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}
			events = append(events, ev)
		}
	}

	g, ctx := errgroup.WithContext(r.Context())
	for _, msg := range msgs {
		msg := msg
		g.Go(func() error {
			return h.ingestor.DedupeAndPublish(ctx, msg, claim)
		})
	}
	for _, ev := range events {
		ev := ev
		g.Go(func() error {
			return h.publisher.PublishEvent(ctx, ev)
		})
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("webhook processing failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{})
}

// normalizeMessage turns one provider message object into a canonical
// message. The fields that map onto envelope fields are removed from the
// object; the residue rides along in transport_metadata.message.
func (h *WebhookHandler) normalizeMessage(m map[string]any, contacts any, claim string) (*models.Message, error) {
	msgType, _ := m["type"].(string)

	timestamp, err := popTimestamp(m)
	if err != nil {
		return nil, err
	}

	var content *string
	switch msgType {
	case "text":
		text := popMap(m, "text")
		content = optString(text, "body")
	case "location":
		location, _ := m["location"].(map[string]any)
		content = popOptString(location, "name")
	case "button":
		button, _ := m["button"].(map[string]any)
		content = popOptString(button, "text")
	case "interactive":
		interactive, _ := m["interactive"].(map[string]any)
		if sub, _ := interactive["type"].(string); sub == "list_reply" {
			reply, _ := interactive["list_reply"].(map[string]any)
			content = popOptString(reply, "title")
		} else {
			reply, _ := interactive["button_reply"].(map[string]any)
			content = popOptString(reply, "title")
		}
	case "unknown", "contacts":
		content = nil
	default:
		// image, video, document, voice, audio, sticker
		media, _ := m[msgType].(map[string]any)
		content = popOptString(media, "caption")
	}

	fromAddr := popString(m, "from")
	messageID := popString(m, "id")
	if fromAddr == "" || messageID == "" {
		return nil, fmt.Errorf("message missing from or id")
	}

	var inReplyTo *string
	if context, _ := m["context"].(map[string]any); context != nil {
		inReplyTo = popOptString(context, "id")
	}

	msg := models.NewMessage(h.whatsappNumber, fromAddr, h.transportName)
	msg.MessageID = messageID
	msg.Timestamp = timestamp
	msg.Content = content
	msg.InReplyTo = inReplyTo
	msg.ToAddrType = models.AddressMSISDN
	msg.FromAddrType = models.AddressMSISDN
	msg.TransportMetadata = models.Metadata{
		"contacts": contacts,
		"message":  m,
		"claim":    nullable(claim),
	}
	return msg, nil
}

// statusMapping maps provider delivery statuses onto canonical events.
// "deleted" deliberately reports as delivered, mirroring read/delivered.
var statusMapping = map[string]struct {
	eventType      models.EventType
	deliveryStatus models.DeliveryStatus
}{
	"sent":      {models.EventAck, ""},
	"delivered": {models.EventDeliveryReport, models.DeliveryDelivered},
	"read":      {models.EventDeliveryReport, models.DeliveryDelivered},
	"deleted":   {models.EventDeliveryReport, models.DeliveryDelivered},
	"failed":    {models.EventDeliveryReport, models.DeliveryFailed},
}

// normalizeStatus turns one provider status object into a canonical event.
func normalizeStatus(s map[string]any) (*models.Event, error) {
	messageID := popString(s, "id")
	status, _ := s["status"].(string)

	mapping, ok := statusMapping[status]
	if !ok {
		return nil, fmt.Errorf("unknown status %q", status)
	}

	timestamp, err := popTimestamp(s)
	if err != nil {
		return nil, err
	}

	ev := models.NewEvent(messageID, mapping.eventType)
	ev.Timestamp = timestamp
	ev.SentMessageID = &messageID
	ev.DeliveryStatus = mapping.deliveryStatus
	ev.HelperMetadata = models.Metadata(s)
	return ev, nil
}

// popTimestamp removes and parses the provider timestamp, unix seconds with
// an optional fraction.
func popTimestamp(m map[string]any) (models.Timestamp, error) {
	raw, _ := m["timestamp"].(string)
	delete(m, "timestamp")
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return models.Timestamp{}, fmt.Errorf("invalid timestamp %q: %w", raw, err)
	}
	sec := int64(math.Floor(seconds))
	micro := int64(math.Round((seconds - float64(sec)) * 1e6))
	return models.At(time.Unix(sec, micro*int64(time.Microsecond))), nil
}

func popString(m map[string]any, key string) string {
	v, _ := m[key].(string)
	delete(m, key)
	return v
}

// popOptString removes key and returns its value, or nil when absent.
func popOptString(m map[string]any, key string) *string {
	if m == nil {
		return nil
	}
	v, ok := m[key].(string)
	delete(m, key)
	if !ok {
		return nil
	}
	return &v
}

func popMap(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	delete(m, key)
	return v
}

func optString(m map[string]any, key string) *string {
	if m == nil {
		return nil
	}
	v, ok := m[key].(string)
	if !ok {
		return nil
	}
	return &v
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
