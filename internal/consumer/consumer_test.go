package consumer

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baechuer/turn-bridge/internal/claims"
	"github.com/baechuer/turn-bridge/internal/models"
	"github.com/baechuer/turn-bridge/internal/turn"
)

type sendCall struct {
	body    map[string]any
	headers map[string]string
}

type automationCall struct {
	messageID string
	body      map[string]any
	headers   map[string]string
}

// fakeAPI records calls and pops one queued error per send.
type fakeAPI struct {
	mu          sync.Mutex
	sends       []sendCall
	automations []automationCall
	sendErrs    []error

	contactStatus string
	contactErr    error
	checkedMSISDN string

	mediaData        []byte
	mediaContentType string
	fetchErr         error
	fetchCount       int
	uploadID         string
	uploadErr        error
	uploadCount      int
	uploadedType     string
	uploadedData     []byte
}

func (f *fakeAPI) SendMessage(ctx context.Context, body map[string]any, headers map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sendCall{body: body, headers: headers})
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		return err
	}
	return nil
}

func (f *fakeAPI) SendAutomation(ctx context.Context, messageID string, body map[string]any, headers map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.automations = append(f.automations, automationCall{messageID: messageID, body: body, headers: headers})
	return nil
}

func (f *fakeAPI) UploadMedia(ctx context.Context, contentType string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadCount++
	f.uploadedType = contentType
	f.uploadedData = data
	return f.uploadID, f.uploadErr
}

func (f *fakeAPI) CheckContact(ctx context.Context, msisdn string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkedMSISDN = msisdn
	return f.contactStatus, f.contactErr
}

func (f *fakeAPI) FetchMedia(ctx context.Context, url string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCount++
	return f.mediaData, f.mediaContentType, f.fetchErr
}

type fakeAcknowledger struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	rejects int
	requeue bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks++
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacks++
	f.requeue = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejects++
	f.requeue = requeue
	return nil
}

func newTestConsumer(t *testing.T, api *fakeAPI) (*Consumer, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(nil, api, claims.New(client), "whatsapp", 5), client
}

func outboundMessage() *models.Message {
	msg := models.NewMessage("27820001001", "27820001002", "whatsapp")
	content := "hello"
	msg.Content = &content
	return msg
}

func TestSubmitText(t *testing.T) {
	api := &fakeAPI{}
	c, _ := newTestConsumer(t, api)

	require.NoError(t, c.Submit(context.Background(), outboundMessage()))

	require.Len(t, api.sends, 1)
	call := api.sends[0]
	assert.Equal(t, "27820001001", call.body["to"])
	assert.Equal(t, map[string]any{"body": "hello"}, call.body["text"])
	assert.Empty(t, call.headers)
}

func TestSubmitExtendsClaim(t *testing.T) {
	api := &fakeAPI{}
	c, client := newTestConsumer(t, api)
	ctx := context.Background()

	msg := outboundMessage()
	msg.TransportMetadata = models.Metadata{"claim": "claim-token"}

	require.NoError(t, c.Submit(ctx, msg))

	require.Len(t, api.sends, 1)
	assert.Equal(t, "claim-token", api.sends[0].headers["X-Turn-Claim-Extend"])

	// Extending refreshes the claim's last-activity entry.
	assert.NoError(t, client.ZScore(ctx, "claims", "27820001001").Err())
}

func TestSubmitReleasesClaimOnClose(t *testing.T) {
	api := &fakeAPI{}
	c, client := newTestConsumer(t, api)
	ctx := context.Background()

	require.NoError(t, client.ZAdd(ctx, "claims", redis.Z{Score: 1, Member: "27820001001"}).Err())

	msg := outboundMessage()
	msg.SessionEvent = models.SessionClose
	msg.TransportMetadata = models.Metadata{"claim": "claim-token"}

	require.NoError(t, c.Submit(ctx, msg))

	require.Len(t, api.sends, 1)
	assert.Equal(t, "claim-token", api.sends[0].headers["X-Turn-Claim-Release"])
	assert.NotContains(t, api.sends[0].headers, "X-Turn-Claim-Extend")

	count, err := client.ZCard(ctx, "claims").Result()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSubmitAutomationHandoff(t *testing.T) {
	api := &fakeAPI{}
	c, _ := newTestConsumer(t, api)

	inReplyTo := "prior-id"
	msg := outboundMessage()
	msg.SessionEvent = models.SessionClose
	msg.InReplyTo = &inReplyTo
	msg.TransportMetadata = models.Metadata{"claim": "claim-token"}
	msg.HelperMetadata = models.Metadata{"automation_handle": true}

	require.NoError(t, c.Submit(context.Background(), msg))

	assert.Empty(t, api.sends)
	require.Len(t, api.automations, 1)
	assert.Equal(t, "prior-id", api.automations[0].messageID)
	assert.Equal(t, "claim-token", api.automations[0].headers["X-Turn-Claim-Release"])
}

func TestSubmitRecoversMissingContact(t *testing.T) {
	api := &fakeAPI{
		sendErrs:      []error{&turn.APIError{StatusCode: 404, Endpoint: "/v1/messages"}},
		contactStatus: "valid",
	}
	c, _ := newTestConsumer(t, api)

	msg := outboundMessage()
	msg.ToAddr = "27820001001"
	require.NoError(t, c.Submit(context.Background(), msg))

	assert.Equal(t, "+27820001001", api.checkedMSISDN)
	assert.Len(t, api.sends, 2)
}

func TestSubmitDropsInvalidContact(t *testing.T) {
	api := &fakeAPI{
		sendErrs:      []error{&turn.APIError{StatusCode: 404, Endpoint: "/v1/messages"}},
		contactStatus: "invalid",
	}
	c, _ := newTestConsumer(t, api)

	require.NoError(t, c.Submit(context.Background(), outboundMessage()))
	assert.Len(t, api.sends, 1)
}

func TestSubmitRetryAfterRecoveryIsNotRepeated(t *testing.T) {
	api := &fakeAPI{
		sendErrs: []error{
			&turn.APIError{StatusCode: 404, Endpoint: "/v1/messages"},
			&turn.APIError{StatusCode: 404, Endpoint: "/v1/messages"},
		},
		contactStatus: "valid",
	}
	c, _ := newTestConsumer(t, api)

	err := c.Submit(context.Background(), outboundMessage())
	// The single retry failed again; the error surfaces instead of looping.
	require.Error(t, err)
	assert.Len(t, api.sends, 2)
}

func deliver(t *testing.T, c *Consumer, body []byte, redelivered bool) *fakeAcknowledger {
	t.Helper()
	ack := &fakeAcknowledger{}
	c.handleDelivery(context.Background(), amqp.Delivery{
		Acknowledger: ack,
		Body:         body,
		Redelivered:  redelivered,
	})
	return ack
}

func TestHandleDeliveryAcks(t *testing.T) {
	api := &fakeAPI{}
	c, _ := newTestConsumer(t, api)

	body, err := outboundMessage().ToJSON()
	require.NoError(t, err)

	ack := deliver(t, c, body, false)
	assert.Equal(t, 1, ack.acks)
	assert.Zero(t, ack.nacks)
	assert.Zero(t, ack.rejects)
}

func TestHandleDeliveryRejectsGarbage(t *testing.T) {
	api := &fakeAPI{}
	c, _ := newTestConsumer(t, api)

	ack := deliver(t, c, []byte("not json"), false)
	assert.Equal(t, 1, ack.rejects)
	assert.False(t, ack.requeue)
	assert.Empty(t, api.sends)
}

func TestHandleDeliveryDropsClientError(t *testing.T) {
	api := &fakeAPI{sendErrs: []error{&turn.APIError{StatusCode: 400, Endpoint: "/v1/messages"}}}
	c, _ := newTestConsumer(t, api)

	body, err := outboundMessage().ToJSON()
	require.NoError(t, err)

	ack := deliver(t, c, body, false)
	assert.Equal(t, 1, ack.rejects)
	assert.False(t, ack.requeue)
}

func TestHandleDeliveryRequeuesServerError(t *testing.T) {
	api := &fakeAPI{sendErrs: []error{&turn.APIError{StatusCode: 503, Endpoint: "/v1/messages"}}}
	c, _ := newTestConsumer(t, api)

	body, err := outboundMessage().ToJSON()
	require.NoError(t, err)

	ack := deliver(t, c, body, false)
	assert.Equal(t, 1, ack.nacks)
	assert.True(t, ack.requeue)
}

func TestHandleDeliveryRequeuesTransportError(t *testing.T) {
	api := &fakeAPI{sendErrs: []error{assert.AnError}}
	c, _ := newTestConsumer(t, api)

	body, err := outboundMessage().ToJSON()
	require.NoError(t, err)

	ack := deliver(t, c, body, true)
	assert.Equal(t, 1, ack.nacks)
	assert.True(t, ack.requeue)
}
