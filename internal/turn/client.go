// Package turn is the HTTP client for the Turn.io hosted WhatsApp API.
package turn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/baechuer/turn-bridge/internal/metrics"
)

// APIError is a non-2xx response from the provider. The consumer's retry
// policy keys on the status class.
type APIError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("turn: %s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Transient reports whether retrying the request could help.
func (e *APIError) Transient() bool {
	return e.StatusCode >= 500
}

// Client talks to the provider API with a bearer token. Media source
// fetches go through the same client but carry no credentials.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New builds a client. baseURL carries the scheme and host
// (https://<API_HOST> in production); maxConns caps in-flight connections to
// match the consumer prefetch.
func New(baseURL, token string, timeout time.Duration, maxConns int) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = maxConns
	return &Client{
		baseURL: baseURL,
		token:   token,
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// SendMessage posts a rendered message body to /v1/messages.
func (c *Client) SendMessage(ctx context.Context, body map[string]any, headers map[string]string) error {
	return c.postJSON(ctx, "/v1/messages", body, headers)
}

// SendAutomation re-triggers automation for a prior inbound message.
func (c *Client) SendAutomation(ctx context.Context, messageID string, body map[string]any, headers map[string]string) error {
	merged := map[string]string{"Accept": "application/vnd.v1+json"}
	for k, v := range headers {
		merged[k] = v
	}
	path := "/v1/messages/" + messageID + "/automation"
	return c.postJSON(ctx, path, body, merged)
}

// UploadMedia posts raw media bytes with a pass-through content type and
// returns the provider media id.
func (c *Client) UploadMedia(ctx context.Context, contentType string, data []byte) (string, error) {
	const endpoint = "/v1/media"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", contentType)

	respBody, err := c.do(req, endpoint)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Media []struct {
			ID string `json:"id"`
		} `json:"media"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("turn: media upload response: %w", err)
	}
	if len(parsed.Media) == 0 {
		return "", fmt.Errorf("turn: media upload response has no media entry")
	}
	return parsed.Media[0].ID, nil
}

// CheckContact runs a blocking contact probe and returns the reported
// status ("valid", "invalid", ...).
func (c *Client) CheckContact(ctx context.Context, msisdn string) (string, error) {
	const endpoint = "/v1/contacts"

	body, err := json.Marshal(map[string]any{
		"blocking": "wait",
		"contacts": []string{msisdn},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	respBody, err := c.do(req, endpoint)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Contacts []struct {
			Status string `json:"status"`
		} `json:"contacts"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("turn: contact check response: %w", err)
	}
	if len(parsed.Contacts) == 0 {
		return "", fmt.Errorf("turn: contact check response has no contact entry")
	}
	return parsed.Contacts[0].Status, nil
}

// FetchMedia downloads a media source URL. No credentials are attached: the
// URL is third-party, not the provider API.
func (c *Client) FetchMedia(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &APIError{StatusCode: resp.StatusCode, Endpoint: url, Body: truncateBody(data)}
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) postJSON(ctx context.Context, path string, body map[string]any, headers map[string]string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	endpoint := path
	if len(path) > len("/v1/messages/") && path[len(path)-len("/automation"):] == "/automation" {
		endpoint = "/v1/messages/automation"
	}
	_, err = c.do(req, endpoint)
	return err
}

func (c *Client) do(req *http.Request, endpoint string) ([]byte, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.ObserveWhatsAppRequest(endpoint, time.Since(start))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Endpoint: endpoint, Body: truncateBody(body)}
	}
	return body, nil
}

func truncateBody(b []byte) string {
	const max = 512
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}
