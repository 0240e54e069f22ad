// Package qstash publishes booking lifecycle events to an Upstash QStash
// topic or URL destination.
package qstash

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/contract"
)

var (
	ErrNotConfigured = errors.New("qstash is not configured")
	ErrPublish       = errors.New("qstash publish failed")
)

type Config struct {
	URL         string        `split_words:"true"`
	Token       string        `split_words:"true"`
	Destination string        `split_words:"true"`
	Timeout     time.Duration `split_words:"true" default:"10s"`
}

// Enabled reports whether the publisher should be wired at all.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.URL) != "" && strings.TrimSpace(c.Token) != ""
}

type Client struct {
	baseURL     string
	token       string
	destination string
	httpClient  *http.Client
}

var _ contractx.EventPublisher = (*Client)(nil)

type publishResponse struct {
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
}

func NewClient(cfg Config) (*Client, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}
	baseURL := strings.TrimSpace(cfg.URL)
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, err
	}

	destination := strings.TrimSpace(cfg.Destination)
	if destination == "" {
		return nil, errors.New("qstash destination is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       strings.TrimSpace(cfg.Token),
		destination: destination,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}

	return client, nil
}

func MustNew(cfg Config) *Client {
	client, err := NewClient(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

// Publish enqueues one booking event. The deduplication id makes a retried
// publish of the same event a no-op on the QStash side.
func (c *Client) Publish(ctx context.Context, event contractx.BookingEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: encode event: %v", ErrPublish, err)
	}

	endpoint := c.baseURL + "/v2/publish/" + c.destination
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Upstash-Deduplication-Id", deduplicationID(event))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPublish, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrPublish, err)
	}

	var decoded publishResponse
	_ = json.Unmarshal(body, &decoded)
	if resp.StatusCode >= http.StatusBadRequest {
		msg := strings.TrimSpace(decoded.Error)
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return fmt.Errorf("%w: status %d: %s", ErrPublish, resp.StatusCode, msg)
	}
	if decoded.MessageID == "" {
		return fmt.Errorf("%w: response has no message id", ErrPublish)
	}
	return nil
}

func deduplicationID(event contractx.BookingEvent) string {
	id := string(event.Type) + "-" + event.BookingUID
	if event.PreviousUID != "" {
		id += "-" + event.PreviousUID
	}
	return strings.NewReplacer(".", "-", "/", "-").Replace(id)
}
