package state

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
)

type UpstashRedisConfig struct {
	URL     string        `envconfig:"URL" split_words:"true"`
	Token   string        `envconfig:"TOKEN" split_words:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

// UpstashRedisStore keeps each session as one JSON string under
// <prefix><session id>, written through the Upstash REST command endpoint.
type UpstashRedisStore struct {
	baseURL string
	token   string
	opts    storeOptions
}

type upstashResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

var _ Store = (*UpstashRedisStore)(nil)

func NewUpstashRedisStore(cfg UpstashRedisConfig, opts ...StoreOption) (*UpstashRedisStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("upstash redis url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid redis rest url: %w", err)
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}

	o, err := newStoreOptions(opts)
	if err != nil {
		return nil, err
	}
	if o.httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		o.httpClient = &http.Client{Timeout: timeout}
	}

	return &UpstashRedisStore{baseURL: baseURL, token: token, opts: o}, nil
}

func (s *UpstashRedisStore) Load(ctx context.Context, sessionID string) (*ConversationState, error) {
	key, err := s.opts.key(sessionID)
	if err != nil {
		return nil, err
	}

	resp, err := s.command(ctx, "GET", key)
	if err != nil {
		return nil, err
	}
	result := bytes.TrimSpace(resp.Result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return nil, ErrStateNotFound
	}

	var encoded string
	if err := json.Unmarshal(result, &encoded); err != nil {
		return nil, fmt.Errorf("decode session payload: %w", err)
	}
	return decodeState([]byte(encoded))
}

func (s *UpstashRedisStore) Save(ctx context.Context, st *ConversationState) error {
	payload, err := prepareForSave(st)
	if err != nil {
		return err
	}
	key, err := s.opts.key(st.SessionID)
	if err != nil {
		return err
	}

	args := []any{"SET", key, string(payload)}
	if s.opts.ttl > 0 {
		args = append(args, "EX", ttlSeconds(s.opts.ttl))
	}
	_, err = s.command(ctx, args...)
	return err
}

func (s *UpstashRedisStore) Delete(ctx context.Context, sessionID string) error {
	key, err := s.opts.key(sessionID)
	if err != nil {
		return err
	}
	_, err = s.command(ctx, "DEL", key)
	return err
}

func (s *UpstashRedisStore) command(ctx context.Context, args ...any) (*upstashResponse, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal redis command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.opts.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute redis request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("read redis response: %w", err)
	}

	var parsed upstashResponse
	decodeErr := json.Unmarshal(raw, &parsed)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		if decodeErr == nil && parsed.Error != "" {
			return nil, fmt.Errorf("redis http status=%d: %s", resp.StatusCode, parsed.Error)
		}
		return nil, fmt.Errorf("redis http status=%d body=%s", resp.StatusCode, string(raw))
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode redis response: %w", decodeErr)
	}
	if parsed.Error != "" {
		return nil, errors.New(parsed.Error)
	}
	return &parsed, nil
}
