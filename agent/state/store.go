package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	ErrStateNotFound   = errors.New("session state not found")
	ErrNilSessionState = errors.New("session state is nil")
	ErrInvalidSession  = errors.New("session id is empty")
)

const (
	defaultStoreKeyPrefix = "scheduling:session:"
	defaultStoreTTL       = 24 * time.Hour
	maxResponseSizeBytes  = 2 << 20
)

// Store persists ConversationState between turns. Load returns
// ErrStateNotFound for unknown sessions.
type Store interface {
	Load(ctx context.Context, sessionID string) (*ConversationState, error)
	Save(ctx context.Context, st *ConversationState) error
	Delete(ctx context.Context, sessionID string) error
}

type storeOptions struct {
	keyPrefix  string
	ttl        time.Duration
	httpClient *http.Client
	now        func() time.Time
}

// StoreOption customizes the key-value backends. Options a backend has no use
// for are ignored.
type StoreOption func(*storeOptions)

func WithKeyPrefix(prefix string) StoreOption {
	return func(o *storeOptions) {
		trimmed := strings.TrimSpace(prefix)
		if trimmed != "" {
			o.keyPrefix = trimmed
		}
	}
}

// WithTTL sets how long an idle session survives. Zero keeps sessions forever.
func WithTTL(ttl time.Duration) StoreOption {
	return func(o *storeOptions) {
		o.ttl = ttl
	}
}

func WithHTTPClient(client *http.Client) StoreOption {
	return func(o *storeOptions) {
		if client != nil {
			o.httpClient = client
		}
	}
}

func withClock(now func() time.Time) StoreOption {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func newStoreOptions(opts []StoreOption) (storeOptions, error) {
	o := storeOptions{
		keyPrefix: defaultStoreKeyPrefix,
		ttl:       defaultStoreTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.ttl < 0 {
		return o, errors.New("ttl must be >= 0")
	}
	return o, nil
}

func (o storeOptions) key(sessionID string) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", ErrInvalidSession
	}
	return o.keyPrefix + sessionID, nil
}

// prepareForSave bumps the version, normalizes timestamps and returns the
// encoded payload every backend stores.
func prepareForSave(st *ConversationState) ([]byte, error) {
	if st == nil {
		return nil, ErrNilSessionState
	}
	if strings.TrimSpace(st.SessionID) == "" {
		return nil, ErrInvalidSession
	}
	if err := st.Validate(); err != nil {
		return nil, err
	}

	st.Version++
	now := time.Now().UTC()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = now
	} else {
		st.UpdatedAt = st.UpdatedAt.UTC()
	}

	payload, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal conversation state: %w", err)
	}
	return payload, nil
}

func decodeState(payload []byte) (*ConversationState, error) {
	var st ConversationState
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, fmt.Errorf("unmarshal conversation state: %w", err)
	}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("invalid conversation state loaded from store: %w", err)
	}
	return &st, nil
}

func ttlSeconds(ttl time.Duration) int64 {
	seconds := ttl / time.Second
	if seconds <= 0 {
		return 1
	}
	if ttl%time.Second != 0 {
		seconds++
	}
	return int64(seconds)
}
