package state

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr     string `envconfig:"ADDR" split_words:"true" default:"localhost:6379"`
	URL      string `envconfig:"URL" split_words:"true"`
	Password string `envconfig:"PASSWORD" split_words:"true"`
	DB       int    `envconfig:"DB" split_words:"true" default:"0"`
}

// RedisStore is the native-protocol twin of UpstashRedisStore: same key
// layout, same payload.
type RedisStore struct {
	client redis.UniversalClient
	opts   storeOptions
}

var _ Store = (*RedisStore)(nil)

func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	if u := strings.TrimSpace(cfg.URL); u != "" {
		opt, err := redis.ParseURL(u)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), nil
}

func NewRedisStore(client redis.UniversalClient, opts ...StoreOption) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	o, err := newStoreOptions(opts)
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: client, opts: o}, nil
}

func (s *RedisStore) Load(ctx context.Context, sessionID string) (*ConversationState, error) {
	key, err := s.opts.key(sessionID)
	if err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return decodeState(data)
}

func (s *RedisStore) Save(ctx context.Context, st *ConversationState) error {
	payload, err := prepareForSave(st)
	if err != nil {
		return err
	}
	key, err := s.opts.key(st.SessionID)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, payload, s.opts.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	key, err := s.opts.key(sessionID)
	if err != nil {
		return err
	}
	return s.client.Del(ctx, key).Err()
}
