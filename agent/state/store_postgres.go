package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type PostgresConfig struct {
	DSN         string        `envconfig:"DSN" split_words:"true"`
	DialTimeout time.Duration `envconfig:"DIAL_TIMEOUT" split_words:"true" default:"5s"`
	AutoMigrate bool          `envconfig:"AUTO_MIGRATE" split_words:"true" default:"true"`
}

type sessionRow struct {
	bun.BaseModel `bun:"table:conversation_sessions,alias:cs"`

	SessionID string    `bun:"session_id,pk"`
	Payload   string    `bun:"payload,type:jsonb,notnull"`
	Version   int64     `bun:"version,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
	ExpiresAt time.Time `bun:"expires_at,nullzero"`
}

// PostgresStore keeps one row per session with the state as a jsonb payload.
type PostgresStore struct {
	db   *bun.DB
	opts storeOptions
}

var _ Store = (*PostgresStore)(nil)

func OpenPostgres(cfg PostgresConfig) (*bun.DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	connOpts := []pgdriver.Option{pgdriver.WithDSN(dsn)}
	if cfg.DialTimeout > 0 {
		connOpts = append(connOpts, pgdriver.WithDialTimeout(cfg.DialTimeout))
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(connOpts...))
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

func NewPostgresStore(db *bun.DB, opts ...StoreOption) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("postgres db is required")
	}
	o, err := newStoreOptions(opts)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{db: db, opts: o}, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*sessionRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create conversation_sessions: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, sessionID string) (*ConversationState, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidSession
	}

	var row sessionRow
	err := s.db.NewSelect().Model(&row).Where("cs.session_id = ?", sessionID).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session %s: %w", sessionID, err)
	}
	if !row.ExpiresAt.IsZero() && s.opts.now().After(row.ExpiresAt) {
		return nil, ErrStateNotFound
	}
	return decodeState([]byte(row.Payload))
}

func (s *PostgresStore) Save(ctx context.Context, st *ConversationState) error {
	payload, err := prepareForSave(st)
	if err != nil {
		return err
	}

	row := sessionRow{
		SessionID: st.SessionID,
		Payload:   string(payload),
		Version:   st.Version,
		UpdatedAt: st.UpdatedAt,
	}
	if s.opts.ttl > 0 {
		row.ExpiresAt = s.opts.now().UTC().Add(s.opts.ttl)
	}

	if _, err := s.upsertQuery(&row).Exec(ctx); err != nil {
		return fmt.Errorf("upsert session %s: %w", st.SessionID, err)
	}
	return nil
}

func (s *PostgresStore) upsertQuery(row *sessionRow) *bun.InsertQuery {
	return s.db.NewInsert().
		Model(row).
		On("CONFLICT (session_id) DO UPDATE").
		Set("payload = EXCLUDED.payload").
		Set("version = EXCLUDED.version").
		Set("updated_at = EXCLUDED.updated_at").
		Set("expires_at = EXCLUDED.expires_at")
}

func (s *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidSession
	}
	_, err := s.db.NewDelete().Model((*sessionRow)(nil)).Where("session_id = ?", sessionID).Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
