package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/tanpawarit/Chative-Scheduling-Assistant/agent/action"
	"github.com/tanpawarit/Chative-Scheduling-Assistant/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/contract"
	"github.com/tanpawarit/Chative-Scheduling-Assistant/agent/oracle"
	statex "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/state"
	calcomx "github.com/tanpawarit/Chative-Scheduling-Assistant/pkg/calcom"
	configx "github.com/tanpawarit/Chative-Scheduling-Assistant/pkg/config"
	_ "github.com/tanpawarit/Chative-Scheduling-Assistant/pkg/logger/autoload"
	openrouterx "github.com/tanpawarit/Chative-Scheduling-Assistant/pkg/openrouter"
	qstashx "github.com/tanpawarit/Chative-Scheduling-Assistant/pkg/qstash"
	"github.com/tanpawarit/Chative-Scheduling-Assistant/server"
)

type AppConfig struct {
	HTTPAddr           string        `envconfig:"HTTP_ADDR" default:":8000"`
	StateBackend       string        `split_words:"true" default:"memory"`
	OracleBackend      string        `split_words:"true" default:"eino"`
	ShutdownTimeout    time.Duration `split_words:"true" default:"10s"`
	RequestTimeout     time.Duration `split_words:"true" default:"120s"`
	RateLimitPerMinute int           `split_words:"true" default:"60"`
	RateLimitBurst     int           `split_words:"true" default:"10"`
	CORSOrigins        []string      `envconfig:"CORS_ORIGINS" default:"*"`
	SessionTTL         time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	SessionKeyPrefix   string        `split_words:"true" default:"chative:session:"`
	Debug              bool          `split_words:"true" default:"false"`
}

func main() {
	appCfg := configx.MustNew[AppConfig]("APP")
	if !appCfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	calcomCfg := configx.MustNew[calcomx.Config]("CALCOM")
	scheduling := calcomx.MustNew(*calcomCfg)

	orchCfg := configx.MustNew[orchestrator.Config]("ORCHESTRATOR")
	orchCfg.DefaultEventTypeID = calcomCfg.DefaultEventTypeID

	openRouterCfg := configx.MustNew[openrouterx.Config]("OPENROUTER")
	oracleImpl, err := newOracle(ctx, appCfg.OracleBackend, openRouterCfg, orchCfg.Registry())
	if err != nil {
		log.Fatal().Err(err).Str("backend", appCfg.OracleBackend).Msg("failed to initialize oracle")
	}

	store, closeStore, err := newStore(ctx, appCfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", appCfg.StateBackend).Msg("failed to initialize state store")
	}
	defer closeStore()

	var orchOpts []orchestrator.Option
	if publisher := newPublisher(); publisher != nil {
		orchOpts = append(orchOpts, orchestrator.WithPublisher(publisher))
	}

	orch, err := orchestrator.New(oracleImpl, scheduling, store, *orchCfg, orchOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize orchestrator")
	}

	srv := &http.Server{
		Addr: appCfg.HTTPAddr,
		Handler: server.New(orch, server.Config{
			RateLimitPerMinute: appCfg.RateLimitPerMinute,
			RateLimitBurst:     appCfg.RateLimitBurst,
			CORSOrigins:        appCfg.CORSOrigins,
			RequestTimeout:     appCfg.RequestTimeout,
		}).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("oracle", appCfg.OracleBackend).
			Str("state", appCfg.StateBackend).
			Str("model", openRouterCfg.ModelName()).
			Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), appCfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("server stopped")
}

func newOracle(
	ctx context.Context,
	backend string,
	cfg *openrouterx.Config,
	registry *action.Registry,
) (contractx.Oracle, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "eino":
		chatModel, err := cfg.New(ctx)
		if err != nil {
			return nil, err
		}
		return oracle.NewEinoOracle(ctx, chatModel, registry)
	case "sdk":
		client, err := openrouterx.NewClient(*cfg)
		if err != nil {
			return nil, err
		}
		return oracle.NewSDKOracle(client, oracle.SDKConfig{
			Model:              cfg.ModelName(),
			Temperature:        float64(cfg.Temperature),
			MaxCompletionToken: cfg.MaxCompletionToken,
		}, registry)
	default:
		return nil, fmt.Errorf("unknown oracle backend %q", backend)
	}
}

func newStore(ctx context.Context, appCfg *AppConfig) (statex.Store, func(), error) {
	opts := []statex.StoreOption{
		statex.WithKeyPrefix(appCfg.SessionKeyPrefix),
		statex.WithTTL(appCfg.SessionTTL),
	}
	noop := func() {}

	switch strings.ToLower(strings.TrimSpace(appCfg.StateBackend)) {
	case "", "memory":
		return statex.NewMemoryStore(opts...), noop, nil

	case "upstash":
		cfg := configx.MustNew[statex.UpstashRedisConfig]("UPSTASH_REDIS")
		store, err := statex.NewUpstashRedisStore(*cfg, opts...)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil

	case "redis":
		cfg := configx.MustNew[statex.RedisConfig]("REDIS")
		client, err := statex.NewRedisClient(*cfg)
		if err != nil {
			return nil, noop, err
		}
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("ping redis: %w", err)
		}
		store, err := statex.NewRedisStore(client, opts...)
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		return store, func() { _ = client.Close() }, nil

	case "postgres":
		cfg := configx.MustNew[statex.PostgresConfig]("POSTGRES")
		db, err := statex.OpenPostgres(*cfg)
		if err != nil {
			return nil, noop, err
		}
		store, err := statex.NewPostgresStore(db, opts...)
		if err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		if cfg.AutoMigrate {
			if err := store.Migrate(ctx); err != nil {
				_ = store.Close()
				return nil, noop, err
			}
		}
		return store, func() { _ = store.Close() }, nil

	default:
		return nil, noop, fmt.Errorf("unknown state backend %q", appCfg.StateBackend)
	}
}

// newPublisher returns nil when QStash is not configured.
func newPublisher() contractx.EventPublisher {
	cfg := configx.MustNew[qstashx.Config]("QSTASH")
	if !cfg.Enabled() {
		return nil
	}
	client, err := qstashx.NewClient(*cfg)
	if err != nil {
		log.Warn().Err(err).Msg("booking events disabled")
		return nil
	}
	return client
}
