// Package server exposes the orchestrator over HTTP with gin.
package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/tanpawarit/Chative-Scheduling-Assistant/agent/agents/orchestrator"
)

// ChatService is the part of the orchestrator the HTTP surface needs.
type ChatService interface {
	HandleMessage(ctx context.Context, req orchestrator.MessageRequest) (orchestrator.TurnResult, error)
	Reset(ctx context.Context, sessionID string) error
}

type Config struct {
	RateLimitPerMinute int
	RateLimitBurst     int
	CORSOrigins        []string
	RequestTimeout     time.Duration
}

type Server struct {
	chat ChatService
	cfg  Config
	now  func() time.Time
}

func New(chat ChatService, cfg Config) *Server {
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 60
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 10
	}
	return &Server{chat: chat, cfg: cfg, now: time.Now}
}

// Router builds the gin engine with middleware and routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger())
	r.Use(cors.New(corsConfig(s.cfg.CORSOrigins)))

	r.GET("/", s.handleIndex)
	r.GET("/health", s.handleHealth)

	limiter := NewIPRateLimiter(s.cfg.RateLimitPerMinute, s.cfg.RateLimitBurst)
	api := r.Group("")
	api.Use(RateLimit(limiter))
	{
		api.POST("/chat", s.handleChat)
		api.POST("/reset", s.handleReset)
	}

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}

	var allowed []string
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
		allowed = append(allowed, o)
	}
	if len(allowed) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = allowed
	cfg.AllowCredentials = true
	return cfg
}
