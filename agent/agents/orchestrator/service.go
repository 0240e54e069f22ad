package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"

	"github.com/tanpawarit/Chative-Scheduling-Assistant/agent/action"
	contractx "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/contract"
	"github.com/tanpawarit/Chative-Scheduling-Assistant/agent/disambiguate"
	nodex "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/nodes"
	statex "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/state"
)

var (
	ErrInvalidMessage = nodex.ErrInvalidMessage
	ErrInvalidSession = nodex.ErrInvalidSession
)

type Config struct {
	MaxIterations   int           `split_words:"true" default:"6"`
	OracleTimeout   time.Duration `split_words:"true" default:"45s"`
	DefaultTimeZone string        `envconfig:"DEFAULT_TIMEZONE" default:"UTC"`
	MatchTolerance  time.Duration `split_words:"true" default:"30m"`

	// DisableIdentityFallback stops filling a missing attendee email or name
	// from the session identity. The zero value keeps the fallback on.
	DisableIdentityFallback bool `split_words:"true" default:"false"`

	// DefaultEventTypeID is taken from the scheduling service config.
	DefaultEventTypeID int64 `ignored:"true"`
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 6
	}
	if c.OracleTimeout < 0 {
		c.OracleTimeout = 0
	}
	c.DefaultTimeZone = strings.TrimSpace(c.DefaultTimeZone)
	if c.DefaultTimeZone == "" {
		c.DefaultTimeZone = "UTC"
	}
	if c.MatchTolerance <= 0 {
		c.MatchTolerance = disambiguate.DefaultTolerance
	}
	return c
}

// Registry returns the action registry advertised to the oracle, matching
// the identity fallback setting.
func (c Config) Registry() *action.Registry {
	if c.DisableIdentityFallback {
		return action.NewRegistry(action.WithoutIdentityDefaults())
	}
	return action.NewRegistry()
}

type Option func(*options)

type options struct {
	publisher contractx.EventPublisher
	now       func() time.Time
}

// WithPublisher publishes booking lifecycle events after successful
// mutations.
func WithPublisher(p contractx.EventPublisher) Option {
	return func(o *options) {
		o.publisher = p
	}
}

func withClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

type Orchestrator struct {
	oracle   contractx.Oracle
	store    statex.Store
	resolver *action.Resolver
	executor *action.Executor
	cfg      Config

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	now func() time.Time
}

// TurnResult is the reply of one turn and the state after it.
type TurnResult struct {
	Reply     string
	State     *statex.ConversationState
	SessionID string
}

// MessageRequest is one user message against a stored session. An empty
// SessionID keys the session by the caller-held transcript instead.
type MessageRequest struct {
	SessionID string
	Text      string
	Email     string
	Name      string
	TimeZone  string

	// PriorTurns seed a session the store does not know yet.
	PriorTurns []statex.Turn
}

// New wires the action layer around the scheduling client and compiles the
// turn graph. store may be nil when callers only use HandleTurn.
func New(
	oracle contractx.Oracle,
	client contractx.SchedulingClient,
	store statex.Store,
	cfg Config,
	opts ...Option,
) (*Orchestrator, error) {
	if oracle == nil {
		return nil, errors.New("oracle is required")
	}
	if client == nil {
		return nil, errors.New("scheduling client is required")
	}

	cfg = cfg.withDefaults()
	if _, err := statex.LoadLocation(cfg.DefaultTimeZone); err != nil {
		return nil, fmt.Errorf("%w: default timezone: %v", contractx.ErrValidation, err)
	}

	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}

	var execOpts []action.ExecutorOption
	if o.publisher != nil {
		execOpts = append(execOpts, action.WithPublisher(o.publisher))
	}

	registry := cfg.Registry()
	orch := &Orchestrator{
		oracle: oracle,
		store:  store,
		resolver: action.NewResolver(
			registry,
			disambiguate.New(disambiguate.WithTolerance(cfg.MatchTolerance)),
			action.ResolverConfig{
				IdentityFallback:   !cfg.DisableIdentityFallback,
				DefaultEventTypeID: cfg.DefaultEventTypeID,
			},
		),
		executor: action.NewExecutor(client, execOpts...),
		cfg:      cfg,
		now:      o.now,
	}

	graphRunner, err := orch.compileHandleTurnGraph(context.Background())
	if err != nil {
		return nil, err
	}
	orch.graphRunner = graphRunner

	return orch, nil
}

func (o *Orchestrator) loopDeps() nodex.LoopDeps {
	return nodex.LoopDeps{
		Oracle:           o.oracle,
		Resolver:         o.resolver,
		Executor:         o.executor,
		MaxIterations:    o.cfg.MaxIterations,
		OracleTimeout:    o.cfg.OracleTimeout,
		IdentityFallback: !o.cfg.DisableIdentityFallback,
	}
}

// HandleTurn runs one turn against a caller-held state and returns the reply
// with the updated state. The input state is never modified; on error the
// caller keeps using it.
func (o *Orchestrator) HandleTurn(ctx context.Context, st *statex.ConversationState, text string) (TurnResult, error) {
	if st == nil {
		return TurnResult{}, ErrInvalidSession
	}
	out, err := o.graphRunner.Invoke(ctx, nodex.GraphInput{
		SessionID: st.SessionID,
		Text:      text,
		State:     st,
	})
	if err != nil {
		return TurnResult{}, err
	}
	return TurnResult{Reply: out.Reply, State: out.State, SessionID: out.State.SessionID}, nil
}

// HandleMessage runs one turn against the stored session and saves the
// updated state.
func (o *Orchestrator) HandleMessage(ctx context.Context, req MessageRequest) (TurnResult, error) {
	if o.store == nil {
		return TurnResult{}, errors.New("state store is required")
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		return o.handleTranscriptMessage(ctx, req)
	}

	in := nodex.GraphInput{
		SessionID:  sessionID,
		Text:       req.Text,
		Email:      req.Email,
		Name:       req.Name,
		TimeZone:   req.TimeZone,
		Persist:    true,
		Checkpoint: true,
	}

	if len(req.PriorTurns) > 0 {
		_, err := o.store.Load(ctx, sessionID)
		switch {
		case errors.Is(err, statex.ErrStateNotFound):
			in.State = nodex.StateFromTurns(sessionID, req.PriorTurns, o.now().UTC())
		case err != nil:
			return TurnResult{}, err
		}
	}

	out, err := o.graphRunner.Invoke(ctx, in)
	if err != nil {
		return TurnResult{}, err
	}
	return TurnResult{Reply: out.Reply, State: out.State, SessionID: sessionID}, nil
}

// handleTranscriptMessage serves clients that only echo the transcript back.
// The state is stored under a key derived from the identity and the turns
// returned to the caller, so the next message's prior turns find it again
// together with its pending confirmation and bookings snapshot.
func (o *Orchestrator) handleTranscriptMessage(ctx context.Context, req MessageRequest) (TurnResult, error) {
	priorKey := TranscriptSessionID(req.Email, req.PriorTurns)
	now := o.now().UTC()

	st := statex.NewConversationState(priorKey, now)
	loaded := false
	if len(req.PriorTurns) > 0 {
		stored, err := o.store.Load(ctx, priorKey)
		switch {
		case err == nil:
			st, loaded = stored, true
		case errors.Is(err, statex.ErrStateNotFound):
			st = nodex.StateFromTurns(priorKey, req.PriorTurns, now)
		default:
			return TurnResult{}, err
		}
	}

	out, err := o.graphRunner.Invoke(ctx, nodex.GraphInput{
		SessionID:  priorKey,
		Text:       req.Text,
		Email:      req.Email,
		Name:       req.Name,
		TimeZone:   req.TimeZone,
		State:      st,
		Checkpoint: loaded,
	})
	if err != nil {
		return TurnResult{}, err
	}

	next := out.State
	next.SessionID = TranscriptSessionID(req.Email, next.Turns)
	if err := next.Validate(); err != nil {
		return TurnResult{}, fmt.Errorf("state validation failed: %w", err)
	}
	if err := o.store.Save(ctx, next); err != nil {
		return TurnResult{}, err
	}
	if loaded && priorKey != next.SessionID {
		if err := o.store.Delete(ctx, priorKey); err != nil && !errors.Is(err, statex.ErrStateNotFound) {
			log.Warn().Err(err).Str("session_id", priorKey).Msg("failed to drop superseded transcript session")
		}
	}

	return TurnResult{Reply: out.Reply, State: next, SessionID: next.SessionID}, nil
}

// TranscriptSessionID derives a session key from the attendee email and the
// user and assistant turns. Empty turns are skipped the way the HTTP layer
// skips them.
func TranscriptSessionID(email string, turns []statex.Turn) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(email))))
	for _, t := range turns {
		if t.Role != statex.RoleUser && t.Role != statex.RoleAssistant {
			continue
		}
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		h.Write([]byte{0})
		h.Write([]byte(t.Role))
		h.Write([]byte{0})
		h.Write([]byte(t.Content))
	}
	return "transcript-" + hex.EncodeToString(h.Sum(nil))[:32]
}

// Reset forgets a stored session.
func (o *Orchestrator) Reset(ctx context.Context, sessionID string) error {
	if o.store == nil {
		return errors.New("state store is required")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrInvalidSession
	}
	return o.store.Delete(ctx, sessionID)
}
