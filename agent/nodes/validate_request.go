// Package orchestratornode holds the nodes of the per-turn graph. Every node
// works on the same *GraphState; the conversation state in it is a private
// clone, so a failed turn leaves the caller's state untouched.
package orchestratornode

import (
	"errors"
	"strings"
	"time"

	"github.com/tanpawarit/Chative-Scheduling-Assistant/agent/action"
	contractx "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/contract"
	statex "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/state"
)

var (
	ErrInvalidMessage = errors.New("message is empty")
	ErrInvalidSession = errors.New("session id is empty")
)

type GraphInput struct {
	SessionID string
	Text      string

	// State, when set, is the caller-held conversation state. Otherwise the
	// state is loaded from the store, or created.
	State *statex.ConversationState

	Email    string
	Name     string
	TimeZone string

	// Persist saves the state after the turn.
	Persist bool

	// Checkpoint saves the state as soon as a confirmed action has run, so a
	// turn that fails later cannot replay it.
	Checkpoint bool
}

type GraphOutput struct {
	Reply string
	State *statex.ConversationState
}

type GraphState struct {
	SessionID  string
	Text       string
	Now        time.Time
	Persist    bool
	Checkpoint bool

	Email    string
	Name     string
	TimeZone string

	Input   *statex.ConversationState
	Session *statex.ConversationState

	// Messages is the transcript sent to the oracle: prior turns, then this
	// turn's action requests and observations.
	Messages []contractx.Message

	// Confirmed is the destructive action executed from a pending
	// confirmation this turn.
	Confirmed action.Action

	Iterations int
	Reply      string
}

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" && in.State != nil {
		sessionID = strings.TrimSpace(in.State.SessionID)
	}
	if sessionID == "" {
		return nil, ErrInvalidSession
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrInvalidMessage
	}

	return &GraphState{
		SessionID:  sessionID,
		Text:       text,
		Now:        nowFn().UTC(),
		Persist:    in.Persist,
		Checkpoint: in.Checkpoint,
		Email:      strings.TrimSpace(in.Email),
		Name:       strings.TrimSpace(in.Name),
		TimeZone:   strings.TrimSpace(in.TimeZone),
		Input:      in.State,
	}, nil
}
