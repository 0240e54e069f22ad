package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/contract"
	statex "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/state"
)

// LoadOrCreateState picks the working state, applies the request's identity
// and timezone, appends the user message and seeds the transcript.
func LoadOrCreateState(
	ctx context.Context,
	in *GraphState,
	store statex.Store,
	defaultTimeZone string,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	st, err := loadOrCreateState(ctx, in, store)
	if err != nil {
		return nil, err
	}

	if in.TimeZone != "" {
		if _, err := statex.LoadLocation(in.TimeZone); err != nil {
			return nil, fmt.Errorf("%w: %v", contractx.ErrValidation, err)
		}
		st.TimeZone = in.TimeZone
	}
	if st.TimeZone == "" {
		st.TimeZone = defaultTimeZone
	}
	st.SetIdentity(in.Email, in.Name)
	st.AppendTurn(statex.RoleUser, in.Text, in.Now)

	in.Session = st
	in.Messages = transcript(st.Turns)
	return in, nil
}

func loadOrCreateState(ctx context.Context, in *GraphState, store statex.Store) (*statex.ConversationState, error) {
	if in.Input != nil {
		st := in.Input.Clone()
		st.SessionID = in.SessionID
		return st, nil
	}
	if store == nil {
		return statex.NewConversationState(in.SessionID, in.Now), nil
	}

	st, err := store.Load(ctx, in.SessionID)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, statex.ErrStateNotFound) {
		return nil, err
	}
	return statex.NewConversationState(in.SessionID, in.Now), nil
}

func transcript(turns []statex.Turn) []contractx.Message {
	msgs := make([]contractx.Message, 0, len(turns)+4)
	for _, t := range turns {
		msgs = append(msgs, contractx.Message{Role: contractx.Role(t.Role), Content: t.Content})
	}
	return msgs
}

// StateFromTurns rebuilds a state from caller-held prior turns, for clients
// that keep the conversation themselves.
func StateFromTurns(sessionID string, turns []statex.Turn, now time.Time) *statex.ConversationState {
	st := statex.NewConversationState(sessionID, now)
	for _, t := range turns {
		if t.Role != statex.RoleUser && t.Role != statex.RoleAssistant {
			continue
		}
		at := t.At
		if at.IsZero() {
			at = now
		}
		st.AppendTurn(t.Role, t.Content, at)
	}
	return st
}
