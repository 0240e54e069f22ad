package orchestratornode

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tanpawarit/Chative-Scheduling-Assistant/agent/action"
	contractx "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/contract"
	statex "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/state"
)

// ResolveConfirmation settles a pending confirmation. An affirmative reply
// executes exactly the stored parameters and records the call in the
// transcript; any other reply drops the pending action. With Checkpoint set
// the cleared state is saved right after execution.
func ResolveConfirmation(
	ctx context.Context,
	in *GraphState,
	executor *action.Executor,
	store statex.Store,
) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	pending := in.Session.Pending
	if pending == nil {
		return in, nil
	}
	in.Session.ClearPending()

	if !IsAffirmative(in.Text) {
		log.Debug().
			Str("session_id", in.SessionID).
			Str("action", pending.Action).
			Msg("pending confirmation declined")
		return in, nil
	}

	a, err := action.FromPending(*pending, in.Session.Location())
	if err != nil {
		return nil, err
	}

	callID := "call_" + uuid.NewString()
	in.Messages = append(in.Messages, contractx.Message{
		Role:      contractx.RoleAssistant,
		ToolCalls: []contractx.ActionRequest{{CallID: callID, Name: string(a.Name()), RawParameters: action.Parameters(a)}},
	})

	log.Debug().
		Str("session_id", in.SessionID).
		Str("action", string(a.Name())).
		Str("booking_uid", action.TargetUID(a)).
		Msg("executing confirmed action")

	out := executor.Execute(ctx, callID, a)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	applyOutcome(in, a, out)
	in.Confirmed = a
	in.Messages = append(in.Messages, out.Observation.ToolMessage())

	if in.Checkpoint && store != nil {
		if err := store.Save(ctx, in.Session); err != nil {
			log.Warn().
				Err(err).
				Str("session_id", in.SessionID).
				Msg("failed to checkpoint state after confirmed action")
		}
	}
	return in, nil
}
