package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tanpawarit/Chative-Scheduling-Assistant/agent/action"
	contractx "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/contract"
)

type LoopDeps struct {
	Oracle           contractx.Oracle
	Resolver         *action.Resolver
	Executor         *action.Executor
	MaxIterations    int
	OracleTimeout    time.Duration
	IdentityFallback bool
}

type stepResult int

const (
	stepContinue stepResult = iota
	stepReply
)

// RunActionLoop alternates between the oracle and the scheduling service
// until the oracle answers in text, a request needs the user (confirmation or
// clarification), or the iteration budget runs out. Requests of one oracle
// response run strictly in order.
func RunActionLoop(ctx context.Context, in *GraphState, deps LoopDeps) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	for in.Iterations < deps.MaxIterations {
		in.Iterations++

		resp, err := callOracle(ctx, in, deps)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			log.Error().
				Err(err).
				Str("session_id", in.SessionID).
				Int("iteration", in.Iterations).
				Msg("oracle call failed")
			in.Reply = ApologyReply
			return in, nil
		}

		if len(resp.Requests) == 0 {
			in.Reply = resp.Text
			return in, nil
		}

		in.Messages = append(in.Messages, contractx.Message{
			Role:      contractx.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.Requests,
		})
		for _, req := range resp.Requests {
			result, err := dispatchRequest(ctx, in, deps, req)
			if err != nil {
				return nil, err
			}
			if result == stepReply {
				return in, nil
			}
		}
	}

	log.Warn().
		Err(contractx.ErrLoopBudgetExceeded).
		Str("session_id", in.SessionID).
		Int("max_iterations", deps.MaxIterations).
		Msg("action loop budget exhausted")
	in.Reply = LoopExhaustedReply
	return in, nil
}

func callOracle(ctx context.Context, in *GraphState, deps LoopDeps) (contractx.OracleResponse, error) {
	callCtx := ctx
	if deps.OracleTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, deps.OracleTimeout)
		defer cancel()
	}

	return deps.Oracle.Next(callCtx, contractx.OracleRequest{
		Messages: in.Messages,
		Now:      in.Now,
		TimeZone: in.Session.Location().String(),
		Context:  OracleContext(in.Session, deps.IdentityFallback),
	})
}

// dispatchRequest validates, gates and executes one action request. Every
// request that does not end the loop gets exactly one observation.
func dispatchRequest(ctx context.Context, in *GraphState, deps LoopDeps, req contractx.ActionRequest) (stepResult, error) {
	loc := in.Session.Location()
	a, err := deps.Resolver.Resolve(req, action.SessionFrom(in.Session, in.Now))
	if err != nil {
		var amb *action.AmbiguousError
		if errors.As(err, &amb) {
			in.Reply = ClarificationReply(amb, loc)
			return stepReply, nil
		}
		log.Debug().
			Str("action", req.Name).
			Str("call_id", req.CallID).
			Err(err).
			Msg("action request rejected")
		in.Messages = append(in.Messages, action.Failure(req.CallID, req.Name, err).ToolMessage())
		return stepContinue, nil
	}

	if a.Destructive() {
		if sameAction(in.Confirmed, a) {
			in.Messages = append(in.Messages, contractx.Observation{
				CallID: req.CallID,
				Action: req.Name,
				Result: map[string]string{
					"status":      "already_completed",
					"booking_uid": action.TargetUID(a),
				},
			}.ToolMessage())
			return stepContinue, nil
		}
		pending, _ := action.ToPending(a, in.Now)
		in.Session.SetPending(pending)
		in.Reply = ConfirmationReply(a, loc)
		return stepReply, nil
	}

	if err := ctx.Err(); err != nil {
		return stepReply, err
	}
	log.Debug().
		Str("action", req.Name).
		Str("call_id", req.CallID).
		Msg("executing action")

	out := deps.Executor.Execute(ctx, req.CallID, a)
	applyOutcome(in, a, out)
	in.Messages = append(in.Messages, out.Observation.ToolMessage())
	return stepContinue, nil
}
