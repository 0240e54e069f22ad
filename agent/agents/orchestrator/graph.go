package orchestrator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	nodex "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/nodes"
)

func (o *Orchestrator) compileHandleTurnGraph(
	ctx context.Context,
) (compose.Runnable[nodex.GraphInput, nodex.GraphOutput], error) {
	graph := compose.NewGraph[nodex.GraphInput, nodex.GraphOutput]()

	if err := graph.AddLambdaNode("validate_request",
		compose.InvokableLambda(func(ctx context.Context, in nodex.GraphInput) (*nodex.GraphState, error) {
			return nodex.ValidateRequest(in, o.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_request: %w", err)
	}

	if err := graph.AddLambdaNode("load_or_create_state",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.LoadOrCreateState(ctx, in, o.store, o.cfg.DefaultTimeZone)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node load_or_create_state: %w", err)
	}

	if err := graph.AddLambdaNode("resolve_confirmation",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ResolveConfirmation(ctx, in, o.executor, o.store)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node resolve_confirmation: %w", err)
	}

	if err := graph.AddLambdaNode("run_action_loop",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.RunActionLoop(ctx, in, o.loopDeps())
		}),
	); err != nil {
		return nil, fmt.Errorf("add node run_action_loop: %w", err)
	}

	if err := graph.AddLambdaNode("commit_turn",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.CommitTurn(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node commit_turn: %w", err)
	}

	if err := graph.AddLambdaNode("validate_and_save_state",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ValidateAndSaveState(ctx, in, o.store)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_and_save_state: %w", err)
	}

	if err := graph.AddLambdaNode("finalize_reply",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (nodex.GraphOutput, error) {
			return nodex.FinalizeReply(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize_reply: %w", err)
	}

	persistBranch := compose.NewGraphBranch(
		func(ctx context.Context, in *nodex.GraphState) (string, error) {
			if in != nil && in.Persist && o.store != nil {
				return "validate_and_save_state", nil
			}
			return "finalize_reply", nil
		},
		map[string]bool{
			"validate_and_save_state": true,
			"finalize_reply":          true,
		},
	)
	if err := graph.AddBranch("commit_turn", persistBranch); err != nil {
		return nil, fmt.Errorf("add persist branch: %w", err)
	}

	edges := [][2]string{
		{compose.START, "validate_request"},
		{"validate_request", "load_or_create_state"},
		{"load_or_create_state", "resolve_confirmation"},
		{"resolve_confirmation", "run_action_loop"},
		{"run_action_loop", "commit_turn"},
		{"validate_and_save_state", "finalize_reply"},
		{"finalize_reply", compose.END},
	}

	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("orchestrator.handle_turn"))
	if err != nil {
		return nil, fmt.Errorf("compile orchestrator graph: %w", err)
	}
	return runner, nil
}
