package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/tanpawarit/Chative-Scheduling-Assistant/agent/action"
	contractx "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/contract"
	promptx "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/prompt"
)

const historyKey = "history"

type Option func(*options)

type options struct {
	systemPrompt string
}

// WithSystemPrompt replaces the embedded system prompt. The template may use
// {now}, {timezone} and {context}.
func WithSystemPrompt(p string) Option {
	return func(o *options) {
		if strings.TrimSpace(p) != "" {
			o.systemPrompt = p
		}
	}
}

func newOptions(opts []Option) options {
	o := options{systemPrompt: promptx.LoadPromptSet().System}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// EinoOracle runs one oracle step as a compiled eino graph:
// prepare -> prompt -> model (actions bound as tools) -> parse.
type EinoOracle struct {
	runner compose.Runnable[contractx.OracleRequest, contractx.OracleResponse]
}

var _ contractx.Oracle = (*EinoOracle)(nil)

func NewEinoOracle(
	ctx context.Context,
	chatModel einomodel.ToolCallingChatModel,
	registry *action.Registry,
	opts ...Option,
) (*EinoOracle, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("%w: chat model is required", contractx.ErrValidation)
	}
	if registry == nil {
		registry = action.NewRegistry()
	}
	o := newOptions(opts)

	toolModel, err := chatModel.WithTools(registry.ToolInfos())
	if err != nil {
		return nil, fmt.Errorf("%w: bind scheduling actions: %v", contractx.ErrModelInvoke, err)
	}

	runner, err := compileOracleGraph(ctx, toolModel, o.systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("%w: compile oracle graph: %v", contractx.ErrModelInvoke, err)
	}
	return &EinoOracle{runner: runner}, nil
}

func (e *EinoOracle) Next(ctx context.Context, req contractx.OracleRequest) (contractx.OracleResponse, error) {
	if err := validateRequest(req); err != nil {
		return contractx.OracleResponse{}, err
	}
	out, err := e.runner.Invoke(ctx, req)
	if err != nil {
		if errors.Is(err, contractx.ErrSchemaViolation) {
			return contractx.OracleResponse{}, err
		}
		return contractx.OracleResponse{}, fmt.Errorf("%w: oracle graph: %v", contractx.ErrModelInvoke, err)
	}
	return out, nil
}

func compileOracleGraph(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
) (compose.Runnable[contractx.OracleRequest, contractx.OracleResponse], error) {
	template := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.MessagesPlaceholder(historyKey, true),
	)

	graph := compose.NewGraph[contractx.OracleRequest, contractx.OracleResponse]()

	if err := graph.AddLambdaNode("prepare",
		compose.InvokableLambda(func(ctx context.Context, req contractx.OracleRequest) (map[string]any, error) {
			vars := promptVars(req)
			return map[string]any{
				promptx.VarNow:      vars[promptx.VarNow],
				promptx.VarTimeZone: vars[promptx.VarTimeZone],
				promptx.VarContext:  vars[promptx.VarContext],
				historyKey:          toSchemaMessages(req.Messages),
			}, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add oracle prepare node: %w", err)
	}
	if err := graph.AddChatTemplateNode("prompt", template); err != nil {
		return nil, fmt.Errorf("add oracle prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add oracle model node: %w", err)
	}
	if err := graph.AddLambdaNode("parse",
		compose.InvokableLambda(func(ctx context.Context, msg *schema.Message) (contractx.OracleResponse, error) {
			if msg == nil {
				return contractx.OracleResponse{}, fmt.Errorf("%w: model returned no message", contractx.ErrSchemaViolation)
			}
			calls := make([]rawToolCall, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				calls = append(calls, rawToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
			}
			return buildResponse(msg.Content, calls)
		}),
	); err != nil {
		return nil, fmt.Errorf("add oracle parse node: %w", err)
	}

	if err := graph.AddEdge(compose.START, "prepare"); err != nil {
		return nil, fmt.Errorf("add oracle edge start->prepare: %w", err)
	}
	if err := graph.AddEdge("prepare", "prompt"); err != nil {
		return nil, fmt.Errorf("add oracle edge prepare->prompt: %w", err)
	}
	if err := graph.AddEdge("prompt", "model"); err != nil {
		return nil, fmt.Errorf("add oracle edge prompt->model: %w", err)
	}
	if err := graph.AddEdge("model", "parse"); err != nil {
		return nil, fmt.Errorf("add oracle edge model->parse: %w", err)
	}
	if err := graph.AddEdge("parse", compose.END); err != nil {
		return nil, fmt.Errorf("add oracle edge parse->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("oracle.step_graph"))
	if err != nil {
		return nil, fmt.Errorf("compile oracle graph: %w", err)
	}
	return runner, nil
}

func toSchemaMessages(msgs []contractx.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case contractx.RoleUser:
			out = append(out, schema.UserMessage(m.Content))
		case contractx.RoleAssistant:
			msg := &schema.Message{Role: schema.Assistant, Content: m.Content}
			for _, req := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
					ID:   req.CallID,
					Type: "function",
					Function: schema.FunctionCall{
						Name:      req.Name,
						Arguments: encodeArguments(req.RawParameters),
					},
				})
			}
			out = append(out, msg)
		case contractx.RoleTool:
			msg := schema.ToolMessage(m.Content, m.ToolCallID)
			msg.Name = m.Name
			out = append(out, msg)
		}
	}
	return out
}
