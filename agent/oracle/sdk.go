package oracle

import (
	"context"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"

	"github.com/tanpawarit/Chative-Scheduling-Assistant/agent/action"
	contractx "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/contract"
	promptx "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/prompt"
)

type SDKConfig struct {
	Model              string
	Temperature        float64
	MaxCompletionToken int
}

// SDKOracle calls the chat-completions API directly through the OpenAI SDK,
// without an eino graph.
type SDKOracle struct {
	client       *openaisdk.Client
	cfg          SDKConfig
	tools        []openaisdk.ChatCompletionToolParam
	systemPrompt string
}

var _ contractx.Oracle = (*SDKOracle)(nil)

func NewSDKOracle(client *openaisdk.Client, cfg SDKConfig, registry *action.Registry, opts ...Option) (*SDKOracle, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: openai client is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("%w: model is required", contractx.ErrValidation)
	}
	if registry == nil {
		registry = action.NewRegistry()
	}
	o := newOptions(opts)

	specs := registry.Specs()
	tools := make([]openaisdk.ChatCompletionToolParam, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, openaisdk.ChatCompletionToolParam{
			Function: openaisdk.FunctionDefinitionParam{
				Name:        string(spec.Name),
				Description: openaisdk.String(spec.Description),
				Parameters:  openaisdk.FunctionParameters(registry.JSONSchema(spec)),
			},
		})
	}

	return &SDKOracle{client: client, cfg: cfg, tools: tools, systemPrompt: o.systemPrompt}, nil
}

func (s *SDKOracle) Next(ctx context.Context, req contractx.OracleRequest) (contractx.OracleResponse, error) {
	if err := validateRequest(req); err != nil {
		return contractx.OracleResponse{}, err
	}

	system := promptx.Render(s.systemPrompt, promptVars(req))
	params := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(strings.TrimSpace(s.cfg.Model)),
		Messages: append([]openaisdk.ChatCompletionMessageParamUnion{openaisdk.SystemMessage(system)}, toSDKMessages(req.Messages)...),
		Tools:    s.tools,
	}
	if s.cfg.Temperature > 0 {
		params.Temperature = openaisdk.Float(s.cfg.Temperature)
	}
	if s.cfg.MaxCompletionToken > 0 {
		params.MaxCompletionTokens = openaisdk.Int(int64(s.cfg.MaxCompletionToken))
	}

	completion, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return contractx.OracleResponse{}, fmt.Errorf("%w: chat completion: %v", contractx.ErrModelInvoke, err)
	}
	if len(completion.Choices) == 0 {
		return contractx.OracleResponse{}, fmt.Errorf("%w: completion has no choices", contractx.ErrSchemaViolation)
	}

	msg := completion.Choices[0].Message
	calls := make([]rawToolCall, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		calls = append(calls, rawToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	return buildResponse(msg.Content, calls)
}

func toSDKMessages(msgs []contractx.Message) []openaisdk.ChatCompletionMessageParamUnion {
	out := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case contractx.RoleUser:
			out = append(out, openaisdk.UserMessage(m.Content))
		case contractx.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openaisdk.AssistantMessage(m.Content))
				continue
			}
			asst := openaisdk.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				asst.Content.OfString = openaisdk.String(m.Content)
			}
			for _, req := range m.ToolCalls {
				asst.ToolCalls = append(asst.ToolCalls, openaisdk.ChatCompletionMessageToolCallParam{
					ID: req.CallID,
					Function: openaisdk.ChatCompletionMessageToolCallFunctionParam{
						Name:      req.Name,
						Arguments: encodeArguments(req.RawParameters),
					},
				})
			}
			out = append(out, openaisdk.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case contractx.RoleTool:
			out = append(out, openaisdk.ToolMessage(m.Content, m.ToolCallID))
		}
	}
	return out
}
