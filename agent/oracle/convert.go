// Package oracle adapts a chat-completion model to the Oracle contract: the
// transcript and the action declarations go in, a text reply or action
// requests come out.
package oracle

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	contractx "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/contract"
	promptx "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/prompt"
)

type rawToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// toActionRequests parses tool calls. Unknown names pass through; the
// registry rejects them later as validation failures.
func toActionRequests(calls []rawToolCall) ([]contractx.ActionRequest, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	reqs := make([]contractx.ActionRequest, 0, len(calls))
	for _, call := range calls {
		name := strings.TrimSpace(call.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: tool call name is empty", contractx.ErrSchemaViolation)
		}

		args := map[string]any{}
		rawArgs := strings.TrimSpace(call.Arguments)
		if rawArgs != "" {
			if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
				return nil, fmt.Errorf("%w: invalid arguments for action=%s: %v", contractx.ErrSchemaViolation, name, err)
			}
		}

		id := strings.TrimSpace(call.ID)
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		reqs = append(reqs, contractx.ActionRequest{CallID: id, Name: name, RawParameters: args})
	}
	return reqs, nil
}

func buildResponse(content string, calls []rawToolCall) (contractx.OracleResponse, error) {
	reqs, err := toActionRequests(calls)
	if err != nil {
		return contractx.OracleResponse{}, err
	}
	text := strings.TrimSpace(content)
	if text == "" && len(reqs) == 0 {
		return contractx.OracleResponse{}, fmt.Errorf("%w: empty oracle response", contractx.ErrSchemaViolation)
	}
	return contractx.OracleResponse{Text: text, Requests: reqs}, nil
}

func encodeArguments(params map[string]any) string {
	if len(params) == 0 {
		return "{}"
	}
	b, err := json.Marshal(params)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func promptVars(req contractx.OracleRequest) map[string]string {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	tz := strings.TrimSpace(req.TimeZone)
	if tz == "" {
		tz = "UTC"
	}
	if loc, err := time.LoadLocation(tz); err == nil {
		now = now.In(loc)
	}
	ctx := strings.TrimSpace(req.Context)
	if ctx == "" {
		ctx = "(none)"
	}
	return map[string]string{
		promptx.VarNow:      now.Format("Monday, 2006-01-02 15:04 MST (-07:00)"),
		promptx.VarTimeZone: tz,
		promptx.VarContext:  ctx,
	}
}

func validateRequest(req contractx.OracleRequest) error {
	if len(req.Messages) == 0 {
		return fmt.Errorf("%w: oracle request has no messages", contractx.ErrValidation)
	}
	return nil
}
