package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	contractx "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/contract"
)

func newSDKTestOracle(t *testing.T, handler http.HandlerFunc) *SDKOracle {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := openaisdk.NewClient(
		option.WithAPIKey("sk-test"),
		option.WithBaseURL(srv.URL+"/"),
		option.WithMaxRetries(0),
	)
	o, err := NewSDKOracle(&client, SDKConfig{Model: "test-model", Temperature: 0.2}, nil)
	if err != nil {
		t.Fatalf("NewSDKOracle() error = %v", err)
	}
	return o
}

func TestSDKOracleSendsToolsAndParsesCalls(t *testing.T) {
	t.Parallel()

	var body map[string]any
	o := newSDKTestOracle(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"test-model","choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":null,"tool_calls":[{"id":"call_7","type":"function","function":{"name":"list_bookings","arguments":"{\"status\":\"upcoming\"}"}}]}}]}`))
	})

	out, err := o.Next(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if len(out.Requests) != 1 || out.Requests[0].CallID != "call_7" || out.Requests[0].RawParameters["status"] != "upcoming" {
		t.Fatalf("requests = %+v", out.Requests)
	}

	if body["model"] != "test-model" {
		t.Fatalf("model = %v", body["model"])
	}
	tools, _ := body["tools"].([]any)
	if len(tools) != 6 {
		t.Fatalf("expected 6 tools, got %d", len(tools))
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	system, _ := msgs[0].(map[string]any)
	if content, _ := system["content"].(string); !strings.Contains(content, "Asia/Bangkok") || strings.Contains(content, "{now}") {
		t.Fatalf("system message not rendered: %v", system["content"])
	}
	assistant, _ := msgs[2].(map[string]any)
	if calls, _ := assistant["tool_calls"].([]any); len(calls) != 1 {
		t.Fatalf("assistant tool_calls = %v", assistant["tool_calls"])
	}
	tool, _ := msgs[3].(map[string]any)
	if tool["role"] != "tool" || tool["tool_call_id"] != "call_1" {
		t.Fatalf("tool message = %v", tool)
	}
}

func TestSDKOracleTextReply(t *testing.T) {
	t.Parallel()

	o := newSDKTestOracle(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"test-model","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"You have no bookings."}}]}`))
	})
	out, err := o.Next(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if out.Text != "You have no bookings." || len(out.Requests) != 0 {
		t.Fatalf("Next() = %+v", out)
	}
}

func TestSDKOracleErrors(t *testing.T) {
	t.Parallel()

	o := newSDKTestOracle(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream exploded"}}`))
	})
	if _, err := o.Next(context.Background(), sampleRequest()); !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("Next() error = %v, want ErrModelInvoke", err)
	}

	empty := newSDKTestOracle(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"test-model","choices":[]}`))
	})
	if _, err := empty.Next(context.Background(), sampleRequest()); !errors.Is(err, contractx.ErrSchemaViolation) {
		t.Fatalf("Next() error = %v, want ErrSchemaViolation", err)
	}

	if _, err := NewSDKOracle(nil, SDKConfig{Model: "m"}, nil); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("NewSDKOracle(nil) error = %v", err)
	}
}
