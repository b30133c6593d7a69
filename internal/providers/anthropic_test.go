package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/ai-gateway/internal/core"
)

func anthropicSSE(t *testing.T, frames []string) http.HandlerFunc {
	t.Helper()

	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		w.Header().Set("Content-Type", "text/event-stream")

		for _, frame := range frames {
			fmt.Fprintf(w, "data: %s\n\n", frame)
		}
	}
}

func TestAnthropicStreamToolUse(t *testing.T) {
	srv := httptest.NewServer(anthropicSSE(t, []string{
		`{"type":"message_start","message":{"usage":{"input_tokens":12}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"get_weather","input":{}}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"location\":"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"Tokyo\"}"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":9}}`,
		`{"type":"message_stop"}`,
	}))
	defer srv.Close()

	a := NewAnthropic("anthropic", "claude-sonnet-4", srv.URL+"/v1/messages",
		map[string]string{"x-api-key": "sk-ant"}, testLogger())

	events, err := a.Stream(context.Background(), core.Request{
		Messages: []core.Message{core.TextMessage(core.RoleUser, "weather in Tokyo")},
		Stream:   true,
	})
	require.NoError(t, err)

	all := drain(t, events)
	require.Len(t, all, 2)

	tc := all[0]
	require.Equal(t, core.EventToolCall, tc.Type)
	assert.Equal(t, "toolu_1", tc.ToolCall.ID)
	assert.JSONEq(t, `{"location":"Tokyo"}`, tc.ToolCall.ArgsJSON)

	finish := all[1]
	assert.Equal(t, core.FinishToolCalls, finish.Reason)
	assert.Equal(t, 12, finish.Usage.PromptTokens)
	assert.Equal(t, 9, finish.Usage.CompletionTokens)
}

func TestAnthropicStreamText(t *testing.T) {
	srv := httptest.NewServer(anthropicSSE(t, []string{
		`{"type":"message_start","message":{"usage":{"input_tokens":3}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"ok"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":1}}`,
		`{"type":"message_stop"}`,
	}))
	defer srv.Close()

	a := NewAnthropic("anthropic", "claude-sonnet-4", srv.URL+"/v1/messages",
		map[string]string{"x-api-key": "sk-ant"}, testLogger())

	events, err := a.Stream(context.Background(), core.Request{Stream: true})
	require.NoError(t, err)

	all := drain(t, events)
	require.Len(t, all, 2)
	assert.Equal(t, "ok", all[0].Delta)
	assert.Equal(t, core.FinishStop, all[1].Reason)
}

func TestAnthropicGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk-ant", r.Header.Get("x-api-key"))

		fmt.Fprint(w, `{
			"id": "msg_1",
			"type": "message",
			"content": [
				{"type": "text", "text": "checking"},
				{"type": "tool_use", "id": "toolu_1", "name": "get_weather", "input": {"location": "Tokyo"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 12, "output_tokens": 9}
		}`)
	}))
	defer srv.Close()

	a := NewAnthropic("anthropic", "claude-sonnet-4", srv.URL+"/v1/messages",
		map[string]string{"x-api-key": "sk-ant"}, testLogger())

	res, err := a.Generate(context.Background(), core.Request{
		Messages: []core.Message{core.TextMessage(core.RoleUser, "weather in Tokyo")},
	})
	require.NoError(t, err)

	assert.Equal(t, "checking", res.Text)
	require.Len(t, res.ToolCalls, 1)
	assert.JSONEq(t, `{"location":"Tokyo"}`, res.ToolCalls[0].ArgsJSON)
	assert.Equal(t, core.FinishToolCalls, res.FinishReason)
}

func TestAnthropicBuildRequestToolResultsOnUserTurn(t *testing.T) {
	a := NewAnthropic("anthropic", "claude-sonnet-4", "http://unused", nil, testLogger())

	req := a.buildRequest(core.Request{
		System: "be brief",
		Messages: []core.Message{
			core.TextMessage(core.RoleUser, "weather?"),
			{Role: core.RoleAssistant, Parts: []core.Part{
				{Type: core.PartToolCall, ID: "toolu_1", Name: "get_weather", ArgsJSON: `{"location":"Tokyo"}`},
			}},
			{Role: core.RoleTool, Parts: []core.Part{
				{Type: core.PartToolResult, ID: "toolu_1", ResultText: "sunny"},
			}},
		},
	}, false)

	assert.Equal(t, "be brief", req.System)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "user", req.Messages[2].Role)
	assert.Equal(t, "tool_result", req.Messages[2].Content[0].Type)
	assert.Equal(t, "toolu_1", req.Messages[2].Content[0].ToolUseID)
	assert.Equal(t, 4096, req.MaxTokens)
}

func TestMapAnthropicStop(t *testing.T) {
	assert.Equal(t, core.FinishStop, mapAnthropicStop("end_turn"))
	assert.Equal(t, core.FinishToolCalls, mapAnthropicStop("tool_use"))
	assert.Equal(t, core.FinishLength, mapAnthropicStop("max_tokens"))
	assert.Equal(t, core.FinishOther, mapAnthropicStop("refusal"))
}
