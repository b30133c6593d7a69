package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/ai-gateway/internal/core"
)

func TestBuildGeminiRequestRolesAndParts(t *testing.T) {
	req := buildGeminiRequest(core.Request{
		System: "be brief",
		Messages: []core.Message{
			core.TextMessage(core.RoleUser, "weather in Tokyo"),
			{Role: core.RoleAssistant, Parts: []core.Part{
				{Type: core.PartToolCall, ID: "call_1", Name: "get_weather", ArgsJSON: `{"location":"Tokyo"}`},
			}},
			{Role: core.RoleTool, Parts: []core.Part{
				{Type: core.PartToolResult, ID: "call_1", ResultText: "sunny"},
			}},
		},
		Tools: []core.Tool{{Name: "get_weather", Parameters: json.RawMessage(`{"type":"object"}`)}},
	})

	require.NotNil(t, req.SystemInstruction)
	assert.Equal(t, "be brief", req.SystemInstruction.Parts[0].Text)

	require.Len(t, req.Contents, 3)
	assert.Equal(t, "user", req.Contents[0].Role)
	assert.Equal(t, "model", req.Contents[1].Role)

	call := req.Contents[1].Parts[0].FunctionCall
	require.NotNil(t, call)
	assert.Equal(t, "get_weather", call.Name)

	// functionResponse recovers the name from the prior call with the same id
	fr := req.Contents[2].Parts[0].FunctionResponse
	require.NotNil(t, fr)
	assert.Equal(t, "get_weather", fr.Name)
	assert.Equal(t, "call_1", fr.ID)
	assert.Equal(t, "sunny", fr.Response["output"])

	require.Len(t, req.Tools, 1)
	require.Len(t, req.Tools[0].FunctionDeclarations, 1)
}

func TestGoogleStreamParsesPartsAndUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: "+`{"candidates":[{"content":{"parts":[{"text":"o"}]}}]}`+"\n\n")
		fmt.Fprint(w, "data: "+`{"candidates":[{"content":{"parts":[{"text":"k"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":7,"candidatesTokenCount":2,"thoughtsTokenCount":3}}`+"\n\n")
	}))
	defer srv.Close()

	g := NewGoogle("google", "gemini-2.5-flash", srv.URL+"/gen", srv.URL+"/stream", nil, testLogger())

	events, err := g.Stream(context.Background(), core.Request{Stream: true})
	require.NoError(t, err)

	all := drain(t, events)
	require.Len(t, all, 3)
	assert.Equal(t, "o", all[0].Delta)
	assert.Equal(t, "k", all[1].Delta)

	finish := all[2]
	assert.Equal(t, core.FinishStop, finish.Reason)
	assert.Equal(t, 7, finish.Usage.PromptTokens)
	// candidates + thoughts tokens sum into completion tokens
	assert.Equal(t, 5, finish.Usage.CompletionTokens)
}

func TestGoogleStreamFunctionCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: "+`{"candidates":[{"content":{"parts":[{"functionCall":{"name":"get_weather","args":{"location":"Tokyo"}}}]},"finishReason":"STOP"}]}`+"\n\n")
	}))
	defer srv.Close()

	g := NewGoogle("google", "gemini-2.5-flash", srv.URL+"/gen", srv.URL+"/stream", nil, testLogger())

	events, err := g.Stream(context.Background(), core.Request{Stream: true})
	require.NoError(t, err)

	all := drain(t, events)
	require.Len(t, all, 2)

	tc := all[0]
	require.Equal(t, core.EventToolCall, tc.Type)
	assert.Equal(t, "get_weather", tc.ToolCall.Name)
	assert.JSONEq(t, `{"location":"Tokyo"}`, tc.ToolCall.ArgsJSON)
	assert.NotEmpty(t, tc.ToolCall.ID)

	assert.Equal(t, core.FinishToolCalls, all[1].Reason)
}

func TestGoogleGenerateSkipsThoughtParts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{
			"candidates": [{"content": {"parts": [
				{"text": "internal reasoning", "thought": true},
				{"text": "ok"}
			]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 4, "candidatesTokenCount": 1}
		}`)
	}))
	defer srv.Close()

	g := NewGoogle("google", "gemini-2.5-flash", srv.URL+"/gen", srv.URL+"/stream", nil, testLogger())

	res, err := g.Generate(context.Background(), core.Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
}
