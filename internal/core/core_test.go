package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModelID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		provider string
		model    string
		wantErr  bool
	}{
		{name: "simple", input: "openai/gpt-4o-mini", provider: "openai", model: "gpt-4o-mini"},
		{name: "model with slashes", input: "a/b/c", provider: "a", model: "b/c"},
		{name: "openrouter style", input: "openrouter/meta-llama/llama-3-70b", provider: "openrouter", model: "meta-llama/llama-3-70b"},
		{name: "no slash", input: "gpt-4o", wantErr: true},
		{name: "empty provider", input: "/model", wantErr: true},
		{name: "empty model", input: "openai/", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, model, err := ParseModelID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, ErrBadRequest, KindOf(err))

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.provider, provider)
			assert.Equal(t, tt.model, model)
		})
	}
}

func TestMessageText(t *testing.T) {
	msg := Message{Role: RoleAssistant, Parts: []Part{
		{Type: PartText, Text: "hello "},
		{Type: PartToolCall, ID: "call_1", Name: "f", ArgsJSON: "{}"},
		{Type: PartText, Text: "world"},
	}}

	assert.Equal(t, "hello world", msg.Text())
	assert.Len(t, msg.ToolCalls(), 1)
}

func TestCollect(t *testing.T) {
	events := make(chan Event, 4)
	events <- Event{Type: EventTextDelta, Delta: "par"}
	events <- Event{Type: EventTextDelta, Delta: "tial"}
	events <- Event{Type: EventToolCall, ToolCall: &ToolCall{ID: "call_1", Name: "get_weather", ArgsJSON: `{"location":"Tokyo"}`}}
	events <- Event{Type: EventFinish, Reason: FinishToolCalls, Usage: Usage{PromptTokens: 10, CompletionTokens: 5}}
	close(events)

	res, err := Collect(events)
	require.NoError(t, err)

	assert.Equal(t, "partial", res.Text)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "get_weather", res.ToolCalls[0].Name)
	assert.Equal(t, FinishToolCalls, res.FinishReason)
	assert.Equal(t, 10, res.Usage.PromptTokens)
}

func TestCollectError(t *testing.T) {
	events := make(chan Event, 2)
	events <- Event{Type: EventTextDelta, Delta: "x"}
	events <- Event{Type: EventError, Err: NewTimeout("openai")}
	close(events)

	_, err := Collect(events)
	require.Error(t, err)
	assert.Equal(t, ErrTimeout, KindOf(err))
}

func TestGatewayErrorMessages(t *testing.T) {
	err := NewUnknownProvider("nope")
	assert.Equal(t, "Unsupported provider: nope", err.Message)
	assert.Equal(t, ErrUnknownProvider, KindOf(err))

	credErr := NewNoCredentials("openai")
	assert.Contains(t, credErr.Message, "openai")

	var ge *GatewayError
	require.True(t, errors.As(error(credErr), &ge))
}

func TestUpstreamRejectedTruncatesBody(t *testing.T) {
	body := make([]byte, 2000)
	for i := range body {
		body[i] = 'x'
	}

	err := NewUpstreamRejected("openai", 429, body)
	assert.Less(t, len(err.Message), 600)
	assert.Equal(t, 429, err.Status)
}
