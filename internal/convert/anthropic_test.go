package convert

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/ai-gateway/internal/core"
)

func decodeMessages(t *testing.T, raw string) MessagesRequest {
	t.Helper()

	var req MessagesRequest
	require.NoError(t, json.Unmarshal([]byte(raw), &req))

	return req
}

func TestFromMessagesRequestSystemShapes(t *testing.T) {
	str := decodeMessages(t, `{"model":"anthropic/claude-sonnet-4","system":"be brief","messages":[{"role":"user","content":"hi"}]}`)

	out, err := FromMessagesRequest(str, "claude-sonnet-4")
	require.NoError(t, err)
	assert.Equal(t, "be brief", out.System)

	blocks := decodeMessages(t, `{"model":"anthropic/claude-sonnet-4","system":[{"type":"text","text":"one"},{"type":"text","text":"two"}],"messages":[{"role":"user","content":"hi"}]}`)

	out, err = FromMessagesRequest(blocks, "claude-sonnet-4")
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo", out.System)
}

func TestFromMessagesRequestToolResultsPrecedeUserText(t *testing.T) {
	req := decodeMessages(t, `{
		"model": "openai/gpt-4o-mini",
		"messages": [
			{"role": "assistant", "content": [
				{"type": "text", "text": "checking"},
				{"type": "tool_use", "id": "toolu_1", "name": "get_weather", "input": {"location": "Tokyo"}}
			]},
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "toolu_1", "content": "sunny"},
				{"type": "text", "text": "and in Osaka?"}
			]}
		]
	}`)

	out, err := FromMessagesRequest(req, "gpt-4o-mini")
	require.NoError(t, err)

	// assistant, tool (split out first), then the remaining user text
	require.Len(t, out.Messages, 3)

	assert.Equal(t, core.RoleAssistant, out.Messages[0].Role)

	calls := out.Messages[0].ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "toolu_1", calls[0].ID)
	assert.JSONEq(t, `{"location":"Tokyo"}`, calls[0].ArgsJSON)

	assert.Equal(t, core.RoleTool, out.Messages[1].Role)
	assert.Equal(t, "toolu_1", out.Messages[1].Parts[0].ID)
	assert.Equal(t, "sunny", out.Messages[1].Parts[0].ResultText)

	assert.Equal(t, core.RoleUser, out.Messages[2].Role)
	assert.Equal(t, "and in Osaka?", out.Messages[2].Text())
}

func TestFromMessagesRequestDropsThinking(t *testing.T) {
	req := decodeMessages(t, `{
		"model": "anthropic/claude-sonnet-4",
		"messages": [
			{"role": "assistant", "content": [
				{"type": "thinking", "thinking": "hmm"},
				{"type": "text", "text": "answer"}
			]}
		]
	}`)

	out, err := FromMessagesRequest(req, "claude-sonnet-4")
	require.NoError(t, err)

	require.Len(t, out.Messages, 1)
	require.Len(t, out.Messages[0].Parts, 1)
	assert.Equal(t, "answer", out.Messages[0].Text())
}

func TestFromMessagesRequestImageBlock(t *testing.T) {
	req := decodeMessages(t, `{
		"model": "anthropic/claude-sonnet-4",
		"messages": [
			{"role": "user", "content": [
				{"type": "image", "source": {"type": "base64", "media_type": "image/jpeg", "data": "aGVsbG8="}},
				{"type": "text", "text": "what is this?"}
			]}
		]
	}`)

	out, err := FromMessagesRequest(req, "claude-sonnet-4")
	require.NoError(t, err)

	require.Len(t, out.Messages, 1)
	require.Len(t, out.Messages[0].Parts, 2)
	assert.Equal(t, core.PartImage, out.Messages[0].Parts[0].Type)
	assert.Equal(t, "image/jpeg", out.Messages[0].Parts[0].MimeType)
}

func TestAnthropicToolChoiceMapping(t *testing.T) {
	assert.Nil(t, parseAnthropicToolChoice(nil))

	auto := parseAnthropicToolChoice(&AnthropicChoice{Type: "auto"})
	assert.Equal(t, core.ToolChoiceAuto, auto.Kind)

	any := parseAnthropicToolChoice(&AnthropicChoice{Type: "any"})
	assert.Equal(t, core.ToolChoiceRequired, any.Kind)

	tool := parseAnthropicToolChoice(&AnthropicChoice{Type: "tool", Name: "f"})
	assert.Equal(t, core.ToolChoiceTool, tool.Kind)
	assert.Equal(t, "f", tool.Name)
}

func TestMessagesRoundTripPreservesSemantics(t *testing.T) {
	req := decodeMessages(t, `{
		"model": "anthropic/claude-sonnet-4",
		"messages": [
			{"role": "user", "content": "weather in Tokyo"},
			{"role": "assistant", "content": [
				{"type": "tool_use", "id": "toolu_1", "name": "get_weather", "input": {"location": "Tokyo"}}
			]},
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "toolu_1", "content": "sunny"}
			]}
		]
	}`)

	out, err := FromMessagesRequest(req, "claude-sonnet-4")
	require.NoError(t, err)

	// Render a tool-call result through the Messages assembler and verify
	// the tool_use block survives.
	res := &core.Result{
		ToolCalls:    []core.ToolCall{{ID: "toolu_2", Name: "get_weather", ArgsJSON: `{"location":"Osaka"}`}},
		FinishReason: core.FinishToolCalls,
	}

	resp := ToMessagesResponse(res, "anthropic/claude-sonnet-4")

	assert.Equal(t, "tool_use", resp.StopReason)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "tool_use", resp.Content[0].Type)
	assert.JSONEq(t, `{"location":"Osaka"}`, string(resp.Content[0].Input))

	// Original conversion kept every block.
	assert.Len(t, out.Messages, 3)
}

func TestToMessagesResponseTextOnly(t *testing.T) {
	res := &core.Result{
		Text:         "ok",
		FinishReason: core.FinishStop,
		Usage:        core.Usage{PromptTokens: 2, CompletionTokens: 1},
	}

	resp := ToMessagesResponse(res, "openai/gpt-4o-mini")

	assert.Equal(t, "message", resp.Type)
	assert.Equal(t, "assistant", resp.Role)
	assert.Equal(t, "end_turn", resp.StopReason)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "ok", resp.Content[0].Text)
	assert.Equal(t, 2, resp.Usage.InputTokens)
}
