package providers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/ai-gateway/internal/core"
)

func TestDeCamelToolKey(t *testing.T) {
	tests := []struct {
		in  string
		out string
	}{
		{"readToolCall", "read"},
		{"writeToolCall", "write"},
		{"webSearchToolCall", "web_search"},
		{"getWeatherToolCall", "get_weather"},
		{"lsToolCall", "ls"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.out, deCamelToolKey(tt.in), tt.in)
	}
}

func TestNormalizeToolName(t *testing.T) {
	// case-insensitive, alphanumeric-only comparison
	assert.Equal(t, normalizeToolName("get_weather"), normalizeToolName("GetWeather"))
	assert.Equal(t, normalizeToolName("web-search"), normalizeToolName("web_search"))
	assert.NotEqual(t, normalizeToolName("read"), normalizeToolName("write"))
}

func TestBuildPromptSections(t *testing.T) {
	prompt := buildPrompt(core.Request{
		System: "be brief",
		Messages: []core.Message{
			core.TextMessage(core.RoleUser, "weather in Tokyo"),
			{Role: core.RoleAssistant, Parts: []core.Part{
				{Type: core.PartToolCall, ID: "c1", Name: "get_weather", ArgsJSON: `{"location":"Tokyo"}`},
			}},
			{Role: core.RoleTool, Parts: []core.Part{
				{Type: core.PartToolResult, ID: "c1", ResultText: "sunny"},
			}},
		},
		Tools: []core.Tool{{
			Name:        "get_weather",
			Description: "get the weather",
			Parameters:  json.RawMessage(`{"type":"object"}`),
		}},
	})

	require.Contains(t, prompt, "SYSTEM:\nbe brief")
	assert.Contains(t, prompt, "get_weather: get the weather")
	assert.Contains(t, prompt, "USER:\nweather in Tokyo")
	assert.Contains(t, prompt, "TOOL_RESULT (c1):\nsunny")

	// continuation marker present because tool results exist
	assert.Contains(t, prompt, "Continue the assistant turn")
}

func TestBuildPromptNoContinuationWithoutToolResults(t *testing.T) {
	prompt := buildPrompt(core.Request{
		Messages: []core.Message{core.TextMessage(core.RoleUser, "hi")},
	})

	assert.NotContains(t, prompt, "Continue the assistant turn")
}

func TestCursorModelID(t *testing.T) {
	c := NewCursor("sonnet-4.5", testLogger())
	assert.Equal(t, "sonnet-4.5", c.ModelID())
}
