package convert

import (
	"encoding/json"

	"github.com/mihaisavezi/ai-gateway/internal/core"
)

// parseChatToolChoice maps the Chat Completions tool_choice field to the
// canonical form. Absent or null means auto is left to the provider default.
func parseChatToolChoice(raw json.RawMessage) (*core.ToolChoice, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch s {
		case "auto":
			return &core.ToolChoice{Kind: core.ToolChoiceAuto}, nil
		case "none":
			return &core.ToolChoice{Kind: core.ToolChoiceNone}, nil
		case "required":
			return &core.ToolChoice{Kind: core.ToolChoiceRequired}, nil
		default:
			return nil, core.NewBadRequest("unknown tool_choice %q", s)
		}
	}

	var obj struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}

	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, core.NewBadRequest("unsupported tool_choice shape")
	}

	if obj.Type == "function" && obj.Function.Name != "" {
		return &core.ToolChoice{Kind: core.ToolChoiceTool, Name: obj.Function.Name}, nil
	}

	return nil, core.NewBadRequest("unsupported tool_choice shape")
}

// parseAnthropicToolChoice maps the Messages tool_choice object to the
// canonical form.
func parseAnthropicToolChoice(choice *AnthropicChoice) *core.ToolChoice {
	if choice == nil {
		return nil
	}

	switch choice.Type {
	case "auto":
		return &core.ToolChoice{Kind: core.ToolChoiceAuto}
	case "any":
		return &core.ToolChoice{Kind: core.ToolChoiceRequired}
	case "tool":
		return &core.ToolChoice{Kind: core.ToolChoiceTool, Name: choice.Name}
	default:
		return nil
	}
}
