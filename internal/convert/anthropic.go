package convert

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mihaisavezi/ai-gateway/internal/core"
)

// MessagesRequest mirrors the Anthropic Messages request for the fields the
// gateway consumes.
type MessagesRequest struct {
	Model       string             `json:"model"`
	System      json.RawMessage    `json:"system,omitempty"`
	Messages    []MessagesMessage  `json:"messages"`
	Tools       []AnthropicTool    `json:"tools,omitempty"`
	ToolChoice  *AnthropicChoice   `json:"tool_choice,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	TopP        *float64           `json:"top_p,omitempty"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type MessagesMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type AnthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type AnthropicChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// anthropicBlock is the union of the content block shapes the converter
// understands; thinking blocks are decoded and dropped.
type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	Source    *struct {
		Type      string `json:"type"`
		MediaType string `json:"media_type"`
		Data      string `json:"data"`
	} `json:"source,omitempty"`
}

// FromMessagesRequest converts an Anthropic Messages request to the internal
// form. Tool-result blocks inside a user message are split into standalone
// tool messages emitted before the remaining user content, so that result ids
// always refer to tool calls from prior turns.
func FromMessagesRequest(req MessagesRequest, model string) (core.Request, error) {
	out := core.Request{
		Model:       model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream,
	}

	system, err := decodeSystem(req.System)
	if err != nil {
		return core.Request{}, err
	}

	out.System = system

	for i, msg := range req.Messages {
		converted, err := convertMessagesMessage(msg)
		if err != nil {
			return core.Request{}, fmt.Errorf("message %d: %w", i, err)
		}

		out.Messages = append(out.Messages, converted...)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, core.Tool{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}

	out.ToolChoice = parseAnthropicToolChoice(req.ToolChoice)

	return out, nil
}

// decodeSystem accepts a string or an array of text blocks; block text is
// joined with newlines.
func decodeSystem(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var blocks []anthropicBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", core.NewBadRequest("unsupported system shape")
	}

	texts := make([]string, 0, len(blocks))

	for _, b := range blocks {
		if b.Type == "text" {
			texts = append(texts, b.Text)
		}
	}

	return strings.Join(texts, "\n"), nil
}

func convertMessagesMessage(msg MessagesMessage) ([]core.Message, error) {
	var text string
	if err := json.Unmarshal(msg.Content, &text); err == nil {
		role := core.RoleUser
		if msg.Role == "assistant" {
			role = core.RoleAssistant
		}

		return []core.Message{core.TextMessage(role, text)}, nil
	}

	var blocks []anthropicBlock
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		return nil, core.NewBadRequest("unsupported message content shape")
	}

	switch msg.Role {
	case "user":
		return convertUserBlocks(blocks), nil
	case "assistant":
		return convertAssistantBlocks(blocks), nil
	default:
		return nil, core.NewBadRequest("unknown message role %q", msg.Role)
	}
}

// convertUserBlocks splits tool_result blocks out as standalone tool
// messages, preserving order, then emits a single user message with the
// collected text and image blocks.
func convertUserBlocks(blocks []anthropicBlock) []core.Message {
	var (
		messages  []core.Message
		userParts []core.Part
	)

	for _, b := range blocks {
		switch b.Type {
		case "tool_result":
			messages = append(messages, core.Message{
				Role: core.RoleTool,
				Parts: []core.Part{{
					Type:       core.PartToolResult,
					ID:         b.ToolUseID,
					ResultText: toolResultText(b.Content),
				}},
			})
		case "text":
			userParts = append(userParts, core.Part{Type: core.PartText, Text: b.Text})
		case "image":
			if b.Source == nil || b.Source.Type != "base64" {
				continue
			}

			data, err := base64.StdEncoding.DecodeString(b.Source.Data)
			if err != nil {
				continue
			}

			userParts = append(userParts, core.Part{
				Type:     core.PartImage,
				Data:     data,
				MimeType: b.Source.MediaType,
			})
		}
	}

	if len(userParts) > 0 {
		messages = append(messages, core.Message{Role: core.RoleUser, Parts: userParts})
	}

	return messages
}

// convertAssistantBlocks maps text and tool_use blocks; thinking blocks are
// dropped.
func convertAssistantBlocks(blocks []anthropicBlock) []core.Message {
	var parts []core.Part

	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, core.Part{Type: core.PartText, Text: b.Text})
		case "tool_use":
			parts = append(parts, core.Part{
				Type:     core.PartToolCall,
				ID:       b.ID,
				Name:     b.Name,
				ArgsJSON: string(b.Input),
			})
		}
	}

	return []core.Message{{Role: core.RoleAssistant, Parts: parts}}
}

// toolResultText flattens tool_result content (string or text-block array)
// to plain text.
func toolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var blocks []anthropicBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return string(raw)
	}

	var b strings.Builder
	for _, blk := range blocks {
		if blk.Type == "text" {
			b.WriteString(blk.Text)
		}
	}

	return b.String()
}

// MessagesResponse shapes the non-streaming Messages reply.
type MessagesResponse struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Role         string            `json:"role"`
	Model        string            `json:"model"`
	Content      []MessagesContent `json:"content"`
	StopReason   string            `json:"stop_reason"`
	StopSequence *string           `json:"stop_sequence"`
	Usage        MessagesUsage     `json:"usage"`
}

type MessagesContent struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type MessagesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToMessagesResponse assembles the non-streaming Messages reply from a
// canonical result.
func ToMessagesResponse(res *core.Result, model string) MessagesResponse {
	var content []MessagesContent

	if res.Text != "" || len(res.ToolCalls) == 0 {
		content = append(content, MessagesContent{Type: "text", Text: res.Text})
	}

	for _, tc := range res.ToolCalls {
		input := json.RawMessage(tc.ArgsJSON)
		if !json.Valid(input) {
			input = json.RawMessage("{}")
		}

		content = append(content, MessagesContent{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  tc.Name,
			Input: input,
		})
	}

	stopReason := "end_turn"
	if res.FinishReason == core.FinishToolCalls {
		stopReason = "tool_use"
	}

	return MessagesResponse{
		ID:         "msg_" + uuid.NewString(),
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		Content:    content,
		StopReason: stopReason,
		Usage: MessagesUsage{
			InputTokens:  res.Usage.PromptTokens,
			OutputTokens: res.Usage.CompletionTokens,
		},
	}
}
