// Package convert translates between the two inbound wire surfaces
// (OpenAI Chat Completions, Anthropic Messages) and the canonical message
// form in core. The converter is total on valid inputs and reports a precise
// error otherwise.
package convert

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mihaisavezi/ai-gateway/internal/core"
)

// ChatRequest mirrors the OpenAI Chat Completions request for the fields the
// gateway consumes. Unknown fields are ignored by decoding.
type ChatRequest struct {
	Model       string          `json:"model"`
	Messages    []ChatMessage   `json:"messages"`
	Tools       []ChatTool      `json:"tools,omitempty"`
	ToolChoice  json.RawMessage `json:"tool_choice,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type ChatMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	ToolCalls  []ChatToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

type ChatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type ChatTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

// FromChatRequest converts a Chat Completions request to the internal form.
// Each inbound message becomes one canonical message with the identical role.
func FromChatRequest(req ChatRequest, model string) (core.Request, error) {
	out := core.Request{
		Model:       model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream,
	}

	for i, msg := range req.Messages {
		switch msg.Role {
		case "system", "developer":
			text, err := decodeChatContentText(msg.Content)
			if err != nil {
				return core.Request{}, fmt.Errorf("message %d: %w", i, err)
			}

			out.Messages = append(out.Messages, core.TextMessage(core.RoleSystem, text))
		case "user":
			parts, err := decodeChatContentParts(msg.Content)
			if err != nil {
				return core.Request{}, fmt.Errorf("message %d: %w", i, err)
			}

			out.Messages = append(out.Messages, core.Message{Role: core.RoleUser, Parts: parts})
		case "assistant":
			parts, err := decodeChatContentParts(msg.Content)
			if err != nil {
				return core.Request{}, fmt.Errorf("message %d: %w", i, err)
			}

			for _, tc := range msg.ToolCalls {
				parts = append(parts, core.Part{
					Type:     core.PartToolCall,
					ID:       tc.ID,
					Name:     tc.Function.Name,
					ArgsJSON: tc.Function.Arguments,
				})
			}

			out.Messages = append(out.Messages, core.Message{Role: core.RoleAssistant, Parts: parts})
		case "tool":
			text, err := decodeChatContentText(msg.Content)
			if err != nil {
				return core.Request{}, fmt.Errorf("message %d: %w", i, err)
			}

			out.Messages = append(out.Messages, core.Message{
				Role: core.RoleTool,
				Parts: []core.Part{{
					Type:       core.PartToolResult,
					ID:         msg.ToolCallID,
					ResultText: text,
				}},
			})
		default:
			return core.Request{}, core.NewBadRequest("unknown message role %q", msg.Role)
		}
	}

	for _, t := range req.Tools {
		if t.Type != "" && t.Type != "function" {
			continue
		}

		out.Tools = append(out.Tools, core.Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}

	choice, err := parseChatToolChoice(req.ToolChoice)
	if err != nil {
		return core.Request{}, err
	}

	out.ToolChoice = choice

	return out, nil
}

// decodeChatContentText accepts string content or an array of text blocks.
func decodeChatContentText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	parts, err := decodeChatContentParts(raw)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, p := range parts {
		if p.Type == core.PartText {
			b.WriteString(p.Text)
		}
	}

	return b.String(), nil
}

// decodeChatContentParts decodes string-or-array message content into
// canonical parts.
func decodeChatContentParts(raw json.RawMessage) ([]core.Part, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil, nil
		}

		return []core.Part{{Type: core.PartText, Text: s}}, nil
	}

	var blocks []struct {
		Type     string `json:"type"`
		Text     string `json:"text,omitempty"`
		ImageURL struct {
			URL string `json:"url"`
		} `json:"image_url,omitempty"`
	}

	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, core.NewBadRequest("unsupported message content shape")
	}

	var parts []core.Part

	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, core.Part{Type: core.PartText, Text: b.Text})
		case "image_url":
			data, mime, ok := decodeDataURL(b.ImageURL.URL)
			if !ok {
				continue
			}

			parts = append(parts, core.Part{Type: core.PartImage, Data: data, MimeType: mime})
		}
	}

	return parts, nil
}

// decodeDataURL extracts bytes and mime type from a data: URL.
func decodeDataURL(url string) ([]byte, string, bool) {
	if !strings.HasPrefix(url, "data:") {
		return nil, "", false
	}

	rest := strings.TrimPrefix(url, "data:")

	sep := strings.Index(rest, ";base64,")
	if sep < 0 {
		return nil, "", false
	}

	data, err := base64.StdEncoding.DecodeString(rest[sep+len(";base64,"):])
	if err != nil {
		return nil, "", false
	}

	return data, rest[:sep], true
}

// ChatResponse shapes the non-streaming chat.completion reply.
type ChatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   ChatUsage    `json:"usage"`
}

type ChatChoice struct {
	Index        int              `json:"index"`
	Message      ChatReplyMessage `json:"message"`
	FinishReason string           `json:"finish_reason"`
}

type ChatReplyMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []ChatToolCall `json:"tool_calls,omitempty"`
}

type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ToChatResponse assembles the non-streaming Chat Completions reply from a
// canonical result. Tool arguments are always emitted as JSON strings.
func ToChatResponse(res *core.Result, model string) ChatResponse {
	msg := ChatReplyMessage{Role: "assistant", Content: res.Text}

	for _, tc := range res.ToolCalls {
		call := ChatToolCall{ID: tc.ID, Type: "function"}
		call.Function.Name = tc.Name
		call.Function.Arguments = tc.ArgsJSON
		msg.ToolCalls = append(msg.ToolCalls, call)
	}

	return ChatResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []ChatChoice{{
			Message:      msg,
			FinishReason: chatFinishReason(res.FinishReason),
		}},
		Usage: ChatUsage{
			PromptTokens:     res.Usage.PromptTokens,
			CompletionTokens: res.Usage.CompletionTokens,
			TotalTokens:      res.Usage.PromptTokens + res.Usage.CompletionTokens,
		},
	}
}

// chatFinishReason maps canonical finish reasons to chat-completions wire
// spellings.
func chatFinishReason(reason core.FinishReason) string {
	switch reason {
	case core.FinishToolCalls:
		return "tool_calls"
	case core.FinishLength:
		return "length"
	case core.FinishStop, core.FinishOther, core.FinishError:
		return "stop"
	default:
		return "stop"
	}
}
