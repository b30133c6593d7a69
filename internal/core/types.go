// Package core provides the canonical data model shared by every provider
// adapter: messages, tool declarations, generation requests, and the stream
// event alphabet. All wire formats (OpenAI, Anthropic, Google) are converted
// to and from these types at the edges.
package core

import (
	"context"
	"encoding/json"
	"strings"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType identifies the kind of a content part.
type PartType string

const (
	PartText       PartType = "text"
	PartImage      PartType = "image"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// Part is one element of a message's content list. Exactly one variant is
// populated, selected by Type.
type Part struct {
	Type PartType

	// PartText
	Text string

	// PartImage
	Data     []byte
	MimeType string

	// PartToolCall / PartToolResult share ID
	ID       string
	Name     string
	ArgsJSON string

	// PartToolResult
	ResultText string
}

// Message is a single conversation turn. A RoleTool message carries only
// PartToolResult parts.
type Message struct {
	Role  Role
	Parts []Part
}

// TextMessage builds a message with a single text part.
func TextMessage(role Role, text string) Message {
	return Message{Role: role, Parts: []Part{{Type: PartText, Text: text}}}
}

// Text concatenates all text parts of the message.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}

	return b.String()
}

// ToolCalls returns the tool_call parts of the message in order.
func (m Message) ToolCalls() []Part {
	var calls []Part
	for _, p := range m.Parts {
		if p.Type == PartToolCall {
			calls = append(calls, p)
		}
	}

	return calls
}

// Tool declares a callable tool with a JSON Schema for its parameters.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ToolChoiceKind selects how the model may use tools.
type ToolChoiceKind string

const (
	ToolChoiceAuto     ToolChoiceKind = "auto"
	ToolChoiceNone     ToolChoiceKind = "none"
	ToolChoiceRequired ToolChoiceKind = "required"
	ToolChoiceTool     ToolChoiceKind = "tool"
)

// ToolChoice narrows tool usage; Name is set only for ToolChoiceTool.
type ToolChoice struct {
	Kind ToolChoiceKind
	Name string
}

// Request is the internal generation request handed to an adapter. Model is
// the upstream model id with the provider prefix already stripped.
type Request struct {
	Model       string
	Messages    []Message
	System      string
	Tools       []Tool
	ToolChoice  *ToolChoice
	Temperature *float64
	TopP        *float64
	MaxTokens   int
	Stream      bool
}

// FinishReason explains why generation stopped.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
	FinishError     FinishReason = "error"
	FinishOther     FinishReason = "other"
)

// Usage carries token counts for a completed generation.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// EventType identifies a canonical stream event.
type EventType string

const (
	EventTextDelta EventType = "text_delta"
	EventToolCall  EventType = "tool_call"
	EventFinish    EventType = "finish"
	EventError     EventType = "error"
)

// ToolCall is a complete tool invocation produced by the model. ArgsJSON is
// always a complete JSON document by the time the event is emitted.
type ToolCall struct {
	ID       string
	Name     string
	ArgsJSON string
}

// Event is one element of the canonical stream. Exactly one Finish terminates
// a healthy stream; an Error event terminates it early.
type Event struct {
	Type     EventType
	Delta    string
	ToolCall *ToolCall
	Reason   FinishReason
	Usage    Usage
	Err      error
}

// Result is the outcome of a non-streaming generation.
type Result struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason FinishReason
	Usage        Usage
}

// LanguageModel is the uniform handle the registry returns for a resolved
// provider/model pair.
type LanguageModel interface {
	// ModelID reports the upstream model id the handle is bound to.
	ModelID() string

	// Generate performs a non-streaming call.
	Generate(ctx context.Context, req Request) (*Result, error)

	// Stream performs a streaming call. The returned channel is closed after
	// the terminal event.
	Stream(ctx context.Context, req Request) (<-chan Event, error)
}

// Collect drains a canonical event stream into a Result. Adapters without a
// native non-streaming mode implement Generate with it.
func Collect(events <-chan Event) (*Result, error) {
	res := &Result{FinishReason: FinishStop}

	var text strings.Builder

	for ev := range events {
		switch ev.Type {
		case EventTextDelta:
			text.WriteString(ev.Delta)
		case EventToolCall:
			res.ToolCalls = append(res.ToolCalls, *ev.ToolCall)
		case EventFinish:
			res.FinishReason = ev.Reason
			res.Usage = ev.Usage
		case EventError:
			return nil, ev.Err
		}
	}

	res.Text = text.String()

	return res, nil
}
