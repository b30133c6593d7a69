package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/mihaisavezi/ai-gateway/internal/core"
	"github.com/mihaisavezi/ai-gateway/internal/httputil"
)

const anthropicVersion = "2023-06-01"

// Anthropic is the adapter for every provider speaking the Anthropic
// Messages wire format: anthropic itself (key and OAuth-token flavors) and
// the Anthropic-style endpoints of minimax-cn, kimi-coding and
// vercel-ai-gateway. Auth headers are bound by the registry.
type Anthropic struct {
	provider string
	model    string
	endpoint string // full /v1/messages URL
	headers  map[string]string
	logger   *slog.Logger

	client       *http.Client
	streamClient *http.Client
}

func NewAnthropic(provider, model, endpoint string, headers map[string]string, logger *slog.Logger) *Anthropic {
	return &Anthropic{
		provider:     provider,
		model:        model,
		endpoint:     endpoint,
		headers:      headers,
		logger:       logger,
		client:       httputil.NewClient(),
		streamClient: httputil.NewStreamingClient(),
	}
}

func (a *Anthropic) ModelID() string { return a.model }

type anMessage struct {
	Role    string   `json:"role"`
	Content []anPart `json:"content"`
}

type anPart struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	Source    *anImageSource  `json:"source,omitempty"`
}

type anImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type anRequest struct {
	Model       string         `json:"model"`
	System      string         `json:"system,omitempty"`
	Messages    []anMessage    `json:"messages"`
	Tools       []anTool       `json:"tools,omitempty"`
	ToolChoice  map[string]any `json:"tool_choice,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
	TopP        *float64       `json:"top_p,omitempty"`
	MaxTokens   int            `json:"max_tokens"`
	Stream      bool           `json:"stream,omitempty"`
}

func (a *Anthropic) buildRequest(req core.Request, stream bool) anRequest {
	out := anRequest{
		Model:       a.model,
		System:      req.System,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}

	if out.MaxTokens == 0 {
		out.MaxTokens = 4096
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case core.RoleSystem:
			if out.System != "" {
				out.System += "\n"
			}
			out.System += msg.Text()
		case core.RoleUser, core.RoleAssistant:
			out.Messages = append(out.Messages, anMessage{
				Role:    string(msg.Role),
				Content: anContent(msg),
			})
		case core.RoleTool:
			// Tool results ride on a user turn in the Messages schema.
			var parts []anPart
			for _, p := range msg.Parts {
				if p.Type != core.PartToolResult {
					continue
				}

				parts = append(parts, anPart{
					Type:      "tool_result",
					ToolUseID: p.ID,
					Content:   p.ResultText,
				})
			}

			out.Messages = append(out.Messages, anMessage{Role: "user", Content: parts})
		}
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, anTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	out.ToolChoice = anToolChoice(req.ToolChoice)

	return out
}

func anContent(msg core.Message) []anPart {
	var parts []anPart

	for _, p := range msg.Parts {
		switch p.Type {
		case core.PartText:
			if p.Text == "" {
				continue
			}

			parts = append(parts, anPart{Type: "text", Text: p.Text})
		case core.PartImage:
			parts = append(parts, anPart{Type: "image", Source: &anImageSource{
				Type:      "base64",
				MediaType: p.MimeType,
				Data:      base64Encode(p.Data),
			}})
		case core.PartToolCall:
			input := json.RawMessage(p.ArgsJSON)
			if !json.Valid(input) {
				input = json.RawMessage("{}")
			}

			parts = append(parts, anPart{Type: "tool_use", ID: p.ID, Name: p.Name, Input: input})
		}
	}

	return parts
}

func anToolChoice(choice *core.ToolChoice) map[string]any {
	if choice == nil {
		return nil
	}

	switch choice.Kind {
	case core.ToolChoiceAuto:
		return map[string]any{"type": "auto"}
	case core.ToolChoiceRequired:
		return map[string]any{"type": "any"}
	case core.ToolChoiceTool:
		return map[string]any{"type": "tool", "name": choice.Name}
	case core.ToolChoiceNone:
		// The Messages schema has no "none"; dropping tools is the caller's
		// job, so the closest mapping is auto.
		return map[string]any{"type": "auto"}
	default:
		return nil
	}
}

func (a *Anthropic) do(ctx context.Context, client *http.Client, body anRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	for k, v := range a.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, core.NewTimeout(a.provider)
		}

		return nil, core.NewUpstreamUnreachable(a.provider, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		return nil, core.NewUpstreamRejected(a.provider, resp.StatusCode, body)
	}

	return resp, nil
}

func (a *Anthropic) Generate(ctx context.Context, req core.Request) (*core.Result, error) {
	resp, err := a.do(ctx, a.client, a.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	reader, err := httputil.DecompressReader(resp)
	if err != nil {
		return nil, core.NewUpstreamUnreachable(a.provider, err)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, core.NewUpstreamUnreachable(a.provider, err)
	}

	res := &core.Result{
		FinishReason: mapAnthropicStop(gjson.GetBytes(data, "stop_reason").String()),
		Usage: core.Usage{
			PromptTokens:     int(gjson.GetBytes(data, "usage.input_tokens").Int()),
			CompletionTokens: int(gjson.GetBytes(data, "usage.output_tokens").Int()),
		},
	}

	gjson.GetBytes(data, "content").ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			res.Text += block.Get("text").String()
		case "tool_use":
			res.ToolCalls = append(res.ToolCalls, core.ToolCall{
				ID:       block.Get("id").String(),
				Name:     block.Get("name").String(),
				ArgsJSON: block.Get("input").Raw,
			})
		}

		return true
	})

	return res, nil
}

// anthropicBlockState tracks an open tool_use content block while its
// input_json_delta fragments accumulate.
type anthropicBlockState struct {
	id   string
	name string
	args string
}

func (a *Anthropic) Stream(ctx context.Context, req core.Request) (<-chan core.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, httputil.StreamTimeout)

	resp, err := a.do(ctx, a.streamClient, a.buildRequest(req, true))
	if err != nil {
		cancel()
		return nil, err
	}

	events := make(chan core.Event)

	go func() {
		defer close(events)
		defer cancel()
		defer resp.Body.Close()

		reader, err := httputil.DecompressReader(resp)
		if err != nil {
			events <- core.Event{Type: core.EventError, Err: core.NewUpstreamUnreachable(a.provider, err)}
			return
		}

		var (
			blocks     = map[int]*anthropicBlockState{}
			stopReason string
			usage      core.Usage
		)

		sc := httputil.NewSSEScanner(reader)

		for sc.Next() {
			data := sc.Data()
			if !gjson.Valid(data) {
				continue
			}

			ev := gjson.Parse(data)

			switch ev.Get("type").String() {
			case "message_start":
				usage.PromptTokens = int(ev.Get("message.usage.input_tokens").Int())
			case "content_block_start":
				block := ev.Get("content_block")
				if block.Get("type").String() == "tool_use" {
					blocks[int(ev.Get("index").Int())] = &anthropicBlockState{
						id:   block.Get("id").String(),
						name: block.Get("name").String(),
					}
				}
			case "content_block_delta":
				delta := ev.Get("delta")

				switch delta.Get("type").String() {
				case "text_delta":
					events <- core.Event{Type: core.EventTextDelta, Delta: delta.Get("text").String()}
				case "input_json_delta":
					if b, ok := blocks[int(ev.Get("index").Int())]; ok {
						b.args += delta.Get("partial_json").String()
					}
				}
			case "content_block_stop":
				idx := int(ev.Get("index").Int())
				if b, ok := blocks[idx]; ok {
					args := b.args
					if args == "" {
						args = "{}"
					}

					events <- core.Event{Type: core.EventToolCall, ToolCall: &core.ToolCall{
						ID:       b.id,
						Name:     b.name,
						ArgsJSON: args,
					}}

					delete(blocks, idx)
				}
			case "message_delta":
				if sr := ev.Get("delta.stop_reason"); sr.Exists() && sr.String() != "" {
					stopReason = sr.String()
				}

				if out := ev.Get("usage.output_tokens"); out.Exists() {
					usage.CompletionTokens = int(out.Int())
				}
			case "error":
				events <- core.Event{Type: core.EventError, Err: core.NewUpstreamRejected(
					a.provider, resp.StatusCode, []byte(ev.Get("error.message").String()))}

				return
			}
		}

		if err := sc.Err(); err != nil {
			if ctx.Err() != nil {
				events <- core.Event{Type: core.EventError, Err: core.NewTimeout(a.provider)}
			} else {
				events <- core.Event{Type: core.EventError, Err: core.NewUpstreamUnreachable(a.provider, err)}
			}

			return
		}

		events <- core.Event{Type: core.EventFinish, Reason: mapAnthropicStop(stopReason), Usage: usage}
	}()

	return events, nil
}

// mapAnthropicStop maps Messages stop reasons to the canonical set.
func mapAnthropicStop(reason string) core.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence", "":
		return core.FinishStop
	case "tool_use":
		return core.FinishToolCalls
	case "max_tokens":
		return core.FinishLength
	default:
		return core.FinishOther
	}
}
