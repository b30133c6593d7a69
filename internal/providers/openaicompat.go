// Package providers contains the provider registry and the adapter families
// that translate canonical requests to each upstream wire format and parse
// the responses back into the canonical event alphabet.
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
	"sort"

	"github.com/tidwall/gjson"

	"github.com/mihaisavezi/ai-gateway/internal/core"
	"github.com/mihaisavezi/ai-gateway/internal/httputil"
)

// Compat is the adapter for every provider speaking the OpenAI chat
// completions wire format with bearer (or bearer-like) auth: openai, groq,
// xai, deepseek, openrouter, azure, copilot, codex, qwen-cli and friends. The
// per-provider differences are confined to the endpoint and extra headers
// bound by the registry.
type Compat struct {
	provider string
	model    string
	endpoint string // full chat/completions URL
	apiKey   string
	headers  map[string]string
	logger   *slog.Logger

	client       *http.Client
	streamClient *http.Client
}

func NewCompat(provider, model, endpoint, apiKey string, headers map[string]string, logger *slog.Logger) *Compat {
	return &Compat{
		provider:     provider,
		model:        model,
		endpoint:     endpoint,
		apiKey:       apiKey,
		headers:      headers,
		logger:       logger,
		client:       httputil.NewClient(),
		streamClient: httputil.NewStreamingClient(),
	}
}

func (c *Compat) ModelID() string { return c.model }

// wire shapes

type oaMessage struct {
	Role       string       `json:"role"`
	Content    any          `json:"content"`
	ToolCalls  []oaToolCall `json:"tool_calls,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
}

type oaToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

type oaRequest struct {
	Model       string      `json:"model"`
	Messages    []oaMessage `json:"messages"`
	Tools       []oaTool    `json:"tools,omitempty"`
	ToolChoice  any         `json:"tool_choice,omitempty"`
	Temperature *float64    `json:"temperature,omitempty"`
	TopP        *float64    `json:"top_p,omitempty"`
	MaxTokens   int         `json:"max_tokens,omitempty"`
	Stream      bool        `json:"stream,omitempty"`
}

// buildRequest translates the canonical request into the OpenAI wire shape.
func (c *Compat) buildRequest(req core.Request, stream bool) oaRequest {
	out := oaRequest{
		Model:       c.model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}

	if req.System != "" {
		out.Messages = append(out.Messages, oaMessage{Role: "system", Content: req.System})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case core.RoleSystem:
			out.Messages = append(out.Messages, oaMessage{Role: "system", Content: msg.Text()})
		case core.RoleUser:
			out.Messages = append(out.Messages, oaMessage{Role: "user", Content: oaUserContent(msg)})
		case core.RoleAssistant:
			m := oaMessage{Role: "assistant", Content: msg.Text()}
			for _, p := range msg.ToolCalls() {
				tc := oaToolCall{ID: p.ID, Type: "function"}
				tc.Function.Name = p.Name
				tc.Function.Arguments = p.ArgsJSON
				m.ToolCalls = append(m.ToolCalls, tc)
			}

			out.Messages = append(out.Messages, m)
		case core.RoleTool:
			for _, p := range msg.Parts {
				if p.Type != core.PartToolResult {
					continue
				}

				out.Messages = append(out.Messages, oaMessage{
					Role:       "tool",
					Content:    p.ResultText,
					ToolCallID: p.ID,
				})
			}
		}
	}

	for _, t := range req.Tools {
		tool := oaTool{Type: "function"}
		tool.Function.Name = t.Name
		tool.Function.Description = t.Description
		tool.Function.Parameters = t.Parameters
		out.Tools = append(out.Tools, tool)
	}

	out.ToolChoice = oaToolChoice(req.ToolChoice)

	return out
}

// oaUserContent emits a plain string when the message is text-only, or the
// block-array form when images are present.
func oaUserContent(msg core.Message) any {
	hasImage := false
	for _, p := range msg.Parts {
		if p.Type == core.PartImage {
			hasImage = true
			break
		}
	}

	if !hasImage {
		return msg.Text()
	}

	var blocks []map[string]any

	for _, p := range msg.Parts {
		switch p.Type {
		case core.PartText:
			blocks = append(blocks, map[string]any{"type": "text", "text": p.Text})
		case core.PartImage:
			blocks = append(blocks, map[string]any{
				"type": "image_url",
				"image_url": map[string]any{
					"url": fmt.Sprintf("data:%s;base64,%s", p.MimeType, base64Encode(p.Data)),
				},
			})
		}
	}

	return blocks
}

func oaToolChoice(choice *core.ToolChoice) any {
	if choice == nil {
		return nil
	}

	switch choice.Kind {
	case core.ToolChoiceAuto:
		return "auto"
	case core.ToolChoiceNone:
		return "none"
	case core.ToolChoiceRequired:
		return "required"
	case core.ToolChoiceTool:
		return map[string]any{
			"type":     "function",
			"function": map[string]any{"name": choice.Name},
		}
	default:
		return nil
	}
}

func (c *Compat) do(ctx context.Context, client *http.Client, body oaRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, core.NewTimeout(c.provider)
		}

		return nil, core.NewUpstreamUnreachable(c.provider, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		return nil, core.NewUpstreamRejected(c.provider, resp.StatusCode, body)
	}

	return resp, nil
}

// Generate performs the non-streaming call.
func (c *Compat) Generate(ctx context.Context, req core.Request) (*core.Result, error) {
	resp, err := c.do(ctx, c.client, c.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	reader, err := httputil.DecompressReader(resp)
	if err != nil {
		return nil, core.NewUpstreamUnreachable(c.provider, err)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, core.NewUpstreamUnreachable(c.provider, err)
	}

	res := &core.Result{
		Text:         gjson.GetBytes(data, "choices.0.message.content").String(),
		FinishReason: mapOpenAIFinish(gjson.GetBytes(data, "choices.0.finish_reason").String()),
	}

	gjson.GetBytes(data, "choices.0.message.tool_calls").ForEach(func(_, tc gjson.Result) bool {
		res.ToolCalls = append(res.ToolCalls, core.ToolCall{
			ID:       tc.Get("id").String(),
			Name:     tc.Get("function.name").String(),
			ArgsJSON: tc.Get("function.arguments").String(),
		})

		return true
	})

	if usage := gjson.GetBytes(data, "usage"); usage.Exists() {
		res.Usage = core.Usage{
			PromptTokens:     int(usage.Get("prompt_tokens").Int()),
			CompletionTokens: int(usage.Get("completion_tokens").Int()),
		}
	} else {
		res.Usage = core.Usage{
			PromptTokens:     core.EstimateRequestTokens(req),
			CompletionTokens: core.EstimateTokens(res.Text),
		}
	}

	return res, nil
}

// toolAcc accumulates streamed tool-call fragments for one upstream index.
type toolAcc struct {
	index int
	id    string
	name  string
	args  string
}

// Stream performs the streaming call and emits canonical events.
func (c *Compat) Stream(ctx context.Context, req core.Request) (<-chan core.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, httputil.StreamTimeout)

	resp, err := c.do(ctx, c.streamClient, c.buildRequest(req, true))
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
			events <- core.Event{Type: core.EventError, Err: core.NewUpstreamUnreachable(c.provider, err)}
			return
		}

		var (
			calls        = map[int]*toolAcc{}
			finishReason = ""
			usage        core.Usage
			usageSeen    bool
		)

		sc := httputil.NewSSEScanner(reader)

		for sc.Next() {
			data := sc.Data()
			if data == "[DONE]" {
				break
			}

			if !gjson.Valid(data) {
				continue // skip malformed lines silently
			}

			chunk := gjson.Parse(data)

			if u := chunk.Get("usage"); u.Exists() && u.IsObject() {
				usage = core.Usage{
					PromptTokens:     int(u.Get("prompt_tokens").Int()),
					CompletionTokens: int(u.Get("completion_tokens").Int()),
				}
				usageSeen = true
			}

			delta := chunk.Get("choices.0.delta")

			if content := delta.Get("content"); content.Exists() && content.String() != "" {
				events <- core.Event{Type: core.EventTextDelta, Delta: content.String()}
			}

			delta.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
				idx := int(tc.Get("index").Int())

				acc, ok := calls[idx]
				if !ok {
					acc = &toolAcc{index: idx}
					calls[idx] = acc
				}

				if id := tc.Get("id").String(); id != "" {
					acc.id = id
				}

				if name := tc.Get("function.name").String(); name != "" {
					acc.name = name
				}

				acc.args += tc.Get("function.arguments").String()

				return true
			})

			if fr := chunk.Get("choices.0.finish_reason"); fr.Exists() && fr.String() != "" {
				finishReason = fr.String()
			}
		}

		if err := sc.Err(); err != nil {
			if ctx.Err() != nil {
				events <- core.Event{Type: core.EventError, Err: core.NewTimeout(c.provider)}
			} else {
				events <- core.Event{Type: core.EventError, Err: core.NewUpstreamUnreachable(c.provider, err)}
			}

			return
		}

		// Emit completed tool calls in upstream index order, then the
		// single terminal Finish.
		ordered := make([]*toolAcc, 0, len(calls))
		for _, acc := range calls {
			ordered = append(ordered, acc)
		}

		sort.Slice(ordered, func(i, j int) bool { return ordered[i].index < ordered[j].index })

		for _, acc := range ordered {
			if acc.id == "" || acc.name == "" {
				continue
			}

			events <- core.Event{Type: core.EventToolCall, ToolCall: &core.ToolCall{
				ID:       acc.id,
				Name:     acc.name,
				ArgsJSON: acc.args,
			}}
		}

		if !usageSeen {
			usage.PromptTokens = core.EstimateRequestTokens(req)
		}

		reason := mapOpenAIFinish(finishReason)
		if len(ordered) > 0 && finishReason == "" {
			reason = core.FinishToolCalls
		}

		events <- core.Event{Type: core.EventFinish, Reason: reason, Usage: usage}
	}()

	return events, nil
}

// mapOpenAIFinish maps upstream finish_reason spellings to the canonical set.
func mapOpenAIFinish(reason string) core.FinishReason {
	switch reason {
	case "stop", "":
		return core.FinishStop
	case "length":
		return core.FinishLength
	case "tool_calls", "function_call":
		return core.FinishToolCalls
	default:
		return core.FinishOther
	}
}
