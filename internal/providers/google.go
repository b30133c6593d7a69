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

// Google is the adapter for the generateContent wire format, covering the
// public generative-language API (?key= auth) and Vertex regional endpoints
// (bearer auth). The Code-Assist adapter wraps the same body in its own
// envelope.
type Google struct {
	provider     string
	model        string
	generateURL  string // :generateContent endpoint
	streamURL    string // :streamGenerateContent?alt=sse endpoint
	headers      map[string]string
	logger       *slog.Logger
	client       *http.Client
	streamClient *http.Client
}

func NewGoogle(provider, model, generateURL, streamURL string, headers map[string]string, logger *slog.Logger) *Google {
	return &Google{
		provider:     provider,
		model:        model,
		generateURL:  generateURL,
		streamURL:    streamURL,
		headers:      headers,
		logger:       logger,
		client:       httputil.NewClient(),
		streamClient: httputil.NewStreamingClient(),
	}
}

func (g *Google) ModelID() string { return g.model }

// generateContent wire shapes, shared with the Code-Assist adapter.

type gPart struct {
	Text             string     `json:"text,omitempty"`
	InlineData       *gBlob     `json:"inlineData,omitempty"`
	FunctionCall     *gFuncCall `json:"functionCall,omitempty"`
	FunctionResponse *gFuncResp `json:"functionResponse,omitempty"`
}

type gBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type gFuncCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
	ID   string          `json:"id,omitempty"`
}

type gFuncResp struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
	ID       string         `json:"id,omitempty"`
}

type gContent struct {
	Role  string  `json:"role,omitempty"`
	Parts []gPart `json:"parts"`
}

type gTool struct {
	FunctionDeclarations []gFuncDecl `json:"functionDeclarations"`
}

type gFuncDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type gToolConfig struct {
	FunctionCallingConfig gFuncCallingConfig `json:"functionCallingConfig"`
}

type gFuncCallingConfig struct {
	Mode                 string   `json:"mode"`
	AllowedFunctionNames []string `json:"allowedFunctionNames,omitempty"`
}

type gThinkingConfig struct {
	IncludeThoughts bool   `json:"includeThoughts"`
	ThinkingLevel   string `json:"thinkingLevel,omitempty"`
}

type gGenConfig struct {
	Temperature     *float64         `json:"temperature,omitempty"`
	TopP            *float64         `json:"topP,omitempty"`
	MaxOutputTokens int              `json:"maxOutputTokens,omitempty"`
	ThinkingConfig  *gThinkingConfig `json:"thinkingConfig,omitempty"`
}

type gRequest struct {
	Contents          []gContent   `json:"contents"`
	SystemInstruction *gContent    `json:"systemInstruction,omitempty"`
	Tools             []gTool      `json:"tools,omitempty"`
	ToolConfig        *gToolConfig `json:"toolConfig,omitempty"`
	GenerationConfig  *gGenConfig  `json:"generationConfig,omitempty"`
}

// buildGeminiRequest translates the canonical request to the generateContent
// shape. Roles remap assistant→model; tool results become functionResponse
// parts whose names are recovered from prior tool calls.
func buildGeminiRequest(req core.Request) gRequest {
	out := gRequest{}

	system := req.System

	// Tool call ids → names, for functionResponse reconstruction.
	callNames := make(map[string]string)

	for _, msg := range req.Messages {
		switch msg.Role {
		case core.RoleSystem:
			if system != "" {
				system += "\n"
			}
			system += msg.Text()
		case core.RoleUser:
			var parts []gPart
			for _, p := range msg.Parts {
				switch p.Type {
				case core.PartText:
					parts = append(parts, gPart{Text: p.Text})
				case core.PartImage:
					parts = append(parts, gPart{InlineData: &gBlob{
						MimeType: p.MimeType,
						Data:     base64Encode(p.Data),
					}})
				}
			}

			out.Contents = append(out.Contents, gContent{Role: "user", Parts: parts})
		case core.RoleAssistant:
			var parts []gPart
			for _, p := range msg.Parts {
				switch p.Type {
				case core.PartText:
					if p.Text != "" {
						parts = append(parts, gPart{Text: p.Text})
					}
				case core.PartToolCall:
					callNames[p.ID] = p.Name

					args := json.RawMessage(p.ArgsJSON)
					if !json.Valid(args) {
						args = json.RawMessage("{}")
					}

					parts = append(parts, gPart{FunctionCall: &gFuncCall{
						Name: p.Name,
						Args: args,
						ID:   p.ID,
					}})
				}
			}

			out.Contents = append(out.Contents, gContent{Role: "model", Parts: parts})
		case core.RoleTool:
			var parts []gPart
			for _, p := range msg.Parts {
				if p.Type != core.PartToolResult {
					continue
				}

				parts = append(parts, gPart{FunctionResponse: &gFuncResp{
					Name:     callNames[p.ID],
					Response: map[string]any{"output": p.ResultText},
					ID:       p.ID,
				}})
			}

			out.Contents = append(out.Contents, gContent{Role: "user", Parts: parts})
		}
	}

	if system != "" {
		out.SystemInstruction = &gContent{Parts: []gPart{{Text: system}}}
	}

	if len(req.Tools) > 0 {
		tool := gTool{}
		for _, t := range req.Tools {
			tool.FunctionDeclarations = append(tool.FunctionDeclarations, gFuncDecl{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}

		out.Tools = []gTool{tool}
	}

	if req.ToolChoice != nil {
		cfg := gFuncCallingConfig{}

		switch req.ToolChoice.Kind {
		case core.ToolChoiceAuto:
			cfg.Mode = "AUTO"
		case core.ToolChoiceNone:
			cfg.Mode = "NONE"
		case core.ToolChoiceRequired:
			cfg.Mode = "ANY"
		case core.ToolChoiceTool:
			cfg.Mode = "ANY"
			cfg.AllowedFunctionNames = []string{req.ToolChoice.Name}
		}

		if cfg.Mode != "" {
			out.ToolConfig = &gToolConfig{FunctionCallingConfig: cfg}
		}
	}

	if req.Temperature != nil || req.TopP != nil || req.MaxTokens > 0 {
		out.GenerationConfig = &gGenConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			MaxOutputTokens: req.MaxTokens,
		}
	}

	return out
}

func (g *Google) do(ctx context.Context, client *http.Client, url string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	for k, v := range g.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, core.NewTimeout(g.provider)
		}

		return nil, core.NewUpstreamUnreachable(g.provider, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		return nil, core.NewUpstreamRejected(g.provider, resp.StatusCode, body)
	}

	return resp, nil
}

func (g *Google) Generate(ctx context.Context, req core.Request) (*core.Result, error) {
	resp, err := g.do(ctx, g.client, g.generateURL, buildGeminiRequest(req))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewUpstreamUnreachable(g.provider, err)
	}

	return geminiResult(gjson.ParseBytes(data)), nil
}

func (g *Google) Stream(ctx context.Context, req core.Request) (<-chan core.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, httputil.StreamTimeout)

	resp, err := g.do(ctx, g.streamClient, g.streamURL, buildGeminiRequest(req))
	if err != nil {
		cancel()
		return nil, err
	}

	events := make(chan core.Event)

	go func() {
		defer close(events)
		defer cancel()
		defer resp.Body.Close()

		streamGeminiChunks(ctx, g.provider, resp.Body, "", events)
	}()

	return events, nil
}

// geminiResult builds a Result from one complete generateContent response
// object (or the "response" member of a Code-Assist envelope).
func geminiResult(root gjson.Result) *core.Result {
	res := &core.Result{FinishReason: core.FinishStop}

	root.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if text := part.Get("text"); text.Exists() && !part.Get("thought").Bool() {
			res.Text += text.String()
		}

		if fc := part.Get("functionCall"); fc.Exists() {
			args := fc.Get("args").Raw
			if args == "" {
				args = "{}"
			}

			id := fc.Get("id").String()
			if id == "" {
				id = fmt.Sprintf("call_%s_%d", fc.Get("name").String(), len(res.ToolCalls))
			}

			res.ToolCalls = append(res.ToolCalls, core.ToolCall{
				ID:       id,
				Name:     fc.Get("name").String(),
				ArgsJSON: args,
			})
		}

		return true
	})

	if len(res.ToolCalls) > 0 {
		res.FinishReason = core.FinishToolCalls
	} else if root.Get("candidates.0.finishReason").String() == "MAX_TOKENS" {
		res.FinishReason = core.FinishLength
	}

	res.Usage = geminiUsage(root.Get("usageMetadata"))

	return res
}

// geminiUsage sums prompt tokens and candidate+thought tokens.
func geminiUsage(meta gjson.Result) core.Usage {
	return core.Usage{
		PromptTokens: int(meta.Get("promptTokenCount").Int()),
		CompletionTokens: int(meta.Get("candidatesTokenCount").Int()) +
			int(meta.Get("thoughtsTokenCount").Int()),
	}
}

// streamGeminiChunks parses a generateContent SSE stream and emits canonical
// events. prefix selects the chunk member holding the response object ("" for
// the public API, "response" for Code-Assist).
func streamGeminiChunks(ctx context.Context, provider string, body io.Reader, prefix string, events chan<- core.Event) {
	var (
		usage     core.Usage
		toolCalls int
		sawStop   bool
		lenCap    bool
	)

	sc := httputil.NewSSEScanner(body)

	for sc.Next() {
		data := sc.Data()
		if !gjson.Valid(data) {
			continue
		}

		root := gjson.Parse(data)
		if prefix != "" {
			root = root.Get(prefix)
		}

		root.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
			if text := part.Get("text"); text.Exists() && text.String() != "" && !part.Get("thought").Bool() {
				events <- core.Event{Type: core.EventTextDelta, Delta: text.String()}
			}

			if fc := part.Get("functionCall"); fc.Exists() {
				args := fc.Get("args").Raw
				if args == "" {
					args = "{}"
				}

				id := fc.Get("id").String()
				if id == "" {
					id = fmt.Sprintf("call_%s_%d", fc.Get("name").String(), toolCalls)
				}

				toolCalls++

				events <- core.Event{Type: core.EventToolCall, ToolCall: &core.ToolCall{
					ID:       id,
					Name:     fc.Get("name").String(),
					ArgsJSON: args,
				}}
			}

			return true
		})

		switch root.Get("candidates.0.finishReason").String() {
		case "STOP":
			sawStop = true
		case "MAX_TOKENS":
			lenCap = true
		}

		if meta := root.Get("usageMetadata"); meta.Exists() {
			usage = geminiUsage(meta)
		}
	}

	if err := sc.Err(); err != nil {
		if ctx.Err() != nil {
			events <- core.Event{Type: core.EventError, Err: core.NewTimeout(provider)}
		} else {
			events <- core.Event{Type: core.EventError, Err: core.NewUpstreamUnreachable(provider, err)}
		}

		return
	}

	reason := core.FinishStop
	switch {
	case toolCalls > 0:
		reason = core.FinishToolCalls
	case lenCap:
		reason = core.FinishLength
	case sawStop:
		reason = core.FinishStop
	}

	events <- core.Event{Type: core.EventFinish, Reason: reason, Usage: usage}
}
