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
	"time"

	"github.com/tidwall/gjson"

	"github.com/mihaisavezi/ai-gateway/internal/core"
	"github.com/mihaisavezi/ai-gateway/internal/httputil"
)

const bedrockAnthropicVersion = "bedrock-2023-05-31"

// Bedrock invokes Anthropic models on Amazon Bedrock with SigV4-signed
// requests. Credentials ride in the record as apiKey=access key,
// projectId=secret key, refresh=region (AWS_REGION as fallback).
type Bedrock struct {
	model     string
	accessKey string
	secretKey string
	region    string
	logger    *slog.Logger
	client    *http.Client
}

func NewBedrock(model, accessKey, secretKey, region string, logger *slog.Logger) *Bedrock {
	return &Bedrock{
		model:     model,
		accessKey: accessKey,
		secretKey: secretKey,
		region:    region,
		logger:    logger,
		client:    httputil.NewClient(),
	}
}

func (b *Bedrock) ModelID() string { return b.model }

// buildBody produces the Bedrock-Anthropic request: the Messages schema with
// anthropic_version in place of model and stream flags.
func (b *Bedrock) buildBody(req core.Request) ([]byte, error) {
	shim := NewAnthropic("bedrock", b.model, "", nil, b.logger)

	wire := shim.buildRequest(req, false)

	body := map[string]any{
		"anthropic_version": bedrockAnthropicVersion,
		"messages":          wire.Messages,
		"max_tokens":        wire.MaxTokens,
	}

	if wire.System != "" {
		body["system"] = wire.System
	}

	if len(wire.Tools) > 0 {
		body["tools"] = wire.Tools
	}

	if wire.ToolChoice != nil {
		body["tool_choice"] = wire.ToolChoice
	}

	if wire.Temperature != nil {
		body["temperature"] = *wire.Temperature
	}

	if wire.TopP != nil {
		body["top_p"] = *wire.TopP
	}

	return json.Marshal(body)
}

func (b *Bedrock) invoke(ctx context.Context, req core.Request) ([]byte, error) {
	payload, err := b.buildBody(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com/model/%s/invoke", b.region, b.model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	signV4(httpReq, b.accessKey, b.secretKey, b.region, "bedrock", payload, time.Now())

	resp, err := b.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, core.NewTimeout("bedrock")
		}

		return nil, core.NewUpstreamUnreachable("bedrock", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewUpstreamUnreachable("bedrock", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, core.NewUpstreamRejected("bedrock", resp.StatusCode, data)
	}

	return data, nil
}

func (b *Bedrock) Generate(ctx context.Context, req core.Request) (*core.Result, error) {
	data, err := b.invoke(ctx, req)
	if err != nil {
		return nil, err
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

// Stream synthesizes a canonical stream from the non-streaming invoke; the
// AWS binary event-stream framing is not parsed.
func (b *Bedrock) Stream(ctx context.Context, req core.Request) (<-chan core.Event, error) {
	res, err := b.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	events := make(chan core.Event)

	go func() {
		defer close(events)

		if res.Text != "" {
			events <- core.Event{Type: core.EventTextDelta, Delta: res.Text}
		}

		for i := range res.ToolCalls {
			events <- core.Event{Type: core.EventToolCall, ToolCall: &res.ToolCalls[i]}
		}

		events <- core.Event{Type: core.EventFinish, Reason: res.FinishReason, Usage: res.Usage}
	}()

	return events, nil
}
