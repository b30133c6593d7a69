// Package doctor exercises a running gateway through its public HTTP
// surface: text and tool probes, streaming and non-streaming, against every
// enabled model.
package doctor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/mihaisavezi/ai-gateway/internal/credstore"
)

// Options select which probes run.
type Options struct {
	Port     int
	Provider string // restrict to one provider id; empty = all
	Endpoint string // "chat", "messages", or "both"
	Verbose  bool
}

// probe body templates; the model and stream fields are set per run.
const (
	chatTextProbe = `{"model":"","messages":[{"role":"user","content":"Reply with the single word ok."}],"max_tokens":50}`

	chatToolProbe = `{"model":"","messages":[{"role":"user","content":"What is the weather in Tokyo? Use the get_weather tool."}],"max_tokens":200,"tools":[{"type":"function","function":{"name":"get_weather","description":"Get current weather for a location","parameters":{"type":"object","properties":{"location":{"type":"string"}},"required":["location"]}}}]}`

	messagesTextProbe = `{"model":"","max_tokens":50,"messages":[{"role":"user","content":"Reply with the single word ok."}]}`

	messagesToolProbe = `{"model":"","max_tokens":200,"messages":[{"role":"user","content":"What is the weather in Tokyo? Use the get_weather tool."}],"tools":[{"name":"get_weather","description":"Get current weather for a location","input_schema":{"type":"object","properties":{"location":{"type":"string"}},"required":["location"]}}]}`
)

type Doctor struct {
	base    string
	client  *http.Client
	opts    Options
	failed  int
	checked int
}

func New(opts Options) *Doctor {
	port := opts.Port
	if port == 0 {
		port = 3000
	}

	if opts.Endpoint == "" {
		opts.Endpoint = "both"
	}

	return &Doctor{
		base:   fmt.Sprintf("http://127.0.0.1:%d", port),
		client: &http.Client{Timeout: 150 * time.Second},
		opts:   opts,
	}
}

// Run executes the probe matrix. It returns an error when the gateway is
// unreachable and a non-zero failure count when any probe fails.
func (d *Doctor) Run(ctx context.Context, store *credstore.Store) (int, error) {
	if err := d.ping(ctx); err != nil {
		return 1, fmt.Errorf("gateway unreachable at %s: %w", d.base, err)
	}

	records := store.List()

	providerIDs := make([]string, 0, len(records))
	for id := range records {
		providerIDs = append(providerIDs, id)
	}

	sort.Strings(providerIDs)

	for _, id := range providerIDs {
		if d.opts.Provider != "" && d.opts.Provider != id {
			continue
		}

		for _, model := range records[id].EnabledModels {
			d.probeModel(ctx, id+"/"+model)
		}
	}

	fmt.Println()

	if d.failed > 0 {
		color.Red("%d/%d probes failed", d.failed, d.checked)
	} else {
		color.Green("all %d probes passed", d.checked)
	}

	return d.failed, nil
}

func (d *Doctor) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.base+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}

	resp.Body.Close()

	return nil
}

func (d *Doctor) probeModel(ctx context.Context, model string) {
	color.New(color.Bold).Printf("%s\n", model)

	if d.opts.Endpoint == "chat" || d.opts.Endpoint == "both" {
		d.check(ctx, model, "/v1/chat/completions", chatTextProbe, false, d.verifyChatText)
		d.check(ctx, model, "/v1/chat/completions", chatTextProbe, true, d.verifyChatStream)
		d.check(ctx, model, "/v1/chat/completions", chatToolProbe, false, d.verifyChatTool)
		d.check(ctx, model, "/v1/chat/completions", chatToolProbe, true, d.verifyChatToolStream)
	}

	if d.opts.Endpoint == "messages" || d.opts.Endpoint == "both" {
		d.check(ctx, model, "/v1/messages", messagesTextProbe, false, d.verifyMessagesText)
		d.check(ctx, model, "/v1/messages", messagesToolProbe, true, d.verifyMessagesToolStream)
	}
}

type verifier func(body string, stream bool) error

func (d *Doctor) check(ctx context.Context, model, path, template string, stream bool, verify verifier) {
	d.checked++

	label := path
	if stream {
		label += " (stream)"
	}

	body, _ := sjson.Set(template, "model", model)
	body, _ = sjson.Set(body, "stream", stream)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.base+path, strings.NewReader(body))
	if err != nil {
		d.fail(label, err)
		return
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.fail(label, err)
		return
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(bufio.NewReader(resp.Body))
	if err != nil {
		d.fail(label, err)
		return
	}

	if resp.StatusCode != http.StatusOK {
		d.fail(label, fmt.Errorf("status %d: %s", resp.StatusCode, excerpt(string(raw))))
		return
	}

	if err := verify(string(raw), stream); err != nil {
		d.fail(label, err)

		if d.opts.Verbose {
			fmt.Println(excerpt(string(raw)))
		}

		return
	}

	color.Green("  ok  %s", label)
}

func (d *Doctor) fail(label string, err error) {
	d.failed++
	color.Red("  FAIL %s: %v", label, err)
}

func excerpt(s string) string {
	if len(s) > 400 {
		return s[:400] + "..."
	}

	return s
}

func (d *Doctor) verifyChatText(body string, _ bool) error {
	if gjson.Get(body, "choices.0.message.content").String() == "" {
		return fmt.Errorf("empty completion content")
	}

	return nil
}

func (d *Doctor) verifyChatStream(body string, _ bool) error {
	if !strings.Contains(body, "data: [DONE]") {
		return fmt.Errorf("stream missing [DONE] sentinel")
	}

	for _, line := range strings.Split(body, "\n") {
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok || data == "[DONE]" {
			continue
		}

		if gjson.Get(data, "choices.0.delta.content").String() != "" {
			return nil
		}
	}

	return fmt.Errorf("stream carried no text deltas")
}

func (d *Doctor) verifyChatTool(body string, _ bool) error {
	name := gjson.Get(body, "choices.0.message.tool_calls.0.function.name").String()
	if name != "get_weather" {
		return fmt.Errorf("expected get_weather tool call, got %q", name)
	}

	args := gjson.Get(body, "choices.0.message.tool_calls.0.function.arguments").String()
	if !gjson.Valid(args) {
		return fmt.Errorf("tool arguments are not valid JSON: %s", excerpt(args))
	}

	return nil
}

func (d *Doctor) verifyChatToolStream(body string, _ bool) error {
	var args strings.Builder
	sawTool := false

	for _, line := range strings.Split(body, "\n") {
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok || data == "[DONE]" {
			continue
		}

		tc := gjson.Get(data, "choices.0.delta.tool_calls.0")
		if !tc.Exists() {
			continue
		}

		if tc.Get("function.name").String() == "get_weather" {
			sawTool = true
		}

		args.WriteString(tc.Get("function.arguments").String())
	}

	if !sawTool {
		return fmt.Errorf("stream carried no get_weather tool call")
	}

	if !gjson.Valid(args.String()) {
		return fmt.Errorf("concatenated tool arguments are not valid JSON")
	}

	return nil
}

func (d *Doctor) verifyMessagesText(body string, _ bool) error {
	if gjson.Get(body, "content.0.text").String() == "" {
		return fmt.Errorf("empty message content")
	}

	return nil
}

func (d *Doctor) verifyMessagesToolStream(body string, _ bool) error {
	var (
		sawTool     bool
		sawStop     bool
		partialJSON strings.Builder
	)

	for _, line := range strings.Split(body, "\n") {
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}

		ev := gjson.Parse(data)

		switch ev.Get("type").String() {
		case "content_block_start":
			if ev.Get("content_block.name").String() == "get_weather" {
				sawTool = true
			}
		case "content_block_delta":
			partialJSON.WriteString(ev.Get("delta.partial_json").String())
		case "message_stop":
			sawStop = true
		}
	}

	if !sawTool {
		return fmt.Errorf("stream carried no get_weather tool_use block")
	}

	if !sawStop {
		return fmt.Errorf("stream missing message_stop")
	}

	if partialJSON.Len() > 0 && !gjson.Valid(partialJSON.String()) {
		return fmt.Errorf("concatenated input_json_delta is not valid JSON")
	}

	return nil
}
