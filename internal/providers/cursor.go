package providers

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"unicode"

	"github.com/tidwall/gjson"

	"github.com/mihaisavezi/ai-gateway/internal/core"
	"github.com/mihaisavezi/ai-gateway/internal/httputil"
)

const cursorBinaryEnv = "CURSOR_AGENT_EXECUTABLE"

// Cursor drives the cursor-agent CLI as a black-box model: the conversation
// is serialized onto stdin, NDJSON events are read from stdout, and tool
// calls matching a caller-declared tool are intercepted and forwarded
// instead of being executed by the agent.
type Cursor struct {
	model  string
	logger *slog.Logger
}

func NewCursor(model string, logger *slog.Logger) *Cursor {
	return &Cursor{model: model, logger: logger}
}

func (c *Cursor) ModelID() string { return c.model }

func cursorBinary() string {
	if bin := os.Getenv(cursorBinaryEnv); bin != "" {
		return bin
	}

	return "cursor-agent"
}

// buildPrompt serializes the conversation into labeled sections. When tool
// results are present a continuation marker is appended so the agent picks
// the turn back up instead of starting fresh.
func buildPrompt(req core.Request) string {
	var b strings.Builder

	if req.System != "" {
		fmt.Fprintf(&b, "SYSTEM:\n%s\n\n", req.System)
	}

	if len(req.Tools) > 0 {
		b.WriteString("SYSTEM:\nYou may call the following tools. To call one, emit a tool call with the given name and JSON arguments matching its schema.\n")
		for _, t := range req.Tools {
			fmt.Fprintf(&b, "- %s: %s\n  schema: %s\n", t.Name, t.Description, string(t.Parameters))
		}
		b.WriteString("\n")
	}

	hasToolResults := false

	for _, msg := range req.Messages {
		switch msg.Role {
		case core.RoleSystem:
			fmt.Fprintf(&b, "SYSTEM:\n%s\n\n", msg.Text())
		case core.RoleUser:
			fmt.Fprintf(&b, "USER:\n%s\n\n", msg.Text())
		case core.RoleAssistant:
			text := msg.Text()
			for _, p := range msg.ToolCalls() {
				if text != "" {
					text += "\n"
				}

				text += fmt.Sprintf("[tool call %s(%s)]", p.Name, p.ArgsJSON)
			}

			fmt.Fprintf(&b, "ASSISTANT:\n%s\n\n", text)
		case core.RoleTool:
			hasToolResults = true
			for _, p := range msg.Parts {
				if p.Type == core.PartToolResult {
					fmt.Fprintf(&b, "TOOL_RESULT (%s):\n%s\n\n", p.ID, p.ResultText)
				}
			}
		}
	}

	if hasToolResults {
		b.WriteString("Continue the assistant turn using the tool results above.\n")
	}

	return b.String()
}

// normalizeToolName lowercases and strips non-alphanumerics for the
// case-insensitive tool match.
func normalizeToolName(name string) string {
	var b strings.Builder

	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}

	return b.String()
}

// deCamelToolKey maps cursor's internal tool_call keys to plain tool names:
// readToolCall → read, webSearchToolCall → web_search.
func deCamelToolKey(key string) string {
	key = strings.TrimSuffix(key, "ToolCall")

	var b strings.Builder

	for i, r := range key {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}

			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}

	return b.String()
}

func (c *Cursor) Generate(ctx context.Context, req core.Request) (*core.Result, error) {
	events, err := c.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	return core.Collect(events)
}

func (c *Cursor) Stream(ctx context.Context, req core.Request) (<-chan core.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, httputil.StreamTimeout)

	args := []string{
		"--print",
		"--output-format", "stream-json",
		"--stream-partial-output",
		"--force",
		"--model", c.model,
	}

	if len(req.Tools) == 0 {
		args = append(args, "--mode", "ask")
	}

	cmd := exec.CommandContext(ctx, cursorBinary(), args...)
	cmd.Stdin = strings.NewReader(buildPrompt(req))
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open cursor-agent stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, core.NewSubprocessFailed(-1, err.Error())
	}

	// Caller tool names, normalized for interception matching.
	callerTools := make(map[string]string, len(req.Tools))
	for _, t := range req.Tools {
		callerTools[normalizeToolName(t.Name)] = t.Name
	}

	events := make(chan core.Event)

	go func() {
		defer close(events)
		defer cancel()

		var (
			lastText    string
			intercepted = map[string]bool{}
		)

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !gjson.Valid(line) {
				continue
			}

			ev := gjson.Parse(line)

			switch ev.Get("type").String() {
			case "assistant":
				// Assistant events carry the cumulative text; emit only the
				// unseen suffix.
				text := ev.Get("message.content.0.text").String()
				if text == "" {
					text = ev.Get("content").String()
				}

				if text == "" {
					continue
				}

				delta := text
				if strings.HasPrefix(text, lastText) {
					delta = text[len(lastText):]
				}

				lastText = text

				if delta != "" {
					events <- core.Event{Type: core.EventTextDelta, Delta: delta}
				}
			case "tool_call":
				callID := ev.Get("call_id").String()
				if callID == "" || intercepted[callID] {
					continue
				}

				ev.Get("tool_call").ForEach(func(key, call gjson.Result) bool {
					name := deCamelToolKey(key.String())

					original, ok := callerTools[normalizeToolName(name)]
					if !ok {
						// Internal cursor tool; the agent executes it itself.
						return true
					}

					args := call.Get("args").Raw
					if args == "" {
						args = "{}"
					}

					intercepted[callID] = true

					events <- core.Event{Type: core.EventToolCall, ToolCall: &core.ToolCall{
						ID:       callID,
						Name:     original,
						ArgsJSON: args,
					}}

					return false
				})
			}
		}

		waitErr := cmd.Wait()

		if ctx.Err() == context.DeadlineExceeded {
			events <- core.Event{Type: core.EventError, Err: core.NewTimeout("cursor")}
			return
		}

		if waitErr != nil {
			code := -1
			var exitErr *exec.ExitError
			if errors.As(waitErr, &exitErr) {
				code = exitErr.ExitCode()
			}

			events <- core.Event{Type: core.EventError, Err: core.NewSubprocessFailed(code, stderr.String())}

			return
		}

		reason := core.FinishStop
		if len(intercepted) > 0 {
			reason = core.FinishToolCalls
		}

		events <- core.Event{Type: core.EventFinish, Reason: reason, Usage: core.Usage{
			PromptTokens:     core.EstimateRequestTokens(req),
			CompletionTokens: core.EstimateTokens(lastText),
		}}
	}()

	return events, nil
}
