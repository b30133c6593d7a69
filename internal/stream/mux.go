// Package stream writes a canonical event stream out in one of the two
// external SSE framings: OpenAI chat.completion.chunk frames or Anthropic
// Messages event frames.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/mihaisavezi/ai-gateway/internal/core"
)

// writeFrame writes one SSE frame and flushes so the client sees it
// immediately. Frames are written whole; the HTTP server serializes writes
// on a connection.
func writeFrame(w io.Writer, flush func(), event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sse payload: %w", err)
	}

	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return err
		}
	} else {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
	}

	if flush != nil {
		flush()
	}

	return nil
}

// chatChunk is one chat.completion.chunk frame.
type chatChunk struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Index        int            `json:"index"`
	Delta        map[string]any `json:"delta"`
	FinishReason *string        `json:"finish_reason"`
}

// chatFinishWire maps canonical finish reasons to the chat-completions wire
// spellings.
func chatFinishWire(reason core.FinishReason) string {
	switch reason {
	case core.FinishToolCalls:
		return "tool_calls"
	case core.FinishLength:
		return "length"
	default:
		return "stop"
	}
}

// WriteChat frames the event stream as chat.completion.chunk SSE, ending
// with a finish_reason chunk and the literal [DONE] sentinel. On an Error
// event the sentinel is written and the error returned so the caller can
// close the connection.
func WriteChat(w io.Writer, flush func(), model string, events <-chan core.Event) error {
	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()

	chunk := func(delta map[string]any, finish *string) chatChunk {
		return chatChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []chatChoice{{Delta: delta, FinishReason: finish}},
		}
	}

	done := func() error {
		if _, err := fmt.Fprint(w, "data: [DONE]\n\n"); err != nil {
			return err
		}

		if flush != nil {
			flush()
		}

		return nil
	}

	for ev := range events {
		switch ev.Type {
		case core.EventTextDelta:
			if err := writeFrame(w, flush, "", chunk(map[string]any{"content": ev.Delta}, nil)); err != nil {
				return err
			}
		case core.EventToolCall:
			delta := map[string]any{
				"tool_calls": []map[string]any{{
					"index": 0,
					"id":    ev.ToolCall.ID,
					"type":  "function",
					"function": map[string]any{
						"name":      ev.ToolCall.Name,
						"arguments": ev.ToolCall.ArgsJSON,
					},
				}},
			}

			if err := writeFrame(w, flush, "", chunk(delta, nil)); err != nil {
				return err
			}
		case core.EventFinish:
			reason := chatFinishWire(ev.Reason)
			if err := writeFrame(w, flush, "", chunk(map[string]any{}, &reason)); err != nil {
				return err
			}

			return done()
		case core.EventError:
			if err := done(); err != nil {
				return err
			}

			return ev.Err
		}
	}

	return done()
}

// WriteMessages frames the event stream as Anthropic Messages SSE. Content
// block indices increase strictly; every content_block_start is balanced by
// a content_block_stop before message_delta.
func WriteMessages(w io.Writer, flush func(), model string, events <-chan core.Event) error {
	var (
		blockIndex    = -1
		textBlockOpen = false
		hasToolCalls  = false
	)

	start := map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":            "msg_" + uuid.NewString(),
			"type":          "message",
			"role":          "assistant",
			"model":         model,
			"content":       []any{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": 0, "output_tokens": 0},
		},
	}

	if err := writeFrame(w, flush, "message_start", start); err != nil {
		return err
	}

	closeTextBlock := func() error {
		if !textBlockOpen {
			return nil
		}

		textBlockOpen = false

		return writeFrame(w, flush, "content_block_stop", map[string]any{
			"type":  "content_block_stop",
			"index": blockIndex,
		})
	}

	for ev := range events {
		switch ev.Type {
		case core.EventTextDelta:
			if !textBlockOpen {
				blockIndex++
				textBlockOpen = true

				startEv := map[string]any{
					"type":          "content_block_start",
					"index":         blockIndex,
					"content_block": map[string]any{"type": "text", "text": ""},
				}

				if err := writeFrame(w, flush, "content_block_start", startEv); err != nil {
					return err
				}
			}

			deltaEv := map[string]any{
				"type":  "content_block_delta",
				"index": blockIndex,
				"delta": map[string]any{"type": "text_delta", "text": ev.Delta},
			}

			if err := writeFrame(w, flush, "content_block_delta", deltaEv); err != nil {
				return err
			}
		case core.EventToolCall:
			if err := closeTextBlock(); err != nil {
				return err
			}

			blockIndex++
			hasToolCalls = true

			startEv := map[string]any{
				"type":  "content_block_start",
				"index": blockIndex,
				"content_block": map[string]any{
					"type":  "tool_use",
					"id":    ev.ToolCall.ID,
					"name":  ev.ToolCall.Name,
					"input": map[string]any{},
				},
			}

			if err := writeFrame(w, flush, "content_block_start", startEv); err != nil {
				return err
			}

			// The complete arguments ride in a single input_json_delta.
			deltaEv := map[string]any{
				"type":  "content_block_delta",
				"index": blockIndex,
				"delta": map[string]any{"type": "input_json_delta", "partial_json": ev.ToolCall.ArgsJSON},
			}

			if err := writeFrame(w, flush, "content_block_delta", deltaEv); err != nil {
				return err
			}

			stopEv := map[string]any{
				"type":  "content_block_stop",
				"index": blockIndex,
			}

			if err := writeFrame(w, flush, "content_block_stop", stopEv); err != nil {
				return err
			}
		case core.EventFinish:
			if err := closeTextBlock(); err != nil {
				return err
			}

			stopReason := "end_turn"
			if hasToolCalls {
				stopReason = "tool_use"
			}

			deltaEv := map[string]any{
				"type": "message_delta",
				"delta": map[string]any{
					"stop_reason":   stopReason,
					"stop_sequence": nil,
				},
				"usage": map[string]any{"output_tokens": 0},
			}

			if err := writeFrame(w, flush, "message_delta", deltaEv); err != nil {
				return err
			}

			return writeFrame(w, flush, "message_stop", map[string]any{"type": "message_stop"})
		case core.EventError:
			// The stream aborts; the handler closes the connection without a
			// message_stop.
			return ev.Err
		}
	}

	return nil
}
