package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mihaisavezi/ai-gateway/internal/convert"
	"github.com/mihaisavezi/ai-gateway/internal/core"
	"github.com/mihaisavezi/ai-gateway/internal/credstore"
	"github.com/mihaisavezi/ai-gateway/internal/providers"
	"github.com/mihaisavezi/ai-gateway/internal/stream"
)

// GatewayHandler serves the three public routes: /v1/models,
// /v1/chat/completions, and /v1/messages.
type GatewayHandler struct {
	store    *credstore.Store
	registry *providers.Registry
	logger   *slog.Logger
}

func NewGatewayHandler(store *credstore.Store, registry *providers.Registry, logger *slog.Logger) *GatewayHandler {
	return &GatewayHandler{store: store, registry: registry, logger: logger}
}

// writeError emits the uniform {"error":{"message":...}} body. Every
// user-visible failure maps to HTTP 500.
func (h *GatewayHandler) writeError(w http.ResponseWriter, err error) {
	h.logger.Error("request failed", "error", err)

	msg := err.Error()

	var ge *core.GatewayError
	if errors.As(err, &ge) {
		msg = ge.Message
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)

	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": msg},
	})
}

// HandleModels lists the cross-product of configured providers and their
// enabled models.
func (h *GatewayHandler) HandleModels(w http.ResponseWriter, _ *http.Request) {
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Created int64  `json:"created"`
		OwnedBy string `json:"owned_by"`
	}

	created := time.Now().Unix()
	entries := []modelEntry{}

	for provider, rec := range h.store.List() {
		if !providers.Known(provider) {
			continue
		}

		for _, model := range rec.EnabledModels {
			entries = append(entries, modelEntry{
				ID:      provider + "/" + model,
				Object:  "model",
				Created: created,
				OwnedBy: "ai-gateway",
			})
		}
	}

	w.Header().Set("Content-Type", "application/json")

	_ = json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data":   entries,
	})
}

// HandleChatCompletions serves the OpenAI-style surface.
func (h *GatewayHandler) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, core.NewBadRequest("failed to read request body: %v", err))
		return
	}

	var chatReq convert.ChatRequest
	if err := json.Unmarshal(body, &chatReq); err != nil {
		h.writeError(w, core.NewBadRequest("malformed request body: %v", err))
		return
	}

	_, model, err := core.ParseModelID(chatReq.Model)
	if err != nil {
		h.writeError(w, err)
		return
	}

	req, err := convert.FromChatRequest(chatReq, model)
	if err != nil {
		h.writeError(w, err)
		return
	}

	lm, err := h.registry.Resolve(r.Context(), chatReq.Model)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if req.Stream {
		events, err := lm.Stream(r.Context(), req)
		if err != nil {
			h.writeError(w, err)
			return
		}

		h.streamResponse(w, chatReq.Model, events, stream.WriteChat)

		return
	}

	res, err := lm.Generate(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	_ = json.NewEncoder(w).Encode(convert.ToChatResponse(res, chatReq.Model))
}

// HandleMessages serves the Anthropic-style surface.
func (h *GatewayHandler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, core.NewBadRequest("failed to read request body: %v", err))
		return
	}

	var msgReq convert.MessagesRequest
	if err := json.Unmarshal(body, &msgReq); err != nil {
		h.writeError(w, core.NewBadRequest("malformed request body: %v", err))
		return
	}

	_, model, err := core.ParseModelID(msgReq.Model)
	if err != nil {
		h.writeError(w, err)
		return
	}

	req, err := convert.FromMessagesRequest(msgReq, model)
	if err != nil {
		h.writeError(w, err)
		return
	}

	lm, err := h.registry.Resolve(r.Context(), msgReq.Model)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if req.Stream {
		events, err := lm.Stream(r.Context(), req)
		if err != nil {
			h.writeError(w, err)
			return
		}

		h.streamResponse(w, msgReq.Model, events, stream.WriteMessages)

		return
	}

	res, err := lm.Generate(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	_ = json.NewEncoder(w).Encode(convert.ToMessagesResponse(res, msgReq.Model))
}

type framing func(w io.Writer, flush func(), model string, events <-chan core.Event) error

// streamResponse sets the SSE headers and pumps the canonical event stream
// through the chosen framing. A mid-stream error closes the connection.
func (h *GatewayHandler) streamResponse(w http.ResponseWriter, model string, events <-chan core.Event, frame framing) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flush := func() {
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}

	if err := frame(w, flush, model, events); err != nil {
		h.logger.Error("stream aborted", "model", model, "error", err)

		// Drain so the adapter goroutine can exit.
		for range events {
		}
	}
}

// HandleHealth reports liveness.
func (h *GatewayHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("OK")); err != nil {
		h.logger.Error("failed to write health response", "error", err)
	}
}
