// Package modelcatalog enumerates the usable model ids for a provider: a
// static seed list unioned with a live fetch from the provider's /models
// endpoint, falling back to the models.dev registry. Failures degrade to the
// static list and are never fatal.
package modelcatalog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/mihaisavezi/ai-gateway/internal/credstore"
	"github.com/mihaisavezi/ai-gateway/internal/providers"
)

const (
	modelsDevURL  = "https://models.dev/api.json"
	fetchTimeout  = 15 * time.Second
	anthropicBase = "https://api.anthropic.com"
)

// staticModels seed the catalog per provider.
var staticModels = map[string][]string{
	"openai":         {"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini", "o3-mini"},
	"anthropic":      {"claude-sonnet-4-20250514", "claude-opus-4-20250514", "claude-3-5-haiku-20241022"},
	"anthropic-token": {"claude-sonnet-4-20250514", "claude-opus-4-20250514"},
	"google":         {"gemini-2.5-pro", "gemini-2.5-flash"},
	"deepseek":       {"deepseek-chat", "deepseek-reasoner"},
	"groq":           {"llama-3.3-70b-versatile"},
	"xai":            {"grok-3", "grok-3-mini"},
	"openai-codex":   {"gpt-5-codex", "codex-mini-latest"},
	"qwen-cli":       {"qwen3-coder-plus"},
	"github-copilot": {"gpt-4o", "claude-sonnet-4", "gemini-2.5-pro"},
	"cursor":         {"gpt-5", "sonnet-4.5", "composer-1"},
	"bedrock":        {"anthropic.claude-sonnet-4-20250514-v1:0"},
	"vertex":         {"gemini-2.5-pro", "gemini-2.5-flash"},
}

// codeAssistModels are the internal Code-Assist ids unioned into the
// fallback for gemini-cli and antigravity.
var codeAssistModels = []string{
	"gemini-2.5-pro",
	"gemini-2.5-flash",
	"gemini-3-pro-preview",
}

type Catalog struct {
	client *http.Client
	logger *slog.Logger
}

func New(logger *slog.Logger) *Catalog {
	return &Catalog{
		client: &http.Client{Timeout: fetchTimeout},
		logger: logger,
	}
}

// Discover returns the sorted union of the static list and whatever the live
// source yields for the provider.
func (c *Catalog) Discover(ctx context.Context, provider string, rec credstore.Record) []string {
	set := map[string]bool{}

	for _, m := range staticModels[provider] {
		set[m] = true
	}

	live, err := c.fetchLive(ctx, provider, rec)
	if err != nil {
		c.logger.Debug("live model fetch failed, using static list", "provider", provider, "error", err)
	}

	for _, m := range live {
		set[m] = true
	}

	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}

	sort.Strings(out)

	return out
}

func (c *Catalog) fetchLive(ctx context.Context, provider string, rec credstore.Record) ([]string, error) {
	switch provider {
	case "openrouter":
		return c.fetchOpenRouter(ctx, openRouterModelsURL)
	case "anthropic":
		return c.fetchModelsEndpoint(ctx, anthropicBase+"/v1/models", map[string]string{
			"x-api-key":         rec.APIKey,
			"anthropic-version": "2023-06-01",
		})
	case "anthropic-token":
		return c.fetchModelsEndpoint(ctx, anthropicBase+"/v1/models", map[string]string{
			"Authorization":     "Bearer " + rec.APIKey,
			"anthropic-version": "2023-06-01",
		})
	case "ollama", "litellm":
		base := strings.TrimSuffix(rec.ProjectID, "/")
		if base == "" {
			return nil, nil
		}

		return c.fetchModelsEndpoint(ctx, base+"/models", map[string]string{
			"Authorization": "Bearer " + rec.APIKey,
		})
	case "gemini-cli", "antigravity":
		models, err := c.fetchModelsDev(ctx, "google")
		if err != nil {
			models = nil
		}

		return append(models, codeAssistModels...), nil
	}

	if base, ok := providers.CompatBase(provider); ok {
		return c.fetchModelsEndpoint(ctx, base+"/models", map[string]string{
			"Authorization": "Bearer " + rec.APIKey,
		})
	}

	return c.fetchModelsDev(ctx, provider)
}

const openRouterModelsURL = "https://openrouter.ai/api/v1/models"

// fetchOpenRouter lists openrouter models that support tool calls.
func (c *Catalog) fetchOpenRouter(ctx context.Context, url string) ([]string, error) {
	body, err := c.get(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	var models []string

	gjson.GetBytes(body, "data").ForEach(func(_, m gjson.Result) bool {
		supportsTools := false

		m.Get("supported_parameters").ForEach(func(_, p gjson.Result) bool {
			if p.String() == "tools" {
				supportsTools = true
				return false
			}

			return true
		})

		if supportsTools {
			models = append(models, m.Get("id").String())
		}

		return true
	})

	return models, nil
}

// fetchModelsEndpoint lists a standard GET /models response ({"data":[{id}]}
// or {"models":[{name}]}).
func (c *Catalog) fetchModelsEndpoint(ctx context.Context, url string, headers map[string]string) ([]string, error) {
	body, err := c.get(ctx, url, headers)
	if err != nil {
		return nil, err
	}

	var models []string

	gjson.GetBytes(body, "data").ForEach(func(_, m gjson.Result) bool {
		if id := m.Get("id").String(); id != "" {
			models = append(models, id)
		}

		return true
	})

	gjson.GetBytes(body, "models").ForEach(func(_, m gjson.Result) bool {
		if name := m.Get("name").String(); name != "" {
			models = append(models, name)
		}

		return true
	})

	return models, nil
}

// fetchModelsDev reads the models.dev registry and keeps the provider's
// tool-capable entries.
func (c *Catalog) fetchModelsDev(ctx context.Context, provider string) ([]string, error) {
	body, err := c.get(ctx, modelsDevURL, nil)
	if err != nil {
		return nil, err
	}

	var models []string

	gjson.GetBytes(body, provider+".models").ForEach(func(id, m gjson.Result) bool {
		if m.Get("tool_call").Bool() {
			models = append(models, id.String())
		}

		return true
	})

	return models, nil
}

func (c *Catalog) get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{status: resp.StatusCode}
	}

	return io.ReadAll(io.LimitReader(resp.Body, 20*1024*1024))
}

type statusError struct{ status int }

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.status)
}
