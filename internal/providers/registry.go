package providers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mihaisavezi/ai-gateway/internal/auth"
	"github.com/mihaisavezi/ai-gateway/internal/core"
	"github.com/mihaisavezi/ai-gateway/internal/credstore"
)

// compatBases maps the bearer/OpenAI-compatible provider ids to their fixed
// API bases. ollama and litellm derive their base from the credential record
// instead.
var compatBases = map[string]string{
	"openai":      "https://api.openai.com/v1",
	"deepseek":    "https://api.deepseek.com/v1",
	"openrouter":  "https://openrouter.ai/api/v1",
	"xai":         "https://api.x.ai/v1",
	"moonshot":    "https://api.moonshot.ai/v1",
	"zhipu":       "https://open.bigmodel.cn/api/paas/v4",
	"groq":        "https://api.groq.com/openai/v1",
	"together":    "https://api.together.xyz/v1",
	"minimax":     "https://api.minimax.io/v1",
	"cerebras":    "https://api.cerebras.ai/v1",
	"mistral":     "https://api.mistral.ai/v1",
	"huggingface": "https://router.huggingface.co/v1",
	"opencode":    "https://opencode.ai/zen/v1",
	"zai":         "https://api.z.ai/api/coding/paas/v4",
}

// anthropicBases maps the Messages-format provider ids to their fixed bases.
var anthropicBases = map[string]string{
	"anthropic":         "https://api.anthropic.com",
	"anthropic-token":   "https://api.anthropic.com",
	"minimax-cn":        "https://api.minimaxi.com/anthropic",
	"kimi-coding":       "https://api.moonshot.cn/anthropic",
	"vercel-ai-gateway": "https://ai-gateway.vercel.sh",
}

const (
	googleBase    = "https://generativelanguage.googleapis.com"
	codexBase     = "https://chatgpt.com/backend-api"
	ollamaDefault = "http://localhost:11434/v1"
)

// anthropicTokenHeaders are the fixed headers the OAuth-token flavor of the
// Anthropic API requires alongside the bearer token.
var anthropicTokenHeaders = map[string]string{
	"anthropic-beta": "oauth-2025-04-20",
	"user-agent":     "ai-gateway/1.0",
	"x-app":          "cli",
}

// providerIDs is the closed set of registered provider ids.
var providerIDs = func() map[string]bool {
	ids := map[string]bool{
		"google": true, "gemini-cli": true, "antigravity": true,
		"github-copilot": true, "openai-codex": true, "qwen-cli": true,
		"azure": true, "vertex": true, "bedrock": true, "cursor": true,
		"ollama": true, "litellm": true,
	}

	for id := range compatBases {
		ids[id] = true
	}

	for id := range anthropicBases {
		ids[id] = true
	}

	return ids
}()

// CompatBase returns the fixed API base for a bearer/OpenAI-compatible
// provider id.
func CompatBase(provider string) (string, bool) {
	base, ok := compatBases[provider]
	return base, ok
}

// IDs returns the registered provider ids.
func IDs() []string {
	out := make([]string, 0, len(providerIDs))
	for id := range providerIDs {
		out = append(out, id)
	}

	return out
}

// Known reports whether a provider id is registered.
func Known(provider string) bool { return providerIDs[provider] }

// Registry resolves qualified model ids to bound LanguageModel handles,
// refreshing OAuth credentials that are about to expire.
type Registry struct {
	store  *credstore.Store
	logger *slog.Logger

	// vertex access tokens live only in memory; the record's apiKey slot
	// holds the region instead.
	vertexMu      sync.Mutex
	vertexToken   string
	vertexExpires int64
}

func NewRegistry(store *credstore.Store, logger *slog.Logger) *Registry {
	return &Registry{store: store, logger: logger}
}

// Resolve parses "provider/model", binds credentials, and constructs the
// provider's adapter. It fails fast with a distinct error kind on an unknown
// provider or missing credentials.
func (r *Registry) Resolve(ctx context.Context, qualified string) (core.LanguageModel, error) {
	provider, model, err := core.ParseModelID(qualified)
	if err != nil {
		return nil, err
	}

	if !Known(provider) {
		return nil, core.NewUnknownProvider(provider)
	}

	// cursor spawns a subprocess and needs no credentials.
	if provider == "cursor" {
		return NewCursor(model, r.logger), nil
	}

	rec, ok := r.store.Get(provider)
	if !ok {
		return nil, core.NewNoCredentials(provider)
	}

	if rec.IsOAuth() && auth.NeedsRefresh(rec) && provider != "vertex" {
		rec, err = r.refresh(ctx, provider, rec)
		if err != nil {
			return nil, err
		}
	}

	return r.build(ctx, provider, model, rec)
}

// refresh runs the provider's token refresh under the per-provider lock and
// writes the new record through the store. A concurrent refresher may have
// already done the work; the re-read avoids a duplicate upstream call.
func (r *Registry) refresh(ctx context.Context, provider string, rec credstore.Record) (credstore.Record, error) {
	unlock := r.store.Lock(provider)
	defer unlock()

	if current, ok := r.store.Get(provider); ok {
		rec = current
	}

	if !auth.NeedsRefresh(rec) {
		return rec, nil
	}

	next, err := auth.Refresh(ctx, provider, rec)
	if err != nil {
		return credstore.Record{}, err
	}

	if err := r.store.Put(provider, next); err != nil {
		r.logger.Warn("failed to persist refreshed credentials", "provider", provider, "error", err)
	}

	r.logger.Debug("refreshed oauth credentials", "provider", provider)

	return next, nil
}

// build constructs the adapter for a provider with bound credentials.
func (r *Registry) build(ctx context.Context, provider, model string, rec credstore.Record) (core.LanguageModel, error) {
	if base, ok := compatBases[provider]; ok {
		if rec.APIKey == "" {
			return nil, core.NewNoCredentials(provider)
		}

		return NewCompat(provider, model, base+"/chat/completions", rec.APIKey, nil, r.logger), nil
	}

	if base, ok := anthropicBases[provider]; ok {
		return r.buildAnthropic(provider, model, base, rec)
	}

	switch provider {
	case "ollama", "litellm":
		base := rec.ProjectID
		if base == "" {
			if provider == "litellm" {
				return nil, core.NewNoCredentials(provider)
			}

			base = ollamaDefault
		}

		return NewCompat(provider, model, strings.TrimSuffix(base, "/")+"/chat/completions", rec.APIKey, nil, r.logger), nil
	case "google":
		if rec.APIKey == "" {
			return nil, core.NewNoCredentials(provider)
		}

		base := fmt.Sprintf("%s/v1beta/models/%s", googleBase, model)

		return NewGoogle(provider, model,
			base+":generateContent?key="+rec.APIKey,
			base+":streamGenerateContent?alt=sse&key="+rec.APIKey,
			nil, r.logger), nil
	case "gemini-cli":
		if rec.APIKey == "" {
			return nil, core.NewNoCredentials(provider)
		}

		return NewCodeAssist(provider, model, GeminiCLIBase, rec.APIKey, rec.ProjectID, r.store, r.logger), nil
	case "antigravity":
		if rec.APIKey == "" {
			return nil, core.NewNoCredentials(provider)
		}

		return NewCodeAssist(provider, model, AntigravityBase, rec.APIKey, rec.ProjectID, r.store, r.logger), nil
	case "github-copilot":
		if rec.APIKey == "" {
			return nil, core.NewNoCredentials(provider)
		}

		base := rec.ProjectID
		if base == "" {
			base = auth.CopilotDefaultBase
		}

		return NewCompat(provider, model, base+"/chat/completions", rec.APIKey, auth.CopilotHeaders(), r.logger), nil
	case "openai-codex":
		if rec.APIKey == "" {
			return nil, core.NewNoCredentials(provider)
		}

		headers := map[string]string{}
		if rec.ProjectID != "" {
			headers["chatgpt-account-id"] = rec.ProjectID
		}

		return NewCompat(provider, model, codexBase+"/chat/completions", rec.APIKey, headers, r.logger), nil
	case "qwen-cli":
		if rec.APIKey == "" || rec.ProjectID == "" {
			return nil, core.NewNoCredentials(provider)
		}

		return NewCompat(provider, model, rec.ProjectID+"/chat/completions", rec.APIKey, nil, r.logger), nil
	case "azure":
		return r.buildAzure(model, rec)
	case "vertex":
		return r.buildVertex(ctx, model, rec)
	case "bedrock":
		return r.buildBedrock(model, rec)
	}

	return nil, core.NewUnknownProvider(provider)
}

func (r *Registry) buildAnthropic(provider, model, base string, rec credstore.Record) (core.LanguageModel, error) {
	if rec.APIKey == "" {
		return nil, core.NewNoCredentials(provider)
	}

	headers := map[string]string{}

	if provider == "anthropic-token" {
		headers["Authorization"] = "Bearer " + rec.APIKey
		for k, v := range anthropicTokenHeaders {
			headers[k] = v
		}
	} else {
		headers["x-api-key"] = rec.APIKey
	}

	return NewAnthropic(provider, model, base+"/v1/messages", headers, r.logger), nil
}

// buildAzure derives the deployment endpoint from the resource name stored
// in projectId; the model id doubles as the deployment name.
func (r *Registry) buildAzure(model string, rec credstore.Record) (core.LanguageModel, error) {
	if rec.APIKey == "" || rec.ProjectID == "" {
		return nil, core.NewNoCredentials("azure")
	}

	endpoint := fmt.Sprintf(
		"https://%s.openai.azure.com/openai/deployments/%s/chat/completions?api-version=2024-06-01",
		rec.ProjectID, model,
	)

	// Azure authenticates with an api-key header rather than a bearer token.
	return NewCompat("azure", model, endpoint, "", map[string]string{"api-key": rec.APIKey}, r.logger), nil
}

// buildVertex targets the regional endpoint. The record stores the location
// in the apiKey slot and the GCP project in projectId; the access token is
// derived from the refresh token and cached in memory only.
func (r *Registry) buildVertex(ctx context.Context, model string, rec credstore.Record) (core.LanguageModel, error) {
	project := rec.ProjectID
	if project == "" {
		project = os.Getenv("GOOGLE_CLOUD_PROJECT")
	}

	if project == "" {
		return nil, core.NewNoCredentials("vertex")
	}

	location := rec.APIKey
	if location == "" {
		location = "us-central1"
	}

	token, err := r.vertexAccessToken(ctx, rec)
	if err != nil {
		return nil, err
	}

	base := fmt.Sprintf(
		"https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google/models/%s",
		location, project, location, model,
	)

	headers := map[string]string{"Authorization": "Bearer " + token}

	return NewGoogle("vertex", model,
		base+":generateContent",
		base+":streamGenerateContent?alt=sse",
		headers, r.logger), nil
}

func (r *Registry) vertexAccessToken(ctx context.Context, rec credstore.Record) (string, error) {
	if rec.Refresh == "" {
		return "", core.NewNoCredentials("vertex")
	}

	r.vertexMu.Lock()
	defer r.vertexMu.Unlock()

	if r.vertexToken != "" && r.vertexExpires > time.Now().UnixMilli() {
		return r.vertexToken, nil
	}

	refreshed, err := auth.Refresh(ctx, "vertex", rec)
	if err != nil {
		return "", err
	}

	r.vertexToken = refreshed.APIKey
	r.vertexExpires = refreshed.Expires

	return r.vertexToken, nil
}

// buildBedrock reads access key / secret / region from the overloaded
// apiKey / projectId / refresh slots, with AWS_REGION as the region
// fallback.
func (r *Registry) buildBedrock(model string, rec credstore.Record) (core.LanguageModel, error) {
	if rec.APIKey == "" || rec.ProjectID == "" {
		return nil, core.NewNoCredentials("bedrock")
	}

	region := rec.Refresh
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}

	if region == "" {
		region = "us-east-1"
	}

	return NewBedrock(model, rec.APIKey, rec.ProjectID, region, r.logger), nil
}
