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
	"sync"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/mihaisavezi/ai-gateway/internal/core"
	"github.com/mihaisavezi/ai-gateway/internal/credstore"
	"github.com/mihaisavezi/ai-gateway/internal/httputil"
)

// Code-Assist bases, one per provider id.
const (
	GeminiCLIBase   = "https://cloudcode-pa.googleapis.com"
	AntigravityBase = "https://antigravity-pa.googleapis.com"
)

const codeAssistUserAgent = "ai-gateway (linux; amd64)"

// CodeAssist adapts Google's internal IDE-oriented Gemini endpoint
// (gemini-cli and antigravity ids). It discovers the Google Cloud project id
// on first use and caches it in the credential record.
type CodeAssist struct {
	provider    string
	model       string
	base        string
	accessToken string
	logger      *slog.Logger
	store       *credstore.Store

	mu        sync.Mutex
	projectID string

	client       *http.Client
	streamClient *http.Client
}

func NewCodeAssist(provider, model, base, accessToken, projectID string, store *credstore.Store, logger *slog.Logger) *CodeAssist {
	return &CodeAssist{
		provider:     provider,
		model:        model,
		base:         base,
		accessToken:  accessToken,
		projectID:    projectID,
		store:        store,
		logger:       logger,
		client:       httputil.NewClient(),
		streamClient: httputil.NewStreamingClient(),
	}
}

func (c *CodeAssist) ModelID() string { return c.model }

// loadRequest is the fixed IDE-metadata body for project discovery.
var loadRequest = map[string]any{
	"metadata": map[string]any{
		"ideType":    "IDE_UNSPECIFIED",
		"platform":   "PLATFORM_UNSPECIFIED",
		"pluginType": "GEMINI",
	},
}

// project returns the cached Google Cloud project id, discovering it via
// loadCodeAssist on first call. Concurrent first callers serialize; the
// discovered id is written through to the credential record.
func (c *CodeAssist) project(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.projectID != "" {
		return c.projectID, nil
	}

	resp, err := c.post(ctx, c.client, c.base+"/v1internal:loadCodeAssist", loadRequest)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", core.NewUpstreamUnreachable(c.provider, err)
	}

	project := gjson.GetBytes(data, "cloudaicompanionProject.id").String()
	if project == "" {
		// Some accounts report the project as a bare string.
		project = gjson.GetBytes(data, "cloudaicompanionProject").String()
	}

	if project == "" {
		return "", core.NewUpstreamRejected(c.provider, resp.StatusCode, []byte("loadCodeAssist returned no project"))
	}

	c.projectID = project
	c.persistProject(project)

	return project, nil
}

// persistProject caches the discovered project id in the credential record.
func (c *CodeAssist) persistProject(project string) {
	unlock := c.store.Lock(c.provider)
	defer unlock()

	rec, ok := c.store.Get(c.provider)
	if !ok || rec.ProjectID == project {
		return
	}

	rec.ProjectID = project
	if err := c.store.Put(c.provider, rec); err != nil {
		c.logger.Warn("failed to persist discovered project id", "provider", c.provider, "error", err)
	}
}

// envelope wraps a generateContent request in the v1internal form.
func (c *CodeAssist) envelope(project string, req core.Request) map[string]any {
	inner := buildGeminiRequest(req)

	if inner.GenerationConfig == nil {
		inner.GenerationConfig = &gGenConfig{}
	}

	inner.GenerationConfig.ThinkingConfig = &gThinkingConfig{
		IncludeThoughts: true,
		ThinkingLevel:   "LOW",
	}

	return map[string]any{
		"project":   project,
		"model":     c.model,
		"request":   inner,
		"userAgent": codeAssistUserAgent,
		"requestId": uuid.NewString(),
	}
}

func (c *CodeAssist) post(ctx context.Context, client *http.Client, url string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)
	httpReq.Header.Set("User-Agent", codeAssistUserAgent)

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

func (c *CodeAssist) Generate(ctx context.Context, req core.Request) (*core.Result, error) {
	project, err := c.project(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, c.client, c.base+"/v1internal:generateContent", c.envelope(project, req))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewUpstreamUnreachable(c.provider, err)
	}

	return geminiResult(gjson.GetBytes(data, "response")), nil
}

func (c *CodeAssist) Stream(ctx context.Context, req core.Request) (<-chan core.Event, error) {
	project, err := c.project(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, httputil.StreamTimeout)

	resp, err := c.post(ctx, c.streamClient, c.base+"/v1internal:streamGenerateContent?alt=sse", c.envelope(project, req))
	if err != nil {
		cancel()
		return nil, err
	}

	events := make(chan core.Event)

	go func() {
		defer close(events)
		defer cancel()
		defer resp.Body.Close()

		streamGeminiChunks(ctx, c.provider, resp.Body, "response", events)
	}()

	return events, nil
}
