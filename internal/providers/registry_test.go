package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/ai-gateway/internal/core"
	"github.com/mihaisavezi/ai-gateway/internal/credstore"
)

func TestResolveUnknownProvider(t *testing.T) {
	r := NewRegistry(testStore(t), testLogger())

	_, err := r.Resolve(context.Background(), "nope/x")
	require.Error(t, err)
	assert.Equal(t, core.ErrUnknownProvider, core.KindOf(err))
	assert.Contains(t, err.Error(), "Unsupported provider: nope")
}

func TestResolveBadModelID(t *testing.T) {
	r := NewRegistry(testStore(t), testLogger())

	_, err := r.Resolve(context.Background(), "no-slash")
	require.Error(t, err)
	assert.Equal(t, core.ErrBadRequest, core.KindOf(err))
}

func TestResolveMissingCredentials(t *testing.T) {
	r := NewRegistry(testStore(t), testLogger())

	_, err := r.Resolve(context.Background(), "openai/gpt-4o-mini")
	require.Error(t, err)
	assert.Equal(t, core.ErrNoCredentials, core.KindOf(err))
	assert.Contains(t, err.Error(), "openai")
}

func TestResolveCompatProvider(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.Put("openai", credstore.Record{
		APIKey: "sk-test",
		Type:   credstore.CredentialKey,
	}))

	r := NewRegistry(store, testLogger())

	lm, err := r.Resolve(context.Background(), "openai/gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", lm.ModelID())

	compat, ok := lm.(*Compat)
	require.True(t, ok)
	assert.Equal(t, "https://api.openai.com/v1/chat/completions", compat.endpoint)
}

func TestResolveModelWithSlashes(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.Put("openrouter", credstore.Record{
		APIKey: "sk-or",
		Type:   credstore.CredentialKey,
	}))

	r := NewRegistry(store, testLogger())

	lm, err := r.Resolve(context.Background(), "openrouter/meta-llama/llama-3-70b")
	require.NoError(t, err)
	assert.Equal(t, "meta-llama/llama-3-70b", lm.ModelID())
}

func TestResolveAnthropicVariants(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.Put("anthropic", credstore.Record{APIKey: "sk-ant", Type: credstore.CredentialKey}))
	require.NoError(t, store.Put("anthropic-token", credstore.Record{APIKey: "oauth-tok", Type: credstore.CredentialOAuth, Expires: 1<<62 - 1}))

	r := NewRegistry(store, testLogger())

	keyed, err := r.Resolve(context.Background(), "anthropic/claude-sonnet-4")
	require.NoError(t, err)

	a, ok := keyed.(*Anthropic)
	require.True(t, ok)
	assert.Equal(t, "sk-ant", a.headers["x-api-key"])

	tokened, err := r.Resolve(context.Background(), "anthropic-token/claude-sonnet-4")
	require.NoError(t, err)

	at, ok := tokened.(*Anthropic)
	require.True(t, ok)
	assert.Equal(t, "Bearer oauth-tok", at.headers["Authorization"])
	assert.NotEmpty(t, at.headers["anthropic-beta"])
}

func TestResolveCursorNeedsNoCredentials(t *testing.T) {
	r := NewRegistry(testStore(t), testLogger())

	lm, err := r.Resolve(context.Background(), "cursor/sonnet-4.5")
	require.NoError(t, err)

	_, ok := lm.(*Cursor)
	assert.True(t, ok)
}

func TestResolveAzureDeploymentURL(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.Put("azure", credstore.Record{
		APIKey:    "azure-key",
		ProjectID: "myresource",
		Type:      credstore.CredentialKey,
	}))

	r := NewRegistry(store, testLogger())

	lm, err := r.Resolve(context.Background(), "azure/my-deployment")
	require.NoError(t, err)

	compat, ok := lm.(*Compat)
	require.True(t, ok)
	assert.Contains(t, compat.endpoint, "https://myresource.openai.azure.com/openai/deployments/my-deployment/")
	assert.Equal(t, "azure-key", compat.headers["api-key"])
	assert.Empty(t, compat.apiKey)
}

func TestResolveBedrockSlots(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.Put("bedrock", credstore.Record{
		APIKey:    "AKIA...",
		ProjectID: "secret",
		Refresh:   "eu-west-1",
		Type:      credstore.CredentialKey,
	}))

	r := NewRegistry(store, testLogger())

	lm, err := r.Resolve(context.Background(), "bedrock/anthropic.claude-sonnet-4-20250514-v1:0")
	require.NoError(t, err)

	b, ok := lm.(*Bedrock)
	require.True(t, ok)
	assert.Equal(t, "eu-west-1", b.region)
}

func TestKnownProviders(t *testing.T) {
	for _, id := range []string{"openai", "anthropic", "anthropic-token", "google",
		"gemini-cli", "antigravity", "github-copilot", "openai-codex", "qwen-cli",
		"azure", "vertex", "bedrock", "cursor", "minimax-cn", "kimi-coding",
		"vercel-ai-gateway", "ollama", "litellm"} {
		assert.True(t, Known(id), id)
	}

	assert.False(t, Known("nope"))
}
