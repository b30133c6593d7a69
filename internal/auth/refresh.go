package auth

import (
	"context"
	"time"

	"github.com/mihaisavezi/ai-gateway/internal/core"
	"github.com/mihaisavezi/ai-gateway/internal/credstore"
)

// refreshWindowMs: tokens expiring within this window are refreshed before
// use.
const refreshWindowMs = 5 * 60 * 1000

// NeedsRefresh reports whether an OAuth record's token expires within the
// refresh window.
func NeedsRefresh(rec credstore.Record) bool {
	if !rec.IsOAuth() {
		return false
	}

	return rec.Expires <= time.Now().UnixMilli()+refreshWindowMs
}

// Refresh runs the provider's refresh operation and returns the updated
// record. The caller persists it under the provider lock.
func Refresh(ctx context.Context, provider string, rec credstore.Record) (credstore.Record, error) {
	var (
		next credstore.Record
		err  error
	)

	switch provider {
	case "gemini-cli", "antigravity", "vertex":
		next, err = refreshGoogle(ctx, rec)
	case "openai-codex":
		next, err = refreshCodex(ctx, rec)
	case "qwen-cli":
		next, err = refreshQwen(ctx, rec)
	case "github-copilot":
		next, err = refreshCopilot(ctx, rec)
	default:
		return rec, nil
	}

	if err != nil {
		return credstore.Record{}, core.NewAuthRefreshFailed(provider, err)
	}

	return next, nil
}

// Login dispatches the interactive credential acquisition flow for an OAuth
// provider.
func Login(ctx context.Context, provider string) (credstore.Record, error) {
	switch provider {
	case "gemini-cli", "antigravity", "vertex":
		return LoginGoogle(ctx)
	case "openai-codex":
		return LoginCodex(ctx)
	case "qwen-cli":
		return LoginQwen(ctx)
	case "github-copilot":
		return LoginCopilot(ctx)
	default:
		return credstore.Record{}, core.NewUnknownProvider(provider)
	}
}
