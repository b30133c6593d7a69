package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/mihaisavezi/ai-gateway/internal/credstore"
)

const (
	githubDeviceURL = "https://github.com/login/device/code"
	githubTokenURL  = "https://github.com/login/oauth/access_token"
	copilotClientID = "Iv1.b507a08c87ecfe98"
	copilotScope    = "read:user"
	copilotTokenURL = "https://api.github.com/copilot_internal/v2/token"

	// CopilotDefaultBase is used when the session token carries no proxy-ep
	// claim.
	CopilotDefaultBase = "https://api.individual.githubcopilot.com"
)

// CopilotHeaders identify the gateway as an editor to the Copilot API.
func CopilotHeaders() map[string]string {
	return map[string]string{
		"Editor-Version":         "vscode/1.99.0",
		"Editor-Plugin-Version":  "copilot-chat/0.26.0",
		"Copilot-Integration-Id": "vscode-chat",
		"User-Agent":             "GitHubCopilotChat/0.26.0",
	}
}

// LoginCopilot runs the GitHub device-code flow, then exchanges the GitHub
// access token for a Copilot session token. The GitHub token is stored in
// the refresh slot so the session can be re-derived; the derived base URL is
// stored as projectId.
func LoginCopilot(ctx context.Context) (credstore.Record, error) {
	token, err := runDeviceFlow(ctx, deviceConfig{
		clientID:  copilotClientID,
		deviceURL: githubDeviceURL,
		tokenURL:  githubTokenURL,
		scope:     copilotScope,
	})
	if err != nil {
		return credstore.Record{}, err
	}

	githubToken := token.Get("access_token").String()

	return copilotSession(ctx, githubToken, nil)
}

// refreshCopilot re-derives the session token from the stored GitHub token.
func refreshCopilot(ctx context.Context, rec credstore.Record) (credstore.Record, error) {
	return copilotSession(ctx, rec.Refresh, rec.EnabledModels)
}

// copilotSession exchanges a GitHub access token for a Copilot session token
// and derives the API base from the token's proxy-ep claim.
func copilotSession(ctx context.Context, githubToken string, enabledModels []string) (credstore.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, copilotTokenURL, nil)
	if err != nil {
		return credstore.Record{}, fmt.Errorf("create session request: %w", err)
	}

	req.Header.Set("Authorization", "token "+githubToken)
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return credstore.Record{}, fmt.Errorf("copilot session endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return credstore.Record{}, fmt.Errorf("read session response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return credstore.Record{}, fmt.Errorf("copilot session endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	parsed := gjson.ParseBytes(body)
	sessionToken := parsed.Get("token").String()

	expires := parsed.Get("expires_at").Int() * 1000
	if expires == 0 {
		expires = time.Now().UnixMilli() + 25*60*1000
	}

	return credstore.Record{
		APIKey:        sessionToken,
		Refresh:       githubToken,
		Expires:       expires - expiryMarginMs,
		ProjectID:     baseFromSessionToken(sessionToken),
		Type:          credstore.CredentialOAuth,
		EnabledModels: enabledModels,
	}, nil
}

// baseFromSessionToken parses the proxy-ep claim out of the
// semicolon-delimited session token and rewrites the proxy host to its api
// counterpart.
func baseFromSessionToken(token string) string {
	for _, field := range strings.Split(token, ";") {
		if host, ok := strings.CutPrefix(field, "proxy-ep="); ok {
			host = strings.Replace(host, "proxy.", "api.", 1)

			u := url.URL{Scheme: "https", Host: host}

			return u.String()
		}
	}

	return CopilotDefaultBase
}
