package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/mihaisavezi/ai-gateway/internal/credstore"
)

const (
	codexAuthURL  = "https://auth.openai.com/oauth/authorize"
	codexTokenURL = "https://auth.openai.com/oauth/token"

	codexRedirectAddr = "127.0.0.1:1455"
	codexRedirectPath = "/auth/callback"

	codexClientID = "app_EMoamEEZ73f0CkXaXp7hrann"

	codexScopes = "openid profile email offline_access"
)

// LoginCodex runs the authorization-code + PKCE flow for the OpenAI Codex
// backend. The ChatGPT account id is extracted from the access token's JWT
// claims and stored as the record's projectId.
func LoginCodex(ctx context.Context) (credstore.Record, error) {
	p, err := newPKCE()
	if err != nil {
		return credstore.Record{}, err
	}

	redirect := "http://" + codexRedirectAddr + codexRedirectPath

	results := make(chan callbackResult, 1)

	srv, err := listenForCallback(codexRedirectAddr, codexRedirectPath, results)
	if err != nil {
		return credstore.Record{}, fmt.Errorf("start callback listener: %w", err)
	}
	defer srv.Close()

	authURL := codexAuthURL + "?" + url.Values{
		"client_id":             {codexClientID},
		"redirect_uri":          {redirect},
		"response_type":         {"code"},
		"scope":                 {codexScopes},
		"code_challenge":        {p.Challenge},
		"code_challenge_method": {"S256"},
		"state":                 {p.State},
	}.Encode()

	promptAuthorize(authURL)

	go readPastedCode(results)

	code, err := waitForCode(ctx, results, p.State, 60*time.Second)
	if err != nil {
		return credstore.Record{}, err
	}

	token, err := exchangeForm(ctx, codexTokenURL, url.Values{
		"client_id":     {codexClientID},
		"code":          {code},
		"code_verifier": {p.Verifier},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {redirect},
	})
	if err != nil {
		return credstore.Record{}, err
	}

	rec := recordFromToken(token, "")
	rec.ProjectID = chatgptAccountID(rec.APIKey)

	return rec, nil
}

func refreshCodex(ctx context.Context, rec credstore.Record) (credstore.Record, error) {
	token, err := exchangeForm(ctx, codexTokenURL, url.Values{
		"client_id":     {codexClientID},
		"refresh_token": {rec.Refresh},
		"grant_type":    {"refresh_token"},
	})
	if err != nil {
		return credstore.Record{}, err
	}

	next := recordFromToken(token, "")
	next.ProjectID = chatgptAccountID(next.APIKey)

	if next.ProjectID == "" {
		next.ProjectID = rec.ProjectID
	}

	if next.Refresh == "" {
		next.Refresh = rec.Refresh
	}

	next.EnabledModels = rec.EnabledModels

	return next, nil
}

// chatgptAccountID decodes the access token JWT and pulls the account id
// from the https://api.openai.com/auth claim.
func chatgptAccountID(accessToken string) string {
	claims := decodeJWTClaims(accessToken)

	return claims.Get(`https://api\.openai\.com/auth.chatgpt_account_id`).String()
}

// decodeJWTClaims decodes a JWT payload without verifying the signature; the
// gateway only reads non-security-bearing routing claims.
func decodeJWTClaims(token string) gjson.Result {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return gjson.Result{}
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return gjson.Result{}
	}

	if !json.Valid(payload) {
		return gjson.Result{}
	}

	return gjson.ParseBytes(payload)
}
