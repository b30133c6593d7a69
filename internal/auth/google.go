package auth

import (
	"context"
	"encoding/base64"
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
	googleAuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL = "https://oauth2.googleapis.com/token"

	googleRedirectAddr = "127.0.0.1:8085"
	googleRedirectPath = "/oauth2callback"

	googleScopes = "https://www.googleapis.com/auth/cloud-platform " +
		"https://www.googleapis.com/auth/userinfo.email " +
		"https://www.googleapis.com/auth/userinfo.profile"
)

// The Code-Assist OAuth client is an embedded constant of the upstream CLI;
// kept base64-encoded as upstream does.
var (
	googleClientID     = decodeConst("NjgxMjU1ODA5Mzk1LW9vOGZ0Mm9wcmRybnA5ZTNhcWY2YXYzaG1kaWIxMzVqLmFwcHMuZ29vZ2xldXNlcmNvbnRlbnQuY29t")
	googleClientSecret = decodeConst("R09DU1BYLTR1SGdNUG0tMW83U2stZ2VWNkN1NWNsWEZzeGw=")
)

func decodeConst(s string) string {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return ""
	}

	return string(b)
}

// LoginGoogle runs the authorization-code + PKCE flow against the Google
// OAuth endpoints and returns an OAuth credential record usable by the
// gemini-cli, antigravity, and vertex providers.
func LoginGoogle(ctx context.Context) (credstore.Record, error) {
	p, err := newPKCE()
	if err != nil {
		return credstore.Record{}, err
	}

	redirect := "http://" + googleRedirectAddr + googleRedirectPath

	results := make(chan callbackResult, 1)

	srv, err := listenForCallback(googleRedirectAddr, googleRedirectPath, results)
	if err != nil {
		return credstore.Record{}, fmt.Errorf("start callback listener: %w", err)
	}
	defer srv.Close()

	authURL := googleAuthURL + "?" + url.Values{
		"client_id":             {googleClientID},
		"redirect_uri":          {redirect},
		"response_type":         {"code"},
		"scope":                 {googleScopes},
		"code_challenge":        {p.Challenge},
		"code_challenge_method": {"S256"},
		"state":                 {p.State},
		"access_type":           {"offline"},
		"prompt":                {"consent"},
	}.Encode()

	promptAuthorize(authURL)

	go readPastedCode(results)

	code, err := waitForCode(ctx, results, p.State, 5*time.Minute)
	if err != nil {
		return credstore.Record{}, err
	}

	token, err := exchangeForm(ctx, googleTokenURL, url.Values{
		"client_id":     {googleClientID},
		"client_secret": {googleClientSecret},
		"code":          {code},
		"code_verifier": {p.Verifier},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {redirect},
	})
	if err != nil {
		return credstore.Record{}, err
	}

	return recordFromToken(token, ""), nil
}

// refreshGoogle exchanges the stored refresh token for a fresh access token.
func refreshGoogle(ctx context.Context, rec credstore.Record) (credstore.Record, error) {
	token, err := exchangeForm(ctx, googleTokenURL, url.Values{
		"client_id":     {googleClientID},
		"client_secret": {googleClientSecret},
		"refresh_token": {rec.Refresh},
		"grant_type":    {"refresh_token"},
	})
	if err != nil {
		return credstore.Record{}, err
	}

	next := recordFromToken(token, rec.ProjectID)
	if next.Refresh == "" {
		next.Refresh = rec.Refresh
	}

	next.EnabledModels = rec.EnabledModels

	return next, nil
}

// exchangeForm posts a form-encoded token request and returns the parsed
// body. Non-2xx responses surface the raw body text.
func exchangeForm(ctx context.Context, endpoint string, form url.Values) (gjson.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("create token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("token endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return gjson.Result{}, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	return gjson.ParseBytes(body), nil
}

// expiryMarginMs is subtracted from server-reported expiries so refresh runs
// before the token actually dies.
const expiryMarginMs = 5 * 60 * 1000

// recordFromToken builds an OAuth credential record from a standard token
// response.
func recordFromToken(token gjson.Result, projectID string) credstore.Record {
	expiresIn := token.Get("expires_in").Int()

	return credstore.Record{
		APIKey:    token.Get("access_token").String(),
		Refresh:   token.Get("refresh_token").String(),
		Expires:   time.Now().UnixMilli() + expiresIn*1000 - expiryMarginMs,
		ProjectID: projectID,
		Type:      credstore.CredentialOAuth,
	}
}
