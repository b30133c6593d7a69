package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/mihaisavezi/ai-gateway/internal/credstore"
)

func TestNewPKCE(t *testing.T) {
	p, err := newPKCE()
	require.NoError(t, err)

	// 32 bytes base64url unpadded = 43 chars
	assert.Len(t, p.Verifier, 43)
	assert.NotContains(t, p.Verifier, "=")
	assert.NotEmpty(t, p.Challenge)
	assert.NotEmpty(t, p.State)

	p2, err := newPKCE()
	require.NoError(t, err)
	assert.NotEqual(t, p.Verifier, p2.Verifier)
}

func TestNormalizeResourceURL(t *testing.T) {
	tests := []struct {
		in  string
		out string
	}{
		{"portal.qwen.ai", "https://portal.qwen.ai/v1"},
		{"https://portal.qwen.ai", "https://portal.qwen.ai/v1"},
		{"https://portal.qwen.ai/v1", "https://portal.qwen.ai/v1"},
		{"https://portal.qwen.ai/v1/", "https://portal.qwen.ai/v1"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.out, normalizeResourceURL(tt.in), tt.in)
	}
}

func TestBaseFromSessionToken(t *testing.T) {
	token := "tid=abc;exp=123;proxy-ep=proxy.enterprise.githubcopilot.com;sku=x"
	assert.Equal(t, "https://api.enterprise.githubcopilot.com", baseFromSessionToken(token))

	assert.Equal(t, CopilotDefaultBase, baseFromSessionToken("tid=abc;exp=123"))
}

func TestDecodeJWTClaims(t *testing.T) {
	claims := map[string]any{
		"https://api.openai.com/auth": map[string]any{
			"chatgpt_account_id": "acct_123",
		},
	}

	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	token := "eyJhbGciOiJub25lIn0." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"

	assert.Equal(t, "acct_123", chatgptAccountID(token))
	assert.Equal(t, "", chatgptAccountID("not-a-jwt"))
}

func TestRecordFromTokenAppliesExpiryMargin(t *testing.T) {
	token := gjson.Parse(`{"access_token":"at","refresh_token":"rt","expires_in":3600}`)

	before := time.Now().UnixMilli()
	rec := recordFromToken(token, "proj")
	after := time.Now().UnixMilli()

	assert.Equal(t, "at", rec.APIKey)
	assert.Equal(t, "rt", rec.Refresh)
	assert.Equal(t, "proj", rec.ProjectID)
	assert.Equal(t, credstore.CredentialOAuth, rec.Type)

	// expiry = now + 3600s - 5min margin, and comfortably beyond now + 4min
	assert.GreaterOrEqual(t, rec.Expires, before+3600*1000-expiryMarginMs)
	assert.LessOrEqual(t, rec.Expires, after+3600*1000-expiryMarginMs)
	assert.Greater(t, rec.Expires, time.Now().UnixMilli()+4*60*1000)
}

func TestNeedsRefresh(t *testing.T) {
	assert.False(t, NeedsRefresh(credstore.Record{Type: credstore.CredentialKey}))

	soon := credstore.Record{Type: credstore.CredentialOAuth, Expires: time.Now().UnixMilli() + 60*1000}
	assert.True(t, NeedsRefresh(soon))

	later := credstore.Record{Type: credstore.CredentialOAuth, Expires: time.Now().UnixMilli() + 60*60*1000}
	assert.False(t, NeedsRefresh(later))
}

func TestRunDeviceFlowPendingThenSuccess(t *testing.T) {
	var polls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/device", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"device_code":"dc","user_code":"ABCD-1234","verification_uri":"https://example.test/activate","interval":0,"expires_in":30}`)
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, _ *http.Request) {
		if polls.Add(1) < 3 {
			fmt.Fprint(w, `{"error":"authorization_pending"}`)
			return
		}

		fmt.Fprint(w, `{"access_token":"tok","refresh_token":"rt","expires_in":3600}`)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	token, err := runDeviceFlow(context.Background(), deviceConfig{
		clientID:  "cid",
		deviceURL: srv.URL + "/device",
		tokenURL:  srv.URL + "/token",
	})
	require.NoError(t, err)

	assert.Equal(t, "tok", token.Get("access_token").String())
	assert.GreaterOrEqual(t, polls.Load(), int32(3))
}

func TestRunDeviceFlowDenied(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/device", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"device_code":"dc","user_code":"ABCD","verification_uri":"https://example.test","interval":0,"expires_in":30}`)
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"error":"access_denied"}`)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := runDeviceFlow(context.Background(), deviceConfig{
		clientID:  "cid",
		deviceURL: srv.URL + "/device",
		tokenURL:  srv.URL + "/token",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
}

func TestEmbeddedGoogleClientDecodes(t *testing.T) {
	assert.Contains(t, googleClientID, ".apps.googleusercontent.com")
	assert.NotEmpty(t, googleClientSecret)
}
