package providers

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignV4ShapesAuthorizationHeader(t *testing.T) {
	payload := []byte(`{"messages":[]}`)

	req, err := http.NewRequest(http.MethodPost,
		"https://bedrock-runtime.us-east-1.amazonaws.com/model/m/invoke",
		strings.NewReader(string(payload)))
	require.NoError(t, err)

	req.Header.Set("Content-Type", "application/json")

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	signV4(req, "AKIAEXAMPLE", "secret", "us-east-1", "bedrock", payload, now)

	auth := req.Header.Get("Authorization")
	assert.True(t, strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=AKIAEXAMPLE/20250601/us-east-1/bedrock/aws4_request"))
	assert.Contains(t, auth, "SignedHeaders=")
	assert.Contains(t, auth, "Signature=")

	assert.Equal(t, "20250601T120000Z", req.Header.Get("x-amz-date"))
	assert.NotEmpty(t, req.Header.Get("x-amz-content-sha256"))
}

func TestSignV4IsDeterministic(t *testing.T) {
	payload := []byte(`{}`)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	sign := func() string {
		req, err := http.NewRequest(http.MethodPost,
			"https://bedrock-runtime.us-east-1.amazonaws.com/model/m/invoke",
			strings.NewReader("{}"))
		require.NoError(t, err)

		req.Header.Set("Content-Type", "application/json")
		signV4(req, "AKIA", "secret", "us-east-1", "bedrock", payload, now)

		return req.Header.Get("Authorization")
	}

	assert.Equal(t, sign(), sign())
}
