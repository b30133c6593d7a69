package modelcatalog

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/ai-gateway/internal/credstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestDiscoverFallsBackToStaticList(t *testing.T) {
	c := New(testLogger())
	c.client = &http.Client{Transport: failingTransport{}}

	models := c.Discover(context.Background(), "openai", credstore.Record{APIKey: "sk"})

	assert.Contains(t, models, "gpt-4o-mini")
}

type failingTransport struct{}

func (failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, fmt.Errorf("no network")
}

func TestDiscoverMergesLiveModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/models", r.URL.Path)
		assert.Equal(t, "Bearer sk", r.Header.Get("Authorization"))

		fmt.Fprint(w, `{"data":[{"id":"custom-model"},{"id":"another"}]}`)
	}))
	defer srv.Close()

	c := New(testLogger())

	models := c.Discover(context.Background(), "litellm", credstore.Record{
		APIKey:    "sk",
		ProjectID: srv.URL + "/v1",
	})

	assert.Contains(t, models, "custom-model")
	assert.Contains(t, models, "another")
}

func TestFetchOpenRouterFiltersOnTools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"data":[
			{"id":"with-tools","supported_parameters":["temperature","tools"]},
			{"id":"no-tools","supported_parameters":["temperature"]}
		]}`)
	}))
	defer srv.Close()

	c := New(testLogger())

	models, err := c.fetchOpenRouter(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, []string{"with-tools"}, models)
}

func TestCodeAssistDiscoverUnionsInternalModels(t *testing.T) {
	c := New(testLogger())
	c.client = &http.Client{Transport: failingTransport{}}

	models := c.Discover(context.Background(), "gemini-cli", credstore.Record{})

	for _, internal := range codeAssistModels {
		assert.Contains(t, models, internal)
	}
}

func TestDiscoverSortedAndDeduplicated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"data":[{"id":"gpt-4o"},{"id":"aaa-first"}]}`)
	}))
	defer srv.Close()

	c := New(testLogger())

	models := c.Discover(context.Background(), "litellm", credstore.Record{ProjectID: srv.URL})

	require.NotEmpty(t, models)
	assert.Equal(t, "aaa-first", models[0])

	seen := map[string]bool{}
	for _, m := range models {
		assert.False(t, seen[m], "duplicate %s", m)
		seen[m] = true
	}
}
