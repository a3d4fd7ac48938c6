package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aschepis/backscratcher/storyqa/llm"
)

func TestNewOllamaClient_ListsMissingFields(t *testing.T) {
	_, err := NewOllamaClient(Options{})
	require.Error(t, err)
	assert.True(t, llm.IsConfigurationError(err))
	for _, name := range []string{"LLAMA_API_KEY", "LLAMA_HOST", "LLM_MODEL"} {
		assert.Contains(t, err.Error(), name)
	}
}

func TestParseHost(t *testing.T) {
	u, err := parseHost("localhost:11434")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:11434", u.String())

	u, err = parseHost("https://llm.internal")
	require.NoError(t, err)
	assert.Equal(t, "https", u.Scheme)
}

func TestGenerate_Success(t *testing.T) {
	var gotAuth string
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte(`{"model":"llama3.2","created_at":"2024-01-01T00:00:00Z","message":{"role":"assistant","content":"olá"},"done":true,"prompt_eval_count":3,"eval_count":4}` + "\n"))
	}))
	defer srv.Close()

	c, err := NewOllamaClient(Options{APIKey: "secret", Host: srv.URL, Model: "llama3.2"})
	require.NoError(t, err)

	resp, err := c.Generate(context.Background(), "hi", llm.Config{llm.ConfigTemperature: 0.1, llm.ConfigMaxOutputTokens: 32, llm.ConfigTopK: 20})
	require.NoError(t, err)
	assert.Equal(t, "olá", resp.Text)
	assert.Equal(t, "stop", resp.StopReason)
	assert.EqualValues(t, 3, resp.Usage.InputTokens)
	assert.EqualValues(t, 4, resp.Usage.OutputTokens)

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "llama3.2", gotReq["model"])
	assert.Equal(t, false, gotReq["stream"])
	options, ok := gotReq["options"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 32, options["num_predict"])
	assert.EqualValues(t, 20, options["top_k"])
}

func TestGenerate_StatusErrors(t *testing.T) {
	tests := []struct {
		status    int
		rateLimit bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, false},
		{http.StatusNotFound, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"backend says no"}`))
			}))
			defer srv.Close()

			c, err := NewOllamaClient(Options{APIKey: "k", Host: srv.URL, Model: "m"})
			require.NoError(t, err)

			_, err = c.Generate(context.Background(), "hi", nil)
			require.Error(t, err)
			assert.Equal(t, tt.rateLimit, llm.IsRateLimitError(err))
			var llmErr *llm.Error
			require.ErrorAs(t, err, &llmErr)
			assert.Equal(t, tt.status, llmErr.StatusCode)
		})
	}
}
