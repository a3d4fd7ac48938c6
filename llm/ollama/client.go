package ollama

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/aschepis/backscratcher/storyqa/llm"
)

// Options configures a client for a local or self-hosted Ollama server.
type Options struct {
	APIKey     string `env:"LLAMA_API_KEY" validate:"required"` // Sent as a bearer token to the fronting proxy
	Host       string `env:"LLAMA_HOST" validate:"required"`
	Model      string `env:"LLM_MODEL" validate:"required"`
	HTTPClient *http.Client
}

// OllamaClient implements the llm.Client interface for Ollama's API.
type OllamaClient struct {
	client *api.Client
	model  string
}

// NewOllamaClient creates a new OllamaClient.
func NewOllamaClient(opts Options) (*OllamaClient, error) {
	if err := llm.ValidateRequired("llama", opts); err != nil {
		return nil, err
	}

	baseURL, err := parseHost(opts.Host)
	if err != nil {
		return nil, &llm.Error{Type: llm.ErrorTypeConfiguration, Message: "llama: invalid LLAMA_HOST", ProviderErr: err}
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	base := httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	authed := *httpClient
	authed.Transport = &bearerTransport{base: base, token: opts.APIKey}

	return &OllamaClient{
		client: api.NewClient(baseURL, &authed),
		model:  opts.Model,
	}, nil
}

// parseHost parses a host string into a URL.
func parseHost(host string) (*url.URL, error) {
	// If host doesn't have a scheme, add http://
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return url.Parse(host)
}

// Generate implements llm.Client.
func (c *OllamaClient) Generate(ctx context.Context, prompt string, cfg llm.Config) (*llm.Response, error) {
	opts, err := llm.ParseOptions(cfg)
	if err != nil {
		return nil, err
	}

	chatReq := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{Role: "user", Content: prompt},
		},
		Stream:  new(bool), // false for non-streaming
		Options: make(map[string]interface{}),
	}
	if opts.Temperature != nil {
		chatReq.Options["temperature"] = *opts.Temperature
	}
	if opts.MaxOutputTokens != nil {
		chatReq.Options["num_predict"] = *opts.MaxOutputTokens
	}
	if opts.TopP != nil {
		chatReq.Options["top_p"] = *opts.TopP
	}
	if opts.TopK != nil {
		chatReq.Options["top_k"] = *opts.TopK
	}
	if len(opts.Stop) > 0 {
		chatReq.Options["stop"] = opts.Stop
	}

	var chatResp api.ChatResponse
	err = c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		chatResp = resp
		return nil
	})
	if err != nil {
		return nil, convertOllamaError(err)
	}

	usage := &llm.Usage{}
	if chatResp.PromptEvalCount > 0 {
		usage.InputTokens = int64(chatResp.PromptEvalCount)
	}
	if chatResp.EvalCount > 0 {
		usage.OutputTokens = int64(chatResp.EvalCount)
	}

	stopReason := "end_turn"
	if chatResp.Done {
		stopReason = "stop"
	}

	return &llm.Response{
		Text:       chatResp.Message.Content,
		Usage:      usage,
		StopReason: stopReason,
	}, nil
}

func convertOllamaError(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		msg := statusErr.ErrorMessage
		if msg == "" {
			msg = statusErr.Status
		}
		return llm.StatusError("llama", statusErr.StatusCode, msg, err)
	}
	return &llm.Error{
		Type:        llm.ErrorTypeNetwork,
		Message:     "llama: chat request failed",
		ProviderErr: err,
	}
}

// bearerTransport authenticates every request with a static token.
type bearerTransport struct {
	base  http.RoundTripper
	token string
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(req)
}

var _ llm.Client = (*OllamaClient)(nil)
