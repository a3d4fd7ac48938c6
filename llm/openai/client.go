package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aschepis/backscratcher/storyqa/llm"
)

// Options configures a client for the public OpenAI API or any OpenAI-compatible endpoint.
type Options struct {
	APIKey       string `env:"OPENAI_API_KEY" validate:"required"`
	Model        string `env:"LLM_MODEL" validate:"required"`
	BaseURL      string `env:"OPENAI_BASE_URL" validate:"omitempty,url"`
	Organization string `env:"OPENAI_ORG_ID"`
	ProjectID    string `env:"OPENAI_PROJECT_ID"`
	HTTPClient   *http.Client
}

// AzureOptions configures a client for an Azure OpenAI deployment.
type AzureOptions struct {
	APIKey     string `env:"AZURE_OPENAI_API_KEY" validate:"required"`
	Endpoint   string `env:"AZURE_OPENAI_ENDPOINT" validate:"required,url"`
	Deployment string `env:"AZURE_OPENAI_DEPLOYMENT" validate:"required"`
	APIVersion string `env:"AZURE_OPENAI_API_VERSION" validate:"required"`
	Model      string `env:"LLM_MODEL"`
	HTTPClient *http.Client
}

// OpenAIClient implements llm.Client over chat completions.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	backend string // "openai" or "azure", used in error messages
}

// NewOpenAIClient creates a client for the OpenAI API.
func NewOpenAIClient(opts Options) (*OpenAIClient, error) {
	if err := llm.ValidateRequired("openai", opts); err != nil {
		return nil, err
	}

	config := openai.DefaultConfig(opts.APIKey)

	// Set custom base URL if provided
	if opts.BaseURL != "" {
		config.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}

	// Set organization if provided
	if opts.Organization != "" {
		config.OrgID = opts.Organization
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if opts.ProjectID != "" {
		httpClient = withHeader(httpClient, "OpenAI-Project", opts.ProjectID)
	}
	config.HTTPClient = httpClient

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(config),
		model:   opts.Model,
		backend: "openai",
	}, nil
}

// NewAzureClient creates a client bound to one Azure OpenAI deployment.
func NewAzureClient(opts AzureOptions) (*OpenAIClient, error) {
	if err := llm.ValidateRequired("azure", opts); err != nil {
		return nil, err
	}

	config := openai.DefaultAzureConfig(opts.APIKey, strings.TrimRight(opts.Endpoint, "/"))
	config.APIVersion = opts.APIVersion
	deployment := opts.Deployment
	config.AzureModelMapperFunc = func(string) string { return deployment }
	if opts.HTTPClient != nil {
		config.HTTPClient = opts.HTTPClient
	}

	model := opts.Model
	if model == "" {
		model = deployment
	}

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(config),
		model:   model,
		backend: "azure",
	}, nil
}

// Generate implements llm.Client.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, cfg llm.Config) (*llm.Response, error) {
	opts, err := llm.ParseOptions(cfg)
	if err != nil {
		return nil, err
	}
	if opts.TopK != nil {
		return nil, llm.NewInvalidRequestError(fmt.Sprintf("unsupported configuration: %s does not support %s", c.backend, llm.ConfigTopK), nil)
	}

	chatReq := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if opts.Temperature != nil {
		chatReq.Temperature = float32(*opts.Temperature)
	}
	if opts.TopP != nil {
		chatReq.TopP = float32(*opts.TopP)
	}
	if opts.MaxOutputTokens != nil {
		chatReq.MaxTokens = *opts.MaxOutputTokens
	}
	if len(opts.Stop) > 0 {
		chatReq.Stop = opts.Stop
	}

	chatResp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, convertOpenAIError(c.backend, err)
	}

	if len(chatResp.Choices) == 0 {
		return nil, llm.NewProviderError(c.backend+": no choices in response", nil)
	}
	choice := chatResp.Choices[0]

	// Determine stop reason
	stopReason := "stop"
	switch choice.FinishReason {
	case openai.FinishReasonLength:
		stopReason = "max_tokens"
	case openai.FinishReasonContentFilter:
		stopReason = "content_filter"
	default:
		// leave as default "stop"
	}

	return &llm.Response{
		Text: choice.Message.Content,
		Usage: &llm.Usage{
			InputTokens:  int64(chatResp.Usage.PromptTokens),
			OutputTokens: int64(chatResp.Usage.CompletionTokens),
		},
		StopReason: stopReason,
	}, nil
}

// convertOpenAIError converts go-openai errors to llm.Error types.
func convertOpenAIError(backend string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return llm.StatusError(backend, apiErr.HTTPStatusCode, apiErr.Message, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return llm.StatusError(backend, reqErr.HTTPStatusCode, http.StatusText(reqErr.HTTPStatusCode), err)
	}

	return &llm.Error{
		Type:        llm.ErrorTypeNetwork,
		Message:     backend + ": request failed",
		ProviderErr: err,
	}
}

// headerTransport adds a fixed header to every request.
type headerTransport struct {
	base  http.RoundTripper
	key   string
	value string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set(t.key, t.value)
	return t.base.RoundTrip(req)
}

func withHeader(client *http.Client, key, value string) *http.Client {
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	clone := *client
	clone.Transport = &headerTransport{base: base, key: key, value: value}
	return &clone
}

var _ llm.Client = (*OpenAIClient)(nil)
