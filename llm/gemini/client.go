// Package gemini implements llm.Client on the Google Gen AI SDK (Gemini API).
package gemini

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/aschepis/backscratcher/storyqa/llm"
)

// Options configures a Gemini API client.
type Options struct {
	APIKey     string `env:"GEMINI_API_KEY" validate:"required"`
	Model      string `env:"LLM_MODEL" validate:"required"`
	BaseURL    string `env:"GEMINI_BASE_URL" validate:"omitempty,url"`
	HTTPClient *http.Client
}

// GeminiClient implements llm.Client for the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a new GeminiClient. The SDK client is built eagerly so
// credential problems surface at construction.
func NewGeminiClient(ctx context.Context, opts Options) (*GeminiClient, error) {
	if err := llm.ValidateRequired("gemini", opts); err != nil {
		return nil, err
	}

	cc := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimRight(opts.BaseURL, "/") + "/"}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, &llm.Error{Type: llm.ErrorTypeConfiguration, Message: "gemini: failed to create client", ProviderErr: err}
	}

	return &GeminiClient{client: client, model: opts.Model}, nil
}

// Generate implements llm.Client.
func (c *GeminiClient) Generate(ctx context.Context, prompt string, cfg llm.Config) (*llm.Response, error) {
	opts, err := llm.ParseOptions(cfg)
	if err != nil {
		return nil, err
	}

	gc := &genai.GenerateContentConfig{}
	if opts.Temperature != nil {
		gc.Temperature = genai.Ptr(float32(*opts.Temperature))
	}
	if opts.TopP != nil {
		gc.TopP = genai.Ptr(float32(*opts.TopP))
	}
	if opts.TopK != nil {
		gc.TopK = genai.Ptr(float32(*opts.TopK))
	}
	if opts.MaxOutputTokens != nil {
		gc.MaxOutputTokens = int32(*opts.MaxOutputTokens) //nolint:gosec // bounded by caller config
	}
	if len(opts.Stop) > 0 {
		gc.StopSequences = opts.Stop
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), gc)
	if err != nil {
		return nil, convertGeminiError(err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		reason := "no candidates in response"
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			reason = "prompt blocked: " + string(resp.PromptFeedback.BlockReason)
		}
		return nil, llm.NewProviderError("gemini: "+reason, nil)
	}

	out := &llm.Response{
		Text:       resp.Text(),
		StopReason: strings.ToLower(string(resp.Candidates[0].FinishReason)),
	}
	if resp.UsageMetadata != nil {
		out.Usage = &llm.Usage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}

// convertGeminiError maps SDK errors onto the llm taxonomy. RESOURCE_EXHAUSTED is
// how the Gemini API reports quota and rate limits.
func convertGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		status := apiErr.Code
		if apiErr.Status == "RESOURCE_EXHAUSTED" {
			status = http.StatusTooManyRequests
		}
		return llm.StatusError("gemini", status, apiErr.Message, err)
	}
	return &llm.Error{
		Type:        llm.ErrorTypeNetwork,
		Message:     "gemini: request failed",
		ProviderErr: err,
	}
}

var _ llm.Client = (*GeminiClient)(nil)
