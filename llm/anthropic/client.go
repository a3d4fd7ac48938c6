package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/aschepis/backscratcher/storyqa/llm"
)

// DefaultMaxTokens is used when the call config does not set max_output_tokens.
// The Messages API requires an explicit limit.
const DefaultMaxTokens = 4096

// Options configures an Anthropic client.
type Options struct {
	APIKey     string `env:"ANTHROPIC_API_KEY" validate:"required"`
	Model      string `env:"LLM_MODEL" validate:"required"`
	BaseURL    string `validate:"omitempty,url"`
	HTTPClient *http.Client
}

// AnthropicClient implements the llm.Client interface for Anthropic's API.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicClient creates a new AnthropicClient. SDK retries are disabled;
// rate limits surface as llm rate_limit errors for the retry wrapper to handle.
func NewAnthropicClient(opts Options) (*AnthropicClient, error) {
	if err := llm.ValidateRequired("anthropic", opts); err != nil {
		return nil, err
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	client := anthropic.NewClient(reqOpts...)
	return &AnthropicClient{
		client: &client,
		model:  opts.Model,
	}, nil
}

// Generate implements llm.Client.
func (c *AnthropicClient) Generate(ctx context.Context, prompt string, cfg llm.Config) (*llm.Response, error) {
	opts, err := llm.ParseOptions(cfg)
	if err != nil {
		return nil, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: DefaultMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if opts.MaxOutputTokens != nil {
		params.MaxTokens = int64(*opts.MaxOutputTokens)
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}
	if opts.TopP != nil {
		params.TopP = anthropic.Float(*opts.TopP)
	}
	if opts.TopK != nil {
		params.TopK = anthropic.Int(int64(*opts.TopK))
	}
	if len(opts.Stop) > 0 {
		params.StopSequences = opts.Stop
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, convertAnthropicError(err)
	}

	var text strings.Builder
	for _, blockUnion := range message.Content {
		if block, ok := blockUnion.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(block.Text)
		}
	}

	return &llm.Response{
		Text: text.String(),
		Usage: &llm.Usage{
			InputTokens:  message.Usage.InputTokens,
			OutputTokens: message.Usage.OutputTokens,
		},
		StopReason: string(message.StopReason),
	}, nil
}

func convertAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return llm.StatusError("anthropic", apiErr.StatusCode, http.StatusText(apiErr.StatusCode), err)
	}
	return &llm.Error{
		Type:        llm.ErrorTypeNetwork,
		Message:     "anthropic: request failed",
		ProviderErr: err,
	}
}

var _ llm.Client = (*AnthropicClient)(nil)
