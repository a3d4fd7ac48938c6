// Package factory turns resolved Settings into a ready-to-use, cached llm.Client.
package factory

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/aschepis/backscratcher/storyqa/config"
	"github.com/aschepis/backscratcher/storyqa/llm"
	"github.com/aschepis/backscratcher/storyqa/llm/anthropic"
	"github.com/aschepis/backscratcher/storyqa/llm/cache"
	"github.com/aschepis/backscratcher/storyqa/llm/gemini"
	"github.com/aschepis/backscratcher/storyqa/llm/mock"
	"github.com/aschepis/backscratcher/storyqa/llm/ollama"
	"github.com/aschepis/backscratcher/storyqa/llm/openai"
)

type options struct {
	cacheSize  int
	cacheTTL   time.Duration
	mockDelay  time.Duration
	httpClient *http.Client
	logger     zerolog.Logger
}

// Option configures Build.
type Option func(*options)

// WithCacheSize overrides the cache entry bound.
func WithCacheSize(n int) Option {
	return func(o *options) { o.cacheSize = n }
}

// WithCacheTTL enables cache expiry.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *options) { o.cacheTTL = ttl }
}

// WithMockDelay overrides the mock backend latency.
func WithMockDelay(d time.Duration) Option {
	return func(o *options) { o.mockDelay = d }
}

// WithHTTPClient sets the HTTP client handed to SDK-backed backends.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

type constructor func(s config.Settings, o *options) (llm.Client, error)

var registry = map[config.Provider]constructor{
	config.ProviderGemini: func(s config.Settings, o *options) (llm.Client, error) {
		return gemini.NewGeminiClient(context.Background(), gemini.Options{
			APIKey:     s.Credential,
			Model:      s.Model,
			BaseURL:    s.Extra(config.ExtraBaseURL),
			HTTPClient: o.httpClient,
		})
	},
	config.ProviderOpenAI: func(s config.Settings, o *options) (llm.Client, error) {
		return openai.NewOpenAIClient(openai.Options{
			APIKey:       s.Credential,
			Model:        s.Model,
			BaseURL:      s.Extra(config.ExtraBaseURL),
			Organization: s.Extra(config.ExtraOrganization),
			ProjectID:    s.Extra(config.ExtraProjectID),
			HTTPClient:   o.httpClient,
		})
	},
	config.ProviderAzure: func(s config.Settings, o *options) (llm.Client, error) {
		return openai.NewAzureClient(openai.AzureOptions{
			APIKey:     s.Credential,
			Endpoint:   s.Extra(config.ExtraEndpoint),
			Deployment: s.Extra(config.ExtraDeployment),
			APIVersion: s.Extra(config.ExtraAPIVersion),
			Model:      s.Model,
			HTTPClient: o.httpClient,
		})
	},
	config.ProviderLlama: func(s config.Settings, o *options) (llm.Client, error) {
		host := s.Extra(config.ExtraHost)
		if host == "" {
			host = config.DefaultLlamaHost
		}
		return ollama.NewOllamaClient(ollama.Options{
			APIKey:     s.Credential,
			Host:       host,
			Model:      s.Model,
			HTTPClient: o.httpClient,
		})
	},
	config.ProviderAnthropic: func(s config.Settings, o *options) (llm.Client, error) {
		return anthropic.NewAnthropicClient(anthropic.Options{
			APIKey:     s.Credential,
			Model:      s.Model,
			HTTPClient: o.httpClient,
		})
	},
	config.ProviderMock: func(_ config.Settings, o *options) (llm.Client, error) {
		return mock.New(mock.WithDelay(o.mockDelay)), nil
	},
}

// Providers returns the registered provider ids, sorted.
func Providers() []string {
	ids := lo.Map(lo.Keys(registry), func(p config.Provider, _ int) string { return string(p) })
	sort.Strings(ids)
	return ids
}

// Build constructs the backend named by s.Provider and wraps it in the response cache.
func Build(s config.Settings, opts ...Option) (*cache.Client, error) {
	o := &options{
		cacheSize: cache.DefaultMaxSize,
		mockDelay: mock.DefaultDelay,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}

	p, _ := config.ParseProvider(string(s.Provider))
	ctor, ok := registry[p]
	if !ok {
		return nil, llm.NewConfigurationError(fmt.Sprintf("unsupported provider %q (supported: %v)", s.Provider, Providers()))
	}

	backend, err := ctor(s, o)
	if err != nil {
		return nil, err
	}

	o.logger.Info().
		Str("component", "llm_factory").
		Str("provider", string(p)).
		Str("model", s.Model).
		Msg("llm backend ready")

	return cache.New(backend,
		cache.WithMaxSize(o.cacheSize),
		cache.WithTTL(o.cacheTTL),
		cache.WithLogger(o.logger),
	), nil
}
