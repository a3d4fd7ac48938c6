package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/aschepis/backscratcher/storyqa/llm"
)

// Provider identifies a backend. Identifiers are lower case; parsing is case-insensitive.
type Provider string

const (
	ProviderGemini    Provider = "gemini"
	ProviderOpenAI    Provider = "openai"
	ProviderAzure     Provider = "azure"
	ProviderLlama     Provider = "llama"
	ProviderAnthropic Provider = "anthropic"
	ProviderMock      Provider = "mock"
)

// Environment variables read by FromEnvironment.
const (
	EnvProvider = "LLM_PROVIDER"
	EnvModel    = "LLM_MODEL"
	EnvAPIKey   = "LLM_API_KEY"

	EnvGeminiAPIKey  = "GEMINI_API_KEY"
	EnvGeminiBaseURL = "GEMINI_BASE_URL"

	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvOpenAIBaseURL   = "OPENAI_BASE_URL"
	EnvOpenAIOrg       = "OPENAI_ORG_ID"
	EnvOpenAIProjectID = "OPENAI_PROJECT_ID"

	EnvAzureAPIKey     = "AZURE_OPENAI_API_KEY"
	EnvAzureEndpoint   = "AZURE_OPENAI_ENDPOINT"
	EnvAzureDeployment = "AZURE_OPENAI_DEPLOYMENT"
	EnvAzureAPIVersion = "AZURE_OPENAI_API_VERSION"

	EnvLlamaAPIKey = "LLAMA_API_KEY"
	EnvLlamaHost   = "LLAMA_HOST"

	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
)

// Keys of Settings.Extras.
const (
	ExtraBaseURL      = "base_url"
	ExtraOrganization = "organization"
	ExtraProjectID    = "project_id"
	ExtraEndpoint     = "endpoint"
	ExtraDeployment   = "deployment"
	ExtraAPIVersion   = "api_version"
	ExtraHost         = "host"
)

const (
	DefaultProvider  = ProviderGemini
	DefaultModel     = "gemini-2.0-flash"
	DefaultLlamaHost = "http://localhost:11434"
)

// credentialEnv is the backend-specific credential variable for each provider.
var credentialEnv = map[Provider]string{
	ProviderGemini:    EnvGeminiAPIKey,
	ProviderOpenAI:    EnvOpenAIAPIKey,
	ProviderAzure:     EnvAzureAPIKey,
	ProviderLlama:     EnvLlamaAPIKey,
	ProviderAnthropic: EnvAnthropicAPIKey,
}

// extraEnv lists, per provider, the extras it reads and the variable each comes from.
var extraEnv = map[Provider]map[string]string{
	ProviderGemini: {
		ExtraBaseURL: EnvGeminiBaseURL,
	},
	ProviderOpenAI: {
		ExtraBaseURL:      EnvOpenAIBaseURL,
		ExtraOrganization: EnvOpenAIOrg,
		ExtraProjectID:    EnvOpenAIProjectID,
	},
	ProviderAzure: {
		ExtraEndpoint:   EnvAzureEndpoint,
		ExtraDeployment: EnvAzureDeployment,
		ExtraAPIVersion: EnvAzureAPIVersion,
	},
	ProviderLlama: {
		ExtraHost: EnvLlamaHost,
	},
}

// SupportedProviders returns every known provider id, sorted.
func SupportedProviders() []Provider {
	providers := []Provider{ProviderGemini, ProviderOpenAI, ProviderAzure, ProviderLlama, ProviderAnthropic, ProviderMock}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })
	return providers
}

// ParseProvider normalizes id and reports whether it names a known provider.
func ParseProvider(id string) (Provider, bool) {
	p := Provider(strings.ToLower(strings.TrimSpace(id)))
	return p, lo.Contains(SupportedProviders(), p)
}

// CredentialEnv returns the provider-specific credential variable, or "" for the mock.
func CredentialEnv(p Provider) string {
	return credentialEnv[p]
}

// Settings selects and configures one backend. Treat it as immutable; use Extra to read extras.
type Settings struct {
	Provider   Provider `validate:"required"`
	Model      string   `env:"LLM_MODEL" validate:"required"`
	Credential string   `validate:"required_unless=Provider mock"`
	Extras     map[string]string
}

// Extra returns the named backend-specific value.
func (s Settings) Extra(key string) string {
	return s.Extras[key]
}

// String masks the credential.
func (s Settings) String() string {
	masked := ""
	if s.Credential != "" {
		masked = "****"
	}
	return fmt.Sprintf("Settings{provider=%s model=%s credential=%s extras=%v}", s.Provider, s.Model, masked, s.Extras)
}

// New builds and validates Settings from explicit values.
func New(provider, model, credential string, extras map[string]string) (Settings, error) {
	p, _ := ParseProvider(provider)
	s := Settings{
		Provider:   p,
		Model:      strings.TrimSpace(model),
		Credential: strings.TrimSpace(credential),
		Extras:     copyExtras(extras),
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// FromEnvironment resolves Settings from the process environment.
func FromEnvironment() (Settings, error) {
	return FromLookup(os.LookupEnv)
}

// FromLookup resolves Settings using lookup to read variables.
func FromLookup(lookup func(string) (string, bool)) (Settings, error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	providerID := get(EnvProvider)
	if providerID == "" {
		providerID = string(DefaultProvider)
	}
	model := get(EnvModel)
	if model == "" {
		model = DefaultModel
	}

	p, _ := ParseProvider(providerID)

	credential := get(EnvAPIKey)
	if credential == "" && credentialEnv[p] != "" {
		credential = get(credentialEnv[p])
	}

	extras := make(map[string]string)
	for key, env := range extraEnv[p] {
		if v := get(env); v != "" {
			extras[key] = v
		}
	}
	if p == ProviderLlama && extras[ExtraHost] == "" {
		extras[ExtraHost] = DefaultLlamaHost
	}

	s := Settings{
		Provider:   p,
		Model:      model,
		Credential: credential,
		Extras:     extras,
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks the Settings invariants. Failures are configuration errors whose
// message names the variable the caller should set.
func (s Settings) Validate() error {
	if _, ok := ParseProvider(string(s.Provider)); !ok {
		supported := lo.Map(SupportedProviders(), func(p Provider, _ int) string { return string(p) })
		return llm.NewConfigurationError(fmt.Sprintf("unsupported provider %q (set %s to one of: %s)",
			s.Provider, EnvProvider, strings.Join(supported, ", ")))
	}

	err := llm.Validator().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return llm.NewConfigurationError(fmt.Sprintf("invalid settings: %v", err))
	}

	messages := lo.Map(verrs, func(fe validator.FieldError, _ int) string {
		switch fe.StructField() {
		case "Credential":
			return fmt.Sprintf("missing credential for provider %q: set %s (or %s)", s.Provider, credentialEnv[s.Provider], EnvAPIKey)
		case "Model":
			return fmt.Sprintf("missing model: set %s", EnvModel)
		default:
			return fmt.Sprintf("invalid %s", fe.Field())
		}
	})
	return llm.NewConfigurationError(strings.Join(messages, "; "))
}

func copyExtras(extras map[string]string) map[string]string {
	out := make(map[string]string, len(extras))
	for k, v := range extras {
		out[k] = v
	}
	return out
}
