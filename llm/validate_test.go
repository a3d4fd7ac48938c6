package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type azureLikeOptions struct {
	APIKey     string `env:"AZURE_OPENAI_API_KEY" validate:"required"`
	Endpoint   string `env:"AZURE_OPENAI_ENDPOINT" validate:"required"`
	Deployment string `env:"AZURE_OPENAI_DEPLOYMENT" validate:"required"`
	Model      string
}

func TestValidateRequired_ListsEveryMissingField(t *testing.T) {
	err := ValidateRequired("azure", azureLikeOptions{Endpoint: "https://x"})
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.Contains(t, err.Error(), "AZURE_OPENAI_API_KEY")
	assert.Contains(t, err.Error(), "AZURE_OPENAI_DEPLOYMENT")
	assert.NotContains(t, err.Error(), "AZURE_OPENAI_ENDPOINT")
}

func TestValidateRequired_OK(t *testing.T) {
	require.NoError(t, ValidateRequired("azure", azureLikeOptions{
		APIKey: "k", Endpoint: "https://x", Deployment: "d",
	}))
}
