package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptions(t *testing.T) {
	opts, err := ParseOptions(Config{
		ConfigTemperature:     0.2,
		ConfigMaxOutputTokens: 512,
		ConfigTopP:            json.Number("0.9"),
		ConfigTopK:            float64(40),
		ConfigStop:            []any{"END"},
		ConfigStep:            "analyze",
	})
	require.NoError(t, err)
	require.NotNil(t, opts.Temperature)
	assert.InDelta(t, 0.2, *opts.Temperature, 1e-9)
	require.NotNil(t, opts.MaxOutputTokens)
	assert.Equal(t, 512, *opts.MaxOutputTokens)
	require.NotNil(t, opts.TopP)
	assert.InDelta(t, 0.9, *opts.TopP, 1e-9)
	require.NotNil(t, opts.TopK)
	assert.Equal(t, 40, *opts.TopK)
	assert.Equal(t, []string{"END"}, opts.Stop)
	assert.Equal(t, "analyze", opts.Step)
}

func TestParseOptions_Empty(t *testing.T) {
	opts, err := ParseOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, Options{}, opts)
}

func TestParseOptions_RejectsUnknownAndMistyped(t *testing.T) {
	_, err := ParseOptions(Config{"seed": 1, ConfigTopK: 1.5, ConfigTemperature: "hot"})
	require.Error(t, err)

	var llmErr *Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, ErrorTypeInvalidRequest, llmErr.Type)
	assert.Contains(t, err.Error(), `"seed"`)
	assert.Contains(t, err.Error(), "top_k")
	assert.Contains(t, err.Error(), "temperature")
}

func TestConfigWithDoesNotMutate(t *testing.T) {
	base := Config{ConfigTemperature: 0.1}
	next := base.With(ConfigStep, "create_plan")
	assert.Len(t, base, 1)
	assert.Equal(t, "create_plan", next[ConfigStep])

	var empty Config
	assert.Equal(t, Config{ConfigStep: "x"}, empty.With(ConfigStep, "x"))
	assert.Nil(t, Config{}.Clone())
}

func TestResponseGetTextNilSafe(t *testing.T) {
	var resp *Response
	assert.Equal(t, "", resp.GetText())
	assert.Equal(t, "hi", (&Response{Text: "hi"}).GetText())
}
