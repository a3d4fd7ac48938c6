package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aschepis/backscratcher/storyqa/events"
	"github.com/aschepis/backscratcher/storyqa/history"
	"github.com/aschepis/backscratcher/storyqa/llm"
	"github.com/aschepis/backscratcher/storyqa/pipeline"
)

const story = "Como cliente, quero redefinir minha senha por e-mail para recuperar o acesso."

func envLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func newMockApp(t *testing.T, opts Options) *App {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("mock:\n  delay: 1ms\n"), 0o600))

	opts.Logger = zerolog.Nop()
	opts.Lookup = envLookup(map[string]string{"LLM_PROVIDER": "mock"})
	opts.ConfigPath = cfgPath
	if opts.DBPath == "" {
		opts.DBPath = filepath.Join(dir, "storyqa.db")
	}

	a, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNew_MissingCredential(t *testing.T) {
	_, err := New(Options{
		Logger:     zerolog.Nop(),
		Lookup:     envLookup(map[string]string{"LLM_PROVIDER": "openai"}),
		ConfigPath: filepath.Join(t.TempDir(), "none.yaml"),
		NoHistory:  true,
	})
	require.Error(t, err)
	assert.True(t, llm.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestNew_UsesConfigFile(t *testing.T) {
	a := newMockApp(t, Options{})
	assert.Equal(t, "mock", string(a.Settings.Provider))
	assert.Equal(t, 3, a.Client.MaxAttempts())
	require.NotNil(t, a.History)
}

func TestAnalyzeThenPlan(t *testing.T) {
	rec := &events.Recorder{}
	a := newMockApp(t, Options{Sinks: []events.Sink{rec}})
	ctx := context.Background()

	analysis, err := a.Analyze(ctx, story)
	require.NoError(t, err)
	require.True(t, pipeline.IsOk(analysis.Analysis))

	stored, err := a.History.Get(ctx, analysis.TraceID)
	require.NoError(t, err)
	assert.Equal(t, analysis, stored)

	plan, err := a.PlanFromTrace(ctx, analysis.TraceID)
	require.NoError(t, err)
	assert.Equal(t, analysis.TraceID, plan.TraceID)
	assert.True(t, pipeline.IsOk(plan.TestPlan))
	assert.False(t, plan.TestPlanReport.Failed)

	runs, err := a.History.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].TestPlanOK)

	assert.Equal(t, 4, rec.Count(events.LLMSuccess))

	families, err := a.Registry.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["storyqa_llm_events_total"])
}

func TestPlanFromStory(t *testing.T) {
	a := newMockApp(t, Options{})
	st, err := a.PlanFromStory(context.Background(), story)
	require.NoError(t, err)
	assert.True(t, pipeline.IsOk(st.Analysis))
	assert.True(t, pipeline.IsOk(st.TestPlan))
}

func TestPlanFromTrace_Unknown(t *testing.T) {
	a := newMockApp(t, Options{})
	_, err := a.PlanFromTrace(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, history.ErrNotFound)
}

func TestPlanFromTrace_NoHistory(t *testing.T) {
	a := newMockApp(t, Options{NoHistory: true})
	assert.Nil(t, a.History)

	_, err := a.PlanFromTrace(context.Background(), "x")
	require.ErrorIs(t, err, ErrNoHistory)

	st, err := a.Analyze(context.Background(), story)
	require.NoError(t, err)
	assert.NotEmpty(t, st.TraceID)
}
