package history

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aschepis/backscratcher/storyqa/pipeline"
)

type tickClock struct{ t time.Time }

func (c *tickClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func openStore(t *testing.T) *Store {
	t.Helper()
	clock := &tickClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	s, err := Open(filepath.Join(t.TempDir(), "runs", "storyqa.db"), zerolog.Nop(), WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func analysisState(traceID string) *pipeline.State {
	return &pipeline.State{
		TraceID:        traceID,
		UserStory:      "Como usuário, quero exportar relatórios.",
		Analysis:       pipeline.Ok{Value: json.RawMessage(`{"avaliacao_geral":"ok"}`)},
		AnalysisReport: pipeline.Report{Markdown: "# Relatório"},
	}
}

func TestSaveAndGet_RoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	in := analysisState("trace-1")
	in.TestPlan = pipeline.Failed{Reason: "rate limit", Raw: "texto"}
	in.TestPlanReport = pipeline.FailedReport()
	require.NoError(t, s.Save(ctx, in))

	got, err := s.Get(ctx, "trace-1")
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestSave_Upserts(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	st := analysisState("trace-1")
	require.NoError(t, s.Save(ctx, st))

	st.TestPlan = pipeline.Ok{Value: json.RawMessage(`{"casos_de_teste":[]}`)}
	st.TestPlanReport = pipeline.Report{Markdown: "# Plano"}
	require.NoError(t, s.Save(ctx, st))

	runs, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].AnalysisOK)
	assert.True(t, runs[0].TestPlanOK)
	assert.True(t, runs[0].UpdatedAt.After(runs[0].CreatedAt))

	got, err := s.Get(ctx, "trace-1")
	require.NoError(t, err)
	assert.Equal(t, "# Plano", got.TestPlanReport.Markdown)
}

func TestSave_RequiresTraceID(t *testing.T) {
	s := openStore(t)
	require.Error(t, s.Save(context.Background(), &pipeline.State{UserStory: "x"}))
	require.Error(t, s.Save(context.Background(), nil))
}

func TestGet_NotFound(t *testing.T) {
	s := openStore(t)
	_, err := s.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestList_NewestFirstWithLimit(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Save(ctx, analysisState(id)))
	}

	runs, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].TraceID)
	assert.Equal(t, "b", runs[1].TraceID)
	assert.False(t, runs[0].TestPlanOK)

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
