package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aschepis/backscratcher/storyqa/events"
	"github.com/aschepis/backscratcher/storyqa/llm"
	"github.com/aschepis/backscratcher/storyqa/llm/mock"
	"github.com/aschepis/backscratcher/storyqa/llm/retry"
)

const loginStory = "Como usuário cadastrado, quero fazer login com e-mail e senha para acessar meu painel."

// stepClient answers by step hint and records every prompt.
type stepClient struct {
	mu      sync.Mutex
	answers map[string]string
	prompts map[string][]string
	calls   atomic.Int64
}

func newStepClient(answers map[string]string) *stepClient {
	return &stepClient{answers: answers, prompts: map[string][]string{}}
}

func (c *stepClient) Generate(_ context.Context, prompt string, cfg llm.Config) (*llm.Response, error) {
	c.calls.Add(1)
	step, _ := cfg[llm.ConfigStep].(string)
	c.mu.Lock()
	c.prompts[step] = append(c.prompts[step], prompt)
	c.mu.Unlock()
	return &llm.Response{Text: c.answers[step]}, nil
}

func newRunner(client llm.Client, opts ...Option) *Runner {
	return NewRunner(retry.New(client, retry.WithMaxAttempts(1)), opts...)
}

func TestRunAnalysis_MockEndToEnd(t *testing.T) {
	backend := mock.New(mock.WithDelay(0))
	r := newRunner(backend)

	s := r.RunAnalysis(context.Background(), loginStory)

	assert.NotEmpty(t, s.TraceID)
	assert.Equal(t, loginStory, s.UserStory)
	analysis, ok := s.Analysis.(Ok)
	require.True(t, ok, "analysis: %#v", s.Analysis)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(analysis.Value, &parsed))
	assert.Contains(t, parsed, "avaliacao_geral")
	assert.Contains(t, parsed, "analise_invest")

	assert.False(t, s.AnalysisReport.Failed)
	assert.Contains(t, s.AnalysisReport.Markdown, "Relatório")
	assert.Nil(t, s.TestPlan)
	assert.True(t, s.TestPlanReport.Empty())
	assert.Equal(t, 2, backend.Calls())
}

func TestRunTestPlan_MockEndToEnd(t *testing.T) {
	backend := mock.New(mock.WithDelay(0))
	r := newRunner(backend)

	analysis := r.RunAnalysis(context.Background(), loginStory)
	plan := r.RunTestPlan(context.Background(), analysis)

	assert.Equal(t, analysis.TraceID, plan.TraceID)
	assert.Nil(t, analysis.TestPlan, "input state must not be modified")

	value, ok := plan.TestPlan.(Ok)
	require.True(t, ok, "test plan: %#v", plan.TestPlan)
	var parsed map[string]any
	require.NoError(t, json.Unmarshal(value.Value, &parsed), "fenced JSON must be extracted")
	assert.Contains(t, parsed, "casos_de_teste")

	assert.False(t, plan.TestPlanReport.Failed)
	assert.NotEmpty(t, plan.TestPlanReport.Markdown)
	assert.Equal(t, 4, backend.Calls())
}

func TestRunAnalysis_PlainJSONResponse(t *testing.T) {
	backend := llm.ClientFunc(func(context.Context, string, llm.Config) (*llm.Response, error) {
		return &llm.Response{Text: `{"avaliacao_geral":"ok"}`}, nil
	})
	s := newRunner(backend).RunAnalysis(context.Background(), "história qualquer")

	require.IsType(t, Ok{}, s.Analysis)
	assert.JSONEq(t, `{"avaliacao_geral":"ok"}`, string(s.Analysis.(Ok).Value))
	assert.Equal(t, `{"avaliacao_geral":"ok"}`, s.AnalysisReport.Markdown)
}

func TestRunAnalysis_JSONInsideProse(t *testing.T) {
	backend := newStepClient(map[string]string{
		NodeAnalyze:       "Claro! Segue a análise:\n{\"avaliacao_geral\": \"boa\"}\nEspero ter ajudado.",
		NodeCompileReport: "# Relatório",
	})
	s := newRunner(backend).RunAnalysis(context.Background(), loginStory)

	require.True(t, IsOk(s.Analysis))
	assert.JSONEq(t, `{"avaliacao_geral": "boa"}`, string(s.Analysis.(Ok).Value))
}

func TestRunAnalysis_FatalBackendBecomesData(t *testing.T) {
	var calls atomic.Int64
	backend := llm.ClientFunc(func(context.Context, string, llm.Config) (*llm.Response, error) {
		calls.Add(1)
		return nil, llm.StatusError("gemini", 500, "internal", nil)
	})

	var s *State
	require.NotPanics(t, func() {
		s = newRunner(backend).RunAnalysis(context.Background(), loginStory)
	})

	failed, ok := s.Analysis.(Failed)
	require.True(t, ok)
	assert.Contains(t, failed.Reason, "internal")
	assert.True(t, s.AnalysisReport.Failed)
	assert.Equal(t, ReportUnavailable, s.AnalysisReport.Markdown)
	assert.EqualValues(t, 1, calls.Load(), "report must not call the backend after a failed analysis")

	out, err := json.Marshal(s)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Contains(t, decoded["analysis_result"], "erro")
}

func TestRunAnalysis_NonJSONResponse(t *testing.T) {
	backend := newStepClient(map[string]string{NodeAnalyze: "não sei responder"})
	s := newRunner(backend).RunAnalysis(context.Background(), loginStory)

	failed, ok := s.Analysis.(Failed)
	require.True(t, ok)
	assert.Equal(t, ReasonNotJSON, failed.Reason)
	assert.Equal(t, "não sei responder", failed.Raw)
	assert.True(t, s.AnalysisReport.Failed)
}

func TestRunAnalysis_IndentedJSONSurvivesRoundTrip(t *testing.T) {
	backend := newStepClient(map[string]string{
		NodeAnalyze:       "{\n  \"avaliacao_geral\": \"ok & <claro>\",\n  \"pontos\": [\n    1,\n    2\n  ]\n}",
		NodeCompileReport: "# Relatório",
	})
	s := newRunner(backend).RunAnalysis(context.Background(), loginStory)

	require.True(t, IsOk(s.Analysis))
	assert.JSONEq(t, `{"avaliacao_geral":"ok & <claro>","pontos":[1,2]}`, string(s.Analysis.(Ok).Value))
	assert.NotContains(t, string(s.Analysis.(Ok).Value), "\n")

	out, err := json.Marshal(s)
	require.NoError(t, err)
	var decoded State
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, s, &decoded)
}

func TestRunAnalysis_FencedScalarIsAccepted(t *testing.T) {
	backend := newStepClient(map[string]string{
		NodeAnalyze:       "Resultado:\n```json\n42\n```",
		NodeCompileReport: "# Relatório",
	})
	s := newRunner(backend).RunAnalysis(context.Background(), loginStory)

	require.True(t, IsOk(s.Analysis), "analysis: %#v", s.Analysis)
	assert.Equal(t, "42", string(s.Analysis.(Ok).Value))
}

func TestRunAnalysis_EmptyResponse(t *testing.T) {
	backend := newStepClient(map[string]string{NodeAnalyze: "  \n "})
	s := newRunner(backend).RunAnalysis(context.Background(), loginStory)

	failed, ok := s.Analysis.(Failed)
	require.True(t, ok)
	assert.Equal(t, ReasonEmptyResponse, failed.Reason)
	assert.Empty(t, failed.Raw)
	assert.True(t, s.AnalysisReport.Failed)
}

func TestRunAnalysis_EmptyStory(t *testing.T) {
	for _, story := range []string{"", "   \n\t"} {
		backend := newStepClient(nil)
		s := newRunner(backend).RunAnalysis(context.Background(), story)

		assert.Equal(t, Failed{Reason: ReasonEmptyStory}, s.Analysis)
		assert.True(t, s.AnalysisReport.Failed)
		assert.EqualValues(t, 0, backend.calls.Load())
	}
}

func TestRunAnalysis_EmptyReportIsPlaceholder(t *testing.T) {
	backend := newStepClient(map[string]string{NodeAnalyze: `{"a":1}`, NodeCompileReport: "  \n"})
	s := newRunner(backend).RunAnalysis(context.Background(), loginStory)

	assert.True(t, IsOk(s.Analysis))
	assert.Equal(t, FailedReport(), s.AnalysisReport)
}

func TestRunAnalysis_PromptsCarryStoryAndAnalysis(t *testing.T) {
	backend := newStepClient(map[string]string{
		NodeAnalyze:       `{"avaliacao_geral":"marcador-unico"}`,
		NodeCompileReport: "# ok",
	})
	newRunner(backend).RunAnalysis(context.Background(), loginStory)

	require.Len(t, backend.prompts[NodeAnalyze], 1)
	assert.Contains(t, backend.prompts[NodeAnalyze][0], loginStory)
	require.Len(t, backend.prompts[NodeCompileReport], 1)
	assert.Contains(t, backend.prompts[NodeCompileReport][0], loginStory)
	assert.Contains(t, backend.prompts[NodeCompileReport][0], "marcador-unico")
}

func TestRunTestPlan_FailedAnalysisSkipsBackend(t *testing.T) {
	backend := newStepClient(nil)
	in := &State{TraceID: "t-1", UserStory: loginStory, Analysis: Failed{Reason: "boom"}, AnalysisReport: FailedReport()}

	out := newRunner(backend).RunTestPlan(context.Background(), in)

	assert.Equal(t, Failed{Reason: ReasonAnalysisUnavailable}, out.TestPlan)
	assert.True(t, out.TestPlanReport.Failed)
	assert.EqualValues(t, 0, backend.calls.Load())
}

func TestRunTestPlan_AssignsTraceID(t *testing.T) {
	backend := newStepClient(map[string]string{NodeCreatePlan: `[]`, NodeCompilePlanReport: "# plano"})
	in := &State{UserStory: loginStory, Analysis: Ok{Value: json.RawMessage(`{}`)}}

	out := newRunner(backend).RunTestPlan(context.Background(), in)
	assert.NotEmpty(t, out.TraceID)
	assert.Empty(t, in.TraceID)

	nilOut := newRunner(backend).RunTestPlan(context.Background(), nil)
	assert.NotEmpty(t, nilOut.TraceID)
	assert.Equal(t, Failed{Reason: ReasonEmptyStory}, nilOut.TestPlan)
}

func TestRunTestPlan_SummaryLimit(t *testing.T) {
	cases := make([]map[string]any, 0, 15)
	for i := 1; i <= 15; i++ {
		cases = append(cases, map[string]any{
			"id":         fmt.Sprintf("CT-%03d", i),
			"titulo":     fmt.Sprintf("Caso %d", i),
			"prioridade": "Alta",
			"passos":     []string{"passo-secreto"},
		})
	}
	planJSON, err := json.Marshal(map[string]any{"casos_de_teste": cases})
	require.NoError(t, err)

	tests := []struct {
		name  string
		opts  []Option
		shown int
	}{
		{"default", nil, DefaultPlanSummaryLimit},
		{"custom", []Option{WithPlanSummaryLimit(3)}, 3},
		{"above total", []Option{WithPlanSummaryLimit(50)}, 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newStepClient(map[string]string{NodeCreatePlan: string(planJSON), NodeCompilePlanReport: "# plano"})
			in := &State{TraceID: "t", UserStory: loginStory, Analysis: Ok{Value: json.RawMessage(`{"avaliacao_geral":"ok"}`)}}

			out := newRunner(backend, tt.opts...).RunTestPlan(context.Background(), in)
			require.True(t, IsOk(out.TestPlan))

			require.Len(t, backend.prompts[NodeCompilePlanReport], 1)
			prompt := backend.prompts[NodeCompilePlanReport][0]
			assert.Equal(t, tt.shown, strings.Count(prompt, `"id": "CT-`))
			assert.Contains(t, prompt, fmt.Sprintf("(%d de 15)", tt.shown))
			assert.NotContains(t, prompt, "passo-secreto")
		})
	}
}

func TestRunTestPlan_TopLevelArray(t *testing.T) {
	backend := newStepClient(map[string]string{
		NodeCreatePlan:        "```json\n[{\"id\":\"CT-1\",\"titulo\":\"x\",\"prioridade\":\"Baixa\"}]\n```",
		NodeCompilePlanReport: "# plano",
	})
	in := &State{TraceID: "t", UserStory: loginStory, Analysis: Ok{Value: json.RawMessage(`{}`)}}

	out := newRunner(backend).RunTestPlan(context.Background(), in)
	require.True(t, IsOk(out.TestPlan))
	assert.Contains(t, backend.prompts[NodeCompilePlanReport][0], `"id": "CT-1"`)
	assert.Equal(t, "# plano", out.TestPlanReport.Markdown)
}

func TestRunAnalysis_EmitsTracedEvents(t *testing.T) {
	rec := &events.Recorder{}
	backend := mock.New(mock.WithDelay(0))
	r := NewRunner(retry.New(backend, retry.WithSink(rec)))

	s := r.RunAnalysis(context.Background(), loginStory)

	assert.Equal(t, 2, rec.Count(events.LLMSuccess))
	nodes := map[string]bool{}
	for _, e := range rec.Events() {
		assert.Equal(t, s.TraceID, e.TraceID)
		nodes[e.Node] = true
	}
	assert.Equal(t, map[string]bool{NodeAnalyze: true, NodeCompileReport: true}, nodes)
}

func TestSummarizePlan(t *testing.T) {
	s := summarizePlan(json.RawMessage(`{"plano_de_testes":{"objetivo":"x"},"casos_de_teste":[{"id":"A","extra":1}]}`), 10)
	assert.Equal(t, 1, s.total)
	assert.Equal(t, 1, s.shown)
	assert.Contains(t, s.overview, `"objetivo": "x"`)
	assert.NotContains(t, s.cases, "extra")

	empty := summarizePlan(json.RawMessage(`{"outra_coisa":true}`), 10)
	assert.Equal(t, 0, empty.total)
	assert.Equal(t, "[]", empty.cases)
}
