// Package pipeline runs the analysis and test-plan pipelines over an llm backend.
//
// Both pipelines are linear graphs of two nodes. A failure inside a node never
// aborts the run; it is recorded in the State as a Failed result or a failed
// Report and the downstream node decides how to proceed.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/aschepis/backscratcher/storyqa/events"
	"github.com/aschepis/backscratcher/storyqa/extract"
	"github.com/aschepis/backscratcher/storyqa/llm"
)

// Node names. They double as the step hint passed in each call config.
const (
	NodeAnalyze           = "analyze"
	NodeCompileReport     = "compile_report"
	NodeCreatePlan        = "create_plan"
	NodeCompilePlanReport = "compile_plan_report"
)

// DefaultPlanSummaryLimit caps the test cases summarized for the plan report.
const DefaultPlanSummaryLimit = 10

// Failure reasons recorded without calling the backend.
const (
	ReasonEmptyStory          = "user story is empty"
	ReasonAnalysisUnavailable = "analysis result unavailable"
	ReasonNotJSON             = "response did not contain valid JSON"
	ReasonEmptyResponse       = "empty response"
)

// Caller issues one logical LLM call. *retry.Wrapper satisfies it.
type Caller interface {
	Call(ctx context.Context, prompt string, cfg llm.Config, traceID, node string) (*llm.Response, error)
}

// Runner owns the two pipeline graphs.
type Runner struct {
	client           Caller
	logger           zerolog.Logger
	planSummaryLimit int

	analysis *Graph
	testPlan *Graph
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithPlanSummaryLimit caps how many test cases reach the plan report prompt.
func WithPlanSummaryLimit(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.planSummaryLimit = n
		}
	}
}

// NewRunner creates a Runner that sends every call through client.
func NewRunner(client Caller, opts ...Option) *Runner {
	r := &Runner{
		client:           client,
		logger:           zerolog.Nop(),
		planSummaryLimit: DefaultPlanSummaryLimit,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.analysis = NewGraph("analysis", r.logger,
		Node{Name: NodeAnalyze, Run: r.analyze, Fail: func(s *State, reason string) { s.Analysis = Failed{Reason: reason} }},
		Node{Name: NodeCompileReport, Run: r.compileReport, Fail: func(s *State, _ string) { s.AnalysisReport = FailedReport() }},
	)
	r.testPlan = NewGraph("test_plan", r.logger,
		Node{Name: NodeCreatePlan, Run: r.createPlan, Fail: func(s *State, reason string) { s.TestPlan = Failed{Reason: reason} }},
		Node{Name: NodeCompilePlanReport, Run: r.compilePlanReport, Fail: func(s *State, _ string) { s.TestPlanReport = FailedReport() }},
	)
	return r
}

// RunAnalysis critiques userStory and returns a new state carrying a fresh trace id.
func (r *Runner) RunAnalysis(ctx context.Context, userStory string) *State {
	s := &State{
		TraceID:   events.NewTraceID(),
		UserStory: userStory,
	}
	r.analysis.Run(ctx, s)
	return s
}

// RunTestPlan derives a test plan from a completed analysis. in is not modified;
// the returned state is a copy with the plan fields filled in.
func (r *Runner) RunTestPlan(ctx context.Context, in *State) *State {
	s := in.Clone()
	if s == nil {
		s = &State{}
	}
	if s.TraceID == "" {
		s.TraceID = events.NewTraceID()
	}
	r.testPlan.Run(ctx, s)
	return s
}

func (r *Runner) call(ctx context.Context, s *State, node, prompt string) (string, error) {
	resp, err := r.client.Call(ctx, prompt, llm.Config{llm.ConfigStep: node}, s.TraceID, node)
	if err != nil {
		return "", err
	}
	return resp.GetText(), nil
}

func (r *Runner) analyze(ctx context.Context, s *State) {
	if strings.TrimSpace(s.UserStory) == "" {
		s.Analysis = Failed{Reason: ReasonEmptyStory}
		return
	}
	prompt, err := render(NodeAnalyze, storyPrompt{UserStory: s.UserStory})
	if err != nil {
		s.Analysis = Failed{Reason: err.Error()}
		return
	}
	s.Analysis = r.structuredCall(ctx, s, NodeAnalyze, prompt)
}

func (r *Runner) compileReport(ctx context.Context, s *State) {
	analysis, ok := s.Analysis.(Ok)
	if !ok {
		s.AnalysisReport = FailedReport()
		return
	}
	prompt, err := render(NodeCompileReport, storyPrompt{UserStory: s.UserStory, Analysis: indent(analysis.Value)})
	if err != nil {
		s.AnalysisReport = FailedReport()
		return
	}
	s.AnalysisReport = r.reportCall(ctx, s, NodeCompileReport, prompt)
}

func (r *Runner) createPlan(ctx context.Context, s *State) {
	if strings.TrimSpace(s.UserStory) == "" {
		s.TestPlan = Failed{Reason: ReasonEmptyStory}
		return
	}
	analysis, ok := s.Analysis.(Ok)
	if !ok {
		s.TestPlan = Failed{Reason: ReasonAnalysisUnavailable}
		return
	}
	prompt, err := render(NodeCreatePlan, storyPrompt{UserStory: s.UserStory, Analysis: indent(analysis.Value)})
	if err != nil {
		s.TestPlan = Failed{Reason: err.Error()}
		return
	}
	s.TestPlan = r.structuredCall(ctx, s, NodeCreatePlan, prompt)
}

func (r *Runner) compilePlanReport(ctx context.Context, s *State) {
	plan, ok := s.TestPlan.(Ok)
	if !ok {
		s.TestPlanReport = FailedReport()
		return
	}
	summary := summarizePlan(plan.Value, r.planSummaryLimit)
	prompt, err := render(NodeCompilePlanReport, planReportPrompt{
		UserStory: s.UserStory,
		Overview:  summary.overview,
		Cases:     summary.cases,
		Shown:     summary.shown,
		Total:     summary.total,
	})
	if err != nil {
		s.TestPlanReport = FailedReport()
		return
	}
	s.TestPlanReport = r.reportCall(ctx, s, NodeCompilePlanReport, prompt)
}

// structuredCall asks for JSON and parses the answer, falling back to extraction
// from fenced or surrounding prose.
func (r *Runner) structuredCall(ctx context.Context, s *State, node, prompt string) Result {
	text, err := r.call(ctx, s, node, prompt)
	if err != nil {
		return Failed{Reason: err.Error()}
	}
	if strings.TrimSpace(text) == "" {
		r.logger.Warn().Str("trace_id", s.TraceID).Str("node", node).Msg("model response is empty")
		return Failed{Reason: ReasonEmptyResponse}
	}
	if value, ok := parseJSON(text); ok {
		return Ok{Value: value}
	}
	r.logger.Warn().
		Str("trace_id", s.TraceID).
		Str("node", node).
		Int("response_len", len(text)).
		Msg("model response is not JSON")
	return Failed{Reason: ReasonNotJSON, Raw: text}
}

func (r *Runner) reportCall(ctx context.Context, s *State, node, prompt string) Report {
	text, err := r.call(ctx, s, node, prompt)
	if err != nil {
		return FailedReport()
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return FailedReport()
	}
	return Report{Markdown: text}
}

// parseJSON accepts any JSON value, either as the whole text or embedded in it.
// The value is compacted and HTML-escaped the way encoding/json re-encodes raw
// messages, so it reads back byte-for-byte after a JSON round trip.
func parseJSON(text string) (json.RawMessage, bool) {
	candidates := []string{strings.TrimSpace(text)}
	if extracted, ok := extract.JSON(text); ok {
		candidates = append(candidates, extracted)
	}
	for _, c := range candidates {
		if c == "" || !json.Valid([]byte(c)) {
			continue
		}
		var compact, out bytes.Buffer
		if err := json.Compact(&compact, []byte(c)); err != nil {
			continue
		}
		json.HTMLEscape(&out, compact.Bytes())
		return json.RawMessage(out.Bytes()), true
	}
	return nil, false
}

func indent(v json.RawMessage) string {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(v)
	}
	return string(out)
}

type caseSummary struct {
	ID         any `json:"id,omitempty"`
	Titulo     any `json:"titulo,omitempty"`
	Prioridade any `json:"prioridade,omitempty"`
}

type planSummary struct {
	overview string
	cases    string
	shown    int
	total    int
}

// summarizePlan keeps only id, titulo and prioridade of the first limit cases,
// read from "casos_de_teste" or from a top-level array.
func summarizePlan(plan json.RawMessage, limit int) planSummary {
	var (
		cases    []map[string]any
		overview = "{}"
	)

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(plan, &obj); err == nil {
		if raw, ok := obj["casos_de_teste"]; ok {
			_ = json.Unmarshal(raw, &cases)
		}
		if raw, ok := obj["plano_de_testes"]; ok {
			overview = indent(raw)
		}
	} else {
		_ = json.Unmarshal(plan, &cases)
	}

	total := len(cases)
	shown := lo.Map(cases[:min(limit, total)], func(c map[string]any, _ int) caseSummary {
		return caseSummary{ID: c["id"], Titulo: c["titulo"], Prioridade: c["prioridade"]}
	})
	out, err := json.MarshalIndent(shown, "", "  ")
	if err != nil {
		out = []byte("[]")
	}
	return planSummary{overview: overview, cases: string(out), shown: len(shown), total: total}
}
