package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ReportUnavailable replaces a report that could not be produced.
const ReportUnavailable = "_Relatório indisponível: a etapa anterior falhou ou o modelo não respondeu._"

// Result is the outcome of a structured step: either Ok or Failed.
type Result interface {
	isResult()
}

// Ok holds the parsed JSON value a step produced.
type Ok struct {
	Value json.RawMessage
}

// Failed records why a step produced no value. Raw keeps the unparseable
// model text, when there was one.
type Failed struct {
	Reason string
	Raw    string
}

func (Ok) isResult()     {}
func (Failed) isResult() {}

// IsOk reports whether r holds a value.
func IsOk(r Result) bool {
	_, ok := r.(Ok)
	return ok
}

// Report is a markdown document authored by the model.
type Report struct {
	Markdown string
	Failed   bool
}

// FailedReport returns the placeholder report.
func FailedReport() Report {
	return Report{Markdown: ReportUnavailable, Failed: true}
}

// Empty reports whether the step producing r has not run.
func (r Report) Empty() bool {
	return !r.Failed && r.Markdown == ""
}

// MarshalJSON encodes the report as its markdown text, or null if it has not run.
func (r Report) MarshalJSON() ([]byte, error) {
	if r.Empty() {
		return []byte("null"), nil
	}
	return json.Marshal(r.Markdown)
}

// UnmarshalJSON restores a report; the placeholder text marks it failed.
func (r *Report) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*r = Report{}
		return nil
	}
	var md string
	if err := json.Unmarshal(data, &md); err != nil {
		return fmt.Errorf("report must be a string: %w", err)
	}
	*r = Report{Markdown: md, Failed: md == ReportUnavailable}
	return nil
}

// State accumulates everything a pipeline run produces. Nodes only ever
// write their own fields.
type State struct {
	TraceID        string
	UserStory      string
	Analysis       Result
	AnalysisReport Report
	TestPlan       Result
	TestPlanReport Report
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Analysis = cloneResult(s.Analysis)
	cp.TestPlan = cloneResult(s.TestPlan)
	return &cp
}

func cloneResult(r Result) Result {
	if ok, isOk := r.(Ok); isOk {
		return Ok{Value: append(json.RawMessage(nil), ok.Value...)}
	}
	return r
}

type stateJSON struct {
	UserStory      string          `json:"user_story"`
	TraceID        string          `json:"trace_id"`
	AnalysisResult json.RawMessage `json:"analysis_result"`
	AnalysisReport Report          `json:"analysis_report"`
	TestPlanResult json.RawMessage `json:"test_plan_result"`
	TestPlanReport Report          `json:"test_plan_report"`
}

type failedJSON struct {
	Erro string `json:"erro"`
	Raw  string `json:"raw,omitempty"`
}

// MarshalJSON encodes the state in the shape persisted and shown to users.
// A Failed result becomes {"erro": reason}.
func (s State) MarshalJSON() ([]byte, error) {
	analysis, err := marshalResult(s.Analysis)
	if err != nil {
		return nil, fmt.Errorf("analysis_result: %w", err)
	}
	plan, err := marshalResult(s.TestPlan)
	if err != nil {
		return nil, fmt.Errorf("test_plan_result: %w", err)
	}
	return json.Marshal(stateJSON{
		UserStory:      s.UserStory,
		TraceID:        s.TraceID,
		AnalysisResult: analysis,
		AnalysisReport: s.AnalysisReport,
		TestPlanResult: plan,
		TestPlanReport: s.TestPlanReport,
	})
}

// UnmarshalJSON restores a state written by MarshalJSON.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw stateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	analysis, err := unmarshalResult(raw.AnalysisResult)
	if err != nil {
		return fmt.Errorf("analysis_result: %w", err)
	}
	plan, err := unmarshalResult(raw.TestPlanResult)
	if err != nil {
		return fmt.Errorf("test_plan_result: %w", err)
	}
	*s = State{
		TraceID:        raw.TraceID,
		UserStory:      raw.UserStory,
		Analysis:       analysis,
		AnalysisReport: raw.AnalysisReport,
		TestPlan:       plan,
		TestPlanReport: raw.TestPlanReport,
	}
	return nil
}

func marshalResult(r Result) (json.RawMessage, error) {
	switch v := r.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case Ok:
		if len(v.Value) == 0 {
			return json.RawMessage("null"), nil
		}
		return v.Value, nil
	case Failed:
		return json.Marshal(failedJSON{Erro: v.Reason, Raw: v.Raw})
	default:
		return nil, fmt.Errorf("unknown result type %T", r)
	}
}

// unmarshalResult treats an object whose only keys are "erro" and "raw" as Failed.
func unmarshalResult(data json.RawMessage) (Result, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("invalid JSON")
	}
	if trimmed[0] == '{' {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err == nil && isFailedObject(obj) {
			var f failedJSON
			if err := json.Unmarshal(trimmed, &f); err == nil {
				return Failed{Reason: f.Erro, Raw: f.Raw}, nil
			}
		}
	}
	return Ok{Value: append(json.RawMessage(nil), trimmed...)}, nil
}

func isFailedObject(obj map[string]json.RawMessage) bool {
	if _, ok := obj["erro"]; !ok {
		return false
	}
	for k := range obj {
		if k != "erro" && k != "raw" {
			return false
		}
	}
	return true
}
