// Package mock implements a deterministic, offline llm.Client for tests and demos.
package mock

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aschepis/backscratcher/storyqa/llm"
)

// Steps the mock recognises, matching the pipeline node names.
const (
	StepAnalyze           = "analyze"
	StepCompileReport     = "compile_report"
	StepCreatePlan        = "create_plan"
	StepCompilePlanReport = "compile_plan_report"
)

// DefaultDelay simulates backend latency.
const DefaultDelay = 100 * time.Millisecond

// Client returns canned responses keyed on the step config hint or prompt fragments.
type Client struct {
	delay     time.Duration
	responses map[string]string
	err       error

	mu      sync.Mutex
	prompts []string
	calls   atomic.Int64
}

// Option configures a Client.
type Option func(*Client)

// WithDelay overrides the artificial latency. Zero disables it.
func WithDelay(d time.Duration) Option {
	return func(c *Client) { c.delay = d }
}

// WithResponse overrides the canned text for a step.
func WithResponse(step, text string) Option {
	return func(c *Client) { c.responses[step] = text }
}

// WithError makes every call fail with err after the delay.
func WithError(err error) Option {
	return func(c *Client) { c.err = err }
}

// New creates a mock client.
func New(opts ...Option) *Client {
	c := &Client{
		delay: DefaultDelay,
		responses: map[string]string{
			StepAnalyze:           analysisJSON,
			StepCompileReport:     analysisReport,
			StepCreatePlan:        testPlanJSON,
			StepCompilePlanReport: testPlanReport,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate implements llm.Client. Unknown config keys are rejected like a real backend would.
func (c *Client) Generate(ctx context.Context, prompt string, cfg llm.Config) (*llm.Response, error) {
	c.calls.Add(1)
	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	c.mu.Unlock()

	opts, err := llm.ParseOptions(cfg)
	if err != nil {
		return nil, err
	}

	if c.delay > 0 {
		timer := time.NewTimer(c.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, &llm.Error{Type: llm.ErrorTypeNetwork, Message: "mock: request cancelled", ProviderErr: ctx.Err()}
		case <-timer.C:
		}
	}

	if c.err != nil {
		return nil, c.err
	}

	step := opts.Step
	if step == "" {
		step = stepFromPrompt(prompt)
	}
	return &llm.Response{Text: c.responses[step], StopReason: "stop"}, nil
}

// Calls returns how many times Generate was invoked.
func (c *Client) Calls() int {
	return int(c.calls.Load())
}

// Prompts returns the prompts received, in call order.
func (c *Client) Prompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prompts...)
}

func stepFromPrompt(prompt string) string {
	p := strings.ToLower(prompt)
	isReport := strings.Contains(p, "relatório") || strings.Contains(p, "relatorio")
	isPlan := strings.Contains(p, "plano de testes")
	switch {
	case isReport && isPlan:
		return StepCompilePlanReport
	case isPlan:
		return StepCreatePlan
	case isReport:
		return StepCompileReport
	default:
		return StepAnalyze
	}
}

var _ llm.Client = (*Client)(nil)
