// Package mcpserver exposes the pipelines as MCP tools over stdio.
//
// Pipeline failures are part of the returned state, so a tool call only
// reports an error for bad arguments or an unknown trace id.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/storyqa/pipeline"
)

const (
	ServerName = "storyqa"

	ToolRunAnalysis = "run_analysis"
	ToolRunTestPlan = "run_test_plan"
)

// Pipelines runs and stores pipeline states. *app.App satisfies it.
type Pipelines interface {
	Analyze(ctx context.Context, userStory string) (*pipeline.State, error)
	PlanFromTrace(ctx context.Context, traceID string) (*pipeline.State, error)
	PlanFromStory(ctx context.Context, userStory string) (*pipeline.State, error)
}

type handlers struct {
	pipelines Pipelines
	logger    zerolog.Logger
}

// New builds an MCP server with the pipeline tools registered.
func New(p Pipelines, version string, logger zerolog.Logger) *server.MCPServer {
	h := &handlers{
		pipelines: p,
		logger:    logger.With().Str("component", "mcpserver").Logger(),
	}

	s := server.NewMCPServer(ServerName, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s.AddTool(mcp.NewTool(ToolRunAnalysis,
		mcp.WithDescription("Analisa uma user story (INVEST, ambiguidades, critérios de aceite) e devolve o estado do pipeline em JSON, incluindo o relatório em Markdown."),
		mcp.WithString("user_story", mcp.Required(), mcp.Description("Texto da user story a analisar")),
	), h.runAnalysis)

	s.AddTool(mcp.NewTool(ToolRunTestPlan,
		mcp.WithDescription("Gera o plano de testes de uma análise já salva (trace_id) ou de uma nova user story e devolve o estado do pipeline em JSON."),
		mcp.WithString("trace_id", mcp.Description("Trace id de uma análise salva")),
		mcp.WithString("user_story", mcp.Description("User story a analisar antes de gerar o plano, quando não houver trace_id")),
	), h.runTestPlan)

	return s
}

// ServeStdio serves s on stdin/stdout until the input closes.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func (h *handlers) runAnalysis(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	story, err := req.RequireString("user_story")
	if err != nil || strings.TrimSpace(story) == "" {
		return mcp.NewToolResultError("user_story is required"), nil
	}
	st, err := h.pipelines.Analyze(ctx, story)
	return h.stateResult(ToolRunAnalysis, st, err)
}

func (h *handlers) runTestPlan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	traceID := strings.TrimSpace(req.GetString("trace_id", ""))
	story := req.GetString("user_story", "")

	var (
		st  *pipeline.State
		err error
	)
	switch {
	case traceID != "":
		st, err = h.pipelines.PlanFromTrace(ctx, traceID)
	case strings.TrimSpace(story) != "":
		st, err = h.pipelines.PlanFromStory(ctx, story)
	default:
		return mcp.NewToolResultError("provide trace_id or user_story"), nil
	}
	return h.stateResult(ToolRunTestPlan, st, err)
}

// stateResult renders st as JSON text. A run that completed but failed to
// persist is still returned; only a missing state is a tool error.
func (h *handlers) stateResult(tool string, st *pipeline.State, err error) (*mcp.CallToolResult, error) {
	if st == nil {
		if err == nil {
			err = errors.New("no result")
		}
		h.logger.Warn().Err(err).Str("tool", tool).Msg("tool call failed")
		return mcp.NewToolResultErrorFromErr(tool+" failed", err), nil
	}
	if err != nil {
		h.logger.Warn().Err(err).Str("tool", tool).Str("trace_id", st.TraceID).Msg("run completed but was not saved")
	}

	data, mErr := json.MarshalIndent(st, "", "  ")
	if mErr != nil {
		return mcp.NewToolResultErrorFromErr("failed to encode result", mErr), nil
	}
	h.logger.Info().Str("tool", tool).Str("trace_id", st.TraceID).Msg("tool call completed")
	return mcp.NewToolResultText(string(data)), nil
}
