package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aschepis/backscratcher/storyqa/app"
	"github.com/aschepis/backscratcher/storyqa/history"
	"github.com/aschepis/backscratcher/storyqa/llm/factory"
	"github.com/aschepis/backscratcher/storyqa/mcpserver"
	"github.com/aschepis/backscratcher/storyqa/pipeline"
)

func newAnalyzeCmd(opts *rootOptions) *cobra.Command {
	var (
		file   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "analyze [story...]",
		Short: "Analyze a user story and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			story, err := readStory(cmd, file, args)
			if err != nil {
				return err
			}
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck // No remedy for db close errors

			st, err := a.Analyze(cmd.Context(), story)
			if err != nil {
				opts.logger.Warn().Err(err).Msg("Run was not saved")
			}
			return printState(cmd, st, asJSON, st.AnalysisReport)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the story from a file (- for stdin)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full run state as JSON")
	return cmd
}

func newPlanCmd(opts *rootOptions) *cobra.Command {
	var (
		traceID string
		file    string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "plan [story...]",
		Short: "Derive a test plan from a stored analysis or a new story",
		RunE: func(cmd *cobra.Command, args []string) error {
			if traceID != "" && (file != "" || len(args) > 0) {
				return errors.New("--trace-id cannot be combined with a story")
			}
			var story string
			if traceID == "" {
				s, err := readStory(cmd, file, args)
				if err != nil {
					return err
				}
				story = s
			}

			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck // No remedy for db close errors

			var st *pipeline.State
			if traceID != "" {
				st, err = a.PlanFromTrace(cmd.Context(), traceID)
				if st == nil {
					return err
				}
			} else {
				st, err = a.PlanFromStory(cmd.Context(), story)
			}
			if err != nil {
				opts.logger.Warn().Err(err).Msg("Run was not saved")
			}
			return printState(cmd, st, asJSON, st.TestPlanReport)
		},
	}
	cmd.Flags().StringVar(&traceID, "trace-id", "", "Trace id of a stored analysis run")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the story from a file (- for stdin)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full run state as JSON")
	return cmd
}

// printState writes either the whole state as JSON or the report followed by the trace id.
func printState(cmd *cobra.Command, st *pipeline.State, asJSON bool, report pipeline.Report) error {
	out := cmd.OutOrStdout()
	if asJSON {
		return writeJSON(out, st)
	}
	if report.Empty() {
		report = pipeline.FailedReport()
	}
	if _, err := fmt.Fprintln(out, report.Markdown); err != nil {
		return err
	}
	_, err := fmt.Fprintf(cmd.ErrOrStderr(), "trace id: %s\n", st.TraceID)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect stored pipeline runs",
	}
	historyCmd.AddCommand(newHistoryListCmd(opts), newHistoryShowCmd(opts))
	return historyCmd
}

func newHistoryListCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck // No remedy for db close errors
			if a.History == nil {
				return app.ErrNoHistory
			}

			runs, err := a.History.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded yet.")
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TRACE ID\tUPDATED\tANALYSIS\tPLAN\tSTORY") //nolint:errcheck // flushed below
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", //nolint:errcheck // flushed below
					r.TraceID, r.UpdatedAt.Format(time.RFC3339), mark(r.AnalysisOK), mark(r.TestPlanOK), truncate(r.UserStory, 60))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", history.DefaultListLimit, "Max runs to show")
	return cmd
}

func newHistoryShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show TRACE_ID",
		Short: "Print the stored state of one run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck // No remedy for db close errors
			if a.History == nil {
				return app.ErrNoHistory
			}

			st, err := a.History.Get(cmd.Context(), args[0])
			if errors.Is(err, history.ErrNotFound) {
				return fmt.Errorf("no run with trace id %q", args[0])
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), st)
		},
	}
}

func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List supported LLM providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range factory.Providers() {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), p); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newMCPCmd(opts *rootOptions) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the pipelines as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck // No remedy for db close errors

			if metricsAddr != "" {
				srv := &http.Server{
					Addr:              metricsAddr,
					Handler:           promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					opts.logger.Info().Str("addr", metricsAddr).Msg("Serving metrics")
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						opts.logger.Error().Err(err).Msg("Metrics server failed")
					}
				}()
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(ctx)
				}()
			}

			opts.logger.Info().Str("provider", string(a.Settings.Provider)).Msg("MCP server starting on stdio")
			return mcpserver.ServeStdio(mcpserver.New(a, version, opts.logger))
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	return cmd
}

func mark(ok bool) string {
	if ok {
		return "ok"
	}
	return "-"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
