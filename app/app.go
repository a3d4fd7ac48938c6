// Package app wires settings, the llm stack, the pipelines and run history into
// one object shared by the CLI and the MCP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/storyqa/config"
	"github.com/aschepis/backscratcher/storyqa/events"
	"github.com/aschepis/backscratcher/storyqa/history"
	"github.com/aschepis/backscratcher/storyqa/llm/cache"
	"github.com/aschepis/backscratcher/storyqa/llm/factory"
	"github.com/aschepis/backscratcher/storyqa/llm/retry"
	"github.com/aschepis/backscratcher/storyqa/pipeline"
)

// ErrNoHistory is returned by operations that need stored runs when the app
// was built without a database.
var ErrNoHistory = errors.New("run history is disabled")

// Options configures New. Zero values fall back to the environment and defaults.
type Options struct {
	Logger     zerolog.Logger
	Lookup     func(string) (string, bool) // defaults to os.LookupEnv
	ConfigPath string                      // defaults to config.GetAppConfigPath()
	DBPath     string                      // overrides database.path from the config file
	NoHistory  bool
	Sinks      []events.Sink // extra event sinks, e.g. a Recorder in tests
}

// App is the assembled runtime.
type App struct {
	Settings config.Settings
	Config   *config.AppConfig
	Backend  *cache.Client
	Client   *retry.Wrapper
	Runner   *pipeline.Runner
	History  *history.Store
	Registry *prometheus.Registry

	logger zerolog.Logger
}

// New resolves settings and builds the full stack. Configuration problems are
// returned as errors; nothing is started.
func New(opts Options) (*App, error) {
	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = config.GetAppConfigPath()
	}
	logger := opts.Logger.With().Str("component", "app").Logger()

	settings, err := config.FromLookup(lookup)
	if err != nil {
		return nil, err
	}
	appCfg, err := config.LoadAppConfigFrom(configPath, lookup)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Debug().Str("settings", settings.String()).Msg("Resolved settings")

	backend, err := factory.Build(settings,
		factory.WithCacheSize(appCfg.Cache.MaxSize),
		factory.WithCacheTTL(appCfg.Cache.TTL),
		factory.WithMockDelay(appCfg.Mock.Delay),
		factory.WithLogger(opts.Logger),
	)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promSink, err := events.NewPrometheusSink(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	sinks := append([]events.Sink{events.NewLogSink(opts.Logger), promSink}, opts.Sinks...)

	client := retry.New(backend,
		retry.WithMaxAttempts(appCfg.Retry.MaxAttempts),
		retry.WithWait(appCfg.Retry.Wait),
		retry.WithSink(events.Multi(sinks...)),
		retry.WithLogger(opts.Logger),
	)

	a := &App{
		Settings: settings,
		Config:   appCfg,
		Backend:  backend,
		Client:   client,
		Runner: pipeline.NewRunner(client,
			pipeline.WithLogger(opts.Logger),
			pipeline.WithPlanSummaryLimit(appCfg.Pipeline.PlanSummaryLimit),
		),
		Registry: registry,
		logger:   logger,
	}

	if !opts.NoHistory {
		dbPath := opts.DBPath
		if dbPath == "" {
			dbPath = appCfg.Database.Path
		}
		store, err := history.Open(dbPath, opts.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open run history: %w", err)
		}
		a.History = store
	}

	return a, nil
}

// Close releases the history database.
func (a *App) Close() error {
	if a.History == nil {
		return nil
	}
	return a.History.Close()
}

// Analyze runs the analysis pipeline and stores the result. A storage failure
// is logged and returned alongside the state.
func (a *App) Analyze(ctx context.Context, userStory string) (*pipeline.State, error) {
	st := a.Runner.RunAnalysis(ctx, userStory)
	return st, a.save(ctx, st)
}

// PlanFromTrace loads a stored analysis and derives its test plan.
func (a *App) PlanFromTrace(ctx context.Context, traceID string) (*pipeline.State, error) {
	if a.History == nil {
		return nil, ErrNoHistory
	}
	in, err := a.History.Get(ctx, strings.TrimSpace(traceID))
	if err != nil {
		return nil, err
	}
	st := a.Runner.RunTestPlan(ctx, in)
	return st, a.save(ctx, st)
}

// PlanFromStory runs both pipelines back to back.
func (a *App) PlanFromStory(ctx context.Context, userStory string) (*pipeline.State, error) {
	analysis := a.Runner.RunAnalysis(ctx, userStory)
	st := a.Runner.RunTestPlan(ctx, analysis)
	return st, a.save(ctx, st)
}

func (a *App) save(ctx context.Context, st *pipeline.State) error {
	if a.History == nil {
		return nil
	}
	if err := a.History.Save(ctx, st); err != nil {
		a.logger.Error().Err(err).Str("trace_id", st.TraceID).Msg("Failed to save run")
		return err
	}
	return nil
}
