package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aschepis/backscratcher/storyqa/app"
	storyqalogger "github.com/aschepis/backscratcher/storyqa/logger"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	logFile   string
	pretty    bool
	dbPath    string
	noHistory bool
	config    string

	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{logger: zerolog.Nop()}

	root := &cobra.Command{
		Use:   "storyqa",
		Short: "Analyze user stories and derive test plans with an LLM",
		Long: "storyqa runs the user story analysis and test plan pipelines against the\n" +
			"backend selected by LLM_PROVIDER, and keeps a history of every run.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := storyqalogger.InitWithOptions(opts.logFile, opts.pretty)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			opts.logger = logger
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.logFile, "logfile", "", "Path to log file. If not set, logs to stderr")
	flags.BoolVar(&opts.pretty, "pretty", false, "Use pretty console output (only valid when logfile is not set)")
	flags.StringVar(&opts.dbPath, "db", "", "Path to the run history database (overrides database.path)")
	flags.BoolVar(&opts.noHistory, "no-history", false, "Do not read or write run history")
	flags.StringVar(&opts.config, "config", "", "Path to the config file (defaults to $STORYQA_CONFIG or ~/.storyqa/config.yaml)")
	root.MarkFlagsMutuallyExclusive("logfile", "pretty")

	root.AddCommand(
		newAnalyzeCmd(opts),
		newPlanCmd(opts),
		newHistoryCmd(opts),
		newProvidersCmd(),
		newMCPCmd(opts),
	)
	return root
}

// open builds the application from the environment and the persistent flags.
func (o *rootOptions) open() (*app.App, error) {
	return app.New(app.Options{
		Logger:     o.logger,
		ConfigPath: o.config,
		DBPath:     o.dbPath,
		NoHistory:  o.noHistory,
	})
}

// readStory returns the story from file ("-" reads stdin) or else the joined args.
func readStory(cmd *cobra.Command, file string, args []string) (string, error) {
	var story string
	switch {
	case file == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		story = string(data)
	case file != "":
		data, err := os.ReadFile(file) //#nosec G304 -- user-selected input file
		if err != nil {
			return "", fmt.Errorf("failed to read story file: %w", err)
		}
		story = string(data)
	default:
		story = strings.Join(args, " ")
	}
	if strings.TrimSpace(story) == "" {
		return "", errors.New("a user story is required: pass it as arguments or with --file")
	}
	return story, nil
}
