// Command rollout is the integration validation and orchestration engine:
// it plans dependency-respecting integration phases, runs validator
// pipelines against features, and monitors health targets with alerting.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/rolloutkit/rollout/internal/config"
	"github.com/rolloutkit/rollout/internal/storage"
	"github.com/rolloutkit/rollout/internal/storage/sqlite"
)

var (
	cfgPath string
	cfg     *config.Config
	store   storage.Store
	logger  *log.Logger
)

var rootCmd = &cobra.Command{
	Use:   "rollout",
	Short: "Integration validation and orchestration engine",
	Long: `rollout turns a set of proposed features into a dependency-respecting,
risk-ordered integration plan, runs configurable validator pipelines
against each feature, detects performance regressions, and continuously
monitors health targets with threshold alerting.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initApp(cmd.Context())
	},
}

// errResultFailure marks a run whose failing results were already rendered;
// main exits nonzero without printing it again.
var errResultFailure = errors.New("result failure")

func initApp(ctx context.Context) error {
	var err error
	switch {
	case cfgPath != "":
		cfg, err = config.Load(cfgPath)
	case fileExists("rollout.yaml"):
		cfg, err = config.Load("rollout.yaml")
	default:
		cfg = config.Default()
	}
	if err != nil {
		return err
	}

	logger = newLogger(cfg.Log)

	switch cfg.Storage.Backend {
	case "memory":
		store = storage.NewMemoryStore()
	default:
		store, err = sqlite.New(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
	}

	// Configured pipelines are the source of truth; push them into the
	// store so executions can reference them by id.
	for i := range cfg.Pipelines {
		if err := store.SavePipeline(ctx, &cfg.Pipelines[i]); err != nil {
			return fmt.Errorf("seeding pipeline %s: %w", cfg.Pipelines[i].ID, err)
		}
	}
	return nil
}

func newLogger(lc config.LogConfig) *log.Logger {
	opts := log.Options{ReportTimestamp: true}
	switch lc.Level {
	case "debug":
		opts.Level = log.DebugLevel
	case "warn":
		opts.Level = log.WarnLevel
	case "error":
		opts.Level = log.ErrorLevel
	default:
		opts.Level = log.InfoLevel
	}
	if lc.Format == "json" {
		opts.Formatter = log.JSONFormatter
	}
	return log.NewWithOptions(os.Stderr, opts)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to configuration file")
}

func main() {
	err := rootCmd.Execute()
	// Teardown runs here rather than in a PostRun hook: cobra skips those
	// when RunE fails, and the store must close on every path.
	if store != nil {
		store.Close()
	}
	if err != nil {
		if !errors.Is(err, errResultFailure) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
