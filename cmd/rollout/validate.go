package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rolloutkit/rollout/internal/metrics"
	"github.com/rolloutkit/rollout/internal/pipeline"
	"github.com/rolloutkit/rollout/internal/types"
)

var (
	validatePipelineID string
	validateFeatures   string
	validateBaseline   string
	validateJSON       bool
)

// snapshotsDoc carries optional metric snapshots for regression checks.
type snapshotsDoc struct {
	Baseline map[string]float64 `yaml:"baseline"`
	Current  map[string]float64 `yaml:"current"`
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run a validation pipeline against every feature in an inventory",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(validateFeatures)
		if err != nil {
			return fmt.Errorf("reading features: %w", err)
		}
		var doc featuresDoc
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing features: %w", err)
		}
		if len(doc.Features) == 0 {
			return fmt.Errorf("no features in %s", validateFeatures)
		}

		var snapshots snapshotsDoc
		if validateBaseline != "" {
			raw, err := os.ReadFile(validateBaseline)
			if err != nil {
				return fmt.Errorf("reading snapshots: %w", err)
			}
			if err := yaml.Unmarshal(raw, &snapshots); err != nil {
				return fmt.Errorf("parsing snapshots: %w", err)
			}
		}

		runner, err := pipeline.NewRunner(&pipeline.Config{
			Store:              store,
			Logger:             logger,
			Observer:           metrics.New(),
			MaxParallel:        cfg.Runner.MaxParallel,
			BreakerThreshold:   cfg.Runner.BreakerThreshold,
			BreakerOpenTimeout: cfg.Runner.BreakerOpenTimeout,
		})
		if err != nil {
			return err
		}

		var execs []*pipeline.Execution
		failed := false
		for _, feature := range doc.Features {
			exec, err := runner.Execute(cmd.Context(), validatePipelineID, pipeline.Request{
				Feature:  feature,
				Baseline: snapshots.Baseline,
				Current:  snapshots.Current,
			})
			if err != nil {
				return err
			}
			execs = append(execs, exec)
			if !exec.Passed {
				failed = true
			}
		}

		if validateJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(execs); err != nil {
				return err
			}
		} else {
			for _, exec := range execs {
				printExecution(exec)
			}
		}

		if failed {
			return errResultFailure
		}
		return nil
	},
}

func printExecution(exec *pipeline.Execution) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	verdict := green("PASSED")
	if !exec.Passed {
		verdict = red("FAILED")
	}
	fmt.Printf("\n%s %s  %s  score %.1f\n",
		cyan("==="), cyan(exec.FeatureID), verdict, exec.OverallScore)

	for _, res := range exec.Results {
		mark := green("✓")
		if res.Status == pipeline.ResultFailed {
			mark = red("✗")
		}
		line := fmt.Sprintf("  %s %-15s %-8s %5.1f  %s", mark, res.ValidatorID, res.Status, res.Score, gray(res.Duration.Round(time.Millisecond).String()))
		if res.Error != "" {
			line += "  " + red(res.Error)
		}
		fmt.Println(line)
	}

	for _, issue := range exec.Issues {
		fmt.Printf("    %s %s\n", severityBadge(issue.Severity), issue.Message)
	}
	for _, rec := range exec.Recommendations {
		fmt.Printf("    %s %s\n", gray("->"), rec)
	}
}

func severityBadge(s types.Severity) string {
	switch s {
	case types.SeverityCritical:
		return color.New(color.FgRed, color.Bold).Sprint("[critical]")
	case types.SeverityHigh:
		return color.New(color.FgRed).Sprint("[high]")
	case types.SeverityMedium:
		return color.New(color.FgYellow).Sprint("[medium]")
	default:
		return color.New(color.FgHiBlack).Sprint("[low]")
	}
}

func init() {
	validateCmd.Flags().StringVarP(&validatePipelineID, "pipeline", "p", "standard", "pipeline id to run")
	validateCmd.Flags().StringVarP(&validateFeatures, "features", "f", "features.yaml", "feature inventory file")
	validateCmd.Flags().StringVar(&validateBaseline, "snapshots", "", "optional baseline/current metric snapshots file")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "emit executions as JSON")
	rootCmd.AddCommand(validateCmd)
}
