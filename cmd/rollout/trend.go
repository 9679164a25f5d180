package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rolloutkit/rollout/internal/regression"
)

var (
	trendConfigID string
	trendMetric   string
	trendFile     string
	trendLimit    int
)

// samplesDoc is the file form of a sample series for one-shot analysis.
type samplesDoc struct {
	Metric string    `yaml:"metric"`
	Values []float64 `yaml:"values"`
}

var trendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Analyze a metric's trend from stored ticks or a sample file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if trendFile != "" {
			return trendFromFile(trendFile)
		}
		if trendMetric == "" {
			return fmt.Errorf("either --metric or --file is required")
		}

		execs, err := store.ListMonitoringExecutions(cmd.Context(), trendConfigID, trendLimit)
		if err != nil {
			return err
		}

		// Ticks come back newest first; trend analysis wants time order.
		var samples []regression.Sample
		for i := len(execs) - 1; i >= 0; i-- {
			for _, tr := range execs[i].Targets {
				if v, ok := tr.Metrics[trendMetric]; ok {
					samples = append(samples, regression.Sample{Timestamp: tr.CollectedAt, Value: v})
				}
			}
		}
		if len(samples) == 0 {
			return fmt.Errorf("no samples for metric %s in configuration %s", trendMetric, trendConfigID)
		}

		result := regression.AnalyzeTrend(samples, false)
		printTrend(trendMetric, result)
		return nil
	},
}

func trendFromFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading samples: %w", err)
	}
	var doc samplesDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parsing samples: %w", err)
	}
	if len(doc.Values) == 0 {
		return fmt.Errorf("no values in %s", path)
	}

	// Synthesize evenly spaced timestamps; the regression is index-based.
	base := time.Now().Add(-time.Duration(len(doc.Values)) * time.Minute)
	samples := make([]regression.Sample, 0, len(doc.Values))
	for i, v := range doc.Values {
		samples = append(samples, regression.Sample{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Value:     v,
		})
	}

	name := doc.Metric
	if name == "" {
		name = "samples"
	}
	printTrend(name, regression.AnalyzeTrend(samples, false))
	return nil
}

func printTrend(metric string, r regression.TrendResult) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Printf("\n%s %s\n", cyan("=== Trend:"), cyan(metric))
	fmt.Printf("  direction:   %s\n", directionBadge(r.Direction))
	fmt.Printf("  slope:       %+.4f per sample\n", r.Slope)
	fmt.Printf("  correlation: %+.3f (confidence %.2f)\n", r.Correlation, r.Confidence)
	fmt.Printf("  volatility:  %.3f\n", r.Volatility)
	fmt.Printf("  prediction:  %.2f  [%.2f, %.2f]\n", r.Prediction, r.LowerBound, r.UpperBound)
	fmt.Printf("  samples:     %d\n\n", r.SampleCount)
}

func directionBadge(d regression.Direction) string {
	switch d {
	case regression.TrendImproving:
		return color.New(color.FgGreen).Sprint(string(d))
	case regression.TrendDegrading:
		return color.New(color.FgRed).Sprint(string(d))
	default:
		return color.New(color.FgYellow).Sprint(string(d))
	}
}

var regressCmd = &cobra.Command{
	Use:   "regress <snapshots.yaml>",
	Short: "Compare baseline and current metric snapshots for regressions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading snapshots: %w", err)
		}
		var doc snapshotsDoc
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("parsing snapshots: %w", err)
		}

		regressions := regression.Detect(doc.Baseline, doc.Current)
		if len(regressions) == 0 {
			fmt.Println(color.New(color.FgGreen).Sprint("No regressions detected"))
			return nil
		}

		sort.Slice(regressions, func(i, j int) bool {
			return regressions[i].Severity.Rank() > regressions[j].Severity.Rank()
		})
		for _, reg := range regressions {
			fmt.Printf("  %s %s\n", severityBadge(reg.Severity), reg.Description)
		}
		return errResultFailure
	},
}

func init() {
	trendCmd.Flags().StringVar(&trendConfigID, "monitor", "", "monitoring configuration id (empty matches all)")
	trendCmd.Flags().StringVarP(&trendMetric, "metric", "m", "", "metric name to analyze from stored ticks")
	trendCmd.Flags().StringVarP(&trendFile, "file", "f", "", "sample series file for one-shot analysis")
	trendCmd.Flags().IntVar(&trendLimit, "limit", 100, "number of recent ticks to consider")
	rootCmd.AddCommand(trendCmd)
	rootCmd.AddCommand(regressCmd)
}
