package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rolloutkit/rollout/internal/scheduler"
	"github.com/rolloutkit/rollout/internal/types"
)

var (
	planFeaturesFile string
	planJSON         bool
)

// featuresDoc is the on-disk shape of a feature inventory.
type featuresDoc struct {
	Features []types.Feature `yaml:"features"`
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Build a risk-ordered integration plan from a feature inventory",
	Long: `Scores every feature against the configured criteria weights, resolves
the dependency graph into an integration sequence, batches the sequence
into phases, and reports the critical path.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(planFeaturesFile)
		if err != nil {
			return fmt.Errorf("reading features: %w", err)
		}
		var doc featuresDoc
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing features: %w", err)
		}

		plan, err := scheduler.New(cfg.Weights).BuildPlan(doc.Features)
		if err != nil {
			return err
		}

		if planJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(plan)
		}

		printPlan(plan)
		return nil
	},
}

func printPlan(plan *scheduler.Plan) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\n%s\n\n", cyan("=== Integration Plan ==="))

	if len(plan.Features) == 0 {
		fmt.Printf("  %s\n", gray("No features to plan"))
		return
	}

	fmt.Printf("%s\n", yellow("Ranked Features:"))
	for _, f := range plan.Features {
		blocked := ""
		if len(f.BlockedBy) > 0 {
			blocked = gray(fmt.Sprintf("  (after %s)", strings.Join(f.BlockedBy, ", ")))
		}
		fmt.Printf("  %2d. [seq %2d] %-30s %s %6.1f%s\n",
			f.Rank, f.Sequence, f.Title, riskBadge(f.Risk), f.Score.Total, blocked)
	}

	fmt.Printf("\n%s\n", yellow("Phases:"))
	for _, phase := range plan.Phases {
		deps := ""
		if len(phase.DependsOnPhases) > 0 {
			parts := make([]string, len(phase.DependsOnPhases))
			for i, n := range phase.DependsOnPhases {
				parts[i] = fmt.Sprintf("%d", n)
			}
			deps = gray("  after phase " + strings.Join(parts, ", "))
		}
		fmt.Printf("  Phase %d: %s %s ~%.0fh%s\n",
			phase.Number, strings.Join(phase.FeatureIDs, ", "),
			riskBadge(phase.Risk), phase.EstimatedHours, deps)
	}

	if len(plan.CriticalPath) > 0 {
		fmt.Printf("\n%s %s\n", yellow("Critical path:"), strings.Join(plan.CriticalPath, " -> "))
	}
	fmt.Println()
}

func riskBadge(r types.RiskLevel) string {
	switch r {
	case types.RiskCritical:
		return color.New(color.FgRed, color.Bold).Sprint("[critical]")
	case types.RiskHigh:
		return color.New(color.FgRed).Sprint("[high]")
	case types.RiskMedium:
		return color.New(color.FgYellow).Sprint("[medium]")
	default:
		return color.New(color.FgGreen).Sprint("[low]")
	}
}

func init() {
	planCmd.Flags().StringVarP(&planFeaturesFile, "features", "f", "features.yaml", "feature inventory file")
	planCmd.Flags().BoolVar(&planJSON, "json", false, "emit the plan as JSON")
	rootCmd.AddCommand(planCmd)
}
