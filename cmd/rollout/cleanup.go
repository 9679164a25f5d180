package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rolloutkit/rollout/internal/monitor"
)

var cleanupRetention monitor.RetentionPolicy

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune stored records past their retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		retention := cleanupRetention
		// Configured monitors may carry their own retention; the strictest
		// explicit flag wins, otherwise fall back to the first configured
		// policy.
		if retention == (monitor.RetentionPolicy{}) && len(cfg.Monitors) > 0 {
			retention = cfg.Monitors[0].Retention
		}
		if retention == (monitor.RetentionPolicy{}) {
			return fmt.Errorf("no retention policy configured; pass --reports-days/--metrics-days/--alerts-days")
		}

		removed, err := store.Cleanup(cmd.Context(), retention)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d record(s)\n", removed)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupRetention.ReportsDays, "reports-days", 0, "days to keep validation executions")
	cleanupCmd.Flags().IntVar(&cleanupRetention.MetricsDays, "metrics-days", 0, "days to keep monitoring ticks")
	cleanupCmd.Flags().IntVar(&cleanupRetention.AlertsDays, "alerts-days", 0, "days to keep closed alerts")
	rootCmd.AddCommand(cleanupCmd)
}
