package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rolloutkit/rollout/internal/monitor"
)

var (
	alertsConfigID string
	alertsLimit    int
	alertsActor    string
	alertsNote     string
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List and manage alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		alerts, err := store.ListAlerts(cmd.Context(), alertsConfigID, alertsLimit)
		if err != nil {
			return err
		}
		if len(alerts) == 0 {
			fmt.Println(color.New(color.FgHiBlack).Sprint("No alerts"))
			return nil
		}

		gray := color.New(color.FgHiBlack).SprintFunc()
		for _, a := range alerts {
			fmt.Printf("  %s %s %-12s %s  %s\n",
				gray(a.CreatedAt.Format(time.RFC3339)),
				severityBadge(a.Severity),
				alertStatusBadge(a.Status),
				a.Message,
				gray(a.ID))
		}
		return nil
	},
}

var alertsAckCmd = &cobra.Command{
	Use:   "ack <alert-id>",
	Short: "Acknowledge an open alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		alert, err := store.GetAlert(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := alert.Acknowledge(alertsActor); err != nil {
			return err
		}
		if err := store.SaveAlert(cmd.Context(), alert); err != nil {
			return err
		}
		fmt.Printf("Acknowledged %s\n", alert.ID)
		return nil
	},
}

var alertsResolveCmd = &cobra.Command{
	Use:   "resolve <alert-id>",
	Short: "Resolve an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		alert, err := store.GetAlert(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := alert.Resolve(alertsActor, alertsNote); err != nil {
			return err
		}
		if err := store.SaveAlert(cmd.Context(), alert); err != nil {
			return err
		}
		fmt.Printf("Resolved %s\n", alert.ID)
		return nil
	},
}

func alertStatusBadge(s monitor.AlertStatus) string {
	switch s {
	case monitor.AlertOpen:
		return color.New(color.FgRed).Sprint(string(s))
	case monitor.AlertAcknowledged:
		return color.New(color.FgYellow).Sprint(string(s))
	case monitor.AlertResolved:
		return color.New(color.FgGreen).Sprint(string(s))
	default:
		return color.New(color.FgHiBlack).Sprint(string(s))
	}
}

func init() {
	alertsCmd.Flags().StringVar(&alertsConfigID, "monitor", "", "monitoring configuration id (empty matches all)")
	alertsCmd.Flags().IntVar(&alertsLimit, "limit", 50, "number of alerts to show")
	alertsCmd.PersistentFlags().StringVar(&alertsActor, "actor", "operator", "actor recorded on state changes")
	alertsResolveCmd.Flags().StringVar(&alertsNote, "note", "", "resolution note")
	alertsCmd.AddCommand(alertsAckCmd)
	alertsCmd.AddCommand(alertsResolveCmd)
	rootCmd.AddCommand(alertsCmd)
}
