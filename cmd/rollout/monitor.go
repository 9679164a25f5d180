package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rolloutkit/rollout/internal/metrics"
	"github.com/rolloutkit/rollout/internal/monitor"
)

var (
	monitorOnce        bool
	monitorJSON        bool
	monitorMetricsAddr string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the configured monitoring loops",
	Long: `Starts every monitoring configuration on its own interval timer,
polling targets, evaluating thresholds and alert rules, and tracking
metric trends. With --once each configuration ticks a single time and
the command exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(cfg.Monitors) == 0 {
			return fmt.Errorf("no monitoring configurations in config")
		}

		m := metrics.New()
		engine, err := monitor.NewEngine(&monitor.EngineConfig{
			Store:      store,
			Collectors: monitor.NewCollectorRegistry(store),
			Logger:     logger,
			Observer:   m,
		})
		if err != nil {
			return err
		}

		if monitorOnce {
			for i := range cfg.Monitors {
				exec, err := engine.RunOnce(cmd.Context(), &cfg.Monitors[i])
				if err != nil {
					return err
				}
				if monitorJSON {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					if err := enc.Encode(exec); err != nil {
						return err
					}
				} else {
					printTick(exec)
				}
			}
			return nil
		}

		if monitorMetricsAddr != "" {
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", m.Handler())
				if err := http.ListenAndServe(monitorMetricsAddr, mux); err != nil {
					logger.Error("metrics server stopped", "err", err)
				}
			}()
			logger.Info("serving metrics", "addr", monitorMetricsAddr)
		}

		for i := range cfg.Monitors {
			if err := engine.Start(cfg.Monitors[i]); err != nil {
				engine.StopAll()
				return err
			}
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		engine.StopAll()
		return nil
	},
}

func printTick(exec *monitor.MonitoringExecution) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\n%s %s  %s\n", cyan("=== Tick"), cyan(exec.ConfigID), statusBadge(exec.Status))
	for _, tr := range exec.Targets {
		fmt.Printf("  %-20s %s  %s\n", tr.TargetID, targetBadge(tr.Status), gray(tr.Duration.Round(time.Millisecond).String()))
		for name, value := range tr.Metrics {
			trendNote := ""
			if trend, ok := tr.Trends[name]; ok {
				trendNote = gray(fmt.Sprintf("  trend=%s", trend.Direction))
			}
			fmt.Printf("      %-20s %10.2f%s\n", name, value, trendNote)
		}
		for _, issue := range tr.Issues {
			fmt.Printf("      %s %s\n", severityBadge(issue.Severity), issue.Message)
		}
	}
}

func statusBadge(s monitor.ExecutionStatus) string {
	if s == monitor.ExecutionCompleted {
		return color.New(color.FgGreen).Sprint(string(s))
	}
	return color.New(color.FgRed).Sprint(string(s))
}

func targetBadge(s monitor.TargetStatus) string {
	switch s {
	case monitor.TargetSuccess:
		return color.New(color.FgGreen).Sprint("ok")
	case monitor.TargetWarning:
		return color.New(color.FgYellow).Sprint("warning")
	case monitor.TargetCritical:
		return color.New(color.FgRed, color.Bold).Sprint("critical")
	default:
		return color.New(color.FgRed).Sprint("error")
	}
}

func init() {
	monitorCmd.Flags().BoolVar(&monitorOnce, "once", false, "tick each configuration once and exit")
	monitorCmd.Flags().BoolVar(&monitorJSON, "json", false, "with --once, emit tick records as JSON")
	monitorCmd.Flags().StringVar(&monitorMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	rootCmd.AddCommand(monitorCmd)
}
