package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"audioforge/internal/policy"
)

var adviseJSON bool

// adviseCmd prints current tuning advice from the policy logs
var adviseCmd = &cobra.Command{
	Use:   "advise",
	Short: "Compute tuning advice from the policy logs",
	Long: `Reads the policy event logs, computes rolling statistics over the
most recent window per phase, and prints the advisor's suggestions,
alerts, and reward summary. The advisor is read-only; nothing here
changes pipeline behavior until an override is accepted.`,
	RunE: runAdvise,
}

func init() {
	adviseCmd.Flags().BoolVar(&adviseJSON, "json", false, "emit the full advice bundle as JSON")
}

func runAdvise(cmd *cobra.Command, args []string) error {
	advisor := policy.NewAdvisor(cfg.PolicyLogRoot())
	advisor.SetWindow(cfg.Policy.RollingWindow)
	bundle, err := advisor.Advise(context.Background())
	if err != nil {
		return err
	}

	if adviseJSON {
		out, err := json.MarshalIndent(bundle, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("advice at %s over %d events\n", bundle.GeneratedAt, bundle.EventCount)

	if len(bundle.Suggestions) == 0 {
		fmt.Println("  no suggestions")
	}
	keys := make([]string, 0, len(bundle.Suggestions))
	for k := range bundle.Suggestions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s := bundle.Suggestions[k]
		fmt.Printf("  %-14s %-8s conf %.2f  %s\n", k, s.Action, s.Confidence, s.Reason)
	}

	for _, alert := range bundle.Alerts {
		fmt.Printf("  ! %s\n", alert)
	}

	fmt.Printf("  reward: avg %.3f over %d runs", bundle.Reward.Average, bundle.Reward.Count)
	if len(bundle.Reward.SafetyFlags) > 0 {
		fmt.Printf("  flags %v", bundle.Reward.SafetyFlags)
	}
	fmt.Println()

	phases := make([]string, 0, len(bundle.Telemetry))
	for k := range bundle.Telemetry {
		phases = append(phases, k)
	}
	sort.Strings(phases)
	for _, k := range phases {
		stats := bundle.Telemetry[k]
		if stats.Durations.Count == 0 {
			continue
		}
		fmt.Printf("  %-9s n=%-3d mean %.0fms p95 %.0fms fail-rate %.0f%%\n",
			k, stats.Durations.Count, stats.Durations.Mean, stats.Durations.P95, stats.FailureRate()*100)
	}
	return nil
}
