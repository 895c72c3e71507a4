package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"audioforge/internal/policy"
)

// overridesCmd manages the tuning-override document
var overridesCmd = &cobra.Command{
	Use:   "overrides",
	Short: "Inspect and edit tuning overrides",
}

var overridesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the override document and its materialized view",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := policy.NewOverrideStore(cfg.OverridesPath())
		doc := store.Load()
		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))

		run := store.Materialize()
		fmt.Println("materialized for next run:")
		fmt.Printf("  chunk delta    %+.1f%%\n", run.ChunkDeltaPercent)
		if run.PreferredEngine != "" {
			fmt.Printf("  engine         %s\n", run.PreferredEngine)
		}
		if run.VoiceVariant != "" {
			fmt.Printf("  voice variant  %s\n", run.VoiceVariant)
		}
		if run.SuggestedRetries > 0 {
			fmt.Printf("  retries        %d\n", run.SuggestedRetries)
		}
		return nil
	},
}

var overrideReason string

var overridesSetCmd = &cobra.Command{
	Use:   "set [phase] [knob] [value]",
	Short: "Set one override knob",
	Long: `Sets a knob for a phase, for example:
  audioforge overrides set phase3 chunk_size.delta_percent 10
  audioforge overrides set phase4 engine.preferred kokoro
Numeric values are stored as numbers; everything else as strings. The
change is appended to the document's history.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		phase, knob, raw := args[0], args[1], args[2]
		var value any = raw
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			value = f
		}
		store := policy.NewOverrideStore(cfg.OverridesPath())
		if err := store.Set(phase, knob, value, overrideReason); err != nil {
			return err
		}
		fmt.Printf("set %s.%s = %v\n", phase, knob, value)
		return nil
	},
}

var overridesHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show accepted override changes, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		doc := policy.NewOverrideStore(cfg.OverridesPath()).Load()
		if len(doc.History) == 0 {
			fmt.Println("no history")
			return nil
		}
		for _, h := range doc.History {
			fmt.Printf("  %s  %-8s %-32s %v  %s\n", h.Timestamp, h.Phase, h.Knob, h.Value, h.Reason)
		}
		return nil
	},
}

func init() {
	overridesSetCmd.Flags().StringVar(&overrideReason, "reason", "manual", "reason recorded in history")
	overridesCmd.AddCommand(overridesShowCmd)
	overridesCmd.AddCommand(overridesSetCmd)
	overridesCmd.AddCommand(overridesHistoryCmd)
}
