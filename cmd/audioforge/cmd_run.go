package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"audioforge/internal/orchestrator"
	"audioforge/internal/schema"
)

var (
	runPhases     []string
	runNoResume   bool
	runMaxRetries int
	runVoice      string
	runEngine     string
	runSubtitles  bool
	runConcatOnly bool
)

// runCmd executes the pipeline for one input file
var runCmd = &cobra.Command{
	Use:   "run [input-file]",
	Short: "Run the audiobook pipeline for one input file",
	Long: `Runs the requested phases (default 1-5) for a single input.
Phases whose recorded result is still valid are skipped unless
--no-resume is given. Exit code 0 means full success; the first
unrecoverable phase failure exits 1.`,
	Args: cobra.ExactArgs(1),
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().StringSliceVar(&runPhases, "phases", nil, "restrict to listed phases (e.g. 1,2,3)")
	runCmd.Flags().BoolVar(&runNoResume, "no-resume", false, "ignore prior successful phases")
	runCmd.Flags().IntVar(&runMaxRetries, "max-retries", 0, "per-phase retry budget (default from config)")
	runCmd.Flags().StringVar(&runVoice, "voice", "", "override voice selection")
	runCmd.Flags().StringVar(&runEngine, "engine", "", "force TTS engine (xtts or kokoro)")
	runCmd.Flags().BoolVar(&runSubtitles, "enable-subtitles", false, "run subtitle generation after enhancement")
	runCmd.Flags().BoolVar(&runConcatOnly, "concat-only", false, "assemble the audiobook from existing enhanced chunks, skipping re-enhancement")
}

// phaseArg maps CLI phase spellings to schema keys.
var phaseArg = map[string]schema.PhaseKey{
	"1": schema.Phase1, "phase1": schema.Phase1,
	"2": schema.Phase2, "phase2": schema.Phase2,
	"3": schema.Phase3, "phase3": schema.Phase3,
	"4": schema.Phase4, "phase4": schema.Phase4,
	"5": schema.Phase5, "phase5": schema.Phase5,
	"5.5": schema.Phase5_5, "5_5": schema.Phase5_5, "phase5_5": schema.Phase5_5,
}

func parsePhases(specs []string) ([]schema.PhaseKey, error) {
	var phases []schema.PhaseKey
	for _, s := range specs {
		key, ok := phaseArg[s]
		if !ok {
			return nil, fmt.Errorf("unknown phase %q", s)
		}
		phases = append(phases, key)
	}
	return phases, nil
}

// signalContext cancels on SIGINT/SIGTERM. Cancellation is observed
// between phases; a running phase subprocess finishes first.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	phases, err := parsePhases(runPhases)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	orch := orchestrator.New(cfg)
	defer orch.Close()
	if cfg.Policy.WatchLogs {
		if werr := orch.Advisor().Watch(ctx); werr != nil {
			logger.Warn("policy log watcher", zap.Error(werr))
		}
	}
	orch.Progress = func(phase schema.PhaseKey, pct int, msg string) {
		logger.Info("progress",
			zap.String("phase", string(phase)),
			zap.Int("pct", pct),
			zap.String("msg", msg))
	}

	summary, err := orch.Run(ctx, orchestrator.RunRequest{
		InputPath:       args[0],
		Voice:           runVoice,
		Engine:          runEngine,
		Phases:          phases,
		Resume:          !runNoResume,
		ConcatOnly:      runConcatOnly,
		MaxRetries:      runMaxRetries,
		EnableSubtitles: runSubtitles,
	})
	printRunSummary(summary)
	if err != nil {
		return err
	}
	if !summary.Success {
		return fmt.Errorf("pipeline failed for %s", summary.FileID)
	}
	return nil
}

func printRunSummary(summary *orchestrator.RunSummary) {
	if summary == nil {
		return
	}
	fmt.Printf("run %s: file %s\n", summary.RunID, summary.FileID)
	for _, phase := range schema.PhaseOrder {
		m, ok := summary.Phases[phase]
		if !ok {
			continue
		}
		note := ""
		if m.Skipped {
			note = " (reused)"
		} else if m.FellBack {
			note = " (fallback engine)"
		}
		fmt.Printf("  %-9s %-8s %8.0fms%s\n", phase, m.Status, m.DurationMS, note)
	}
	for _, e := range summary.Errors {
		fmt.Printf("  error: %s\n", e)
	}
	if summary.ArchivePath != "" {
		fmt.Printf("  archived: %s\n", summary.ArchivePath)
	}
	if summary.Success {
		fmt.Printf("  ok in %.1fs\n", summary.DurationMS/1000)
	}
}
