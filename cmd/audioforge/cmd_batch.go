package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"audioforge/internal/orchestrator"
)

var (
	batchMaxWorkers int
	batchNoResume   bool
	batchVoice      string
	batchEngine     string
)

// batchCmd runs the pipeline for several inputs sharing one state file
var batchCmd = &cobra.Command{
	Use:   "batch [input-file...]",
	Short: "Run the pipeline for multiple inputs in parallel",
	Long: `Runs the full pipeline once per input, up to max-workers in
parallel. All workers share the single pipeline.json; the state store
serializes their commits. One batch record summarizing every file is
appended at the end.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().IntVar(&batchMaxWorkers, "max-workers", 0, "parallel workers (default from config)")
	batchCmd.Flags().BoolVar(&batchNoResume, "no-resume", false, "ignore prior successful phases")
	batchCmd.Flags().StringVar(&batchVoice, "voice", "", "override voice selection for every file")
	batchCmd.Flags().StringVar(&batchEngine, "engine", "", "force TTS engine")
}

func runBatch(cmd *cobra.Command, args []string) error {
	if batchMaxWorkers > 0 {
		cfg.Orchestrator.MaxWorkers = batchMaxWorkers
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

	batch, err := orch.RunBatch(ctx, args, orchestrator.RunRequest{
		Voice:  batchVoice,
		Engine: batchEngine,
		Resume: !batchNoResume,
	})
	if err != nil {
		return err
	}

	fmt.Printf("batch %s: %d ok, %d failed, %d skipped in %.1fs\n",
		batch.RunID, batch.Successful, batch.Failed, batch.Skipped, batch.DurationMS/1000)
	for fileID, summary := range batch.Files {
		status := "failed"
		if summary != nil && summary.Success {
			status = "ok"
		}
		fmt.Printf("  %-30s %s\n", fileID, status)
	}
	if !batch.Success() {
		return fmt.Errorf("%d of %d files failed", batch.Failed, len(batch.Files))
	}
	return nil
}
