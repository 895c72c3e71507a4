package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"audioforge/internal/config"
	"audioforge/internal/logging"
)

var (
	// Global flags
	verbose      bool
	configPath   string
	pipelineJSON string

	// Loaded configuration, available to every subcommand
	cfg *config.Config

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "audioforge",
	Short: "audioforge - audiobook pipeline orchestrator",
	Long: `audioforge drives the multi-phase audiobook production pipeline:
text extraction, cleaning, semantic chunking, TTS synthesis, and audio
enhancement. All pipeline state lives in a single atomically-updated
pipeline.json; every phase transition is recorded in append-only policy
logs that feed a tuning advisor.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if pipelineJSON != "" {
			cfg.State.Path = pipelineJSON
		}
		if verbose {
			cfg.Logging.DebugMode = true
		}
		if err := logging.Initialize(cfg.ProjectRoot, cfg.Logging); err != nil {
			return fmt.Errorf("failed to initialize diagnostics: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to audioforge.yaml")
	rootCmd.PersistentFlags().StringVar(&pipelineJSON, "pipeline-json", "", "override state file location")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(adviseCmd)
	rootCmd.AddCommand(overridesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
