package config

// OrchestratorConfig configures the top-level control loop.
type OrchestratorConfig struct {
	// MaxRetries is the per-phase retry budget.
	MaxRetries int `yaml:"max_retries"`

	// MaxWorkers bounds the batch worker pool.
	MaxWorkers int `yaml:"max_workers"`

	// ArchiveRoot overrides the audiobook archive directory
	// (default <project_root>/audiobooks).
	ArchiveRoot string `yaml:"archive_root"`

	// DefaultVoice is used when no override routes a file.
	DefaultVoice string `yaml:"default_voice"`

	// EnableSubtitles runs phase 5.5 after a successful phase 5.
	EnableSubtitles bool `yaml:"enable_subtitles"`
}

// DefaultOrchestratorConfig returns the built-in orchestrator settings.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxRetries:   2,
		MaxWorkers:   2,
		DefaultVoice: "narrator_default",
	}
}
