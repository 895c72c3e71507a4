package config

// RunnerConfig configures phase subprocess execution.
type RunnerConfig struct {
	// MonorepoRoot is the project root hint for phase-executable discovery.
	// The MONOREPO_ROOT environment variable wins.
	MonorepoRoot string `yaml:"monorepo_root"`

	// InstallTimeoutSeconds bounds dependency installation for phases 1-3.
	InstallTimeoutSeconds int `yaml:"install_timeout_seconds"`

	// RunTimeoutSeconds bounds execution for phases 1-3.
	RunTimeoutSeconds int `yaml:"run_timeout_seconds"`

	// ChunkTimeoutSeconds bounds one phase-4 synthesis chunk.
	ChunkTimeoutSeconds int `yaml:"chunk_timeout_seconds"`

	// EnhanceTimeoutSeconds bounds phase-5 enhancement.
	EnhanceTimeoutSeconds int `yaml:"enhance_timeout_seconds"`

	// SubtitleTimeoutSeconds bounds phase-5.5 subtitle generation.
	SubtitleTimeoutSeconds int `yaml:"subtitle_timeout_seconds"`

	// DefaultEngine is the primary TTS engine (xtts or kokoro).
	DefaultEngine string `yaml:"default_engine"`

	// DisableFallback turns off secondary-engine fallback in phase 4.
	DisableFallback bool `yaml:"disable_fallback"`

	// ConcatThreshold is the enhanced-chunk count at which phase 5 attempts
	// the concat-only fast path.
	ConcatThreshold int `yaml:"concat_threshold"`
}

// DefaultRunnerConfig returns the built-in runner settings.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		InstallTimeoutSeconds:  300,
		RunTimeoutSeconds:      18000,
		ChunkTimeoutSeconds:    1200,
		EnhanceTimeoutSeconds:  1800,
		SubtitleTimeoutSeconds: 3600,
		DefaultEngine:          "xtts",
		ConcatThreshold:        100,
	}
}
