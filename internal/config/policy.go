package config

// PolicyConfig configures the policy event log and the advisor.
type PolicyConfig struct {
	// LogRoot overrides the policy-log directory
	// (default <project_root>/.pipeline/policy_logs). The POLICY_LOG_ROOT
	// environment variable wins over both.
	LogRoot string `yaml:"log_root"`

	// OverridesPath overrides the tuning_overrides.json location.
	OverridesPath string `yaml:"overrides_path"`

	// LearningMode is stamped on every policy event (default "observe").
	LearningMode string `yaml:"learning_mode"`

	// PolicyVersion is stamped on every policy event.
	PolicyVersion string `yaml:"policy_version"`

	// RollingWindow is the per-phase sliding window for advisor statistics.
	RollingWindow int `yaml:"rolling_window"`

	// WatchLogs enables the fsnotify watcher that invalidates advisor
	// statistics as soon as new events land, instead of waiting for the
	// next snapshot-token check.
	WatchLogs bool `yaml:"watch_logs"`
}

// DefaultPolicyConfig returns the built-in policy settings.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		LearningMode:  "observe",
		PolicyVersion: "v1",
		RollingWindow: 40,
	}
}
