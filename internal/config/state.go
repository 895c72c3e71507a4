package config

// StateConfig configures the atomic state store.
type StateConfig struct {
	// Path overrides the pipeline.json location (default <project_root>/pipeline.json).
	Path string `yaml:"path"`

	// LockTimeoutSeconds bounds advisory lock acquisition.
	LockTimeoutSeconds int `yaml:"lock_timeout_seconds"`

	// BackupBeforeWrite copies the state file before every replace.
	BackupBeforeWrite bool `yaml:"backup_before_write"`

	// BackupRetain is how many backups survive rotation.
	BackupRetain int `yaml:"backup_retain"`
}

// DefaultStateConfig returns the built-in state-store settings.
func DefaultStateConfig() StateConfig {
	return StateConfig{
		LockTimeoutSeconds: 10,
		BackupBeforeWrite:  true,
		BackupRetain:       50,
	}
}
