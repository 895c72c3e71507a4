// Package config holds all audioforge configuration: defaults, YAML
// loading, and environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"audioforge/internal/logging"
)

// Config holds all audioforge configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// ProjectRoot is the directory holding pipeline.json and .pipeline/.
	ProjectRoot string `yaml:"project_root"`

	// State store settings
	State StateConfig `yaml:"state"`

	// Policy logger + advisor settings
	Policy PolicyConfig `yaml:"policy"`

	// Phase runner settings
	Runner RunnerConfig `yaml:"runner"`

	// Orchestrator settings
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`

	// Diagnostic logging
	Logging logging.Options `yaml:"logging"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:         "audioforge",
		Version:      "1.0.0",
		ProjectRoot:  ".",
		State:        DefaultStateConfig(),
		Policy:       DefaultPolicyConfig(),
		Runner:       DefaultRunnerConfig(),
		Orchestrator: DefaultOrchestratorConfig(),
		Logging: logging.Options{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads configuration from a YAML file, layering it over the defaults
// and then applying environment overrides. A missing file yields defaults
// plus environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides layers recognized environment variables over the
// loaded configuration.
func (c *Config) applyEnvOverrides() {
	if root := os.Getenv("MONOREPO_ROOT"); root != "" {
		c.Runner.MonorepoRoot = root
	}
	if dir := os.Getenv("POLICY_LOG_ROOT"); dir != "" {
		c.Policy.LogRoot = dir
	}
	if path := os.Getenv("AUDIOFORGE_STATE_PATH"); path != "" {
		c.State.Path = path
	}
	if root := os.Getenv("AUDIOFORGE_PROJECT_ROOT"); root != "" {
		c.ProjectRoot = root
	}
}

// StatePath resolves the pipeline.json location.
func (c *Config) StatePath() string {
	if c.State.Path != "" {
		return c.State.Path
	}
	return filepath.Join(c.ProjectRoot, "pipeline.json")
}

// PolicyLogRoot resolves the policy-log directory.
func (c *Config) PolicyLogRoot() string {
	if c.Policy.LogRoot != "" {
		return c.Policy.LogRoot
	}
	return filepath.Join(c.ProjectRoot, ".pipeline", "policy_logs")
}

// OverridesPath resolves the tuning-overrides document location.
func (c *Config) OverridesPath() string {
	if c.Policy.OverridesPath != "" {
		return c.Policy.OverridesPath
	}
	return filepath.Join(c.ProjectRoot, ".pipeline", "tuning_overrides.json")
}

// ArchiveRoot resolves the audiobook archive directory.
func (c *Config) ArchiveRoot() string {
	if c.Orchestrator.ArchiveRoot != "" {
		return c.Orchestrator.ArchiveRoot
	}
	return filepath.Join(c.ProjectRoot, "audiobooks")
}
