package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aristath/structured/internal/executor"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*RuntimeConfig, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GlobalPath returns ~/.structured/config.json.
func GlobalPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, ".structured", "config.json"), nil
}

// ProjectPath is the project config location, relative to the working directory.
const ProjectPath = ".structured/config.json"

// LoadDefault loads configuration from conventional paths.
// Global: ~/.structured/config.json
// Project: .structured/config.json (relative to cwd)
func LoadDefault() (*RuntimeConfig, error) {
	globalPath, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	return Load(globalPath, filepath.FromSlash(ProjectPath))
}

// mergeConfigFile decodes a JSON config file over base. Keys present in the
// file win; named executors are merged by name.
// Missing files are silently skipped. Malformed JSON returns an error.
func mergeConfigFile(base *RuntimeConfig, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if err := json.Unmarshal(data, base); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// Validate checks values that cannot be merged blindly.
func (c *RuntimeConfig) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if _, err := executor.ParsePriority(c.DefaultPriority); err != nil {
		return fmt.Errorf("default_priority: %w", err)
	}
	if c.DeadlockTimeoutMs < 0 {
		return fmt.Errorf("deadlock_timeout_ms must not be negative, got %d", c.DeadlockTimeoutMs)
	}
	for name, ec := range c.Executors {
		switch ec.Mode {
		case "serial":
		case "concurrent":
			if ec.Workers < 0 {
				return fmt.Errorf("executor %q: workers must not be negative", name)
			}
		default:
			return fmt.Errorf("executor %q: unknown mode %q", name, ec.Mode)
		}
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must not be negative, got %d", c.Retry.MaxAttempts)
	}
	return nil
}
