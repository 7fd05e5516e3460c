package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	// RotationThreshold is the default entry count at which an active segment
	// rolls over. Overridable per project.
	RotationThreshold int `json:"rotationThreshold" yaml:"rotationThreshold"`
	// ProjectThresholds overrides RotationThreshold for named projects.
	ProjectThresholds map[string]int `json:"projectThresholds" yaml:"projectThresholds"`
	// ProjectNameRegex constrains project identifiers accepted by the registry.
	ProjectNameRegex string `json:"projectNameRegex" yaml:"projectNameRegex"`
	// QueryPageSize caps the number of entries returned per query page when the
	// caller does not set a limit.
	QueryPageSize int `json:"queryPageSize" yaml:"queryPageSize"`
	Log           Log `json:"log" yaml:"log"`
}

// Log captures logging configuration.
type Log struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns built-in defaults. The rotation threshold follows the
// operational guideline of rolling segments as they near 200 entries.
func Default() Config {
	return Config{
		RotationThreshold: 200,
		ProjectNameRegex:  "[a-zA-Z0-9-_]{1,64}",
		QueryPageSize:     100,
		Log:               Log{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If path
// is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// ThresholdFor resolves the rotation threshold for a project, falling back to
// the configured default when no override is present.
func (c Config) ThresholdFor(project string) int {
	if t, ok := c.ProjectThresholds[project]; ok && t > 0 {
		return t
	}
	if c.RotationThreshold > 0 {
		return c.RotationThreshold
	}
	return Default().RotationThreshold
}
