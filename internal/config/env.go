package config

import (
	"os"
	"strconv"
	"strings"
)

// FromEnv overlays SCRIBE_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("SCRIBE_ROTATION_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RotationThreshold = n
		}
	}
	if v := os.Getenv("SCRIBE_PROJECT_NAME_REGEX"); v != "" {
		cfg.ProjectNameRegex = v
	}
	if v := os.Getenv("SCRIBE_QUERY_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.QueryPageSize = n
		}
	}
	if v := os.Getenv("SCRIBE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SCRIBE_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	// Per-project overrides: SCRIBE_PROJECT_THRESHOLDS="demo=50,infra=500"
	if v := os.Getenv("SCRIBE_PROJECT_THRESHOLDS"); v != "" {
		if cfg.ProjectThresholds == nil {
			cfg.ProjectThresholds = map[string]int{}
		}
		for _, pair := range strings.Split(v, ",") {
			k, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok {
				continue
			}
			if n, err := strconv.Atoi(val); err == nil && n > 0 {
				cfg.ProjectThresholds[k] = n
			}
		}
	}
}
