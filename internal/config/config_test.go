package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultThreshold(t *testing.T) {
	cfg := Default()
	if cfg.RotationThreshold != 200 {
		t.Fatalf("default threshold: want 200 got %d", cfg.RotationThreshold)
	}
	if cfg.ThresholdFor("anything") != 200 {
		t.Fatalf("ThresholdFor should fall back to default")
	}
}

func TestThresholdOverride(t *testing.T) {
	cfg := Default()
	cfg.ProjectThresholds = map[string]int{"demo": 50}
	if got := cfg.ThresholdFor("demo"); got != 50 {
		t.Fatalf("want 50 got %d", got)
	}
	if got := cfg.ThresholdFor("other"); got != 200 {
		t.Fatalf("want 200 got %d", got)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json")
	if err := os.WriteFile(path, []byte(`{"rotationThreshold": 25, "log": {"level": "debug"}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RotationThreshold != 25 || cfg.Log.Level != "debug" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	// untouched fields keep defaults
	if cfg.QueryPageSize != 100 {
		t.Fatalf("want default page size, got %d", cfg.QueryPageSize)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	body := "rotationThreshold: 10\nprojectThresholds:\n  demo: 3\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RotationThreshold != 10 || cfg.ProjectThresholds["demo"] != 3 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("SCRIBE_ROTATION_THRESHOLD", "77")
	t.Setenv("SCRIBE_PROJECT_THRESHOLDS", "demo=5, infra=500")
	t.Setenv("SCRIBE_LOG_LEVEL", "warn")
	cfg := Default()
	FromEnv(&cfg)
	if cfg.RotationThreshold != 77 {
		t.Fatalf("env threshold not applied: %d", cfg.RotationThreshold)
	}
	if cfg.ProjectThresholds["demo"] != 5 || cfg.ProjectThresholds["infra"] != 500 {
		t.Fatalf("env project thresholds not applied: %+v", cfg.ProjectThresholds)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("env log level not applied: %q", cfg.Log.Level)
	}
}
