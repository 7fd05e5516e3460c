// Package config provides loading and environment overlay for the Scribe log
// engine's configuration. It exposes a Default() baseline, file loading for
// JSON and YAML (by extension), and a SCRIBE_* environment overlay.
//
// Example:
//
//	cfg := config.Default()
//	if fileCfg, err := config.Load("/etc/scribelog.yaml"); err == nil {
//	    cfg = fileCfg
//	}
//	config.FromEnv(&cfg)
//	rt, _ := runtime.Open(runtime.Options{DataDir: config.DefaultDataDir(), Config: cfg})
//	defer rt.Close()
package config
