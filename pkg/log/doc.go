// Package log provides Scribe's structured logging facade.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. Internally it is backed by Go's standard
// library slog with text or JSON handlers, so output stays consistent across
// the CLI and the log engine while callers code against the facade only.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormat(log.TextFormat),
//	)
//	l = l.With(log.Component("registry"), log.Str("project", "demo"))
//	l.Info("segment rotated", log.Uint64("sequence", 3))
//
// # Interop
//
// RedirectStdLog routes standard library logging (used by Pebble) through a
// Logger so nothing writes to stderr behind the facade's back.
package log
