package entry

import (
	"fmt"
	"time"
)

// Severity is the status tag of an audit entry. The on-disk marker is a glyph
// from a closed set, not free text.
type Severity int

// Severity levels
const (
	Info Severity = iota
	Success
	Warning
	Error
	Critical
)

// String returns the lowercase name of the severity.
func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Success:
		return "success"
	case Warning:
		return "warning"
	case Error:
		return "error"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// Glyph returns the on-disk status marker.
func (s Severity) Glyph() string {
	switch s {
	case Info:
		return "ℹ️"
	case Success:
		return "✅"
	case Warning:
		return "⚠️"
	case Error:
		return "❌"
	case Critical:
		return "🚨"
	default:
		return "ℹ️"
	}
}

// ParseSeverity maps a severity name to a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "", "info":
		return Info, nil
	case "success":
		return Success, nil
	case "warning", "warn":
		return Warning, nil
	case "error":
		return Error, nil
	case "critical":
		return Critical, nil
	default:
		return Info, fmt.Errorf("entry: unknown severity %q", s)
	}
}

// parseMarker maps an on-disk marker to a Severity. Glyphs are canonical;
// the bracketed word forms were written by earlier Scribe releases and are
// still accepted on decode.
func parseMarker(m string) (Severity, bool) {
	switch m {
	case "ℹ️", "ℹ", "INFO":
		return Info, true
	case "✅", "OK", "SUCCESS":
		return Success, true
	case "⚠️", "⚠", "WARN", "WARNING":
		return Warning, true
	case "❌", "FAIL", "ERROR":
		return Error, true
	case "🚨", "CRIT", "CRITICAL":
		return Critical, true
	default:
		return Info, false
	}
}

// TimeLayout is the fixed timestamp format used on disk. Entries are always
// recorded in UTC at second precision.
const TimeLayout = "2006-01-02 15:04:05 UTC"

// Pair is one metadata key/value. Pair order is preserved through the codec.
type Pair struct {
	Key   string
	Value string
}

// Entry is one immutable audit record. Once durably appended it is never
// edited or deleted; correction is expressed as a new entry.
type Entry struct {
	Severity  Severity
	Timestamp time.Time
	Agent     string
	Project   string
	// ID is an opaque content-derived identifier assigned at append time.
	// Empty on entries decoded from older segments.
	ID       string
	Message  string
	Metadata []Pair
}

// Meta returns the value for a metadata key, if present.
func (e Entry) Meta(key string) (string, bool) {
	for _, p := range e.Metadata {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// MetaMap materializes the metadata pairs as a map (pair order lost).
func (e Entry) MetaMap() map[string]string {
	if len(e.Metadata) == 0 {
		return nil
	}
	m := make(map[string]string, len(e.Metadata))
	for _, p := range e.Metadata {
		m[p.Key] = p.Value
	}
	return m
}
