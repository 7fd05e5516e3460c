// Package runtime assembles the log engine's storage stack into a ready
// service façade: one pebble index, one project registry, one rotation
// manager. Embedders and the CLI open a Runtime, use its Service, and close
// it on shutdown.
package runtime
