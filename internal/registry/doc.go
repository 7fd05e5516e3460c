// Package registry is the single source of truth for "which file do I append
// to right now". It maps each project to its active segment and last-known
// chain state, and owns the per-project write lock that keeps appends and
// rotations single-writer.
//
// # Keyspace
//
// Registry state and the per-entry hash index live in Pebble, keyed
// byte-wise sortable:
//   - p/{project}/state                   (JSON project state)
//   - p/{project}/threshold              (runtime rotation threshold override)
//   - p/{project}/h/{seq_be8}/{idx_be8}  (expected chain hash per entry)
//
// The hash index is what lets verification name the exact entry where trust
// was lost: segment files carry no per-entry hashes (the line format is
// fixed), so the expected values are recorded here at append time.
//
// Project state is created on first append to an unseen project with a
// genesis chain value and sequence 0, updated on every append and rotation,
// and never deleted.
package registry
