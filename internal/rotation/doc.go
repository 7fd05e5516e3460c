// Package rotation rolls a project's active segment over when it fills,
// preserving chain linkage across the file boundary.
//
// A rotation closes the current segment (writing its trailer, which freezes
// the final chain hash and entry count), creates the successor segment with a
// header pointing back at the closed one, and commits the registry's active
// pointer to the successor. The three effects become visible together: the
// successor is created before the trailer is written, and any failure before
// the registry commit unwinds what was done, leaving the registry pointing at
// the old, still-open segment. Closed segments are never truncated or
// deleted; they become read-only history.
//
// An optional Hook observes closed segments, a seam for archival or export
// tooling. The default is a no-op.
package rotation
