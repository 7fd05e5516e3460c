// Package service is the log engine's façade: the only surface external
// collaborators (CLI, tool servers) call.
//
// Operations:
//
//   - Append: resolve the project's active segment, compute the next chain
//     hash, durably write the entry, commit the index, then run the
//     post-write rotation check. Returns the committed entry with its
//     content-derived id.
//   - Query: walk segments in chain order (oldest→newest, or reverse),
//     applying field filters and an optional CEL expression, returning one
//     page plus a continuation cursor.
//   - Rotate: force a rollover, or apply the threshold policy.
//   - Verify: replay the whole chain from genesis, cross-checking the stored
//     hash index, trailer hashes, header back-links and entry counts, and
//     report the first break.
//
// Appends and rotations for one project serialize on the registry's
// per-project lock. Queries and verification are read-only file walks and
// run concurrently with appends; they observe committed entries only.
package service
