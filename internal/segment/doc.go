// Package segment implements one physical log file of a project's audit
// chain: an append-only window of entry lines framed by structured metadata
// blocks.
//
// # File layout
//
// A segment file is plain text. It opens with a '#'-prefixed header block
// recording the segment's position in the project chain (sequence, rotation
// id, and for non-root segments the previous segment's path, trailer hash and
// entry count; the root segment records the project's genesis hash instead).
// Entry lines follow, one per append. When rotation closes the segment, a
// '#'-prefixed trailer block is appended, freezing the closing chain hash and
// entry count and pointing at the successor file. A segment with a trailer is
// closed; appends to it fail with ErrClosed.
//
// # Durability and recovery
//
// Append writes the encoded line and fsyncs before returning; a failed write
// truncates back to the pre-append offset so the in-memory chain state never
// runs ahead of the file. After an unclean shutdown the final line may be
// torn: a last line that is unterminated or undecodable is treated as
// not-yet-committed, excluded from reads, and truncated away the next time
// the segment is opened for appending.
//
// Writers are single-threaded per project; the registry's per-project lock
// guards every mutating call.
package segment
