// Package entry defines the audit log entry type and its on-disk line codec.
//
// # Format
//
// Every entry is one text line:
//
//	[GLYPH] [YYYY-MM-DD HH:MM:SS UTC] [Agent: name] [Project: proj] [ID: hex] message | k=v; k2=v2
//
// The severity marker is a glyph from a closed set. The [ID: ...] field and
// the metadata suffix are optional. Decoding tolerates historical drift
// (missing ID field, legacy word-form severity markers) but rejects lines
// missing timestamp, agent, project, or message.
//
// The codec round-trips: Decode(Encode(e)) == e for every entry Encode
// accepts, including metadata pair order.
package entry
