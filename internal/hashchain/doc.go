// Package hashchain computes the cryptographic links of the audit log chain.
//
// Every entry's durable hash is SHA-256 over the previous hash's textual form
// concatenated with the entry's canonical encoded bytes, rendered as
// "sha256:<hex>". The first entry of a segment links from the previous
// segment's trailer hash; the very first entry of a project links from a
// fixed per-project genesis value. A segment's trailer hash is simply the
// chain's running value at closure, which is what makes cross-file
// verification possible without replaying every segment when only checking
// continuity.
package hashchain
