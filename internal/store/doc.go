// Package store persists per-conversation session state as a single JSON
// document on disk.
//
// # Overview
//
// Sessions are keyed by an opaque sessionKey and map to a SessionEntry. The
// whole document is loaded, one entry is mutated, and the whole document is
// written back atomically (temp file + rename). A store-level mutex
// serializes concurrent mutators so no update is lost.
//
// # Invariants
//
//   - One entry per sessionKey.
//   - An entry's sessionId never changes once set, except by explicit
//     resumption.
//   - Mutators always see the freshly loaded entry, so fields they do not
//     touch survive the write.
package store
