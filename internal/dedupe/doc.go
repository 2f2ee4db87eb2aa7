// Package dedupe provides the idempotency cache: terminal run results keyed
// by the client-supplied idempotency key, written once and replayed to any
// later request bearing the same key. Entries are bounded by TTL and a
// maximum size to keep memory use predictable under long uptimes.
package dedupe
