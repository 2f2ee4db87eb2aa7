// Package history reads per-session transcripts: append-only files with one
// JSON message record per line, written by the executor and read-only from
// the gateway's perspective. Output is capped by message count and by
// serialized size so a single response can never exhaust a connection.
package history
