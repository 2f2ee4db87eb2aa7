// Package relay turns executor output into observer events.
//
// # Overview
//
// Executor events are tagged only with a runId. The relay resolves the
// owning sessionKey through the run context side table, assigns a strictly
// increasing per-run sequence number, and rebroadcasts as session-scoped
// "chat" events (assistant stream plus terminal states final/aborted/error)
// and "agent" events (raw tool/lifecycle telemetry) through an in-memory
// fan-out broadcaster.
//
// The relay also remembers terminal lifecycle events per run so a waiter
// can resolve immediately for runs that finished before it asked.
//
// # Ordering
//
// The guarantee is per-run only: two runs on the same session may
// interleave freely, but a single run's events, including its terminal
// event, are never reordered against each other.
package relay
