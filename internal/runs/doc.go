// Package runs tracks live agent runs.
//
// # Overview
//
// A Run is one execution of the agent for a single request, identified by
// the caller-supplied idempotency key acting as its runId. The Registry
// holds cancellation for each live run; records are inserted on accept and
// removed on any terminal outcome, so only the owning run's lifecycle
// mutates its record and no cross-run locking is needed.
//
// The Contexts side table maps runId to sessionKey. It is written by the
// coordinator before execution starts and read by the event relay, which
// does not own execution, to attribute executor events tagged only with a
// runId.
package runs
