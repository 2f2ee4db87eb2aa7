// Package gateway is the protocol router: it accepts persistent WebSocket
// connections, validates framed JSON requests against per-method schemas,
// and dispatches them to the method handlers that compose the run
// coordinator.
//
// # Protocol
//
// Frames are JSON objects over a persistent connection:
//
//	request:  {"type":"req",  "id":"...", "method":"...", "params":{...}}
//	response: {"type":"res",  "id":"...", "ok":true|false, "payload":{...}, "error":{...}}
//	push:     {"type":"event","event":"chat"|"agent", "payload":{...}}
//
// Methods: chat.send, chat.abort, chat.history, agent, agent.wait.
// Error codes: INVALID_REQUEST, UNAVAILABLE.
//
// # Reply strategies
//
// Most methods reply exactly once after the operation settles. The agent
// method replies twice: an immediate accepted acknowledgement carrying the
// runId, then the final result. The strategy is a per-method contract
// declared in the method table, not a universal protocol rule.
//
// # Connection handling
//
// Malformed frames and unknown methods are answered with INVALID_REQUEST
// and never terminate the connection. A closed connection is pruned from
// the observer set without disturbing in-flight runs.
package gateway
