// ABOUTME: Agent executor contract: invocation request/result and run events
// ABOUTME: The engine is opaque; cancellation travels on the context, failure on the returned error

package executor

import (
	"context"
	"encoding/json"
	"time"
)

// Stream classifies an executor event.
type Stream string

const (
	StreamLifecycle Stream = "lifecycle"
	StreamAssistant Stream = "assistant"
	StreamTool      Stream = "tool"
)

// Lifecycle phases carried in StreamLifecycle events.
const (
	PhaseStart = "start"
	PhaseEnd   = "end"
	PhaseError = "error"
)

// Event is one unit of executor output, tagged only by runId. Session
// attribution happens downstream in the relay.
type Event struct {
	RunID  string          `json:"runId"`
	Stream Stream          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// LifecycleData is the payload of StreamLifecycle events.
type LifecycleData struct {
	Phase   string    `json:"phase"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// AssistantData is the payload of StreamAssistant events.
type AssistantData struct {
	Text string `json:"text"`
}

// EventSink receives executor events as they are produced. Emit must not
// block; slow consumers are the sink's problem.
type EventSink interface {
	Emit(Event)
}

// Request carries everything the engine needs for one run.
type Request struct {
	Prompt         string
	SessionID      string
	SessionKey     string
	RunID          string
	ThinkLevel     string
	VerboseLevel   string
	TimeoutSeconds int
	Provider       string
	Model          string
}

// Payload is one piece of agent output.
type Payload struct {
	Text     string `json:"text"`
	MediaURL string `json:"mediaUrl,omitempty"`
}

// AgentMeta identifies the execution that produced a result.
type AgentMeta struct {
	SessionID string `json:"sessionId"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
}

// Meta carries execution metadata alongside the payloads.
type Meta struct {
	DurationMs int64     `json:"durationMs"`
	AgentMeta  AgentMeta `json:"agentMeta"`
}

// Result is a successful run outcome.
type Result struct {
	Payloads []Payload `json:"payloads"`
	Meta     Meta      `json:"meta"`
}

// Executor drives one run to completion. Cancellation is cooperative: the
// engine observes ctx and stops when asked; the gateway never force-kills it.
type Executor interface {
	Invoke(ctx context.Context, req Request) (*Result, error)
}

// EmitLifecycle sends a lifecycle event for runID to sink. Marshal errors
// cannot occur for LifecycleData, so they are ignored.
func EmitLifecycle(sink EventSink, runID, phase, message string) {
	if sink == nil {
		return
	}
	data, _ := json.Marshal(LifecycleData{
		Phase:   phase,
		Message: message,
		At:      time.Now().UTC(),
	})
	sink.Emit(Event{RunID: runID, Stream: StreamLifecycle, Data: data})
}

// EmitAssistant sends an assistant text event for runID to sink.
func EmitAssistant(sink EventSink, runID, text string) {
	if sink == nil {
		return
	}
	data, _ := json.Marshal(AssistantData{Text: text})
	sink.Emit(Event{RunID: runID, Stream: StreamAssistant, Data: data})
}
