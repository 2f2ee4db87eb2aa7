// ABOUTME: Event relay attributing executor events to sessions and sequencing them per run
// ABOUTME: Rebroadcasts chat/agent events to observers and records terminal lifecycle data

package relay

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/2389/beacon-gateway/internal/executor"
	"github.com/2389/beacon-gateway/internal/runs"
)

// Chat event terminal states.
const (
	StateDelta   = "delta"
	StateFinal   = "final"
	StateAborted = "aborted"
	StateError   = "error"
)

// ChatEvent is the session-scoped view of a run's progress.
type ChatEvent struct {
	RunID        string `json:"runId"`
	SessionKey   string `json:"sessionKey"`
	Seq          int64  `json:"seq"`
	State        string `json:"state"`
	Text         string `json:"text,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// AgentEvent carries raw tool/lifecycle telemetry for a run.
type AgentEvent struct {
	RunID      string          `json:"runId"`
	SessionKey string          `json:"sessionKey"`
	Seq        int64           `json:"seq"`
	Stream     string          `json:"stream"`
	Data       json.RawMessage `json:"data"`
}

// Relay consumes executor events and rebroadcasts them to observers. It
// implements executor.EventSink.
type Relay struct {
	contexts    *runs.Contexts
	broadcaster *Broadcaster
	logger      *slog.Logger

	mu     sync.Mutex
	seqs   map[string]int64
	status map[string]*runStatus
}

// New creates a relay reading session attribution from contexts and
// publishing through broadcaster.
func New(contexts *runs.Contexts, broadcaster *Broadcaster, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		contexts:    contexts,
		broadcaster: broadcaster,
		logger:      logger.With("component", "relay"),
		seqs:        make(map[string]int64),
		status:      make(map[string]*runStatus),
	}
}

// Emit attributes one executor event to its session, sequences it, and
// rebroadcasts. Events whose runId has no bound session context are dropped:
// they belong to no run this gateway accepted.
func (r *Relay) Emit(ev executor.Event) {
	sessionKey, ok := r.contexts.Lookup(ev.RunID)
	if !ok {
		r.logger.Debug("dropping unattributable event",
			"run_id", ev.RunID,
			"stream", ev.Stream)
		return
	}

	switch ev.Stream {
	case executor.StreamLifecycle:
		r.emitLifecycle(ev, sessionKey)
	case executor.StreamAssistant:
		var data executor.AssistantData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			r.logger.Warn("malformed assistant event", "run_id", ev.RunID, "error", err)
			return
		}
		r.publishChat(&ChatEvent{
			RunID:      ev.RunID,
			SessionKey: sessionKey,
			Seq:        r.nextSeq(ev.RunID),
			State:      StateDelta,
			Text:       data.Text,
		})
	case executor.StreamTool:
		r.publishAgent(&AgentEvent{
			RunID:      ev.RunID,
			SessionKey: sessionKey,
			Seq:        r.nextSeq(ev.RunID),
			Stream:     string(ev.Stream),
			Data:       ev.Data,
		})
	default:
		r.logger.Warn("unknown event stream", "run_id", ev.RunID, "stream", ev.Stream)
	}
}

// emitLifecycle records start/end/error in the wait index and rebroadcasts:
// lifecycle telemetry always goes out as an agent event, and terminal phases
// additionally produce the session's chat final/error event.
func (r *Relay) emitLifecycle(ev executor.Event, sessionKey string) {
	var data executor.LifecycleData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		r.logger.Warn("malformed lifecycle event", "run_id", ev.RunID, "error", err)
		return
	}

	r.recordLifecycle(ev.RunID, data)

	r.publishAgent(&AgentEvent{
		RunID:      ev.RunID,
		SessionKey: sessionKey,
		Seq:        r.nextSeq(ev.RunID),
		Stream:     string(ev.Stream),
		Data:       ev.Data,
	})

	switch data.Phase {
	case executor.PhaseEnd:
		r.publishChat(&ChatEvent{
			RunID:      ev.RunID,
			SessionKey: sessionKey,
			Seq:        r.nextSeq(ev.RunID),
			State:      StateFinal,
		})
	case executor.PhaseError:
		r.publishChat(&ChatEvent{
			RunID:        ev.RunID,
			SessionKey:   sessionKey,
			Seq:          r.nextSeq(ev.RunID),
			State:        StateError,
			ErrorMessage: data.Message,
		})
	}
}

// Aborted broadcasts the aborted notification for a run, both globally and
// to session-scoped observers, with a sequence number one greater than the
// last observed for that run. Called by the abort path, which does not wait
// on any pending store write.
func (r *Relay) Aborted(runID, sessionKey string) {
	event := &ChatEvent{
		RunID:      runID,
		SessionKey: sessionKey,
		Seq:        r.nextSeq(runID),
		State:      StateAborted,
	}

	msg := &Message{Event: "chat", Payload: event}
	r.broadcaster.Publish(sessionKey, msg)
	r.broadcaster.Publish(GlobalKey, msg)
}

// Forget drops the per-run sequence counter. Called when the run's context
// binding is released; terminal status is kept for waiters and pruned by age.
func (r *Relay) Forget(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.seqs, runID)
}

// nextSeq returns the next sequence number for runID.
func (r *Relay) nextSeq(runID string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seqs[runID]++
	return r.seqs[runID]
}

func (r *Relay) publishChat(event *ChatEvent) {
	msg := &Message{Event: "chat", Payload: event}
	r.broadcaster.Publish(event.SessionKey, msg)
	r.broadcaster.Publish(GlobalKey, msg)
}

func (r *Relay) publishAgent(event *AgentEvent) {
	msg := &Message{Event: "agent", Payload: event}
	r.broadcaster.Publish(event.SessionKey, msg)
	r.broadcaster.Publish(GlobalKey, msg)
}
