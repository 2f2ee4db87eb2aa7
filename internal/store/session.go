// ABOUTME: Durable session store mapping sessionKey to SessionEntry
// ABOUTME: Whole-document load/mutate/write against a single JSON file

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a sessionKey has no entry.
var ErrNotFound = errors.New("session not found")

// SessionEntry is the durable state for one conversation.
type SessionEntry struct {
	SessionID      string    `json:"sessionId"`
	UpdatedAt      time.Time `json:"updatedAt"`
	ThinkingLevel  string    `json:"thinkingLevel,omitempty"`
	VerboseLevel   string    `json:"verboseLevel,omitempty"`
	ReasoningLevel string    `json:"reasoningLevel,omitempty"`
	SystemSent     bool      `json:"systemSent,omitempty"`
	SendPolicy     string    `json:"sendPolicy,omitempty"`
	LastProvider   string    `json:"lastProvider,omitempty"`
	LastTo         string    `json:"lastTo,omitempty"`
	Provider       string    `json:"provider,omitempty"`
	ChatType       string    `json:"chatType,omitempty"`
}

// SessionStore reads and writes the session document at a fixed path.
// All mutations serialize on the store mutex; the mutex is never held
// across anything but the load-mutate-write critical section.
type SessionStore struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// NewSessionStore creates a store backed by the JSON document at path.
// The file is created on first write; a missing file reads as empty.
func NewSessionStore(path string, logger *slog.Logger) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{
		path:   path,
		logger: logger.With("component", "session_store"),
	}
}

// Get returns the entry for key, or ErrNotFound.
func (s *SessionStore) Get(key string) (SessionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load()
	if err != nil {
		return SessionEntry{}, err
	}

	entry, ok := sessions[key]
	if !ok {
		return SessionEntry{}, ErrNotFound
	}
	return entry, nil
}

// Ensure returns the entry for key, creating one with a fresh sessionId if
// absent. The created entry is persisted before Ensure returns.
func (s *SessionStore) Ensure(key string) (SessionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load()
	if err != nil {
		return SessionEntry{}, err
	}

	if entry, ok := sessions[key]; ok {
		return entry, nil
	}

	entry := SessionEntry{
		SessionID: uuid.New().String(),
		UpdatedAt: time.Now().UTC(),
	}
	sessions[key] = entry

	if err := s.write(sessions); err != nil {
		return SessionEntry{}, err
	}

	s.logger.Debug("session created",
		"session_key", key,
		"session_id", entry.SessionID)

	return entry, nil
}

// Update applies mutate to the entry for key (created if absent) and
// persists the whole document. The mutator receives the freshly loaded
// entry, so fields it does not touch are preserved. A new entry the mutator
// leaves without a sessionId gets a fresh one.
func (s *SessionStore) Update(key string, mutate func(*SessionEntry)) (SessionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load()
	if err != nil {
		return SessionEntry{}, err
	}

	entry := sessions[key]

	mutate(&entry)
	if entry.SessionID == "" {
		entry.SessionID = uuid.New().String()
	}
	entry.UpdatedAt = time.Now().UTC()
	sessions[key] = entry

	if err := s.write(sessions); err != nil {
		return SessionEntry{}, err
	}

	return entry, nil
}

// All returns a copy of every entry keyed by sessionKey.
func (s *SessionStore) All() (map[string]SessionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// load reads the document from disk. Must be called with mu held.
func (s *SessionStore) load() (map[string]SessionEntry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]SessionEntry), nil
		}
		return nil, fmt.Errorf("reading session store: %w", err)
	}

	if len(data) == 0 {
		return make(map[string]SessionEntry), nil
	}

	var sessions map[string]SessionEntry
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("parsing session store: %w", err)
	}
	if sessions == nil {
		sessions = make(map[string]SessionEntry)
	}
	return sessions, nil
}

// write replaces the document on disk via temp file + rename so a crash
// never leaves a half-written store. Must be called with mu held.
func (s *SessionStore) write(sessions map[string]SessionEntry) error {
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".sessions-*.json")
	if err != nil {
		return fmt.Errorf("creating temp store file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing session store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing session store: %w", err)
	}
	return nil
}
