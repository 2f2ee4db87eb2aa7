// ABOUTME: Transcript reader with count and byte caps
// ABOUTME: Keeps the most recent messages in chronological order

package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// maxMessages is the hard ceiling on returned messages.
	maxMessages = 1000

	// defaultLimit applies when the request carries no limit.
	defaultLimit = 200

	// maxBytes caps the serialized size of the returned window (6 MiB).
	maxBytes = 6 * 1024 * 1024
)

// Reader loads transcripts from a directory of <sessionId>.jsonl files.
type Reader struct {
	dir    string
	logger *slog.Logger
}

// NewReader creates a transcript reader rooted at dir.
func NewReader(dir string, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		dir:    dir,
		logger: logger.With("component", "history"),
	}
}

// Load returns the most recent messages of the session's transcript in
// chronological order. The count cap is min(1000, limit ?? 200); from that
// window the oldest entries are dropped until the serialized size fits the
// byte cap. A missing transcript reads as empty.
func (r *Reader) Load(sessionID string, limit *int) ([]json.RawMessage, error) {
	if sessionID == "" {
		return []json.RawMessage{}, nil
	}

	lines, err := r.readLines(sessionID)
	if err != nil {
		return nil, err
	}

	effective := defaultLimit
	if limit != nil {
		effective = *limit
	}
	if effective > maxMessages {
		effective = maxMessages
	}
	if effective < 0 {
		effective = 0
	}

	// Count cap: keep only the most recent window
	if len(lines) > effective {
		lines = lines[len(lines)-effective:]
	}

	// Byte cap: drop oldest of the window until the rest fits
	total := 0
	for _, line := range lines {
		total += len(line)
	}
	for len(lines) > 0 && total > maxBytes {
		total -= len(lines[0])
		lines = lines[1:]
	}

	return lines, nil
}

// readLines loads every valid message record from the transcript file.
func (r *Reader) readLines(sessionID string) ([]json.RawMessage, error) {
	path := filepath.Join(r.dir, sessionID+".jsonl")

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("opening transcript: %w", err)
	}
	defer f.Close()

	var lines []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			r.logger.Warn("skipping malformed transcript line",
				"session_id", sessionID)
			continue
		}
		record := make(json.RawMessage, len(line))
		copy(record, line)
		lines = append(lines, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading transcript: %w", err)
	}

	return lines, nil
}
