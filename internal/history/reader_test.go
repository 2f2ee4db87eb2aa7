// ABOUTME: Tests for the transcript reader and thinking-level resolution.
// ABOUTME: Validates count caps, byte caps, ordering, and missing transcripts.

package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/beacon-gateway/internal/catalog"
	"github.com/2389/beacon-gateway/internal/store"
)

// writeTranscript writes n numbered message records for sessionID.
func writeTranscript(t *testing.T, dir, sessionID string, n int) {
	t.Helper()
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `{"role":"user","index":%d}`+"\n", i)
	}
	path := filepath.Join(dir, sessionID+".jsonl")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
}

func index(t *testing.T, msg json.RawMessage) int {
	t.Helper()
	var record struct {
		Index int `json:"index"`
	}
	require.NoError(t, json.Unmarshal(msg, &record))
	return record.Index
}

func intPtr(v int) *int { return &v }

func TestReader_DefaultLimit(t *testing.T) {
	dir := t.TempDir()
	writeTranscript(t, dir, "sess", 300)

	r := NewReader(dir, nil)
	messages, err := r.Load("sess", nil)
	require.NoError(t, err)

	// 300 messages, no limit: 200 returned, first is index 100
	require.Len(t, messages, 200)
	assert.Equal(t, 100, index(t, messages[0]))
	assert.Equal(t, 299, index(t, messages[len(messages)-1]))
}

func TestReader_ExplicitLimit(t *testing.T) {
	dir := t.TempDir()
	writeTranscript(t, dir, "sess", 300)

	r := NewReader(dir, nil)
	messages, err := r.Load("sess", intPtr(5))
	require.NoError(t, err)

	// limit 5: last 5, first is index 295
	require.Len(t, messages, 5)
	assert.Equal(t, 295, index(t, messages[0]))
	assert.Equal(t, 299, index(t, messages[4]))
}

func TestReader_LimitClampedToMax(t *testing.T) {
	dir := t.TempDir()
	writeTranscript(t, dir, "sess", 1200)

	r := NewReader(dir, nil)
	messages, err := r.Load("sess", intPtr(5000))
	require.NoError(t, err)

	require.Len(t, messages, 1000)
	assert.Equal(t, 200, index(t, messages[0]))
}

func TestReader_FewerThanLimit(t *testing.T) {
	dir := t.TempDir()
	writeTranscript(t, dir, "sess", 3)

	r := NewReader(dir, nil)
	messages, err := r.Load("sess", nil)
	require.NoError(t, err)
	assert.Len(t, messages, 3)
}

func TestReader_ByteCapDropsOldest(t *testing.T) {
	dir := t.TempDir()

	// Each record is ~1 MiB; ten of them exceed the 6 MiB cap
	padding := strings.Repeat("x", 1024*1024)
	var b strings.Builder
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&b, `{"index":%d,"padding":%q}`+"\n", i, padding)
	}
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "big.jsonl"), []byte(b.String()), 0o644))

	r := NewReader(dir, nil)
	messages, err := r.Load("big", nil)
	require.NoError(t, err)

	total := 0
	for _, msg := range messages {
		total += len(msg)
	}
	assert.LessOrEqual(t, total, maxBytes, "serialized output must fit the byte cap")

	// The oldest of the window are dropped first; the newest survives
	require.NotEmpty(t, messages)
	assert.Equal(t, 9, index(t, messages[len(messages)-1]))
	for i := 1; i < len(messages); i++ {
		assert.Greater(t, index(t, messages[i]), index(t, messages[i-1]),
			"chronological order must be preserved")
	}
}

func TestReader_MissingTranscriptIsEmpty(t *testing.T) {
	r := NewReader(t.TempDir(), nil)

	messages, err := r.Load("no-such-session", nil)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestReader_EmptySessionIDIsEmpty(t *testing.T) {
	r := NewReader(t.TempDir(), nil)

	messages, err := r.Load("", nil)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestReader_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	content := `{"index":0}` + "\n" + "not json\n" + `{"index":1}` + "\n"
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "sess.jsonl"), []byte(content), 0o644))

	r := NewReader(dir, nil)
	messages, err := r.Load("sess", nil)
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}

func TestResolveThinking(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"id":"deep-1","name":"Deep","provider":"anthropic","reasoning":true},
		{"id":"fast-1","name":"Fast","provider":"anthropic","reasoning":false}
	]`), 0o644))
	cat, err := catalog.Load(path, nil)
	require.NoError(t, err)

	tests := []struct {
		name          string
		entry         store.SessionEntry
		configDefault string
		model         string
		want          string
	}{
		{
			name:  "stored entry value wins",
			entry: store.SessionEntry{ThinkingLevel: "high"},
			model: "deep-1",
			want:  "high",
		},
		{
			name:          "config default next",
			entry:         store.SessionEntry{},
			configDefault: "medium",
			model:         "deep-1",
			want:          "medium",
		},
		{
			name:  "reasoning-capable model defaults low",
			entry: store.SessionEntry{},
			model: "deep-1",
			want:  "low",
		},
		{
			name:  "plain model gets minimal default",
			entry: store.SessionEntry{},
			model: "fast-1",
			want:  "minimal",
		},
		{
			name:  "unknown model gets minimal default",
			entry: store.SessionEntry{},
			model: "mystery",
			want:  "minimal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveThinking(tt.entry, tt.configDefault, "anthropic", tt.model, cat)
			assert.Equal(t, tt.want, got)
		})
	}
}
