// ABOUTME: Tests for attachment normalization and the bounded message merge
// ABOUTME: Covers base64 passthrough, byte-array encoding, and the size cap

package gateway

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeContent(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "base64 string passthrough", raw: `"aGVsbG8="`, want: "aGVsbG8="},
		{name: "byte array encoded", raw: `[104,101,108,108,111]`, want: "aGVsbG8="},
		{name: "empty array", raw: `[]`, want: ""},
		{name: "byte out of range", raw: `[104,300]`, wantErr: true},
		{name: "negative byte", raw: `[-1]`, wantErr: true},
		{name: "object rejected", raw: `{"data":"x"}`, wantErr: true},
		{name: "empty content", raw: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeContent(json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMergeAttachments(t *testing.T) {
	t.Run("no attachments returns message unchanged", func(t *testing.T) {
		got, err := mergeAttachments("hello", nil)
		require.NoError(t, err)
		assert.Equal(t, "hello", got)
	})

	t.Run("labelled blocks appended in order", func(t *testing.T) {
		got, err := mergeAttachments("msg", []Attachment{
			{FileName: "a.txt", MimeType: "text/plain", Content: json.RawMessage(`"QUFB"`)},
			{Content: json.RawMessage(`"QkJC"`)},
		})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(got, "msg"))
		assert.Contains(t, got, "[attachment a.txt (text/plain)]\nQUFB")
		// Unnamed attachments get a positional label and default mime type.
		assert.Contains(t, got, "[attachment attachment-2 (application/octet-stream)]\nQkJC")
		assert.Less(t, strings.Index(got, "QUFB"), strings.Index(got, "QkJC"))
	})

	t.Run("bad attachment fails whole merge", func(t *testing.T) {
		_, err := mergeAttachments("msg", []Attachment{
			{Content: json.RawMessage(`"ok"`)},
			{Content: json.RawMessage(`{"bad":1}`)},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "attachment 1")
	})

	t.Run("merged size cap enforced", func(t *testing.T) {
		big := `"` + strings.Repeat("A", maxMergedBytes) + `"`
		_, err := mergeAttachments("msg", []Attachment{
			{Content: json.RawMessage(big)},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds")
	})

	t.Run("cap checked per attachment", func(t *testing.T) {
		half := `"` + strings.Repeat("A", maxMergedBytes/2+100) + `"`
		_, err := mergeAttachments("msg", []Attachment{
			{Content: json.RawMessage(half)},
			{Content: json.RawMessage(half)},
		})
		require.Error(t, err)
	})
}
