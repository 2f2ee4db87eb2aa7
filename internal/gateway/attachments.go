// ABOUTME: Attachment normalization and size-bounded merge into the outbound message
// ABOUTME: Raw byte content becomes base64; exceeding the merge cap fails before any state change

package gateway

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// maxMergedBytes caps the outbound message after attachments are merged in.
const maxMergedBytes = 5_000_000

// Attachment is one inbound attachment. Content is either a base64 string
// or a raw byte array; normalization converts the latter.
type Attachment struct {
	Type     string          `json:"type"`
	MimeType string          `json:"mimeType"`
	FileName string          `json:"fileName"`
	Content  json.RawMessage `json:"content"`
}

// mergeAttachments normalizes each attachment and appends it to the message
// as a labelled base64 block. The merged result is capped; exceeding the cap
// fails the whole request.
func mergeAttachments(message string, attachments []Attachment) (string, error) {
	if len(attachments) == 0 {
		return message, nil
	}

	merged := message
	for i, att := range attachments {
		content, err := normalizeContent(att.Content)
		if err != nil {
			return "", fmt.Errorf("attachment %d: %w", i, err)
		}

		label := att.FileName
		if label == "" {
			label = fmt.Sprintf("attachment-%d", i+1)
		}
		mime := att.MimeType
		if mime == "" {
			mime = "application/octet-stream"
		}

		merged += fmt.Sprintf("\n\n[attachment %s (%s)]\n%s", label, mime, content)

		if len(merged) > maxMergedBytes {
			return "", fmt.Errorf("merged message exceeds %d bytes", maxMergedBytes)
		}
	}

	return merged, nil
}

// normalizeContent returns attachment content as base64 text. A JSON string
// is taken as already-encoded base64; a JSON array of numbers is raw bytes
// to encode.
func normalizeContent(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("empty content")
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var nums []int
	if err := json.Unmarshal(raw, &nums); err == nil {
		b := make([]byte, len(nums))
		for i, n := range nums {
			if n < 0 || n > 255 {
				return "", fmt.Errorf("byte value %d out of range", n)
			}
			b[i] = byte(n)
		}
		return base64.StdEncoding.EncodeToString(b), nil
	}

	return "", fmt.Errorf("content must be a base64 string or byte array")
}
