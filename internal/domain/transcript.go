package domain

import (
	"fmt"
	"time"
)

// TranscriptEntry is one utterance in a call transcript.
type TranscriptEntry struct {
	Timestamp string `json:"timestamp"`
	Role      string `json:"role"` // "user" | "assistant"
	Content   string `json:"content"`
	Type      string `json:"type,omitempty"`
}

// IsAssistant reports whether the agent spoke this entry.
func (e TranscriptEntry) IsAssistant() bool {
	return e.Role == "assistant"
}

// Offset renders the time elapsed since start as "(mm:ss)". It returns an
// empty string when start is empty or either timestamp does not parse.
func (e TranscriptEntry) Offset(start string) string {
	if start == "" {
		return ""
	}
	st, ok := parseTimestamp(start)
	if !ok {
		return ""
	}
	cur, ok := parseTimestamp(e.Timestamp)
	if !ok {
		return ""
	}

	secs := int(cur.Sub(st) / time.Second)
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("(%02d:%02d)", secs/60, secs%60)
}

// parseTimestamp accepts RFC 3339 with or without a zone, since transcript
// timestamps are often written as naive local ISO strings.
func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", time.RFC1123Z} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
