package storage

import "time"

// MessageWriter is the interface for persisting processed-prompt records.
// Write() must NEVER block the caller.
type MessageWriter interface {
	Write(event *MessageEvent)
	Close()
}

// MessageEvent is the document-log record written once per processed prompt.
type MessageEvent struct {
	RequestID     string
	EmployeeID    string
	SessionID     string
	Timestamp     time.Time
	PromptPreview string // First 500 chars
	PromptHash    string // SHA256 of the full prompt
	PromptSize    uint32
	Response      string
	Status        string
	Details       string
	Metadata      map[string]string
}

// PromptPreviewLength is the max chars stored in prompt_preview.
const PromptPreviewLength = 500

// TruncatePrompt returns the first N characters (runes) of a prompt for
// preview storage. It never splits a multi-byte UTF-8 character.
func TruncatePrompt(prompt string, maxLen int) string {
	runes := []rune(prompt)
	if len(runes) <= maxLen {
		return prompt
	}
	return string(runes[:maxLen])
}
