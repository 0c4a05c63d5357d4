package model

import (
	"time"
)

// Role represents the role of a transcript message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// TranscriptMessage is one turn of a call transcript.
type TranscriptMessage struct {
	Role             Role      `json:"role"`
	Text             string    `json:"text"`
	Time             time.Time `json:"time,omitempty"`
	SecondsFromStart float64   `json:"seconds_from_start,omitempty"`
}

// TranscriptSource records which failsafe tier produced a transcript.
type TranscriptSource string

const (
	TranscriptSourceProvider TranscriptSource = "provider"
	TranscriptSourceMinimal  TranscriptSource = "minimal_fallback"
	TranscriptSourceError    TranscriptSource = "error_marker"
)

// Transcript is the structured blob stored as a conversation's full transcript.
type Transcript struct {
	Source         TranscriptSource    `json:"source"`
	CallID         string              `json:"call_id"`
	Messages       []TranscriptMessage `json:"messages"`
	RecordingURL   string              `json:"recording_url,omitempty"`
	UserName       string              `json:"user_name,omitempty"`
	Topic          string              `json:"topic,omitempty"`
	Note           string              `json:"note,omitempty"`
	Error          string              `json:"error,omitempty"`
	AttemptedTiers []string            `json:"attempted_tiers,omitempty"`
	CapturedAt     time.Time           `json:"captured_at"`
}
