package model

import (
	"time"
)

// EventKind is the kind of a context event in the repetition memory.
type EventKind string

const (
	EventQuestionAsked  EventKind = "question_asked"
	EventTopicCovered   EventKind = "topic_covered"
	EventAgentStatement EventKind = "agent_statement"
	EventUserPreference EventKind = "user_preference"
	EventUserInfo       EventKind = "user_info"
)

// Valid reports whether k is one of the known kinds.
func (k EventKind) Valid() bool {
	switch k {
	case EventQuestionAsked, EventTopicCovered, EventAgentStatement, EventUserPreference, EventUserInfo:
		return true
	}
	return false
}

// Speaker identifies who originated an event.
type Speaker string

const (
	SpeakerLars     Speaker = "lars"
	SpeakerWiktoria Speaker = "wiktoria"
	SpeakerUser     Speaker = "user"
	SpeakerSystem   Speaker = "system"
)

// ContextEvent is an immutable memory record scoped to a conversation.
type ContextEvent struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Kind           EventKind      `json:"kind"`
	Payload        map[string]any `json:"payload"`
	Stage          string         `json:"stage"`
	Speaker        Speaker        `json:"speaker"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Text returns the primary text field of the payload for the event's kind.
func (e *ContextEvent) Text() string {
	var key string
	switch e.Kind {
	case EventQuestionAsked:
		key = "question"
	case EventTopicCovered:
		key = "topic"
	case EventAgentStatement:
		key = "statement"
	default:
		return ""
	}
	if s, ok := e.Payload[key].(string); ok {
		return s
	}
	return ""
}

// CallEventType represents the type of a call lifecycle event.
type CallEventType string

const (
	CallEventStageChanged    CallEventType = "stage_changed"
	CallEventTerminated      CallEventType = "call_terminated"
	CallEventTranscriptSaved CallEventType = "transcript_saved"
)

// CallEvent is published on the event bus whenever a call changes state.
type CallEvent struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	CallID         string         `json:"call_id"`
	Type           CallEventType  `json:"type"`
	Stage          string         `json:"stage,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	Sequence       uint64         `json:"sequence,omitempty"`
}
