// Package model defines data structures for the persona orchestrator.
package model

import (
	"time"
)

// Conversation represents one voice call.
type Conversation struct {
	ID             string      `json:"id"`
	CallID         string      `json:"call_id"`
	UserName       string      `json:"user_name"`
	Topic          string      `json:"topic"`
	Stage          string      `json:"stage"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	EndedAt        *time.Time  `json:"ended_at,omitempty"`
	MessageCount   int         `json:"message_count"`
	FullTranscript *Transcript `json:"full_transcript,omitempty"`
	RecordingURL   *string     `json:"recording_url,omitempty"`
}

// Ended reports whether the call reached the terminated state.
func (c *Conversation) Ended() bool {
	return c.EndedAt != nil
}

// HasTranscript reports whether the failsafe pipeline already persisted a record.
func (c *Conversation) HasTranscript() bool {
	return c.FullTranscript != nil
}

// HasErrorMarker reports whether the stored record is only the last-resort
// marker, which the recovery sweep may still replace.
func (c *Conversation) HasErrorMarker() bool {
	return c.FullTranscript != nil && c.FullTranscript.Source == TranscriptSourceError
}

// ConversationUpdate carries the mutable fields touched by a stage transition.
// Empty values are left unchanged.
type ConversationUpdate struct {
	UserName string
	Topic    string
	Stage    string
}
