// Package store defines the Context Store contract used by the orchestrator.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/capitalize-ai/persona-orchestrator/internal/model"
)

// ErrNotFound is returned when a requested conversation does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicateCall is returned when a conversation already exists for a call reference.
var ErrDuplicateCall = errors.New("store: conversation already exists for call")

// ConversationStore persists Conversation records.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *model.Conversation) error
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	GetConversationByCallID(ctx context.Context, callID string) (*model.Conversation, error)
	UpdateConversation(ctx context.Context, id string, upd model.ConversationUpdate) error

	// SaveTranscriptIfAbsent sets the full transcript only when none is stored
	// yet. It reports false, with a nil error, when another writer got there first.
	SaveTranscriptIfAbsent(ctx context.Context, id string, transcript *model.Transcript, recordingURL string) (bool, error)

	// ReplaceErrorMarker is SaveTranscriptIfAbsent that also overwrites a stored
	// error marker. Only the recovery sweep uses it.
	ReplaceErrorMarker(ctx context.Context, id string, transcript *model.Transcript, recordingURL string) (bool, error)

	// MarkEnded stamps the end time (first writer wins) and the message count.
	MarkEnded(ctx context.Context, id string, endedAt time.Time, messageCount int) error

	// ListMissingTranscripts returns conversations created in [since, until)
	// whose transcript is still null or only an error marker, oldest first.
	ListMissingTranscripts(ctx context.Context, since, until time.Time, limit int) ([]*model.Conversation, error)
}

// EventStore persists append-only context events.
type EventStore interface {
	AppendEvent(ctx context.Context, event *model.ContextEvent) error
	ListEvents(ctx context.Context, conversationID string, kinds ...model.EventKind) ([]model.ContextEvent, error)
}

// Store is the full Context Store.
type Store interface {
	ConversationStore
	EventStore
	Ping(ctx context.Context) error
	Close()
}
