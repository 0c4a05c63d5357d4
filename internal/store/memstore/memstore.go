// Package memstore is an in-process Context Store for development and tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/capitalize-ai/persona-orchestrator/internal/model"
	"github.com/capitalize-ai/persona-orchestrator/internal/store"
)

// Store keeps conversations and events in memory. Records handed out are
// copies, so callers never share state with the store.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	byCallID      map[string]string
	events        map[string][]model.ContextEvent
}

// New creates an empty store.
func New() *Store {
	return &Store{
		conversations: make(map[string]*model.Conversation),
		byCallID:      make(map[string]string),
		events:        make(map[string][]model.ContextEvent),
	}
}

var _ store.Store = (*Store)(nil)

// CreateConversation stores a new conversation.
func (s *Store) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byCallID[conv.CallID]; exists {
		return store.ErrDuplicateCall
	}

	s.conversations[conv.ID] = cloneConversation(conv)
	s.byCallID[conv.CallID] = conv.ID
	return nil
}

// GetConversation retrieves a conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, exists := s.conversations[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneConversation(conv), nil
}

// GetConversationByCallID retrieves a conversation by external call reference.
func (s *Store) GetConversationByCallID(ctx context.Context, callID string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byCallID[callID]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneConversation(s.conversations[id]), nil
}

// UpdateConversation applies the non-empty fields of upd.
func (s *Store) UpdateConversation(ctx context.Context, id string, upd model.ConversationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[id]
	if !exists {
		return store.ErrNotFound
	}

	if upd.UserName != "" {
		conv.UserName = upd.UserName
	}
	if upd.Topic != "" {
		conv.Topic = upd.Topic
	}
	if upd.Stage != "" {
		conv.Stage = upd.Stage
	}
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

// SaveTranscriptIfAbsent sets the transcript only when it is still null.
func (s *Store) SaveTranscriptIfAbsent(ctx context.Context, id string, transcript *model.Transcript, recordingURL string) (bool, error) {
	return s.saveTranscript(id, transcript, recordingURL, false)
}

// ReplaceErrorMarker sets the transcript when it is null or an error marker.
func (s *Store) ReplaceErrorMarker(ctx context.Context, id string, transcript *model.Transcript, recordingURL string) (bool, error) {
	return s.saveTranscript(id, transcript, recordingURL, true)
}

func (s *Store) saveTranscript(id string, transcript *model.Transcript, recordingURL string, overMarker bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[id]
	if !exists {
		return false, store.ErrNotFound
	}
	if conv.HasTranscript() && !(overMarker && conv.HasErrorMarker()) {
		return false, nil
	}

	t := *transcript
	t.Messages = append([]model.TranscriptMessage(nil), transcript.Messages...)
	conv.FullTranscript = &t
	if recordingURL != "" && conv.RecordingURL == nil {
		url := recordingURL
		conv.RecordingURL = &url
	}
	conv.UpdatedAt = time.Now().UTC()
	return true, nil
}

// MarkEnded stamps the end time once and records the message count.
func (s *Store) MarkEnded(ctx context.Context, id string, endedAt time.Time, messageCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[id]
	if !exists {
		return store.ErrNotFound
	}
	if conv.EndedAt == nil {
		t := endedAt
		conv.EndedAt = &t
	}
	if messageCount > conv.MessageCount {
		conv.MessageCount = messageCount
	}
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

// ListMissingTranscripts returns conversations created in [since, until) with
// no transcript or only an error marker.
func (s *Store) ListMissingTranscripts(ctx context.Context, since, until time.Time, limit int) ([]*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Conversation
	for _, conv := range s.conversations {
		if conv.HasTranscript() && !conv.HasErrorMarker() {
			continue
		}
		if conv.CreatedAt.Before(since) || !conv.CreatedAt.Before(until) {
			continue
		}
		out = append(out, cloneConversation(conv))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AppendEvent appends a context event.
func (s *Store) AppendEvent(ctx context.Context, event *model.ContextEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[event.ConversationID] = append(s.events[event.ConversationID], *event)
	return nil
}

// ListEvents returns a conversation's events in insertion order, optionally filtered by kind.
func (s *Store) ListEvents(ctx context.Context, conversationID string, kinds ...model.EventKind) ([]model.ContextEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.ContextEvent
	for _, e := range s.events[conversationID] {
		if len(kinds) > 0 && !containsKind(kinds, e.Kind) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (s *Store) Close() {}

func containsKind(kinds []model.EventKind, k model.EventKind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}

func cloneConversation(c *model.Conversation) *model.Conversation {
	out := *c
	if c.EndedAt != nil {
		t := *c.EndedAt
		out.EndedAt = &t
	}
	if c.RecordingURL != nil {
		u := *c.RecordingURL
		out.RecordingURL = &u
	}
	if c.FullTranscript != nil {
		t := *c.FullTranscript
		t.Messages = append([]model.TranscriptMessage(nil), c.FullTranscript.Messages...)
		out.FullTranscript = &t
	}
	return &out
}
