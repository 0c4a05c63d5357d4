// Package memory implements the repetition memory: an append-only log of what
// was asked, covered and said in each conversation, with a bounded in-process
// working set in front of the durable event store.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/capitalize-ai/persona-orchestrator/internal/detach"
	"github.com/capitalize-ai/persona-orchestrator/internal/model"
	"github.com/capitalize-ai/persona-orchestrator/internal/store"
	"github.com/capitalize-ai/persona-orchestrator/pkg/logger"
	"github.com/capitalize-ai/persona-orchestrator/pkg/metrics"
)

// Config bounds the working set and tunes statement similarity.
type Config struct {
	MaxConversations    int
	MaxEntries          int
	StatementWindow     int
	SimilarityThreshold float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConversations:    1000,
		MaxEntries:          100,
		StatementWindow:     5,
		SimilarityThreshold: 0.7,
	}
}

// RepetitionResult answers a question or topic repetition check.
type RepetitionResult struct {
	IsRepeat   bool `json:"is_repeat"`
	PriorCount int  `json:"prior_count"`
}

// StatementResult answers a statement tracking call.
type StatementResult struct {
	ShouldAvoid bool    `json:"should_avoid"`
	Reason      string  `json:"reason,omitempty"`
	Similarity  float64 `json:"similarity"`
}

// Snapshot is a copy of a conversation's working set.
type Snapshot struct {
	Questions  []string
	Topics     []string
	Statements map[model.Speaker][]string
}

// Memory is the repetition memory. The event store is the source of truth;
// the working set only saves round trips.
type Memory struct {
	events store.EventStore
	writer *detach.Group
	logger *logger.Logger
	cfg    Config

	mu    sync.Mutex
	cache *lru.Cache
}

// New creates a Memory writing through writer to events.
func New(events store.EventStore, writer *detach.Group, log *logger.Logger, cfg Config) (*Memory, error) {
	def := DefaultConfig()
	if cfg.MaxConversations <= 0 {
		cfg.MaxConversations = def.MaxConversations
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.StatementWindow <= 0 {
		cfg.StatementWindow = def.StatementWindow
	}
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}

	cache, err := lru.New(cfg.MaxConversations)
	if err != nil {
		return nil, fmt.Errorf("failed to create working set: %w", err)
	}

	return &Memory{
		events: events,
		writer: writer,
		logger: log,
		cfg:    cfg,
		cache:  cache,
	}, nil
}

// RecordEvent appends an event. The working set is updated before returning;
// the durable write is detached and its failure only logged.
func (m *Memory) RecordEvent(ctx context.Context, conversationID string, kind model.EventKind, payload map[string]any, stage string, speaker model.Speaker) {
	if conversationID == "" || !kind.Valid() {
		m.logger.Warn("dropping invalid context event",
			zap.String("conversation_id", conversationID),
			zap.String("kind", string(kind)),
		)
		return
	}

	t := m.tracker(conversationID)
	t.mu.Lock()
	event := m.record(t, conversationID, kind, payload, stage, speaker)
	t.mu.Unlock()

	m.persist(ctx, event)
}

// CheckQuestionRepetition counts prior asks of the same question.
func (m *Memory) CheckQuestionRepetition(ctx context.Context, conversationID, question string) RepetitionResult {
	return m.checkRepetition(ctx, conversationID, question, model.EventQuestionAsked)
}

// CheckTopicRepetition counts prior coverage of the same topic.
func (m *Memory) CheckTopicRepetition(ctx context.Context, conversationID, topic string) RepetitionResult {
	return m.checkRepetition(ctx, conversationID, topic, model.EventTopicCovered)
}

func (m *Memory) checkRepetition(ctx context.Context, conversationID, text string, kind model.EventKind) RepetitionResult {
	candidate := Normalize(text)
	if conversationID == "" || candidate == "" {
		return RepetitionResult{}
	}

	t := m.tracker(conversationID)
	t.mu.Lock()
	defer t.mu.Unlock()
	m.seed(ctx, t, conversationID)

	count := 0
	for _, prior := range t.entries(kind) {
		if Matches(candidate, Normalize(prior)) {
			count++
		}
	}

	if count > 0 {
		metrics.RepetitionVetoesTotal.WithLabelValues(string(kind)).Inc()
	}
	return RepetitionResult{IsRepeat: count > 0, PriorCount: count}
}

// TrackStatement compares a persona's candidate statement with its recent
// statements. Statements that are not repeats are recorded.
func (m *Memory) TrackStatement(ctx context.Context, conversationID string, persona model.Speaker, statement, stage string) StatementResult {
	if Normalize(statement) == "" {
		return StatementResult{Reason: "empty statement"}
	}
	if conversationID == "" {
		return StatementResult{}
	}

	t := m.tracker(conversationID)
	t.mu.Lock()
	m.seed(ctx, t, conversationID)

	recent := t.statements[persona]
	if len(recent) > m.cfg.StatementWindow {
		recent = recent[len(recent)-m.cfg.StatementWindow:]
	}

	best := 0.0
	for _, prior := range recent {
		if sim := Jaccard(statement, prior); sim > best {
			best = sim
		}
	}

	if best >= m.cfg.SimilarityThreshold {
		t.mu.Unlock()
		metrics.RepetitionVetoesTotal.WithLabelValues(string(model.EventAgentStatement)).Inc()
		return StatementResult{
			ShouldAvoid: true,
			Similarity:  best,
			Reason:      fmt.Sprintf("%.0f%% word overlap with a recent %s statement", best*100, persona),
		}
	}

	event := m.record(t, conversationID, model.EventAgentStatement, map[string]any{"statement": statement}, stage, persona)
	t.mu.Unlock()

	m.persist(ctx, event)
	return StatementResult{Similarity: best}
}

// Snapshot returns a copy of the conversation's working set, seeding it first.
func (m *Memory) Snapshot(ctx context.Context, conversationID string) Snapshot {
	snap := Snapshot{Statements: map[model.Speaker][]string{}}
	if conversationID == "" {
		return snap
	}

	t := m.tracker(conversationID)
	t.mu.Lock()
	defer t.mu.Unlock()
	m.seed(ctx, t, conversationID)

	snap.Questions = append([]string(nil), t.questions...)
	snap.Topics = append([]string(nil), t.topics...)
	for speaker, statements := range t.statements {
		snap.Statements[speaker] = append([]string(nil), statements...)
	}
	return snap
}

// Forget drops a conversation from the working set.
func (m *Memory) Forget(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Remove(conversationID)
	metrics.MemoryTrackedConversations.Set(float64(m.cache.Len()))
}

// Tracked returns how many conversations the working set holds.
func (m *Memory) Tracked() int {
	return m.cache.Len()
}

// Wait drains pending durable writes.
func (m *Memory) Wait(ctx context.Context) error {
	return m.writer.Wait(ctx)
}

func (m *Memory) tracker(conversationID string) *tracker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.cache.Get(conversationID); ok {
		return v.(*tracker)
	}
	t := newTracker(m.cfg.MaxEntries)
	m.cache.Add(conversationID, t)
	metrics.MemoryTrackedConversations.Set(float64(m.cache.Len()))
	return t
}

// seed loads the conversation's history once. A failed load is retried on
// the next call. Caller holds t.mu.
func (m *Memory) seed(ctx context.Context, t *tracker, conversationID string) {
	if t.seeded {
		return
	}

	events, err := m.events.ListEvents(ctx, conversationID,
		model.EventQuestionAsked, model.EventTopicCovered, model.EventAgentStatement)
	if err != nil {
		m.logger.Warn("failed to seed repetition memory",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return
	}

	t.merge(events)
	t.seeded = true
}

// record builds an event and adds it to the working set. Caller holds t.mu.
func (m *Memory) record(t *tracker, conversationID string, kind model.EventKind, payload map[string]any, stage string, speaker model.Speaker) *model.ContextEvent {
	if payload == nil {
		payload = map[string]any{}
	}
	event := &model.ContextEvent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		Kind:           kind,
		Payload:        payload,
		Stage:          stage,
		Speaker:        speaker,
		CreatedAt:      time.Now().UTC(),
	}
	t.add(*event)
	return event
}

func (m *Memory) persist(ctx context.Context, event *model.ContextEvent) {
	m.writer.Go(ctx, "memory.append_event", func(ctx context.Context) error {
		return m.events.AppendEvent(ctx, event)
	})
}
