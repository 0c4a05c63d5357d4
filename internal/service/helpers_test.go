package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/persona-orchestrator/internal/detach"
	"github.com/capitalize-ai/persona-orchestrator/internal/memory"
	"github.com/capitalize-ai/persona-orchestrator/internal/model"
	"github.com/capitalize-ai/persona-orchestrator/internal/stage"
	"github.com/capitalize-ai/persona-orchestrator/internal/store/memstore"
	"github.com/capitalize-ai/persona-orchestrator/internal/topic"
	"github.com/capitalize-ai/persona-orchestrator/pkg/logger"
)

const toolServerURL = "https://orchestrator.test/api/v1/provider/tools"

var errProviderDown = errors.New("provider returned 502")

// fakeProvider serves a fixed transcript or a fixed error.
type fakeProvider struct {
	mu        sync.Mutex
	messages  []model.TranscriptMessage
	recording string
	err       error
	calls     atomic.Int32
}

func (p *fakeProvider) FetchMessages(ctx context.Context, callID string) ([]model.TranscriptMessage, error) {
	p.calls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return append([]model.TranscriptMessage(nil), p.messages...), nil
}

func (p *fakeProvider) FetchRecordingURL(ctx context.Context, callID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	return p.recording, nil
}

func (p *fakeProvider) set(messages []model.TranscriptMessage, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = messages
	p.err = err
}

// flakyStore fails the first saveFailures conditional transcript writes,
// counting both write paths.
type flakyStore struct {
	*memstore.Store
	saveFailures atomic.Int32
	saves        atomic.Int32
}

func (s *flakyStore) SaveTranscriptIfAbsent(ctx context.Context, id string, transcript *model.Transcript, recordingURL string) (bool, error) {
	if s.saveFailures.Load() > 0 {
		s.saveFailures.Add(-1)
		return false, errors.New("store unavailable")
	}
	saved, err := s.Store.SaveTranscriptIfAbsent(ctx, id, transcript, recordingURL)
	if saved {
		s.saves.Add(1)
	}
	return saved, err
}

func (s *flakyStore) ReplaceErrorMarker(ctx context.Context, id string, transcript *model.Transcript, recordingURL string) (bool, error) {
	if s.saveFailures.Load() > 0 {
		s.saveFailures.Add(-1)
		return false, errors.New("store unavailable")
	}
	saved, err := s.Store.ReplaceErrorMarker(ctx, id, transcript, recordingURL)
	if saved {
		s.saves.Add(1)
	}
	return saved, err
}

type harness struct {
	store       *flakyStore
	provider    *fakeProvider
	writer      *detach.Group
	memory      *memory.Memory
	transcripts *TranscriptService
	transitions *TransitionService
	recovery    *RecoveryService
	now         time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logger.NewNop()

	h := &harness{
		store: &flakyStore{Store: memstore.New()},
		provider: &fakeProvider{
			messages: []model.TranscriptMessage{
				{Role: model.RoleAssistant, Text: "Hi, I'm Lars. Who am I speaking with?"},
				{Role: model.RoleUser, Text: "I'm Ana and I want to discuss energy policy."},
			},
			recording: "https://rec.example/call.wav",
		},
		writer: detach.NewGroup(log, time.Second),
		now:    time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}

	mem, err := memory.New(h.store, h.writer, log, memory.DefaultConfig())
	require.NoError(t, err)
	h.memory = mem

	registry, err := stage.Default(stage.Voices{Lars: "voice-lars", Wiktoria: "voice-wiktoria"})
	require.NoError(t, err)

	clock := func() time.Time { return h.now }

	h.transcripts = NewTranscriptService(TranscriptConfig{ProviderTimeout: time.Second},
		h.store, h.provider, mem, nil, h.writer, log)
	h.transcripts.now = clock

	h.transitions = NewTransitionService(TransitionConfig{ToolServerURL: toolServerURL, TopicTimeout: time.Second},
		registry, h.store, mem, h.transcripts, h.provider, topic.NewPatternExtractor(), nil, h.writer, log)
	h.transitions.now = clock

	h.recovery = NewRecoveryService(RecoveryConfig{Window: 24 * time.Hour, Grace: 10 * time.Minute, Concurrency: 2},
		h.store, h.transcripts, log)
	h.recovery.now = clock

	return h
}

// wait drains detached writes.
func (h *harness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.writer.Wait(ctx))
}

func (h *harness) createConversation(t *testing.T, id, callID string, createdAt time.Time) *model.Conversation {
	t.Helper()
	conv := &model.Conversation{
		ID:        id,
		CallID:    callID,
		UserName:  "Ana",
		Topic:     "energy policy",
		Stage:     stage.Opinion,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	require.NoError(t, h.store.CreateConversation(context.Background(), conv))
	return conv
}

func (h *harness) conversation(t *testing.T, id string) *model.Conversation {
	t.Helper()
	conv, err := h.store.GetConversation(context.Background(), id)
	require.NoError(t, err)
	return conv
}
