package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/capitalize-ai/persona-orchestrator/internal/detach"
	"github.com/capitalize-ai/persona-orchestrator/internal/memory"
	"github.com/capitalize-ai/persona-orchestrator/internal/model"
	natsclient "github.com/capitalize-ai/persona-orchestrator/internal/nats"
	"github.com/capitalize-ai/persona-orchestrator/internal/store"
	"github.com/capitalize-ai/persona-orchestrator/pkg/logger"
	"github.com/capitalize-ai/persona-orchestrator/pkg/metrics"
	"github.com/capitalize-ai/persona-orchestrator/pkg/tracing"
)

// Trigger names the entry point that started a transcript save.
type Trigger string

const (
	TriggerEndCallTool   Trigger = "end_call_tool"
	TriggerEmergencyTool Trigger = "emergency_tool"
	TriggerWebhook       Trigger = "provider_webhook"
	TriggerRecovery      Trigger = "recovery"
)

// SaveStatus is the outcome of a transcript save.
type SaveStatus string

const (
	StatusAlreadySaved SaveStatus = "already_saved"
	StatusSaved        SaveStatus = "saved"
	StatusFailed       SaveStatus = "failed"
	StatusSkipped      SaveStatus = "skipped"
)

// TranscriptSource is the provider side of the pipeline.
type TranscriptSource interface {
	FetchMessages(ctx context.Context, callID string) ([]model.TranscriptMessage, error)
	FetchRecordingURL(ctx context.Context, callID string) (string, error)
}

// SaveRequest starts the failsafe pipeline for one call. Either CallID or
// ConversationID identifies the conversation. Messages and RecordingURL may
// be preloaded from a webhook.
type SaveRequest struct {
	CallID         string
	ConversationID string
	Trigger        Trigger
	EndedReason    string
	LastSpeaker    model.Speaker
	Messages       []model.TranscriptMessage
	RecordingURL   string
}

// SaveResult reports what the pipeline did.
type SaveResult struct {
	Status         SaveStatus             `json:"status"`
	Tier           model.TranscriptSource `json:"tier,omitempty"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	CallID         string                 `json:"call_id,omitempty"`
	Err            error                  `json:"-"`
}

// TranscriptConfig tunes the pipeline.
type TranscriptConfig struct {
	ProviderTimeout time.Duration
}

// TranscriptService is the transcript failsafe pipeline. A conversation gets at
// most one transcript: the store only writes it while none is present.
type TranscriptService struct {
	store    store.ConversationStore
	provider TranscriptSource
	memory   *memory.Memory
	events   natsclient.Publisher
	writer   *detach.Group
	logger   *logger.Logger
	cfg      TranscriptConfig

	inflight singleflight.Group
	now      func() time.Time
}

// NewTranscriptService creates a TranscriptService.
func NewTranscriptService(
	cfg TranscriptConfig,
	st store.ConversationStore,
	provider TranscriptSource,
	mem *memory.Memory,
	events natsclient.Publisher,
	writer *detach.Group,
	log *logger.Logger,
) *TranscriptService {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 4 * time.Second
	}
	if events == nil {
		events = natsclient.NopPublisher{}
	}
	return &TranscriptService{
		store:    st,
		provider: provider,
		memory:   mem,
		events:   events,
		writer:   writer,
		logger:   log,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Save runs the pipeline. It never panics on collaborator failure; the
// outcome, including any error, is reported in the result.
func (s *TranscriptService) Save(ctx context.Context, req SaveRequest) SaveResult {
	ctx, span := tracing.Tracer("service").Start(ctx, "transcript.save")
	defer span.End()
	span.SetAttributes(
		attribute.String("call.id", req.CallID),
		attribute.String("transcript.trigger", string(req.Trigger)),
	)

	res := s.save(ctx, req)

	span.SetAttributes(
		attribute.String("transcript.status", string(res.Status)),
		attribute.String("transcript.tier", string(res.Tier)),
	)
	if res.Err != nil {
		span.SetStatus(codes.Error, res.Err.Error())
	}
	metrics.RecordTranscriptSave(string(req.Trigger), string(res.Status), string(res.Tier))
	return res
}

func (s *TranscriptService) save(ctx context.Context, req SaveRequest) SaveResult {
	if req.CallID == "" && req.ConversationID == "" {
		return SaveResult{Status: StatusFailed, Err: ErrMissingCallID}
	}

	conv, err := s.load(ctx, req)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Info("no conversation for call, skipping transcript",
			zap.String("call_id", req.CallID),
			zap.String("conversation_id", req.ConversationID),
			zap.String("trigger", string(req.Trigger)),
		)
		return SaveResult{Status: StatusSkipped, CallID: req.CallID, ConversationID: req.ConversationID}
	}
	if err != nil {
		s.logger.Error("failed to load conversation for transcript",
			zap.String("call_id", req.CallID),
			zap.Error(err),
		)
		return SaveResult{Status: StatusFailed, CallID: req.CallID, ConversationID: req.ConversationID, Err: err}
	}

	v, _, _ := s.inflight.Do(conv.ID, func() (any, error) {
		return s.run(ctx, conv.ID, req), nil
	})
	return v.(SaveResult)
}

func (s *TranscriptService) load(ctx context.Context, req SaveRequest) (*model.Conversation, error) {
	if req.ConversationID != "" {
		return s.store.GetConversation(ctx, req.ConversationID)
	}
	return s.store.GetConversationByCallID(ctx, req.CallID)
}

// run re-reads the conversation inside the flight so a save finished by an
// earlier flight is seen.
func (s *TranscriptService) run(ctx context.Context, conversationID string, req SaveRequest) SaveResult {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return SaveResult{Status: StatusFailed, ConversationID: conversationID, CallID: req.CallID, Err: err}
	}
	if req.CallID == "" {
		req.CallID = conv.CallID
	}

	log := s.logger.With(
		zap.String("conversation_id", conv.ID),
		zap.String("call_id", req.CallID),
		zap.String("trigger", string(req.Trigger)),
	)

	result := SaveResult{ConversationID: conv.ID, CallID: req.CallID}

	// Live triggers never overwrite. Recovery may replace an error marker.
	save := s.store.SaveTranscriptIfAbsent
	if req.Trigger == TriggerRecovery {
		save = s.store.ReplaceErrorMarker
	}
	if conv.HasTranscript() && !(req.Trigger == TriggerRecovery && conv.HasErrorMarker()) {
		result.Status = StatusAlreadySaved
		result.Tier = conv.FullTranscript.Source
		return result
	}

	var attempted []string
	var errs []error
	messageCount := 0

	// Provider transcript.
	attempted = append(attempted, string(model.TranscriptSourceProvider))
	messages, recordingURL, err := s.fetch(ctx, req)
	if err == nil {
		messageCount = len(messages)
		transcript := s.transcript(model.TranscriptSourceProvider, conv, req, attempted)
		transcript.Messages = messages
		transcript.RecordingURL = recordingURL

		saved, err := save(ctx, conv.ID, transcript, recordingURL)
		if err == nil {
			return s.finish(ctx, log, conv, req, result, saved, model.TranscriptSourceProvider, messageCount)
		}
		errs = append(errs, fmt.Errorf("failed to save provider transcript: %w", err))
	} else {
		errs = append(errs, err)
	}
	log.Warn("provider transcript tier failed", zap.Error(errors.Join(errs...)))

	// Minimal transcript from what is known locally.
	attempted = append(attempted, string(model.TranscriptSourceMinimal))
	minimal := s.transcript(model.TranscriptSourceMinimal, conv, req, attempted)
	minimal.Note = "recovery transcript: the provider transcript was unavailable"
	minimal.Error = errors.Join(errs...).Error()
	minimal.Messages = []model.TranscriptMessage{{
		Role: model.RoleSystem,
		Text: fmt.Sprintf("Recovery transcript for call %s. Caller: %s. Topic: %s. Ended via %s.",
			req.CallID, orUnknown(conv.UserName), orUnknown(conv.Topic), req.Trigger),
		Time: s.now(),
	}}

	saved, err := save(ctx, conv.ID, minimal, "")
	if err == nil {
		return s.finish(ctx, log, conv, req, result, saved, model.TranscriptSourceMinimal, messageCount)
	}
	errs = append(errs, fmt.Errorf("failed to save minimal transcript: %w", err))
	log.Warn("minimal transcript tier failed", zap.Error(err))

	// Error marker for the recovery sweep.
	attempted = append(attempted, string(model.TranscriptSourceError))
	marker := s.transcript(model.TranscriptSourceError, conv, req, attempted)
	marker.Note = "no transcript could be saved; recovery sweep will retry"
	marker.Error = errors.Join(errs...).Error()

	saved, err = save(ctx, conv.ID, marker, "")
	if err == nil {
		return s.finish(ctx, log, conv, req, result, saved, model.TranscriptSourceError, messageCount)
	}
	errs = append(errs, fmt.Errorf("failed to save error marker: %w", err))
	log.Error("every transcript tier failed", zap.Error(errors.Join(errs...)))

	s.closeOut(ctx, log, conv, req, messageCount, StatusFailed, "")
	result.Status = StatusFailed
	result.Err = errors.Join(errs...)
	return result
}

// fetch returns preloaded messages or asks the provider. An empty transcript
// counts as a failure.
func (s *TranscriptService) fetch(ctx context.Context, req SaveRequest) ([]model.TranscriptMessage, string, error) {
	messages := req.Messages
	recordingURL := req.RecordingURL

	if len(messages) == 0 {
		if s.provider == nil || req.CallID == "" {
			return nil, "", errors.New("provider transcript not available")
		}
		fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
		defer cancel()

		var err error
		messages, err = s.provider.FetchMessages(fetchCtx, req.CallID)
		if err != nil {
			return nil, "", fmt.Errorf("failed to fetch provider transcript: %w", err)
		}
	}
	if len(messages) == 0 {
		return nil, "", errors.New("provider transcript is empty")
	}

	if recordingURL == "" && s.provider != nil && req.CallID != "" {
		recCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
		defer cancel()
		url, err := s.provider.FetchRecordingURL(recCtx, req.CallID)
		if err != nil {
			s.logger.Debug("recording url unavailable", zap.String("call_id", req.CallID), zap.Error(err))
		}
		recordingURL = url
	}

	return messages, recordingURL, nil
}

func (s *TranscriptService) transcript(source model.TranscriptSource, conv *model.Conversation, req SaveRequest, attempted []string) *model.Transcript {
	return &model.Transcript{
		Source:         source,
		CallID:         req.CallID,
		UserName:       conv.UserName,
		Topic:          conv.Topic,
		AttemptedTiers: append([]string(nil), attempted...),
		CapturedAt:     s.now(),
	}
}

// finish reports a tier outcome. A lost conditional write means another
// trigger saved first, which is a no-op success.
func (s *TranscriptService) finish(ctx context.Context, log *logger.Logger, conv *model.Conversation, req SaveRequest, result SaveResult, saved bool, tier model.TranscriptSource, messageCount int) SaveResult {
	if !saved {
		log.Info("transcript already saved by another trigger")
		result.Status = StatusAlreadySaved
		return result
	}

	log.Info("transcript saved", zap.String("tier", string(tier)), zap.Int("messages", messageCount))
	result.Status = StatusSaved
	result.Tier = tier
	s.closeOut(ctx, log, conv, req, messageCount, StatusSaved, tier)
	return result
}

// closeOut stamps the end time and records how the call ended. Each step
// tolerates its own failure.
func (s *TranscriptService) closeOut(ctx context.Context, log *logger.Logger, conv *model.Conversation, req SaveRequest, messageCount int, status SaveStatus, tier model.TranscriptSource) {
	if err := s.store.MarkEnded(ctx, conv.ID, s.now(), messageCount); err != nil {
		log.Warn("failed to mark conversation ended", zap.Error(err))
	}

	if s.memory != nil {
		s.memory.RecordEvent(ctx, conv.ID, model.EventAgentStatement, map[string]any{
			"event":        "call_ended",
			"trigger":      string(req.Trigger),
			"ended_reason": req.EndedReason,
			"last_speaker": string(req.LastSpeaker),
		}, conv.Stage, model.SpeakerSystem)
	}

	event := &model.CallEvent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		CallID:         req.CallID,
		Type:           model.CallEventTranscriptSaved,
		Stage:          conv.Stage,
		Reason:         req.EndedReason,
		Metadata: map[string]any{
			"trigger": string(req.Trigger),
			"status":  string(status),
			"tier":    string(tier),
		},
		CreatedAt: s.now(),
	}
	s.writer.Go(ctx, "events.publish_transcript_saved", func(ctx context.Context) error {
		return s.events.Publish(ctx, event)
	})
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
