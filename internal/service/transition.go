package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/capitalize-ai/persona-orchestrator/internal/detach"
	"github.com/capitalize-ai/persona-orchestrator/internal/memory"
	"github.com/capitalize-ai/persona-orchestrator/internal/model"
	natsclient "github.com/capitalize-ai/persona-orchestrator/internal/nats"
	"github.com/capitalize-ai/persona-orchestrator/internal/stage"
	"github.com/capitalize-ai/persona-orchestrator/internal/store"
	"github.com/capitalize-ai/persona-orchestrator/internal/topic"
	"github.com/capitalize-ai/persona-orchestrator/pkg/logger"
	"github.com/capitalize-ai/persona-orchestrator/pkg/metrics"
	"github.com/capitalize-ai/persona-orchestrator/pkg/tracing"
)

// TransitionConfig tunes the transition handler.
type TransitionConfig struct {
	// ToolServerURL is the callback address advertised on every tool.
	ToolServerURL string
	// TopicTimeout bounds placeholder topic re-derivation.
	TopicTimeout time.Duration
}

// ToolRequest is one tool invocation from the live call.
type ToolRequest struct {
	CallID   string
	ToolName string
	Payload  map[string]any
}

// TransitionRequest hands the call to TargetStage.
type TransitionRequest struct {
	CallID      string
	ToolName    string
	TargetStage string
	Payload     map[string]any
}

// TerminateRequest ends the call.
type TerminateRequest struct {
	CallID      string
	Reason      string
	Emergency   bool
	LastSpeaker model.Speaker
}

// TransitionService is the stage transition handler.
type TransitionService struct {
	registry    *stage.Registry
	store       store.ConversationStore
	memory      *memory.Memory
	transcripts *TranscriptService
	provider    TranscriptSource
	extractor   topic.Extractor
	events      natsclient.Publisher
	writer      *detach.Group
	logger      *logger.Logger
	cfg         TransitionConfig
	now         func() time.Time
}

// NewTransitionService creates a TransitionService.
func NewTransitionService(
	cfg TransitionConfig,
	registry *stage.Registry,
	st store.ConversationStore,
	mem *memory.Memory,
	transcripts *TranscriptService,
	provider TranscriptSource,
	extractor topic.Extractor,
	events natsclient.Publisher,
	writer *detach.Group,
	log *logger.Logger,
) *TransitionService {
	if cfg.TopicTimeout <= 0 {
		cfg.TopicTimeout = 2 * time.Second
	}
	if extractor == nil {
		extractor = topic.NewPatternExtractor()
	}
	if events == nil {
		events = natsclient.NopPublisher{}
	}
	return &TransitionService{
		registry:    registry,
		store:       st,
		memory:      mem,
		transcripts: transcripts,
		provider:    provider,
		extractor:   extractor,
		events:      events,
		writer:      writer,
		logger:      log,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// HandleTool dispatches a tool invocation by the tool's kind.
func (s *TransitionService) HandleTool(ctx context.Context, req ToolRequest) (*model.Instruction, error) {
	if req.CallID == "" {
		return nil, ErrMissingCallID
	}
	tool, ok := s.registry.Tool(req.ToolName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, req.ToolName)
	}

	switch tool.Kind {
	case stage.KindTerminate, stage.KindEmergency:
		return s.Terminate(ctx, terminateRequest(req.CallID, tool, req.Payload))
	case stage.KindMemoryCheck:
		question := payloadString(req.Payload, "question")
		res, err := s.CheckQuestion(ctx, req.CallID, question)
		if err != nil {
			return nil, err
		}
		msg := "This question has not been asked yet."
		if res.IsRepeat {
			msg = "This question was already asked. Ask something else."
		}
		return &model.Instruction{
			Directive: model.DirectiveContinue,
			Message:   msg,
			Data: map[string]any{
				"is_repeat":   res.IsRepeat,
				"prior_count": res.PriorCount,
			},
		}, nil
	default:
		return s.Transition(ctx, TransitionRequest{
			CallID:      req.CallID,
			ToolName:    req.ToolName,
			TargetStage: tool.Target,
			Payload:     req.Payload,
		})
	}
}

// Transition hands the call to the target stage and returns the instruction
// bundle for its persona. Only validation errors are returned; collaborator
// failures are logged and the call continues.
func (s *TransitionService) Transition(ctx context.Context, req TransitionRequest) (*model.Instruction, error) {
	ctx, span := tracing.Tracer("service").Start(ctx, "stage.transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("call.id", req.CallID),
		attribute.String("stage.target", req.TargetStage),
	)

	if req.CallID == "" {
		return nil, ErrMissingCallID
	}
	if req.ToolName != "" {
		tool, ok := s.registry.Tool(req.ToolName)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTool, req.ToolName)
		}
		if tool.Terminates() {
			return s.Terminate(ctx, terminateRequest(req.CallID, tool, req.Payload))
		}
	}
	target, ok := s.registry.Lookup(req.TargetStage)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStage, req.TargetStage)
	}

	log := s.logger.With(zap.String("call_id", req.CallID), zap.String("target_stage", target.ID))

	conv, err := s.store.GetConversationByCallID(ctx, req.CallID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn("failed to load conversation, continuing without it", zap.Error(err))
		}
		conv = nil
	}

	if conv != nil && conv.Ended() {
		log.Info("transition after call ended, hanging up")
		return s.hangup(conv.ID, nil), nil
	}

	current := s.registry.Initial()
	if conv != nil {
		if st, ok := s.registry.Lookup(conv.Stage); ok {
			current = st
		}
	}
	if !s.offers(current, target.ID) {
		log.Warn("out-of-order transition", zap.String("current_stage", current.ID))
	}

	var snapshot memory.Snapshot
	prior := stage.Prior{Persona: current.Persona}
	if conv != nil {
		snapshot = s.memory.Snapshot(ctx, conv.ID)
		prior.UserName = conv.UserName
		prior.Topic = conv.Topic
	}
	hc := stage.Merge(req.Payload, prior, snapshot, target.Persona)

	if topic.IsPlaceholder(hc.Topic) && (hc.UserName != "" || conv != nil) {
		hc = hc.WithTopic(s.deriveTopic(ctx, log, req.CallID))
	}

	conv = s.upsert(ctx, log, conv, req.CallID, target.ID, hc)

	if conv != nil {
		hc = s.applyMemory(ctx, conv.ID, current, prior, hc)
	}

	metrics.RecordTransition(current.ID, target.ID)

	inst := &model.Instruction{
		Directive:    model.DirectiveStageChange,
		Stage:        target.ID,
		Persona:      target.Persona,
		SystemPrompt: target.Render(hc),
		VoiceID:      target.VoiceID,
		Tools:        target.Definitions(s.cfg.ToolServerURL),
		Message:      target.Acknowledgment,
		Data: map[string]any{
			"phase":          string(hc.Phase),
			"exchange_count": hc.ExchangeCount,
			"previous_stage": current.ID,
		},
	}
	if conv != nil {
		inst.ConversationID = conv.ID
		s.publish(ctx, &model.CallEvent{
			ConversationID: conv.ID,
			CallID:         req.CallID,
			Type:           model.CallEventStageChanged,
			Stage:          target.ID,
			Metadata:       map[string]any{"from": current.ID, "topic": hc.Topic},
		})
	}

	log.Info("stage transition",
		zap.String("from_stage", current.ID),
		zap.String("persona", string(target.Persona)),
		zap.Bool("conversation_known", conv != nil),
	)
	return inst, nil
}

// Terminate runs the transcript pipeline and tells the provider to hang up.
// Collaborator failures never surface; the caller always gets the farewell.
func (s *TransitionService) Terminate(ctx context.Context, req TerminateRequest) (*model.Instruction, error) {
	if req.CallID == "" {
		return nil, ErrMissingCallID
	}

	trigger := TriggerEndCallTool
	if req.Emergency {
		trigger = TriggerEmergencyTool
	}

	res := s.transcripts.Save(ctx, SaveRequest{
		CallID:      req.CallID,
		Trigger:     trigger,
		EndedReason: req.Reason,
		LastSpeaker: req.LastSpeaker,
	})
	if res.Err != nil {
		s.logger.Warn("transcript pipeline degraded on termination",
			zap.String("call_id", req.CallID),
			zap.String("status", string(res.Status)),
			zap.Error(res.Err),
		)
	}

	if res.ConversationID != "" {
		s.publish(ctx, &model.CallEvent{
			ConversationID: res.ConversationID,
			CallID:         req.CallID,
			Type:           model.CallEventTerminated,
			Reason:         req.Reason,
			Metadata:       map[string]any{"trigger": string(trigger)},
		})
	}

	return s.hangup(res.ConversationID, map[string]any{
		"transcript_status": string(res.Status),
		"transcript_tier":   string(res.Tier),
	}), nil
}

// CheckQuestion reports whether a question was already asked in the call and
// records it when it is new.
func (s *TransitionService) CheckQuestion(ctx context.Context, callID, question string) (memory.RepetitionResult, error) {
	if callID == "" {
		return memory.RepetitionResult{}, ErrMissingCallID
	}
	conv, err := s.store.GetConversationByCallID(ctx, callID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("failed to load conversation for question check",
				zap.String("call_id", callID),
				zap.Error(err),
			)
		}
		return memory.RepetitionResult{}, nil
	}

	res := s.memory.CheckQuestionRepetition(ctx, conv.ID, question)
	if !res.IsRepeat && strings.TrimSpace(question) != "" {
		speaker := model.SpeakerSystem
		if st, ok := s.registry.Lookup(conv.Stage); ok {
			speaker = st.Persona
		}
		s.memory.RecordEvent(ctx, conv.ID, model.EventQuestionAsked,
			map[string]any{"question": question}, conv.Stage, speaker)
	}
	return res, nil
}

func (s *TransitionService) offers(current *stage.Stage, targetID string) bool {
	for _, t := range current.Tools {
		if t.Kind == stage.KindTransition && t.Target == targetID {
			return true
		}
	}
	return false
}

// deriveTopic re-derives a placeholder topic from the provider transcript,
// falling back to a timestamped synthetic topic.
func (s *TransitionService) deriveTopic(ctx context.Context, log *logger.Logger, callID string) string {
	if s.provider != nil {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.TopicTimeout)
		defer cancel()

		messages, err := s.provider.FetchMessages(ctx, callID)
		if err == nil {
			res := s.extractor.Extract(ctx, messages)
			if res.Found() && !topic.IsPlaceholder(res.Topic) {
				metrics.TopicDerivationsTotal.WithLabelValues(string(res.Strategy)).Inc()
				log.Info("derived topic", zap.String("topic", res.Topic), zap.String("strategy", string(res.Strategy)))
				return res.Topic
			}
		} else {
			log.Warn("topic derivation could not fetch transcript", zap.Error(err))
		}
	}

	metrics.TopicDerivationsTotal.WithLabelValues("timestamp").Inc()
	return fmt.Sprintf("conversation-%d", s.now().Unix())
}

// upsert creates the conversation once name and topic are known, or updates
// the existing record. Store failures are logged and swallowed.
func (s *TransitionService) upsert(ctx context.Context, log *logger.Logger, conv *model.Conversation, callID, stageID string, hc stage.HandoffContext) *model.Conversation {
	if conv != nil {
		upd := model.ConversationUpdate{Stage: stageID}
		if hc.UserName != conv.UserName {
			upd.UserName = hc.UserName
		}
		if hc.Topic != conv.Topic {
			upd.Topic = hc.Topic
		}
		if err := s.store.UpdateConversation(ctx, conv.ID, upd); err != nil {
			log.Warn("failed to update conversation", zap.Error(err))
			return conv
		}
		updated := *conv
		updated.Stage = stageID
		if upd.UserName != "" {
			updated.UserName = upd.UserName
		}
		if upd.Topic != "" {
			updated.Topic = upd.Topic
		}
		return &updated
	}

	if !hc.HasIdentity() {
		log.Info("name or topic still unknown, conversation not created yet")
		return nil
	}

	now := s.now()
	created := &model.Conversation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		CallID:    callID,
		UserName:  hc.UserName,
		Topic:     hc.Topic,
		Stage:     stageID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.store.CreateConversation(ctx, created)
	switch {
	case err == nil:
		metrics.ConversationsTotal.Inc()
		log.Info("conversation created", zap.String("conversation_id", created.ID))
		return created
	case errors.Is(err, store.ErrDuplicateCall):
		existing, getErr := s.store.GetConversationByCallID(ctx, callID)
		if getErr != nil {
			log.Warn("failed to reload conversation after concurrent create", zap.Error(getErr))
			return nil
		}
		return s.upsert(ctx, log, existing, callID, stageID, hc)
	default:
		log.Warn("failed to create conversation", zap.Error(err))
		return nil
	}
}

// applyMemory checks the handoff against the repetition memory, then records
// what was just learned. Checks run before the writes so a payload never
// vetoes itself.
func (s *TransitionService) applyMemory(ctx context.Context, conversationID string, current *stage.Stage, prior stage.Prior, hc stage.HandoffContext) stage.HandoffContext {
	var echoed string
	if hc.OpinionSummary != "" {
		res := s.memory.TrackStatement(ctx, conversationID, current.Persona, hc.OpinionSummary, current.ID)
		if res.ShouldAvoid {
			echoed = hc.OpinionSummary
		}
	}

	var repeated, fresh []string
	for _, q := range hc.NewQuestions {
		if s.memory.CheckQuestionRepetition(ctx, conversationID, q).IsRepeat {
			repeated = append(repeated, q)
			continue
		}
		fresh = append(fresh, q)
	}

	topicChanged := hc.Topic != "" && hc.Topic != prior.Topic
	revisited := false
	if topicChanged {
		revisited = s.memory.CheckTopicRepetition(ctx, conversationID, hc.Topic).IsRepeat
	}

	if (hc.UserName != "" && hc.UserName != prior.UserName) || hc.Age != "" || hc.Occupation != "" {
		info := map[string]any{}
		for k, v := range map[string]string{"user_name": hc.UserName, "age": hc.Age, "occupation": hc.Occupation} {
			if v != "" {
				info[k] = v
			}
		}
		s.memory.RecordEvent(ctx, conversationID, model.EventUserInfo, info, current.ID, model.SpeakerUser)
	}
	if topicChanged && !revisited {
		s.memory.RecordEvent(ctx, conversationID, model.EventTopicCovered,
			map[string]any{"topic": hc.Topic}, current.ID, model.SpeakerUser)
	}
	for _, q := range fresh {
		s.memory.RecordEvent(ctx, conversationID, model.EventQuestionAsked,
			map[string]any{"question": q}, current.ID, current.Persona)
	}
	for _, p := range hc.Preferences {
		s.memory.RecordEvent(ctx, conversationID, model.EventUserPreference,
			map[string]any{"preference": p}, current.ID, model.SpeakerUser)
	}

	return hc.WithRepetitions(repeated, revisited, echoed)
}

func (s *TransitionService) hangup(conversationID string, data map[string]any) *model.Instruction {
	return &model.Instruction{
		Directive:      model.DirectiveHangup,
		Message:        stage.Farewell,
		ConversationID: conversationID,
		Data:           data,
	}
}

func (s *TransitionService) publish(ctx context.Context, event *model.CallEvent) {
	event.ID = uuid.Must(uuid.NewV7()).String()
	event.CreatedAt = s.now()
	s.writer.Go(ctx, "events.publish_"+string(event.Type), func(ctx context.Context) error {
		return s.events.Publish(ctx, event)
	})
}

// terminateRequest builds the close-out request for a terminating tool.
func terminateRequest(callID string, tool stage.Tool, payload map[string]any) TerminateRequest {
	return TerminateRequest{
		CallID:      callID,
		Reason:      payloadString(payload, "reason"),
		Emergency:   tool.Kind == stage.KindEmergency,
		LastSpeaker: model.Speaker(strings.ToLower(payloadString(payload, "last_speaker"))),
	}
}

func payloadString(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
