package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/persona-orchestrator/internal/middleware"
	"github.com/capitalize-ai/persona-orchestrator/internal/model"
	"github.com/capitalize-ai/persona-orchestrator/internal/service"
	"github.com/capitalize-ai/persona-orchestrator/pkg/logger"
)

// TranscriptSaver runs the transcript pipeline.
type TranscriptSaver interface {
	Save(ctx context.Context, req service.SaveRequest) service.SaveResult
}

// WebhookHandler handles provider lifecycle reports.
type WebhookHandler struct {
	transcripts TranscriptSaver
	logger      *logger.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(transcripts TranscriptSaver, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		transcripts: transcripts,
		logger:      log,
	}
}

// webhookResponse acknowledges a lifecycle report. The provider does not
// retry on it, so pipeline failures are reported in the body only.
type webhookResponse struct {
	Status         string `json:"status"`
	Event          string `json:"event,omitempty"`
	Tier           string `json:"tier,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Handle handles POST /api/v1/provider/webhook
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	var envelope model.ProviderEnvelope
	if err := decodeJSON(w, r, &envelope); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg := envelope.Message
	event, ok := msg.Lifecycle()
	if !ok {
		writeJSON(w, http.StatusOK, webhookResponse{Status: "ignored"})
		return
	}
	if err := middleware.ValidateCallID(msg.Call.ID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := service.SaveRequest{
		CallID:      msg.Call.ID,
		Trigger:     service.TriggerWebhook,
		EndedReason: msg.EndedReason,
	}
	if req.EndedReason == "" {
		req.EndedReason = string(event)
	}
	if msg.Artifact != nil {
		req.Messages = model.ToTranscriptMessages(msg.Artifact.Messages)
		req.RecordingURL = msg.Artifact.RecordingURL
	}

	res := h.transcripts.Save(context.WithoutCancel(r.Context()), req)

	log := h.logger.WithCall(middleware.GetCorrelationID(r.Context()), msg.Call.ID, res.ConversationID)
	if res.Err != nil {
		log.Warn("lifecycle report left the call without a provider transcript",
			zap.String("event", string(event)),
			zap.String("status", string(res.Status)),
			zap.Error(res.Err),
		)
	} else {
		log.Info("lifecycle report handled",
			zap.String("event", string(event)),
			zap.String("status", string(res.Status)),
			zap.String("tier", string(res.Tier)),
		)
	}

	writeJSON(w, http.StatusOK, webhookResponse{
		Status:         string(res.Status),
		Event:          string(event),
		Tier:           string(res.Tier),
		ConversationID: res.ConversationID,
	})
}
