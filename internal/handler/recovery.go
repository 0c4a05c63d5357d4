package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/persona-orchestrator/internal/middleware"
	"github.com/capitalize-ai/persona-orchestrator/internal/model"
	"github.com/capitalize-ai/persona-orchestrator/internal/service"
	"github.com/capitalize-ai/persona-orchestrator/internal/store"
	"github.com/capitalize-ai/persona-orchestrator/pkg/logger"
)

// Recoverer force-runs the transcript pipeline.
type Recoverer interface {
	RecoverConversation(ctx context.Context, conversationID string) (service.RecoveryItem, error)
	RecoverCall(ctx context.Context, callID string) (service.RecoveryItem, error)
	Sweep(ctx context.Context, opts service.SweepOptions) (*service.SweepReport, error)
}

// EventReplayer reads a conversation's call events back from the event bus.
type EventReplayer interface {
	Events(ctx context.Context, conversationID string, afterSequence uint64, limit int) ([]model.CallEvent, uint64, bool, error)
}

// RecoveryHandler handles operator recovery endpoints.
type RecoveryHandler struct {
	service Recoverer
	events  EventReplayer
	logger  *logger.Logger
}

// NewRecoveryHandler creates a new recovery handler. events may be nil when
// the event bus is disabled.
func NewRecoveryHandler(svc Recoverer, events EventReplayer, log *logger.Logger) *RecoveryHandler {
	return &RecoveryHandler{
		service: svc,
		events:  events,
		logger:  log,
	}
}

// RecoverConversation handles POST /api/v1/recovery/conversations/:id
func (h *RecoveryHandler) RecoverConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	item, err := h.service.RecoverConversation(r.Context(), conversationID)
	h.respond(w, r, item, err)
}

// RecoverCall handles POST /api/v1/recovery/calls/:callID
func (h *RecoveryHandler) RecoverCall(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	if err := middleware.ValidateCallID(callID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	item, err := h.service.RecoverCall(r.Context(), callID)
	h.respond(w, r, item, err)
}

func (h *RecoveryHandler) respond(w http.ResponseWriter, r *http.Request, item service.RecoveryItem, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	case errors.Is(err, service.ErrMissingCallID):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("recovery failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "recovery failed")
		return
	}

	h.logger.Info("recovery run",
		zap.String("operator_id", middleware.GetOperatorID(r.Context())),
		zap.String("conversation_id", item.ConversationID),
		zap.String("status", string(item.Status)),
	)
	writeJSON(w, http.StatusOK, item)
}

// Sweep handles POST /api/v1/recovery/sweep
func (h *RecoveryHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	var opts service.SweepOptions
	q := r.URL.Query()

	if v := q.Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid window")
			return
		}
		opts.Window = d
	}
	if v := q.Get("grace"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "invalid grace")
			return
		}
		opts.Grace = d
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 5000 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = n
	}

	report, err := h.service.Sweep(r.Context(), opts)
	if err != nil {
		if errors.Is(err, service.ErrInvalidSweep) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("recovery sweep failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "recovery sweep failed")
		return
	}

	h.logger.Info("recovery sweep requested",
		zap.String("operator_id", middleware.GetOperatorID(r.Context())),
		zap.Int("items", len(report.Items)),
		zap.Int("missing", len(report.Missing)),
	)
	writeJSON(w, http.StatusOK, report)
}

// eventsResponse is a page of replayed call events.
type eventsResponse struct {
	Events       []model.CallEvent `json:"events"`
	LastSequence uint64            `json:"last_sequence"`
	HasMore      bool              `json:"has_more"`
}

// Events handles GET /api/v1/recovery/conversations/:id/events
func (h *RecoveryHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusNotImplemented, "event bus disabled")
		return
	}

	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	var after uint64
	if a := r.URL.Query().Get("after"); a != "" {
		parsed, err := strconv.ParseUint(a, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after sequence")
			return
		}
		after = parsed
	}

	events, last, more, err := h.events.Events(r.Context(), conversationID, after, limit)
	if err != nil {
		h.logger.Error("failed to replay call events",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to replay events")
		return
	}
	if events == nil {
		events = []model.CallEvent{}
	}

	writeJSON(w, http.StatusOK, eventsResponse{
		Events:       events,
		LastSequence: last,
		HasMore:      more,
	})
}
