// Package handler provides HTTP handlers for the API.
package handler

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/persona-orchestrator/internal/middleware"
	"github.com/capitalize-ai/persona-orchestrator/internal/model"
	"github.com/capitalize-ai/persona-orchestrator/internal/service"
	"github.com/capitalize-ai/persona-orchestrator/pkg/logger"
)

const toolCallsMessage = "tool-calls"

// ToolDispatcher runs one tool invocation from the live call.
type ToolDispatcher interface {
	HandleTool(ctx context.Context, req service.ToolRequest) (*model.Instruction, error)
}

// ToolHandler handles provider tool-call callbacks.
type ToolHandler struct {
	service ToolDispatcher
	logger  *logger.Logger
}

// NewToolHandler creates a new tool handler.
func NewToolHandler(svc ToolDispatcher, log *logger.Logger) *ToolHandler {
	return &ToolHandler{
		service: svc,
		logger:  log,
	}
}

// Handle handles POST /api/v1/provider/tools
func (h *ToolHandler) Handle(w http.ResponseWriter, r *http.Request) {
	var envelope model.ProviderEnvelope
	if err := decodeJSON(w, r, &envelope); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg := envelope.Message
	if msg.Type != "" && msg.Type != toolCallsMessage {
		writeError(w, http.StatusBadRequest, "unsupported message type")
		return
	}
	if err := middleware.ValidateCallID(msg.Call.ID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(msg.ToolCallList) == 0 {
		writeError(w, http.StatusBadRequest, "no tool calls")
		return
	}

	// The call outlives the provider's HTTP request; writes must finish even
	// when the provider stops waiting.
	ctx := context.WithoutCancel(r.Context())
	log := h.logger.WithCall(middleware.GetCorrelationID(r.Context()), msg.Call.ID, "")

	// Decode every call before running any so a bad batch has no side effects.
	args := make([]map[string]any, len(msg.ToolCallList))
	for i, call := range msg.ToolCallList {
		decoded, err := call.Function.DecodeArguments()
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid arguments for tool "+call.Function.Name)
			return
		}
		args[i] = decoded
	}

	resp := model.ToolCallResponse{Results: make([]model.ToolCallResult, 0, len(msg.ToolCallList))}
	for i, call := range msg.ToolCallList {
		instruction, err := h.service.HandleTool(ctx, service.ToolRequest{
			CallID:   msg.Call.ID,
			ToolName: call.Function.Name,
			Payload:  args[i],
		})
		if err != nil {
			if isValidation(err) {
				// Once earlier calls have run, their results must reach the provider.
				if len(resp.Results) == 0 {
					writeError(w, http.StatusBadRequest, err.Error())
					return
				}
				log.Warn("rejected tool call",
					zap.String("tool", call.Function.Name),
					zap.String("tool_call_id", call.ID),
					zap.Error(err),
				)
				resp.Results = append(resp.Results, model.ToolCallResult{
					ToolCallID: call.ID,
					Error:      err.Error(),
				})
				continue
			}
			log.Error("tool call failed",
				zap.String("tool", call.Function.Name),
				zap.String("tool_call_id", call.ID),
				zap.Error(err),
			)
			resp.Results = append(resp.Results, model.ToolCallResult{
				ToolCallID: call.ID,
				Error:      "tool call failed",
			})
			continue
		}

		resp.Results = append(resp.Results, model.ToolCallResult{
			ToolCallID: call.ID,
			Result:     instruction,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func isValidation(err error) bool {
	return errors.Is(err, service.ErrUnknownStage) ||
		errors.Is(err, service.ErrUnknownTool) ||
		errors.Is(err, service.ErrMissingCallID)
}
