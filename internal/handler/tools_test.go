package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/persona-orchestrator/internal/model"
	"github.com/capitalize-ai/persona-orchestrator/internal/service"
	"github.com/capitalize-ai/persona-orchestrator/pkg/logger"
)

func toolEnvelope(callID, toolName, arguments string) string {
	return fmt.Sprintf(`{"message":{"type":"tool-calls","call":{"id":%q},"toolCallList":[{"id":"tc-1","type":"function","function":{"name":%q,"arguments":%s}}]}}`,
		callID, toolName, arguments)
}

func TestToolHandlerReturnsInstruction(t *testing.T) {
	svc := &mockDispatcher{}
	h := NewToolHandler(svc, logger.NewNop())

	instruction := &model.Instruction{
		Directive: model.DirectiveStageChange,
		Stage:     "opinion",
		Persona:   model.SpeakerLars,
		Message:   "Let me hand you over.",
	}
	svc.On("HandleTool", mock.Anything, service.ToolRequest{
		CallID:   "call-1",
		ToolName: "handoff_to_opinion",
		Payload:  map[string]any{"user_name": "Ana", "topic": "energy policy"},
	}).Return(instruction, nil).Once()

	// Arguments arrive as a JSON string here.
	rec := post(t, http.HandlerFunc(h.Handle), "/api/v1/provider/tools",
		toolEnvelope("call-1", "handoff_to_opinion", `"{\"user_name\":\"Ana\",\"topic\":\"energy policy\"}"`))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp model.ToolCallResponse
	decode(t, rec, &resp)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "tc-1", resp.Results[0].ToolCallID)
	require.NotNil(t, resp.Results[0].Result)
	assert.Equal(t, "opinion", resp.Results[0].Result.Stage)
	assert.Empty(t, resp.Results[0].Error)
	svc.AssertExpectations(t)
}

func TestToolHandlerValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"unknown stage", fmt.Errorf("%w: nowhere", service.ErrUnknownStage)},
		{"unknown tool", fmt.Errorf("%w: fly", service.ErrUnknownTool)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockDispatcher{}
			svc.On("HandleTool", mock.Anything, mock.Anything).Return(nil, tt.err).Once()
			h := NewToolHandler(svc, logger.NewNop())

			rec := post(t, http.HandlerFunc(h.Handle), "/", toolEnvelope("call-1", "handoff_to_nowhere", `{}`))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var body map[string]any
			decode(t, rec, &body)
			assert.Contains(t, body["error"], tt.err.Error())
			assert.NotContains(t, body, "results")
		})
	}
}

func TestToolHandlerRejectsMalformedRequests(t *testing.T) {
	svc := &mockDispatcher{}
	h := NewToolHandler(svc, logger.NewNop())

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"message":`},
		{"missing call id", toolEnvelope("", "end_call", `{}`)},
		{"wrong message type", `{"message":{"type":"status-update","call":{"id":"call-1"}}}`},
		{"no tool calls", `{"message":{"type":"tool-calls","call":{"id":"call-1"}}}`},
		{"unparseable arguments", toolEnvelope("call-1", "end_call", `"{not json"`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, http.HandlerFunc(h.Handle), "/", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	svc.AssertNotCalled(t, "HandleTool", mock.Anything, mock.Anything)
}

func TestToolHandlerReportsOperationalFailuresPerCall(t *testing.T) {
	svc := &mockDispatcher{}
	svc.On("HandleTool", mock.Anything, mock.Anything).Return(nil, errors.New("store unavailable")).Once()
	h := NewToolHandler(svc, logger.NewNop())

	rec := post(t, http.HandlerFunc(h.Handle), "/", toolEnvelope("call-1", "check_question", `{"question":"How old are you?"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp model.ToolCallResponse
	decode(t, rec, &resp)
	require.Len(t, resp.Results, 1)
	assert.Nil(t, resp.Results[0].Result)
	assert.Equal(t, "tool call failed", resp.Results[0].Error)
}

func TestToolHandlerBatchKeepsEarlierResults(t *testing.T) {
	svc := &mockDispatcher{}
	svc.On("HandleTool", mock.Anything, mock.MatchedBy(func(req service.ToolRequest) bool {
		return req.ToolName == "check_question"
	})).Return(&model.Instruction{Directive: model.DirectiveContinue}, nil).Once()
	svc.On("HandleTool", mock.Anything, mock.MatchedBy(func(req service.ToolRequest) bool {
		return req.ToolName == "fly"
	})).Return(nil, fmt.Errorf("%w: fly", service.ErrUnknownTool)).Once()
	h := NewToolHandler(svc, logger.NewNop())

	body := `{"message":{"type":"tool-calls","call":{"id":"call-1"},"toolCallList":[
		{"id":"tc-1","type":"function","function":{"name":"check_question","arguments":{"question":"How old are you?"}}},
		{"id":"tc-2","type":"function","function":{"name":"fly","arguments":{}}}]}}`
	rec := post(t, http.HandlerFunc(h.Handle), "/", body)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp model.ToolCallResponse
	decode(t, rec, &resp)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "tc-1", resp.Results[0].ToolCallID)
	assert.NotNil(t, resp.Results[0].Result)
	assert.Equal(t, "tc-2", resp.Results[1].ToolCallID)
	assert.Nil(t, resp.Results[1].Result)
	assert.Contains(t, resp.Results[1].Error, "fly")
	svc.AssertExpectations(t)
}

func TestToolHandlerBadArgumentsLaterInBatchRunNothing(t *testing.T) {
	svc := &mockDispatcher{}
	h := NewToolHandler(svc, logger.NewNop())

	body := `{"message":{"type":"tool-calls","call":{"id":"call-1"},"toolCallList":[
		{"id":"tc-1","type":"function","function":{"name":"check_question","arguments":{"question":"How old are you?"}}},
		{"id":"tc-2","type":"function","function":{"name":"end_call","arguments":"{not json"}}]}}`
	rec := post(t, http.HandlerFunc(h.Handle), "/", body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "HandleTool", mock.Anything, mock.Anything)
}
