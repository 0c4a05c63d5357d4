package handler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/persona-orchestrator/internal/model"
	"github.com/capitalize-ai/persona-orchestrator/internal/service"
	"github.com/capitalize-ai/persona-orchestrator/pkg/logger"
)

func TestWebhookRunsPipelineWithArtifact(t *testing.T) {
	saver := &mockSaver{}
	saver.On("Save", mock.Anything, mock.MatchedBy(func(req service.SaveRequest) bool {
		return req.CallID == "call-1" &&
			req.Trigger == service.TriggerWebhook &&
			req.EndedReason == "customer-ended-call" &&
			req.RecordingURL == "https://rec.example/1.wav" &&
			len(req.Messages) == 2 &&
			req.Messages[0].Role == model.RoleAssistant &&
			req.Messages[1].Text == "I want to discuss energy policy"
	})).Return(service.SaveResult{
		Status:         service.StatusSaved,
		Tier:           model.TranscriptSourceProvider,
		ConversationID: "conv-1",
		CallID:         "call-1",
	}).Once()

	h := NewWebhookHandler(saver, logger.NewNop())
	rec := post(t, http.HandlerFunc(h.Handle), "/api/v1/provider/webhook", `{"message":{
		"type":"end-of-call-report",
		"endedReason":"customer-ended-call",
		"call":{"id":"call-1"},
		"artifact":{
			"recordingUrl":"https://rec.example/1.wav",
			"messages":[
				{"role":"bot","message":"Hi, I'm Lars."},
				{"role":"tool_calls","message":""},
				{"role":"user","message":"I want to discuss energy policy"}
			]
		}
	}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var body webhookResponse
	decode(t, rec, &body)
	assert.Equal(t, "saved", body.Status)
	assert.Equal(t, string(model.LifecycleEnded), body.Event)
	assert.Equal(t, "conv-1", body.ConversationID)
	saver.AssertExpectations(t)
}

func TestWebhookStatusUpdateUsesEventAsReason(t *testing.T) {
	saver := &mockSaver{}
	saver.On("Save", mock.Anything, mock.MatchedBy(func(req service.SaveRequest) bool {
		return req.EndedReason == string(model.LifecycleCancelled) && req.Messages == nil
	})).Return(service.SaveResult{Status: service.StatusAlreadySaved}).Once()

	h := NewWebhookHandler(saver, logger.NewNop())
	rec := post(t, http.HandlerFunc(h.Handle), "/", `{"message":{"type":"status-update","status":"cancelled","call":{"id":"call-1"}}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var body webhookResponse
	decode(t, rec, &body)
	assert.Equal(t, "already_saved", body.Status)
	saver.AssertExpectations(t)
}

func TestWebhookIgnoresNonLifecycleMessages(t *testing.T) {
	saver := &mockSaver{}
	h := NewWebhookHandler(saver, logger.NewNop())

	for _, body := range []string{
		`{"message":{"type":"status-update","status":"in-progress","call":{"id":"call-1"}}}`,
		`{"message":{"type":"speech-update","call":{"id":"call-1"}}}`,
		`{"message":{"type":"transcript","call":{"id":"call-1"}}}`,
	} {
		rec := post(t, http.HandlerFunc(h.Handle), "/", body)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp webhookResponse
		decode(t, rec, &resp)
		assert.Equal(t, "ignored", resp.Status)
	}
	saver.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestWebhookPipelineFailureStillAcknowledges(t *testing.T) {
	saver := &mockSaver{}
	saver.On("Save", mock.Anything, mock.Anything).Return(service.SaveResult{
		Status: service.StatusFailed,
		Err:    assert.AnError,
	}).Once()

	h := NewWebhookHandler(saver, logger.NewNop())
	rec := post(t, http.HandlerFunc(h.Handle), "/", `{"message":{"type":"hang","call":{"id":"call-1"}}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var body webhookResponse
	decode(t, rec, &body)
	assert.Equal(t, "failed", body.Status)
	assert.Equal(t, string(model.LifecycleDisconnected), body.Event)
}

func TestWebhookRequiresCallID(t *testing.T) {
	saver := &mockSaver{}
	h := NewWebhookHandler(saver, logger.NewNop())

	rec := post(t, http.HandlerFunc(h.Handle), "/", `{"message":{"type":"end-of-call-report","call":{}}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, http.HandlerFunc(h.Handle), "/", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	saver.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}
