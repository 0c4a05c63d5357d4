package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/persona-orchestrator/internal/model"
	"github.com/capitalize-ai/persona-orchestrator/internal/service"
)

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) HandleTool(ctx context.Context, req service.ToolRequest) (*model.Instruction, error) {
	args := m.Called(ctx, req)
	instruction, _ := args.Get(0).(*model.Instruction)
	return instruction, args.Error(1)
}

type mockSaver struct {
	mock.Mock
}

func (m *mockSaver) Save(ctx context.Context, req service.SaveRequest) service.SaveResult {
	args := m.Called(ctx, req)
	return args.Get(0).(service.SaveResult)
}

type mockRecoverer struct {
	mock.Mock
}

func (m *mockRecoverer) RecoverConversation(ctx context.Context, conversationID string) (service.RecoveryItem, error) {
	args := m.Called(ctx, conversationID)
	return args.Get(0).(service.RecoveryItem), args.Error(1)
}

func (m *mockRecoverer) RecoverCall(ctx context.Context, callID string) (service.RecoveryItem, error) {
	args := m.Called(ctx, callID)
	return args.Get(0).(service.RecoveryItem), args.Error(1)
}

func (m *mockRecoverer) Sweep(ctx context.Context, opts service.SweepOptions) (*service.SweepReport, error) {
	args := m.Called(ctx, opts)
	report, _ := args.Get(0).(*service.SweepReport)
	return report, args.Error(1)
}

type mockReplayer struct {
	mock.Mock
}

func (m *mockReplayer) Events(ctx context.Context, conversationID string, afterSequence uint64, limit int) ([]model.CallEvent, uint64, bool, error) {
	args := m.Called(ctx, conversationID, afterSequence, limit)
	events, _ := args.Get(0).([]model.CallEvent)
	return events, args.Get(1).(uint64), args.Bool(2), args.Error(3)
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}
