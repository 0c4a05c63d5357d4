package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/persona-orchestrator/internal/model"
	"github.com/capitalize-ai/persona-orchestrator/pkg/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/", APIKey: "secret", Timeout: time.Second}, logger.NewNop())
}

func TestFetchMessages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/call/call-1", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "call-1",
			"messages": [
				{"role": "system", "message": "prompt"},
				{"role": "bot", "message": "Hi, I'm Lars.", "secondsFromStart": 0.5},
				{"role": "tool_calls", "message": ""},
				{"role": "user", "message": "I want to discuss housing."}
			],
			"recordingUrl": "https://rec.example/1.wav"
		}`))
	})

	messages, err := c.FetchMessages(context.Background(), "call-1")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, model.RoleAssistant, messages[1].Role)
	assert.Equal(t, "Hi, I'm Lars.", messages[1].Text)
	assert.Equal(t, model.RoleUser, messages[2].Role)

	url, err := c.FetchRecordingURL(context.Background(), "call-1")
	require.NoError(t, err)
	assert.Equal(t, "https://rec.example/1.wav", url)
}

func TestFetchMessagesFromArtifact(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"call-2","artifact":{"messages":[{"role":"user","message":"hello"}],"recordingUrl":"https://rec.example/2.wav"}}`))
	})

	messages, err := c.FetchMessages(context.Background(), "call-2")
	require.NoError(t, err)
	assert.Equal(t, []model.TranscriptMessage{{Role: model.RoleUser, Text: "hello"}}, messages)

	url, err := c.FetchRecordingURL(context.Background(), "call-2")
	require.NoError(t, err)
	assert.Equal(t, "https://rec.example/2.wav", url)
}

func TestFetchMessagesErrors(t *testing.T) {
	t.Run("non-200", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream down", http.StatusBadGateway)
		})
		_, err := c.FetchMessages(context.Background(), "call-1")
		assert.ErrorIs(t, err, ErrUnexpectedStatus)
	})

	t.Run("no messages yet", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"call-1","messages":[]}`))
		})
		_, err := c.FetchMessages(context.Background(), "call-1")
		assert.ErrorIs(t, err, ErrTranscriptUnavailable)
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer srv.Close()
		c := New(Config{BaseURL: srv.URL, Timeout: 20 * time.Millisecond}, logger.NewNop())

		_, err := c.FetchMessages(context.Background(), "call-1")
		assert.Error(t, err)
	})

	t.Run("missing call id", func(t *testing.T) {
		c := New(Config{BaseURL: "http://127.0.0.1:1"}, logger.NewNop())
		_, err := c.FetchMessages(context.Background(), "")
		assert.Error(t, err)
	})
}
