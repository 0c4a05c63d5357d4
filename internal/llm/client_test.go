package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	keys := Keys{Anthropic: "a-key", OpenAI: "o-key"}

	c, err := NewClient(ProviderAnthropic, keys)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", c.Name())

	c, err = NewClient(ProviderOpenAI, keys)
	require.NoError(t, err)
	assert.Equal(t, "openai", c.Name())

	_, err = NewClient("mistral", keys)
	assert.Error(t, err)

	_, err = NewClient(ProviderOpenAI, Keys{})
	assert.Error(t, err, "missing key")
}

func TestOpenAIComplete(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer o-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id":"cmpl-1","object":"chat.completion","model":"gpt-4o-mini",
			"choices":[{"index":0,"message":{"role":"assistant","content":"energy policy"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":40,"completion_tokens":2,"total_tokens":42}
		}`))
	}))
	defer srv.Close()

	cfg := openai.DefaultConfig("o-key")
	cfg.BaseURL = srv.URL + "/v1"
	c := &OpenAIClient{client: openai.NewClientWithConfig(cfg)}

	resp, err := c.Complete(context.Background(), &CompletionRequest{
		System:   "Name the topic.",
		Messages: []ChatMessage{{Role: "user", Content: "Caller: I want to discuss energy policy"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "energy policy", resp.Content)
	assert.Equal(t, 40, resp.TokensIn)
	assert.Equal(t, "stop", resp.StopReason)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
	assert.Equal(t, defaultOpenAIModel, got.Model)
	assert.Equal(t, defaultMaxTokens, got.MaxTokens)
}

func TestAnthropicComplete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-haiku-20241022",
			"content":[{"type":"text","text":"public transport"}],
			"stop_reason":"end_turn","stop_sequence":null,
			"usage":{"input_tokens":31,"output_tokens":3}
		}`))
	}))
	defer srv.Close()

	c := &AnthropicClient{client: anthropic.NewClient(
		option.WithAPIKey("a-key"),
		option.WithBaseURL(srv.URL+"/"),
	)}

	resp, err := c.Complete(context.Background(), &CompletionRequest{
		System:   "Name the topic.",
		Messages: []ChatMessage{{Role: "user", Content: "Caller: buses are always late"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "public transport", resp.Content)
	assert.Equal(t, 3, resp.TokensOut)
	assert.Equal(t, defaultAnthropicModel, got["model"])

	messages, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1)
	blocks := messages[0].(map[string]any)["content"].([]any)
	require.Len(t, blocks, 2, "system text leads the first message")
	assert.Equal(t, "Name the topic.", blocks[0].(map[string]any)["text"])
}
