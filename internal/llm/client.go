// Package llm provides completion clients for the optional model-backed topic
// classifier.
package llm

import (
	"context"
	"fmt"
)

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatMessage represents a chat message for the model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for model providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}

// Provider is the type of model provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// Keys holds the API key per provider.
type Keys struct {
	Anthropic string
	OpenAI    string
}

// NewClient creates a client for provider.
func NewClient(provider Provider, keys Keys) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(keys.Anthropic)
	case ProviderOpenAI:
		return NewOpenAIClient(keys.OpenAI)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}

const defaultMaxTokens = 64
