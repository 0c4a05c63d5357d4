package topic

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/capitalize-ai/persona-orchestrator/internal/llm"
	"github.com/capitalize-ai/persona-orchestrator/internal/model"
	"github.com/capitalize-ai/persona-orchestrator/pkg/logger"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*llm.CompletionResponse)
	return resp, args.Error(1)
}

func (m *mockClient) Name() string {
	return "mock"
}

func TestLLMExtractor(t *testing.T) {
	ctx := context.Background()
	transcript := []model.TranscriptMessage{
		host("What shall we talk about?"),
		user("I want to discuss energy policy"),
	}

	t.Run("uses classifier answer", func(t *testing.T) {
		client := &mockClient{}
		client.On("Complete", mock.Anything, mock.MatchedBy(func(req *llm.CompletionRequest) bool {
			return req.System != "" && len(req.Messages) == 1 &&
				req.Messages[0].Content == "Host: What shall we talk about?\nCaller: I want to discuss energy policy\n"
		})).Return(&llm.CompletionResponse{Content: "Energy policy.\n"}, nil)

		res := NewLLMExtractor(client, nil, logger.NewNop()).Extract(ctx, transcript)
		assert.Equal(t, Result{Topic: "Energy policy", Strategy: StrategyClassifier}, res)
		client.AssertExpectations(t)
	})

	t.Run("falls back on error", func(t *testing.T) {
		client := &mockClient{}
		client.On("Complete", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

		res := NewLLMExtractor(client, nil, logger.NewNop()).Extract(ctx, transcript)
		assert.Equal(t, Result{Topic: "energy policy", Strategy: StrategyUserDeclaration}, res)
	})

	t.Run("falls back on placeholder answer", func(t *testing.T) {
		client := &mockClient{}
		client.On("Complete", mock.Anything, mock.Anything).Return(&llm.CompletionResponse{Content: "generic"}, nil)

		res := NewLLMExtractor(client, nil, logger.NewNop()).Extract(ctx, transcript)
		assert.Equal(t, StrategyUserDeclaration, res.Strategy)
	})

	t.Run("skips the call without dialogue", func(t *testing.T) {
		client := &mockClient{}

		res := NewLLMExtractor(client, nil, logger.NewNop()).Extract(ctx, nil)
		assert.Equal(t, StrategyPlaceholder, res.Strategy)
		client.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
	})
}
