package topic

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/persona-orchestrator/internal/llm"
	"github.com/capitalize-ai/persona-orchestrator/internal/model"
	"github.com/capitalize-ai/persona-orchestrator/pkg/logger"
)

const classifierSystem = `You name the topic of a phone conversation between a caller and two debate hosts.
Reply with the topic only: a short noun phrase of at most eight words, in the language the caller used.
If the caller never named a topic, reply with the single word: generic`

// maxClassifierMessages bounds how much transcript is sent to the model.
const maxClassifierMessages = 20

// LLMExtractor asks a model for the topic and falls back to another extractor
// when the call fails or yields nothing usable.
type LLMExtractor struct {
	client   llm.Client
	fallback Extractor
	logger   *logger.Logger
}

// NewLLMExtractor creates an LLMExtractor.
func NewLLMExtractor(client llm.Client, fallback Extractor, log *logger.Logger) *LLMExtractor {
	if fallback == nil {
		fallback = NewPatternExtractor()
	}
	return &LLMExtractor{client: client, fallback: fallback, logger: log}
}

// Extract implements Extractor.
func (e *LLMExtractor) Extract(ctx context.Context, messages []model.TranscriptMessage) Result {
	transcript := render(messages)
	if transcript == "" {
		return e.fallback.Extract(ctx, messages)
	}

	resp, err := e.client.Complete(ctx, &llm.CompletionRequest{
		System: classifierSystem,
		Messages: []llm.ChatMessage{
			{Role: "user", Content: transcript},
		},
		MaxTokens: 32,
	})
	if err != nil {
		e.logger.Warn("topic classifier failed",
			zap.String("provider", e.client.Name()),
			zap.Error(err),
		)
		return e.fallback.Extract(ctx, messages)
	}

	topic, ok := clean(firstLine(resp.Content))
	if !ok {
		return e.fallback.Extract(ctx, messages)
	}
	return Result{Topic: topic, Strategy: StrategyClassifier}
}

func render(messages []model.TranscriptMessage) string {
	if len(messages) > maxClassifierMessages {
		messages = messages[:maxClassifierMessages]
	}

	var b strings.Builder
	for _, msg := range messages {
		var who string
		switch msg.Role {
		case model.RoleUser:
			who = "Caller"
		case model.RoleAssistant:
			who = "Host"
		default:
			continue
		}
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			continue
		}
		b.WriteString(who)
		b.WriteString(": ")
		b.WriteString(text)
		b.WriteByte('\n')
	}
	return b.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSuffix(s, ".")
}
